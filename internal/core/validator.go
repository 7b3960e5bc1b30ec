package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"kidscan/internal/schedule"
	"kidscan/internal/types"
)

// Custom validation tags registered on the shared validator:
//
//	weekday   - full lowercase English weekday name ("monday".."sunday")
//	plantype  - one of the capacity tiers (single_can, double_can, triple_can)
//	cannumber - can slot 1..3
//	dateonly  - "YYYY-MM-DD" formatted date string
var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func sharedValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
			return schedule.KnownWeekday(fl.Field().String())
		})
		_ = v.RegisterValidation("plantype", func(fl validator.FieldLevel) bool {
			return types.PlanType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("cannumber", func(fl validator.FieldLevel) bool {
			n := fl.Field().Int()
			return n >= 1 && n <= 3
		})
		_ = v.RegisterValidation("dateonly", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("2006-01-02", fl.Field().String())
			return err == nil
		})

		validate = v
	})
	return validate
}

// Validate checks a decoded request struct against its validate tags and
// returns a *types.AppError describing the first batch of violations. The
// error code is chosen from the most specific failing tag so clients get
// "validation_invalid_weekday" rather than a generic code when a weekday
// is the problem.
func Validate(dst interface{}) error {
	err := sharedValidator().Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(
			types.ErrCodeValidationBody,
			"request validation failed",
			err,
		)
	}

	details := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationBody
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		details[field] = violationMessage(fe)
		if c := codeForTag(fe.Tag()); code == types.ErrCodeValidationBody {
			code = c
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", nil, details)
}

// codeForTag maps a failing validation tag to the most specific error code.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "weekday":
		return types.ErrCodeValidationInvalidWeekday
	case "plantype":
		return types.ErrCodeValidationInvalidPlan
	case "cannumber":
		return types.ErrCodeValidationInvalidCan
	case "dateonly":
		return types.ErrCodeValidationInvalidDate
	default:
		return types.ErrCodeValidationBody
	}
}

// violationMessage renders a human-readable description of one violation.
func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "weekday":
		return "must be a full lowercase weekday name, e.g. \"monday\""
	case "plantype":
		return "must be one of single_can, double_can, triple_can"
	case "cannumber":
		return "must be between 1 and 3"
	case "dateonly":
		return "must be a date in YYYY-MM-DD format"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
