package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidWeekday  ErrorCode = "validation_invalid_weekday"
	ErrCodeValidationInvalidPlan     ErrorCode = "validation_invalid_plan_type"
	ErrCodeValidationInvalidCan      ErrorCode = "validation_invalid_can_number"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"
	ErrCodeValidationOneTimeService  ErrorCode = "validation_onetime_service"
	ErrCodeValidationServiceInactive ErrorCode = "validation_service_not_active"
	ErrCodeValidationBody            ErrorCode = "validation_invalid_body"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Permission (403)
	ErrCodePermissionNotHomeOwner ErrorCode = "permission_not_home_owner"
	ErrCodePermissionNotAssigned  ErrorCode = "permission_not_assigned_worker"
	ErrCodePermissionRole         ErrorCode = "permission_role_insufficient"
	ErrCodePermissionPendingTasks ErrorCode = "permission_pending_tasks_exist"

	// Not Found (404)
	ErrCodeNotFoundService  ErrorCode = "not_found_service"
	ErrCodeNotFoundTask     ErrorCode = "not_found_task"
	ErrCodeNotFoundHome     ErrorCode = "not_found_home"
	ErrCodeNotFoundProfile  ErrorCode = "not_found_profile"
	ErrCodeNotFoundReferral ErrorCode = "not_found_referral_code"

	// Conflict (409)
	ErrCodeConflictTaskNotPending ErrorCode = "conflict_task_not_pending"
	ErrCodeConflictConcurrent     ErrorCode = "conflict_concurrent_modification"

	// Payment-specific (402)
	ErrCodePaymentMethodRequired ErrorCode = "payment_method_required"
	ErrCodePaymentDeclined       ErrorCode = "payment_declined"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamBilling     ErrorCode = "upstream_billing_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodePaymentMethodRequired), s == string(ErrCodePaymentDeclined):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
