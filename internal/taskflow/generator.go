package taskflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kidscan/internal/billing"
	"kidscan/internal/schedule"
	"kidscan/internal/types"
)

// GeneratorStore is the database access the generator needs.
type GeneratorStore interface {
	ListActiveRecurring(ctx context.Context) ([]*types.Service, error)
	GetHome(ctx context.Context, id int64) (*types.Home, error)
	LatestScheduledDate(ctx context.Context, serviceID int64) (*time.Time, error)
	InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error)
}

// Report summarizes one generation run.
type Report struct {
	Processed int
	Created   int
	Skipped   int
	Failed    int
}

// Generator extends recurring services with future pending tasks.
type Generator struct {
	store       GeneratorStore
	gateway     billing.Gateway
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewGenerator creates a Generator. concurrency bounds how many services
// are extended in parallel during a full run.
func NewGenerator(store GeneratorStore, gateway billing.Gateway, concurrency int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Generator{
		store:       store,
		gateway:     gateway,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithClock overrides the generator's clock. Tests only.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Extend creates the service's next pending tasks through the given end
// date, stepping from the latest existing task by the service frequency.
// Each task captures the service's current price. The monthly run passes
// the current month end; administrative calls may extend further out.
//
// A payer with no chargeable payment method is skipped, not failed: the
// service stays active and zero tasks are created until a card is on file.
func (g *Generator) Extend(ctx context.Context, svc *types.Service, until time.Time) (int, error) {
	if !svc.Frequency.Recurring() {
		return 0, types.NewAppError(types.ErrCodeValidationOneTimeService, "one-time services are not extended", nil)
	}
	if svc.Status != types.ServiceActive {
		return 0, types.NewAppError(types.ErrCodeValidationServiceInactive, "service is not active", nil)
	}

	home, err := g.store.GetHome(ctx, svc.HomeID)
	if err != nil {
		return 0, err
	}
	ok, err := g.gateway.HasValidPaymentMethod(ctx, home.StripeCustomerID)
	if err != nil {
		// Unknown payment state reads as no card: generating tasks that
		// may never bill is worse than generating late.
		g.logger.WarnContext(ctx, "payment method check failed, skipping service",
			"service_id", svc.ID,
			"home_id", home.ID,
			"error", err,
		)
		return 0, nil
	}
	if !ok {
		g.logger.InfoContext(ctx, "no valid payment method, skipping service",
			"service_id", svc.ID,
			"home_id", home.ID,
		)
		return 0, nil
	}

	next, err := g.nextDate(ctx, svc)
	if err != nil {
		return 0, err
	}

	end := schedule.DateOnly(until)
	var tasks []types.Task
	for ; !next.After(end); next = stepDate(next, svc.Frequency) {
		tasks = append(tasks, types.Task{
			ServiceID:     svc.ID,
			ScheduledDate: next,
			PriceCents:    svc.PriceCents,
		})
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	return g.store.InsertPending(ctx, svc.ID, tasks)
}

// nextDate anchors on the latest scheduled task, or the service start date
// when the service has no tasks yet.
func (g *Generator) nextDate(ctx context.Context, svc *types.Service) (time.Time, error) {
	latest, err := g.store.LatestScheduledDate(ctx, svc.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		return schedule.DateOnly(svc.StartDate), nil
	}
	return stepDate(schedule.DateOnly(*latest), svc.Frequency), nil
}

func stepDate(d time.Time, f types.Frequency) time.Time {
	switch f {
	case types.FrequencyWeekly:
		return d.AddDate(0, 0, 7)
	case types.FrequencyBiweekly:
		return d.AddDate(0, 0, 14)
	case types.FrequencyMonthly:
		return d.AddDate(0, 1, 0)
	default:
		return d.AddDate(0, 0, 7)
	}
}

// ExtendAll extends every active recurring service through the current
// month end with bounded parallelism. Individual service failures are
// logged and counted; they never abort the run.
func (g *Generator) ExtendAll(ctx context.Context) (Report, error) {
	services, err := g.store.ListActiveRecurring(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	report.Processed = len(services)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	until := schedule.CurrentMonth(g.now().UTC()).End
	for _, svc := range services {
		svc := svc
		eg.Go(func() error {
			created, err := g.Extend(ctx, svc, until)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				g.logger.ErrorContext(ctx, "service extension failed",
					"service_id", svc.ID,
					"error", err,
				)
			case created == 0:
				report.Skipped++
			default:
				report.Created += created
			}
			return nil
		})
	}

	// Goroutines never return errors; Wait is for completion only.
	_ = eg.Wait()

	g.logger.InfoContext(ctx, "generation run finished",
		"processed", report.Processed,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
