package planchange

import (
	"context"
	"log/slog"
	"time"

	"kidscan/internal/billing"
	"kidscan/internal/schedule"
	"kidscan/internal/types"
)

// ProvisionStore is the database access for service creation and
// cancellation.
type ProvisionStore interface {
	GetService(ctx context.Context, id int64) (*types.Service, error)
	GetHome(ctx context.Context, id int64) (*types.Home, error)
	SetHomeSubscription(ctx context.Context, homeID int64, ref types.SubscriptionRef, status types.BillingStatus) error
	CountActiveForHome(ctx context.Context, homeID int64) (int, error)
	CountOverduePending(ctx context.Context, serviceID int64, before time.Time) (int, error)
	BeginTx(ctx context.Context) (ProvisionTx, error)
}

// ProvisionTx is the transactional write set for provisioning.
type ProvisionTx interface {
	CreateService(ctx context.Context, svc *types.Service) (int64, error)
	InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error)
	DeletePendingFrom(ctx context.Context, serviceID int64, from time.Time) (int64, error)
	MarkServiceCancelled(ctx context.Context, serviceID int64, endDate time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CreateRequest describes a new service.
type CreateRequest struct {
	WorkerID    int64
	HomeID      int64
	Plan        types.PlanType
	PickupDays  []types.PickupDay
	Description string

	// StartDate is the first date the schedule covers. Zero means today.
	StartDate time.Time
}

// CreateResult reports a created service.
type CreateResult struct {
	ServiceID    int64
	Name         string
	PriceCents   int64
	CreatedTasks int

	// SubscriptionCreated is true when a new provider subscription was set
	// up for the home as part of this creation.
	SubscriptionCreated bool
}

// Provisioner creates and cancels services. It shares the coordinator's
// rule that provider calls never run inside a database transaction.
type Provisioner struct {
	store   ProvisionStore
	gateway billing.Gateway
	metrics billing.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(store ProvisionStore, gateway billing.Gateway, metrics billing.Metrics, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = billing.NopMetrics{}
	}
	return &Provisioner{
		store:   store,
		gateway: gateway,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the provisioner's clock. Tests only.
func (p *Provisioner) WithClock(now func() time.Time) *Provisioner {
	p.now = now
	return p
}

// CreateService creates a weekly service for a home, generates its first
// schedule through the end of the current month, and makes sure the home
// has a metered subscription to bill against. The payer must have a
// chargeable payment method on file before any tasks are created.
func (p *Provisioner) CreateService(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	home, err := p.store.GetHome(ctx, req.HomeID)
	if err != nil {
		return nil, err
	}

	actor, ok := types.GetActor(ctx)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "no actor in context", nil)
	}
	if !actor.IsOperator() {
		if actor.Role != types.RolePayer {
			return nil, types.NewAppError(types.ErrCodePermissionRole, "only the paying owner may create services", nil)
		}
		if actor.ID != home.OwnerID {
			return nil, types.NewAppError(types.ErrCodePermissionNotHomeOwner, "actor does not own this home", nil)
		}
	}

	if err := validatePlanDays(req.Plan, req.PickupDays); err != nil {
		return nil, err
	}
	if req.WorkerID <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "worker_id is required", nil)
	}

	hasCard, err := p.gateway.HasValidPaymentMethod(ctx, home.StripeCustomerID)
	if err != nil {
		return nil, err
	}
	if !hasCard {
		return nil, types.NewAppError(types.ErrCodePaymentMethodRequired, "a payment method is required before creating a service", nil)
	}

	price := p.resolvePrice(ctx, req.Plan)

	subCreated, err := p.ensureSubscription(ctx, home, req.Plan)
	if err != nil {
		return nil, err
	}

	start := schedule.DateOnly(req.StartDate)
	if req.StartDate.IsZero() {
		start = schedule.DateOnly(p.now().UTC())
	}
	window := schedule.Window{Start: start, End: schedule.CurrentMonth(p.now().UTC()).End}
	entries := schedule.Generate(req.PickupDays, window, price)

	svc := &types.Service{
		WorkerID:    req.WorkerID,
		HomeID:      req.HomeID,
		Name:        billing.DisplayName(req.Plan),
		Description: req.Description,
		Frequency:   types.FrequencyWeekly,
		PriceCents:  price,
		Status:      types.ServiceActive,
		StartDate:   start,
		PickupDays:  req.PickupDays,
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	serviceID, err := tx.CreateService(ctx, svc)
	if err != nil {
		return nil, err
	}

	tasks := make([]types.Task, 0, len(entries))
	for _, e := range entries {
		if e.Date.Before(start) {
			continue
		}
		tasks = append(tasks, types.Task{
			ServiceID:     serviceID,
			ScheduledDate: e.Date,
			Notes:         e.Note,
			PriceCents:    e.PriceCents,
		})
	}
	created, err := tx.InsertPending(ctx, serviceID, tasks)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit service creation", err)
	}

	return &CreateResult{
		ServiceID:           serviceID,
		Name:                svc.Name,
		PriceCents:          price,
		CreatedTasks:        created,
		SubscriptionCreated: subCreated,
	}, nil
}

// CancelResult reports a cancelled service.
type CancelResult struct {
	ServiceID    int64
	EndDate      time.Time
	RemovedTasks int64

	// SubscriptionEnding is true when this was the home's last active
	// service and the provider subscription was scheduled to cancel.
	SubscriptionEnding bool
}

// CancelService soft-deletes a service. Future pending tasks are removed;
// overdue pending tasks block cancellation until resolved, so earned work
// cannot silently disappear. Completed history is kept. When the home has
// no other active service, the provider subscription is scheduled to end
// with the billing period.
func (p *Provisioner) CancelService(ctx context.Context, serviceID int64) (*CancelResult, error) {
	svc, err := p.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	actor, ok := types.GetActor(ctx)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "no actor in context", nil)
	}
	if !actor.IsOperator() {
		if actor.Role != types.RolePayer {
			return nil, types.NewAppError(types.ErrCodePermissionRole, "only the paying owner may cancel services", nil)
		}
		if actor.ID != svc.HomeOwnerID {
			return nil, types.NewAppError(types.ErrCodePermissionNotHomeOwner, "actor does not own this home", nil)
		}
	}

	if svc.Status == types.ServiceCancelled {
		return nil, types.NewAppError(types.ErrCodeValidationServiceInactive, "service is already cancelled", nil)
	}

	today := schedule.DateOnly(p.now().UTC())
	overdue, err := p.store.CountOverduePending(ctx, serviceID, today)
	if err != nil {
		return nil, err
	}
	if overdue > 0 {
		return nil, types.NewAppError(types.ErrCodePermissionPendingTasks, "overdue pending tasks must be completed or cancelled first", nil)
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	removed, err := tx.DeletePendingFrom(ctx, serviceID, today)
	if err != nil {
		return nil, err
	}
	if err := tx.MarkServiceCancelled(ctx, serviceID, today); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit service cancellation", err)
	}

	ending := p.maybeEndSubscription(ctx, svc)

	return &CancelResult{
		ServiceID:          serviceID,
		EndDate:            today,
		RemovedTasks:       removed,
		SubscriptionEnding: ending,
	}, nil
}

// ensureSubscription creates the home's metered subscription when it does
// not exist yet. Requires a provider customer record.
func (p *Provisioner) ensureSubscription(ctx context.Context, home *types.Home, plan types.PlanType) (bool, error) {
	if home.SubscriptionID != "" {
		return false, nil
	}
	if home.StripeCustomerID == "" {
		return false, types.NewAppError(types.ErrCodePaymentMethodRequired, "home has no billing account", nil)
	}

	ref, err := p.gateway.CreateUsageSubscription(ctx, home.StripeCustomerID, plan)
	if err != nil {
		return false, err
	}
	if err := p.store.SetHomeSubscription(ctx, home.ID, ref, types.BillingActive); err != nil {
		// The provider subscription exists but the linkage write failed.
		// Surface the error; the operator resolves it from provider logs.
		return false, err
	}
	return true, nil
}

// maybeEndSubscription schedules the provider subscription to cancel when
// the home has no remaining active services. Best-effort after commit.
func (p *Provisioner) maybeEndSubscription(ctx context.Context, svc *types.Service) bool {
	home, err := p.store.GetHome(ctx, svc.HomeID)
	if err != nil || home.SubscriptionID == "" {
		return false
	}
	active, err := p.store.CountActiveForHome(ctx, home.ID)
	if err != nil || active > 0 {
		return false
	}

	ref := types.SubscriptionRef{
		SubscriptionID: home.SubscriptionID,
		ItemID:         home.SubscriptionItemID,
		CustomerID:     home.StripeCustomerID,
	}
	if err := p.gateway.CancelSubscriptionAtPeriodEnd(ctx, ref); err != nil {
		p.metrics.Count(ctx, billing.MetricSubscriptionSyncFailure)
		p.logger.ErrorContext(ctx, "subscription cancellation scheduling failed",
			"home_id", home.ID,
			"subscription_id", home.SubscriptionID,
			"error", err,
		)
		return false
	}
	if err := p.store.SetHomeSubscription(ctx, home.ID, ref, types.BillingCancelling); err != nil {
		p.logger.ErrorContext(ctx, "failed to record cancelling billing status",
			"home_id", home.ID,
			"error", err,
		)
	}
	return true
}

// resolvePrice mirrors the coordinator's catalog read with fallback.
func (p *Provisioner) resolvePrice(ctx context.Context, plan types.PlanType) int64 {
	price, err := p.gateway.GetPlanPrice(ctx, plan)
	if err != nil {
		p.metrics.Count(ctx, billing.MetricCatalogLookupFailure)
		p.logger.WarnContext(ctx, "catalog lookup failed, using fallback price",
			"plan", plan,
			"error", err,
		)
		return billing.FallbackPriceCents(plan)
	}
	return price.AmountCents
}

// validatePlanDays checks a plan and pickup day set together.
func validatePlanDays(plan types.PlanType, days []types.PickupDay) error {
	if !plan.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidPlan, "unknown plan type", nil)
	}
	if len(days) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "at least one pickup day is required", nil)
	}
	capacity := billing.PlanCapacity(plan)
	for _, d := range days {
		if !schedule.KnownWeekday(d.DayOfWeek) {
			return types.NewAppError(types.ErrCodeValidationInvalidWeekday, "unknown weekday "+d.DayOfWeek, nil)
		}
		if d.CanNumber < 1 || d.CanNumber > capacity {
			return types.NewAppError(types.ErrCodeValidationInvalidCan, "can number exceeds plan capacity", nil)
		}
	}
	return nil
}
