// Package planchange implements the plan-transition coordinator. A plan
// change atomically re-prices a service from the provider catalog and, when
// a new pickup-day set is supplied, replaces the days and regenerates the
// current month's pending tasks, then syncs the provider subscription
// best-effort after commit.
package planchange

import (
	"context"
	"log/slog"
	"time"

	"kidscan/internal/billing"
	"kidscan/internal/schedule"
	"kidscan/internal/types"
)

// Store is the database access the coordinator needs. Reads run on the
// pool; the destructive schedule replacement runs on a transaction from
// BeginTx.
type Store interface {
	GetService(ctx context.Context, id int64) (*types.Service, error)
	GetHome(ctx context.Context, id int64) (*types.Home, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is the transactional write set for one plan change. Commit or
// Rollback must always be called.
type Tx interface {
	ReplacePickupDays(ctx context.Context, serviceID int64, days []types.PickupDay) error
	UpdateServicePrice(ctx context.Context, serviceID int64, priceCents int64) error
	DeletePendingWithin(ctx context.Context, serviceID int64, from, through time.Time) (int64, error)
	InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Request describes one plan transition. PickupDays is optional: when
// empty, only the price changes and the existing schedule is left alone.
type Request struct {
	ServiceID  int64
	Plan       types.PlanType
	PickupDays []types.PickupDay

	// EffectiveFrom is the first date whose pending tasks are replaced.
	// Zero means today (UTC). Replacement is bounded to the current
	// month: tasks before EffectiveFrom or after the month end are never
	// touched, so schedules already extended into future months survive.
	EffectiveFrom time.Time
}

// Result summarizes what one plan change did.
type Result struct {
	ServiceID    int64
	Plan         types.PlanType
	PriceCents   int64
	RemovedTasks int64
	CreatedTasks int

	// Synced is false when the provider subscription update failed and was
	// handed to reconciliation. The local change is still committed.
	Synced bool
}

// Coordinator drives plan transitions.
type Coordinator struct {
	store      Store
	gateway    billing.Gateway
	reconciler billing.Reconciler
	metrics    billing.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, gateway billing.Gateway, reconciler billing.Reconciler, metrics billing.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = billing.NopMetrics{}
	}
	if reconciler == nil {
		reconciler = billing.NewNopReconciler(logger)
	}
	return &Coordinator{
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the coordinator's clock. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// ChangePlan applies a plan transition end to end.
//
// Ordering is deliberate: the provider catalog read happens before the
// transaction opens, and the subscription sync happens after it commits.
// No provider call ever runs inside the transaction. A sync failure does
// not roll anything back; the committed local state is authoritative and
// the sync is replayed via the reconcile queue.
func (c *Coordinator) ChangePlan(ctx context.Context, req Request) (*Result, error) {
	svc, err := c.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	if err := c.authorize(ctx, svc); err != nil {
		return nil, err
	}
	if err := c.validate(req, svc); err != nil {
		return nil, err
	}

	price := c.resolvePrice(ctx, req.Plan)

	var (
		window  schedule.Window
		entries []schedule.Entry
	)
	if len(req.PickupDays) > 0 {
		effective := schedule.DateOnly(req.EffectiveFrom)
		if req.EffectiveFrom.IsZero() {
			effective = schedule.DateOnly(c.now().UTC())
		}
		window = schedule.Window{
			Start: effective,
			End:   schedule.CurrentMonth(c.now().UTC()).End,
		}
		entries = schedule.Generate(req.PickupDays, window, price)
	}

	res, err := c.applyTx(ctx, req, window, price, entries)
	if err != nil {
		return nil, err
	}

	res.Synced = c.syncProvider(ctx, svc, req.Plan)
	return res, nil
}

func (c *Coordinator) applyTx(ctx context.Context, req Request, window schedule.Window, price int64, entries []schedule.Entry) (*Result, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.UpdateServicePrice(ctx, req.ServiceID, price); err != nil {
		return nil, err
	}

	var (
		removed int64
		created int
	)
	if len(req.PickupDays) > 0 {
		if err := tx.ReplacePickupDays(ctx, req.ServiceID, req.PickupDays); err != nil {
			return nil, err
		}
		// The delete is bounded to the regenerated window. Pending tasks
		// in later months were created by the recurring generator and are
		// not replaced here, so deleting them would orphan them for good.
		removed, err = tx.DeletePendingWithin(ctx, req.ServiceID, window.Start, window.End)
		if err != nil {
			return nil, err
		}

		tasks := make([]types.Task, 0, len(entries))
		for _, e := range entries {
			if e.Date.Before(window.Start) {
				continue
			}
			tasks = append(tasks, types.Task{
				ServiceID:     req.ServiceID,
				ScheduledDate: e.Date,
				Notes:         e.Note,
				PriceCents:    e.PriceCents,
			})
		}
		created, err = tx.InsertPending(ctx, req.ServiceID, tasks)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit plan change", err)
	}

	return &Result{
		ServiceID:    req.ServiceID,
		Plan:         req.Plan,
		PriceCents:   price,
		RemovedTasks: removed,
		CreatedTasks: created,
	}, nil
}

// authorize permits operators unconditionally and payers who own the
// service's home. Workers never change plans.
func (c *Coordinator) authorize(ctx context.Context, svc *types.Service) error {
	actor, ok := types.GetActor(ctx)
	if !ok {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "no actor in context", nil)
	}
	if actor.IsOperator() {
		return nil
	}
	if actor.Role != types.RolePayer {
		return types.NewAppError(types.ErrCodePermissionRole, "only the paying owner may change the plan", nil)
	}
	if actor.ID != svc.HomeOwnerID {
		return types.NewAppError(types.ErrCodePermissionNotHomeOwner, "actor does not own this home", nil)
	}
	return nil
}

func (c *Coordinator) validate(req Request, svc *types.Service) error {
	if svc.Status != types.ServiceActive {
		return types.NewAppError(types.ErrCodeValidationServiceInactive, "service is not active", nil)
	}
	if !svc.Frequency.Recurring() {
		return types.NewAppError(types.ErrCodeValidationOneTimeService, "one-time services have no plan", nil)
	}
	if !req.Plan.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidPlan, "unknown plan type", nil)
	}
	if len(req.PickupDays) == 0 {
		// Price-only transition; there is no schedule input to check.
		return nil
	}
	return validatePlanDays(req.Plan, req.PickupDays)
}

// resolvePrice reads the live catalog price, falling back to the static
// tier price when the provider is unreachable. A fallback is logged and
// counted but never fails the request.
func (c *Coordinator) resolvePrice(ctx context.Context, plan types.PlanType) int64 {
	price, err := c.gateway.GetPlanPrice(ctx, plan)
	if err != nil {
		c.metrics.Count(ctx, billing.MetricCatalogLookupFailure)
		c.logger.WarnContext(ctx, "catalog lookup failed, using fallback price",
			"plan", plan,
			"error", err,
		)
		return billing.FallbackPriceCents(plan)
	}
	return price.AmountCents
}

// syncProvider pushes the new plan to the provider subscription after the
// local transaction commits. Failures are queued for reconciliation.
func (c *Coordinator) syncProvider(ctx context.Context, svc *types.Service, plan types.PlanType) bool {
	home, err := c.store.GetHome(ctx, svc.HomeID)
	if err != nil {
		c.logger.ErrorContext(ctx, "home lookup failed after plan change commit",
			"service_id", svc.ID,
			"home_id", svc.HomeID,
			"error", err,
		)
		return false
	}
	if home.SubscriptionID == "" {
		// Nothing to sync yet; the subscription is created on first billing
		// setup, not by plan changes.
		return true
	}

	ref := types.SubscriptionRef{
		SubscriptionID: home.SubscriptionID,
		ItemID:         home.SubscriptionItemID,
		CustomerID:     home.StripeCustomerID,
	}
	if err := c.gateway.SyncSubscriptionPlan(ctx, ref, plan); err != nil {
		c.metrics.Count(ctx, billing.MetricSubscriptionSyncFailure)
		c.logger.ErrorContext(ctx, "subscription plan sync failed, queueing reconcile",
			"service_id", svc.ID,
			"subscription_id", home.SubscriptionID,
			"plan", plan,
			"error", err,
		)
		if qErr := c.reconciler.Enqueue(ctx, billing.ReconcileEvent{
			Kind:           billing.ReconcilePlanSync,
			HomeID:         home.ID,
			ServiceID:      svc.ID,
			Plan:           plan,
			SubscriptionID: home.SubscriptionID,
			OccurredAt:     c.now().UTC(),
		}); qErr != nil {
			c.logger.ErrorContext(ctx, "reconcile enqueue failed",
				"service_id", svc.ID,
				"error", qErr,
			)
		}
		return false
	}
	return true
}
