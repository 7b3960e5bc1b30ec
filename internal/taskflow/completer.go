// Package taskflow implements the task lifecycle: completion with earnings
// and metered usage, cancellation, and recurring schedule extension.
package taskflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kidscan/internal/billing"
	"kidscan/internal/types"
)

// Store is the database access the completer needs.
type Store interface {
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	GetService(ctx context.Context, id int64) (*types.Service, error)
	GetHome(ctx context.Context, id int64) (*types.Home, error)
	MarkTaskCancelled(ctx context.Context, taskID int64) error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is the transactional write set for one task completion. The task flip
// and the earnings row commit or roll back together.
type Tx interface {
	MarkTaskCompleted(ctx context.Context, taskID int64, completedAt time.Time, photoURL, notes string) error
	InsertTaskEarning(ctx context.Context, workerID, taskID, amountCents int64, description string) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CompleteRequest carries the completion evidence.
type CompleteRequest struct {
	TaskID   int64
	PhotoURL string
	Notes    string
}

// CompleteResult reports the outcome of a completion.
type CompleteResult struct {
	TaskID      int64
	CompletedAt time.Time
	AmountCents int64

	// UsageReported is false when the metered usage event could not be
	// delivered. The completion and earnings still stand; the event is
	// replayed via the reconcile queue.
	UsageReported bool
}

// Completer transitions tasks out of pending.
type Completer struct {
	store      Store
	gateway    billing.Gateway
	reconciler billing.Reconciler
	metrics    billing.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewCompleter creates a Completer.
func NewCompleter(store Store, gateway billing.Gateway, reconciler billing.Reconciler, metrics billing.Metrics, logger *slog.Logger) *Completer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = billing.NopMetrics{}
	}
	if reconciler == nil {
		reconciler = billing.NewNopReconciler(logger)
	}
	return &Completer{
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the completer's clock. Tests only.
func (c *Completer) WithClock(now func() time.Time) *Completer {
	c.now = now
	return c
}

// Complete flips a pending task to completed and records the worker's
// earning at the task's stored price, in one transaction. The metered
// usage event goes out after commit; a delivery failure never undoes the
// completion. Completion is one way: a completed task cannot go back to
// pending, so the earning and the usage event each happen at most once.
func (c *Completer) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	task, err := c.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	svc, err := c.store.GetService(ctx, task.ServiceID)
	if err != nil {
		return nil, err
	}

	actor, ok := types.GetActor(ctx)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "no actor in context", nil)
	}
	if !actor.IsOperator() && actor.ID != svc.WorkerID {
		return nil, types.NewAppError(types.ErrCodePermissionNotAssigned, "task belongs to another worker", nil)
	}

	if task.Status != types.TaskPending {
		return nil, types.NewAppError(types.ErrCodeConflictTaskNotPending, "task is not pending", nil)
	}

	completedAt := c.now().UTC()
	if err := c.completeTx(ctx, task, svc, completedAt, req); err != nil {
		return nil, err
	}

	reported := c.reportUsage(ctx, task, svc, completedAt)

	return &CompleteResult{
		TaskID:        task.ID,
		CompletedAt:   completedAt,
		AmountCents:   task.PriceCents,
		UsageReported: reported,
	}, nil
}

func (c *Completer) completeTx(ctx context.Context, task *types.Task, svc *types.Service, completedAt time.Time, req CompleteRequest) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.MarkTaskCompleted(ctx, task.ID, completedAt, req.PhotoURL, req.Notes); err != nil {
		return err
	}

	desc := fmt.Sprintf("%s - %s", svc.Name, task.ScheduledDate.Format("2006-01-02"))
	if _, err := tx.InsertTaskEarning(ctx, svc.WorkerID, task.ID, task.PriceCents, desc); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit task completion", err)
	}
	return nil
}

// reportUsage emits the metered usage event for a completed task. The
// idempotency key is derived from the task ID and completion time, so a
// provider retry of the same completion cannot double-bill.
func (c *Completer) reportUsage(ctx context.Context, task *types.Task, svc *types.Service, completedAt time.Time) bool {
	home, err := c.store.GetHome(ctx, svc.HomeID)
	if err != nil {
		c.logger.ErrorContext(ctx, "home lookup failed after completion commit",
			"task_id", task.ID,
			"home_id", svc.HomeID,
			"error", err,
		)
		return false
	}
	if home.StripeCustomerID == "" {
		// No billing linkage; completion stands, nothing to meter.
		return true
	}

	key := fmt.Sprintf("task_%d_%d", task.ID, completedAt.UnixMilli())
	if err := c.gateway.ReportUsage(ctx, home.StripeCustomerID, key, 1); err != nil {
		c.metrics.Count(ctx, billing.MetricUsageReportFailure)
		c.logger.ErrorContext(ctx, "usage report failed, queueing reconcile",
			"task_id", task.ID,
			"customer", home.StripeCustomerID,
			"idempotency_key", key,
			"error", err,
		)
		if qErr := c.reconciler.Enqueue(ctx, billing.ReconcileEvent{
			Kind:           billing.ReconcileUsageReport,
			HomeID:         home.ID,
			ServiceID:      svc.ID,
			TaskID:         task.ID,
			CustomerRef:    home.StripeCustomerID,
			IdempotencyKey: key,
			Quantity:       1,
			OccurredAt:     completedAt,
		}); qErr != nil {
			c.logger.ErrorContext(ctx, "reconcile enqueue failed",
				"task_id", task.ID,
				"error", qErr,
			)
		}
		return false
	}
	return true
}

// Cancel flips a pending task to cancelled. Allowed for the assigned
// worker, the paying home owner, and operators. Cancelled tasks are never
// billed and never earn.
func (c *Completer) Cancel(ctx context.Context, taskID int64) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	svc, err := c.store.GetService(ctx, task.ServiceID)
	if err != nil {
		return err
	}

	actor, ok := types.GetActor(ctx)
	if !ok {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "no actor in context", nil)
	}
	allowed := actor.IsOperator() ||
		actor.ID == svc.WorkerID ||
		(actor.Role == types.RolePayer && actor.ID == svc.HomeOwnerID)
	if !allowed {
		return types.NewAppError(types.ErrCodePermissionRole, "not allowed to cancel this task", nil)
	}

	if task.Status != types.TaskPending {
		return types.NewAppError(types.ErrCodeConflictTaskNotPending, "task is not pending", nil)
	}

	return c.store.MarkTaskCancelled(ctx, taskID)
}
