package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kidscan/internal/planchange"
	"kidscan/internal/taskflow"
	"kidscan/internal/types"
)

// Store bundles the repositories over one pool and hands out transactions
// to the domain services. PlanChangeStore and TaskflowStore narrow it to
// the per-consumer interfaces.
type Store struct {
	pool     *pgxpool.Pool
	services *ServiceRepo
	tasks    *TaskRepo
	homes    *HomeRepo
}

var (
	_ planchange.Store          = PlanChangeStore{}
	_ planchange.ProvisionStore = ProvisionStore{}
	_ taskflow.Store            = TaskflowStore{}
	_ taskflow.GeneratorStore   = (*Store)(nil)
)

// NewStore creates a Store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		services: NewServiceRepo(pool),
		tasks:    NewTaskRepo(pool),
		homes:    NewHomeRepo(pool),
	}
}

func (s *Store) GetService(ctx context.Context, id int64) (*types.Service, error) {
	return s.services.Get(ctx, id)
}

func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	return s.tasks.Get(ctx, id)
}

func (s *Store) GetHome(ctx context.Context, id int64) (*types.Home, error) {
	return s.homes.Get(ctx, id)
}

func (s *Store) MarkTaskCancelled(ctx context.Context, taskID int64) error {
	return s.tasks.MarkCancelled(ctx, taskID)
}

func (s *Store) ListActiveRecurring(ctx context.Context) ([]*types.Service, error) {
	return s.services.ListActiveRecurring(ctx)
}

func (s *Store) LatestScheduledDate(ctx context.Context, serviceID int64) (*time.Time, error) {
	return s.tasks.LatestScheduledDate(ctx, serviceID)
}

func (s *Store) InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error) {
	return s.tasks.InsertPending(ctx, serviceID, tasks)
}

func (s *Store) SetHomeSubscription(ctx context.Context, homeID int64, ref types.SubscriptionRef, status types.BillingStatus) error {
	return s.homes.SetSubscription(ctx, homeID, ref, status)
}

func (s *Store) CountActiveForHome(ctx context.Context, homeID int64) (int, error) {
	return s.services.CountActiveForHome(ctx, homeID)
}

func (s *Store) CountOverduePending(ctx context.Context, serviceID int64, before time.Time) (int, error) {
	return s.tasks.CountOverduePending(ctx, serviceID, before)
}

// BeginTx starts a transaction and returns a write set bound to it. The
// returned value satisfies both planchange.Tx and taskflow.Tx.
func (s *Store) BeginTx(ctx context.Context) (*StoreTx, error) {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	return newStoreTx(pgtx), nil
}

// The domain interfaces name their own Tx types, so the single BeginTx
// above cannot satisfy both. These adapters re-expose it per consumer.

// PlanChangeStore narrows Store to the plan-transition coordinator's view.
type PlanChangeStore struct{ *Store }

func (s PlanChangeStore) BeginTx(ctx context.Context) (planchange.Tx, error) {
	return s.Store.BeginTx(ctx)
}

// ProvisionStore narrows Store to the provisioner's view.
type ProvisionStore struct{ *Store }

func (s ProvisionStore) BeginTx(ctx context.Context) (planchange.ProvisionTx, error) {
	return s.Store.BeginTx(ctx)
}

// TaskflowStore narrows Store to the completer's view.
type TaskflowStore struct{ *Store }

func (s TaskflowStore) BeginTx(ctx context.Context) (taskflow.Tx, error) {
	return s.Store.BeginTx(ctx)
}

// StoreTx is the transaction-scoped write set.
type StoreTx struct {
	tx       pgx.Tx
	services *ServiceRepo
	tasks    *TaskRepo
	payments *PaymentRepo
}

var (
	_ planchange.Tx          = (*StoreTx)(nil)
	_ planchange.ProvisionTx = (*StoreTx)(nil)
	_ taskflow.Tx            = (*StoreTx)(nil)
)

func newStoreTx(tx pgx.Tx) *StoreTx {
	return &StoreTx{
		tx:       tx,
		services: NewServiceRepo(tx),
		tasks:    NewTaskRepo(tx),
		payments: NewPaymentRepo(tx),
	}
}

func (t *StoreTx) ReplacePickupDays(ctx context.Context, serviceID int64, days []types.PickupDay) error {
	return t.services.ReplacePickupDays(ctx, serviceID, days)
}

func (t *StoreTx) UpdateServicePrice(ctx context.Context, serviceID int64, priceCents int64) error {
	return t.services.UpdatePrice(ctx, serviceID, priceCents)
}

func (t *StoreTx) DeletePendingFrom(ctx context.Context, serviceID int64, from time.Time) (int64, error) {
	return t.tasks.DeletePendingFrom(ctx, serviceID, from)
}

func (t *StoreTx) DeletePendingWithin(ctx context.Context, serviceID int64, from, through time.Time) (int64, error) {
	return t.tasks.DeletePendingWithin(ctx, serviceID, from, through)
}

func (t *StoreTx) InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error) {
	return t.tasks.InsertPending(ctx, serviceID, tasks)
}

func (t *StoreTx) CreateService(ctx context.Context, svc *types.Service) (int64, error) {
	return t.services.Create(ctx, svc)
}

func (t *StoreTx) MarkServiceCancelled(ctx context.Context, serviceID int64, endDate time.Time) error {
	return t.services.MarkCancelled(ctx, serviceID, endDate)
}

func (t *StoreTx) MarkTaskCompleted(ctx context.Context, taskID int64, completedAt time.Time, photoURL, notes string) error {
	return t.tasks.MarkCompleted(ctx, taskID, completedAt, photoURL, notes)
}

func (t *StoreTx) InsertTaskEarning(ctx context.Context, workerID, taskID, amountCents int64, description string) (int64, error) {
	return t.payments.InsertTaskEarning(ctx, workerID, taskID, amountCents, description)
}

func (t *StoreTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *StoreTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
