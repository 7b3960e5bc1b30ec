package planchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscan/internal/billing"
	"kidscan/internal/types"
)

type mockProvisionTx struct {
	createServiceFn func(ctx context.Context, svc *types.Service) (int64, error)
	insertFn        func(ctx context.Context, serviceID int64, tasks []types.Task) (int, error)
	deleteFromFn    func(ctx context.Context, serviceID int64, from time.Time) (int64, error)
	markCancelledFn func(ctx context.Context, serviceID int64, endDate time.Time) error

	createdService *types.Service
	insertedTasks  []types.Task
	deletedFrom    time.Time
	cancelledAt    time.Time
	committed      bool
	rolledBack     bool
}

func (m *mockProvisionTx) CreateService(ctx context.Context, svc *types.Service) (int64, error) {
	m.createdService = svc
	if m.createServiceFn != nil {
		return m.createServiceFn(ctx, svc)
	}
	return 42, nil
}

func (m *mockProvisionTx) InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error) {
	m.insertedTasks = tasks
	if m.insertFn != nil {
		return m.insertFn(ctx, serviceID, tasks)
	}
	return len(tasks), nil
}

func (m *mockProvisionTx) DeletePendingFrom(ctx context.Context, serviceID int64, from time.Time) (int64, error) {
	m.deletedFrom = from
	if m.deleteFromFn != nil {
		return m.deleteFromFn(ctx, serviceID, from)
	}
	return 2, nil
}

func (m *mockProvisionTx) MarkServiceCancelled(ctx context.Context, serviceID int64, endDate time.Time) error {
	m.cancelledAt = endDate
	if m.markCancelledFn != nil {
		return m.markCancelledFn(ctx, serviceID, endDate)
	}
	return nil
}

func (m *mockProvisionTx) Commit(context.Context) error   { m.committed = true; return nil }
func (m *mockProvisionTx) Rollback(context.Context) error { m.rolledBack = true; return nil }

type mockProvisionStore struct {
	getServiceFn   func(ctx context.Context, id int64) (*types.Service, error)
	getHomeFn      func(ctx context.Context, id int64) (*types.Home, error)
	countActiveFn  func(ctx context.Context, homeID int64) (int, error)
	countOverdueFn func(ctx context.Context, serviceID int64, before time.Time) (int, error)

	subscriptionSet    *types.SubscriptionRef
	subscriptionStatus types.BillingStatus

	tx *mockProvisionTx
}

func (m *mockProvisionStore) GetService(ctx context.Context, id int64) (*types.Service, error) {
	if m.getServiceFn != nil {
		return m.getServiceFn(ctx, id)
	}
	return activeService(id), nil
}

func (m *mockProvisionStore) GetHome(ctx context.Context, id int64) (*types.Home, error) {
	if m.getHomeFn != nil {
		return m.getHomeFn(ctx, id)
	}
	return subscribedHome(id), nil
}

func (m *mockProvisionStore) SetHomeSubscription(_ context.Context, _ int64, ref types.SubscriptionRef, status types.BillingStatus) error {
	m.subscriptionSet = &ref
	m.subscriptionStatus = status
	return nil
}

func (m *mockProvisionStore) CountActiveForHome(ctx context.Context, homeID int64) (int, error) {
	if m.countActiveFn != nil {
		return m.countActiveFn(ctx, homeID)
	}
	return 0, nil
}

func (m *mockProvisionStore) CountOverduePending(ctx context.Context, serviceID int64, before time.Time) (int, error) {
	if m.countOverdueFn != nil {
		return m.countOverdueFn(ctx, serviceID, before)
	}
	return 0, nil
}

func (m *mockProvisionStore) BeginTx(context.Context) (ProvisionTx, error) {
	if m.tx == nil {
		m.tx = &mockProvisionTx{}
	}
	return m.tx, nil
}

func unsubscribedHome(id int64) *types.Home {
	return &types.Home{
		ID:               id,
		OwnerID:          ownerID,
		StripeCustomerID: "cus_789",
	}
}

// =============================================================================
// CreateService
// =============================================================================

func TestCreateServiceProvisionsSubscription(t *testing.T) {
	store := &mockProvisionStore{
		getHomeFn: func(_ context.Context, id int64) (*types.Home, error) {
			return unsubscribedHome(id), nil
		},
	}
	gateway := &mockGateway{}

	p := NewProvisioner(store, gateway, nil, nil).WithClock(jan10)

	res, err := p.CreateService(payerCtx(), CreateRequest{
		WorkerID:   workerID,
		HomeID:     7,
		Plan:       types.PlanDoubleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "monday", CanNumber: 1}, {DayOfWeek: "monday", CanNumber: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.ServiceID)
	assert.Equal(t, "Trash Service - Double Can", res.Name)
	assert.Equal(t, int64(750), res.PriceCents)
	assert.True(t, res.SubscriptionCreated)

	require.NotNil(t, store.subscriptionSet)
	assert.Equal(t, "sub_new", store.subscriptionSet.SubscriptionID)
	assert.Equal(t, types.BillingActive, store.subscriptionStatus)

	tx := store.tx
	require.NotNil(t, tx)
	assert.True(t, tx.committed)
	require.NotNil(t, tx.createdService)
	assert.Equal(t, types.FrequencyWeekly, tx.createdService.Frequency)
	assert.Equal(t, types.ServiceActive, tx.createdService.Status)

	// From Jan 10, remaining Mondays are the 15th, 22nd and 29th; two cans
	// per pickup gives six prep tasks.
	assert.Len(t, tx.insertedTasks, 6)
	assert.Equal(t, 6, res.CreatedTasks)
}

func TestCreateServiceReusesExistingSubscription(t *testing.T) {
	store := &mockProvisionStore{}
	gateway := &mockGateway{
		createSubscriptionFn: func(context.Context, string, types.PlanType) (types.SubscriptionRef, error) {
			t.Fatal("must not create a second subscription")
			return types.SubscriptionRef{}, nil
		},
	}

	p := NewProvisioner(store, gateway, nil, nil).WithClock(jan10)

	res, err := p.CreateService(payerCtx(), CreateRequest{
		WorkerID:   workerID,
		HomeID:     7,
		Plan:       types.PlanSingleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "tuesday", CanNumber: 1}},
	})
	require.NoError(t, err)
	assert.False(t, res.SubscriptionCreated)
	assert.Nil(t, store.subscriptionSet)
}

func TestCreateServiceRequiresPaymentMethod(t *testing.T) {
	gateway := &mockGateway{
		hasValidPaymentMethodFn: func(context.Context, string) (bool, error) {
			return false, nil
		},
	}
	store := &mockProvisionStore{}

	p := NewProvisioner(store, gateway, nil, nil).WithClock(jan10)

	_, err := p.CreateService(payerCtx(), CreateRequest{
		WorkerID:   workerID,
		HomeID:     7,
		Plan:       types.PlanSingleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "monday", CanNumber: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodePaymentMethodRequired, appCode(t, err))
	// Nothing was written.
	assert.Nil(t, store.tx)
}

func TestCreateServiceRequiresBillingAccount(t *testing.T) {
	store := &mockProvisionStore{
		getHomeFn: func(_ context.Context, id int64) (*types.Home, error) {
			return &types.Home{ID: id, OwnerID: ownerID}, nil
		},
	}

	p := NewProvisioner(store, &mockGateway{}, nil, nil).WithClock(jan10)

	_, err := p.CreateService(payerCtx(), CreateRequest{
		WorkerID:   workerID,
		HomeID:     7,
		Plan:       types.PlanSingleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "monday", CanNumber: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodePaymentMethodRequired, appCode(t, err))
}

func TestCreateServiceRequiresWorker(t *testing.T) {
	p := NewProvisioner(&mockProvisionStore{}, &mockGateway{}, nil, nil).WithClock(jan10)

	_, err := p.CreateService(payerCtx(), CreateRequest{
		HomeID:     7,
		Plan:       types.PlanSingleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "monday", CanNumber: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationMissingField, appCode(t, err))
}

func TestCreateServiceRejectsNonOwner(t *testing.T) {
	p := NewProvisioner(&mockProvisionStore{}, &mockGateway{}, nil, nil).WithClock(jan10)

	ctx := types.WithActor(context.Background(), types.Actor{
		ID: 777, Type: types.ActorTypeUser, Role: types.RolePayer,
	})
	_, err := p.CreateService(ctx, CreateRequest{
		WorkerID:   workerID,
		HomeID:     7,
		Plan:       types.PlanSingleCan,
		PickupDays: []types.PickupDay{{DayOfWeek: "monday", CanNumber: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodePermissionNotHomeOwner, appCode(t, err))
}

// =============================================================================
// CancelService
// =============================================================================

func TestCancelServiceEndsLastSubscription(t *testing.T) {
	store := &mockProvisionStore{}
	gateway := &mockGateway{}

	p := NewProvisioner(store, gateway, nil, nil).WithClock(jan10)

	res, err := p.CancelService(payerCtx(), 42)
	require.NoError(t, err)

	today := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, res.EndDate.Equal(today))
	assert.Equal(t, int64(2), res.RemovedTasks)
	assert.True(t, res.SubscriptionEnding)

	tx := store.tx
	require.NotNil(t, tx)
	assert.True(t, tx.committed)
	assert.True(t, tx.deletedFrom.Equal(today))
	assert.True(t, tx.cancelledAt.Equal(today))

	require.Len(t, gateway.cancelCalls, 1)
	assert.Equal(t, "sub_123", gateway.cancelCalls[0].SubscriptionID)
	assert.Equal(t, types.BillingCancelling, store.subscriptionStatus)
}

func TestCancelServiceKeepsSubscriptionWhileOthersActive(t *testing.T) {
	store := &mockProvisionStore{
		countActiveFn: func(context.Context, int64) (int, error) { return 1, nil },
	}
	gateway := &mockGateway{}

	p := NewProvisioner(store, gateway, nil, nil).WithClock(jan10)

	res, err := p.CancelService(payerCtx(), 42)
	require.NoError(t, err)

	assert.False(t, res.SubscriptionEnding)
	assert.Empty(t, gateway.cancelCalls)
}

func TestCancelServiceBlockedByOverdueTasks(t *testing.T) {
	store := &mockProvisionStore{
		countOverdueFn: func(context.Context, int64, time.Time) (int, error) { return 2, nil },
	}

	p := NewProvisioner(store, &mockGateway{}, nil, nil).WithClock(jan10)

	_, err := p.CancelService(payerCtx(), 42)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodePermissionPendingTasks, appCode(t, err))
	assert.Nil(t, store.tx)
}

func TestCancelServiceAlreadyCancelled(t *testing.T) {
	cancelled := activeService(42)
	cancelled.Status = types.ServiceCancelled
	store := &mockProvisionStore{
		getServiceFn: func(context.Context, int64) (*types.Service, error) {
			return cancelled, nil
		},
	}

	p := NewProvisioner(store, &mockGateway{}, nil, nil).WithClock(jan10)

	_, err := p.CancelService(payerCtx(), 42)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationServiceInactive, appCode(t, err))
}

func TestCancelServiceProviderFailureIsSoft(t *testing.T) {
	store := &mockProvisionStore{}
	gateway := &mockGateway{
		cancelAtPeriodEndFn: func(context.Context, types.SubscriptionRef) error {
			return types.NewAppError(types.ErrCodeUpstreamBilling, "provider 500", nil)
		},
	}
	metrics := &mockMetrics{}

	p := NewProvisioner(store, gateway, metrics, nil).WithClock(jan10)

	res, err := p.CancelService(payerCtx(), 42)
	require.NoError(t, err)

	// The local cancellation sticks even when the provider call fails.
	assert.True(t, store.tx.committed)
	assert.False(t, res.SubscriptionEnding)
	assert.Equal(t, 1, metrics.counts[billing.MetricSubscriptionSyncFailure])
}
