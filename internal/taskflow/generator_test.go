package taskflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscan/internal/types"
)

type mockGenStore struct {
	listActiveFn func(ctx context.Context) ([]*types.Service, error)
	getHomeFn    func(ctx context.Context, id int64) (*types.Home, error)
	latestFn     func(ctx context.Context, serviceID int64) (*time.Time, error)
	insertFn     func(ctx context.Context, serviceID int64, tasks []types.Task) (int, error)

	mu            sync.Mutex
	insertedTasks map[int64][]types.Task
}

func (m *mockGenStore) ListActiveRecurring(ctx context.Context) ([]*types.Service, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockGenStore) GetHome(ctx context.Context, id int64) (*types.Home, error) {
	if m.getHomeFn != nil {
		return m.getHomeFn(ctx, id)
	}
	return &types.Home{ID: id, OwnerID: ownerID, StripeCustomerID: "cus_789"}, nil
}

func (m *mockGenStore) LatestScheduledDate(ctx context.Context, serviceID int64) (*time.Time, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, serviceID)
	}
	return nil, nil
}

func (m *mockGenStore) InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error) {
	m.mu.Lock()
	if m.insertedTasks == nil {
		m.insertedTasks = map[int64][]types.Task{}
	}
	m.insertedTasks[serviceID] = tasks
	m.mu.Unlock()
	if m.insertFn != nil {
		return m.insertFn(ctx, serviceID, tasks)
	}
	return len(tasks), nil
}

func jan10Clock() time.Time {
	return time.Date(2024, time.January, 10, 3, 0, 0, 0, time.UTC)
}

func janEnd() time.Time {
	return time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
}

func TestExtendFromLatestScheduledDate(t *testing.T) {
	latest := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	store := &mockGenStore{
		latestFn: func(context.Context, int64) (*time.Time, error) {
			return &latest, nil
		},
	}

	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	created, err := g.Extend(context.Background(), weeklyService(42), janEnd())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	tasks := store.insertedTasks[42]
	require.Len(t, tasks, 3)
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), tasks[0].ScheduledDate)
	assert.Equal(t, time.Date(2024, time.January, 22, 0, 0, 0, 0, time.UTC), tasks[1].ScheduledDate)
	assert.Equal(t, time.Date(2024, time.January, 29, 0, 0, 0, 0, time.UTC), tasks[2].ScheduledDate)
	for _, task := range tasks {
		assert.Equal(t, int64(800), task.PriceCents)
	}
}

func TestExtendAnchorsOnStartDateWhenNoTasks(t *testing.T) {
	store := &mockGenStore{}
	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	svc := weeklyService(42)
	svc.StartDate = time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)

	created, err := g.Extend(context.Background(), svc, janEnd())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	tasks := store.insertedTasks[42]
	require.Len(t, tasks, 2)
	assert.Equal(t, time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC), tasks[0].ScheduledDate)
	assert.Equal(t, time.Date(2024, time.January, 27, 0, 0, 0, 0, time.UTC), tasks[1].ScheduledDate)
}

func TestExtendBiweeklyStep(t *testing.T) {
	latest := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &mockGenStore{
		latestFn: func(context.Context, int64) (*time.Time, error) {
			return &latest, nil
		},
	}
	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	svc := weeklyService(42)
	svc.Frequency = types.FrequencyBiweekly

	created, err := g.Extend(context.Background(), svc, janEnd())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	tasks := store.insertedTasks[42]
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), tasks[0].ScheduledDate)
	assert.Equal(t, time.Date(2024, time.January, 29, 0, 0, 0, 0, time.UTC), tasks[1].ScheduledDate)
}

func TestExtendSkipsWithoutPaymentMethod(t *testing.T) {
	store := &mockGenStore{}
	gateway := &mockGateway{
		hasValidPaymentMethodFn: func(context.Context, string) (bool, error) {
			return false, nil
		},
	}
	g := NewGenerator(store, gateway, 1, nil).WithClock(jan10Clock)

	created, err := g.Extend(context.Background(), weeklyService(42), janEnd())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, store.insertedTasks)
}

func TestExtendTreatsPaymentCheckErrorAsSkip(t *testing.T) {
	store := &mockGenStore{}
	gateway := &mockGateway{
		hasValidPaymentMethodFn: func(context.Context, string) (bool, error) {
			return false, types.NewAppError(types.ErrCodeUpstreamBilling, "provider down", nil)
		},
	}
	g := NewGenerator(store, gateway, 1, nil).WithClock(jan10Clock)

	created, err := g.Extend(context.Background(), weeklyService(42), janEnd())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestExtendRejectsOneTimeService(t *testing.T) {
	g := NewGenerator(&mockGenStore{}, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	svc := weeklyService(42)
	svc.Frequency = types.FrequencyOneTime

	_, err := g.Extend(context.Background(), svc, janEnd())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationOneTimeService, appCode(t, err))
}

func TestExtendRejectsInactiveService(t *testing.T) {
	g := NewGenerator(&mockGenStore{}, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	svc := weeklyService(42)
	svc.Status = types.ServicePaused

	_, err := g.Extend(context.Background(), svc, janEnd())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationServiceInactive, appCode(t, err))
}

func TestExtendNothingToCreateUpToDate(t *testing.T) {
	latest := time.Date(2024, time.January, 29, 0, 0, 0, 0, time.UTC)
	store := &mockGenStore{
		latestFn: func(context.Context, int64) (*time.Time, error) {
			return &latest, nil
		},
	}
	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	created, err := g.Extend(context.Background(), weeklyService(42), janEnd())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, store.insertedTasks)
}

func TestExtendThroughGivenEndDate(t *testing.T) {
	latest := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	store := &mockGenStore{
		latestFn: func(context.Context, int64) (*time.Time, error) {
			return &latest, nil
		},
	}
	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	// An administrative extension reaching two months past the current one;
	// the time-of-day component is dropped before bounding.
	until := time.Date(2024, time.March, 31, 18, 30, 0, 0, time.UTC)
	created, err := g.Extend(context.Background(), weeklyService(42), until)
	require.NoError(t, err)
	assert.Equal(t, 11, created)

	tasks := store.insertedTasks[42]
	require.Len(t, tasks, 11)
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), tasks[0].ScheduledDate)
	assert.Equal(t, time.Date(2024, time.March, 25, 0, 0, 0, 0, time.UTC), tasks[10].ScheduledDate)
}

func TestExtendAllTalliesOutcomes(t *testing.T) {
	ok := weeklyService(1)
	noCard := weeklyService(2)
	noCard.HomeID = 8
	broken := weeklyService(3)
	broken.HomeID = 666

	latest := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	store := &mockGenStore{
		listActiveFn: func(context.Context) ([]*types.Service, error) {
			return []*types.Service{ok, noCard, broken}, nil
		},
		latestFn: func(context.Context, int64) (*time.Time, error) {
			return &latest, nil
		},
		getHomeFn: func(_ context.Context, id int64) (*types.Home, error) {
			if id == 666 {
				return nil, types.NewAppError(types.ErrCodeNotFoundHome, "home not found", nil)
			}
			if id == 8 {
				return &types.Home{ID: id, OwnerID: ownerID, StripeCustomerID: "cus_nocard"}, nil
			}
			return &types.Home{ID: id, OwnerID: ownerID, StripeCustomerID: "cus_789"}, nil
		},
	}
	gateway := &mockGateway{
		hasValidPaymentMethodFn: func(_ context.Context, customerRef string) (bool, error) {
			return customerRef != "cus_nocard", nil
		},
	}

	g := NewGenerator(store, gateway, 2, nil).WithClock(jan10Clock)

	report, err := g.ExtendAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
}

func TestExtendAllListFailure(t *testing.T) {
	store := &mockGenStore{
		listActiveFn: func(context.Context) ([]*types.Service, error) {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)
		},
	}
	g := NewGenerator(store, &mockGateway{}, 1, nil).WithClock(jan10Clock)

	_, err := g.ExtendAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, appCode(t, err))
}
