package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscan/internal/core"
	"kidscan/internal/planchange"
	"kidscan/internal/types"
)

// ============================================================
// Shared test helpers
// ============================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newRouter mounts a handler's routes behind a middleware that injects the
// given actor, mirroring the production identity middleware.
func newRouter(actor *types.Actor, register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	if actor != nil {
		a := *actor
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(types.WithActor(req.Context(), a)))
			})
		})
	}
	register(r)
	return r
}

func workerActor(id int64) *types.Actor {
	return &types.Actor{ID: id, Type: types.ActorTypeUser, Role: types.RoleWorker}
}

func payerActor(id int64) *types.Actor {
	return &types.Actor{ID: id, Type: types.ActorTypeUser, Role: types.RolePayer}
}

func operatorActor() *types.Actor {
	return &types.Actor{ID: 1, Type: types.ActorTypeUser, Role: types.RoleOperator}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, code types.ErrorCode) {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(code), body.Error.Code)
}

func fixtureService(id int64) *types.Service {
	return &types.Service{
		ID:          id,
		WorkerID:    9,
		HomeID:      7,
		HomeOwnerID: 5,
		Name:        "Trash Service - Double Can",
		Frequency:   types.FrequencyWeekly,
		PriceCents:  800,
		Status:      types.ServiceActive,
		StartDate:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		PickupDays: []types.PickupDay{
			{DayOfWeek: "monday", CanNumber: 1},
			{DayOfWeek: "monday", CanNumber: 2},
		},
	}
}

// ============================================================
// Mocks
// ============================================================

type mockPlanChanger struct {
	changeFn func(ctx context.Context, req planchange.Request) (*planchange.Result, error)
	lastReq  *planchange.Request
}

func (m *mockPlanChanger) ChangePlan(ctx context.Context, req planchange.Request) (*planchange.Result, error) {
	m.lastReq = &req
	if m.changeFn != nil {
		return m.changeFn(ctx, req)
	}
	return &planchange.Result{
		ServiceID:    req.ServiceID,
		Plan:         req.Plan,
		PriceCents:   1100,
		RemovedTasks: 3,
		CreatedTasks: 12,
		Synced:       true,
	}, nil
}

type mockServiceProvisioner struct {
	createFn func(ctx context.Context, req planchange.CreateRequest) (*planchange.CreateResult, error)
	cancelFn func(ctx context.Context, serviceID int64) (*planchange.CancelResult, error)
}

func (m *mockServiceProvisioner) CreateService(ctx context.Context, req planchange.CreateRequest) (*planchange.CreateResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return &planchange.CreateResult{ServiceID: 42, Name: "Trash Service - Double Can", PriceCents: 800, CreatedTasks: 8}, nil
}

func (m *mockServiceProvisioner) CancelService(ctx context.Context, serviceID int64) (*planchange.CancelResult, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, serviceID)
	}
	return &planchange.CancelResult{ServiceID: serviceID, RemovedTasks: 2}, nil
}

type mockServiceReader struct {
	getFn             func(ctx context.Context, id int64) (*types.Service, error)
	listByWorkerFn    func(ctx context.Context, workerID int64) ([]*types.Service, error)
	listByHomeOwnerFn func(ctx context.Context, ownerID int64) ([]*types.Service, error)
	statsFn           func(ctx context.Context, serviceID int64) (types.ServiceStats, error)
}

func (m *mockServiceReader) Get(ctx context.Context, id int64) (*types.Service, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return fixtureService(id), nil
}

func (m *mockServiceReader) ListByWorker(ctx context.Context, workerID int64) ([]*types.Service, error) {
	if m.listByWorkerFn != nil {
		return m.listByWorkerFn(ctx, workerID)
	}
	return []*types.Service{fixtureService(1)}, nil
}

func (m *mockServiceReader) ListByHomeOwner(ctx context.Context, ownerID int64) ([]*types.Service, error) {
	if m.listByHomeOwnerFn != nil {
		return m.listByHomeOwnerFn(ctx, ownerID)
	}
	return []*types.Service{fixtureService(1), fixtureService(2)}, nil
}

func (m *mockServiceReader) Stats(ctx context.Context, serviceID int64) (types.ServiceStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, serviceID)
	}
	return types.ServiceStats{CompletedTasks: 4, PendingTasks: 8, MissedTasks: 1, TotalEarnedCents: 3200}, nil
}

func newServiceHandler(changer *mockPlanChanger, prov *mockServiceProvisioner, reader *mockServiceReader) *ServiceHandler {
	if changer == nil {
		changer = &mockPlanChanger{}
	}
	if prov == nil {
		prov = &mockServiceProvisioner{}
	}
	if reader == nil {
		reader = &mockServiceReader{}
	}
	return NewServiceHandler(changer, prov, reader, testLogger())
}

// ============================================================
// Create
// ============================================================

func TestCreateService(t *testing.T) {
	var got planchange.CreateRequest
	prov := &mockServiceProvisioner{
		createFn: func(ctx context.Context, req planchange.CreateRequest) (*planchange.CreateResult, error) {
			got = req
			return &planchange.CreateResult{ServiceID: 42, Name: "Trash Service - Double Can", PriceCents: 800, CreatedTasks: 8, SubscriptionCreated: true}, nil
		},
	}
	h := newServiceHandler(nil, prov, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	body := `{
		"worker_id": 9,
		"home_id": 7,
		"plan": "double_can",
		"pickup_days": [
			{"day_of_week": "monday", "can_number": 1},
			{"day_of_week": "monday", "can_number": 2}
		],
		"start_date": "2024-01-01"
	}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(9), got.WorkerID)
	assert.Equal(t, int64(7), got.HomeID)
	assert.Equal(t, types.PlanDoubleCan, got.Plan)
	assert.Len(t, got.PickupDays, 2)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), got.StartDate)

	var res planchange.CreateResult
	decodeEnvelope(t, w, &res)
	assert.Equal(t, int64(42), res.ServiceID)
	assert.True(t, res.SubscriptionCreated)
}

func TestCreateServiceValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{
			"missing plan",
			`{"worker_id": 9, "home_id": 7, "pickup_days": [{"day_of_week": "monday", "can_number": 1}]}`,
			types.ErrCodeValidationMissingField,
		},
		{
			"bad weekday",
			`{"worker_id": 9, "home_id": 7, "plan": "single_can", "pickup_days": [{"day_of_week": "someday", "can_number": 1}]}`,
			types.ErrCodeValidationInvalidWeekday,
		},
		{
			"bad can number",
			`{"worker_id": 9, "home_id": 7, "plan": "single_can", "pickup_days": [{"day_of_week": "monday", "can_number": 4}]}`,
			types.ErrCodeValidationInvalidCan,
		},
		{
			"unknown field",
			`{"worker_id": 9, "home_id": 7, "plan": "single_can", "pickup_days": [{"day_of_week": "monday", "can_number": 1}], "surprise": 1}`,
			types.ErrCodeValidationBody,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prov := &mockServiceProvisioner{
				createFn: func(ctx context.Context, req planchange.CreateRequest) (*planchange.CreateResult, error) {
					t.Fatal("provisioner must not be called for invalid input")
					return nil, nil
				},
			}
			h := newServiceHandler(nil, prov, nil)
			router := newRouter(payerActor(5), h.RegisterRoutes)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services", strings.NewReader(tc.body)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assertErrorCode(t, w, tc.code)
		})
	}
}

// ============================================================
// List
// ============================================================

func TestListServicesByRole(t *testing.T) {
	var workerQueried, ownerQueried int64
	reader := &mockServiceReader{
		listByWorkerFn: func(ctx context.Context, workerID int64) ([]*types.Service, error) {
			workerQueried = workerID
			return []*types.Service{fixtureService(1)}, nil
		},
		listByHomeOwnerFn: func(ctx context.Context, ownerID int64) ([]*types.Service, error) {
			ownerQueried = ownerID
			return []*types.Service{fixtureService(1), fixtureService(2)}, nil
		},
	}
	h := newServiceHandler(nil, nil, reader)

	t.Run("worker sees own assignments", func(t *testing.T) {
		router := newRouter(workerActor(9), h.RegisterRoutes)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(9), workerQueried)

		var out []ServiceResponse
		decodeEnvelope(t, w, &out)
		require.Len(t, out, 1)
		assert.Equal(t, "weekly", out[0].Frequency)
		assert.Equal(t, "2024-01-01", out[0].StartDate)
	})

	t.Run("payer sees own homes", func(t *testing.T) {
		router := newRouter(payerActor(5), h.RegisterRoutes)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(5), ownerQueried)

		var out []ServiceResponse
		decodeEnvelope(t, w, &out)
		assert.Len(t, out, 2)
	})

	t.Run("operator queries by worker_id", func(t *testing.T) {
		router := newRouter(operatorActor(), h.RegisterRoutes)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services?worker_id=33", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(33), workerQueried)
	})

	t.Run("operator without filter is rejected", func(t *testing.T) {
		router := newRouter(operatorActor(), h.RegisterRoutes)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assertErrorCode(t, w, types.ErrCodeValidationMissingField)
	})

	t.Run("no actor is rejected", func(t *testing.T) {
		router := newRouter(nil, h.RegisterRoutes)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assertErrorCode(t, w, types.ErrCodeAuthTokenMissing)
	})
}

// ============================================================
// Get / Stats authorization
// ============================================================

func TestGetServiceAuthorization(t *testing.T) {
	h := newServiceHandler(nil, nil, &mockServiceReader{})

	tests := []struct {
		name       string
		actor      *types.Actor
		wantStatus int
	}{
		{"assigned worker", workerActor(9), http.StatusOK},
		{"home owner", payerActor(5), http.StatusOK},
		{"operator", operatorActor(), http.StatusOK},
		{"unrelated payer", payerActor(77), http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(tc.actor, h.RegisterRoutes)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/1", nil))
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestGetServiceNotFound(t *testing.T) {
	reader := &mockServiceReader{
		getFn: func(ctx context.Context, id int64) (*types.Service, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundService, "service not found", nil)
		},
	}
	h := newServiceHandler(nil, nil, reader)
	router := newRouter(operatorActor(), h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/404", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assertErrorCode(t, w, types.ErrCodeNotFoundService)
}

func TestGetServiceBadID(t *testing.T) {
	h := newServiceHandler(nil, nil, nil)
	router := newRouter(operatorActor(), h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/abc", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceStats(t *testing.T) {
	h := newServiceHandler(nil, nil, &mockServiceReader{})
	router := newRouter(payerActor(5), h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/1/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var out StatsResponse
	decodeEnvelope(t, w, &out)
	assert.Equal(t, 4, out.CompletedTasks)
	assert.Equal(t, 8, out.PendingTasks)
	assert.Equal(t, 1, out.MissedTasks)
	assert.Equal(t, int64(3200), out.TotalEarnedCents)
}

// ============================================================
// ChangePlan
// ============================================================

func TestChangePlanEndpoint(t *testing.T) {
	changer := &mockPlanChanger{}
	h := newServiceHandler(changer, nil, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	body := `{
		"plan": "triple_can",
		"pickup_days": [
			{"day_of_week": "tuesday", "can_number": 1},
			{"day_of_week": "tuesday", "can_number": 2},
			{"day_of_week": "tuesday", "can_number": 3}
		],
		"effective_from": "2024-02-01"
	}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/42/plan", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, changer.lastReq)
	assert.Equal(t, int64(42), changer.lastReq.ServiceID)
	assert.Equal(t, types.PlanTripleCan, changer.lastReq.Plan)
	assert.Len(t, changer.lastReq.PickupDays, 3)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), changer.lastReq.EffectiveFrom)

	var out ChangePlanResponse
	decodeEnvelope(t, w, &out)
	assert.Equal(t, int64(42), out.ServiceID)
	assert.Equal(t, "triple_can", out.Plan)
	assert.Equal(t, int64(1100), out.PriceCents)
	assert.True(t, out.Synced)
}

func TestChangePlanEndpointWithoutPickupDays(t *testing.T) {
	changer := &mockPlanChanger{}
	h := newServiceHandler(changer, nil, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	body := `{"plan": "double_can"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/42/plan", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, changer.lastReq)
	assert.Equal(t, types.PlanDoubleCan, changer.lastReq.Plan)
	assert.Empty(t, changer.lastReq.PickupDays)
}

func TestChangePlanEndpointPropagatesDomainError(t *testing.T) {
	changer := &mockPlanChanger{
		changeFn: func(ctx context.Context, req planchange.Request) (*planchange.Result, error) {
			return nil, types.NewAppError(types.ErrCodeValidationServiceInactive, "service is not active", nil)
		},
	}
	h := newServiceHandler(changer, nil, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	body := `{"plan": "single_can", "pickup_days": [{"day_of_week": "monday", "can_number": 1}]}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/42/plan", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertErrorCode(t, w, types.ErrCodeValidationServiceInactive)
}

// ============================================================
// Cancel
// ============================================================

func TestCancelServiceEndpoint(t *testing.T) {
	var cancelled int64
	prov := &mockServiceProvisioner{
		cancelFn: func(ctx context.Context, serviceID int64) (*planchange.CancelResult, error) {
			cancelled = serviceID
			return &planchange.CancelResult{ServiceID: serviceID, RemovedTasks: 5, SubscriptionEnding: true}, nil
		},
	}
	h := newServiceHandler(nil, prov, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/services/42", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), cancelled)

	var res planchange.CancelResult
	decodeEnvelope(t, w, &res)
	assert.Equal(t, int64(5), res.RemovedTasks)
	assert.True(t, res.SubscriptionEnding)
}

func TestCancelServiceEndpointBlockedByPendingWork(t *testing.T) {
	prov := &mockServiceProvisioner{
		cancelFn: func(ctx context.Context, serviceID int64) (*planchange.CancelResult, error) {
			return nil, types.NewAppError(types.ErrCodePermissionPendingTasks, "overdue pending tasks must be resolved first", nil)
		},
	}
	h := newServiceHandler(nil, prov, nil)
	router := newRouter(payerActor(5), h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/services/42", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assertErrorCode(t, w, types.ErrCodePermissionPendingTasks)
}
