// Package handlers contains the HTTP handler implementations for the
// KidsCan API. Each handler file defines the service contracts it needs
// locally and receives implementations through its constructor, which keeps
// handlers testable with mocks.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kidscan/internal/core"
	"kidscan/internal/planchange"
	"kidscan/internal/types"
)

// PlanChanger drives plan transitions.
type PlanChanger interface {
	ChangePlan(ctx context.Context, req planchange.Request) (*planchange.Result, error)
}

// ServiceProvisioner creates and cancels services.
type ServiceProvisioner interface {
	CreateService(ctx context.Context, req planchange.CreateRequest) (*planchange.CreateResult, error)
	CancelService(ctx context.Context, serviceID int64) (*planchange.CancelResult, error)
}

// ServiceReader is the read access the service endpoints need.
type ServiceReader interface {
	Get(ctx context.Context, id int64) (*types.Service, error)
	ListByWorker(ctx context.Context, workerID int64) ([]*types.Service, error)
	ListByHomeOwner(ctx context.Context, ownerID int64) ([]*types.Service, error)
	Stats(ctx context.Context, serviceID int64) (types.ServiceStats, error)
}

// --- Request/Response Models ---

type pickupDayDTO struct {
	DayOfWeek string `json:"day_of_week" validate:"required,weekday"`
	CanNumber int    `json:"can_number" validate:"required,cannumber"`
}

// CreateServiceRequest is the body for POST /v1/services.
type CreateServiceRequest struct {
	WorkerID    int64          `json:"worker_id" validate:"required"`
	HomeID      int64          `json:"home_id" validate:"required"`
	Plan        string         `json:"plan" validate:"required,plantype"`
	PickupDays  []pickupDayDTO `json:"pickup_days" validate:"required,min=1,dive"`
	StartDate   string         `json:"start_date" validate:"omitempty,dateonly"`
	Description string         `json:"description" validate:"omitempty,max=500"`
}

// ChangePlanRequest is the body for POST /v1/services/{id}/plan. The
// pickup-day set is optional; without one the change is price-only and the
// existing schedule stays in place.
type ChangePlanRequest struct {
	Plan          string         `json:"plan" validate:"required,plantype"`
	PickupDays    []pickupDayDTO `json:"pickup_days" validate:"omitempty,min=1,dive"`
	EffectiveFrom string         `json:"effective_from" validate:"omitempty,dateonly"`
}

// ServiceResponse is the wire form of a service.
type ServiceResponse struct {
	ID          int64          `json:"id"`
	WorkerID    int64          `json:"worker_id"`
	HomeID      int64          `json:"home_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Frequency   string         `json:"frequency"`
	PriceCents  int64          `json:"price_cents"`
	Status      string         `json:"status"`
	StartDate   string         `json:"start_date"`
	EndDate     string         `json:"end_date,omitempty"`
	PickupDays  []pickupDayDTO `json:"pickup_days"`
}

// ChangePlanResponse is the response for POST /v1/services/{id}/plan.
type ChangePlanResponse struct {
	ServiceID    int64  `json:"service_id"`
	Plan         string `json:"plan"`
	PriceCents   int64  `json:"price_cents"`
	RemovedTasks int64  `json:"removed_tasks"`
	CreatedTasks int    `json:"created_tasks"`
	Synced       bool   `json:"synced"`
}

// StatsResponse is the response for GET /v1/services/{id}/stats.
type StatsResponse struct {
	CompletedTasks   int   `json:"completed_tasks"`
	PendingTasks     int   `json:"pending_tasks"`
	MissedTasks      int   `json:"missed_tasks"`
	TotalEarnedCents int64 `json:"total_earned_cents"`
}

// --- Service Handler ---

// ServiceHandler handles the service CRUD and plan transition endpoints.
type ServiceHandler struct {
	changer     PlanChanger
	provisioner ServiceProvisioner
	reader      ServiceReader
	logger      *slog.Logger
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(changer PlanChanger, provisioner ServiceProvisioner, reader ServiceReader, logger *slog.Logger) *ServiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceHandler{
		changer:     changer,
		provisioner: provisioner,
		reader:      reader,
		logger:      logger,
	}
}

// RegisterRoutes mounts the service endpoints.
func (h *ServiceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/services", h.Create)
	r.Get("/services", h.List)
	r.Get("/services/{serviceID}", h.Get)
	r.Delete("/services/{serviceID}", h.Cancel)
	r.Post("/services/{serviceID}/plan", h.ChangePlan)
	r.Get("/services/{serviceID}/stats", h.Stats)
}

// Create handles POST /v1/services.
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := core.Validate(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	startDate, err := parseOptionalDate(req.StartDate)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.provisioner.CreateService(r.Context(), planchange.CreateRequest{
		WorkerID:    req.WorkerID,
		HomeID:      req.HomeID,
		Plan:        types.PlanType(req.Plan),
		PickupDays:  toPickupDays(req.PickupDays),
		StartDate:   startDate,
		Description: req.Description,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: res})
}

// List handles GET /v1/services. Workers see their assignments, payers see
// their homes' services, and operators query by either party.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var (
		services []*types.Service
		err      error
	)
	switch {
	case actor.Role == types.RoleWorker:
		services, err = h.reader.ListByWorker(r.Context(), actor.ID)
	case actor.Role == types.RolePayer:
		services, err = h.reader.ListByHomeOwner(r.Context(), actor.ID)
	case actor.IsOperator():
		if workerID := r.URL.Query().Get("worker_id"); workerID != "" {
			id, perr := strconv.ParseInt(workerID, 10, 64)
			if perr != nil {
				core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "invalid worker_id", perr))
				return
			}
			services, err = h.reader.ListByWorker(r.Context(), id)
		} else if ownerID := r.URL.Query().Get("owner_id"); ownerID != "" {
			id, perr := strconv.ParseInt(ownerID, 10, 64)
			if perr != nil {
				core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "invalid owner_id", perr))
				return
			}
			services, err = h.reader.ListByHomeOwner(r.Context(), id)
		} else {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "worker_id or owner_id is required", nil))
			return
		}
	default:
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "role cannot list services", nil))
		return
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]ServiceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, toServiceResponse(svc))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// Get handles GET /v1/services/{serviceID}.
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc, err := h.loadAuthorized(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toServiceResponse(svc)})
}

// Stats handles GET /v1/services/{serviceID}/stats.
func (h *ServiceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	svc, err := h.loadAuthorized(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	stats, err := h.reader.Stats(r.Context(), svc.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: StatsResponse{
		CompletedTasks:   stats.CompletedTasks,
		PendingTasks:     stats.PendingTasks,
		MissedTasks:      stats.MissedTasks,
		TotalEarnedCents: stats.TotalEarnedCents,
	}})
}

// ChangePlan handles POST /v1/services/{serviceID}/plan.
func (h *ServiceHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req ChangePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := core.Validate(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	effective, err := parseOptionalDate(req.EffectiveFrom)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.changer.ChangePlan(r.Context(), planchange.Request{
		ServiceID:     serviceID,
		Plan:          types.PlanType(req.Plan),
		PickupDays:    toPickupDays(req.PickupDays),
		EffectiveFrom: effective,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ChangePlanResponse{
		ServiceID:    res.ServiceID,
		Plan:         string(res.Plan),
		PriceCents:   res.PriceCents,
		RemovedTasks: res.RemovedTasks,
		CreatedTasks: res.CreatedTasks,
		Synced:       res.Synced,
	}})
}

// Cancel handles DELETE /v1/services/{serviceID}.
func (h *ServiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	res, err := h.provisioner.CancelService(r.Context(), serviceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// loadAuthorized fetches the path service and checks the actor may read it.
func (h *ServiceHandler) loadAuthorized(r *http.Request) (*types.Service, error) {
	serviceID, err := pathID(r, "serviceID")
	if err != nil {
		return nil, err
	}
	svc, err := h.reader.Get(r.Context(), serviceID)
	if err != nil {
		return nil, err
	}
	actor, ok := types.GetActor(r.Context())
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	if actor.IsOperator() || actor.ID == svc.WorkerID || actor.ID == svc.HomeOwnerID {
		return svc, nil
	}
	return nil, types.NewAppError(types.ErrCodePermissionRole, "not a party to this service", nil)
}

// --- Helpers ---

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppError(types.ErrCodeValidationBody, "invalid "+name, err)
	}
	return id, nil
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDate, "invalid date "+s, err)
	}
	return d.UTC(), nil
}

func toPickupDays(in []pickupDayDTO) []types.PickupDay {
	out := make([]types.PickupDay, 0, len(in))
	for _, d := range in {
		out = append(out, types.PickupDay{DayOfWeek: d.DayOfWeek, CanNumber: d.CanNumber})
	}
	return out
}

func toServiceResponse(svc *types.Service) ServiceResponse {
	resp := ServiceResponse{
		ID:          svc.ID,
		WorkerID:    svc.WorkerID,
		HomeID:      svc.HomeID,
		Name:        svc.Name,
		Description: svc.Description,
		Frequency:   string(svc.Frequency),
		PriceCents:  svc.PriceCents,
		Status:      string(svc.Status),
		StartDate:   svc.StartDate.Format("2006-01-02"),
		PickupDays:  make([]pickupDayDTO, 0, len(svc.PickupDays)),
	}
	if svc.EndDate != nil {
		resp.EndDate = svc.EndDate.Format("2006-01-02")
	}
	for _, d := range svc.PickupDays {
		resp.PickupDays = append(resp.PickupDays, pickupDayDTO{DayOfWeek: d.DayOfWeek, CanNumber: d.CanNumber})
	}
	return resp
}
