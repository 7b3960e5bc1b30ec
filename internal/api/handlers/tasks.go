package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kidscan/internal/core"
	"kidscan/internal/taskflow"
	"kidscan/internal/types"
)

// TaskCompleter drives the task lifecycle.
type TaskCompleter interface {
	Complete(ctx context.Context, req taskflow.CompleteRequest) (*taskflow.CompleteResult, error)
	Cancel(ctx context.Context, taskID int64) error
}

// TaskReader is the read access the task endpoints need.
type TaskReader interface {
	Get(ctx context.Context, id int64) (*types.Task, error)
	ListByService(ctx context.Context, serviceID int64) ([]*types.Task, error)
}

// CompleteTaskRequest is the body for POST /v1/tasks/{id}/complete.
type CompleteTaskRequest struct {
	PhotoURL string `json:"photo_url" validate:"omitempty,url"`
	Notes    string `json:"notes" validate:"omitempty,max=1000"`
}

// TaskResponse is the wire form of a task.
type TaskResponse struct {
	ID            int64  `json:"id"`
	ServiceID     int64  `json:"service_id"`
	ScheduledDate string `json:"scheduled_date"`
	Status        string `json:"status"`
	CompletedAt   string `json:"completed_at,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	Notes         string `json:"notes,omitempty"`
	PriceCents    int64  `json:"price_cents"`
}

// CompleteTaskResponse is the response for POST /v1/tasks/{id}/complete.
type CompleteTaskResponse struct {
	TaskID        int64  `json:"task_id"`
	CompletedAt   string `json:"completed_at"`
	AmountCents   int64  `json:"amount_cents"`
	UsageReported bool   `json:"usage_reported"`
}

// TaskHandler handles the task endpoints.
type TaskHandler struct {
	completer TaskCompleter
	tasks     TaskReader
	services  ServiceReader
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(completer TaskCompleter, tasks TaskReader, services ServiceReader, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		completer: completer,
		tasks:     tasks,
		services:  services,
		logger:    logger,
	}
}

// RegisterRoutes mounts the task endpoints.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tasks/{taskID}", h.Get)
	r.Post("/tasks/{taskID}/complete", h.Complete)
	r.Post("/tasks/{taskID}/cancel", h.Cancel)
	r.Get("/services/{serviceID}/tasks", h.ListForService)
}

// Get handles GET /v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.loadAuthorized(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toTaskResponse(task)})
}

// Complete handles POST /v1/tasks/{taskID}/complete. The completer owns
// the authorization check (assigned worker or operator).
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "taskID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CompleteTaskRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := core.Validate(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.completer.Complete(r.Context(), taskflow.CompleteRequest{
		TaskID:   taskID,
		PhotoURL: req.PhotoURL,
		Notes:    req.Notes,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CompleteTaskResponse{
		TaskID:        res.TaskID,
		CompletedAt:   res.CompletedAt.Format(timeFormat),
		AmountCents:   res.AmountCents,
		UsageReported: res.UsageReported,
	}})
}

// Cancel handles POST /v1/tasks/{taskID}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "taskID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.completer.Cancel(r.Context(), taskID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"task_id": taskID,
		"status":  string(types.TaskCancelled),
	}})
}

// ListForService handles GET /v1/services/{serviceID}/tasks.
func (h *TaskHandler) ListForService(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	svc, err := h.services.Get(r.Context(), serviceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorizeServiceRead(r.Context(), svc); err != nil {
		core.Error(w, r, err)
		return
	}

	tasks, err := h.tasks.ListByService(r.Context(), serviceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// loadAuthorized fetches the path task and checks read access through its
// service.
func (h *TaskHandler) loadAuthorized(r *http.Request) (*types.Task, error) {
	taskID, err := pathID(r, "taskID")
	if err != nil {
		return nil, err
	}
	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		return nil, err
	}
	svc, err := h.services.Get(r.Context(), task.ServiceID)
	if err != nil {
		return nil, err
	}
	if err := authorizeServiceRead(r.Context(), svc); err != nil {
		return nil, err
	}
	return task, nil
}

func authorizeServiceRead(ctx context.Context, svc *types.Service) error {
	actor, ok := types.GetActor(ctx)
	if !ok {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	if actor.IsOperator() || actor.ID == svc.WorkerID || actor.ID == svc.HomeOwnerID {
		return nil
	}
	return types.NewAppError(types.ErrCodePermissionRole, "not a party to this service", nil)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func toTaskResponse(t *types.Task) TaskResponse {
	resp := TaskResponse{
		ID:            t.ID,
		ServiceID:     t.ServiceID,
		ScheduledDate: t.ScheduledDate.Format("2006-01-02"),
		Status:        string(t.Status),
		PhotoURL:      t.PhotoURL,
		Notes:         t.Notes,
		PriceCents:    t.PriceCents,
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = t.CompletedAt.Format(timeFormat)
	}
	return resp
}
