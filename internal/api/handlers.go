package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/planpath/planpath/internal/coordinator"
	"github.com/planpath/planpath/internal/eventbus"
	"github.com/planpath/planpath/internal/resolver"
	"github.com/planpath/planpath/internal/task"
	"github.com/planpath/planpath/internal/template"
	"github.com/planpath/planpath/pkg/cerr"
)

// Handlers is the HTTP route layer over the core engine. It translates
// request bodies into coordinator calls and maps coded errors onto HTTP
// statuses through the cerr middleware.
type Handlers struct {
	repo        task.Repository
	resolver    *resolver.Resolver
	coordinator *coordinator.Coordinator
	seeder      *template.Seeder
	bus         *eventbus.Bus
}

func NewHandlers(repo task.Repository, res *resolver.Resolver, coord *coordinator.Coordinator, seeder *template.Seeder, bus *eventbus.Bus) *Handlers {
	return &Handlers{
		repo:        repo,
		resolver:    res,
		coordinator: coord,
		seeder:      seeder,
		bus:         bus,
	}
}

func (h *Handlers) Routes(r chi.Router) {
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/tasks", h.createTask)
		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{taskRef}", h.getTask)
		r.Put("/tasks/{taskRef}", h.updateTask)
		r.Get("/tasks/{taskID}/sync", h.syncStatus)
		r.Post("/seed", h.seed)
		r.Delete("/cache", h.clearCache)
	})
}

type createTaskRequest struct {
	Text     string      `json:"text"`
	Stage    task.Stage  `json:"stage"`
	Origin   task.Origin `json:"origin"`
	Notes    string      `json:"notes"`
	Priority string      `json:"priority"`
	Owner    string      `json:"owner"`
	DueDate  string      `json:"dueDate"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Text == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "text is required", nil)
		return
	}
	if req.Stage == "" {
		req.Stage = task.StageIdentification
	}
	if !req.Stage.Valid() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown stage", nil)
		return
	}
	if req.Origin == "" {
		req.Origin = task.OriginCustom
	}
	if !req.Origin.Valid() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown origin", nil)
		return
	}

	now := time.Now()
	t := &task.Task{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		Text:      req.Text,
		Stage:     req.Stage,
		Origin:    req.Origin,
		Notes:     req.Notes,
		Priority:  req.Priority,
		Owner:     req.Owner,
		DueDate:   req.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	h.bus.PublishNew(eventbus.EventTaskCreated, projectID, t.ID, nil)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	tasks, err := h.repo.ListByProject(ctx, projectID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"tasks": tasks})
}

type resolveResponse struct {
	Task     *task.Task `json:"task"`
	Strategy string     `json:"strategy"`
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	taskRef := chi.URLParam(r, "taskRef")

	match, err := h.resolver.Resolve(ctx, projectID, taskRef)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, resolveResponse{Task: match.Task, Strategy: string(match.Strategy)})
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	taskRef := chi.URLParam(r, "taskRef")

	var patch task.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if patch.IsZero() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "empty patch", nil)
		return
	}

	optimistic, err := h.coordinator.Update(ctx, projectID, taskRef, patch)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, optimistic)
}

type syncStatusResponse struct {
	TaskID string          `json:"taskId"`
	Status task.SyncStatus `json:"status"`
}

func (h *Handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	taskID := chi.URLParam(r, "taskID")

	status, ok := h.coordinator.Status(projectID, taskID)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "no update recorded for task", nil)
		return
	}
	cerr.SetJSONResponse(ctx, syncStatusResponse{TaskID: taskID, Status: status})
}

func (h *Handlers) seed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	created, err := h.seeder.Seed(ctx, projectID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, map[string]any{"created": created})
}

func (h *Handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	h.resolver.ClearCache(projectID)
	cerr.SetJSONResponse(ctx, map[string]string{"cleared": projectID})
}
