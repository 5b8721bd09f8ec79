package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hollis-dev/quarry/internal/api/shared"
	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/store"
	"github.com/hollis-dev/quarry/internal/task"
)

// TaskService is the queue surface the handlers depend on. *task.Queue
// satisfies it; tests substitute a mock.
type TaskService interface {
	Submit(
		ctx context.Context,
		taskType domain.TaskType,
		payload map[string]any,
		name string,
		priority int,
	) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*task.TaskView, error)
	List(ctx context.Context, filter store.ListFilter) ([]*domain.TaskRecord, error)
	Stats(ctx context.Context) (task.QueueStats, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

// TaskHandler serves the /api/tasks endpoints.
type TaskHandler struct {
	service TaskService
}

// NewTaskHandler creates a new TaskHandler with the given service.
func NewTaskHandler(service TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

// SubmitTask handles POST /api/tasks. The task is persisted and scheduled
// asynchronously, so a successful submission returns 202 Accepted.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	id, err := h.service.Submit(r.Context(), domain.TaskType(req.Type), req.Payload, req.Name, req.Priority)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTaskType) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to submit task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id.String(),
		Status: string(domain.TaskStatusPending),
	})
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statusResponseFromView(view))
}

// ListTasks handles GET /api/tasks with optional status, type, limit, and
// offset query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{Limit: 50}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		if !status.IsValid() {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		taskType := domain.TaskType(raw)
		filter.Type = &taskType
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		filter.Offset = offset
	}

	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to list tasks", err)
		return
	}

	tasks := make([]TaskResponse, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, taskResponseFromRecord(record))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks: tasks,
		Count: len(tasks),
	})
}

// GetStats handles GET /api/tasks/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load task stats", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// CancelTask handles DELETE /api/tasks/{id}. Cancellation is cooperative: a
// running task is signalled and finishes on its own schedule, a pending task
// is cancelled in place. Tasks that already reached a terminal state cannot
// be cancelled and yield 409.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to cancel task", err)
		return
	}
	if cancelled {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Distinguish an unknown task from one that is no longer cancellable.
	if _, err := h.service.GetStatus(r.Context(), id); err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to cancel task", err)
		return
	}
	shared.RespondWithError(w, r, http.StatusConflict, "Task is not cancellable")
}

// taskIDParam parses the {id} route parameter, writing a 400 on failure.
func (h *TaskHandler) taskIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}
