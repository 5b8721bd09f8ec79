package api

import (
	"encoding/json"
	"time"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/task"
)

// SubmitTaskRequest is the request body for creating a task.
type SubmitTaskRequest struct {
	Type     string         `json:"type"     validate:"required,max=100"`
	Payload  map[string]any `json:"payload"`
	Name     string         `json:"name"     validate:"max=200"`
	Priority int            `json:"priority" validate:"min=-100,max=100"`
}

// SubmitTaskResponse is returned on successful submission. The task runs
// asynchronously; the id is the handle for later status reads.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse is the JSON shape of a durable task record.
type TaskResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Progress     float64         `json:"progress"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TaskListResponse wraps a page of task records.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// taskResponseFromRecord maps a domain record to its response shape.
func taskResponseFromRecord(record *domain.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:           record.ID.String(),
		Type:         string(record.Type),
		Status:       string(record.Status),
		Payload:      json.RawMessage(record.Payload),
		Progress:     record.Progress,
		ErrorMessage: record.ErrorMessage,
		Priority:     record.Priority,
		CreatedAt:    record.CreatedAt,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
	}
}

// StatusResponse is the JSON shape of a live task view.
type StatusResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	Message      string     `json:"message,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       any        `json:"result,omitempty"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// statusResponseFromView maps a queue view to its response shape.
func statusResponseFromView(view *task.TaskView) StatusResponse {
	return StatusResponse{
		ID:           view.ID.String(),
		Type:         string(view.Type),
		Status:       string(view.Status),
		Progress:     view.Progress,
		Message:      view.Message,
		ErrorMessage: view.ErrorMessage,
		Result:       view.Result,
		Priority:     view.Priority,
		CreatedAt:    view.CreatedAt,
		StartedAt:    view.StartedAt,
		CompletedAt:  view.CompletedAt,
	}
}
