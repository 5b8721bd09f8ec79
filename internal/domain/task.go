package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task record.
type TaskStatus string

// Possible task status values. The set is closed: transitions only move
// forward (pending -> processing -> terminal) and terminal records are never
// mutated again except by retention cleanup.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether the status is a member of the closed status set.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing,
		TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record may move from s to next.
// Retrying a failed or cancelled task is deliberately not a transition:
// a retry is a new record with a fresh id, keeping the original as an
// audit artifact.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing ||
			next == TaskStatusFailed ||
			next == TaskStatusCancelled
	case TaskStatusProcessing:
		return next.IsTerminal()
	default:
		// Terminal states accept no further transitions.
		return false
	}
}

// TaskType identifies the kind of work a task performs. The set is extensible
// by registering a processor; a type with no registered processor is rejected
// at submission time.
type TaskType string

// Task types known to the service. Processors for these are registered by the
// (out of scope) ingestion and query layers.
const (
	TaskTypeDocument TaskType = "document"
	TaskTypeGraph    TaskType = "graph"
	TaskTypeSchema   TaskType = "schema"
	TaskTypeBatch    TaskType = "batch"
)

// TaskRecord is the durable representation of one background job. One row per
// job; the relational store is the sole source of truth for it.
type TaskRecord struct {
	ID           uuid.UUID  `json:"id"`
	Type         TaskType   `json:"type"`
	Status       TaskStatus `json:"status"`
	Payload      []byte     `json:"payload,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Progress     float64    `json:"progress"`
	LockID       string     `json:"lock_id,omitempty"`
	Priority     int        `json:"priority"`
}

// NewTaskRecord creates a pending TaskRecord for the given type and payload.
// The payload map is serialized with EncodePayload, which degrades oversized
// or unserializable payloads to a diagnostic stub instead of failing, so
// record creation never aborts on payload problems.
func NewTaskRecord(
	taskType TaskType,
	payload map[string]any,
	priority int,
	maxPayloadBytes int,
) *TaskRecord {
	return &TaskRecord{
		ID:        uuid.New(),
		Type:      taskType,
		Status:    TaskStatusPending,
		Payload:   EncodePayload(payload, maxPayloadBytes),
		CreatedAt: time.Now().UTC(),
		Progress:  0,
		Priority:  priority,
	}
}

// Validate checks structural invariants of the record.
func (t *TaskRecord) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Type == "" {
		return ErrEmptyTaskType
	}
	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}
	return nil
}
