package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hollis-dev/quarry/internal/domain"
)

// StatusEvent describes one durable status or progress mutation of a task.
// It is fired after the mutation has been persisted, so subscribers observe
// only states that are also visible in the store.
type StatusEvent struct {
	// TaskID identifies the mutated task.
	TaskID uuid.UUID `json:"task_id"`

	// Status is the task's status after the mutation.
	Status domain.TaskStatus `json:"status"`

	// Progress is the task's progress after the mutation, 0-100.
	Progress float64 `json:"progress"`

	// Message is an optional human-readable note accompanying the change,
	// e.g. the text passed to the progress callback or an error message.
	Message string `json:"message,omitempty"`

	// OccurredAt is the timestamp when the event was emitted.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewStatusEvent creates a StatusEvent for the given task state.
func NewStatusEvent(
	taskID uuid.UUID,
	status domain.TaskStatus,
	progress float64,
	message string,
) *StatusEvent {
	return &StatusEvent{
		TaskID:     taskID,
		Status:     status,
		Progress:   progress,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// StatusHandler defines an interface for components that react to task
// status changes, such as the WebSocket push layer.
type StatusHandler interface {
	// HandleStatusEvent processes the given event within the provided
	// context. Returns an error if the event cannot be handled.
	HandleStatusEvent(ctx context.Context, event *StatusEvent) error
}

// StatusEmitter defines an interface for components that publish status
// events. This allows the queue to notify subscribers without direct
// knowledge of them.
type StatusEmitter interface {
	// EmitStatusEvent publishes the given event to all registered
	// handlers. Returns an error if the event cannot be emitted.
	EmitStatusEvent(ctx context.Context, event *StatusEvent) error
}
