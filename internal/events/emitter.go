package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryStatusEmitter is a simple implementation of the StatusEmitter
// interface that stores registered handlers in memory and dispatches events
// to them synchronously.
type InMemoryStatusEmitter struct {
	handlers []StatusHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryStatusEmitter creates a new instance of InMemoryStatusEmitter.
func NewInMemoryStatusEmitter(logger *slog.Logger) *InMemoryStatusEmitter {
	return &InMemoryStatusEmitter{
		handlers: make([]StatusHandler, 0),
		logger:   logger.With("component", "status_emitter"),
	}
}

// RegisterHandler adds a new handler to receive status events.
func (e *InMemoryStatusEmitter) RegisterHandler(handler StatusHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered status handler", "handler_count", len(e.handlers))
}

// EmitStatusEvent publishes the given event to all registered handlers.
// If a handler returns an error, the event is still delivered to the
// remaining handlers and the first error encountered is returned.
func (e *InMemoryStatusEmitter) EmitStatusEvent(ctx context.Context, event *StatusEvent) error {
	e.mu.RLock()
	handlers := make([]StatusHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleStatusEvent(ctx, event); err != nil {
			e.logger.Error("status handler failed",
				"error", err,
				"handler_index", i,
				"task_id", event.TaskID,
				"status", event.Status)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Ensure InMemoryStatusEmitter implements StatusEmitter.
var _ StatusEmitter = (*InMemoryStatusEmitter)(nil)
