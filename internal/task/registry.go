package task

import (
	"fmt"
	"sync"

	"github.com/hollis-dev/quarry/internal/domain"
)

// Registry maps task types to the processors that execute them. It is the
// capability-lookup table consulted at submission time (to reject unknown
// types) and at dispatch time (to resolve the handler).
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.TaskType]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.TaskType]Processor),
	}
}

// Register associates a processor with a task type. Registering the same
// type twice is a configuration mistake and returns ErrProcessorRegistered.
func (r *Registry) Register(taskType domain.TaskType, processor Processor) error {
	if taskType == "" {
		return domain.ErrEmptyTaskType
	}
	if processor == nil {
		return fmt.Errorf("processor for type %q must not be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[taskType]; exists {
		return fmt.Errorf("%w: %q", ErrProcessorRegistered, taskType)
	}
	r.processors[taskType] = processor
	return nil
}

// Get returns the processor registered for the given type, or nil if the
// type is unknown.
func (r *Registry) Get(taskType domain.TaskType) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processors[taskType]
}

// Has reports whether a processor is registered for the given type.
func (r *Registry) Has(taskType domain.TaskType) bool {
	return r.Get(taskType) != nil
}

// Types returns the registered task types in no particular order.
func (r *Registry) Types() []domain.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.TaskType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}
