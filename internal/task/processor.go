package task

import (
	"context"

	"github.com/hollis-dev/quarry/internal/domain"
)

// ProgressFunc reports processor progress. percent is conventionally 0-100
// and message is a short human-readable note. Processors may call it any
// number of times; each call is written through to the store and fans out to
// the notification hook.
type ProgressFunc func(percent float64, message string)

// Processor executes one kind of task. Implementations live outside the
// engine (document parsing, graph construction, schema extraction, batch
// ingestion) and are registered on a Registry by task type.
//
// Process must honor ctx cancellation to support cooperative cancellation;
// a processor that never checks ctx runs to completion even after Cancel.
// The returned result is kept in the in-process status cache for callers
// polling the task; it is not persisted.
type Processor interface {
	Process(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error)

// Process implements Processor.
func (f ProcessorFunc) Process(
	ctx context.Context,
	record *domain.TaskRecord,
	progress ProgressFunc,
) (any, error) {
	return f(ctx, record, progress)
}
