package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/task"
)

// registerProcessors wires the processors this binary ships with. Real
// deployments embed the engine and register their own document, graph, and
// schema processors here; the standalone server carries only the batch echo
// processor so the API surface is exercisable end to end.
func registerProcessors(registry *task.Registry, logger *slog.Logger) error {
	return registry.Register(domain.TaskTypeBatch, newEchoProcessor(logger))
}

// newEchoProcessor returns a processor that decodes its payload, reports
// progress, and returns the decoded payload as the result. It honors ctx so
// cancellation works against it.
func newEchoProcessor(logger *slog.Logger) task.Processor {
	log := logger.With("component", "echo_processor")

	return task.ProcessorFunc(func(
		ctx context.Context,
		record *domain.TaskRecord,
		progress task.ProgressFunc,
	) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(10, "decoding payload")

		var payload map[string]any
		if len(record.Payload) > 0 {
			if err := json.Unmarshal(record.Payload, &payload); err != nil {
				return nil, err
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(90, "echoing payload")

		log.Debug("echo task processed",
			"task_id", record.ID,
			"payload_keys", len(payload))
		return payload, nil
	})
}
