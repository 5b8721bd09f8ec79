package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hollis-dev/quarry/internal/api"
	"github.com/hollis-dev/quarry/internal/config"
	"github.com/hollis-dev/quarry/internal/events"
	"github.com/hollis-dev/quarry/internal/task"
)

// application holds the shared application dependencies so wiring and
// shutdown order live in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *task.Registry
	queue    *task.Queue
	emitter  *events.InMemoryStatusEmitter

	wsHandler    *api.WSHandler
	promRegistry *prometheus.Registry
}

// newApplication opens the database, runs migrations, and constructs the
// queue with its notification and metrics wiring. The queue is started here;
// cleanup stops it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	taskStore, db, err := openTaskStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.db = db
	logger.Info("task store ready", "driver", cfg.Database.Driver)

	app.registry = task.NewRegistry()
	if err := registerProcessors(app.registry, logger); err != nil {
		return nil, fmt.Errorf("failed to register processors: %w", err)
	}

	app.emitter = events.NewInMemoryStatusEmitter(logger)
	app.wsHandler = api.NewWSHandler(logger)
	app.emitter.RegisterHandler(app.wsHandler)

	app.promRegistry = prometheus.NewRegistry()

	app.queue = task.NewQueue(taskStore, app.registry, task.QueueConfig{
		MaxConcurrentTasks: cfg.Queue.MaxConcurrentTasks,
		PollInterval:       cfg.Queue.PollInterval(),
		CleanupInterval:    cfg.Queue.CleanupInterval(),
		Retention:          cfg.Queue.Retention(),
		MaxPayloadBytes:    cfg.Queue.MaxPayloadSizeBytes,
		CacheMaxTerminal:   cfg.Queue.CacheMaxTerminal,
	}, logger)
	app.queue.SetStatusEmitter(app.emitter)
	app.queue.SetMetrics(task.NewMetrics(app.promRegistry))

	if err := app.queue.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task queue: %w", err)
	}

	logger.Info("application initialized",
		"task_types", app.registry.Types(),
		"worker_id", app.queue.WorkerID())
	return app, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases application resources in reverse dependency order: the
// queue first so execution units finish their terminal writes, then the
// WebSocket clients, then the database.
func (app *application) cleanup() {
	if app.queue != nil {
		app.queue.Stop()
	}
	if app.wsHandler != nil {
		app.wsHandler.Close()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
