package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver: pgx

	"github.com/hollis-dev/quarry/internal/config"
	"github.com/hollis-dev/quarry/internal/platform/postgres"
	"github.com/hollis-dev/quarry/internal/platform/sqlite"
	"github.com/hollis-dev/quarry/internal/store"
)

// openTaskStore opens the configured database and returns a ready TaskStore.
// Postgres deployments get embedded goose migrations; sqlite applies its
// schema directly.
func openTaskStore(ctx context.Context, cfg config.DatabaseConfig) (store.TaskStore, *sql.DB, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewTaskStore(db), db, nil

	case "sqlite":
		taskStore, db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return taskStore, db, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
