// Package testdb provides helpers for integration tests that need a real
// PostgreSQL database. Tests call MustOpen, which skips unless DATABASE_URL
// (or QUARRY_TEST_DB_URL) points at a reachable instance, so the default
// test run stays hermetic.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/platform/postgres"
)

// connectTimeout bounds the initial ping and schema setup.
const connectTimeout = 10 * time.Second

// URL returns the test database URL, checking DATABASE_URL then
// QUARRY_TEST_DB_URL. Empty means integration tests should skip.
func URL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("QUARRY_TEST_DB_URL")
}

// MustOpen connects to the test database and applies migrations, skipping
// the test when no database is configured. The connection is closed when the
// test finishes.
func MustOpen(t *testing.T) *sql.DB {
	t.Helper()

	url := URL()
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	require.NoError(t, db.PingContext(ctx), "failed to connect to test database")
	require.NoError(t, postgres.RunMigrations(ctx, db), "failed to apply migrations")

	return db
}

// Reset truncates the tasks table so each test starts from a clean slate.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("TRUNCATE TABLE tasks")
	require.NoError(t, err, "failed to reset tasks table")
}
