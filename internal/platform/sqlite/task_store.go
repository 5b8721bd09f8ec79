package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/platform/logger"
	"github.com/hollis-dev/quarry/internal/store"
)

// schema is the embedded-mode DDL for the tasks table. The postgres
// deployment path manages the equivalent schema through goose migrations.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       TEXT,
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME,
	error_message TEXT,
	progress      REAL NOT NULL DEFAULT 0,
	lock_id       TEXT,
	priority      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_status     ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_type       ON tasks (type);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_priority   ON tasks (priority DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_lock_id    ON tasks (lock_id);
`

// taskColumns is the select list shared by every task query.
const taskColumns = `id, type, status, payload, created_at, started_at,
	completed_at, error_message, progress, lock_id, priority`

// TaskStore implements the store.TaskStore interface using SQLite.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new SQLite-backed TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// Open opens (creating if necessary) a SQLite database at path, applies the
// task schema, and returns a ready store together with the handle. SQLite
// allows one writer at a time, so the connection pool is capped at a single
// connection to avoid SQLITE_BUSY churn under concurrent execution units.
func Open(path string) (*TaskStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := NewTaskStore(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// EnsureSchema creates the tasks table and its indexes if missing.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return store.NewStoreError("task", "ensure_schema", "ddl failed", err)
	}
	return nil
}

// WithTx returns a TaskStore that runs its operations on the given
// transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

// Create persists a new task record.
func (s *TaskStore) Create(ctx context.Context, record *domain.TaskRecord) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	query := `
		INSERT INTO tasks (id, type, status, payload, created_at, progress, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Type,
		record.Status,
		record.Payload,
		record.CreatedAt.UTC(),
		record.Progress,
		record.Priority,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrTaskIDExists
		}
		log.Error("failed to save task",
			"task_id", record.ID,
			"task_type", record.Type,
			"error", err)
		return store.NewStoreError("task", "create", "insert failed", err)
	}

	return nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	record, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStoreError("task", "get", "query failed", err)
	}
	return record, nil
}

// UpdateStatus applies a forward-only status transition, guarded in the
// WHERE clause exactly like the postgres implementation.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	errorMessage string,
	progress *float64,
) (bool, error) {
	log := logger.FromContext(ctx)

	var query string
	switch {
	case status == domain.TaskStatusProcessing:
		query = `
			UPDATE tasks
			SET status = ?,
			    error_message = NULLIF(?, ''),
			    progress = COALESCE(?, progress),
			    started_at = COALESCE(started_at, ?)
			WHERE id = ? AND status = 'pending'
		`
	case status.IsTerminal():
		query = `
			UPDATE tasks
			SET status = ?,
			    error_message = NULLIF(?, ''),
			    progress = COALESCE(?, progress),
			    completed_at = COALESCE(completed_at, ?)
			WHERE id = ? AND status IN ('pending', 'processing')
		`
	default:
		return false, fmt.Errorf("%w: cannot transition to %q", domain.ErrInvalidTransition, status)
	}

	result, err := s.db.ExecContext(ctx, query,
		status,
		errorMessage,
		nullFloat(progress),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id,
			"status", status,
			"error", err)
		return false, store.NewStoreError("task", "update_status", "update failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("task", "update_status", "rows affected", err)
	}
	return affected > 0, nil
}

// UpdateProgress writes only the progress column for a processing task.
func (s *TaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress float64) (bool, error) {
	query := `UPDATE tasks SET progress = ? WHERE id = ? AND status = 'processing'`

	result, err := s.db.ExecContext(ctx, query, progress, id)
	if err != nil {
		return false, store.NewStoreError("task", "update_progress", "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("task", "update_progress", "rows affected", err)
	}
	return affected > 0, nil
}

// RecoverOrphans fails every record still marked processing in one
// transaction, so a crash mid-recovery cannot commit a partially failed
// batch.
func (s *TaskStore) RecoverOrphans(ctx context.Context, errorMessage string) ([]*domain.TaskRecord, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		// Already running on a caller-managed transaction.
		return s.failProcessing(ctx, errorMessage)
	}

	var recovered []*domain.TaskRecord
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var txErr error
		recovered, txErr = s.WithTx(tx).failProcessing(ctx, errorMessage)
		return txErr
	})
	return recovered, err
}

// failProcessing moves every processing record to failed on the store's
// current connection, returning the records it moved.
func (s *TaskStore) failProcessing(ctx context.Context, errorMessage string) ([]*domain.TaskRecord, error) {
	processing := domain.TaskStatusProcessing
	records, err := s.List(ctx, store.ListFilter{Status: &processing})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	recovered := make([]*domain.TaskRecord, 0, len(records))
	for _, record := range records {
		affected, err := s.UpdateStatus(ctx, record.ID, domain.TaskStatusFailed, errorMessage, nil)
		if err != nil {
			return nil, err
		}
		if !affected {
			continue
		}
		record.Status = domain.TaskStatusFailed
		record.ErrorMessage = errorMessage
		if record.CompletedAt == nil {
			record.CompletedAt = &now
		}
		recovered = append(recovered, record)
	}
	return recovered, nil
}

// AcquireLock atomically claims the task for workerID.
func (s *TaskStore) AcquireLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	query := `
		UPDATE tasks
		SET lock_id = ?
		WHERE id = ? AND (lock_id IS NULL OR lock_id = '' OR lock_id = ?)
	`
	result, err := s.db.ExecContext(ctx, query, workerID, id, workerID)
	if err != nil {
		return false, store.NewStoreError("task", "acquire_lock", "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("task", "acquire_lock", "rows affected", err)
	}
	return affected > 0, nil
}

// ReleaseLock clears the lock only if workerID currently owns it.
func (s *TaskStore) ReleaseLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	query := `UPDATE tasks SET lock_id = NULL WHERE id = ? AND lock_id = ?`

	result, err := s.db.ExecContext(ctx, query, id, workerID)
	if err != nil {
		return false, store.NewStoreError("task", "release_lock", "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("task", "release_lock", "rows affected", err)
	}
	return affected > 0, nil
}

// ListPending returns up to limit pending tasks ordered by priority
// descending, then creation time ascending.
func (s *TaskStore) ListPending(ctx context.Context, limit int) ([]*domain.TaskRecord, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryTasks(ctx, query, args...)
}

// List returns tasks matching the filter, newest first.
func (s *TaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	var where []string

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, *filter.Type)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite requires a LIMIT clause before OFFSET.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return s.queryTasks(ctx, query, args...)
}

// Stats returns task counts grouped by status.
func (s *TaskStore) Stats(ctx context.Context) (store.Stats, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return store.Stats{}, store.NewStoreError("task", "stats", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	stats := store.Stats{ByStatus: make(map[domain.TaskStatus]int)}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return store.Stats{}, store.NewStoreError("task", "stats", "scan failed", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return store.Stats{}, store.NewStoreError("task", "stats", "row iteration failed", err)
	}
	return stats, nil
}

// CleanupOld deletes terminal records whose completion is older than the
// retention window.
func (s *TaskStore) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		DELETE FROM tasks
		WHERE status IN ('success', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
	`
	cutoff := time.Now().UTC().Add(-retention)

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		log.Error("failed to clean up old tasks", "error", err)
		return 0, store.NewStoreError("task", "cleanup_old", "delete failed", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("task", "cleanup_old", "rows affected", err)
	}
	return removed, nil
}

// queryTasks runs a select over the task columns and scans all rows.
func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "scan failed", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "row iteration failed", err)
	}
	return records, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row into a domain record.
func scanTask(row rowScanner) (*domain.TaskRecord, error) {
	var record domain.TaskRecord
	var startedAt, completedAt sql.NullTime
	var payload, errorMessage, lockID sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.Type,
		&record.Status,
		&payload,
		&record.CreatedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&record.Progress,
		&lockID,
		&record.Priority,
	); err != nil {
		return nil, err
	}

	if payload.Valid {
		record.Payload = []byte(payload.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		record.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	record.ErrorMessage = errorMessage.String
	record.LockID = lockID.String

	return &record, nil
}

// isUniqueViolation detects a SQLite primary-key or unique-index violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullFloat converts an optional progress value for a nullable parameter.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Ensure TaskStore implements store.TaskStore.
var _ store.TaskStore = (*TaskStore)(nil)
