// Package store provides abstractions and implementations for data persistence.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hollis-dev/quarry/internal/domain"
)

// ListFilter narrows List results. Nil fields match everything.
type ListFilter struct {
	Status *domain.TaskStatus
	Type   *domain.TaskType
	Limit  int
	Offset int
}

// Stats holds per-status task counts for observability.
type Stats struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

// TaskStore is the sole authority for durable task state. Implementations
// must be safe for concurrent use and safe to share across multiple worker
// processes: AcquireLock is the only cross-process mutual-exclusion
// primitive, so it must be an atomic conditional update.
type TaskStore interface {
	// Create persists a new pending record. The record's payload has
	// already been encoded (and possibly degraded) by the domain layer, so
	// creation never fails on payload problems.
	Create(ctx context.Context, record *domain.TaskRecord) error

	// Get returns the record with the given id, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)

	// UpdateStatus moves a record to the given status. started_at is set
	// the first time a record enters processing and completed_at is set on
	// entering any terminal status. progress, when non-nil, is written with
	// the status. Returns whether a row was affected.
	UpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		status domain.TaskStatus,
		errorMessage string,
		progress *float64,
	) (bool, error)

	// UpdateProgress writes only the progress column, leaving the status
	// untouched. Used by the processor progress callback.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress float64) (bool, error)

	// RecoverOrphans fails every record still marked processing, recording
	// errorMessage on each, and returns the records it moved. The batch is
	// atomic: a crash mid-recovery leaves no half-failed set behind. Meant
	// for startup, before dispatch begins — a processing record with no
	// execution unit behind it was orphaned by a prior crash.
	RecoverOrphans(ctx context.Context, errorMessage string) ([]*domain.TaskRecord, error)

	// AcquireLock atomically claims the record for workerID. It succeeds
	// iff the lock column is empty or already holds workerID (reacquiring
	// an owned lock is idempotent).
	AcquireLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error)

	// ReleaseLock clears the lock column only if workerID currently owns
	// it. A non-owner release is a no-op returning false.
	ReleaseLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error)

	// ListPending returns up to limit pending records ordered by priority
	// descending, then creation time ascending (FIFO within a priority
	// tier).
	ListPending(ctx context.Context, limit int) ([]*domain.TaskRecord, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*domain.TaskRecord, error)

	// Stats returns task counts grouped by status.
	Stats(ctx context.Context) (Stats, error)

	// CleanupOld deletes terminal records whose completion is older than
	// the retention window. Pending and processing records are never
	// removed regardless of age. Returns the number of rows deleted.
	CleanupOld(ctx context.Context, retention time.Duration) (int64, error)
}
