package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/platform/postgres"
	"github.com/hollis-dev/quarry/internal/store"
	"github.com/hollis-dev/quarry/internal/testdb"
)

// These tests need a real PostgreSQL instance and skip unless DATABASE_URL
// is set. The hermetic equivalent of this contract lives in the sqlite
// package's test suite.

func TestPostgresTaskStoreLifecycle(t *testing.T) {
	db := testdb.MustOpen(t)
	testdb.Reset(t, db)

	s := postgres.NewTaskStore(db)
	ctx := context.Background()

	record := domain.NewTaskRecord(domain.TaskTypeDocument, map[string]any{"path": "doc.pdf"}, 3, 0)
	require.NoError(t, s.Create(ctx, record))

	// Duplicate ids are refused.
	assert.ErrorIs(t, s.Create(ctx, record), store.ErrTaskIDExists)

	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 3, got.Priority)
	assert.JSONEq(t, `{"path":"doc.pdf"}`, string(got.Payload))

	// Claim, process, progress, finish.
	ok, err := s.AcquireLock(ctx, record.ID, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, record.ID, "worker-b")
	require.NoError(t, err)
	assert.False(t, ok, "foreign lock must be refused")

	ok, err = s.UpdateStatus(ctx, record.ID, domain.TaskStatusProcessing, "", nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UpdateProgress(ctx, record.ID, 60)
	require.NoError(t, err)
	require.True(t, ok)

	done := 100.0
	ok, err = s.UpdateStatus(ctx, record.ID, domain.TaskStatusSuccess, "", &done)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ReleaseLock(ctx, record.ID, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LockID)

	// Terminal records accept no further transitions.
	ok, err = s.UpdateStatus(ctx, record.ID, domain.TaskStatusFailed, "late", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresTaskStoreDequeueOrderAndCleanup(t *testing.T) {
	db := testdb.MustOpen(t)
	testdb.Reset(t, db)

	s := postgres.NewTaskStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	mk := func(priority int, offset time.Duration) uuid.UUID {
		record := domain.NewTaskRecord(domain.TaskTypeBatch, nil, priority, 0)
		record.CreatedAt = base.Add(offset)
		require.NoError(t, s.Create(ctx, record))
		return record.ID
	}

	low := mk(1, 0)
	highEarly := mk(5, time.Second)
	highLate := mk(5, 2*time.Second)

	records, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uuid.UUID{highEarly, highLate, low},
		[]uuid.UUID{records[0].ID, records[1].ID, records[2].ID})

	// Finish one task long ago and sweep it.
	ok, err := s.UpdateStatus(ctx, low, domain.TaskStatusProcessing, "", nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.UpdateStatus(ctx, low, domain.TaskStatusSuccess, "", nil)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = db.Exec("UPDATE tasks SET completed_at = $1 WHERE id = $2",
		time.Now().UTC().Add(-72*time.Hour), low)
	require.NoError(t, err)

	removed, err := s.CleanupOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, low)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[domain.TaskStatusPending])
}
