package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/events"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 5 * time.Millisecond
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, mockStore *MockTaskStore, maxConcurrent int) (*Queue, *Registry) {
	t.Helper()

	registry := NewRegistry()
	q := NewQueue(mockStore, registry, QueueConfig{
		MaxConcurrentTasks: maxConcurrent,
		PollInterval:       10 * time.Millisecond,
		CleanupInterval:    time.Hour,
		Retention:          24 * time.Hour,
	}, newTestLogger())
	return q, registry
}

// startQueue starts q and registers a cleanup stop.
func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	require.NoError(t, q.Start())
	t.Cleanup(q.Stop)
}

// waitForStatus blocks until the stored record reaches the given status.
func waitForStatus(t *testing.T, mockStore *MockTaskStore, id uuid.UUID, status domain.TaskStatus) *domain.TaskRecord {
	t.Helper()

	var record *domain.TaskRecord
	require.Eventually(t, func() bool {
		snapshot, ok := mockStore.Snapshot(id)
		if !ok || snapshot.Status != status {
			return false
		}
		record = snapshot
		return true
	}, waitTimeout, waitTick, "task %s never reached status %s", id, status)
	return record
}

func TestQueueSubmitUnknownType(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, _ := newTestQueue(t, mockStore, 1)

	_, err := q.Submit(context.Background(), "nonexistent", nil, "", 0)
	require.ErrorIs(t, err, domain.ErrUnknownTaskType)

	// No record may be written for a rejected submission.
	stats, err := mockStore.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestQueueSubmitPersistsPendingRecord(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeDocument, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, nil
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeDocument,
		map[string]any{"path": "a.pdf"}, "ingest a.pdf", 3)
	require.NoError(t, err)

	record, ok := mockStore.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, record.Status)
	assert.Equal(t, 3, record.Priority)
	assert.JSONEq(t, `{"path":"a.pdf"}`, string(record.Payload))

	// Submitted tasks are readable immediately, before any dispatch.
	view, err := q.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, view.Status)
	assert.Equal(t, "ingest a.pdf", view.Message)
}

func TestQueueExecutesTaskToSuccess(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeDocument, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			progress(50, "halfway")
			return map[string]any{"chunks": 7}, nil
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeDocument, nil, "", 0)
	require.NoError(t, err)
	startQueue(t, q)

	record := waitForStatus(t, mockStore, id, domain.TaskStatusSuccess)
	assert.Equal(t, 100.0, record.Progress)
	assert.Empty(t, record.ErrorMessage)
	assert.NotNil(t, record.StartedAt)
	assert.NotNil(t, record.CompletedAt)
	assert.Empty(t, record.LockID, "lock must be released after completion")

	view, err := q.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, view.Status)
	assert.Equal(t, map[string]any{"chunks": 7}, view.Result)
}

func TestQueueExecutesTaskToFailure(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeGraph, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, errors.New("graph build exploded")
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeGraph, nil, "", 0)
	require.NoError(t, err)
	startQueue(t, q)

	record := waitForStatus(t, mockStore, id, domain.TaskStatusFailed)
	assert.Equal(t, "graph build exploded", record.ErrorMessage)
	assert.Empty(t, record.LockID)
}

func TestQueueProcessorPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeSchema, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			panic("schema processor bug")
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeSchema, nil, "", 0)
	require.NoError(t, err)
	startQueue(t, q)

	record := waitForStatus(t, mockStore, id, domain.TaskStatusFailed)
	assert.Contains(t, record.ErrorMessage, "processor panicked")
	assert.Contains(t, record.ErrorMessage, "schema processor bug")
}

func TestQueueConcurrencyBoundIsStrict(t *testing.T) {
	t.Parallel()

	const maxConcurrent = 2
	const submitted = 5

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, maxConcurrent)

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})

	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			<-release

			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		})))

	ids := make([]uuid.UUID, 0, submitted)
	for i := 0; i < submitted; i++ {
		id, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	startQueue(t, q)

	// The bound fills up and holds there over several poll ticks.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == maxConcurrent
	}, waitTimeout, waitTick)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, maxConcurrent, running)
	assert.LessOrEqual(t, peak, maxConcurrent,
		"execution units in flight must never exceed the configured bound")
	mu.Unlock()

	close(release)
	for _, id := range ids {
		waitForStatus(t, mockStore, id, domain.TaskStatusSuccess)
	}

	mu.Lock()
	assert.LessOrEqual(t, peak, maxConcurrent)
	mu.Unlock()
}

func TestQueueDispatchOrder(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)

	var mu sync.Mutex
	var order []int

	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			mu.Lock()
			order = append(order, record.Priority)
			mu.Unlock()
			return nil, nil
		})))

	// Stagger creation times so the tiebreaker is deterministic.
	for _, priority := range []int{1, 5, 2} {
		_, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", priority)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	startQueue(t, q)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, waitTimeout, waitTick)

	mu.Lock()
	assert.Equal(t, []int{5, 2, 1}, order,
		"dequeue order is priority descending, then creation ascending")
	mu.Unlock()
}

func TestQueueCancelRunningTask(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)

	started := make(chan struct{})
	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", 0)
	require.NoError(t, err)
	startQueue(t, q)

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("task never started")
	}

	cancelled, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	record := waitForStatus(t, mockStore, id, domain.TaskStatusCancelled)
	assert.Empty(t, record.LockID)
}

func TestQueueCancelPendingTask(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, nil
		})))

	// Queue not started: the record stays pending.
	id, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", 0)
	require.NoError(t, err)

	cancelled, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	record, ok := mockStore.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, record.Status)
	assert.Nil(t, record.StartedAt, "a cancelled pending task never starts")
}

func TestQueueCancelReturnsFalseForUnknownAndTerminal(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, _ := newTestQueue(t, mockStore, 1)

	cancelled, err := q.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, cancelled, "unknown task is not cancellable")

	done := domain.NewTaskRecord(domain.TaskTypeBatch, nil, 0, 0)
	done.Status = domain.TaskStatusSuccess
	mockStore.Seed(done)

	cancelled, err = q.Cancel(context.Background(), done.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "terminal task is not cancellable")

	record, ok := mockStore.Snapshot(done.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusSuccess, record.Status, "cancel must not mutate terminal records")
}

func TestQueueRecoveryFailsOrphanedTasks(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()

	orphan := domain.NewTaskRecord(domain.TaskTypeDocument, nil, 0, 0)
	orphan.Status = domain.TaskStatusProcessing
	orphan.LockID = "dead-worker"
	mockStore.Seed(orphan)

	pending := domain.NewTaskRecord(domain.TaskTypeDocument, nil, 0, 0)
	mockStore.Seed(pending)

	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeDocument, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, nil
		})))
	startQueue(t, q)

	// The orphan is failed during Start, before any dispatch.
	record, ok := mockStore.Snapshot(orphan.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "orphaned")

	// The pending record survives recovery and runs normally.
	waitForStatus(t, mockStore, pending.ID, domain.TaskStatusSuccess)
}

func TestQueueStartTwice(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, NewMockTaskStore(), 1)
	startQueue(t, q)
	assert.ErrorIs(t, q.Start(), ErrQueueStarted)
}

func TestQueueStopCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)

	started := make(chan struct{})
	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", 0)
	require.NoError(t, err)
	require.NoError(t, q.Start())

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("task never started")
	}

	// Stop returns only after the unit reached a terminal state.
	q.Stop()

	record, ok := mockStore.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, record.Status)
	assert.Empty(t, record.LockID)
}

func TestQueueSkipsRecordsLockedByOtherWorkers(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()

	locked := domain.NewTaskRecord(domain.TaskTypeBatch, nil, 0, 0)
	locked.LockID = "other-worker"
	mockStore.Seed(locked)

	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, nil
		})))
	startQueue(t, q)

	// Give the dispatch loop several ticks; the foreign lock must hold.
	time.Sleep(100 * time.Millisecond)

	record, ok := mockStore.Snapshot(locked.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, record.Status)
	assert.Equal(t, "other-worker", record.LockID)
}

func TestQueueProgressWritesThrough(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)

	recorder := &eventRecorder{}
	emitter := events.NewInMemoryStatusEmitter(newTestLogger())
	emitter.RegisterHandler(recorder)
	q.SetStatusEmitter(emitter)

	require.NoError(t, registry.Register(domain.TaskTypeDocument, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			progress(25, "parsing")
			progress(150, "overshoot is clamped")
			return nil, nil
		})))

	id, err := q.Submit(context.Background(), domain.TaskTypeDocument, nil, "", 0)
	require.NoError(t, err)
	startQueue(t, q)

	waitForStatus(t, mockStore, id, domain.TaskStatusSuccess)

	progressEvents := recorder.byStatus(domain.TaskStatusProcessing)
	require.NotEmpty(t, progressEvents)

	var seen25, seen100 bool
	for _, event := range progressEvents {
		assert.GreaterOrEqual(t, event.Progress, 0.0)
		assert.LessOrEqual(t, event.Progress, 100.0)
		if event.Progress == 25 {
			seen25 = true
		}
		if event.Progress == 100 {
			seen100 = true
		}
	}
	assert.True(t, seen25, "intermediate progress must be emitted")
	assert.True(t, seen100, "clamped progress must cap at 100")

	// Every durable mutation fires the hook, including the terminal one.
	require.NotEmpty(t, recorder.byStatus(domain.TaskStatusSuccess))
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, registry := newTestQueue(t, mockStore, 1)
	require.NoError(t, registry.Register(domain.TaskTypeBatch, ProcessorFunc(
		func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
			return nil, nil
		})))

	for i := 0; i < 3; i++ {
		_, err := q.Submit(context.Background(), domain.TaskTypeBatch, nil, "", 0)
		require.NoError(t, err)
	}

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Store.Total)
	assert.Equal(t, 3, stats.Store.ByStatus[domain.TaskStatusPending])
	assert.Equal(t, 0, stats.LocalRunning)
	assert.Equal(t, 3, stats.Cached)
}

func TestQueueGetStatusFallsBackToStore(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, _ := newTestQueue(t, mockStore, 1)

	record := domain.NewTaskRecord(domain.TaskTypeGraph, nil, 2, 0)
	mockStore.Seed(record)

	// Not in the cache: first read hits the store.
	view, err := q.GetStatus(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, view.ID)
	assert.Equal(t, domain.TaskStatusPending, view.Status)
	assert.Equal(t, 2, view.Priority)
}

func TestQueueGetStatusRefreshesForeignUpdates(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	q, _ := newTestQueue(t, mockStore, 1)
	ctx := context.Background()

	record := domain.NewTaskRecord(domain.TaskTypeGraph, nil, 0, 0)
	mockStore.Seed(record)

	view, err := q.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, view.Status)

	// Another worker claims the task and advances it. The local cache must
	// not pin the first observed status.
	now := time.Now().UTC()
	record.Status = domain.TaskStatusProcessing
	record.LockID = "other-worker"
	record.Progress = 40
	record.StartedAt = &now
	mockStore.Seed(record)

	view, err = q.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, view.Status)
	assert.Equal(t, 40.0, view.Progress)

	record.Status = domain.TaskStatusSuccess
	record.Progress = 100
	record.LockID = ""
	record.CompletedAt = &now
	mockStore.Seed(record)

	view, err = q.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, view.Status)

	// Terminal views are cached: the read survives the record's retention
	// purge from the store.
	old := now.Add(-100 * 24 * time.Hour)
	record.CompletedAt = &old
	mockStore.Seed(record)
	removed, err := mockStore.CleanupOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	view, err = q.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, view.Status)
}

// eventRecorder captures status events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.StatusEvent
}

func (r *eventRecorder) HandleStatusEvent(ctx context.Context, event *events.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *eventRecorder) byStatus(status domain.TaskStatus) []events.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.StatusEvent
	for _, event := range r.events {
		if event.Status == status {
			matched = append(matched, event)
		}
	}
	return matched
}
