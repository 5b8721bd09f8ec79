package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/events"
	"github.com/hollis-dev/quarry/internal/platform/logger"
	"github.com/hollis-dev/quarry/internal/store"
)

// orphanedTaskMessage is recorded on tasks found in the processing state at
// startup. The engine never resumes partial work; the caller resubmits.
const orphanedTaskMessage = "task orphaned by process restart; partial work is " +
	"not resumed, resubmit to retry"

// QueueConfig holds tuning knobs for the queue orchestrator.
type QueueConfig struct {
	// MaxConcurrentTasks bounds simultaneously executing units, counting
	// ones still in flight from prior polls.
	MaxConcurrentTasks int

	// PollInterval is the dispatch loop interval.
	PollInterval time.Duration

	// CleanupInterval is the retention sweep interval.
	CleanupInterval time.Duration

	// Retention is the age past which terminal records are purged.
	Retention time.Duration

	// MaxPayloadBytes is the payload degradation threshold.
	MaxPayloadBytes int

	// CacheMaxTerminal is how many terminal entries the status cache keeps
	// between sweeps.
	CacheMaxTerminal int
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentTasks: 4,
		PollInterval:       2 * time.Second,
		CleanupInterval:    time.Hour,
		Retention:          30 * 24 * time.Hour,
		MaxPayloadBytes:    domain.DefaultMaxPayloadBytes,
		CacheMaxTerminal:   256,
	}
}

// Queue is the task engine orchestrator. It persists submissions, discovers
// pending work through a polling dispatch loop, claims records via the
// store's atomic lock column, and drives each claimed task through its
// registered processor in an independent, cancellable execution unit.
//
// All in-memory state (the status cache, the local running set) is
// process-local and advisory; the store is the only state safely shared by
// multiple Queue instances.
type Queue struct {
	store    store.TaskStore
	registry *Registry
	config   QueueConfig
	logger   *slog.Logger

	// workerID is this process's lock token for cross-process mutual
	// exclusion.
	workerID string

	emitter events.StatusEmitter
	metrics *Metrics

	// sem enforces the strict execution bound. A slot is acquired before a
	// lock attempt and released in the execution unit's cleanup, so units
	// carried over from earlier polls still count against the bound.
	sem   *semaphore.Weighted
	cache *statusCache

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup
	taskWG sync.WaitGroup
}

// NewQueue creates a Queue over the given store and registry. The queue does
// nothing until Start is called.
func NewQueue(
	taskStore store.TaskStore,
	registry *Registry,
	config QueueConfig,
	log *slog.Logger,
) *Queue {
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.MaxPayloadBytes <= 0 {
		config.MaxPayloadBytes = domain.DefaultMaxPayloadBytes
	}
	if config.CacheMaxTerminal <= 0 {
		config.CacheMaxTerminal = 256
	}

	workerID := uuid.New().String()

	return &Queue{
		store:    taskStore,
		registry: registry,
		config:   config,
		logger:   log.With("component", "task_queue", "worker_id", workerID),
		workerID: workerID,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentTasks)),
		cache:    newStatusCache(),
		running:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetStatusEmitter wires the notification hook fired after every durable
// status mutation. Must be called before Start.
func (q *Queue) SetStatusEmitter(emitter events.StatusEmitter) {
	q.emitter = emitter
}

// SetMetrics wires prometheus collectors. Must be called before Start.
func (q *Queue) SetMetrics(m *Metrics) {
	q.metrics = m
}

// WorkerID returns this queue instance's lock token.
func (q *Queue) WorkerID() string {
	return q.workerID
}

// Submit validates, persists, and enqueues a new task. It never executes the
// job inline: the record is written as pending and picked up by a dispatch
// loop (this process's or another worker's). Returns the new task id.
func (q *Queue) Submit(
	ctx context.Context,
	taskType domain.TaskType,
	payload map[string]any,
	name string,
	priority int,
) (uuid.UUID, error) {
	if !q.registry.Has(taskType) {
		return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, taskType)
	}

	record := domain.NewTaskRecord(taskType, payload, priority, q.config.MaxPayloadBytes)
	if err := q.store.Create(ctx, record); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save task: %w", err)
	}

	view := viewFromRecord(record)
	view.Message = name
	q.cache.Put(view)
	q.metrics.submitted()

	q.logger.Info("task submitted",
		"task_id", record.ID,
		"task_type", record.Type,
		"task_name", name,
		"priority", priority)

	return record.ID, nil
}

// Start recovers non-terminal records from the store and launches the
// dispatch and retention loops. Records found in the processing state are
// presumed orphaned by a prior crash and are immediately failed.
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueStarted
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.mu.Unlock()

	if err := q.recoverTasks(q.ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	q.loopWG.Add(2)
	go q.dispatchLoop()
	go q.cleanupLoop()

	q.logger.Info("task queue started",
		"max_concurrent_tasks", q.config.MaxConcurrentTasks,
		"poll_interval", q.config.PollInterval)

	return nil
}

// Stop requests cooperative cancellation of all locally-tracked execution
// units, waits for them to reach a terminal state, and halts the loops.
// Tasks locked by other processes sharing the store are not revoked.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.taskWG.Wait()
	q.loopWG.Wait()

	q.logger.Info("task queue stopped")
}

// Cancel requests cancellation of a task. A locally running task receives a
// cooperative cancellation signal; a pending task is cancelled directly
// without ever starting. Returns false for unknown, already-terminal, or
// remotely running tasks, without mutating state.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	q.mu.Lock()
	cancelRun, isRunning := q.running[id]
	q.mu.Unlock()

	if isRunning {
		cancelRun()
		return true, nil
	}

	record, err := q.store.Get(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	if record.Status != domain.TaskStatusPending {
		return false, nil
	}

	affected, err := q.setStatus(ctx, id, domain.TaskStatusCancelled,
		"cancelled before start", nil)
	if err != nil {
		return false, err
	}
	return affected, nil
}

// GetStatus returns the task's current view. The process-local cache answers
// directly for terminal tasks and tasks this process is executing; any other
// view may be advanced at any time by another worker sharing the store, so it
// is refreshed from the store on every read rather than pinned at its first
// observed status.
func (q *Queue) GetStatus(ctx context.Context, id uuid.UUID) (*TaskView, error) {
	cached, ok := q.cache.Get(id)
	if ok && (cached.Status.IsTerminal() || q.locallyRunning(id)) {
		return cached, nil
	}

	record, err := q.store.Get(ctx, id)
	if err != nil {
		if ok && !store.IsNotFoundError(err) {
			// Serve the stale view rather than failing a read on a
			// transient store error.
			q.logger.Warn("status refresh failed, serving cached view",
				"task_id", id,
				"error", err)
			return cached, nil
		}
		return nil, err
	}

	view := viewFromRecord(record)
	if ok {
		// Message and result exist only in this process.
		view.Message = cached.Message
		view.Result = cached.Result
		q.cache.Put(view)
	} else if view.Status.IsTerminal() {
		q.cache.Put(view)
	}
	return view, nil
}

// locallyRunning reports whether this process holds an execution unit for id.
func (q *Queue) locallyRunning(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.running[id]
	return ok
}

// List returns durable records matching the filter.
func (q *Queue) List(ctx context.Context, filter store.ListFilter) ([]*domain.TaskRecord, error) {
	return q.store.List(ctx, filter)
}

// QueueStats blends durable counts with process-local observability data.
type QueueStats struct {
	Store        store.Stats `json:"store"`
	LocalRunning int         `json:"local_running"`
	Cached       int         `json:"cached"`
}

// Stats returns task counts by status plus local queue state.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	storeStats, err := q.store.Stats(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	q.mu.Lock()
	localRunning := len(q.running)
	q.mu.Unlock()

	return QueueStats{
		Store:        storeStats,
		LocalRunning: localRunning,
		Cached:       q.cache.Len(),
	}, nil
}

// recoverTasks rebuilds the cache from the store and fails orphaned work.
func (q *Queue) recoverTasks(ctx context.Context) error {
	orphaned, err := q.store.RecoverOrphans(ctx, orphanedTaskMessage)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned tasks: %w", err)
	}

	for _, record := range orphaned {
		view := viewFromRecord(record)
		view.Message = record.ErrorMessage
		q.cache.Put(view)
		q.emit(record.ID, domain.TaskStatusFailed, record.Progress, record.ErrorMessage)
		q.logger.Warn("failed orphaned task from previous run",
			"task_id", record.ID,
			"task_type", record.Type)
	}

	pending := domain.TaskStatusPending
	pendingRecords, err := q.store.List(ctx, store.ListFilter{Status: &pending})
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}
	for _, record := range pendingRecords {
		q.cache.Put(viewFromRecord(record))
	}

	q.logger.Info("task recovery complete",
		"orphaned_count", len(orphaned),
		"pending_count", len(pendingRecords))

	return nil
}

// dispatchLoop polls for pending work until the queue is stopped.
func (q *Queue) dispatchLoop() {
	defer q.loopWG.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchOnce()
		}
	}
}

// dispatchOnce fetches pending records in dequeue order and spawns an
// execution unit for each one it can both bound and lock. Storage errors are
// logged and retried on the next tick; lost lock races are skipped silently.
func (q *Queue) dispatchOnce() {
	records, err := q.store.ListPending(q.ctx, q.config.MaxConcurrentTasks)
	if err != nil {
		q.logger.Error("failed to list pending tasks", "error", err)
		return
	}

	for _, record := range records {
		q.mu.Lock()
		_, tracked := q.running[record.ID]
		q.mu.Unlock()
		if tracked {
			continue
		}

		// The semaphore, not the fetch limit, is the concurrency bound:
		// units still running from earlier polls hold their slots.
		if !q.sem.TryAcquire(1) {
			return
		}

		acquired, err := q.store.AcquireLock(q.ctx, record.ID, q.workerID)
		if err != nil {
			q.logger.Error("failed to acquire task lock",
				"task_id", record.ID,
				"error", err)
			q.sem.Release(1)
			continue
		}
		if !acquired {
			// Lost the race to another worker.
			q.sem.Release(1)
			continue
		}

		runCtx, cancelRun := context.WithCancel(q.ctx)
		q.mu.Lock()
		q.running[record.ID] = cancelRun
		q.mu.Unlock()

		q.taskWG.Add(1)
		q.metrics.runningInc()
		go q.execute(runCtx, record)
	}
}

// execute is one execution unit: it drives a single claimed task to a
// terminal state. The deferred cleanup (lock release, running-set removal,
// semaphore release) runs on every exit path, including cancellation and
// processor panic.
func (q *Queue) execute(ctx context.Context, record *domain.TaskRecord) {
	log := q.logger.With("task_id", record.ID, "task_type", record.Type)

	defer func() {
		// The run context may already be cancelled; release the lock on a
		// fresh context so cleanup always reaches the store.
		if _, err := q.store.ReleaseLock(context.Background(), record.ID, q.workerID); err != nil {
			log.Error("failed to release task lock", "error", err)
		}
		q.mu.Lock()
		delete(q.running, record.ID)
		q.mu.Unlock()
		q.sem.Release(1)
		q.metrics.runningDec()
		q.taskWG.Done()
	}()

	ctx = logger.WithLogger(ctx, log)

	marked, err := q.setStatus(ctx, record.ID, domain.TaskStatusProcessing, "", nil)
	if err != nil {
		log.Error("failed to mark task processing", "error", err)
		return
	}
	if !marked {
		// The record left the pending state between lock and mark,
		// e.g. a concurrent Cancel. Nothing to run.
		log.Debug("task no longer pending, skipping execution")
		return
	}

	log.Info("processing task")

	processor := q.registry.Get(record.Type)
	if processor == nil {
		// Configuration error, distinct from a processor execution failure.
		msg := fmt.Sprintf("%v: %q", ErrProcessorNotFound, record.Type)
		q.finishTask(record, domain.TaskStatusFailed, msg, nil)
		return
	}

	progressFn := q.progressFunc(record.ID)
	result, procErr := runProcessor(ctx, processor, record, progressFn)

	switch {
	case procErr == nil:
		q.finishTask(record, domain.TaskStatusSuccess, "", result)
		log.Info("task completed successfully")
	case errors.Is(procErr, context.Canceled) || ctx.Err() != nil:
		q.finishTask(record, domain.TaskStatusCancelled, "task cancelled", nil)
		log.Info("task cancelled")
	default:
		q.finishTask(record, domain.TaskStatusFailed, procErr.Error(), nil)
		log.Error("task execution failed", "error", procErr)
	}
}

// runProcessor invokes the processor, converting panics into errors so a
// misbehaving processor can never crash the scheduler.
func runProcessor(
	ctx context.Context,
	processor Processor,
	record *domain.TaskRecord,
	progress ProgressFunc,
) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("processor panicked: %v", p)
		}
	}()
	return processor.Process(ctx, record, progress)
}

// finishTask records a terminal status. Terminal writes use a background
// context: the execution unit's context is typically already cancelled when
// the outcome is cancellation or shutdown.
func (q *Queue) finishTask(
	record *domain.TaskRecord,
	status domain.TaskStatus,
	errorMessage string,
	result any,
) {
	var progress *float64
	if status == domain.TaskStatusSuccess {
		done := 100.0
		progress = &done
	}

	if _, err := q.setStatus(context.Background(), record.ID, status, errorMessage, progress); err != nil {
		q.logger.Error("failed to record terminal task status",
			"task_id", record.ID,
			"status", status,
			"error", err)
	}
	if result != nil {
		q.cache.Update(record.ID, func(view *TaskView) {
			view.Result = result
		})
	}
	q.metrics.completed(string(status))
}

// progressFunc builds the write-through progress callback handed to a
// processor invocation.
func (q *Queue) progressFunc(id uuid.UUID) ProgressFunc {
	return func(percent float64, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}

		if _, err := q.store.UpdateProgress(context.Background(), id, percent); err != nil {
			q.logger.Error("failed to persist task progress",
				"task_id", id,
				"error", err)
		}
		q.cache.Update(id, func(view *TaskView) {
			view.Progress = percent
			if message != "" {
				view.Message = message
			}
		})
		q.emit(id, domain.TaskStatusProcessing, percent, message)
	}
}

// setStatus writes a status transition through the store, then the cache,
// then the notification hook. Returns whether a row was affected (a false
// return means the record was missing or the transition was not legal for
// its current state).
func (q *Queue) setStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	errorMessage string,
	progress *float64,
) (bool, error) {
	affected, err := q.store.UpdateStatus(ctx, id, status, errorMessage, progress)
	if err != nil || !affected {
		return affected, err
	}

	now := time.Now().UTC()
	progressValue := -1.0
	q.cache.Update(id, func(view *TaskView) {
		view.Status = status
		if errorMessage != "" {
			view.ErrorMessage = errorMessage
			view.Message = errorMessage
		}
		if progress != nil {
			view.Progress = *progress
		}
		if status == domain.TaskStatusProcessing && view.StartedAt == nil {
			view.StartedAt = &now
		}
		if status.IsTerminal() && view.CompletedAt == nil {
			view.CompletedAt = &now
		}
		progressValue = view.Progress
	})
	if progressValue < 0 {
		if progress != nil {
			progressValue = *progress
		} else {
			progressValue = 0
		}
	}

	q.emit(id, status, progressValue, errorMessage)
	return true, nil
}

// emit fires the notification hook, if wired.
func (q *Queue) emit(id uuid.UUID, status domain.TaskStatus, progress float64, message string) {
	if q.emitter == nil {
		return
	}
	event := events.NewStatusEvent(id, status, progress, message)
	if err := q.emitter.EmitStatusEvent(context.Background(), event); err != nil {
		q.logger.Error("status notification failed",
			"task_id", id,
			"status", status,
			"error", err)
	}
}

// cleanupLoop periodically trims the status cache and purges old terminal
// records from the store.
func (q *Queue) cleanupLoop() {
	defer q.loopWG.Done()

	ticker := time.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			evicted := q.cache.TrimTerminal(q.config.CacheMaxTerminal)
			removed, err := q.store.CleanupOld(q.ctx, q.config.Retention)
			if err != nil {
				q.logger.Error("retention cleanup failed", "error", err)
				continue
			}
			if removed > 0 || evicted > 0 {
				q.logger.Info("retention cleanup complete",
					"removed_records", removed,
					"evicted_views", evicted)
			}
		}
	}
}
