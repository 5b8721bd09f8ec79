package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hollis-dev/quarry/internal/domain"
	"github.com/hollis-dev/quarry/internal/store"
)

// MockTaskStore implements the store.TaskStore interface in memory for
// testing. Individual operations can be overridden through the *Fn fields.
// Its lock and transition semantics mirror the real implementations so queue
// behavior tests exercise the same contract.
type MockTaskStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.TaskRecord

	CreateFn       func(ctx context.Context, record *domain.TaskRecord) error
	UpdateStatusFn func(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMessage string, progress *float64) (bool, error)
	AcquireLockFn  func(ctx context.Context, id uuid.UUID, workerID string) (bool, error)
	ListPendingFn  func(ctx context.Context, limit int) ([]*domain.TaskRecord, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		records: make(map[uuid.UUID]*domain.TaskRecord),
	}
}

// Seed inserts a record directly, bypassing Create overrides. Useful for
// arranging recovery and cleanup scenarios.
func (s *MockTaskStore) Seed(record *domain.TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.ID] = &clone
}

// Snapshot returns a copy of the stored record, if present.
func (s *MockTaskStore) Snapshot(id uuid.UUID) (*domain.TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, false
	}
	clone := *record
	return &clone, true
}

// Create persists a new record.
func (s *MockTaskStore) Create(ctx context.Context, record *domain.TaskRecord) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return store.ErrTaskIDExists
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

// Get returns the record with the given id.
func (s *MockTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	clone := *record
	return &clone, nil
}

// UpdateStatus applies a forward-only status transition.
func (s *MockTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	errorMessage string,
	progress *float64,
) (bool, error) {
	if s.UpdateStatusFn != nil {
		return s.UpdateStatusFn(ctx, id, status, errorMessage, progress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return false, nil
	}
	if !record.Status.CanTransitionTo(status) {
		return false, nil
	}

	now := time.Now().UTC()
	record.Status = status
	record.ErrorMessage = errorMessage
	if progress != nil {
		record.Progress = *progress
	}
	if status == domain.TaskStatusProcessing && record.StartedAt == nil {
		record.StartedAt = &now
	}
	if status.IsTerminal() && record.CompletedAt == nil {
		record.CompletedAt = &now
	}
	return true, nil
}

// UpdateProgress writes only the progress value.
func (s *MockTaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return false, nil
	}
	record.Progress = progress
	return true, nil
}

// RecoverOrphans fails every processing record under one lock hold,
// mirroring the real stores' transactional batch.
func (s *MockTaskStore) RecoverOrphans(ctx context.Context, errorMessage string) ([]*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var recovered []*domain.TaskRecord
	for _, record := range s.records {
		if record.Status != domain.TaskStatusProcessing {
			continue
		}
		record.Status = domain.TaskStatusFailed
		record.ErrorMessage = errorMessage
		if record.CompletedAt == nil {
			record.CompletedAt = &now
		}
		clone := *record
		recovered = append(recovered, &clone)
	}
	return recovered, nil
}

// AcquireLock claims the record for workerID iff it is unlocked or already
// owned by workerID.
func (s *MockTaskStore) AcquireLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	if s.AcquireLockFn != nil {
		return s.AcquireLockFn(ctx, id, workerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return false, nil
	}
	if record.LockID != "" && record.LockID != workerID {
		return false, nil
	}
	record.LockID = workerID
	return true, nil
}

// ReleaseLock clears the lock iff workerID owns it.
func (s *MockTaskStore) ReleaseLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.LockID != workerID {
		return false, nil
	}
	record.LockID = ""
	return true, nil
}

// ListPending returns pending records in dequeue order.
func (s *MockTaskStore) ListPending(ctx context.Context, limit int) ([]*domain.TaskRecord, error) {
	if s.ListPendingFn != nil {
		return s.ListPendingFn(ctx, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*domain.TaskRecord
	for _, record := range s.records {
		if record.Status == domain.TaskStatusPending {
			clone := *record
			pending = append(pending, &clone)
		}
	}
	sortPending(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// List returns records matching the filter.
func (s *MockTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.TaskRecord
	for _, record := range s.records {
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && record.Type != *filter.Type {
			continue
		}
		clone := *record
		matched = append(matched, &clone)
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Stats returns per-status counts.
func (s *MockTaskStore) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := store.Stats{ByStatus: make(map[domain.TaskStatus]int)}
	for _, record := range s.records {
		stats.Total++
		stats.ByStatus[record.Status]++
	}
	return stats, nil
}

// CleanupOld removes terminal records completed before the retention cutoff.
func (s *MockTaskStore) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	var removed int64
	for id, record := range s.records {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && record.CompletedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// sortPending orders records by priority descending, then creation time
// ascending, matching the real stores' dequeue order.
func sortPending(records []*domain.TaskRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0; j-- {
			a, b := records[j-1], records[j]
			if a.Priority > b.Priority ||
				(a.Priority == b.Priority && !a.CreatedAt.After(b.CreatedAt)) {
				break
			}
			records[j-1], records[j] = b, a
		}
	}
}

// Ensure MockTaskStore implements store.TaskStore.
var _ store.TaskStore = (*MockTaskStore)(nil)
