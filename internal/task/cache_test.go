package task

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/domain"
)

func terminalView(status domain.TaskStatus, completedAt time.Time) *TaskView {
	return &TaskView{
		ID:          uuid.New(),
		Type:        domain.TaskTypeBatch,
		Status:      status,
		CreatedAt:   completedAt.Add(-time.Minute),
		CompletedAt: &completedAt,
	}
}

func TestStatusCachePutGetCopies(t *testing.T) {
	t.Parallel()

	cache := newStatusCache()
	view := &TaskView{ID: uuid.New(), Status: domain.TaskStatusPending, Progress: 10}
	cache.Put(view)

	// Mutating the original must not leak into the cache.
	view.Progress = 99

	cached, ok := cache.Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, 10.0, cached.Progress)

	// Nor may mutating the returned copy.
	cached.Progress = 55
	again, ok := cache.Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, 10.0, again.Progress)
}

func TestStatusCacheUpdate(t *testing.T) {
	t.Parallel()

	cache := newStatusCache()
	id := uuid.New()

	assert.False(t, cache.Update(id, func(view *TaskView) {}), "missing views are not created")

	cache.Put(&TaskView{ID: id, Status: domain.TaskStatusPending})
	ok := cache.Update(id, func(view *TaskView) {
		view.Status = domain.TaskStatusProcessing
		view.Progress = 40
	})
	require.True(t, ok)

	view, found := cache.Get(id)
	require.True(t, found)
	assert.Equal(t, domain.TaskStatusProcessing, view.Status)
	assert.Equal(t, 40.0, view.Progress)
}

func TestStatusCacheTrimTerminalKeepsNewest(t *testing.T) {
	t.Parallel()

	cache := newStatusCache()
	base := time.Now().UTC()

	oldest := terminalView(domain.TaskStatusSuccess, base.Add(-3*time.Hour))
	middle := terminalView(domain.TaskStatusFailed, base.Add(-2*time.Hour))
	newest := terminalView(domain.TaskStatusCancelled, base.Add(-time.Hour))
	active := &TaskView{ID: uuid.New(), Status: domain.TaskStatusProcessing, CreatedAt: base.Add(-4 * time.Hour)}

	for _, view := range []*TaskView{oldest, middle, newest, active} {
		cache.Put(view)
	}

	evicted := cache.TrimTerminal(2)
	assert.Equal(t, 1, evicted)

	_, ok := cache.Get(oldest.ID)
	assert.False(t, ok, "oldest terminal view is evicted first")
	for _, keep := range []*TaskView{middle, newest, active} {
		_, ok := cache.Get(keep.ID)
		assert.True(t, ok)
	}
}

func TestStatusCacheTrimTerminalNeverEvictsActive(t *testing.T) {
	t.Parallel()

	cache := newStatusCache()
	for i := 0; i < 5; i++ {
		cache.Put(&TaskView{ID: uuid.New(), Status: domain.TaskStatusPending})
	}

	assert.Equal(t, 0, cache.TrimTerminal(0))
	assert.Equal(t, 5, cache.Len())
}
