package task

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hollis-dev/quarry/internal/domain"
)

// TaskView is the in-memory, process-local view of a task used for
// sub-poll-interval status reads. It mirrors the durable record plus a
// human-readable message and the (non-persisted) processor result.
//
// The view is advisory only: on restart it is rebuilt from the store, which
// remains the sole source of truth. Multi-instance deployments must never
// trust it across processes.
type TaskView struct {
	ID           uuid.UUID         `json:"id"`
	Type         domain.TaskType   `json:"type"`
	Status       domain.TaskStatus `json:"status"`
	Progress     float64           `json:"progress"`
	Message      string            `json:"message,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Result       any               `json:"result,omitempty"`
	Priority     int               `json:"priority"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// viewFromRecord builds a TaskView mirroring a durable record.
func viewFromRecord(record *domain.TaskRecord) *TaskView {
	return &TaskView{
		ID:           record.ID,
		Type:         record.Type,
		Status:       record.Status,
		Progress:     record.Progress,
		ErrorMessage: record.ErrorMessage,
		Priority:     record.Priority,
		CreatedAt:    record.CreatedAt,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
	}
}

// statusCache is the ephemeral read cache over the store. It is strictly
// write-through: every mutation lands in the store first, then here.
type statusCache struct {
	mu    sync.RWMutex
	views map[uuid.UUID]*TaskView
}

func newStatusCache() *statusCache {
	return &statusCache{
		views: make(map[uuid.UUID]*TaskView),
	}
}

// Put stores a copy of the view.
func (c *statusCache) Put(view *TaskView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *view
	c.views[view.ID] = &clone
}

// Get returns a copy of the cached view, if present.
func (c *statusCache) Get(id uuid.UUID) (*TaskView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.views[id]
	if !ok {
		return nil, false
	}
	clone := *view
	return &clone, true
}

// Update applies fn to the cached view under the write lock, if present.
func (c *statusCache) Update(id uuid.UUID, fn func(view *TaskView)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[id]
	if !ok {
		return false
	}
	fn(view)
	return true
}

// Len returns the number of cached views.
func (c *statusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.views)
}

// TrimTerminal evicts terminal views beyond the keep most recent ones,
// ordered by completion time. Non-terminal views are never evicted.
func (c *statusCache) TrimTerminal(keep int) int {
	if keep < 0 {
		keep = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	terminal := make([]*TaskView, 0, len(c.views))
	for _, view := range c.views {
		if view.Status.IsTerminal() {
			terminal = append(terminal, view)
		}
	}
	if len(terminal) <= keep {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		return completedAtOrZero(terminal[i]).After(completedAtOrZero(terminal[j]))
	})

	evicted := 0
	for _, view := range terminal[keep:] {
		delete(c.views, view.ID)
		evicted++
	}
	return evicted
}

func completedAtOrZero(view *TaskView) time.Time {
	if view.CompletedAt != nil {
		return *view.CompletedAt
	}
	return view.CreatedAt
}
