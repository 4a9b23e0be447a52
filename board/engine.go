package board

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kimipdb306/scout-tdl/domain"
	"github.com/kimipdb306/scout-tdl/storage"
)

// Engine owns one user's board: the live item collection, the top-priority
// invariant and completion bookkeeping. Every mutation persists the whole
// board synchronously before returning. All methods are safe for concurrent
// use; mutations serialize on a per-board lock.
type Engine struct {
	userID string
	store  *storage.FileStore
	logger *log.Logger

	mu    sync.Mutex
	items []*domain.Item

	now func() time.Time
}

// NewEngine loads the user's persisted board and returns an engine over it.
func NewEngine(userID string, store *storage.FileStore, logger *log.Logger) (*Engine, error) {
	items, err := store.Load(userID)
	if err != nil {
		return nil, err
	}
	return &Engine{
		userID: userID,
		store:  store,
		logger: logger,
		items:  items,
		now:    time.Now,
	}, nil
}

// UserID returns the board owner.
func (e *Engine) UserID() string { return e.userID }

// UpdateFields carries the mutable subset of item fields for UpdateItem.
// Nil pointers leave the field untouched.
type UpdateFields struct {
	Title       *string
	Description *string
	DueDate     *string
	Tags        *[]string
	Priority    *domain.Priority
	Status      *domain.Status
}

// AddItem creates a new item in the todo column and persists the board.
func (e *Engine) AddItem(title string, priority domain.Priority, dueDate, description string) (*domain.Item, error) {
	if err := domain.ValidateDueDate(dueDate); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	item := &domain.Item{
		ID:          nextItemID(),
		Title:       title,
		Status:      domain.StatusTodo,
		Priority:    priority,
		DueDate:     dueDate,
		Description: description,
		CreatedAt:   e.now(),
	}
	e.items = append(e.items, item)
	e.enforceTopPriority(item)
	if err := e.save(); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// GetItem looks up an item by id. Absence is not an error.
func (e *Engine) GetItem(id string) (*domain.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if item := e.findLocked(id); item != nil {
		return item.Clone(), true
	}
	return nil, false
}

// UpdateItem applies a partial field set. Status changes through this path do
// not run completion bookkeeping; only MoveItem stamps completion.
func (e *Engine) UpdateItem(id string, fields UpdateFields) (*domain.Item, error) {
	if fields.DueDate != nil {
		if err := domain.ValidateDueDate(*fields.DueDate); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	item := e.findLocked(id)
	if item == nil {
		return nil, &NotFoundError{ID: id}
	}

	if fields.Title != nil {
		item.Title = *fields.Title
	}
	if fields.Description != nil {
		item.Description = *fields.Description
	}
	if fields.DueDate != nil {
		item.DueDate = *fields.DueDate
	}
	if fields.Tags != nil {
		item.Tags = append([]string(nil), (*fields.Tags)...)
	}
	if fields.Priority != nil {
		item.Priority = *fields.Priority
	}
	if fields.Status != nil {
		item.Status = *fields.Status
	}

	e.enforceTopPriority(item)
	if err := e.save(); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// DeleteItem removes the item if present. Deleting an absent id is a no-op.
func (e *Engine) DeleteItem(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.items[:0]
	removed := false
	for _, item := range e.items {
		if item.ID == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	e.items = kept
	if !removed {
		return nil
	}
	return e.save()
}

// MoveItem transitions an item to a new column. Moving into done from a
// non-done status stamps completedAt and timeToComplete exactly once; moving
// to the current column is a no-op.
func (e *Engine) MoveItem(id string, newStatus domain.Status) (*domain.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item := e.findLocked(id)
	if item == nil {
		return nil, &NotFoundError{ID: id}
	}
	if item.Status == newStatus {
		// Same column: nothing moves, so no other top-priority holder can be
		// displaced and the invariant re-check is skipped.
		return item.Clone(), nil
	}

	if newStatus == domain.StatusDone && item.Status != domain.StatusDone {
		completed := e.now()
		item.CompletedAt = &completed
		seconds := int64(completed.Sub(item.CreatedAt) / time.Second)
		if seconds < 0 {
			seconds = 0
		}
		item.TimeToComplete = &seconds
	}

	item.Status = newStatus
	e.enforceTopPriority(item)
	if err := e.save(); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// ItemsByStatus returns the column's items in insertion order.
func (e *Engine) ItemsByStatus(status domain.Status) []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*domain.Item{}
	for _, item := range e.items {
		if item.Status == status {
			out = append(out, item.Clone())
		}
	}
	return out
}

// AllItems returns a snapshot of the whole board in insertion order.
func (e *Engine) AllItems() []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Item, 0, len(e.items))
	for _, item := range e.items {
		out = append(out, item.Clone())
	}
	return out
}

// TopPriorityItem returns the column's single TOP_PRIORITY holder, if any.
func (e *Engine) TopPriorityItem(status domain.Status) (*domain.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range e.items {
		if item.Status == status && item.Priority == domain.PriorityTop {
			return item.Clone(), true
		}
	}
	return nil, false
}

// DueBetween returns items whose due date falls inside [start, end]. Dates
// are ISO calendar dates, so string comparison is chronological.
func (e *Engine) DueBetween(start, end string) []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*domain.Item{}
	for _, item := range e.items {
		if item.DueDate != "" && start <= item.DueDate && item.DueDate <= end {
			out = append(out, item.Clone())
		}
	}
	return out
}

// CompletedItems returns the completion history, newest first, windowed by
// offset and limit.
func (e *Engine) CompletedItems(limit, offset int) []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	completed := e.completedSortedLocked()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(completed) {
		return []*domain.Item{}
	}
	end := len(completed)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*domain.Item, 0, end-offset)
	for _, item := range completed[offset:end] {
		out = append(out, item.Clone())
	}
	return out
}

// CompletedItemsByDate filters the history on the calendar-date portion of
// completedAt, inclusive on both ends.
func (e *Engine) CompletedItemsByDate(start, end string) []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*domain.Item{}
	for _, item := range e.completedSortedLocked() {
		day := item.CompletedAt.Format(domain.DueDateLayout)
		if start <= day && day <= end {
			out = append(out, item.Clone())
		}
	}
	return out
}

// CompletedItemsByTag filters the history by tag membership.
func (e *Engine) CompletedItemsByTag(tag string) []*domain.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*domain.Item{}
	for _, item := range e.completedSortedLocked() {
		if item.HasTag(tag) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// CompletedCount returns the size of the completion history.
func (e *Engine) CompletedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.completedSortedLocked())
}

// CompletionStats aggregates the completion history. Week and month windows
// are relative to the current time, not bucket boundaries.
func (e *Engine) CompletionStats() domain.CompletionStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := domain.CompletionStats{
		AvgTimeToComplete: "0.0 hours",
		ByPriority:        map[string]int{},
	}

	now := e.now()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)

	var totalSeconds int64
	var timed int
	for _, item := range e.items {
		if item.Status != domain.StatusDone || item.CompletedAt == nil {
			continue
		}
		stats.TotalCompleted++
		if item.CompletedAt.After(weekAgo) {
			stats.CompletedThisWeek++
		}
		if item.CompletedAt.After(monthAgo) {
			stats.CompletedThisMonth++
		}
		stats.ByPriority[item.Priority.String()]++
		if item.TimeToComplete != nil {
			totalSeconds += *item.TimeToComplete
			timed++
		}
	}

	if timed > 0 {
		hours := float64(totalSeconds) / float64(timed) / 3600
		stats.AvgTimeToComplete = fmt.Sprintf("%.1f hours", hours)
	}
	return stats
}

// enforceTopPriority is the named invariant-repair step: after a mutation
// settles, at most one item per column may hold TOP_PRIORITY. The item that
// most recently acquired it wins; prior holders in the same column are
// demoted to HIGH.
func (e *Engine) enforceTopPriority(winner *domain.Item) {
	if winner.Priority != domain.PriorityTop {
		return
	}
	for _, other := range e.items {
		if other.ID == winner.ID || other.Status != winner.Status {
			continue
		}
		if other.Priority == domain.PriorityTop {
			other.Priority = domain.PriorityHigh
			e.logger.WithFields(log.Fields{
				"user":      e.userID,
				"item":      other.ID,
				"column":    string(other.Status),
				"demotedBy": winner.ID,
			}).Info("demoted to HIGH, one TOP_PRIORITY per column")
		}
	}
}

func (e *Engine) findLocked(id string) *domain.Item {
	for _, item := range e.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (e *Engine) completedSortedLocked() []*domain.Item {
	completed := []*domain.Item{}
	for _, item := range e.items {
		if item.Status == domain.StatusDone && item.CompletedAt != nil {
			completed = append(completed, item)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CompletedAt.After(*completed[j].CompletedAt)
	})
	return completed
}

func (e *Engine) save() error {
	return e.store.Save(e.userID, e.items)
}
