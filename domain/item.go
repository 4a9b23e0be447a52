package domain

import (
	"fmt"
	"time"
)

// Status identifies the board column an item belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Statuses lists every column in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}

// ParseStatus validates a wire-level status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return Status(s), nil
	}
	return "", &ValidationError{Field: "status", Value: s}
}

// Priority orders items within a column. TopPriority is exclusive per column.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityTop
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityMedium: "MEDIUM",
	PriorityHigh:   "HIGH",
	PriorityTop:    "TOP_PRIORITY",
}

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityTop}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority validates a wire-level priority name.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, &ValidationError{Field: "priority", Value: s}
}

// MarshalJSON renders the priority as its wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return []byte(`"` + name + `"`), nil
}

// UnmarshalJSON accepts the wire name form.
func (p *Priority) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return &ValidationError{Field: "priority", Value: string(data)}
	}
	parsed, err := ParsePriority(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DueDateLayout is the calendar-date form items carry; no time component.
const DueDateLayout = "2006-01-02"

// ValidateDueDate checks an ISO calendar date. Empty means no due date.
func ValidateDueDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(DueDateLayout, s); err != nil {
		return &ValidationError{Field: "due_date", Value: s}
	}
	return nil
}

// Item is a single board entry.
type Item struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	DueDate        string     `json:"due_date,omitempty"`
	Description    string     `json:"description"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TimeToComplete *int64     `json:"time_to_complete,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

// Clone returns an independent copy so callers cannot mutate board state.
func (i *Item) Clone() *Item {
	cp := *i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		cp.CompletedAt = &t
	}
	if i.TimeToComplete != nil {
		v := *i.TimeToComplete
		cp.TimeToComplete = &v
	}
	if i.Tags != nil {
		cp.Tags = append([]string(nil), i.Tags...)
	}
	return &cp
}

// HasTag reports whether the item carries the given tag.
func (i *Item) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidationError reports a malformed field value supplied by a caller.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}
