package domain

import (
	"strings"
	"time"
)

// Priority ranks a task on its card.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps free-form input to a Priority, defaulting to medium.
func ParsePriority(raw string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Status is the column bucket that owns a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
)

var statuses = [...]Status{StatusTodo, StatusInProgress, StatusDone}

// Statuses returns the buckets in column order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses[:])
	return out
}

// ParseStatus resolves raw into a known Status. The second result is false
// for anything that is not one of the three buckets.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "todo", "to-do", "to_do":
		return StatusTodo, true
	case "inprogress", "in-progress", "in_progress", "doing":
		return StatusInProgress, true
	case "done":
		return StatusDone, true
	}
	return "", false
}

// Valid reports whether s is one of the three buckets.
func (s Status) Valid() bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Task represents a single card on the board.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Equal compares every persisted field of two tasks.
func (t Task) Equal(o Task) bool {
	return t.ID == o.ID &&
		t.Title == o.Title &&
		t.Description == o.Description &&
		t.Priority == o.Priority &&
		t.Status == o.Status &&
		t.CreatedAt.Equal(o.CreatedAt)
}
