package domain

const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskMoved   = "task-moved"
)

// Event describes a committed change to a board.
type Event struct {
	Type     string `json:"type"`
	Board    string `json:"board"`
	TaskID   int64  `json:"taskId"`
	Task     Task   `json:"task"`
	Previous Status `json:"previousStatus,omitempty"`
	Time     int64  `json:"time"`
}
