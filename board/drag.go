package board

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DragState is the phase of the drag gesture.
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Mover performs the status transition requested by a drop. Store.Move
// satisfies it.
type Mover func(ctx context.Context, id int64, status domain.Status) (domain.Task, error)

// Columns maps drop target identifiers to the bucket they represent.
type Columns map[string]domain.Status

// DefaultColumns accepts the bucket names and the "<status>Column" element
// ids used by the board page.
func DefaultColumns() Columns {
	c := Columns{"in-progress": domain.StatusInProgress}
	for _, st := range domain.Statuses() {
		c[string(st)] = st
		c[string(st)+"Column"] = st
	}
	return c
}

// Resolve returns the bucket behind a drop target.
func (c Columns) Resolve(column string) (domain.Status, bool) {
	st, ok := c[strings.TrimSpace(column)]
	return st, ok
}

// DragSnapshot is a point-in-time view of a Drag.
type DragSnapshot struct {
	State  string `json:"state"`
	TaskID int64  `json:"taskId,omitempty"`
	Column string `json:"column,omitempty"`
}

// Drag tracks a single drag gesture and turns an accepted drop into a move.
// It only remembers which task is in flight; the collection stays with the
// store behind Mover.
type Drag struct {
	move    Mover
	columns Columns
	log     *log.Logger

	mu     sync.Mutex
	state  DragState
	taskID int64
	over   string
}

// NewDrag creates an idle handler. A nil columns map uses DefaultColumns.
func NewDrag(move Mover, columns Columns, logger *log.Logger) *Drag {
	if move == nil {
		panic("board.NewDrag: mover is nil")
	}
	if columns == nil {
		columns = DefaultColumns()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Drag{move: move, columns: columns, log: logger}
}

// Start begins dragging id. A gesture already in flight is replaced.
func (d *Drag) Start(id int64) {
	d.mu.Lock()
	d.state = Dragging
	d.taskID = id
	d.over = ""
	d.mu.Unlock()
}

// Over marks column as the active drop zone. It reports false, and clears
// the mark, when no drag is active or the column is not a drop target.
func (d *Drag) Over(column string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Dragging {
		return false
	}
	if _, ok := d.columns.Resolve(column); !ok {
		d.over = ""
		return false
	}
	d.over = strings.TrimSpace(column)
	return true
}

// Leave clears the drop zone mark if it is on column.
func (d *Drag) Leave(column string) {
	d.mu.Lock()
	if d.over == strings.TrimSpace(column) {
		d.over = ""
	}
	d.mu.Unlock()
}

// Drop ends the gesture over column. The second result is true when the drop
// was accepted and the move committed.
func (d *Drag) Drop(ctx context.Context, column string) (domain.Task, bool) {
	d.mu.Lock()
	if d.state != Dragging {
		d.mu.Unlock()
		return domain.Task{}, false
	}
	id := d.taskID
	d.reset()
	d.mu.Unlock()

	status, ok := d.columns.Resolve(column)
	if !ok {
		d.log.WithFields(log.Fields{"task": id, "column": column}).Debug("drop outside a column; ignoring")
		return domain.Task{}, false
	}
	task, err := d.move(ctx, id, status)
	if err != nil {
		d.log.WithError(err).WithFields(log.Fields{"task": id, "status": status}).Debug("drop rejected")
		return domain.Task{}, false
	}
	return task, true
}

// Cancel aborts the gesture without touching the board.
func (d *Drag) Cancel() {
	d.mu.Lock()
	d.reset()
	d.mu.Unlock()
}

// State returns the current phase.
func (d *Drag) State() DragState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot returns the phase, in-flight task and marked column.
func (d *Drag) Snapshot() DragSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DragSnapshot{State: d.state.String(), TaskID: d.taskID, Column: d.over}
}

func (d *Drag) reset() {
	d.state = Idle
	d.taskID = 0
	d.over = ""
}
