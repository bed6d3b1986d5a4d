package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// DefaultKey is the storage key of the anonymous board.
const DefaultKey = "kanbanTasks"

var (
	ErrEmptyTitle    = errors.New("task title is empty")
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidStatus = errors.New("invalid task status")
)

// Listener is notified after a mutation has been persisted. Events arrive in
// commit order; a listener must not mutate the store it listens to.
type Listener interface {
	TaskChanged(ctx context.Context, ev domain.Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev domain.Event)

func (f ListenerFunc) TaskChanged(ctx context.Context, ev domain.Event) { f(ctx, ev) }

// Store owns one board's task collection. Every mutation is written to the
// backing KV before it becomes visible; a failed write leaves the
// collection as it was.
type Store struct {
	kv  storage.KV
	key string
	log *log.Logger
	now func() time.Time
	ids *idClock

	mu    sync.Mutex
	tasks []domain.Task

	// emitMu is taken before mu is released so listeners see changes in
	// commit order.
	emitMu sync.Mutex

	lmu       sync.RWMutex
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load and persistence diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source for ids and creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithListener registers l before the store is loaded.
func WithListener(l Listener) Option {
	return func(s *Store) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// Open loads the board stored under key. Absent or unparseable data yields
// an empty board; only a failing read is returned as an error.
func Open(ctx context.Context, kv storage.KV, key string, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("board.Open: storage is nil")
	}
	s := &Store{
		kv:  kv,
		key: key,
		log: log.StandardLogger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ids = &idClock{now: s.now}

	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", key, err)
	}
	if !ok {
		s.tasks = []domain.Task{}
		return s, nil
	}
	tasks, dropped, err := decodeRecords([]byte(raw))
	if err != nil {
		s.log.WithError(err).WithField("board", key).Warn("stored board is unreadable; starting empty")
		s.tasks = []domain.Task{}
		return s, nil
	}
	if dropped > 0 {
		s.log.WithFields(log.Fields{"board": key, "dropped": dropped}).Warn("stored board has entries that are not tasks; skipping them")
	}
	s.tasks = s.normalize(tasks)
	s.log.WithFields(log.Fields{"board": key, "tasks": len(s.tasks)}).Debug("board loaded")
	return s, nil
}

// normalize assigns ids to records without one, replaces duplicates and
// fills missing creation times.
func (s *Store) normalize(tasks []domain.Task) []domain.Task {
	for _, t := range tasks {
		s.ids.observe(t.ID)
	}
	seen := make(map[int64]struct{}, len(tasks))
	for i := range tasks {
		if _, dup := seen[tasks[i].ID]; tasks[i].ID <= 0 || dup {
			tasks[i].ID = s.ids.next()
		}
		seen[tasks[i].ID] = struct{}{}
		if tasks[i].CreatedAt.IsZero() {
			tasks[i].CreatedAt = s.timestamp()
		}
	}
	return tasks
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Key returns the storage key of this board.
func (s *Store) Key() string { return s.key }

// Subscribe registers l for change notifications.
func (s *Store) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()
}

// Create appends a new todo task. Blank titles are rejected.
func (s *Store) Create(ctx context.Context, title, description, priority string) (domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Task{}, ErrEmptyTitle
	}

	s.mu.Lock()
	task := domain.Task{
		ID:          s.ids.next(),
		Title:       title,
		Description: description,
		Priority:    domain.ParsePriority(priority),
		Status:      domain.StatusTodo,
		CreatedAt:   s.timestamp(),
	}
	next := make([]domain.Task, 0, len(s.tasks)+1)
	next = append(next, s.tasks...)
	next = append(next, task)
	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.emit(ctx, domain.Event{Type: domain.TaskCreated, TaskID: task.ID, Task: task})
	return task, nil
}

// Edit replaces the title and description of a task. Status, priority, id
// and creation time are left alone.
func (s *Store) Edit(ctx context.Context, id int64, title, description string) (domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Task{}, ErrEmptyTitle
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Task{}, ErrTaskNotFound
	}
	task := s.tasks[idx]
	if task.Title == title && task.Description == description {
		s.mu.Unlock()
		return task, nil
	}
	task.Title = title
	task.Description = description
	next := make([]domain.Task, len(s.tasks))
	copy(next, s.tasks)
	next[idx] = task
	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.emit(ctx, domain.Event{Type: domain.TaskUpdated, TaskID: task.ID, Task: task})
	return task, nil
}

// Move puts a task into another bucket. A task that changes bucket goes to
// the end of the collection and so to the bottom of its new column; moving
// into the current bucket changes nothing.
func (s *Store) Move(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, ErrInvalidStatus
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Task{}, ErrTaskNotFound
	}
	task := s.tasks[idx]
	previous := task.Status
	if previous == status {
		s.mu.Unlock()
		return task, nil
	}
	task.Status = status
	next := make([]domain.Task, 0, len(s.tasks))
	next = append(next, s.tasks[:idx]...)
	next = append(next, s.tasks[idx+1:]...)
	next = append(next, task)
	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.emit(ctx, domain.Event{Type: domain.TaskMoved, TaskID: task.ID, Task: task, Previous: previous})
	return task, nil
}

// Get returns the task with the given id.
func (s *Store) Get(id int64) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Task{}, false
	}
	return s.tasks[idx], true
}

// ListByStatus returns the tasks of one bucket in collection order.
func (s *Store) ListByStatus(status domain.Status) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// CountsByStatus reports the size of every bucket, including empty ones.
func (s *Store) CountsByStatus() map[domain.Status]int {
	counts := make(map[domain.Status]int, 3)
	for _, st := range domain.Statuses() {
		counts[st] = 0
	}
	s.mu.Lock()
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	s.mu.Unlock()
	return counts
}

// Tasks returns a copy of the whole collection.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Len returns the number of tasks on the board.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) indexLocked(id int64) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// commitLocked persists next and, on success, makes it the live collection.
func (s *Store) commitLocked(ctx context.Context, next []domain.Task) error {
	data, err := Encode(next)
	if err != nil {
		return fmt.Errorf("encode board %s: %w", s.key, err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.log.WithError(err).WithField("board", s.key).Error("failed to persist board")
		return fmt.Errorf("persist board %s: %w", s.key, err)
	}
	s.tasks = next
	return nil
}

func (s *Store) emit(ctx context.Context, ev domain.Event) {
	ev.Board = s.key
	ev.Time = s.now().UnixNano()
	s.lmu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.lmu.RUnlock()
	for _, l := range listeners {
		l.TaskChanged(ctx, ev)
	}
}
