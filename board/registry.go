package board

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"taskboard/storage"
)

// DefaultCapacity bounds how many sessions a Registry keeps loaded.
const DefaultCapacity = 4096

// Session bundles a board with the drag handler driving it.
type Session struct {
	Store *Store
	Drag  *Drag
}

// pendingOpen lets concurrent callers for one owner share a single load.
type pendingOpen struct {
	done chan struct{}
	s    *Session
	err  error
}

// Registry opens one Session per owner on first use and keeps the most
// recently used ones loaded. An evicted board is reloaded from storage on its
// next access.
type Registry struct {
	kv       storage.KV
	boardKey string
	log      *log.Logger
	opts     []Option
	sessions *expirable.LRU[string, *Session]

	mu      sync.Mutex
	onOpen  func(*Session)
	pending map[string]*pendingOpen
}

// NewRegistry creates a registry that stores boards in kv. opts are applied
// to every Store it opens.
func NewRegistry(kv storage.KV, boardKey string, logger *log.Logger, opts ...Option) *Registry {
	if boardKey == "" {
		boardKey = DefaultKey
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Registry{
		kv:       kv,
		boardKey: boardKey,
		log:      logger,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		pending:  make(map[string]*pendingOpen),
	}
	r.sessions = expirable.NewLRU[string, *Session](DefaultCapacity, r.evicted, 0)
	return r
}

func (r *Registry) evicted(owner string, _ *Session) {
	r.log.WithField("board", r.Key(owner)).Debug("board session evicted")
}

// SetCapacity changes how many sessions stay loaded. n <= 0 keeps the
// current capacity.
func (r *Registry) SetCapacity(n int) {
	if n > 0 {
		r.sessions.Resize(n)
	}
}

// Len reports how many sessions are loaded.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// OnOpen registers a hook run once for every newly opened session, before it
// is handed out.
func (r *Registry) OnOpen(fn func(*Session)) {
	r.mu.Lock()
	r.onOpen = fn
	r.mu.Unlock()
}

// Key returns the storage key of owner's board. The anonymous owner uses the
// bare board key.
func (r *Registry) Key(owner string) string {
	if owner == "" {
		return r.boardKey
	}
	return owner + ":" + r.boardKey
}

// Session returns owner's session, loading the board on first access.
// Loading one owner's board never blocks callers for other owners.
func (r *Registry) Session(ctx context.Context, owner string) (*Session, error) {
	if s, ok := r.sessions.Get(owner); ok {
		return s, nil
	}

	r.mu.Lock()
	if s, ok := r.sessions.Get(owner); ok {
		r.mu.Unlock()
		return s, nil
	}
	p, loading := r.pending[owner]
	if !loading {
		p = &pendingOpen{done: make(chan struct{})}
		r.pending[owner] = p
	}
	onOpen := r.onOpen
	r.mu.Unlock()

	if loading {
		select {
		case <-p.done:
			return p.s, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.s, p.err = r.open(ctx, owner, onOpen)

	r.mu.Lock()
	if p.err == nil {
		r.sessions.Add(owner, p.s)
	}
	delete(r.pending, owner)
	r.mu.Unlock()
	close(p.done)

	return p.s, p.err
}

func (r *Registry) open(ctx context.Context, owner string, onOpen func(*Session)) (*Session, error) {
	store, err := Open(ctx, r.kv, r.Key(owner), r.opts...)
	if err != nil {
		return nil, err
	}
	s := &Session{Store: store, Drag: NewDrag(store.Move, nil, r.log)}
	if onOpen != nil {
		onOpen(s)
	}
	return s, nil
}
