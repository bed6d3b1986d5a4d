package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/storage"
)

// flushRecorder guards the body so the test can read while the stream writes.
type flushRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *flushRecorder) Flush() {}

func (r *flushRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func waitForBody(t *testing.T, rec *flushRecorder, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(rec.body(), substr) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %q", substr, rec.body())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBrokerDeliversOnlyToBoardSubscribers(t *testing.T) {
	b := NewBroker()
	mine := b.subscribe("alice:kanbanTasks")
	other := b.subscribe("kanbanTasks")

	b.TaskChanged(context.Background(), domain.Event{Type: domain.TaskCreated, Board: "alice:kanbanTasks", TaskID: 1})
	select {
	case ev := <-mine:
		if ev.TaskID != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	select {
	case ev := <-other:
		t.Fatalf("other board received %+v", ev)
	default:
	}

	b.unsubscribe("alice:kanbanTasks", mine)
	b.TaskChanged(context.Background(), domain.Event{Board: "alice:kanbanTasks"})
	select {
	case <-mine:
		t.Fatal("received event after unsubscribe")
	default:
	}
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("kanbanTasks")
	for i := 0; i < cap(ch)+5; i++ {
		b.TaskChanged(context.Background(), domain.Event{Board: "kanbanTasks"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
}

func TestStreamBoardSendsSnapshotThenChanges(t *testing.T) {
	logger, _ := test.NewNullLogger()
	registry := board.NewRegistry(storage.NewMemory(), "", logger)
	broker := NewBroker()
	registry.OnOpen(func(s *board.Session) { s.Store.Subscribe(broker) })

	session, err := registry.Session(context.Background(), "")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, err := session.Store.Create(context.Background(), "existing", "", "low"); err != nil {
		t.Fatalf("create: %v", err)
	}

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream?token=abc", nil).WithContext(ctx)
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	handler := streamBoard(registry, Anonymous{}, broker, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()

	waitForBody(t, rec, "event: board\ndata: ")
	if !strings.Contains(rec.body(), `"existing"`) {
		t.Fatalf("snapshot missing existing task: %q", rec.body())
	}

	if _, err := session.Store.Create(context.Background(), "live", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForBody(t, rec, "event: task-created\ndata: ")
	waitForBody(t, rec, `"live"`)

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestStreamBoardUnauthorized(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	handler := streamBoard(failingBoards{}, fakeAuth{err: errMissingAuthorization}, NewBroker(), logger)
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
