package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	delay  time.Duration
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func sampleEvent(id int64) domain.Event {
	return domain.Event{
		Type:   domain.TaskMoved,
		Board:  "kanbanTasks",
		TaskID: id,
		Task:   domain.Task{ID: id, Title: "t", Status: domain.StatusDone, Priority: domain.PriorityMedium},
	}
}

func TestRedisPublisherPublishesEvent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "board-updates")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewRedisPublisher(client, "board-updates")
	if err := pub.Publish(ctx, sampleEvent(7)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if ev.TaskID != 7 || ev.Type != domain.TaskMoved || ev.Task.Status != domain.StatusDone {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestQueuePublisherEnqueuesJSON(t *testing.T) {
	fq := &fakeQueue{}
	pub := &QueuePublisher{queue: fq}

	if err := pub.Publish(context.Background(), sampleEvent(3)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fq.messages))
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(fq.messages[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Board != "kanbanTasks" || ev.TaskID != 3 {
		t.Fatalf("unexpected event: %#v", ev)
	}

	fq.err = errors.New("queue down")
	if err := pub.Publish(context.Background(), sampleEvent(4)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDispatcherDeliversToEveryPublisher(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	d := NewDispatcher(Config{Workers: 2, Buffer: 8}, logger, a, b)

	for i := int64(1); i <= 5; i++ {
		d.TaskChanged(context.Background(), sampleEvent(i))
	}
	d.Close()

	if a.count() != 5 || b.count() != 5 {
		t.Fatalf("expected 5 events each, got %d and %d", a.count(), b.count())
	}
	d.TaskChanged(context.Background(), sampleEvent(6))
	if a.count() != 5 {
		t.Fatalf("closed dispatcher must drop events")
	}
}

func TestDispatcherLogsPublishFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := &recordingPublisher{err: errors.New("boom")}
	d := NewDispatcher(Config{Workers: 1, Buffer: 1}, logger, p)
	d.TaskChanged(context.Background(), sampleEvent(9))
	d.Close()

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel && entry.Message == "publish failed" && entry.Data["task"] == int64(9) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestDispatcherPublishesInlineWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := &recordingPublisher{delay: 50 * time.Millisecond}
	d := NewDispatcher(Config{Workers: 1, Buffer: 1}, logger, p)

	for i := int64(1); i <= 4; i++ {
		d.TaskChanged(context.Background(), sampleEvent(i))
	}
	d.Close()

	if p.count() != 4 {
		t.Fatalf("every event must be published, got %d", p.count())
	}
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected saturation warning")
	}
}
