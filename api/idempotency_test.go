package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduper(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})

	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "kanbanTasks", "k1")
	if err != nil || !added {
		t.Fatalf("first add = %v, %v; want true", added, err)
	}
	added, err = deduper.Add(ctx, "kanbanTasks", "k1")
	if err != nil || added {
		t.Fatalf("second add = %v, %v; want false", added, err)
	}
	added, err = deduper.Add(ctx, "user:kanbanTasks", "k1")
	if err != nil || !added {
		t.Fatalf("other board add = %v, %v; want true", added, err)
	}

	if ttl := m.TTL(dedupeKey("kanbanTasks", "k1")); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := deduper.Remove(ctx, "kanbanTasks", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.Exists(dedupeKey("kanbanTasks", "k1")) {
		t.Fatalf("expected key to be removed")
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if added, _ := d.Add(ctx, "b", "k"); !added {
		t.Fatalf("expected first add to succeed")
	}
	if added, _ := d.Add(ctx, "b", "k"); added {
		t.Fatalf("expected duplicate to be rejected")
	}
	now = now.Add(2 * time.Minute)
	if added, _ := d.Add(ctx, "b", "k"); !added {
		t.Fatalf("expected key to expire")
	}
	_ = d.Remove(ctx, "b", "k")
	if added, _ := d.Add(ctx, "b", "k"); !added {
		t.Fatalf("expected removed key to be addable")
	}
}
