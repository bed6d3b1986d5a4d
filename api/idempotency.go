package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores idempotency keys in Redis so every instance sees them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(owner, key string) string {
	return fmt.Sprintf("idem:%s:%s", owner, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, owner, key string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKey(owner, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, dedupeKey(owner, key)).Err()
}

// MemoryDeduper keeps idempotency keys in process. Used when no Redis is
// configured.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	keys map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

func (m *MemoryDeduper) Add(_ context.Context, owner, key string) (bool, error) {
	k := dedupeKey(owner, key)
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.keys[k]; ok && (m.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	m.keys[k] = now.Add(m.ttl)
	if len(m.keys) > 1024 {
		m.sweepLocked(now)
	}
	return true, nil
}

func (m *MemoryDeduper) Remove(_ context.Context, owner, key string) error {
	m.mu.Lock()
	delete(m.keys, dedupeKey(owner, key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryDeduper) sweepLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
}
