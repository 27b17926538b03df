// Package cache keeps recently loaded datasets close to the service so
// repeated chart and statistics requests skip the storage round trip.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces dataset entries.
const KeyPrefix = "dataloom:csv:"

// Cache stores opaque blobs by dataset id.
type Cache interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Set(ctx context.Context, id string, val []byte) error
	Delete(ctx context.Context, id string) error
}

// Nop never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Delete(context.Context, string) error              { return nil }

// Redis is a Cache backed by a go-redis client.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, id string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, KeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, id string, val []byte) error {
	return r.client.Set(ctx, KeyPrefix+id, val, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, KeyPrefix+id).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// Memory is a process-local Cache with per-entry expiry. A zero ttl keeps
// entries until deleted.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, id)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, id string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{val: append([]byte(nil), val...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[id] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}
