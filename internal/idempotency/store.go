// Package idempotency lets cmd/coordinatord's HTTP handlers safely
// retry client-initiated calls (rendezvous, end_training, end_aggregation)
// without double-applying them to a campaign's Driver. Grounded on the
// teacher's control_plane/idempotency/store.go: same Backend interface,
// same Redis-or-in-memory fallback.
package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Response is a cached handler result, replayed verbatim on a repeated
// request carrying the same idempotency key.
type Response struct {
	StatusCode int               `json:"status_code"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

// Backend stores idempotency records with a TTL.
type Backend interface {
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Response, bool, error)
}

// Store is the idempotency API handlers call. It prefers a Redis
// backend when configured and falls back to an in-process map so a
// single-replica deployment still works without Redis.
type Store struct {
	backend Backend
	ttl     time.Duration
}

// NewStore builds a Store backed by backend (pass nil to use an
// in-memory fallback only).
func NewStore(backend Backend, ttl time.Duration) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{backend: backend, ttl: ttl}
}

// Remember returns the cached response for key if present, else calls
// fn, caches its result, and returns it. fn is only ever invoked once
// per key within the TTL window.
func (s *Store) Remember(ctx context.Context, key string, fn func() (Response, error)) (Response, bool, error) {
	if cached, ok, err := s.backend.Get(ctx, key); err != nil {
		return Response{}, false, err
	} else if ok {
		return *cached, true, nil
	}

	resp, err := fn()
	if err != nil {
		return Response{}, false, err
	}
	if err := s.backend.Set(ctx, key, resp, s.ttl); err != nil {
		return resp, false, err
	}
	return resp, false, nil
}

// MemoryBackend is a process-local idempotency Backend.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// NewMemoryBackend builds an empty in-process Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (m *MemoryBackend) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return &entry.resp, true, nil
}

// RedisBackend stores idempotency records in Redis as JSON blobs.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend builds a Backend backed by client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "fedcoord:idempotency:"}
}

func (r *RedisBackend) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Response, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}
