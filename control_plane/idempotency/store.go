// Package idempotency exposes the task-submission API's idempotent-
// response cache: a repeat POST carrying the same Idempotency-Key
// returns the first call's response instead of creating a second Task.
//
// The two-phase LOCK -> EXECUTE -> RESULT handshake that lets a second,
// concurrent retry wait for the first call's result rather than racing
// it already lives in store.RedisStore.ExecuteIdempotent. This package
// adapts that into a pluggable Backend so deployments that run without
// Redis (single-process, tests) still get a best-effort cache instead
// of no protection at all.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Response is the cached shape of an HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Backend executes fn at most once per key, returning the cached
// Response on a repeat call for the same key. A Backend backed by a
// real lock (RedisBackend) also makes a concurrent second caller for
// the same in-flight key wait for the first to finish rather than
// running fn twice; MemoryBackend does not make that guarantee.
type Backend interface {
	Execute(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, error)
}

// Store is the facade the task-submission handler calls through.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Execute(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, error) {
	return s.backend.Execute(ctx, key, fn)
}

// MemoryBackend is a single-process fallback: a plain map guarded by a
// mutex, with a fixed TTL and no inter-request locking. Good enough for
// tests and for deployments that don't run Redis; a real concurrent
// retry can still race fn once under this backend, unlike RedisBackend.
type MemoryBackend struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]memoryEntry
}

type memoryEntry struct {
	resp    Response
	expires time.Time
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{ttl: ttl, m: make(map[string]memoryEntry)}
}

func (b *MemoryBackend) Execute(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, error) {
	b.mu.Lock()
	if e, ok := b.m[key]; ok && time.Now().Before(e.expires) {
		b.mu.Unlock()
		return e.resp, nil
	}
	b.mu.Unlock()

	resp, err := fn(ctx)
	if err != nil {
		return Response{}, err
	}

	b.mu.Lock()
	b.m[key] = memoryEntry{resp: resp, expires: time.Now().Add(b.ttl)}
	b.mu.Unlock()
	return resp, nil
}
