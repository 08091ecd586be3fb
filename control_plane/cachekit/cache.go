// Package cachekit implements the multi-tier cache with invalidation and
// request coalescing. It is grounded on two
// teacher pieces: resilience/degraded_mode.go's bounded local cache with a
// monotonic version counter and LastAccess-based eviction (generalized
// from "fallback cache during a Redis outage" to the general-purpose
// cache every component consults before expensive work), and
// idempotency/store.go's pluggable-backend-with-in-memory-default shape.
// Coalescing is delegated to golang.org/x/sync/singleflight — already a
// transitive dependency of the teacher's own stack — and bounded eviction
// to github.com/hashicorp/golang-lru, a dependency present in the example
// pack via cuemby-warren's hashicorp/raft stack.
package cachekit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// Strategy is the closed set of validity strategies; only
// one is active at a time, selected at construction.
type Strategy string

const (
	StrategyTime       Strategy = "time"
	StrategyVersion    Strategy = "version"
	StrategyDependency Strategy = "dependency"
	StrategyManual     Strategy = "manual"
)

const shardCount = 16

// entry is the internal record stored per shard; it embeds types.CacheEntry
// plus the dependency epochs captured at computation time.
type entry struct {
	types.CacheEntry
	depEpochs map[types.CacheKey]int64
}

type shard struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// Cache is the public multi-tier cache. Safe for concurrent use.
type Cache struct {
	strategy Strategy
	ttl      time.Duration

	shards [shardCount]*shard
	group  singleflight.Group

	epochMu sync.Mutex
	epoch   map[types.CacheKey]int64

	depMu sync.Mutex
	// depIndex[dep] = set of keys whose entries depend on dep, for eager
	// invalidate_by_dependency.
	depIndex map[types.CacheKey]map[types.CacheKey]struct{}

	now func() time.Time
}

// New creates a Cache with the given validity strategy, TTL (used only by
// StrategyTime), and maximum total entry count (split evenly across
// shards, minimum 1 per shard).
func New(strategy Strategy, ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		strategy: strategy,
		ttl:      ttl,
		epoch:    make(map[types.CacheKey]int64),
		depIndex: make(map[types.CacheKey]map[types.CacheKey]struct{}),
		now:      time.Now,
	}
	perShard := maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range c.shards {
		s := &shard{}
		sh := c // capture for eviction callback
		cache, _ := lru.NewWithEvict(perShard, func(key interface{}, value interface{}) {
			sh.onEvict(value.(*entry))
		})
		s.lru = cache
		c.shards[i] = s
	}
	return c
}

func (c *Cache) shardFor(key types.CacheKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(key.Tag) + "|" + key.Payload))
	return c.shards[h.Sum32()%shardCount]
}

func keyString(key types.CacheKey) string {
	return fmt.Sprintf("%s:%s", key.Tag, key.Payload)
}

// onEvict fires when the LRU backing store drops an entry for capacity.
// Its dependency-index membership is left in place: InvalidateByDependency
// calls Remove on the key's shard, which is a no-op for a key that is no
// longer present, so a stale index entry for an already-evicted key is
// harmless, not incorrect.
func (c *Cache) onEvict(e *entry) {
	metrics.CacheEvictions.WithLabelValues("lru").Inc()
	_ = e
}

func (c *Cache) currentEpoch(key types.CacheKey) int64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epoch[key]
}

func (c *Cache) bumpEpoch(key types.CacheKey) int64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	c.epoch[key]++
	return c.epoch[key]
}

// valid reports whether e is still usable under the active strategy.
func (c *Cache) valid(key types.CacheKey, e *entry) bool {
	switch c.strategy {
	case StrategyTime:
		return c.now().Sub(e.CachedAt) < c.ttl
	case StrategyVersion:
		return e.Version == c.currentEpoch(key)
	case StrategyDependency:
		for dep, capturedEpoch := range e.depEpochs {
			if c.currentEpoch(dep) != capturedEpoch {
				return false
			}
		}
		return true
	case StrategyManual:
		// Entries are valid until explicitly invalidated; LRU/backing
		// store removal is the only other way they disappear.
		return true
	default:
		return false
	}
}

// ComputeFunc is the expensive computation behind a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// GetOrCompute is the cache's only public entry point. It
// returns the cached value if present and valid; otherwise it coalesces
// concurrent callers of the same key onto a single execution of fn and
// stores the result (errors are never cached).
func (c *Cache) GetOrCompute(ctx context.Context, key types.CacheKey, deps []types.CacheKey, fn ComputeFunc) (any, error) {
	s := c.shardFor(key)
	ks := keyString(key)

	s.mu.Lock()
	if raw, ok := s.lru.Get(ks); ok {
		e := raw.(*entry)
		if c.valid(key, e) {
			e.AccessedAt = c.now()
			s.mu.Unlock()
			metrics.CacheHits.WithLabelValues("hit").Inc()
			return e.Value, nil
		}
		s.lru.Remove(ks)
	}
	s.mu.Unlock()

	result, err, shared := c.group.Do(ks, func() (interface{}, error) {
		depEpochs := make(map[types.CacheKey]int64, len(deps))
		for _, d := range deps {
			depEpochs[d] = c.currentEpoch(d)
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, s, ks, v, deps, depEpochs)
		return v, nil
	})
	if shared {
		metrics.CacheHits.WithLabelValues("coalesced").Inc()
	} else {
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// store records value under key. depEpochs must be the dependency epochs
// sampled before fn ran, not after: if InvalidateByDependency bumps a dep
// mid-computation, the stale snapshot is what makes valid() correctly see
// this entry as already-invalid the moment it is read back, rather than
// adopting the post-bump epoch as its own baseline.
func (c *Cache) store(key types.CacheKey, s *shard, ks string, value any, deps []types.CacheKey, depEpochs map[types.CacheKey]int64) {
	e := &entry{
		CacheEntry: types.CacheEntry{
			Value:        value,
			CachedAt:     c.now(),
			AccessedAt:   c.now(),
			Version:      c.currentEpoch(key),
			Dependencies: deps,
		},
		depEpochs: depEpochs,
	}

	if len(deps) > 0 {
		c.depMu.Lock()
		for _, d := range deps {
			set, ok := c.depIndex[d]
			if !ok {
				set = make(map[types.CacheKey]struct{})
				c.depIndex[d] = set
			}
			set[key] = struct{}{}
		}
		c.depMu.Unlock()
	}

	s.mu.Lock()
	s.lru.Add(ks, e)
	s.mu.Unlock()
}

// Invalidate removes key's entry (if any) and bumps its version, O(1)
// amortized.
func (c *Cache) Invalidate(key types.CacheKey) {
	c.bumpEpoch(key)
	s := c.shardFor(key)
	s.mu.Lock()
	s.lru.Remove(keyString(key))
	s.mu.Unlock()
	metrics.CacheEvictions.WithLabelValues("manual").Inc()
}

// InvalidateByDependency bumps dep's version and eagerly invalidates
// every entry currently known to depend on it, satisfying the contract
// that no subsequent GetOrCompute returns a value whose deps include dep.
func (c *Cache) InvalidateByDependency(dep types.CacheKey) {
	c.bumpEpoch(dep)

	c.depMu.Lock()
	affected := make([]types.CacheKey, 0, len(c.depIndex[dep]))
	for k := range c.depIndex[dep] {
		affected = append(affected, k)
	}
	delete(c.depIndex, dep)
	c.depMu.Unlock()

	for _, k := range affected {
		s := c.shardFor(k)
		s.mu.Lock()
		s.lru.Remove(keyString(k))
		s.mu.Unlock()
		metrics.CacheEvictions.WithLabelValues("dependency").Inc()
	}
}

// Warm asynchronously populates the given keys using fetcher, with no
// ordering guarantee between keys.
func (c *Cache) Warm(ctx context.Context, keys []types.CacheKey, deps []types.CacheKey, fetcher func(ctx context.Context, key types.CacheKey) (any, error)) {
	for _, k := range keys {
		k := k
		go func() {
			_, _ = c.GetOrCompute(ctx, k, deps, func(ctx context.Context) (any, error) {
				return fetcher(ctx, k)
			})
		}()
	}
}

// Len returns the total number of entries currently cached, across shards.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.lru.Len()
		s.mu.Unlock()
	}
	return total
}
