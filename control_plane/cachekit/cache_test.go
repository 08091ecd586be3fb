package cachekit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

func TestGetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c := New(StrategyTime, time.Minute, 100)
	var calls int32

	key := types.CustomKey("k1")
	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(50 * time.Millisecond)
				return "computed", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "computed", r)
	}
}

func TestGetOrCompute_ErrorsNeverCached(t *testing.T) {
	c := New(StrategyManual, time.Minute, 100)
	key := types.CustomKey("k2")

	attempt := 0
	_, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		attempt++
		return nil, assertErr{}
	})
	require.Error(t, err)

	v, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		attempt++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempt)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestInvalidateByDependency_RemovesDependentEntries(t *testing.T) {
	c := New(StrategyDependency, time.Minute, 100)
	dep := types.AgentKey("agent-1")
	key := types.TaskMetricsKey("task-1")

	_, err := c.GetOrCompute(context.Background(), key, []types.CacheKey{dep}, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)

	c.InvalidateByDependency(dep)

	recomputed := false
	v, err := c.GetOrCompute(context.Background(), key, []types.CacheKey{dep}, func(ctx context.Context) (any, error) {
		recomputed = true
		return 43, nil
	})
	require.NoError(t, err)
	assert.True(t, recomputed, "expected a recompute after dependency invalidation")
	assert.Equal(t, 43, v)
}

func TestInvalidate_IsImmediatelyVisible(t *testing.T) {
	c := New(StrategyManual, time.Minute, 100)
	key := types.SystemStatusKey("overview")

	_, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		return "v1", nil
	})
	require.NoError(t, err)

	c.Invalidate(key)

	v, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		return "v2", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestTimeStrategy_ExpiresAfterTTL(t *testing.T) {
	c := New(StrategyTime, 10*time.Millisecond, 100)
	key := types.CustomKey("ttl-key")

	_, err := c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		return "v1", nil
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	recomputed := false
	_, err = c.GetOrCompute(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		recomputed = true
		return "v2", nil
	})
	require.NoError(t, err)
	assert.True(t, recomputed)
}
