package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

type fakeAgents struct {
	mu     sync.Mutex
	agents []*types.Agent
}

func (f *fakeAgents) Snapshot() []*types.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Agent, len(f.agents))
	copy(out, f.agents)
	return out
}

func testConfig() Config {
	return Config{
		IntakeCapacity: 100,
		RetryBase:      time.Millisecond,
		RetryCeiling:   10 * time.Millisecond,
		StarvationAge:  time.Hour,
		QueueThreshold: 1000,
	}
}

func TestSubmitAndClaim_PriorityOrder(t *testing.T) {
	agents := &fakeAgents{agents: []*types.Agent{{ID: "a1", Kind: types.Worker(), State: types.AgentIdle}}}
	s := New(testConfig(), agents)
	s.RegisterAgent("a1")

	low := &types.Task{ID: "low", Priority: types.Low}
	crit := &types.Task{ID: "crit", Priority: types.Critical}
	require.NoError(t, s.Submit(context.Background(), low))
	require.NoError(t, s.Submit(context.Background(), crit))

	got, err := s.Claim(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "crit", got.ID)

	got, err = s.Claim(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "low", got.ID)

	_, err = s.Claim(context.Background(), "a1")
	assert.ErrorIs(t, err, faults.ErrNoWork)
}

func TestClaim_PrefersLocalQueueOverIntake(t *testing.T) {
	agents := &fakeAgents{agents: []*types.Agent{{ID: "a1", Kind: types.Worker(), State: types.AgentIdle}}}
	s := New(testConfig(), agents)
	s.RegisterAgent("a1")

	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "intake-task", Priority: types.Medium}))

	s.mu.RLock()
	q := s.queues["a1"]
	s.mu.RUnlock()
	q.PushFront(&types.Task{ID: "local-task", Priority: types.Low})

	got, err := s.Claim(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "local-task", got.ID)
}

func TestSteal_NeverTakesLastTask(t *testing.T) {
	agents := &fakeAgents{agents: []*types.Agent{
		{ID: "owner", Kind: types.Worker(), State: types.AgentIdle},
		{ID: "thief", Kind: types.Worker(), State: types.AgentIdle},
	}}
	s := New(testConfig(), agents)
	s.RegisterAgent("owner")
	s.RegisterAgent("thief")

	s.mu.RLock()
	ownerQ := s.queues["owner"]
	s.mu.RUnlock()
	ownerQ.PushFront(&types.Task{ID: "only-task"})

	got, err := s.Claim(context.Background(), "thief")
	assert.ErrorIs(t, err, faults.ErrNoWork)
	assert.Nil(t, got)

	ownerQ.PushFront(&types.Task{ID: "second-task"})
	got, err = s.Claim(context.Background(), "thief")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestComplete_RetryableFaultSchedulesRetry(t *testing.T) {
	s := New(testConfig(), nil)
	s.RegisterAgent("a1")
	task := &types.Task{ID: "t1", Attempt: 0}

	s.Complete(task, faults.New(faults.Transient, "flaky dependency"))
	assert.Equal(t, 1, task.Attempt)

	require.Eventually(t, func() bool {
		return s.ReleaseRetries() == 1
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestComplete_PermanentFaultIsNotRetried(t *testing.T) {
	s := New(testConfig(), nil)
	task := &types.Task{ID: "t1"}
	s.Complete(task, faults.New(faults.Permanent, "bad input"))
	assert.Equal(t, 0, s.retry.Len())
}

func TestSubmit_RejectsWhenIntakeFull(t *testing.T) {
	cfg := testConfig()
	cfg.IntakeCapacity = 1
	s := New(cfg, nil)

	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "t1"}))
	err := s.Submit(context.Background(), &types.Task{ID: "t2"})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.CapacityExhausted))
}

func TestUnregisterAgent_ReturnsRemainingTasksForRequeue(t *testing.T) {
	s := New(testConfig(), nil)
	s.RegisterAgent("a1")
	s.mu.RLock()
	q := s.queues["a1"]
	s.mu.RUnlock()
	q.PushFront(&types.Task{ID: "t1"})
	q.PushFront(&types.Task{ID: "t2"})

	remaining := s.UnregisterAgent("a1")
	assert.Len(t, remaining, 2)
}

func TestPromoteStarved_BumpsAgedTasks(t *testing.T) {
	cfg := testConfig()
	cfg.StarvationAge = time.Millisecond
	s := New(cfg, nil)
	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "t1", Priority: types.Low}))

	time.Sleep(5 * time.Millisecond)
	promoted := s.PromoteStarved(time.Now())
	assert.Equal(t, 1, promoted)
}
