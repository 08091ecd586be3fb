package agentpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

type fakeScheduler struct {
	registered   []string
	unregistered []string
	drainedFor   map[string][]*types.Task
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{drainedFor: make(map[string][]*types.Task)}
}

func (f *fakeScheduler) RegisterAgent(id string) { f.registered = append(f.registered, id) }

func (f *fakeScheduler) UnregisterAgent(id string) []*types.Task {
	f.unregistered = append(f.unregistered, id)
	return f.drainedFor[id]
}

func TestCreate_InsertsIdleAndRegistersQueue(t *testing.T) {
	sched := newFakeScheduler()
	r := New(sched, time.Minute)

	agent, err := r.Create(types.Worker(), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, agent.State)
	assert.Contains(t, sched.registered, agent.ID)
}

func TestCreate_SpecialistWithoutSpecIsRejected(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	_, err := r.Create(types.AgentKind{Tag: "specialist"}, nil, 10)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.Validation))
}

func TestTransition_IllegalTransitionRejected(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	agent, err := r.Create(types.Worker(), nil, 10)
	require.NoError(t, err)

	// Idle -> Idle is not a legal transition (no-op is not in the table).
	err = r.Transition(agent.ID, types.AgentIdle)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.Conflict))

	require.NoError(t, r.Transition(agent.ID, types.AgentWorking))
	got, err := r.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentWorking, got.State)
}

func TestTransition_FailedToIdleAllowsRetry(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	agent, _ := r.Create(types.Worker(), nil, 10)
	require.NoError(t, r.Transition(agent.ID, types.AgentFailed))
	require.NoError(t, r.Transition(agent.ID, types.AgentIdle))
}

func TestRetire_DrainsLocalQueueAndRequeues(t *testing.T) {
	sched := newFakeScheduler()
	r := New(sched, time.Minute)
	agent, _ := r.Create(types.Worker(), nil, 10)

	leftover := []*types.Task{{ID: "t1"}, {ID: "t2"}}
	sched.drainedFor[agent.ID] = leftover

	var requeued []*types.Task
	err := r.Retire(agent.ID, "test", func(ts []*types.Task) { requeued = ts })
	require.NoError(t, err)

	got, _ := r.Get(agent.ID)
	assert.Equal(t, types.AgentRetired, got.State)
	assert.Len(t, requeued, 2)
	assert.Contains(t, sched.unregistered, agent.ID)

	// Retiring twice is a conflict.
	err = r.Retire(agent.ID, "again", nil)
	require.Error(t, err)
}

func TestPurgeExpiredTombstones_MovesToTombstoneMap(t *testing.T) {
	r := New(newFakeScheduler(), 10*time.Millisecond)
	agent, _ := r.Create(types.Worker(), nil, 10)
	require.NoError(t, r.Retire(agent.ID, "test", nil))

	purged := r.PurgeExpiredTombstones(time.Now())
	assert.Equal(t, 0, purged, "grace period has not elapsed yet")

	purged = r.PurgeExpiredTombstones(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, 1, purged)

	_, err := r.Get(agent.ID)
	assert.Error(t, err)

	ts, ok := r.Tombstone(agent.ID)
	assert.True(t, ok)
	assert.True(t, ts.Retired)
}

func TestMarkFailedByStaleHeartbeat(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	agent, _ := r.Create(types.Worker(), nil, 10)

	failed := r.MarkFailedByStaleHeartbeat(time.Millisecond, time.Now().Add(10*time.Millisecond))
	assert.Contains(t, failed, agent.ID)

	got, _ := r.Get(agent.ID)
	assert.Equal(t, types.AgentFailed, got.State)
}

func TestRecordExperience_NudgesProficiency(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	agent, _ := r.Create(types.Worker(), []types.Capability{{Name: "coding", Proficiency: 0.5, LearningRate: 0.1}}, 10)

	require.NoError(t, r.RecordExperience(agent.ID, types.Experience{TaskID: "t1", Success: true}, "coding"))
	got, _ := r.Get(agent.ID)
	p, _ := got.Proficiency("coding")
	assert.InDelta(t, 0.6, p, 0.001)
	assert.Equal(t, 1, got.Memory.Len())
}
