package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

type fixedSource struct {
	snap types.ScalingMetrics
}

func (f fixedSource) Collect(ctx context.Context, agentCount int) types.ScalingMetrics {
	m := f.snap
	m.AgentCount = agentCount
	return m
}

func TestTick_ScaleUpFiresWhenQueueDepthSustained(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	r.Create(types.Worker(), nil, 10)

	policy := &Policy{
		ID:       "scale-up-on-depth",
		Priority: 10,
		Trigger:  Trigger{Kind: TriggerQueueDepth, Threshold: 5, SustainedFor: 0},
		Action:   Action{Kind: ActionScaleUp, Count: 2, NewAgentKind: types.Worker()},
		Cooldown: time.Minute,
	}
	source := fixedSource{snap: types.ScalingMetrics{AggregateQueueDepth: 10}}
	as := NewAutoScaler(r, source, nil, []*Policy{policy}, 1, 10, 10)

	evt := as.Tick(context.Background())
	require.NotNil(t, evt, "with SustainedFor 0 the queue-depth trigger fires on the first tick at or above threshold")
	assert.Equal(t, types.DecisionScaleUp, evt.Decision)
	assert.True(t, evt.Success)
	assert.Len(t, evt.AffectedAgents, 2)

	evt = as.Tick(context.Background())
	require.Nil(t, evt, "the policy's cooldown suppresses a second firing")
}

func TestTick_RespectsCooldown(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	r.Create(types.Worker(), nil, 10)

	policy := &Policy{
		ID:       "scale-up",
		Trigger:  Trigger{Kind: TriggerUtilizationBand, MinUtilization: 0.2, MaxUtilization: 0.8},
		Action:   Action{Kind: ActionScaleUp, Count: 1, NewAgentKind: types.Worker()},
		Cooldown: time.Hour,
	}
	source := fixedSource{snap: types.ScalingMetrics{Utilization: 0.95}}
	as := NewAutoScaler(r, source, nil, []*Policy{policy}, 1, 10, 10)

	first := as.Tick(context.Background())
	require.NotNil(t, first)

	second := as.Tick(context.Background())
	assert.Nil(t, second, "cooldown should suppress the second firing")
}

func TestScaleUp_RefusesAtMaximum(t *testing.T) {
	sched := newFakeScheduler()
	r := New(sched, time.Minute)
	r.Create(types.Worker(), nil, 10)
	r.Create(types.Worker(), nil, 10)

	as := NewAutoScaler(r, fixedSource{}, nil, nil, 1, 2, 10)
	ids, ok, reason := as.scaleUp(Action{Kind: ActionScaleUp, Count: 5, NewAgentKind: types.Worker()}, 2)
	assert.False(t, ok)
	assert.Empty(t, ids)
	assert.Contains(t, reason, "maximum")
}

func TestScaleDown_RefusesBelowMinimum(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	r.Create(types.Worker(), nil, 10)

	as := NewAutoScaler(r, fixedSource{}, nil, nil, 1, 10, 10)
	ids, ok, reason := as.scaleDown(Action{Kind: ActionScaleDown, DownCount: 1, Strategy: StrategyLeastRecentlyUsed}, 1)
	assert.False(t, ok)
	assert.Empty(t, ids)
	assert.Contains(t, reason, "minimum")
}

func TestScaleDown_SelectsLowestPerformanceFirst(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	weak, _ := r.Create(types.Worker(), []types.Capability{{Name: "x", Proficiency: 0.1}}, 10)
	r.Create(types.Worker(), []types.Capability{{Name: "x", Proficiency: 0.9}}, 10)

	as := NewAutoScaler(r, fixedSource{}, nil, nil, 0, 10, 10)
	ids, ok, _ := as.scaleDown(Action{Kind: ActionScaleDown, DownCount: 1, Strategy: StrategyLowestPerformance}, 2)
	require.True(t, ok)
	require.Len(t, ids, 1)
	assert.Equal(t, weak.ID, ids[0])
}

func TestReplace_InheritsCapabilitiesWithUplift(t *testing.T) {
	r := New(newFakeScheduler(), time.Minute)
	old, _ := r.Create(types.Worker(), []types.Capability{{Name: "x", Proficiency: 0.1, LearningRate: 0.05}}, 10)

	as := NewAutoScaler(r, fixedSource{}, nil, nil, 0, 10, 10)
	ids, ok, _ := as.replace(Action{Kind: ActionReplace, ProficiencyThreshold: 0.5, ReplaceKind: types.Worker(), ProficiencyUplift: 0.2})
	require.True(t, ok)
	require.Len(t, ids, 2)
	assert.Equal(t, old.ID, ids[0])

	replacement, err := r.Get(ids[1])
	require.NoError(t, err)
	p, _ := replacement.Proficiency("x")
	assert.InDelta(t, 0.3, p, 0.001)
}

func TestSwarmCohesion_FewerThanTwoAgentsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, SwarmCohesion(nil))
	assert.Equal(t, 0.0, SwarmCohesion([]types.Agent{{}}))
}

func TestSwarmCohesion_NormalizedToUnitInterval(t *testing.T) {
	agents := []types.Agent{
		{Position: types.Position{X: 0, Y: 0}},
		{Position: types.Position{X: 10, Y: 0}},
		{Position: types.Position{X: 5, Y: 5}},
	}
	c := SwarmCohesion(agents)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
}
