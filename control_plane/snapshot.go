package main

import (
	"context"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/agentpool"
	"github.com/fluxforge/orchestrator/control_plane/coordination"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/scheduler"
	"github.com/fluxforge/orchestrator/control_plane/statusfeed"
	"github.com/fluxforge/orchestrator/control_plane/timeline"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// scalingMetricsSource adapts scheduler.Scheduler and metrics.Aggregator
// into agentpool.MetricsSource, the snapshot the auto-scaler evaluates
// each tick.
type scalingMetricsSource struct {
	sched      *scheduler.Scheduler
	aggregator *metrics.Aggregator
}

func (s *scalingMetricsSource) Collect(ctx context.Context, agentCount int) types.ScalingMetrics {
	return types.ScalingMetrics{
		AgentCount:          agentCount,
		AggregateQueueDepth: s.sched.IntakeDepth(),
		MeanResponseLatency: time.Duration(s.aggregator.WindowMean("task.latency_ms", time.Minute)) * time.Millisecond,
		Utilization:         s.aggregator.WindowMean("agent.utilization", time.Minute),
		FailureRate:         s.aggregator.Rate("task.failure", time.Minute),
		CPUPercent:          s.aggregator.WindowMean("host.cpu_percent", time.Minute),
		MemoryPercent:       s.aggregator.WindowMean("host.memory_percent", time.Minute),
	}
}

// statusSnapshotSource adapts the live registry/scheduler/elector/timeline
// into statusfeed.SnapshotSource, implementing the Collect seam that
// package documents as "implemented by the top-level wiring code".
type statusSnapshotSource struct {
	registry *agentpool.Registry
	sched    *scheduler.Scheduler
	elector  *coordination.LeaderElector
	timeline *timeline.Store
}

func (s *statusSnapshotSource) Collect(ctx context.Context) statusfeed.Snapshot {
	now := time.Now()
	counts := s.registry.CountByState()
	agentCounts := make(map[string]int, len(counts))
	for state, n := range counts {
		agentCounts[string(state)] = n
	}

	var isLeader bool
	var epoch int64
	if s.elector != nil {
		st := s.elector.GetState()
		isLeader = s.elector.IsLeader()
		epoch = st.CurrentEpoch
	}

	var recent []statusfeed.ScalingSummary
	if s.timeline != nil {
		for _, e := range s.timeline.Recent(10) {
			recent = append(recent, statusfeed.ScalingSummary{
				PolicyID: e.PolicyID,
				Decision: e.Decision,
				Success:  e.Success,
			})
		}
	}

	return statusfeed.Snapshot{
		AgentCounts: agentCounts,
		QueueDepth:  s.sched.IntakeDepth(),
		OldestWait:  s.sched.OldestWait(now),
		IsLeader:    isLeader,
		Epoch:       epoch,
		RecentScale: recent,
		Timestamp:   now,
	}
}
