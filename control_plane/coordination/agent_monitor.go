package coordination

import (
	"context"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/store"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// AgentMonitor reconciles the durable agent rows against heartbeat
// staleness. It complements, rather than duplicates, agentpool.
// Registry.MarkFailedByStaleHeartbeat: the registry sweep catches
// staleness in the live in-memory state of the process that owns an
// agent; this sweep catches the case where that owning process itself
// died before it could flush a Failed transition to the store, leaving
// a durable row stuck reporting an agent as healthy indefinitely.
type AgentMonitor struct {
	store     store.Store
	interval  time.Duration
	threshold time.Duration
}

func NewAgentMonitor(s store.Store, interval time.Duration, threshold time.Duration) *AgentMonitor {
	return &AgentMonitor{store: s, interval: interval, threshold: threshold}
}

func (m *AgentMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *AgentMonitor) loop(ctx context.Context) {
	log := logging.Component(ctx, "agent_monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Dur("threshold", m.threshold).Msg("starting durable agent liveness sweep")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkLiveness(ctx)
		}
	}
}

func (m *AgentMonitor) checkLiveness(ctx context.Context) {
	log := logging.Component(ctx, "agent_monitor")

	rows, err := m.store.ListAgents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list agents")
		return
	}

	counts := map[types.AgentState]int{}
	now := time.Now()
	for _, row := range rows {
		state := types.AgentState(row.State)
		if state == types.AgentRetired || state == types.AgentFailed {
			counts[state]++
			continue
		}

		if now.Sub(row.LastHeartbeat) > m.threshold {
			log.Warn().Str("agent_id", row.AgentID).Time("last_heartbeat", row.LastHeartbeat).Msg("durable row heartbeat expired, marking failed")
			row.State = string(types.AgentFailed)
			if err := m.store.UpsertAgent(ctx, row); err != nil {
				log.Warn().Err(err).Str("agent_id", row.AgentID).Msg("failed to mark agent row failed")
			}
			counts[types.AgentFailed]++
			continue
		}
		counts[state]++
	}

	for state, count := range counts {
		metrics.AgentCount.WithLabelValues(string(state)).Set(float64(count))
	}
}
