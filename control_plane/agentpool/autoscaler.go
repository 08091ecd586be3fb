package agentpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/timeline"
	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/google/uuid"
)

// MetricsSource collects the ScalingMetrics snapshot each evaluation
// tick. Implemented by the top-level wiring code,
// pulling queue depth from scheduler.Scheduler and response/failure
// rates from metrics.Aggregator.
type MetricsSource interface {
	Collect(ctx context.Context, agentCount int) types.ScalingMetrics
}

// TriggerKind is the closed set of auto-scaler trigger types.
type TriggerKind string

const (
	TriggerQueueDepth      TriggerKind = "queue-depth"
	TriggerUtilizationBand TriggerKind = "utilization-band"
	TriggerFailureRate     TriggerKind = "failure-rate"
	TriggerResponseTime    TriggerKind = "response-time"
	TriggerResource        TriggerKind = "resource"
	TriggerSchedule        TriggerKind = "schedule"
)

// Trigger evaluates one condition against a metrics snapshot and the
// current wall clock (needed only by TriggerSchedule).
type Trigger struct {
	Kind TriggerKind

	// queue-depth / response-time / resource: thresholds.
	Threshold float64
	// queue-depth: minimum duration the condition must hold before firing.
	SustainedFor time.Duration
	// utilization-band.
	MinUtilization, MaxUtilization float64
	// schedule: active window, wall-clock hour-of-day [0,24).
	ActiveStartHour, ActiveEndHour int
}

// fires reports whether t's condition currently holds against snapshot.
// sustainedSince is the time the queue-depth condition first became
// true (zero if not yet true), used to enforce SustainedFor.
func (t Trigger) fires(snap types.ScalingMetrics, now time.Time, sustainedSince time.Time) bool {
	switch t.Kind {
	case TriggerQueueDepth:
		if float64(snap.AggregateQueueDepth) < t.Threshold {
			return false
		}
		if sustainedSince.IsZero() {
			return false
		}
		return now.Sub(sustainedSince) >= t.SustainedFor
	case TriggerUtilizationBand:
		return snap.Utilization < t.MinUtilization || snap.Utilization > t.MaxUtilization
	case TriggerFailureRate:
		return snap.FailureRate > t.Threshold
	case TriggerResponseTime:
		return float64(snap.MeanResponseLatency.Milliseconds()) > t.Threshold
	case TriggerResource:
		return snap.CPUPercent > t.Threshold || snap.MemoryPercent > t.Threshold
	case TriggerSchedule:
		h := now.Hour()
		if t.ActiveStartHour <= t.ActiveEndHour {
			return h >= t.ActiveStartHour && h < t.ActiveEndHour
		}
		// window wraps midnight
		return h >= t.ActiveStartHour || h < t.ActiveEndHour
	default:
		return false
	}
}

// ActionKind is the closed set of auto-scaler actions.
type ActionKind string

const (
	ActionScaleUp  ActionKind = "scale_up"
	ActionScaleDown ActionKind = "scale_down"
	ActionReplace  ActionKind = "replace"
)

// ScaleDownStrategy selects which agents to retire.
type ScaleDownStrategy string

const (
	StrategyLeastRecentlyUsed       ScaleDownStrategy = "least_recently_used"
	StrategyLowestPerformance       ScaleDownStrategy = "lowest_performance"
	StrategyHighestEnergyConsumption ScaleDownStrategy = "highest_energy_consumption"
	StrategyFewestCapabilities      ScaleDownStrategy = "fewest_capabilities"
)

// Action describes what a firing policy does.
type Action struct {
	Kind ActionKind

	// scale_up
	Count        int
	NewAgentKind types.AgentKind
	Capabilities []types.Capability

	// scale_down
	DownCount int
	Strategy  ScaleDownStrategy

	// replace
	ProficiencyThreshold float64
	ReplaceKind          types.AgentKind
	ProficiencyUplift    float64
}

// Policy binds a trigger to an action with a cooldown.
type Policy struct {
	ID       string
	Priority int
	Trigger  Trigger
	Action   Action
	Cooldown time.Duration

	lastFired      time.Time
	sustainedSince time.Time
}

// AutoScaler runs the periodic control loop that adjusts agent
// population to workload. Grounded on
// coordination/leader.go's ticker-driven control-loop shape and
// coordination/agent_monitor.go's periodic sweep pattern.
type AutoScaler struct {
	registry *Registry
	source   MetricsSource
	timeline *timeline.Store

	mu       sync.Mutex
	policies []*Policy

	minAgents, maxAgents int
	memoryCapacity       int

	inFlight bool
	now      func() time.Time
}

// NewAutoScaler constructs an AutoScaler. Policies are evaluated in the
// order given by Priority, highest first. tl records every decision for
// later audit; pass a timeline.Store sized to the
// deployment's retention needs.
func NewAutoScaler(registry *Registry, source MetricsSource, tl *timeline.Store, policies []*Policy, minAgents, maxAgents, memoryCapacity int) *AutoScaler {
	sorted := append([]*Policy(nil), policies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &AutoScaler{
		registry:       registry,
		source:         source,
		timeline:       tl,
		policies:       sorted,
		minAgents:      minAgents,
		maxAgents:      maxAgents,
		memoryCapacity: memoryCapacity,
		now:            time.Now,
	}
}

// Run blocks, evaluating the control loop every interval until ctx is
// cancelled.
func (a *AutoScaler) Run(ctx context.Context, interval time.Duration) {
	log := logging.Component(ctx, "autoscaler")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Dur("interval", interval).Msg("auto-scaler control loop starting")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evt := a.Tick(ctx); evt != nil {
				log.Info().Str("policy", evt.PolicyID).Str("decision", string(evt.Decision)).Bool("success", evt.Success).Msg("scaling action taken")
			}
		}
	}
}

// Tick runs one evaluation iteration: collect metrics, evaluate
// policies in priority order, fire at most one: "exactly one scaling
// action in flight at any moment". Returns the
// ScalingEvent produced, or nil if no policy fired.
func (a *AutoScaler) Tick(ctx context.Context) *types.ScalingEvent {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return nil
	}
	a.inFlight = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	now := a.now()
	counts := a.registry.CountByState()
	agentCount := counts[types.AgentIdle] + counts[types.AgentWorking] + counts[types.AgentFailed]
	snap := a.source.Collect(ctx, agentCount)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range a.policies {
		if p.Trigger.Kind == TriggerQueueDepth {
			if float64(snap.AggregateQueueDepth) >= p.Trigger.Threshold {
				if p.sustainedSince.IsZero() {
					p.sustainedSince = now
				}
			} else {
				p.sustainedSince = time.Time{}
			}
		}
		if !p.Trigger.fires(snap, now, p.sustainedSince) {
			continue
		}
		if now.Sub(p.lastFired) < p.Cooldown {
			continue
		}
		evt := a.apply(ctx, p, snap, now)
		p.lastFired = now
		return evt
	}
	return nil
}

func (a *AutoScaler) apply(ctx context.Context, p *Policy, before types.ScalingMetrics, now time.Time) *types.ScalingEvent {
	evt := &types.ScalingEvent{
		PolicyID:  p.ID,
		Timestamp: now,
		Before:    before,
	}
	switch p.Action.Kind {
	case ActionScaleUp:
		evt.Decision = types.DecisionScaleUp
		evt.AffectedAgents, evt.Success, evt.Reason = a.scaleUp(p.Action, before.AgentCount)
	case ActionScaleDown:
		evt.Decision = types.DecisionScaleDown
		evt.AffectedAgents, evt.Success, evt.Reason = a.scaleDown(p.Action, before.AgentCount)
	case ActionReplace:
		evt.Decision = types.DecisionReplace
		evt.AffectedAgents, evt.Success, evt.Reason = a.replace(p.Action)
	}
	outcome := "fired"
	if !evt.Success {
		outcome = "refused"
	}
	metrics.ScalingActions.WithLabelValues(string(evt.Decision), outcome).Inc()
	if a.timeline != nil {
		a.timeline.Record(timeline.Event{
			EventID:   uuid.NewString(),
			PolicyID:  evt.PolicyID,
			Decision:  string(evt.Decision),
			AgentIDs:  evt.AffectedAgents,
			Success:   evt.Success,
			Reason:    evt.Reason,
			Timestamp: evt.Timestamp,
		})
	}
	_ = ctx
	return evt
}

// scaleUp creates up to action.Count agents, bounded by maxAgents.
func (a *AutoScaler) scaleUp(action Action, currentCount int) (ids []string, ok bool, reason string) {
	n := action.Count
	if currentCount+n > a.maxAgents {
		n = a.maxAgents - currentCount
	}
	if n <= 0 {
		return nil, false, "at maximum agent count"
	}
	for i := 0; i < n; i++ {
		agent, err := a.registry.Create(action.NewAgentKind, action.Capabilities, a.memoryCapacity)
		if err != nil {
			continue
		}
		ids = append(ids, agent.ID)
	}
	return ids, len(ids) > 0, ""
}

// scaleDown selects up to action.DownCount agents by action.Strategy and
// retires them. The count is reduced so the population does not drop
// below minAgents; the action is refused only when no agent can be
// retired without going below it.
func (a *AutoScaler) scaleDown(action Action, currentCount int) (ids []string, ok bool, reason string) {
	n := action.DownCount
	if currentCount-n < a.minAgents {
		n = currentCount - a.minAgents
	}
	if n <= 0 {
		return nil, false, "at minimum agent count"
	}

	candidates := a.registry.Snapshot()
	selected := selectForScaleDown(candidates, action.Strategy, n)
	for _, agent := range selected {
		if err := a.registry.Retire(agent.ID, "scale_down:"+string(action.Strategy), nil); err == nil {
			ids = append(ids, agent.ID)
		}
	}
	return ids, len(ids) > 0, ""
}

// replace retires agents whose aggregate proficiency falls below
// action.ProficiencyThreshold and creates a replacement of
// action.ReplaceKind per retiree, inheriting the old agent's capability
// list with a proficiency uplift.
func (a *AutoScaler) replace(action Action) (ids []string, ok bool, reason string) {
	candidates := a.registry.Snapshot()
	var toReplace []*types.Agent
	for _, agent := range candidates {
		if aggregateProficiency(agent) < action.ProficiencyThreshold {
			toReplace = append(toReplace, agent)
		}
	}
	if len(toReplace) == 0 {
		return nil, false, "no agents below proficiency threshold"
	}

	for _, old := range toReplace {
		if err := a.registry.Retire(old.ID, "replace:low_proficiency", nil); err != nil {
			continue
		}
		inherited := make([]types.Capability, len(old.Capabilities))
		for i, c := range old.Capabilities {
			uplifted := c.Proficiency + action.ProficiencyUplift
			if uplifted > 1 {
				uplifted = 1
			}
			inherited[i] = types.Capability{Name: c.Name, Proficiency: uplifted, LearningRate: c.LearningRate}
		}
		replacement, err := a.registry.Create(action.ReplaceKind, inherited, a.memoryCapacity)
		if err != nil {
			continue
		}
		ids = append(ids, old.ID, replacement.ID)
	}
	return ids, len(ids) > 0, ""
}

func aggregateProficiency(agent *types.Agent) float64 {
	if len(agent.Capabilities) == 0 {
		return 0
	}
	var sum float64
	for _, c := range agent.Capabilities {
		sum += c.Proficiency
	}
	return sum / float64(len(agent.Capabilities))
}

// selectForScaleDown orders candidates by strategy (worst-first) and
// returns the first n. Retired/Failed agents are never selected — only
// Idle/Working agents are live scale-down targets.
func selectForScaleDown(agents []*types.Agent, strategy ScaleDownStrategy, n int) []*types.Agent {
	var live []*types.Agent
	for _, a := range agents {
		if a.State == types.AgentIdle || a.State == types.AgentWorking {
			live = append(live, a)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		switch strategy {
		case StrategyLeastRecentlyUsed:
			return live[i].LastHeartbeat.Before(live[j].LastHeartbeat)
		case StrategyLowestPerformance:
			return aggregateProficiency(live[i]) < aggregateProficiency(live[j])
		case StrategyHighestEnergyConsumption:
			// Highest consumption == lowest remaining energy first.
			return live[i].Energy < live[j].Energy
		case StrategyFewestCapabilities:
			return len(live[i].Capabilities) < len(live[j].Capabilities)
		default:
			return false
		}
	})
	if n > len(live) {
		n = len(live)
	}
	return live[:n]
}
