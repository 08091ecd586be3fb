// Package agentpool owns the authoritative set of agents: creation,
// state-machine transitions, retirement with a tombstone grace window,
// and the auto-scaling control loop that adjusts population to workload
// Grounded on the teacher's store/memory.go RWMutex-
// guarded map pattern, generalized from per-tenant Agent/Job rows to the
// full in-memory agent registry.
package agentpool

import (
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/google/uuid"
)

// LocalQueueOwner is the narrow slice of scheduler.Scheduler the registry
// needs when creating or retiring an agent. Declared here (rather than
// imported from the scheduler package) so neither package imports the
// other; control_plane/main.go wires a concrete *scheduler.Scheduler in.
type LocalQueueOwner interface {
	RegisterAgent(agentID string)
	UnregisterAgent(agentID string) []*types.Task
}

// transitions is the closed state table for agent lifecycle transitions.
var transitions = map[types.AgentState]map[types.AgentState]bool{
	types.AgentIdle: {
		types.AgentWorking: true,
		types.AgentFailed:  true,
		types.AgentRetired: true,
	},
	types.AgentWorking: {
		types.AgentIdle:    true,
		types.AgentFailed:  true,
		types.AgentRetired: true,
	},
	types.AgentFailed: {
		types.AgentIdle:    true, // after cooldown, if retried
		types.AgentRetired: true,
	},
	types.AgentRetired: {},
}

// CanTransition reports whether from -> to is a legal agent state
// transition.
func CanTransition(from, to types.AgentState) bool {
	if from == to {
		return false
	}
	allowed, ok := transitions[from]
	return ok && allowed[to]
}

// Registry owns every live and recently-tombstoned agent. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*types.Agent
	tombstones map[string]types.Tombstone

	tombstoneGrace time.Duration
	scheduler      LocalQueueOwner
	now            func() time.Time
}

// New constructs an empty Registry. scheduler receives RegisterAgent/
// UnregisterAgent calls as agents are created and retired; it may be nil
// in tests that don't exercise scheduler wiring.
func New(scheduler LocalQueueOwner, tombstoneGrace time.Duration) *Registry {
	return &Registry{
		agents:         make(map[string]*types.Agent),
		tombstones:     make(map[string]types.Tombstone),
		tombstoneGrace: tombstoneGrace,
		scheduler:      scheduler,
		now:            time.Now,
	}
}

// Create validates spec (here, a kind and capability list), assigns an
// id, and inserts the agent in the Idle state with an empty local queue
// (create(spec)).
func (r *Registry) Create(kind types.AgentKind, capabilities []types.Capability, memoryCapacity int) (*types.Agent, error) {
	if kind.Tag == "" {
		return nil, faults.New(faults.Validation, "agent kind tag must not be empty")
	}
	if kind.Tag == "specialist" && kind.Spec == "" {
		return nil, faults.New(faults.Validation, "specialist agents require a spec")
	}

	now := r.now()
	agent := &types.Agent{
		ID:            uuid.NewString(),
		Kind:          kind,
		Capabilities:  append([]types.Capability(nil), capabilities...),
		State:         types.AgentIdle,
		Energy:        100,
		Memory:        types.NewRingBuffer(memoryCapacity),
		CreatedAt:     now,
		LastStateAt:   now,
		LastHeartbeat: now,
	}

	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()

	if r.scheduler != nil {
		r.scheduler.RegisterAgent(agent.ID)
	}
	return agent.Clone(), nil
}

// Get returns a copy of the agent by id, or a NotFound fault. If the
// agent is retired but still within its tombstone grace window, Get
// still resolves it: existing references can still resolve its id to
// a tombstone.
func (r *Registry) Get(id string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[id]; ok {
		return a.Clone(), nil
	}
	return nil, faults.New(faults.NotFound, "agent not found: "+id)
}

// Tombstone returns the tombstone record for an agent id that
// PurgeExpiredTombstones has removed from the registry. Tombstone records
// are kept indefinitely; nothing removes them.
func (r *Registry) Tombstone(id string) (types.Tombstone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tombstones[id]
	return t, ok
}

// Snapshot returns a copy of every currently registered (non-purged)
// agent. Satisfies scheduler.AgentView.
func (r *Registry) Snapshot() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	return out
}

// Transition enforces the agent lifecycle's state table. Heartbeat is bumped on
// every successful transition.
func (r *Registry) Transition(id string, to types.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return faults.New(faults.NotFound, "agent not found: "+id)
	}
	if !CanTransition(a.State, to) {
		return faults.New(faults.Conflict, "illegal agent state transition").
			WithRetryAfter(0)
	}
	a.State = to
	a.LastStateAt = r.now()
	a.LastHeartbeat = a.LastStateAt
	return nil
}

// RecordExperience appends a task outcome to the agent's bounded memory
// and nudges the relevant capability's proficiency by its learning rate,
// clamped to [0,1].
func (r *Registry) RecordExperience(id string, exp types.Experience, capabilityName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return faults.New(faults.NotFound, "agent not found: "+id)
	}
	if a.Memory != nil {
		a.Memory.Push(exp)
	}
	for i := range a.Capabilities {
		if a.Capabilities[i].Name != capabilityName {
			continue
		}
		delta := a.Capabilities[i].LearningRate
		if !exp.Success {
			delta = -delta
		}
		p := a.Capabilities[i].Proficiency + delta
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		a.Capabilities[i].Proficiency = p
		break
	}
	return nil
}

// Retire drains the agent's local queue back to global intake (via the
// scheduler's UnregisterAgent), marks it Retired, and schedules it for
// purge after the tombstone grace period (retire(id)).
// requeue is the caller's hook for resubmitting drained tasks (normally
// scheduler.Submit for each).
func (r *Registry) Retire(id, reason string, requeue func([]*types.Task)) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return faults.New(faults.NotFound, "agent not found: "+id)
	}
	if !CanTransition(a.State, types.AgentRetired) {
		r.mu.Unlock()
		return faults.New(faults.Conflict, "agent already retired")
	}
	now := r.now()
	a.State = types.AgentRetired
	a.LastStateAt = now
	a.RetiredAt = now
	a.RetiredReason = reason
	r.mu.Unlock()

	var drained []*types.Task
	if r.scheduler != nil {
		drained = r.scheduler.UnregisterAgent(id)
	}
	if requeue != nil && len(drained) > 0 {
		requeue(drained)
	}
	return nil
}

// PurgeExpiredTombstones removes registry entries that have been Retired
// longer than the configured grace period, moving each into the
// tombstones map first so Tombstone can still resolve the id afterward
// (Get returns NotFound for a purged id).
func (r *Registry) PurgeExpiredTombstones(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, a := range r.agents {
		if a.State != types.AgentRetired {
			continue
		}
		if now.Sub(a.RetiredAt) < r.tombstoneGrace {
			continue
		}
		r.tombstones[id] = types.Tombstone{
			ID:        id,
			Retired:   true,
			Reason:    a.RetiredReason,
			RetiredAt: a.RetiredAt,
		}
		delete(r.agents, id)
		purged++
	}
	return purged
}

// MarkFailedByStaleHeartbeat transitions every Idle/Working agent whose
// heartbeat is older than threshold to Failed, mirroring the teacher's
// coordination/agent_monitor.go liveness sweep. Returns the ids
// transitioned.
func (r *Registry) MarkFailedByStaleHeartbeat(threshold time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []string
	for id, a := range r.agents {
		if a.State == types.AgentFailed || a.State == types.AgentRetired {
			continue
		}
		if now.Sub(a.LastHeartbeat) <= threshold {
			continue
		}
		a.State = types.AgentFailed
		a.LastStateAt = now
		failed = append(failed, id)
	}
	return failed
}

// Heartbeat refreshes an agent's LastHeartbeat timestamp.
func (r *Registry) Heartbeat(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return faults.New(faults.NotFound, "agent not found: "+id)
	}
	a.LastHeartbeat = at
	return nil
}

// CountByState returns the number of agents currently in each state.
func (r *Registry) CountByState() map[types.AgentState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[types.AgentState]int, 4)
	for _, a := range r.agents {
		counts[a.State]++
	}
	return counts
}
