// Package types holds the orchestrator's core data model: Agent, Task,
// VerificationOutcome, CacheEntry, ScalingEvent, and MetricSample.
// It replaces store/types.go's narrower
// Agent/Job/DesiredState row shapes with the richer domain model the
// scheduler, agent pool, and verification pipeline actually operate on;
// control_plane/store maps these to and from durable rows.
package types

import "time"

// AgentKind is a closed sum type; Specialist carries a tag instead of a
// payload-free variant, mirroring how the teacher's Agent.Tier field
// distinguishes "standard"/"premium"/"dedicated" by string tag.
type AgentKind struct {
	Tag string // "worker" | "coordinator" | "learner" | "specialist"
	Spec string // populated only when Tag == "specialist"
}

func Worker() AgentKind      { return AgentKind{Tag: "worker"} }
func Coordinator() AgentKind { return AgentKind{Tag: "coordinator"} }
func Learner() AgentKind     { return AgentKind{Tag: "learner"} }
func Specialist(spec string) AgentKind { return AgentKind{Tag: "specialist", Spec: spec} }

// AgentState is a closed enum; transitions are enforced only by
// agentpool.Registry.Transition, never by direct field assignment
// outside that package.
type AgentState string

const (
	AgentIdle    AgentState = "idle"
	AgentWorking AgentState = "working"
	AgentFailed  AgentState = "failed"
	AgentRetired AgentState = "retired"
)

// Capability is a named skill with a proficiency in [0,1] and a learning
// rate describing how quickly repeated successful use raises proficiency.
type Capability struct {
	Name         string  `json:"name"`
	Proficiency  float64 `json:"proficiency"`
	LearningRate float64 `json:"learning_rate"`
}

// Experience is one entry in an agent's bounded memory ring buffer.
type Experience struct {
	TaskID    string    `json:"task_id"`
	Success   bool      `json:"success"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is the 2-D coordinate used only by the on-demand swarm-cohesion
// metric; nothing else consumes it.
type Position struct {
	X, Y float64
}

// Agent is the unit of scheduling. The registry (agentpool.Registry)
// exclusively owns Agent values; every other component holds only IDs.
type Agent struct {
	ID           string       `json:"id"`
	Kind         AgentKind    `json:"kind"`
	Capabilities []Capability `json:"capabilities"`
	State        AgentState   `json:"state"`
	Energy       float64      `json:"energy"` // [0,100]
	Position     Position     `json:"position"`
	Memory       *RingBuffer  `json:"-"`

	CreatedAt     time.Time `json:"created_at"`
	LastStateAt   time.Time `json:"last_state_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// RetiredAt/RetiredReason are set once State == AgentRetired and
	// remain populated through the tombstone grace window.
	RetiredAt     time.Time `json:"retired_at,omitempty"`
	RetiredReason string    `json:"retired_reason,omitempty"`
}

// Proficiency returns the agent's proficiency for a named capability, and
// whether it possesses that capability at all.
func (a *Agent) Proficiency(name string) (float64, bool) {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return c.Proficiency, true
		}
	}
	return 0, false
}

// Clone returns a deep-enough copy for safe handoff across the registry's
// lock boundary, matching store/memory.go's "return a copy, never a live
// pointer" discipline.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	return &cp
}

// Tombstone is the resolvable remnant of a Retired agent during its grace
// period.
type Tombstone struct {
	ID        string
	Retired   bool
	Reason    string
	RetiredAt time.Time
}
