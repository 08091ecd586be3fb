package store

import (
	"time"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// AgentRow is the durable row shape for a types.Agent snapshot. The
// registry owns the live value; the coordinator writes a row for an agent
// it creates and AgentMonitor rewrites rows it marks stale. Registry
// transitions and heartbeats are not written, and nothing rehydrates the
// registry from these rows.
type AgentRow struct {
	AgentID       string          `json:"agent_id" db:"agent_id"`
	KindTag       string          `json:"kind_tag" db:"kind_tag"`
	KindSpec      string          `json:"kind_spec" db:"kind_spec"`
	State         string          `json:"state" db:"state"`
	Energy        float64         `json:"energy" db:"energy"`
	PositionX     float64         `json:"position_x" db:"position_x"`
	PositionY     float64         `json:"position_y" db:"position_y"`
	Capabilities  []CapabilityRow `json:"capabilities" db:"capabilities"`
	LastHeartbeat time.Time       `json:"last_heartbeat" db:"last_heartbeat_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	LastStateAt   time.Time       `json:"last_state_at" db:"last_state_at"`
	RetiredAt     time.Time       `json:"retired_at,omitempty" db:"retired_at"`
	RetiredReason string          `json:"retired_reason,omitempty" db:"retired_reason"`
}

// CapabilityRow mirrors types.Capability for JSON/JSONB storage.
type CapabilityRow struct {
	Name         string  `json:"name"`
	Proficiency  float64 `json:"proficiency"`
	LearningRate float64 `json:"learning_rate"`
}

// ToAgentRow converts a live agent into its durable row. Memory (the
// experience ring buffer) is deliberately not persisted: it is a
// learning aid the registry rebuilds from RecordExperience calls, not
// state whose loss affects correctness.
func ToAgentRow(a *types.Agent) AgentRow {
	caps := make([]CapabilityRow, len(a.Capabilities))
	for i, c := range a.Capabilities {
		caps[i] = CapabilityRow{Name: c.Name, Proficiency: c.Proficiency, LearningRate: c.LearningRate}
	}
	return AgentRow{
		AgentID:       a.ID,
		KindTag:       a.Kind.Tag,
		KindSpec:      a.Kind.Spec,
		State:         string(a.State),
		Energy:        a.Energy,
		PositionX:     a.Position.X,
		PositionY:     a.Position.Y,
		Capabilities:  caps,
		LastHeartbeat: a.LastHeartbeat,
		CreatedAt:     a.CreatedAt,
		LastStateAt:   a.LastStateAt,
		RetiredAt:     a.RetiredAt,
		RetiredReason: a.RetiredReason,
	}
}

// FromAgentRow rehydrates a row into a live agent with a fresh, empty
// experience buffer — the caller (agentpool.Registry) owns giving it a
// capacity.
func FromAgentRow(r AgentRow) *types.Agent {
	caps := make([]types.Capability, len(r.Capabilities))
	for i, c := range r.Capabilities {
		caps[i] = types.Capability{Name: c.Name, Proficiency: c.Proficiency, LearningRate: c.LearningRate}
	}
	return &types.Agent{
		ID:            r.AgentID,
		Kind:          types.AgentKind{Tag: r.KindTag, Spec: r.KindSpec},
		Capabilities:  caps,
		State:         types.AgentState(r.State),
		Energy:        r.Energy,
		Position:      types.Position{X: r.PositionX, Y: r.PositionY},
		CreatedAt:     r.CreatedAt,
		LastStateAt:   r.LastStateAt,
		LastHeartbeat: r.LastHeartbeat,
		RetiredAt:     r.RetiredAt,
		RetiredReason: r.RetiredReason,
	}
}

// TaskRow is the durable row shape for a types.Task, written on submit
// and on each status change; nothing reloads these rows into the
// scheduler at startup.
type TaskRow struct {
	TaskID        string    `json:"task_id" db:"task_id"`
	Title         string    `json:"title" db:"title"`
	Type          string    `json:"type" db:"type"`
	Priority      int       `json:"priority" db:"priority"`
	Status        string    `json:"status" db:"status"`
	AssignedAgent string    `json:"assigned_agent" db:"assigned_agent"`
	Attempt       int       `json:"attempt" db:"attempt"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	SubmitTime    time.Time `json:"submit_time" db:"submit_time"`
}

func ToTaskRow(t *types.Task) TaskRow {
	return TaskRow{
		TaskID:        t.ID,
		Title:         t.Title,
		Type:          t.Type,
		Priority:      int(t.Priority),
		Status:        string(t.Status),
		AssignedAgent: t.AssignedAgent,
		Attempt:       t.Attempt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		SubmitTime:    t.SubmitTime,
	}
}

func FromTaskRow(r TaskRow) *types.Task {
	return &types.Task{
		ID:            r.TaskID,
		Title:         r.Title,
		Type:          r.Type,
		Priority:      types.Priority(r.Priority),
		Status:        types.TaskStatus(r.Status),
		AssignedAgent: r.AssignedAgent,
		Attempt:       r.Attempt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		SubmitTime:    r.SubmitTime,
	}
}

// VerificationRow is one durable row of the adaptive-verification
// outcome window, written by the task runner after each verification.
// Nothing reads these rows back into the Tuner's window, which starts
// empty after a restart.
type VerificationRow struct {
	TaskID           string        `json:"task_id" db:"task_id"`
	Verdict          string        `json:"verdict" db:"verdict"`
	Confidence       float64       `json:"confidence" db:"confidence"`
	OverallScore     float64       `json:"overall_score" db:"overall_score"`
	ActualSuccess    *bool         `json:"actual_success" db:"actual_success"`
	VerificationTime time.Duration `json:"verification_time_ns" db:"verification_time_ns"`
	Timestamp        time.Time     `json:"timestamp" db:"timestamp"`
}

func ToVerificationRow(o types.VerificationOutcome) VerificationRow {
	return VerificationRow{
		TaskID:           o.TaskID,
		Verdict:          string(o.Verdict),
		Confidence:       o.Confidence,
		OverallScore:     o.OverallScore,
		ActualSuccess:    o.ActualSuccess,
		VerificationTime: o.VerificationTime,
		Timestamp:        o.Timestamp,
	}
}

func FromVerificationRow(r VerificationRow) types.VerificationOutcome {
	return types.VerificationOutcome{
		TaskID:           r.TaskID,
		Verdict:          types.Verdict(r.Verdict),
		Confidence:       r.Confidence,
		OverallScore:     r.OverallScore,
		ActualSuccess:    r.ActualSuccess,
		VerificationTime: r.VerificationTime,
		Timestamp:        r.Timestamp,
	}
}

// ScalingEventRow is the durable audit row for one auto-scaler decision
// (the scaling history), the equivalent of the teacher's Job
// history table but for scaling actions instead of exec jobs.
type ScalingEventRow struct {
	EventID        string    `json:"event_id" db:"event_id"`
	PolicyID       string    `json:"policy_id" db:"policy_id"`
	Decision       string    `json:"decision" db:"decision"`
	AffectedAgents []string  `json:"affected_agents" db:"affected_agents"`
	Success        bool      `json:"success" db:"success"`
	Reason         string    `json:"reason" db:"reason"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

func ToScalingEventRow(id string, e types.ScalingEvent) ScalingEventRow {
	return ScalingEventRow{
		EventID:        id,
		PolicyID:       e.PolicyID,
		Decision:       string(e.Decision),
		AffectedAgents: append([]string(nil), e.AffectedAgents...),
		Success:        e.Success,
		Reason:         e.Reason,
		Timestamp:      e.Timestamp,
	}
}

func FromScalingEventRow(r ScalingEventRow) types.ScalingEvent {
	return types.ScalingEvent{
		PolicyID:       r.PolicyID,
		Decision:       types.ScalingDecision(r.Decision),
		AffectedAgents: append([]string(nil), r.AffectedAgents...),
		Success:        r.Success,
		Reason:         r.Reason,
		Timestamp:      r.Timestamp,
	}
}
