// Package orchestrator defines Core, the in-process API surface the rest
// of this repository is built behind: the core exposes an in-process
// API, not a wire protocol. control_plane/coordinator.Coordinator
// is the sole implementation; every external collaborator (an HTTP layer,
// an RPC layer, a CLI) adapts this interface rather than reaching into
// the scheduler/agentpool/verify/cachekit packages directly. Grounded on
// the teacher's api.go, which played the same "one seam everything else
// goes through" role but as a tenant-scoped REST handler set rather than
// a Go interface.
package orchestrator

import (
	"context"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/fluxforge/orchestrator/control_plane/verify"
)

// AgentSummary is the trimmed view of an Agent returned by ListAgents,
// deliberately narrower than types.Agent: no live queue contents, no
// internal memory ring buffer.
type AgentSummary struct {
	ID           string
	Kind         types.AgentKind
	State        types.AgentState
	Capabilities []types.Capability
	CreatedAt    time.Time
}

// StatusReport answers get_status(): agent population by
// state, per-agent queue depths, and rolling metrics.
type StatusReport struct {
	AgentCounts map[types.AgentState]int
	QueueDepths map[string]int
	IntakeDepth int
	OldestWait  time.Duration
	Timestamp   time.Time
}

// AdaptationInsights answers get_adaptation_insights().
type AdaptationInsights struct {
	Thresholds    types.Thresholds
	WindowSize    int
	LastAdapted   time.Time
	AccuracyStats verify.AccuracyReport
}

// Core is the orchestrator's entire in-process API. Every
// method here corresponds 1:1 to one of the external-interface contracts
// this repository exposes.
type Core interface {
	// SubmitTask admits spec into the scheduler's intake queue, returning
	// its assigned task id or a faults.CapacityExhausted error.
	SubmitTask(ctx context.Context, spec *types.Task) (string, error)

	// GetTask returns the current state of a previously submitted task.
	GetTask(ctx context.Context, id string) (*types.Task, error)

	// CreateAgent registers a new agent of the given kind with the stated
	// capabilities, returning its generated id.
	CreateAgent(ctx context.Context, kind types.AgentKind, capabilities []types.Capability, memoryCapacity int) (string, error)

	// RetireAgent tombstones an agent and requeues any in-flight work.
	RetireAgent(ctx context.Context, id, reason string) error

	// ListAgents returns a summary of every live (non-tombstoned) agent.
	ListAgents(ctx context.Context) ([]AgentSummary, error)

	// Invalidate evicts a single cache entry by key.
	Invalidate(ctx context.Context, key types.CacheKey)

	// InvalidateByDependency evicts every cache entry that declared dep
	// as a dependency when it was stored.
	InvalidateByDependency(ctx context.Context, dep types.CacheKey)

	// GetAdaptationInsights reports the verification pipeline's current
	// adaptive thresholds and accuracy bookkeeping.
	GetAdaptationInsights(ctx context.Context) AdaptationInsights

	// GetStatus reports agent population and queue health.
	GetStatus(ctx context.Context) StatusReport
}
