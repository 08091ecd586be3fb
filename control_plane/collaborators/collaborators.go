// Package collaborators defines the narrow interfaces external systems
// implement to plug into the core. The core never imports a
// concrete scoring or execution backend — only these interfaces — the
// same way dotcommander-vybe's internal/llm.Runner abstracts over
// whichever CLI ("claude", "opencode", ...) actually answers a prompt.
package collaborators

import (
	"context"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// Scorer maps (goal, result) to a similarity in [0,1]. It is Stage B of
// the verification pipeline; any neural/LLM-based
// implementation lives outside this module.
type Scorer interface {
	Score(ctx context.Context, goal, result string) (similarity float64, err error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(ctx context.Context, goal, result string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, goal, result string) (float64, error) {
	return f(ctx, goal, result)
}

// ExecutionResult is what an Executor hands back to the verification
// pipeline.
type ExecutionResult struct {
	Output  string
	Success bool
}

// Executor runs a task's work against a set of agent capabilities and
// returns its result. The core's own scheduler never runs
// task bodies itself; it only calls through this interface.
type Executor interface {
	Execute(ctx context.Context, task *types.Task, capabilities []types.Capability) (ExecutionResult, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, task *types.Task, capabilities []types.Capability) (ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *types.Task, capabilities []types.Capability) (ExecutionResult, error) {
	return f(ctx, task, capabilities)
}
