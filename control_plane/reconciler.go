package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/agentpool"
	"github.com/fluxforge/orchestrator/control_plane/collaborators"
	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/scheduler"
	"github.com/fluxforge/orchestrator/control_plane/store"
	"github.com/fluxforge/orchestrator/control_plane/streaming"
	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/fluxforge/orchestrator/control_plane/verify"
)

// TaskRunner pulls Tasks off one agent's local queue and drives them
// through execution and verification. Grounded on the teacher's
// Reconciler: same per-agent exclusivity lock, hard-timeout kill switch,
// shadow-mode dry run, and best-effort async event publish, retargeted
// from "check/apply/check a desired-state drift via dispatched shell
// commands" to "execute a Task via the Executor collaborator, then
// verify its output".
type TaskRunner struct {
	scheduler *scheduler.Scheduler
	registry  *agentpool.Registry
	executor  collaborators.Executor
	pipeline  *verify.Pipeline
	window    *verify.Window
	store     store.Store
	publisher streaming.Publisher

	// activeAgents tracks which agents currently have a task in flight,
	// enforcing "exactly one task per agent at a time".
	activeAgents map[string]bool
	mu           sync.Mutex

	// executorTimeout is the hard kill switch for any single execution.
	executorTimeout time.Duration
	// ShadowMode enables dry-run: tasks are claimed and verified against
	// an empty output instead of invoking the Executor, for rehearsing
	// a new scheduler/policy configuration without side effects.
	ShadowMode bool
}

// NewTaskRunner creates a TaskRunner.
func NewTaskRunner(
	sched *scheduler.Scheduler,
	registry *agentpool.Registry,
	executor collaborators.Executor,
	pipeline *verify.Pipeline,
	window *verify.Window,
	s store.Store,
	publisher streaming.Publisher,
	executorTimeout time.Duration,
) *TaskRunner {
	if executorTimeout <= 0 {
		executorTimeout = 5 * time.Minute
	}
	return &TaskRunner{
		scheduler:       sched,
		registry:        registry,
		executor:        executor,
		pipeline:        pipeline,
		window:          window,
		store:           s,
		publisher:       publisher,
		activeAgents:    make(map[string]bool),
		executorTimeout: executorTimeout,
	}
}

// SetShadowMode enables/disables shadow mode.
func (r *TaskRunner) SetShadowMode(enabled bool) {
	r.ShadowMode = enabled
}

// IsAgentBusy reports whether agentID currently has a task in flight.
// Read-only check used by the API layer.
func (r *TaskRunner) IsAgentBusy(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeAgents[agentID]
}

// RunOnce claims one task for agentID and drives it to completion. It
// returns nil with no error when there was simply no work to claim.
func (r *TaskRunner) RunOnce(ctx context.Context, agentID string) error {
	if !r.acquireLock(agentID) {
		return nil // agent already has a task in flight
	}
	defer r.releaseLock(agentID)

	task, err := r.scheduler.Claim(ctx, agentID)
	if err != nil {
		if err == faults.ErrNoWork {
			return nil
		}
		return fmt.Errorf("claim for agent %s: %w", agentID, err)
	}
	if task == nil {
		return nil
	}

	// Hard timeout kill switch, independent of the caller's deadline.
	taskCtx, cancel := context.WithTimeout(ctx, r.executorTimeout)
	defer cancel()

	startTime := time.Now()
	err = r.run(taskCtx, agentID, task)
	runtime := time.Since(startTime)

	log := logging.Component(ctx, "task_runner")
	if taskCtx.Err() == context.DeadlineExceeded {
		log.Warn().Str("task_id", task.ID).Dur("runtime", runtime).Dur("limit", r.executorTimeout).Msg("task timed out")
	}
	r.scheduler.Complete(task, err)
	return err
}

func (r *TaskRunner) run(ctx context.Context, agentID string, task *types.Task) (err error) {
	log := logging.Component(ctx, "task_runner")

	agent, getErr := r.registry.Get(agentID)
	if getErr != nil {
		r.updateStatus(ctx, task, types.Failed)
		return fmt.Errorf("get agent %s: %w", agentID, getErr)
	}

	if transErr := r.registry.Transition(agentID, types.AgentWorking); transErr != nil {
		return fmt.Errorf("transition agent %s to working: %w", agentID, transErr)
	}
	defer func() {
		if revertErr := r.registry.Transition(agentID, types.AgentIdle); revertErr != nil {
			log.Warn().Err(revertErr).Str("agent_id", agentID).Msg("failed to return agent to idle")
		}
	}()

	r.updateStatus(ctx, task, types.Running)

	var result collaborators.ExecutionResult
	if r.ShadowMode {
		log.Info().Str("task_id", task.ID).Str("agent_id", agentID).Msg("shadow mode: skipping executor")
		result = collaborators.ExecutionResult{Output: "", Success: true}
	} else {
		result, err = r.executor.Execute(ctx, task, agent.Capabilities)
		if err != nil {
			r.updateStatus(ctx, task, types.Failed)
			return fmt.Errorf("execute task %s: %w", task.ID, err)
		}
	}

	outcome := r.pipeline.Verify(ctx, task.ID, task.Description, result.Output)
	outcome.ActualSuccess = &result.Success
	r.window.Append(outcome)

	if appendErr := r.store.AppendVerificationOutcome(ctx, store.ToVerificationRow(outcome)); appendErr != nil {
		log.Warn().Err(appendErr).Str("task_id", task.ID).Msg("failed to persist verification outcome")
	}

	passed := outcome.VerificationPassed()
	exp := types.Experience{TaskID: task.ID, Success: passed, Score: outcome.OverallScore, Timestamp: time.Now()}
	r.registry.RecordExperience(agentID, exp, firstCapabilityName(agent))

	if passed {
		r.updateStatus(ctx, task, types.Completed)
	} else {
		r.updateStatus(ctx, task, types.Failed)
	}

	metrics.VerificationVerdicts.WithLabelValues(string(outcome.Verdict)).Inc()
	return nil
}

func firstCapabilityName(agent *types.Agent) string {
	if len(agent.Capabilities) == 0 {
		return ""
	}
	return agent.Capabilities[0].Name
}

// updateStatus mutates task.Status, persists it, and emits a best-effort
// streaming event (policy: events are for observability, not control
// flow — a broker outage never blocks task execution).
func (r *TaskRunner) updateStatus(ctx context.Context, task *types.Task, status types.TaskStatus) {
	task.Status = status
	task.UpdatedAt = time.Now()

	log := logging.Component(ctx, "task_runner")
	if err := r.store.UpsertTask(ctx, store.ToTaskRow(task)); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to persist task status")
	} else {
		log.Info().Str("task_id", task.ID).Str("status", string(status)).Msg("task status transitioned")
	}

	if r.publisher != nil {
		go r.publishEventAsync(task, status)
	}
}

func (r *TaskRunner) publishEventAsync(task *types.Task, status types.TaskStatus) {
	publishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := map[string]interface{}{
		"task_id":    task.ID,
		"agent_id":   task.AssignedAgent,
		"new_status": string(status),
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	if err := r.publisher.Publish(publishCtx, streaming.TopicTaskStatus, payload); err != nil {
		logging.Component(publishCtx, "task_runner").Warn().Err(err).Msg("event publish failed (non-critical)")
	}
}

func (r *TaskRunner) acquireLock(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeAgents[agentID] {
		return false
	}
	r.activeAgents[agentID] = true
	return true
}

func (r *TaskRunner) releaseLock(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeAgents, agentID)
}
