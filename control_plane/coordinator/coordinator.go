// Package coordinator implements orchestrator.Core, the single seam
// every external collaborator adapts to. Coordinator itself
// holds no business logic: it is thin glue delegating to
// control_plane/scheduler, control_plane/agentpool, control_plane/verify,
// and control_plane/cachekit, translating between their domain-specific
// signatures and Core's uniform request/response shapes. Grounded on the
// teacher's api.go, which filled the analogous "single front door"
// role for its tenant-scoped REST handlers.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/agentpool"
	"github.com/fluxforge/orchestrator/control_plane/cachekit"
	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/orchestrator"
	"github.com/fluxforge/orchestrator/control_plane/scheduler"
	"github.com/fluxforge/orchestrator/control_plane/store"
	"github.com/fluxforge/orchestrator/control_plane/timeline"
	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/fluxforge/orchestrator/control_plane/verify"
	"github.com/google/uuid"
)

// Coordinator is the concrete orchestrator.Core.
type Coordinator struct {
	scheduler *scheduler.Scheduler
	registry  *agentpool.Registry
	cache     *cachekit.Cache
	pipeline  *verify.Pipeline
	window    *verify.Window
	store     store.Store
	timeline  *timeline.Store

	mu          sync.RWMutex
	lastAdapted time.Time
}

// New constructs a Coordinator wired over an already-running scheduler,
// registry, cache, verification pipeline, and persistence store.
func New(sched *scheduler.Scheduler, registry *agentpool.Registry, cache *cachekit.Cache, pipeline *verify.Pipeline, window *verify.Window, s store.Store, tl *timeline.Store) *Coordinator {
	return &Coordinator{
		scheduler: sched,
		registry:  registry,
		cache:     cache,
		pipeline:  pipeline,
		window:    window,
		store:     s,
		timeline:  tl,
	}
}

var _ orchestrator.Core = (*Coordinator)(nil)

// NoteAdaptation records the wall-clock time of the last threshold
// adaptation sweep, for GetAdaptationInsights. Called by the adaptation
// loop (main.go) after each verify.Tuner.Sweep.
func (c *Coordinator) NoteAdaptation(at time.Time) {
	c.mu.Lock()
	c.lastAdapted = at
	c.mu.Unlock()
}

func (c *Coordinator) SubmitTask(ctx context.Context, spec *types.Task) (string, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	now := time.Now()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now
	spec.SubmitTime = now

	if err := c.scheduler.Submit(ctx, spec); err != nil {
		return "", err
	}
	if c.store != nil {
		if err := c.store.UpsertTask(ctx, store.ToTaskRow(spec)); err != nil {
			logging.From(ctx).Warn().Err(err).Str("task_id", spec.ID).Msg("failed to persist submitted task")
		}
	}
	return spec.ID, nil
}

func (c *Coordinator) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if c.store == nil {
		return nil, faults.New(faults.NotFound, "no persisted task store configured")
	}
	row, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, faults.New(faults.NotFound, "task not found: "+id)
	}
	return store.FromTaskRow(*row), nil
}

func (c *Coordinator) CreateAgent(ctx context.Context, kind types.AgentKind, capabilities []types.Capability, memoryCapacity int) (string, error) {
	agent, err := c.registry.Create(kind, capabilities, memoryCapacity)
	if err != nil {
		return "", err
	}
	if c.store != nil {
		if err := c.store.UpsertAgent(ctx, store.ToAgentRow(agent)); err != nil {
			logging.From(ctx).Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to persist created agent")
		}
	}
	return agent.ID, nil
}

func (c *Coordinator) RetireAgent(ctx context.Context, id, reason string) error {
	return c.registry.Retire(id, reason, func(drained []*types.Task) {
		for _, t := range drained {
			t.Status = types.Pending
			t.AssignedAgent = ""
			if err := c.scheduler.Submit(ctx, t); err != nil {
				logging.From(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("failed to requeue task from retired agent")
			}
		}
	})
}

func (c *Coordinator) ListAgents(ctx context.Context) ([]orchestrator.AgentSummary, error) {
	agents := c.registry.Snapshot()
	out := make([]orchestrator.AgentSummary, 0, len(agents))
	for _, a := range agents {
		out = append(out, orchestrator.AgentSummary{
			ID:           a.ID,
			Kind:         a.Kind,
			State:        a.State,
			Capabilities: a.Capabilities,
			CreatedAt:    a.CreatedAt,
		})
	}
	return out, nil
}

func (c *Coordinator) Invalidate(ctx context.Context, key types.CacheKey) {
	c.cache.Invalidate(key)
}

func (c *Coordinator) InvalidateByDependency(ctx context.Context, dep types.CacheKey) {
	c.cache.InvalidateByDependency(dep)
}

func (c *Coordinator) GetAdaptationInsights(ctx context.Context) orchestrator.AdaptationInsights {
	c.mu.RLock()
	lastAdapted := c.lastAdapted
	c.mu.RUnlock()

	outcomes := c.window.Since(time.Time{})
	return orchestrator.AdaptationInsights{
		Thresholds:    c.pipeline.Thresholds(),
		WindowSize:    c.window.Len(),
		LastAdapted:   lastAdapted,
		AccuracyStats: verify.Accuracy(outcomes),
	}
}

func (c *Coordinator) GetStatus(ctx context.Context) orchestrator.StatusReport {
	now := time.Now()
	return orchestrator.StatusReport{
		AgentCounts: c.registry.CountByState(),
		QueueDepths: c.scheduler.QueueDepths(),
		IntakeDepth: c.scheduler.IntakeDepth(),
		OldestWait:  c.scheduler.OldestWait(now),
		Timestamp:   now,
	}
}
