package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// AgentView is the narrow slice of agent state the scheduler needs in
// order to match and score tasks. It is satisfied structurally by
// *agentpool.Registry, avoiding an import cycle between
// the scheduler and agentpool packages (neither imports the other;
// control_plane/main.go wires concrete values into both).
type AgentView interface {
	// Snapshot returns a point-in-time copy of every registered agent,
	// whatever its state; the scheduler looks up the claiming agent in it.
	Snapshot() []*types.Agent
}

// Config bundles the scheduler's tunables, mirroring config.Config's
// scheduler-relevant fields.
type Config struct {
	IntakeCapacity int
	RetryBase      time.Duration
	RetryCeiling   time.Duration
	StarvationAge  time.Duration
	QueueThreshold int
}

// Scheduler is the work-stealing task scheduler: a global
// intake queue feeding per-agent local deques, with retry backoff,
// admission control, and steal-rate limiting.
type Scheduler struct {
	cfg Config

	intake  *IntakeQueue
	retry   *RetryQueue
	breaker *CircuitBreaker
	limiter RateLimiter

	mu     sync.RWMutex
	queues map[string]*LocalQueue // agentID -> local deque

	agents AgentView
}

// New constructs a Scheduler. agents provides the live agent population
// used for fitness matching; it may be nil until wired, in which case
// Claim skips fitness matching and takes intake tasks unfiltered (local
// queues and stealing work as usual).
func New(cfg Config, agents AgentView) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		intake:  NewIntakeQueue(cfg.IntakeCapacity),
		retry:   NewRetryQueue(cfg.RetryBase, cfg.RetryCeiling),
		breaker: NewCircuitBreaker(cfg.QueueThreshold),
		limiter: NewTokenBucketLimiter(1, 3),
		queues:  make(map[string]*LocalQueue),
		agents:  agents,
	}
}

// SetAgentView wires the live agent population in after construction,
// breaking the Scheduler/agentpool.Registry construction cycle (each
// needs a reference to the other: the registry calls back into the
// scheduler's RegisterAgent/UnregisterAgent, and the scheduler reads the
// registry's Snapshot for fitness matching).
func (s *Scheduler) SetAgentView(agents AgentView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = agents
}

// RegisterAgent creates an empty local queue for a newly joined agent.
// Idempotent.
func (s *Scheduler) RegisterAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[agentID]; !ok {
		s.queues[agentID] = NewLocalQueue()
	}
}

// UnregisterAgent drops an agent's local queue, returning its remaining
// tasks so the caller can resubmit them to intake after a
// tombstone-triggered requeue.
func (s *Scheduler) UnregisterAgent(agentID string) []*types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[agentID]
	if !ok {
		return nil
	}
	delete(s.queues, agentID)
	var remaining []*types.Task
	for {
		t := q.PopFront()
		if t == nil {
			break
		}
		remaining = append(remaining, t)
	}
	return remaining
}

// Submit admits a task into the global intake queue, subject to
// admission control (rejects with a CapacityExhausted fault when shedding).
func (s *Scheduler) Submit(ctx context.Context, task *types.Task) error {
	depth := s.intake.Len()
	if !s.breaker.ShouldAdmit(depth, s.saturation()) {
		metrics.SchedulerDecisions.WithLabelValues("reject", "circuit_open").Inc()
		return faults.New(faults.CapacityExhausted, "scheduler is shedding load").WithRetryAfter(5)
	}
	if task.Status == "" {
		task.Status = types.Pending
	}
	if err := s.intake.Submit(task); err != nil {
		metrics.SchedulerDecisions.WithLabelValues("reject", "intake_full").Inc()
		return faults.Annotate(err, "scheduler.Submit")
	}
	metrics.QueueDepth.WithLabelValues(task.Priority.String()).Inc()
	metrics.SchedulerDecisions.WithLabelValues("accept", "").Inc()
	logging.From(ctx).Debug().Str("task_id", task.ID).Str("priority", task.Priority.String()).Msg("task submitted to intake")
	return nil
}

// saturation estimates worker saturation as the fraction of registered
// agents with a non-empty local queue; used only by the circuit breaker.
func (s *Scheduler) saturation() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.queues) == 0 {
		return 0
	}
	busy := 0
	for _, q := range s.queues {
		if q.Len() > 0 {
			busy++
		}
	}
	return float64(busy) / float64(len(s.queues))
}

// Claim is called by an agent's executor loop to obtain its next task.
// Order of preference: (1) the agent's own local queue,
// (2) the global intake queue for a task this agent is fit to run, (3) a
// steal from the busiest peer's local queue. Returns faults.ErrNoWork if
// nothing is available anywhere.
func (s *Scheduler) Claim(ctx context.Context, agentID string) (*types.Task, error) {
	s.mu.RLock()
	q, ok := s.queues[agentID]
	numAgents := len(s.queues)
	s.mu.RUnlock()
	if !ok {
		return nil, faults.New(faults.NotFound, "agent has no registered local queue")
	}

	if t := q.PopFront(); t != nil {
		metrics.SchedulerDecisions.WithLabelValues("claim", "local").Inc()
		return t, nil
	}

	if t := s.drainIntakeToLocal(agentID, q, numAgents); t != nil {
		metrics.SchedulerDecisions.WithLabelValues("claim", "intake").Inc()
		return t, nil
	}

	if t := s.steal(agentID); t != nil {
		metrics.SchedulerDecisions.WithLabelValues("claim", "steal").Inc()
		return t, nil
	}

	return nil, faults.ErrNoWork
}

// drainIntakeToLocal is claim() step 2: atomically move up to K tasks this
// agent is fit to run from global intake into its own local queue (K
// proportional to the number of registered agents, minimum 1), then serve
// the local queue's new front. Draining the whole batch before popping
// preserves intake's priority ordering at the local queue's front — the
// batch is pushed in reverse (lowest priority first) so PushFront's LIFO
// prepend leaves the highest-priority drained task at the front.
func (s *Scheduler) drainIntakeToLocal(agentID string, q *LocalQueue, numAgents int) *types.Task {
	k := numAgents
	if k < 1 {
		k = 1
	}
	depth := q.Len()
	agent := s.findAgent(agentID)

	match := func(t *types.Task) bool {
		if agent == nil {
			// No agent view wired, or the agent is not in it: accept
			// anything, in intake priority order.
			return true
		}
		return Score(agent, t, depth, s.cfg.QueueThreshold) > 0
	}

	drained := s.intake.DrainUpTo(k, match)
	if len(drained) == 0 {
		return nil
	}
	for i := len(drained) - 1; i >= 0; i-- {
		q.PushFront(drained[i])
	}
	return q.PopFront()
}

// steal attempts to take one task from the back of the busiest other
// agent's local queue, rate-limited per victim to avoid draining one
// degraded peer repeatedly. A steal that loses a race (the victim's queue
// shrank below two tasks before StealBack) is retried once against the
// then-busiest peer before giving up.
func (s *Scheduler) steal(thief string) *types.Task {
	for attempt := 0; attempt < 2; attempt++ {
		victim, victimQueue := s.busiestOther(thief)
		if victimQueue == nil {
			return nil
		}
		if !s.limiter.Allow(victim) {
			metrics.StealAttempts.WithLabelValues("rate_limited").Inc()
			return nil
		}
		if t := victimQueue.StealBack(); t != nil {
			metrics.StealAttempts.WithLabelValues("stolen").Inc()
			return t
		}
		metrics.StealAttempts.WithLabelValues("lost_race").Inc()
	}
	return nil
}

func (s *Scheduler) busiestOther(thief string) (string, *LocalQueue) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bestID string
	var best *LocalQueue
	bestLen := 1 // StealBack refuses queues with < 2 anyway
	for id, q := range s.queues {
		if id == thief {
			continue
		}
		if l := q.Len(); l > bestLen {
			bestLen = l
			best = q
			bestID = id
		}
	}
	return bestID, best
}

func (s *Scheduler) findAgent(agentID string) *types.Agent {
	if s.agents == nil {
		return nil
	}
	for _, a := range s.agents.Snapshot() {
		if a.ID == agentID {
			return a
		}
	}
	return nil
}

// Complete reports a task's terminal outcome. A failed task with a
// retryable fault kind is scheduled onto the retry queue; otherwise it
// is dropped (caller is expected to have already persisted the final
// status).
func (s *Scheduler) Complete(task *types.Task, err error) {
	if err == nil {
		s.breaker.RecordSuccess()
		return
	}
	s.breaker.RecordFailure()
	if !faults.Is(err, faults.Transient) && !faults.Is(err, faults.Conflict) {
		return
	}
	task.Attempt++
	task.Status = types.Pending
	s.retry.Schedule(task)
}

// ReleaseRetries moves every task whose backoff has elapsed back into
// the global intake queue. Intended to be called periodically by the
// scheduler's maintenance loop.
func (s *Scheduler) ReleaseRetries() int {
	ready := s.retry.DrainReady()
	for _, t := range ready {
		t.SubmitTime = time.Now()
		_ = s.intake.Submit(t)
	}
	return len(ready)
}

// PromoteStarved runs the starvation guard over the intake queue.
func (s *Scheduler) PromoteStarved(now time.Time) int {
	return s.intake.PromoteStarved(s.cfg.StarvationAge, now)
}

// IntakeDepth and OldestWait expose read-only metrics hooks for the
// periodic metrics-export loop.
func (s *Scheduler) IntakeDepth() int { return s.intake.Len() }

func (s *Scheduler) OldestWait(now time.Time) time.Duration { return s.intake.OldestWait(now) }

// QueueDepths reports each agent's local deque length, keyed by agent id,
// for get_status()'s per-agent queue_depths.
func (s *Scheduler) QueueDepths() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	depths := make(map[string]int, len(s.queues))
	for id, q := range s.queues {
		depths[id] = q.Len()
	}
	return depths
}
