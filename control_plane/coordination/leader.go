// Package coordination implements the optional HA layer: Redis-lease-
// backed leader election with Postgres-durable fencing
// epochs, used only to select which single process is authoritative —
// never as a participant in the scheduler/agentpool/verify packages'
// own concurrency control (see DESIGN.md's Open Question resolution).
package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/store"
)

// LockMetadata is the JSON payload held by the Redis lease.
type LockMetadata struct {
	OwnerPod  string    `json:"owner_pod"`
	Epoch     int64     `json:"epoch"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaderElector runs the acquire/renew/step-down loop against a
// store.Coordinator (Redis lease) fenced by a store.Store (durable
// epoch counter). The fencing token outlives a Redis flush only when that
// store keeps its epoch outside Redis; RedisStore, which main.go passes
// in HA mode, keeps it in Redis.
type LeaderElector struct {
	coordinator  store.Coordinator
	store        store.Store
	nodeID       string
	lockKey      string
	ttl          time.Duration
	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64

	onElected func(context.Context)
	onLost    func()

	ctx    context.Context
	cancel context.CancelFunc

	stepDownTime time.Time
	transitions  int64
}

// LeaderState is a read-only snapshot for status reporting.
type LeaderState struct {
	IsLeader     bool   `json:"is_leader"`
	CurrentEpoch int64  `json:"current_epoch"`
	Transitions  int64  `json:"transitions"`
	NodeID       string `json:"node_id"`
}

type fencingKey string

const fencingEpochKey fencingKey = "fencing_epoch"

// FencedContext returns a context cancelled when leadership is lost,
// carrying the current fencing epoch.
func (l *LeaderElector) FencedContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leaderCtx
}

// GetEpochFromContext extracts the fencing epoch from a context.
func GetEpochFromContext(ctx context.Context) (int64, bool) {
	val := ctx.Value(fencingEpochKey)
	if val == nil {
		return 0, false
	}
	epoch, ok := val.(int64)
	return epoch, ok
}

// GetState returns the internal state for the status feed.
func (l *LeaderElector) GetState() LeaderState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LeaderState{
		IsLeader:     l.isLeader,
		CurrentEpoch: l.currentEpoch,
		Transitions:  l.transitions,
		NodeID:       l.nodeID,
	}
}

func NewLeaderElector(c store.Coordinator, s store.Store, nodeID string, ttl time.Duration) *LeaderElector {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		coordinator: c,
		store:       s,
		nodeID:      nodeID,
		lockKey:     "fluxforge:lock:leader",
		ttl:         ttl,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) Start(ctx context.Context) {
	go l.loop(ctx)
}

func (l *LeaderElector) Stop() {
	l.cancel()
	if l.IsLeader() {
		l.release()
	}
}

func (l *LeaderElector) loop(ctx context.Context) {
	log := logging.Component(ctx, "leader_elector")

	interval := l.ttl / 3
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown(ctx)
					}
				} else {
					renewFailures++
					log.Warn().Err(err).Int("failures", renewFailures).Msg("lease renew failed")
					if renewFailures >= maxRenewFailures {
						log.Error().Msg("too many renew failures, stepping down for safety")
						l.stepDown(ctx)
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader(ctx)
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Warn().Dur("backoff", interval).Msg("coordinator error, backing off")
			} else {
				interval = minInterval
			}

			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	log := logging.Component(ctx, "leader_elector")

	// The epoch counter lives in store.Store, so it outlives a flush of
	// the Redis lease store only when that store is not Redis-backed.
	epoch, err := l.store.IncrementDurableEpoch(ctx, "leader_election")
	if err != nil {
		log.Error().Err(err).Msg("failed to increment durable epoch")
		return false, err
	}
	l.mu.Lock()
	if l.currentEpoch > 0 && epoch > l.currentEpoch+1 {
		log.Warn().Int64("from", l.currentEpoch).Int64("to", epoch).Msg("epoch drift detected")
		metrics.LeadershipTransitions.WithLabelValues(l.nodeID, "epoch_drift").Inc()
	}
	l.currentEpoch = epoch
	l.mu.Unlock()

	meta := LockMetadata{
		OwnerPod:  l.nodeID,
		Epoch:     epoch,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(l.ttl),
	}
	valBytes, _ := json.Marshal(meta)
	val := string(valBytes)

	acquired, err := l.coordinator.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire lease")
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.coordinator.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *LeaderElector) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctxt, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.coordinator.ReleaseLease(ctxt, l.lockKey, val)
}

func (l *LeaderElector) becomeLeader(ctx context.Context) {
	log := logging.Component(ctx, "leader_elector")

	l.mu.Lock()
	l.isLeader = true
	baseCtx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.transitions++
	l.leaderCtx = context.WithValue(baseCtx, fencingEpochKey, l.currentEpoch)

	var transitionDuration time.Duration
	hadStepDown := !l.stepDownTime.IsZero()
	if hadStepDown {
		transitionDuration = time.Since(l.stepDownTime)
		l.stepDownTime = time.Time{}
	}
	epoch := l.currentEpoch
	l.mu.Unlock()

	if hadStepDown {
		metrics.LeadershipTransitionDuration.Observe(transitionDuration.Seconds())
		log.Info().Dur("transition", transitionDuration).Int64("epoch", epoch).Msg("became leader")
	} else {
		log.Info().Int64("epoch", epoch).Msg("became leader")
	}

	metrics.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	metrics.LeadershipEpoch.WithLabelValues(l.nodeID).Set(float64(epoch))
	metrics.LeaderStatus.Set(1)

	if l.onElected != nil {
		go l.onElected(l.leaderCtx)
	}
}

func (l *LeaderElector) stepDown(ctx context.Context) {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	l.stepDownTime = time.Now()
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	metrics.LeaderStatus.Set(0)
	metrics.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()

	logging.Component(ctx, "leader_elector").Info().Msg("lost leadership")
	if l.onLost != nil {
		l.onLost()
	}
}
