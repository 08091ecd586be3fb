package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/store"
)

// LockJanitor reclaims leadership locks that are either fenced (a newer
// durable epoch has superseded them) or stale (the holder crashed
// without releasing). It is distinct from agentpool.Registry's
// tombstone purge: this sweeps HA lease keys, not retired agents.
type LockJanitor struct {
	coordinator store.Coordinator
	store       store.Store
	interval    time.Duration
}

func NewLockJanitor(c store.Coordinator, s store.Store, interval time.Duration) *LockJanitor {
	return &LockJanitor{coordinator: c, store: s, interval: interval}
}

func (j *LockJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *LockJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.clean(ctx)
		}
	}
}

func (j *LockJanitor) clean(ctx context.Context) {
	log := logging.Component(ctx, "lock_janitor")

	// A single global leader-election resource, matching the lock key
	// LeaderElector always uses ("fluxforge:lock:leader").
	currentEpoch, err := j.store.GetDurableEpoch(ctx, "leader_election")
	if err != nil {
		log.Warn().Err(err).Msg("failed to get durable epoch")
		return
	}

	keys, err := j.coordinator.ScanLocks(ctx, "fluxforge:lock:*")
	if err != nil {
		log.Warn().Err(err).Msg("lock scan failed")
		return
	}

	for _, key := range keys {
		if len(key) > 6 && key[len(key)-6:] == ":epoch" {
			continue
		}

		val, err := j.coordinator.GetLockOwner(ctx, key)
		if err != nil || val == "" {
			continue
		}

		var meta LockMetadata
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to unmarshal lock metadata")
			continue
		}

		if meta.Epoch < currentEpoch {
			log.Warn().Str("key", key).Int64("lock_epoch", meta.Epoch).Int64("current_epoch", currentEpoch).Msg("fencing stale lock")
			if err := j.coordinator.ReleaseLease(ctx, key, val); err != nil {
				log.Warn().Err(err).Msg("failed to release fenced lock")
			}
			continue
		}

		if time.Now().After(meta.ExpiresAt.Add(5 * time.Second)) {
			log.Warn().Str("key", key).Time("expired_at", meta.ExpiresAt).Msg("reclaiming stale lock")
			if err := j.coordinator.ReleaseLease(ctx, key, val); err != nil {
				log.Warn().Err(err).Msg("failed to release stale lock")
			}
		}
	}
}
