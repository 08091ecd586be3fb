package coordination

import (
	"context"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/logging"
)

// RegistryPurger is the narrow slice of agentpool.Registry the janitor
// needs. Declared here rather than imported as a concrete type so this
// package and agentpool don't form an import cycle either direction;
// cmd wiring passes a concrete *agentpool.Registry in.
type RegistryPurger interface {
	PurgeExpiredTombstones(now time.Time) int
}

// TombstoneJanitor periodically purges registry tombstones past their
// grace period: existing references can still resolve its id to a
// tombstone for tombstone_grace. Grounded on LockJanitor's
// ticker-driven sweep shape, retargeted from HA lease reclamation to
// retired-agent tombstone reclamation.
type TombstoneJanitor struct {
	registry RegistryPurger
	interval time.Duration
}

func NewTombstoneJanitor(registry RegistryPurger, interval time.Duration) *TombstoneJanitor {
	return &TombstoneJanitor{registry: registry, interval: interval}
}

func (j *TombstoneJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *TombstoneJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log := logging.Component(ctx, "tombstone_janitor")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.registry.PurgeExpiredTombstones(time.Now()); n > 0 {
				log.Info().Int("purged", n).Msg("purged expired agent tombstones")
			}
		}
	}
}
