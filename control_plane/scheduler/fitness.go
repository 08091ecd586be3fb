package scheduler

import (
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// Fixed fitness weights: 0.4 capability_match + 0.2 normalized(1-recent_load)
// + 0.2 energy/100 + 0.2 specialization_match. Not configurable — the
// formula is a named constant, not a tunable blend.
const (
	weightCapability     = 0.4
	weightLoad           = 0.2
	weightEnergy         = 0.2
	weightSpecialization = 0.2
)

// Score computes a [0,1] fitness of agent for task: capability proficiency
// coverage, inverted normalized recent load (queueDepth against
// queueCapacity), the agent's energy, and specialization match. An agent
// missing a required capability, or holding it below the task's minimum
// proficiency, scores 0 — it is not a candidate.
// queueDepth is the agent's current local-queue depth and queueCapacity is
// the configured bound it is measured against (scheduler.Config's
// QueueThreshold), standing in for "recent load" since the spec names the
// term without fixing its source signal.
func Score(agent *types.Agent, task *types.Task, queueDepth, queueCapacity int) float64 {
	if agent == nil || task == nil {
		return 0
	}

	for _, req := range task.RequiredCapabilities {
		if p, has := agent.Proficiency(req.Name); !has || p < req.MinProficiency {
			return 0
		}
	}
	capabilityMatch := capabilityCoverage(agent, task)

	recentLoad := loadFraction(queueDepth, queueCapacity)
	energy := clamp01(agent.Energy / 100)
	specialization := specializationMatch(agent, task)

	return weightCapability*capabilityMatch +
		weightLoad*(1-recentLoad) +
		weightEnergy*energy +
		weightSpecialization*specialization
}

// loadFraction normalizes depth against capacity to [0,1]. A non-positive
// capacity is treated as unbounded (zero load), since there is nothing to
// saturate against.
func loadFraction(depth, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return clamp01(float64(depth) / float64(capacity))
}

// capabilityCoverage averages how far the agent's proficiency in each
// required capability exceeds its minimum, clamped to [0,1]. A required
// capability the agent lacks entirely contributes 0.
func capabilityCoverage(agent *types.Agent, task *types.Task) float64 {
	if len(task.RequiredCapabilities) == 0 {
		return 1
	}
	var total float64
	for _, req := range task.RequiredCapabilities {
		p, has := agent.Proficiency(req.Name)
		if !has {
			continue
		}
		total += clamp01(p - req.MinProficiency)
	}
	return total / float64(len(task.RequiredCapabilities))
}

// specializationMatch is the specialization_match fitness term,
// evaluated literally as agent kind tag equality against task type.
func specializationMatch(agent *types.Agent, task *types.Task) float64 {
	if agent.Kind.Tag == task.Type {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
