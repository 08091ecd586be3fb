package agentpool

import (
	"math"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// SwarmCohesion computes the mean pairwise Euclidean distance between
// agent positions, normalized to [0,1] by dividing by the maximum
// observed pairwise distance. It is an on-demand
// pure function with no background consumer, matching how the original
// source computed it only when a dashboard field requested it. Returns
// 0 for fewer than two agents.
func SwarmCohesion(agents []types.Agent) float64 {
	n := len(agents)
	if n < 2 {
		return 0
	}

	var distances []float64
	var maxDist float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := agents[i].Position.X - agents[j].Position.X
			dy := agents[i].Position.Y - agents[j].Position.Y
			d := math.Sqrt(dx*dx + dy*dy)
			distances = append(distances, d)
			if d > maxDist {
				maxDist = d
			}
		}
	}
	if maxDist == 0 {
		return 0
	}

	var sum float64
	for _, d := range distances {
		sum += d
	}
	mean := sum / float64(len(distances))
	return mean / maxDist
}
