package verify

import (
	"context"
	"errors"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/collaborators"
	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// ErrNoSignal is returned by a Scorer to mean "I have no opinion" —
// distinct from an error, mapped to the Inconclusive verdict rather than
// VerdictError.
var ErrNoSignal = errors.New("scorer returned no signal")

// Pipeline runs Stage A/Stage B verification and maintains the current
// decision thresholds it evaluates against.
type Pipeline struct {
	scorer collaborators.Scorer
	checks []Check

	thresholds types.Thresholds
}

// New constructs a Pipeline with the given Stage A checks, Stage B
// scorer, and initial thresholds.
func New(scorer collaborators.Scorer, checks []Check, initial types.Thresholds) *Pipeline {
	return &Pipeline{scorer: scorer, checks: checks, thresholds: initial.Clone()}
}

// Thresholds returns a copy of the thresholds currently in effect.
func (p *Pipeline) Thresholds() types.Thresholds { return p.thresholds.Clone() }

// SetThresholds replaces the thresholds in effect, clamped by the caller
// beforehand (Sweep always clamps; direct callers should too).
func (p *Pipeline) SetThresholds(t types.Thresholds) { p.thresholds = t.Clone() }

// RuleRequired reports whether the named Stage A check is configured as
// required (a failure hard-fails Stage A) versus non-blocking, and whether
// a check by that name exists at all.
func (p *Pipeline) RuleRequired(name string) (required, ok bool) {
	for _, c := range p.checks {
		if c.Name == name {
			return c.Required, true
		}
	}
	return false, false
}

// Verify runs both stages against output for the given goal and returns
// the recorded VerificationOutcome. It never returns a Go error for a
// scoring failure — that is represented as VerdictError in the outcome
// itself: "Scorer or check threw → Error".
func (p *Pipeline) Verify(ctx context.Context, taskID, goal, output string) types.VerificationOutcome {
	start := time.Now()
	checks := make([]Check, len(p.checks))
	for i, c := range p.checks {
		if th, ok := p.thresholds.Rules[c.Name]; ok {
			c.Threshold = th
		}
		checks[i] = c
	}
	stageA := RunStageA(checks, output)

	scores := make(map[string]float64, len(stageA.Results))
	for _, r := range stageA.Results {
		scores[r.Name] = r.Score
	}

	outcome := types.VerificationOutcome{
		TaskID:        taskID,
		Thresholds:    p.thresholds.Clone(),
		StageAScores:  scores,
		Timestamp:     start,
	}

	similarity, err := p.scorer.Score(ctx, goal, output)
	outcome.VerificationTime = time.Since(start)

	switch {
	case err != nil && errors.Is(err, ErrNoSignal):
		outcome.Verdict = types.Inconclusive
	case err != nil:
		outcome.Verdict = types.VerdictError
	case stageA.HardFailed:
		outcome.Verdict = types.VerdictFailed
		outcome.OverallScore = similarity
	case similarity >= p.thresholds.Confidence && !stageA.HasSoftIssues:
		outcome.Verdict = types.Passed
		outcome.Confidence = similarity
		outcome.OverallScore = similarity
	case similarity >= p.thresholds.Confidence && stageA.HasSoftIssues:
		outcome.Verdict = types.PassedWithIssues
		outcome.Confidence = similarity
		outcome.OverallScore = similarity
	default:
		outcome.Verdict = types.RequiresReview
		outcome.Confidence = similarity
		outcome.OverallScore = similarity
	}

	metrics.VerificationVerdicts.WithLabelValues(string(outcome.Verdict)).Inc()
	metrics.VerificationDuration.Observe(outcome.VerificationTime.Seconds())
	return outcome
}

// VerifyFault is a convenience wrapper for callers that prefer a Go
// error for the Error verdict specifically (e.g. an HTTP handler that
// wants to return 500 rather than render an "error" verdict body).
func VerifyFault(o types.VerificationOutcome) error {
	if o.Verdict == types.VerdictError {
		return faults.New(faults.Internal, "verification scorer or check threw")
	}
	return nil
}
