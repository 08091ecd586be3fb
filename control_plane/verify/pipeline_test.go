package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxforge/orchestrator/control_plane/collaborators"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

func scorerReturning(sim float64, err error) collaborators.Scorer {
	return collaborators.ScorerFunc(func(ctx context.Context, goal, result string) (float64, error) {
		return sim, err
	})
}

func testChecks() []Check {
	return []Check{
		{Name: "keywords", Threshold: 0.5, Required: true, Fn: RequiredKeywords([]string{"hello"})},
		{Name: "length", Threshold: 0.5, Required: false, Fn: LengthBounds(1, 1000)},
	}
}

func TestVerify_PassedWhenConfidentAndNoFail(t *testing.T) {
	p := New(scorerReturning(0.9, nil), testChecks(), types.Thresholds{Confidence: 0.7, Rules: map[string]float64{}})
	o := p.Verify(context.Background(), "t1", "goal", "hello world")
	assert.Equal(t, types.Passed, o.Verdict)
}

func TestVerify_FailedWhenRequiredCheckFails(t *testing.T) {
	p := New(scorerReturning(0.95, nil), testChecks(), types.Thresholds{Confidence: 0.7, Rules: map[string]float64{}})
	o := p.Verify(context.Background(), "t1", "goal", "goodbye world")
	assert.Equal(t, types.VerdictFailed, o.Verdict)
}

func TestVerify_RequiresReviewWhenBelowConfidence(t *testing.T) {
	p := New(scorerReturning(0.3, nil), testChecks(), types.Thresholds{Confidence: 0.7, Rules: map[string]float64{}})
	o := p.Verify(context.Background(), "t1", "goal", "hello world")
	assert.Equal(t, types.RequiresReview, o.Verdict)
}

func TestVerify_InconclusiveOnNoSignal(t *testing.T) {
	p := New(scorerReturning(0, ErrNoSignal), testChecks(), types.Thresholds{Confidence: 0.7, Rules: map[string]float64{}})
	o := p.Verify(context.Background(), "t1", "goal", "hello world")
	assert.Equal(t, types.Inconclusive, o.Verdict)
}

func TestVerify_ErrorOnScorerFailure(t *testing.T) {
	p := New(scorerReturning(0, assertErr{}), testChecks(), types.Thresholds{Confidence: 0.7, Rules: map[string]float64{}})
	o := p.Verify(context.Background(), "t1", "goal", "hello world")
	assert.Equal(t, types.VerdictError, o.Verdict)
}

type assertErr struct{}

func (assertErr) Error() string { return "scorer unavailable" }
