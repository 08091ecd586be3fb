package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

func tunerConfig() TunerConfig {
	return TunerConfig{
		AdaptationWindow:         time.Hour,
		MinSamplesForAdaptation:  5,
		ConfidenceThresholdMin:   0.3,
		ConfidenceThresholdMax:   0.9,
		RuleThresholdMin:         0.3,
		RuleThresholdMax:         0.9,
		WeightAccuracy:           0.6,
		WeightEfficiency:         0.2,
		WeightSuccess:            0.2,
		RecommendationConfidence: 0.0, // gate disabled for the basic test
		ExpectedImprovementGate:  -1,  // accept any improvement, including none
	}
}

func TestSweep_SkipsWhenBelowMinSamples(t *testing.T) {
	w := NewWindow(100)
	p := New(scorerReturning(0.8, nil), nil, types.Thresholds{Confidence: 0.6, Rules: map[string]float64{}})
	tuner := NewTuner(w, p, tunerConfig(), 5)

	result := tuner.Sweep()
	assert.False(t, result.Applied)
	assert.Contains(t, result.Reason, "insufficient")
}

func TestSweep_PicksBetterConfidenceThreshold(t *testing.T) {
	w := NewWindow(100)
	now := time.Now()
	// Outcomes where confidence 0.85 perfectly separates success from failure,
	// but the current threshold of 0.1 does not.
	for i := 0; i < 10; i++ {
		w.Append(types.VerificationOutcome{
			TaskID:        "success",
			Confidence:    0.9,
			ActualSuccess: boolPtr(true),
			Timestamp:     now,
		})
		w.Append(types.VerificationOutcome{
			TaskID:        "failure",
			Confidence:    0.4,
			ActualSuccess: boolPtr(false),
			Timestamp:     now,
		})
	}

	p := New(scorerReturning(0.8, nil), nil, types.Thresholds{Confidence: 0.1, Rules: map[string]float64{}})
	tuner := NewTuner(w, p, tunerConfig(), 20)

	result := tuner.Sweep()
	require.True(t, result.Applied)
	assert.Greater(t, result.NewConfidence, result.OldConfidence)
	assert.Greater(t, result.NewConfidence, 0.4)
	assert.Equal(t, result.NewConfidence, p.Thresholds().Confidence)
}

func TestSweep_TieKeepsExistingThreshold(t *testing.T) {
	w := NewWindow(100)
	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Append(types.VerificationOutcome{TaskID: "a", Confidence: 0.5, ActualSuccess: boolPtr(true), Timestamp: now})
	}
	cfg := tunerConfig()
	cfg.RecommendationConfidence = 2 // unreachable gate: the sweep is never applied, so NewConfidence shows the search's pick
	p := New(scorerReturning(0.8, nil), nil, types.Thresholds{Confidence: 0.5, Rules: map[string]float64{}})
	tuner := NewTuner(w, p, cfg, 10)

	result := tuner.Sweep()
	assert.False(t, result.Applied)
	assert.Equal(t, 0.5, result.NewConfidence, "a candidate scoring equal to the current threshold does not replace it")
	assert.Equal(t, 0.5, p.Thresholds().Confidence)
}
