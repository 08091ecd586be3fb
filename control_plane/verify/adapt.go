package verify

import (
	"time"

	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// PerformanceWeights are the w_acc/w_eff/w_suc weights from the
// adaptive tuner's score(t) formula.
type PerformanceWeights struct {
	Accuracy, Efficiency, Success float64
}

// Tuner periodically re-tunes the Pipeline's confidence and rule
// thresholds from a rolling window of recorded outcomes.
type Tuner struct {
	window   *Window
	pipeline *Pipeline

	adaptationWindow time.Duration
	minSamples       int

	confidenceMin, confidenceMax float64
	ruleMin, ruleMax             float64
	weights                      PerformanceWeights

	recommendationGate float64
	improvementGate    float64

	gridSteps int
	now       func() time.Time
}

// TunerConfig bundles the Tuner's construction parameters, mirroring
// config.Config's adaptive-threshold fields one-to-one.
type TunerConfig struct {
	AdaptationWindow         time.Duration
	MinSamplesForAdaptation  int
	ConfidenceThresholdMin   float64
	ConfidenceThresholdMax   float64
	RuleThresholdMin         float64
	RuleThresholdMax         float64
	WeightAccuracy           float64
	WeightEfficiency         float64
	WeightSuccess            float64
	RecommendationConfidence float64
	ExpectedImprovementGate  float64
}

// NewTuner constructs a Tuner. gridSteps controls the coarseness of the
// candidate-threshold grid search.
func NewTuner(window *Window, pipeline *Pipeline, cfg TunerConfig, gridSteps int) *Tuner {
	if gridSteps < 2 {
		gridSteps = 10
	}
	return &Tuner{
		window:             window,
		pipeline:           pipeline,
		adaptationWindow:   cfg.AdaptationWindow,
		minSamples:         cfg.MinSamplesForAdaptation,
		confidenceMin:      cfg.ConfidenceThresholdMin,
		confidenceMax:      cfg.ConfidenceThresholdMax,
		ruleMin:            cfg.RuleThresholdMin,
		ruleMax:            cfg.RuleThresholdMax,
		recommendationGate: cfg.RecommendationConfidence,
		improvementGate:    cfg.ExpectedImprovementGate,
		gridSteps:          gridSteps,
		now:                time.Now,
		weights: PerformanceWeights{
			Accuracy:   cfg.WeightAccuracy,
			Efficiency: cfg.WeightEfficiency,
			Success:    cfg.WeightSuccess,
		},
	}
}

// SweepResult records what one Sweep call decided, for logging/auditing.
type SweepResult struct {
	Applied              bool
	Reason               string
	SampleCount          int
	OldConfidence        float64
	NewConfidence        float64
	RecommendationScore  float64
	ExpectedImprovement  float64
}

// Sweep runs one adaptive-threshold iteration.
func (t *Tuner) Sweep() SweepResult {
	cutoff := t.now().Add(-t.adaptationWindow)
	outcomes := t.window.Since(cutoff)

	if len(outcomes) < t.minSamples {
		metrics.AdaptationSweeps.WithLabelValues("skipped_samples").Inc()
		return SweepResult{Applied: false, Reason: "insufficient samples", SampleCount: len(outcomes)}
	}

	current := t.pipeline.Thresholds()
	currentScore := t.scoreAt(outcomes, current.Confidence)

	best := current.Confidence
	bestScore := currentScore
	for _, candidate := range grid(t.confidenceMin, t.confidenceMax, t.gridSteps) {
		s := t.scoreAt(outcomes, candidate)
		if s > bestScore {
			bestScore = s
			best = candidate
		}
	}

	improvement := bestScore - currentScore
	sampleConfidence := clamp01(float64(len(outcomes)) / 100)
	improvementConfidence := clamp01(10 * improvement)
	recommendationConfidence := (sampleConfidence + improvementConfidence) / 2

	result := SweepResult{
		SampleCount:         len(outcomes),
		OldConfidence:       current.Confidence,
		NewConfidence:       best,
		RecommendationScore: recommendationConfidence,
		ExpectedImprovement: improvement,
	}

	if recommendationConfidence < t.recommendationGate || improvement <= t.improvementGate {
		metrics.AdaptationSweeps.WithLabelValues("skipped_confidence").Inc()
		result.Applied = false
		result.Reason = "recommendation confidence or expected improvement below gate"
		return result
	}

	next := current.Clone()
	next.Confidence = clampRange(best, t.confidenceMin, t.confidenceMax)
	for rule := range next.Rules {
		next.Rules[rule] = t.tuneRule(outcomes, rule, next.Rules[rule], current.Confidence)
	}
	t.pipeline.SetThresholds(next)
	metrics.ConfidenceThreshold.Set(next.Confidence)
	metrics.AdaptationSweeps.WithLabelValues("applied").Inc()

	result.Applied = true
	result.Reason = "applied"
	return result
}

// tuneRule runs the same grid-search procedure, scoped to a single named
// rule threshold: other rule thresholds and the confidence threshold
// (heldConfidence) are held fixed during the search. If no recorded
// outcome carries a Stage A score for rule, the check did not exist (or
// predates StageAScores being recorded) and the threshold is left
// unchanged rather than tuned against meaningless data.
func (t *Tuner) tuneRule(outcomes []types.VerificationOutcome, rule string, current, heldConfidence float64) float64 {
	if !anyHasRuleScore(outcomes, rule) {
		return current
	}

	best := current
	bestScore := t.ruleScoreAt(outcomes, rule, current, heldConfidence)
	for _, candidate := range grid(t.ruleMin, t.ruleMax, t.gridSteps) {
		s := t.ruleScoreAt(outcomes, rule, candidate, heldConfidence)
		if s > bestScore {
			bestScore = s
			best = candidate
		}
	}
	return clampRange(best, t.ruleMin, t.ruleMax)
}

func anyHasRuleScore(outcomes []types.VerificationOutcome, rule string) bool {
	for _, o := range outcomes {
		if _, ok := o.StageAScores[rule]; ok {
			return true
		}
	}
	return false
}

// scoreAt simulates the verdict each outcome *would have* received under
// candidate confidence threshold t and computes the tuner's weighted
// performance score.
func (t *Tuner) scoreAt(outcomes []types.VerificationOutcome, candidate float64) float64 {
	var correct, withActual int
	var totalTime time.Duration
	var successCount int
	for _, o := range outcomes {
		simulatedPass := o.Confidence >= candidate
		if o.ActualSuccess != nil {
			withActual++
			if simulatedPass == *o.ActualSuccess {
				correct++
			}
			if *o.ActualSuccess {
				successCount++
			}
		}
		totalTime += o.VerificationTime
	}
	accuracy := safeDiv(float64(correct), float64(withActual))
	meanTime := time.Duration(0)
	if len(outcomes) > 0 {
		meanTime = totalTime / time.Duration(len(outcomes))
	}
	efficiency := 1 - minFloat(1, meanTime.Seconds()/10)
	successRate := safeDiv(float64(successCount), float64(withActual))

	return t.weights.Accuracy*accuracy + t.weights.Efficiency*efficiency + t.weights.Success*successRate
}

// ruleScoreAt replays each outcome's Stage A check results under candidate
// as rule's threshold, holding every other recorded rule threshold and
// heldConfidence fixed, and recomputes the Stage A hard-fail/soft-issue
// verdict from those replayed per-check scores rather than trusting the
// outcome's already-computed Verdict. An outcome with no recorded score
// for any rule contributes nothing (neither simulatedPass nor accuracy
// bookkeeping), since there's nothing to replay.
func (t *Tuner) ruleScoreAt(outcomes []types.VerificationOutcome, rule string, candidate, heldConfidence float64) float64 {
	var correct, withActual int
	var totalTime time.Duration
	var successCount int
	for _, o := range outcomes {
		if len(o.StageAScores) == 0 {
			continue
		}
		hardFailed, _ := t.replayStageA(o, rule, candidate)
		// A soft issue downgrades Passed to PassedWithIssues but both
		// still count as "pass" for accuracy bookkeeping, so only
		// hardFailed affects simulatedPass here.
		simulatedPass := !hardFailed && o.Confidence >= heldConfidence

		if o.ActualSuccess != nil {
			withActual++
			if simulatedPass == *o.ActualSuccess {
				correct++
			}
			if *o.ActualSuccess {
				successCount++
			}
		}
		totalTime += o.VerificationTime
	}
	accuracy := safeDiv(float64(correct), float64(withActual))
	meanTime := time.Duration(0)
	if len(outcomes) > 0 {
		meanTime = totalTime / time.Duration(len(outcomes))
	}
	efficiency := 1 - minFloat(1, meanTime.Seconds()/10)
	successRate := safeDiv(float64(successCount), float64(withActual))

	return t.weights.Accuracy*accuracy + t.weights.Efficiency*efficiency + t.weights.Success*successRate
}

// replayStageA recomputes o's Stage A hard-fail/soft-issue outcome from
// its recorded per-check scores, substituting candidate for rule's
// threshold and o.Thresholds.Rules for every other check.
func (t *Tuner) replayStageA(o types.VerificationOutcome, rule string, candidate float64) (hardFailed, softIssue bool) {
	for name, score := range o.StageAScores {
		threshold, ok := o.Thresholds.Rules[name]
		if name == rule {
			threshold, ok = candidate, true
		}
		if !ok {
			continue
		}
		if score >= threshold {
			continue
		}
		required, known := t.pipeline.RuleRequired(name)
		if !known {
			continue
		}
		if required {
			hardFailed = true
		} else {
			softIssue = true
		}
	}
	return hardFailed, softIssue
}

func grid(min, max float64, steps int) []float64 {
	if steps < 2 || max <= min {
		return []float64{min}
	}
	out := make([]float64, 0, steps+1)
	step := (max - min) / float64(steps)
	for i := 0; i <= steps; i++ {
		out = append(out, min+step*float64(i))
	}
	return out
}

func clampRange(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
