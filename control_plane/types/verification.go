package types

import "time"

// Verdict is the closed set of verification outcomes.
type Verdict string

const (
	Passed           Verdict = "passed"
	PassedWithIssues Verdict = "passed_with_issues"
	VerdictFailed    Verdict = "failed"
	RequiresReview   Verdict = "requires_review"
	Inconclusive     Verdict = "inconclusive"
	VerdictError     Verdict = "error"
)

// Thresholds bundles the decision thresholds a verification run was
// evaluated under, so later replay (the round-trip determinism law) can
// reproduce the exact verdict.
type Thresholds struct {
	Confidence float64            `json:"confidence"`
	Rules      map[string]float64 `json:"rules"`
}

// Clone returns a copy safe to store independently of the source map.
func (t Thresholds) Clone() Thresholds {
	rules := make(map[string]float64, len(t.Rules))
	for k, v := range t.Rules {
		rules[k] = v
	}
	return Thresholds{Confidence: t.Confidence, Rules: rules}
}

// VerificationOutcome is one recorded verification attempt.
type VerificationOutcome struct {
	TaskID          string     `json:"task_id"`
	Verdict         Verdict    `json:"verdict"`
	Confidence      float64    `json:"confidence"`
	OverallScore    float64    `json:"overall_score"`
	ActualSuccess   *bool      `json:"actual_success,omitempty"` // nil until the executor reports in
	Thresholds      Thresholds `json:"thresholds"`
	// StageAScores is each Stage A check's raw [0,1] score, keyed by check
	// name, as recorded at verification time — retained so a later rule
	// threshold sweep can replay "would this check still have passed"
	// against a candidate threshold without re-running the check.
	StageAScores     map[string]float64 `json:"stage_a_scores,omitempty"`
	VerificationTime time.Duration      `json:"verification_time"`
	Timestamp        time.Time          `json:"timestamp"`
}

// VerificationPassed reports whether this outcome counts as a pass for
// accuracy-class bookkeeping (the TP/TN/FP/FN convention):
// Passed and PassedWithIssues both count as "verification said pass".
func (o VerificationOutcome) VerificationPassed() bool {
	return o.Verdict == Passed || o.Verdict == PassedWithIssues
}
