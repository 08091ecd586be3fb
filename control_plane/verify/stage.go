// Package verify implements the two-stage verification pipeline with
// adaptive thresholds: Stage A rule-based checks, Stage B
// semantic goal alignment via an external Scorer, verdict mapping,
// a bounded outcome window, and periodic threshold re-tuning.
package verify

import (
	"strings"
)

// CheckFunc evaluates one rule-based check against a task's output and
// returns a score in [0,1].
type CheckFunc func(output string) float64

// Check is one configured Stage A rule: output-shape,
// required keywords, length bounds, schema validity, or any custom
// CheckFunc. Required checks failing their threshold fails Stage A
// hard; non-blocking checks failing only downgrade Passed to
// PassedWithIssues.
type Check struct {
	Name       string
	Threshold  float64
	Required   bool
	Fn         CheckFunc
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name    string
	Score   float64
	Passed  bool
	Required bool
}

// StageAResult is the aggregate Stage A outcome.
type StageAResult struct {
	Results       []CheckResult
	HardFailed    bool // a required check failed
	HasSoftIssues bool // a non-blocking check failed
}

// RunStageA evaluates every configured check against output.
func RunStageA(checks []Check, output string) StageAResult {
	var res StageAResult
	for _, c := range checks {
		score := c.Fn(output)
		passed := score >= c.Threshold
		res.Results = append(res.Results, CheckResult{Name: c.Name, Score: score, Passed: passed, Required: c.Required})
		if !passed {
			if c.Required {
				res.HardFailed = true
			} else {
				res.HasSoftIssues = true
			}
		}
	}
	return res
}

// RequiredKeywords returns a CheckFunc scoring the fraction of keywords
// present in output (case-insensitive).
func RequiredKeywords(keywords []string) CheckFunc {
	return func(output string) float64 {
		if len(keywords) == 0 {
			return 1
		}
		lower := strings.ToLower(output)
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		return float64(hits) / float64(len(keywords))
	}
}

// LengthBounds returns a CheckFunc scoring 1 if len(output) is within
// [min, max], decaying linearly to 0 at half/double the nearest bound
// otherwise.
func LengthBounds(min, max int) CheckFunc {
	return func(output string) float64 {
		n := len(output)
		if n >= min && n <= max {
			return 1
		}
		if n < min {
			if min == 0 {
				return 1
			}
			return clamp01(float64(n) / float64(min))
		}
		// n > max
		span := max
		if span == 0 {
			span = 1
		}
		over := n - max
		return clamp01(1 - float64(over)/float64(span))
	}
}

// OutputShape returns a CheckFunc scoring 1 if output is non-empty and
// does not look truncated (does not end mid-sentence on an open
// delimiter), 0 otherwise. A minimal stand-in for an "output-shape"
// check in the absence of a concrete schema.
func OutputShape() CheckFunc {
	return func(output string) float64 {
		trimmed := strings.TrimSpace(output)
		if trimmed == "" {
			return 0
		}
		last := trimmed[len(trimmed)-1]
		switch last {
		case '{', '[', ',', ':':
			return 0
		default:
			return 1
		}
	}
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
