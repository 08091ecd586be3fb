package verify

import (
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// dropBatchFraction is the fraction of capacity dropped at once when the
// window is full, so eviction amortizes to O(1) per append rather than
// shifting one element on every overflow: drop oldest in batches,
// never one-by-one.
const dropBatchFraction = 0.1

// Window is the bounded FIFO of recorded VerificationOutcomes, grounded
// on resilience/reconciliation.go's windowed pending-writes pattern
// (staleness handling, success/fail/skip counters) generalized from
// "replay cache writes against Redis" to "replay outcomes against a
// candidate threshold".
type Window struct {
	mu       sync.Mutex
	outcomes []types.VerificationOutcome
	capacity int
}

// NewWindow creates a Window bounded at capacity outcomes.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{capacity: capacity}
}

// Append records an outcome, evicting the oldest batch if full.
func (w *Window) Append(o types.VerificationOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.outcomes) >= w.capacity {
		drop := int(float64(w.capacity) * dropBatchFraction)
		if drop < 1 {
			drop = 1
		}
		if drop > len(w.outcomes) {
			drop = len(w.outcomes)
		}
		w.outcomes = append([]types.VerificationOutcome(nil), w.outcomes[drop:]...)
	}
	w.outcomes = append(w.outcomes, o)
}

// RecordActualSuccess attaches the executor's actual-success verdict to
// the most recent matching outcome for taskID, since execution may
// finish after verification.
func (w *Window) RecordActualSuccess(taskID string, success bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.outcomes) - 1; i >= 0; i-- {
		if w.outcomes[i].TaskID == taskID {
			w.outcomes[i].ActualSuccess = &success
			return true
		}
	}
	return false
}

// Since returns a copy of every outcome recorded at or after cutoff.
func (w *Window) Since(cutoff time.Time) []types.VerificationOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.VerificationOutcome
	for _, o := range w.outcomes {
		if !o.Timestamp.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the current window depth.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.outcomes)
}

// AccuracyReport holds the TP/TN/FP/FN bookkeeping and derived metrics
// for a set of outcomes whose ActualSuccess is known.
type AccuracyReport struct {
	TP, TN, FP, FN int
}

// Precision, Recall, F1 use the 0/0 = 0 convention.
func (r AccuracyReport) Precision() float64 { return safeDiv(float64(r.TP), float64(r.TP+r.FP)) }
func (r AccuracyReport) Recall() float64    { return safeDiv(float64(r.TP), float64(r.TP+r.FN)) }
func (r AccuracyReport) F1() float64 {
	p, rc := r.Precision(), r.Recall()
	return safeDiv(2*p*rc, p+rc)
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Accuracy classifies every outcome in outcomes whose ActualSuccess is
// known into TP/TN/FP/FN based on (VerificationPassed, *ActualSuccess).
func Accuracy(outcomes []types.VerificationOutcome) AccuracyReport {
	var r AccuracyReport
	for _, o := range outcomes {
		if o.ActualSuccess == nil {
			continue
		}
		predicted := o.VerificationPassed()
		actual := *o.ActualSuccess
		switch {
		case predicted && actual:
			r.TP++
		case !predicted && !actual:
			r.TN++
		case predicted && !actual:
			r.FP++
		case !predicted && actual:
			r.FN++
		}
	}
	return r
}
