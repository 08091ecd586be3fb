package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

func boolPtr(b bool) *bool { return &b }

func TestWindow_BatchEvictsWhenFull(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 15; i++ {
		w.Append(types.VerificationOutcome{TaskID: "t", Timestamp: time.Now()})
	}
	assert.LessOrEqual(t, w.Len(), 10)
	assert.Greater(t, w.Len(), 0)
}

func TestWindow_RecordActualSuccessMatchesMostRecent(t *testing.T) {
	w := NewWindow(10)
	w.Append(types.VerificationOutcome{TaskID: "t1", Timestamp: time.Now()})
	ok := w.RecordActualSuccess("t1", true)
	assert.True(t, ok)

	outcomes := w.Since(time.Time{})
	assert.NotNil(t, outcomes[0].ActualSuccess)
	assert.True(t, *outcomes[0].ActualSuccess)
}

func TestWindow_RecordActualSuccessUnknownTaskReturnsFalse(t *testing.T) {
	w := NewWindow(10)
	assert.False(t, w.RecordActualSuccess("missing", true))
}

func TestAccuracy_ClassifiesOutcomesCorrectly(t *testing.T) {
	outcomes := []types.VerificationOutcome{
		{Verdict: types.Passed, ActualSuccess: boolPtr(true)},             // TP
		{Verdict: types.VerdictFailed, ActualSuccess: boolPtr(false)},     // TN
		{Verdict: types.Passed, ActualSuccess: boolPtr(false)},            // FP
		{Verdict: types.VerdictFailed, ActualSuccess: boolPtr(true)},      // FN
		{Verdict: types.Passed, ActualSuccess: nil},                      // ignored
	}
	r := Accuracy(outcomes)
	assert.Equal(t, 1, r.TP)
	assert.Equal(t, 1, r.TN)
	assert.Equal(t, 1, r.FP)
	assert.Equal(t, 1, r.FN)
	assert.InDelta(t, 0.5, r.Precision(), 0.001)
	assert.InDelta(t, 0.5, r.Recall(), 0.001)
	assert.InDelta(t, 0.5, r.F1(), 0.001)
}

func TestAccuracy_ZeroOverZeroConvention(t *testing.T) {
	var r AccuracyReport
	assert.Equal(t, 0.0, r.Precision())
	assert.Equal(t, 0.0, r.Recall())
	assert.Equal(t, 0.0, r.F1())
}
