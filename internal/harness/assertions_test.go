package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/churnprobe/internal/engine"
	"github.com/roach88/churnprobe/internal/testutil"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func sampleResult() *Result {
	k1 := testutil.SequentialKey(1).String()
	k2 := testutil.SequentialKey(2).String()
	return &Result{
		Pass: true,
		Summary: engine.Summary{
			WorkingSet:    2,
			Churned:       1,
			ChurnFraction: 0.5,
			ChurnEvents:   1,
			Sweeps:        2,
			StopReason:    engine.StopMaxDuration,
		},
		Churns:       "pubkey,time_s\n" + k1 + ",90\n" + k2 + ",0\n",
		NodesDecay:   "timestamp_s,pubkey,nodes_count\n0," + k1 + ",2\n0," + k2 + ",2\n60," + k1 + ",0\n",
		NodesStoring: "node_count,timestamp\n2,60\n",
	}
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertStopReason, Reason: "max_duration"},
		{Type: AssertSweeps, Count: intp(2)},
		{Type: AssertChurned, Count: intp(1)},
		{Type: AssertChurnEvents, Count: intp(1)},
		{Type: AssertChurnFraction, Fraction: floatp(0.5)},
		{Type: AssertChurnRows, Count: intp(2)},
		{Type: AssertDecayRows, Count: intp(3)},
		{Type: AssertStoringRows, Count: intp(1)},
		{Type: AssertChurnTime, Record: 1, TimeS: int64p(90)},
		{Type: AssertChurnTime, Record: 2, TimeS: int64p(0)},
		{Type: AssertStoringDecreasing},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertSweeps, Count: intp(2)},
		{Type: AssertChurned, Count: intp(2)},
		{Type: AssertChurnTime, Record: 3, TimeS: int64p(0)},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[0], "Expected: 2")
	assert.Contains(t, failures[1], "assertions[2]")
	assert.Contains(t, failures[1], "no row")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{{Type: "vibes"}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "vibes"`)
}

func TestAssertStoringDecreasing_Violation(t *testing.T) {
	r := sampleResult()
	r.NodesStoring = "node_count,timestamp\n4,60\n4,120\n"

	failures := EvaluateAssertions(r, []Assertion{{Type: AssertStoringDecreasing}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "row 2 below 4")
}

func TestAssertChurnTime_DuplicateRows(t *testing.T) {
	r := sampleResult()
	k1 := testutil.SequentialKey(1).String()
	r.Churns = "pubkey,time_s\n" + k1 + ",90\n" + k1 + ",0\n"

	failures := EvaluateAssertions(r, []Assertion{{Type: AssertChurnTime, Record: 1, TimeS: int64p(90)}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "2 rows")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{Type: AssertSweeps, Expected: "3", Actual: "2"}
	assert.Equal(t, "Assertion failed: sweeps\n  Expected: 3\n  Actual: 2", err.Error())
}
