package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/churnprobe/internal/recorder"
)

// Snapshot renders a result as the text stored in golden files: the
// summary counters followed by the three CSV streams verbatim.
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	s := r.Summary
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "stop_reason: %s\n", s.StopReason)
	fmt.Fprintf(&b, "sweeps: %d\n", s.Sweeps)
	fmt.Fprintf(&b, "probes: %d\n", s.Probes)
	fmt.Fprintf(&b, "churned: %d\n", s.Churned)
	fmt.Fprintf(&b, "churn_events: %d\n", s.ChurnEvents)
	fmt.Fprintf(&b, "elapsed_s: %d\n", recorder.Seconds(s.Elapsed))
	for _, stream := range []struct{ file, body string }{
		{recorder.ChurnsFile, r.Churns},
		{recorder.NodesDecayFile, r.NodesDecay},
		{recorder.NodesStoringFile, r.NodesStoring},
	} {
		fmt.Fprintf(&b, "\n== %s\n%s", stream.file, stream.body)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
