package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/churnprobe/internal/engine"
	"github.com/roach88/churnprobe/internal/probe"
	"github.com/roach88/churnprobe/internal/record"
	"github.com/roach88/churnprobe/internal/recorder"
	"github.com/roach88/churnprobe/internal/testutil"
)

// Epoch is the fake-clock instant at which monitoring starts.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var errScriptedFailure = errors.New("scripted probe failure")

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	Summary engine.Summary `json:"summary"`

	// The three CSV streams as written.
	Churns       string `json:"churns"`
	NodesDecay   string `json:"nodes_decay"`
	NodesStoring string `json:"nodes_storing"`
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario and evaluates its assertions.
//
// An error is returned only when the run itself could not be carried out;
// assertion failures are reported in the result.
func Run(s *Scenario) (*Result, error) {
	var churns, decay, storing bytes.Buffer
	csv, err := recorder.NewCSV(&churns, &decay, &storing)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}

	keys := testutil.SequentialKeys(s.Records)
	index := make(map[record.PublicKey]int, len(keys))
	for i, k := range keys {
		index[k] = i
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probes atomic.Int64
	dht := testutil.NewScriptedDHT()
	dht.Counts = func(key record.PublicKey, call int) (int, error) {
		row := s.Sweeps[min(call, len(s.Sweeps))-1]
		n := row[index[key]]
		if s.CancelAfterProbes > 0 && probes.Add(1) == int64(s.CancelAfterProbes) {
			cancel()
		}
		if n < 0 {
			return 0, errScriptedFailure
		}
		return n, nil
	}

	probers := func(ctx context.Context, worker int) (engine.Prober, error) {
		return probe.New(dht, probe.ModeCount, time.Second), nil
	}

	stop := s.StopFraction
	if stop == 0 {
		stop = engine.DefaultStopFraction
	}
	opts := []engine.EngineOption{
		engine.WithClock(testutil.NewFakeClock(Epoch)),
		engine.WithStopFraction(stop),
		engine.WithMaxDuration(time.Duration(*s.MaxDurationS) * time.Second),
		engine.WithSweepPause(time.Duration(s.SweepPauseS) * time.Second),
		engine.WithProbeDelay(time.Duration(s.ProbeDelayS) * time.Second),
		engine.WithWorkers(s.Workers),
		engine.WithTrackRecovery(s.TrackRecovery),
	}
	if s.ShuffleSeed != nil {
		opts = append(opts, engine.WithShuffle(*s.ShuffleSeed))
	}

	publishedAt := Epoch.Add(-time.Duration(s.PublishedBeforeS) * time.Second)
	eng := engine.New(record.NewHandles(keys, publishedAt), probers, csv, opts...)

	summary, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine run: %w", err)
	}

	result := &Result{
		Pass:         true,
		Summary:      summary,
		Churns:       churns.String(),
		NodesDecay:   decay.String(),
		NodesStoring: storing.String(),
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
