package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/churnprobe/internal/record"
)

// Prober answers "how many nodes store key right now". Implementations
// must not return errors: failures count as zero (see probe.Adapter).
type Prober interface {
	CountStoringNodes(ctx context.Context, key record.PublicKey) int
	Close() error
}

// ProberFactory creates the prober for one worker partition.
type ProberFactory func(ctx context.Context, worker int) (Prober, error)

// Recorder receives the engine's output. Elapsed values for node counts
// and global samples are measured from the start of monitoring; churn
// delays are measured from the record's publication.
type Recorder interface {
	NodeCount(elapsed time.Duration, key record.PublicKey, count int) error
	Churn(key record.PublicKey, delay time.Duration) error
	GlobalCount(count int, elapsed time.Duration) error
	Flush() error
}

// Defaults used when no option overrides them.
const (
	DefaultStopFraction = 0.9
	DefaultMaxDuration  = 200 * time.Hour
	DefaultProbeDelay   = 3 * time.Second
	DefaultSweepPause   = time.Minute
)

// MinChurnDelay is the smallest churn delay reported. Output rows use whole
// seconds and 0 means "never churned", so a record that churns within its
// first second is reported at one second.
const MinChurnDelay = time.Second

// StopReason says why a run ended.
type StopReason string

const (
	StopChurnFraction StopReason = "churn_fraction"
	StopMaxDuration   StopReason = "max_duration"
	StopCancelled     StopReason = "cancelled"
	StopEmpty         StopReason = "empty_working_set"
	StopSinkFailure   StopReason = "sink_failure"
	StopSetupFailure  StopReason = "setup_failure"
)

// Summary describes a finished run.
type Summary struct {
	WorkingSet    int
	Churned       int
	ChurnFraction float64
	ChurnEvents   int
	Sweeps        int
	Probes        int64
	Elapsed       time.Duration
	StopReason    StopReason
}

// Throughput returns probes per second over the whole run.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Probes) / s.Elapsed.Seconds()
}

// Engine is the churn prober.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Probes(): safe from any goroutine (atomic counter)
//
// INVARIANTS:
//   - A handle becomes Churned only on a probe that returned zero; without
//     recovery tracking it then stays Churned
//   - Each handle produces exactly one churn event per run
//   - Global decay samples are strictly decreasing
type Engine struct {
	handles []*record.Handle
	probers ProberFactory
	rec     Recorder
	clock   Clock

	stopFraction     float64
	maxDuration      time.Duration
	probeDelay       time.Duration
	sweepPause       time.Duration
	workers          int
	shuffle          bool
	rng              *rand.Rand
	trackRecovery    bool
	progressInterval time.Duration

	// Coordinator-owned state.
	start        time.Time
	churned      int
	events       int
	aggregate    int
	hasReference bool
	lastGlobal   int
	sweepIndex   int
	probeCount   atomic.Int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithStopFraction ends the run once this fraction of the working set is
// churned. Default: 0.9.
func WithStopFraction(f float64) EngineOption {
	return func(e *Engine) { e.stopFraction = f }
}

// WithMaxDuration bounds monitoring time. Zero means a single sweep.
// Default: 200h.
func WithMaxDuration(d time.Duration) EngineOption {
	return func(e *Engine) { e.maxDuration = d }
}

// WithProbeDelay sets the wait before each probe. Default: 3s.
func WithProbeDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.probeDelay = d }
}

// WithSweepPause sets the wait between sweeps. Default: 1m.
func WithSweepPause(d time.Duration) EngineOption {
	return func(e *Engine) { e.sweepPause = d }
}

// WithWorkers partitions the working set across n workers, each with its
// own prober. Default: 1.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// WithShuffle reorders each partition at the start of every sweep using a
// generator seeded with seed.
func WithShuffle(seed uint64) EngineOption {
	return func(e *Engine) {
		e.shuffle = true
		e.rng = rand.New(rand.NewPCG(seed, seed+1))
	}
}

// WithTrackRecovery lets a churned record that is seen again return to
// Available, after which it may churn again; its churn event is still
// only written once. Without this option a churned record stays Churned.
// Every record is probed each sweep either way.
func WithTrackRecovery(track bool) EngineOption {
	return func(e *Engine) { e.trackRecovery = track }
}

// WithClock replaces the system clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithProgressInterval logs probe throughput at this wall-clock interval
// while a sweep runs. Zero disables it.
func WithProgressInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.progressInterval = d }
}

// New creates an engine over handles. The engine takes ownership of the
// handles for the duration of Run.
func New(handles []*record.Handle, probers ProberFactory, rec Recorder, opts ...EngineOption) *Engine {
	e := &Engine{
		handles:      handles,
		probers:      probers,
		rec:          rec,
		clock:        SystemClock{},
		stopFraction: DefaultStopFraction,
		maxDuration:  DefaultMaxDuration,
		probeDelay:   DefaultProbeDelay,
		sweepPause:   DefaultSweepPause,
		workers:      1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Probes returns the number of probes completed so far.
func (e *Engine) Probes() int64 {
	return e.probeCount.Load()
}

// ChurnFraction returns the currently churned share of the working set.
func (e *Engine) ChurnFraction() float64 {
	if len(e.handles) == 0 {
		return 0
	}
	return float64(e.churned) / float64(len(e.handles))
}

// Run sweeps until a stop condition fires, ctx is cancelled or the
// recorder fails. The terminal flush runs in every case. A cancelled run
// returns a nil error with StopCancelled.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	e.start = e.clock.Now()

	if len(e.handles) == 0 {
		slog.Info("working set is empty, nothing to probe")
		return e.finish(StopEmpty, nil)
	}

	probers, err := e.openProbers(ctx)
	if err != nil {
		return e.finish(StopSetupFailure, err)
	}
	defer func() {
		for _, p := range probers {
			if cerr := p.Close(); cerr != nil {
				slog.Warn("close prober", "error", cerr)
			}
		}
	}()
	partitions := partition(len(e.handles), len(probers))

	slog.Info("probing started",
		"records", len(e.handles),
		"workers", len(probers),
		"stop_fraction", e.stopFraction,
		"max_duration", e.maxDuration,
	)

	for {
		if ctx.Err() != nil {
			return e.finish(StopCancelled, nil)
		}
		e.sweepIndex++
		sweepStart := e.clock.Now()
		probesBefore := e.probeCount.Load()

		complete, err := e.sweep(ctx, probers, partitions)
		if err != nil {
			return e.finish(StopSinkFailure, err)
		}
		if complete && !e.hasReference {
			e.hasReference = true
			e.lastGlobal = e.aggregate
		}
		if err := e.rec.Flush(); err != nil {
			return e.finish(StopSinkFailure, sinkErr(StreamFlush, err))
		}

		probed := e.probeCount.Load() - probesBefore
		took := e.clock.Now().Sub(sweepStart)
		slog.Info("sweep complete",
			"sweep", e.sweepIndex,
			"probed", probed,
			"churned", e.churned,
			"working_set", len(e.handles),
			"churn_fraction", e.ChurnFraction(),
			"records_per_sec", rate(probed, took),
		)

		if !complete || ctx.Err() != nil {
			return e.finish(StopCancelled, nil)
		}
		if e.ChurnFraction() >= e.stopFraction {
			return e.finish(StopChurnFraction, nil)
		}
		if e.clock.Now().Sub(e.start) >= e.maxDuration {
			return e.finish(StopMaxDuration, nil)
		}
		if err := e.clock.Sleep(ctx, e.sweepPause); err != nil {
			return e.finish(StopCancelled, nil)
		}
	}
}

func (e *Engine) openProbers(ctx context.Context) ([]Prober, error) {
	n := e.workers
	if n > len(e.handles) {
		n = len(e.handles)
	}
	probers := make([]Prober, 0, n)
	for i := 0; i < n; i++ {
		p, err := e.probers(ctx, i)
		if err != nil {
			for _, opened := range probers {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open prober %d: %w", i, err)
		}
		probers = append(probers, p)
	}
	return probers, nil
}

// finish performs the terminal flush: one zero-delay churn event for every
// record that never produced one.
func (e *Engine) finish(reason StopReason, runErr error) (Summary, error) {
	var flushErr error
	for _, h := range e.handles {
		if h.ChurnReported {
			continue
		}
		if err := e.rec.Churn(h.Key, 0); err != nil {
			flushErr = sinkErr(StreamChurns, err)
			break
		}
		h.ChurnReported = true
	}
	if flushErr == nil {
		flushErr = sinkErr(StreamFlush, e.rec.Flush())
	}

	summary := Summary{
		WorkingSet:    len(e.handles),
		Churned:       e.churned,
		ChurnFraction: e.ChurnFraction(),
		ChurnEvents:   e.events,
		Sweeps:        e.sweepIndex,
		Probes:        e.probeCount.Load(),
		Elapsed:       e.clock.Now().Sub(e.start),
		StopReason:    reason,
	}

	if runErr != nil {
		if flushErr != nil {
			slog.Error("terminal flush failed", "error", flushErr)
		}
		return summary, runErr
	}
	if flushErr != nil {
		summary.StopReason = StopSinkFailure
		return summary, flushErr
	}
	slog.Info("probing stopped",
		"reason", reason,
		"sweeps", summary.Sweeps,
		"churned", summary.Churned,
		"churn_fraction", summary.ChurnFraction,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

type workItem struct {
	idx int
	key record.PublicKey
}

type observation struct {
	idx   int
	count int
	at    time.Time
}

// sweep probes every record once. It reports whether the sweep
// covered the whole work list (false when cancelled part-way).
func (e *Engine) sweep(ctx context.Context, probers []Prober, partitions [][2]int) (bool, error) {
	work := make([][]workItem, len(partitions))
	total := 0
	for w, bounds := range partitions {
		for i := bounds[0]; i < bounds[1]; i++ {
			work[w] = append(work[w], workItem{idx: i, key: e.handles[i].Key})
		}
		if e.shuffle {
			items := work[w]
			e.rng.Shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
		}
		total += len(work[w])
	}

	out := make(chan observation)
	abort := make(chan struct{})
	var wg sync.WaitGroup
	for w := range work {
		wg.Add(1)
		go func(p Prober, items []workItem) {
			defer wg.Done()
			e.runPartition(ctx, abort, p, items, out)
		}(probers[w], work[w])
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	stopProgress := e.startProgress(e.sweepIndex)
	defer stopProgress()

	applied := 0
	var runErr error
	for obs := range out {
		if runErr != nil {
			continue
		}
		if err := e.apply(obs); err != nil {
			runErr = err
			close(abort)
			continue
		}
		applied++
	}
	if runErr != nil {
		return false, runErr
	}
	return applied == total, nil
}

// runPartition is a worker: it probes its items in order and never
// touches handle state.
func (e *Engine) runPartition(ctx context.Context, abort <-chan struct{}, p Prober, items []workItem, out chan<- observation) {
	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-abort:
			return
		default:
		}
		if err := e.clock.Sleep(ctx, e.probeDelay); err != nil {
			return
		}
		count := p.CountStoringNodes(ctx, it.key)
		e.probeCount.Add(1)
		select {
		case out <- observation{idx: it.idx, count: count, at: e.clock.Now()}:
		case <-abort:
			return
		}
	}
}

// apply updates one handle from an observation. Only the coordinator
// calls it.
func (e *Engine) apply(obs observation) error {
	h := e.handles[obs.idx]
	slog.Debug("probe", "sweep", e.sweepIndex, "key", h.Key, "nodes", obs.count)

	if obs.count != h.LastObservedNodeCount {
		if h.Observed() {
			e.aggregate += obs.count - h.LastObservedNodeCount
		} else {
			e.aggregate += obs.count
		}
		h.LastObservedNodeCount = obs.count

		if err := e.rec.NodeCount(obs.at.Sub(e.start), h.Key, obs.count); err != nil {
			return sinkErr(StreamNodesDecay, err)
		}
		if e.hasReference && e.aggregate < e.lastGlobal {
			e.lastGlobal = e.aggregate
			if err := e.rec.GlobalCount(e.aggregate, obs.at.Sub(e.start)); err != nil {
				return sinkErr(StreamNodesStoring, err)
			}
		}
	}

	wasChurned := h.IsChurned()
	switch {
	case obs.count == 0:
		first := h.MarkChurned(obs.at)
		if !wasChurned {
			e.churned++
		}
		if first {
			e.events++
			delay := max(h.ChurnDelay(), MinChurnDelay)
			if err := e.rec.Churn(h.Key, delay); err != nil {
				return sinkErr(StreamChurns, err)
			}
			slog.Debug("record churned", "key", h.Key, "after", delay)
		}
	case wasChurned && e.trackRecovery:
		h.MarkAvailable()
		e.churned--
		slog.Debug("record recovered", "key", h.Key, "nodes", obs.count)
	}
	return nil
}

// startProgress logs throughput periodically until the returned func is
// called.
func (e *Engine) startProgress(sweep int) func() {
	if e.progressInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(e.progressInterval)
		defer t.Stop()
		last := e.probeCount.Load()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				now := e.probeCount.Load()
				slog.Info("probe progress",
					"sweep", sweep,
					"probes", now,
					"records_per_sec", rate(now-last, e.progressInterval),
				)
				last = now
			}
		}
	}()
	return func() { close(done) }
}

// partition splits n records into k contiguous ranges whose sizes differ
// by at most one.
func partition(n, k int) [][2]int {
	if k < 1 {
		k = 1
	}
	out := make([][2]int, k)
	base, extra := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		out[i] = [2]int{start, start + size}
		start += size
	}
	return out
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
