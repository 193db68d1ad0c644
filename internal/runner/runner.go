// Package runner is the run controller. It wires configuration, the DHT
// backend, the publisher, the churn engine and the output sinks into one
// run:
//
//	publish (or load keys) -> save keys -> warm-up -> probe until stop -> report
//
// The caller owns the cancellation signal. A cancelled run still performs
// the engine's terminal flush, so every output file is complete.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/churnprobe/internal/artifact"
	"github.com/roach88/churnprobe/internal/config"
	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/engine"
	"github.com/roach88/churnprobe/internal/probe"
	"github.com/roach88/churnprobe/internal/publisher"
	"github.com/roach88/churnprobe/internal/record"
	"github.com/roach88/churnprobe/internal/recorder"
	"github.com/roach88/churnprobe/internal/store"
)

// ErrSetup marks failures that happen before any measurement starts:
// unreadable key material or an unusable DHT backend.
var ErrSetup = errors.New("setup failed")

// Runner executes one run.
type Runner struct {
	cfg      config.Config
	clients  dht.Factory
	clock    engine.Clock
	runIDs   RunIDGenerator
	ledger   *store.Store
	uploader *artifact.Uploader
	rand     io.Reader
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the system clock (tests).
func WithClock(c engine.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator (tests).
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(r *Runner) { r.runIDs = g }
}

// WithLedger mirrors the run into a SQLite ledger.
func WithLedger(st *store.Store) Option {
	return func(r *Runner) { r.ledger = st }
}

// WithUploader archives the outputs after the run.
func WithUploader(u *artifact.Uploader) Option {
	return func(r *Runner) { r.uploader = u }
}

// WithRand sets the key generation entropy source (tests).
func WithRand(rd io.Reader) Option {
	return func(r *Runner) { r.rand = rd }
}

// New creates a runner. cfg must already be validated.
func New(cfg config.Config, clients dht.Factory, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		clients: clients,
		clock:   engine.SystemClock{},
		runIDs:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs the configured phases and returns the report. The report
// is filled as far as the run got, even when an error is returned.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{
		RunID:     r.runIDs.Generate(),
		StartedAt: r.clock.Now(),
		OutDir:    r.cfg.OutDir,
	}
	slog.Info("run starting", "run_id", rep.RunID, "publish", r.cfg.Publish, "probe", r.cfg.Probe)

	if err := r.beginLedger(ctx, rep); err != nil {
		return rep, err
	}

	handles, err := r.workingSet(ctx, &rep)
	if err != nil {
		r.finishLedger(ctx, &rep, store.RunStatusFailed)
		return rep, err
	}
	rep.WorkingSet = len(handles)

	if r.cfg.Probe {
		err = r.probe(ctx, &rep, handles)
	}

	status := store.RunStatusFinished
	if err != nil {
		status = store.RunStatusFailed
	}
	r.finishLedger(ctx, &rep, status)
	r.upload(ctx, &rep)
	rep.Elapsed = r.clock.Now().Sub(rep.StartedAt)
	return rep, err
}

// workingSet publishes new records or loads a previous batch.
func (r *Runner) workingSet(ctx context.Context, rep *Report) ([]*record.Handle, error) {
	if !r.cfg.Publish {
		keys, modTime, err := record.LoadKeyFile(r.cfg.KeysIn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		slog.Info("loaded keys", "path", r.cfg.KeysIn, "records", len(keys), "published_at", modTime)
		handles := record.NewHandles(record.PublicKeys(keys), modTime)
		return handles, r.recordWorkingSet(ctx, rep.RunID, handles)
	}

	opts := []publisher.Option{
		publisher.WithWorkers(r.cfg.Threads),
		publisher.WithClock(r.clock),
		publisher.WithReportInterval(r.cfg.ReportInterval),
	}
	if r.rand != nil {
		opts = append(opts, publisher.WithRand(r.rand))
	}
	if r.cfg.Verify {
		opts = append(opts, publisher.WithVerify(r.cfg.ProbeTimeout()))
	}
	pub := publisher.New(r.clients, r.cfg.TTLSeconds, opts...)

	res, err := pub.Publish(ctx, r.cfg.NumRecords)
	rep.Publish = &res.Stats
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if ctx.Err() != nil {
		slog.Info("publish interrupted", "published", len(res.Handles))
	}

	rep.KeyFile = r.keyFilePath()
	if err := os.MkdirAll(filepath.Dir(rep.KeyFile), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := record.SaveKeyFile(rep.KeyFile, res.Keys); err != nil {
		return nil, err
	}
	slog.Info("saved keys", "path", rep.KeyFile, "records", len(res.Keys))

	if r.ledger != nil {
		if err := r.ledger.SetPublishStats(context.WithoutCancel(ctx), rep.RunID,
			int(res.Stats.Published), int(res.Stats.Failed)); err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}
	return res.Handles, r.recordWorkingSet(ctx, rep.RunID, res.Handles)
}

// probe runs the churn engine over handles.
func (r *Runner) probe(ctx context.Context, rep *Report, handles []*record.Handle) error {
	if r.cfg.Publish && len(handles) > 0 {
		slog.Info("warming up", "duration", r.cfg.Warmup())
		if err := r.clock.Sleep(ctx, r.cfg.Warmup()); err != nil {
			slog.Info("warm-up interrupted")
		}
	}

	csv, err := recorder.Create(r.cfg.OutDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := csv.Close(); cerr != nil {
			slog.Error("closing output files", "error", cerr)
		}
	}()
	rep.Outputs = csv.Paths()

	var sink recorder.Sink = csv
	if r.ledger != nil {
		sink = recorder.Tee{csv, recorder.NewLedger(ctx, r.ledger, rep.RunID)}
	}

	mode, err := probe.ParseMode(r.cfg.ProbeMode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	probers := func(ctx context.Context, worker int) (engine.Prober, error) {
		c, err := r.clients(ctx)
		if err != nil {
			return nil, err
		}
		return probe.New(c, mode, r.cfg.ProbeTimeout()), nil
	}

	opts := []engine.EngineOption{
		engine.WithStopFraction(r.cfg.StopFraction),
		engine.WithMaxDuration(r.cfg.MaxDuration()),
		engine.WithProbeDelay(r.cfg.SleepDuration()),
		engine.WithSweepPause(r.cfg.SweepPause()),
		engine.WithWorkers(r.cfg.Threads),
		engine.WithTrackRecovery(r.cfg.TrackRecovery),
		engine.WithClock(r.clock),
		engine.WithProgressInterval(progressInterval),
	}
	if r.cfg.Shuffle {
		opts = append(opts, engine.WithShuffle(r.cfg.Seed))
	}

	summary, err := engine.New(handles, probers, sink, opts...).Run(ctx)
	rep.Probe = &summary
	if err != nil && summary.StopReason == engine.StopSetupFailure {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	return err
}

const progressInterval = time.Minute

func (r *Runner) keyFilePath() string {
	if filepath.IsAbs(r.cfg.KeysOut) {
		return r.cfg.KeysOut
	}
	return filepath.Join(r.cfg.OutDir, r.cfg.KeysOut)
}

func (r *Runner) beginLedger(ctx context.Context, rep Report) error {
	if r.ledger == nil {
		return nil
	}
	err := r.ledger.CreateRun(ctx, store.Run{
		ID:        rep.RunID,
		StartedAt: rep.StartedAt,
		Config:    r.cfg.JSON(),
		Status:    store.RunStatusRunning,
	})
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (r *Runner) recordWorkingSet(ctx context.Context, runID string, handles []*record.Handle) error {
	if r.ledger == nil {
		return nil
	}
	rows := make([]store.RecordRow, len(handles))
	for i, h := range handles {
		rows[i] = store.RecordRow{PublicKey: h.Key.String(), PublishedAt: h.PublishedAt}
	}
	if err := r.ledger.WriteRecords(context.WithoutCancel(ctx), runID, rows); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (r *Runner) finishLedger(ctx context.Context, rep *Report, status string) {
	if r.ledger == nil {
		return
	}
	res := store.RunResult{
		WorkingSet: rep.WorkingSet,
		Status:     status,
		FinishedAt: r.clock.Now(),
	}
	if rep.Probe != nil {
		res.Sweeps = rep.Probe.Sweeps
		res.Probes = rep.Probe.Probes
		res.Churned = rep.Probe.Churned
		res.StopReason = string(rep.Probe.StopReason)
	}
	if err := r.ledger.FinishRun(context.WithoutCancel(ctx), rep.RunID, res); err != nil {
		slog.Error("ledger finish failed", "run_id", rep.RunID, "error", err)
	}
}

// upload archives outputs. Failures are logged and reported, never fatal.
func (r *Runner) upload(ctx context.Context, rep *Report) {
	if r.uploader == nil {
		return
	}
	files := append([]string(nil), rep.Outputs...)
	if rep.KeyFile != "" {
		files = append(files, rep.KeyFile)
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()

	objects, err := r.uploader.Upload(uctx, rep.RunID, files)
	rep.Artifacts = objects
	if err != nil {
		rep.ArtifactError = err.Error()
		slog.Warn("artifact upload failed", "run_id", rep.RunID, "error", err)
		return
	}
	slog.Info("artifacts uploaded", "run_id", rep.RunID, "objects", len(objects))
}

const uploadTimeout = 5 * time.Minute
