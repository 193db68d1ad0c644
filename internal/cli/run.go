package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/churnprobe/internal/agent"
	"github.com/roach88/churnprobe/internal/artifact"
	"github.com/roach88/churnprobe/internal/config"
	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/runner"
	"github.com/roach88/churnprobe/internal/simnet"
	"github.com/roach88/churnprobe/internal/store"
)

// agentReadyTimeout bounds the preflight connection to a remote agent.
const agentReadyTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string

	// flags holds the flag values; only flags the user set are applied
	// over the config file.
	flags config.Config

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to runner.UUIDv7Generator.
	RunIDs runner.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	opts.flags = config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish records and measure how long they survive",
		Long: `Publish a batch of signed records to the DHT, then sweep the batch
repeatedly, counting the nodes that still store each record, until enough
records have churned or the time limit is reached.

Outputs (in --out-dir):
  churns.csv         pubkey,time_s
  nodes_decay.csv    timestamp_s,pubkey,nodes_count
  nodes_storing.csv  node_count,timestamp

Flags override values from --config, which override the defaults.
Ctrl-C stops the run gracefully; outputs are still complete.

Examples:
  churnprobe run --num-records 1000 --max-hours 24
  churnprobe run --publish=false --keys-in published_secrets.txt
  churnprobe run --probe=false --num-records 50000 --threads 8
  churnprobe run --config run.yaml --db churn.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn(opts, cmd)
		},
	}

	f := &opts.flags
	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")

	flags.BoolVar(&f.Publish, "publish", f.Publish, "publish a new batch of records")
	flags.IntVar(&f.NumRecords, "num-records", f.NumRecords, "number of records to publish")
	flags.Uint32Var(&f.TTLSeconds, "ttl-s", f.TTLSeconds, "record time-to-live in seconds")
	flags.BoolVar(&f.Verify, "verify", f.Verify, "probe each record once right after publishing")
	flags.StringVar(&f.KeysOut, "keys-out", f.KeysOut, "file (in --out-dir) receiving the published secret keys")

	flags.BoolVar(&f.Probe, "probe", f.Probe, "monitor the working set for churn")
	flags.StringVar(&f.KeysIn, "keys-in", f.KeysIn, "resume monitoring the batch in this key file")
	flags.Float64Var(&f.StopFraction, "stop-fraction", f.StopFraction, "stop once this fraction of records churned (0,1]")
	flags.Int64Var(&f.SleepDurationMS, "sleep-duration-ms", f.SleepDurationMS, "delay before each probe")
	flags.Float64Var(&f.MaxHours, "max-hours", f.MaxHours, "monitoring time limit; 0 runs a single sweep")
	flags.Int64Var(&f.WarmupSeconds, "warmup-s", f.WarmupSeconds, "wait between publishing and the first sweep")
	flags.Int64Var(&f.SweepPauseMS, "sweep-pause-ms", f.SweepPauseMS, "pause between sweeps")
	flags.Int64Var(&f.ProbeTimeoutMS, "probe-timeout-ms", f.ProbeTimeoutMS, "per-probe time budget")
	flags.StringVar(&f.ProbeMode, "probe-mode", f.ProbeMode, "probe mode (count|resolve)")
	flags.BoolVar(&f.Shuffle, "shuffle", f.Shuffle, "shuffle each partition before every sweep")
	flags.BoolVar(&f.TrackRecovery, "track-recovery", f.TrackRecovery, "let churned records that reappear become available again")

	flags.IntVar(&f.Threads, "threads", f.Threads, "parallel workers for publishing and probing")
	flags.Uint64Var(&f.Seed, "seed", f.Seed, "shuffle seed")
	flags.StringVar(&f.OutDir, "out-dir", f.OutDir, "output directory")
	flags.StringVar(&f.Database, "db", f.Database, "path to SQLite run ledger (optional)")
	flags.StringVar(&f.DHT.Backend, "dht", f.DHT.Backend, "DHT backend (mainline|sim|remote)")
	flags.StringVar(&f.DHT.AgentAddr, "agent-addr", f.DHT.AgentAddr, "agent address for --dht remote")
	flags.StringSliceVar(&f.DHT.Mainline.Bootstrap, "bootstrap", f.DHT.Mainline.Bootstrap, "host:port bootstrap nodes for --dht mainline (default: public routers)")
	flags.StringVar(&f.DHT.Mainline.ListenAddr, "dht-listen", f.DHT.Mainline.ListenAddr, "UDP address of the local mainline node")

	return cmd
}

// flagFields maps each config flag to the field it overrides.
var flagFields = map[string]func(dst, src *config.Config){
	"publish":           func(d, s *config.Config) { d.Publish = s.Publish },
	"num-records":       func(d, s *config.Config) { d.NumRecords = s.NumRecords },
	"ttl-s":             func(d, s *config.Config) { d.TTLSeconds = s.TTLSeconds },
	"verify":            func(d, s *config.Config) { d.Verify = s.Verify },
	"keys-out":          func(d, s *config.Config) { d.KeysOut = s.KeysOut },
	"probe":             func(d, s *config.Config) { d.Probe = s.Probe },
	"keys-in":           func(d, s *config.Config) { d.KeysIn = s.KeysIn },
	"stop-fraction":     func(d, s *config.Config) { d.StopFraction = s.StopFraction },
	"sleep-duration-ms": func(d, s *config.Config) { d.SleepDurationMS = s.SleepDurationMS },
	"max-hours":         func(d, s *config.Config) { d.MaxHours = s.MaxHours },
	"warmup-s":          func(d, s *config.Config) { d.WarmupSeconds = s.WarmupSeconds },
	"sweep-pause-ms":    func(d, s *config.Config) { d.SweepPauseMS = s.SweepPauseMS },
	"probe-timeout-ms":  func(d, s *config.Config) { d.ProbeTimeoutMS = s.ProbeTimeoutMS },
	"probe-mode":        func(d, s *config.Config) { d.ProbeMode = s.ProbeMode },
	"shuffle":           func(d, s *config.Config) { d.Shuffle = s.Shuffle },
	"track-recovery":    func(d, s *config.Config) { d.TrackRecovery = s.TrackRecovery },
	"threads":           func(d, s *config.Config) { d.Threads = s.Threads },
	"seed":              func(d, s *config.Config) { d.Seed = s.Seed },
	"out-dir":           func(d, s *config.Config) { d.OutDir = s.OutDir },
	"db":                func(d, s *config.Config) { d.Database = s.Database },
	"dht":               func(d, s *config.Config) { d.DHT.Backend = s.DHT.Backend },
	"agent-addr":        func(d, s *config.Config) { d.DHT.AgentAddr = s.DHT.AgentAddr },
	"bootstrap":         func(d, s *config.Config) { d.DHT.Mainline.Bootstrap = s.DHT.Mainline.Bootstrap },
	"dht-listen":        func(d, s *config.Config) { d.DHT.Mainline.ListenAddr = s.DHT.Mainline.ListenAddr },
}

// resolveConfig layers defaults, the config file and explicitly set flags,
// then validates the result.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	for name, apply := range flagFields {
		if cmd.Flags().Changed(name) {
			apply(&cfg, &opts.flags)
		}
	}
	// Resuming a batch implies not publishing one.
	if cfg.KeysIn != "" && !cmd.Flags().Changed("publish") {
		cfg.Publish = false
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runChurn(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	out := newPrinter(cmd, opts.Format, opts.Verbose)

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return commandError("invalid configuration", err)
	}
	out.debugf("config: %s", cfg.JSON())

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	clients, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return commandError("DHT backend unavailable", err)
	}
	defer closeBackend()

	runOpts := []runner.Option{}
	if opts.RunIDs != nil {
		runOpts = append(runOpts, runner.WithRunIDGenerator(opts.RunIDs))
	}
	if cfg.Database != "" {
		slog.Info("opening run ledger", "path", cfg.Database)
		st, err := store.Open(cfg.Database)
		if err != nil {
			return commandError("failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, runner.WithLedger(st))
	}
	if cfg.Artifacts.Enabled() {
		up, err := artifact.NewUploader(cfg.Artifacts)
		if err != nil {
			return commandError("failed to configure artifact upload", err)
		}
		runOpts = append(runOpts, runner.WithUploader(up))
	}

	rep, err := runner.New(cfg, clients, runOpts...).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, runner.ErrSetup) {
			return commandError("run setup failed", err)
		}
		return runFailure("run failed", err)
	}

	return out.result(rep.RunID, rep.JSON(), rep.WriteText)
}

// openBackend returns the client factory for the configured DHT and a
// function releasing it. The mainline node must finish bootstrapping
// within the configured timeout; a remote agent must answer within
// agentReadyTimeout. The simulated network ticks in the background until
// ctx is done.
func openBackend(ctx context.Context, cfg config.Config) (dht.Factory, func(), error) {
	switch cfg.DHT.Backend {
	case config.BackendRemote:
		c, err := agent.Dial(cfg.DHT.AgentAddr)
		if err != nil {
			return nil, nil, err
		}
		defer c.Close()

		readyCtx, cancel := context.WithTimeout(ctx, agentReadyTimeout)
		defer cancel()
		if err := c.WaitReady(readyCtx); err != nil {
			return nil, nil, err
		}
		slog.Info("connected to agent", "addr", cfg.DHT.AgentAddr)
		return agent.Factory(cfg.DHT.AgentAddr), func() {}, nil
	case config.BackendSim:
		network, err := simnet.New(cfg.DHT.Sim.Network(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("simulated network: %w", err)
		}
		go func() { _ = network.Run(ctx) }()
		slog.Info("simulated network ready", "nodes", network.Size())
		return network.Factory(), func() {}, nil
	default:
		node, err := joinMainline(ctx, cfg.DHT.Mainline)
		if err != nil {
			return nil, nil, err
		}
		return node.Factory(), node.Close, nil
	}
}

// setupLogging installs the process-wide slog handler.
func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
