package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/churnprobe/internal/agent"
	"github.com/roach88/churnprobe/internal/config"
	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/mainline"
	"github.com/roach88/churnprobe/internal/simnet"
)

// AgentOptions holds flags for the agent command.
type AgentOptions struct {
	*RootOptions
	ConfigFile string
	Listen     string
	Backend    string

	sim      config.SimConfig
	mainline config.MainlineConfig

	// Ready, if set, receives the bound address once the agent listens
	// (for testing with port 0).
	Ready chan<- net.Addr
}

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	return newAgentCommand(&AgentOptions{RootOptions: rootOpts})
}

func newAgentCommand(opts *AgentOptions) *cobra.Command {
	opts.sim = config.DefaultConfig().DHT.Sim
	opts.mainline = config.DefaultConfig().DHT.Mainline

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve a DHT over gRPC",
		Long: `Serve a DHT over gRPC so that one or more "churnprobe run --dht remote"
processes can publish to and probe the same network.

With --dht sim (the default) the agent hosts an in-process simulated
network shaped by the dht.sim section of --config and the --sim-* flags.
With --dht mainline it joins the Mainline DHT once and fronts that node.

Examples:
  churnprobe agent --listen 127.0.0.1:7420
  churnprobe agent --sim-nodes 2000 --sim-churn-rate 0.02
  churnprobe agent --dht mainline --dht-listen :6881
  churnprobe run --dht remote --agent-addr 127.0.0.1:7420`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultAgentAddr, "TCP address to listen on")
	cmd.Flags().StringVar(&opts.Backend, "dht", config.BackendSim, "DHT to serve (sim|mainline)")
	cmd.Flags().StringSliceVar(&opts.mainline.Bootstrap, "bootstrap", nil, "host:port bootstrap nodes for --dht mainline")
	cmd.Flags().StringVar(&opts.mainline.ListenAddr, "dht-listen", "", "UDP address of the mainline node")
	cmd.Flags().IntVar(&opts.sim.Nodes, "sim-nodes", opts.sim.Nodes, "number of simulated nodes")
	cmd.Flags().IntVar(&opts.sim.Replication, "sim-replication", opts.sim.Replication, "nodes each record is stored on")
	cmd.Flags().Float64Var(&opts.sim.ChurnRate, "sim-churn-rate", opts.sim.ChurnRate, "fraction of nodes replaced per tick")
	cmd.Flags().Int64Var(&opts.sim.TickIntervalSeconds, "sim-tick-interval-s", opts.sim.TickIntervalSeconds, "seconds between churn ticks")
	cmd.Flags().Uint64Var(&opts.sim.Seed, "sim-seed", opts.sim.Seed, "network seed")

	return cmd
}

func runAgent(opts *AgentOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	defaults := config.DefaultConfig()
	sim, ml := defaults.DHT.Sim, defaults.DHT.Mainline
	if opts.ConfigFile != "" {
		cfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			return commandError("invalid configuration", err)
		}
		sim, ml = cfg.DHT.Sim, cfg.DHT.Mainline
	}
	if cmd.Flags().Changed("sim-nodes") {
		sim.Nodes = opts.sim.Nodes
	}
	if cmd.Flags().Changed("sim-replication") {
		sim.Replication = opts.sim.Replication
	}
	if cmd.Flags().Changed("sim-churn-rate") {
		sim.ChurnRate = opts.sim.ChurnRate
	}
	if cmd.Flags().Changed("sim-tick-interval-s") {
		sim.TickIntervalSeconds = opts.sim.TickIntervalSeconds
	}
	if cmd.Flags().Changed("sim-seed") {
		sim.Seed = opts.sim.Seed
	}
	if cmd.Flags().Changed("bootstrap") {
		ml.Bootstrap = opts.mainline.Bootstrap
	}
	if cmd.Flags().Changed("dht-listen") {
		ml.ListenAddr = opts.mainline.ListenAddr
	}

	if opts.Backend != config.BackendSim && opts.Backend != config.BackendMainline {
		return commandError("invalid configuration",
			fmt.Errorf("agent --dht must be sim or mainline, got %q", opts.Backend))
	}
	var network *simnet.Network
	if opts.Backend == config.BackendSim {
		n, err := simnet.New(sim.Network(), nil)
		if err != nil {
			return commandError("invalid simulated network", err)
		}
		network = n
	}

	lis, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return commandError("failed to listen", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var backend dht.Client
	if network != nil {
		go func() { _ = network.Run(ctx) }()
		backend = network.Client()
		fmt.Fprintf(cmd.OutOrStdout(), "Agent serving %d simulated nodes on %s (tick %v)\n",
			network.Size(), lis.Addr(), time.Duration(sim.TickIntervalSeconds)*time.Second)
	} else {
		node, err := joinMainline(ctx, ml)
		if err != nil {
			lis.Close()
			return commandError("DHT backend unavailable", err)
		}
		defer node.Close()
		backend, _ = node.Factory()(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Agent serving mainline node %s on %s\n", node.Addr(), lis.Addr())
	}

	srv := agent.NewServer(backend)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready <- lis.Addr()
	}

	if err := srv.Serve(ctx, lis); err != nil {
		return runFailure("agent error", err)
	}
	slog.Info("agent stopped gracefully")
	return nil
}

// joinMainline starts a mainline node and bootstraps it within the
// configured timeout.
func joinMainline(ctx context.Context, cfg config.MainlineConfig) (*mainline.Node, error) {
	node, err := mainline.Start(cfg.Node())
	if err != nil {
		return nil, err
	}
	bootCtx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout())
	defer cancel()
	if err := node.Bootstrap(bootCtx); err != nil {
		node.Close()
		return nil, err
	}
	slog.Info("joined mainline DHT", "addr", node.Addr())
	return node, nil
}
