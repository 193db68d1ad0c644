// Package config holds the run configuration: defaults, YAML config files
// validated against an embedded CUE schema, and semantic validation.
//
// Precedence is defaults < config file < explicitly set CLI flags; the
// CLI applies flags after Load and calls Validate last.
package config

import (
	"time"

	"github.com/roach88/churnprobe/internal/mainline"
	"github.com/roach88/churnprobe/internal/probe"
	"github.com/roach88/churnprobe/internal/simnet"
)

// Backend names.
const (
	BackendMainline = "mainline"
	BackendSim      = "sim"
	BackendRemote   = "remote"
)

// Default configuration constants
const (
	DefaultNumRecords      = 100
	DefaultStopFraction    = 0.9
	DefaultTTLSeconds      = 604800
	DefaultSleepDurationMS = 3000
	DefaultMaxHours        = 200
	DefaultWarmupSeconds   = 60
	DefaultSweepPauseMS    = 60000
	DefaultProbeTimeoutMS  = 30000
	DefaultKeysOut         = "published_secrets.txt"
	DefaultAgentAddr       = "127.0.0.1:7420"
	DefaultReportInterval  = 100
	DefaultBootstrapS      = 60
)

// Config is the effective configuration of one run.
type Config struct {
	// Publish phase
	Publish        bool   `yaml:"publish" json:"publish"`
	NumRecords     int    `yaml:"num_records" json:"num_records"`
	TTLSeconds     uint32 `yaml:"ttl_s" json:"ttl_s"`
	Verify         bool   `yaml:"verify" json:"verify"`
	KeysOut        string `yaml:"keys_out" json:"keys_out"`
	ReportInterval int    `yaml:"report_interval" json:"report_interval"`

	// Probe phase
	Probe           bool    `yaml:"probe" json:"probe"`
	KeysIn          string  `yaml:"keys_in" json:"keys_in,omitempty"`
	StopFraction    float64 `yaml:"stop_fraction" json:"stop_fraction"`
	SleepDurationMS int64   `yaml:"sleep_duration_ms" json:"sleep_duration_ms"`
	MaxHours        float64 `yaml:"max_hours" json:"max_hours"`
	WarmupSeconds   int64   `yaml:"warmup_s" json:"warmup_s"`
	SweepPauseMS    int64   `yaml:"sweep_pause_ms" json:"sweep_pause_ms"`
	ProbeTimeoutMS  int64   `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	ProbeMode       string  `yaml:"probe_mode" json:"probe_mode"`
	Shuffle         bool    `yaml:"shuffle" json:"shuffle"`
	TrackRecovery   bool    `yaml:"track_recovery" json:"track_recovery"`

	// Shared
	Threads  int    `yaml:"threads" json:"threads"`
	Seed     uint64 `yaml:"seed" json:"seed"`
	OutDir   string `yaml:"out_dir" json:"out_dir"`
	Database string `yaml:"db" json:"db,omitempty"`

	DHT       DHTConfig      `yaml:"dht" json:"dht"`
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`
}

// DHTConfig selects the DHT backend.
type DHTConfig struct {
	Backend   string         `yaml:"backend" json:"backend"`
	AgentAddr string         `yaml:"agent_addr" json:"agent_addr,omitempty"`
	Mainline  MainlineConfig `yaml:"mainline" json:"mainline"`
	Sim       SimConfig      `yaml:"sim" json:"sim"`
}

// MainlineConfig shapes the local node joining the Mainline DHT.
type MainlineConfig struct {
	Bootstrap         []string `yaml:"bootstrap" json:"bootstrap,omitempty"`
	ListenAddr        string   `yaml:"listen" json:"listen,omitempty"`
	Alpha             int      `yaml:"alpha" json:"alpha,omitempty"`
	BootstrapTimeoutS int64    `yaml:"bootstrap_timeout_s" json:"bootstrap_timeout_s"`
}

// SimConfig shapes the in-process simulated network.
type SimConfig struct {
	Nodes               int     `yaml:"nodes" json:"nodes"`
	Replication         int     `yaml:"replication" json:"replication"`
	LookupWidth         int     `yaml:"lookup_width" json:"lookup_width,omitempty"`
	Capacity            int     `yaml:"capacity" json:"capacity,omitempty"`
	RetentionSeconds    int64   `yaml:"retention_s" json:"retention_s,omitempty"`
	ChurnRate           float64 `yaml:"churn_rate" json:"churn_rate"`
	FailureRate         float64 `yaml:"failure_rate" json:"failure_rate,omitempty"`
	LatencyMS           int64   `yaml:"latency_ms" json:"latency_ms,omitempty"`
	TickIntervalSeconds int64   `yaml:"tick_interval_s" json:"tick_interval_s"`
	Seed                uint64  `yaml:"seed" json:"seed"`
}

// ArtifactConfig points at an S3-compatible bucket for output archives.
// Uploads are disabled while Endpoint is empty.
type ArtifactConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix" json:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl,omitempty"`
}

// Enabled reports whether artifact upload is configured.
func (a ArtifactConfig) Enabled() bool {
	return a.Endpoint != ""
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	sim := simnet.DefaultConfig()
	return Config{
		Publish:         true,
		NumRecords:      DefaultNumRecords,
		TTLSeconds:      DefaultTTLSeconds,
		KeysOut:         DefaultKeysOut,
		ReportInterval:  DefaultReportInterval,
		Probe:           true,
		StopFraction:    DefaultStopFraction,
		SleepDurationMS: DefaultSleepDurationMS,
		MaxHours:        DefaultMaxHours,
		WarmupSeconds:   DefaultWarmupSeconds,
		SweepPauseMS:    DefaultSweepPauseMS,
		ProbeTimeoutMS:  DefaultProbeTimeoutMS,
		ProbeMode:       string(probe.ModeCount),
		Threads:         1,
		OutDir:          ".",
		DHT: DHTConfig{
			Backend:   BackendMainline,
			AgentAddr: DefaultAgentAddr,
			Mainline: MainlineConfig{
				BootstrapTimeoutS: DefaultBootstrapS,
			},
			Sim: SimConfig{
				Nodes:               sim.Nodes,
				Replication:         sim.Replication,
				ChurnRate:           sim.ChurnRate,
				TickIntervalSeconds: int64(sim.TickInterval / time.Second),
				Seed:                sim.Seed,
			},
		},
		Artifacts: ArtifactConfig{
			Bucket: "churnprobe",
			Prefix: "runs",
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.NumRecords < 0 {
		return ErrInvalidNumRecords
	}
	if !(c.StopFraction > 0 && c.StopFraction <= 1) {
		return ErrInvalidStopFraction
	}
	if c.Threads < 1 {
		return ErrInvalidThreads
	}
	if c.SleepDurationMS < 0 || c.MaxHours < 0 || c.WarmupSeconds < 0 || c.SweepPauseMS < 0 {
		return ErrNegativeDuration
	}
	if c.ProbeTimeoutMS <= 0 {
		return ErrInvalidProbeTimeout
	}
	if _, err := probe.ParseMode(c.ProbeMode); err != nil {
		return ErrUnknownProbeMode
	}
	if !c.Publish && !c.Probe {
		return ErrNothingToDo
	}
	if c.Publish && c.KeysIn != "" {
		return ErrKeysInWithPublish
	}
	if c.Probe && !c.Publish && c.KeysIn == "" {
		return ErrNoWorkingSet
	}
	switch c.DHT.Backend {
	case BackendMainline:
		if c.DHT.Mainline.Alpha < 0 {
			return ErrInvalidAlpha
		}
		if c.DHT.Mainline.BootstrapTimeoutS <= 0 {
			return ErrInvalidBootstrapTimeout
		}
	case BackendSim:
		if err := c.DHT.Sim.Network().Validate(); err != nil {
			return err
		}
	case BackendRemote:
		if c.DHT.AgentAddr == "" {
			return ErrAgentAddrRequired
		}
	default:
		return ErrUnknownBackend
	}
	if c.Artifacts.Enabled() && c.Artifacts.Bucket == "" {
		return ErrArtifactBucketMissing
	}
	return nil
}

// SleepDuration is the inter-probe delay.
func (c *Config) SleepDuration() time.Duration {
	return time.Duration(c.SleepDurationMS) * time.Millisecond
}

// SweepPause is the delay between sweeps.
func (c *Config) SweepPause() time.Duration {
	return time.Duration(c.SweepPauseMS) * time.Millisecond
}

// Warmup is the delay between publishing and the first sweep.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.WarmupSeconds) * time.Second
}

// MaxDuration is the monitoring ceiling.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxHours * float64(time.Hour))
}

// ProbeTimeout bounds a single probe.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// Network converts the sim settings into a simnet.Config.
func (s SimConfig) Network() simnet.Config {
	return simnet.Config{
		Nodes:        s.Nodes,
		Replication:  s.Replication,
		LookupWidth:  s.LookupWidth,
		Capacity:     s.Capacity,
		Retention:    time.Duration(s.RetentionSeconds) * time.Second,
		ChurnRate:    s.ChurnRate,
		FailureRate:  s.FailureRate,
		Latency:      time.Duration(s.LatencyMS) * time.Millisecond,
		TickInterval: time.Duration(s.TickIntervalSeconds) * time.Second,
		Seed:         s.Seed,
	}
}

// Node converts the mainline settings into a mainline.Config.
func (m MainlineConfig) Node() mainline.Config {
	return mainline.Config{
		Bootstrap:  m.Bootstrap,
		ListenAddr: m.ListenAddr,
		Alpha:      m.Alpha,
	}
}

// BootstrapTimeout bounds joining the DHT.
func (m MainlineConfig) BootstrapTimeout() time.Duration {
	return time.Duration(m.BootstrapTimeoutS) * time.Second
}
