package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.NumRecords)
	assert.Equal(t, 0.9, cfg.StopFraction)
	assert.Equal(t, uint32(604800), cfg.TTLSeconds)
	assert.Equal(t, 3*time.Second, cfg.SleepDuration())
	assert.Equal(t, 200*time.Hour, cfg.MaxDuration())
	assert.Equal(t, time.Minute, cfg.Warmup())
	assert.Equal(t, time.Minute, cfg.SweepPause())
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, BackendMainline, cfg.DHT.Backend)
	assert.Equal(t, time.Minute, cfg.DHT.Mainline.BootstrapTimeout())
	assert.False(t, cfg.Artifacts.Enabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"negative records", func(c *Config) { c.NumRecords = -1 }, ErrInvalidNumRecords},
		{"zero stop fraction", func(c *Config) { c.StopFraction = 0 }, ErrInvalidStopFraction},
		{"stop fraction above one", func(c *Config) { c.StopFraction = 1.5 }, ErrInvalidStopFraction},
		{"zero threads", func(c *Config) { c.Threads = 0 }, ErrInvalidThreads},
		{"negative sleep", func(c *Config) { c.SleepDurationMS = -1 }, ErrNegativeDuration},
		{"negative max hours", func(c *Config) { c.MaxHours = -2 }, ErrNegativeDuration},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeoutMS = 0 }, ErrInvalidProbeTimeout},
		{"unknown probe mode", func(c *Config) { c.ProbeMode = "ping" }, ErrUnknownProbeMode},
		{"nothing to do", func(c *Config) { c.Publish, c.Probe = false, false }, ErrNothingToDo},
		{"keys in with publish", func(c *Config) { c.KeysIn = "keys.txt" }, ErrKeysInWithPublish},
		{"probe only without keys", func(c *Config) { c.Publish = false }, ErrNoWorkingSet},
		{"unknown backend", func(c *Config) { c.DHT.Backend = "kad" }, ErrUnknownBackend},
		{"negative alpha", func(c *Config) { c.DHT.Mainline.Alpha = -1 }, ErrInvalidAlpha},
		{"zero bootstrap timeout", func(c *Config) { c.DHT.Mainline.BootstrapTimeoutS = 0 }, ErrInvalidBootstrapTimeout},
		{"remote without addr", func(c *Config) {
			c.DHT.Backend = BackendRemote
			c.DHT.AgentAddr = ""
		}, ErrAgentAddrRequired},
		{"artifacts without bucket", func(c *Config) {
			c.Artifacts.Endpoint = "localhost:9000"
			c.Artifacts.Bucket = ""
		}, ErrArtifactBucketMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_ProbeOnlyWithKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Publish = false
	cfg.KeysIn = "keys.txt"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SimNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DHT.Backend = BackendSim
	cfg.DHT.Sim.Nodes = 0
	assert.Error(t, cfg.Validate())
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
num_records: 20
stop_fraction: 0.5
threads: 4
probe_mode: resolve
shuffle: true
dht:
  sim:
    nodes: 50
    replication: 5
artifacts:
  endpoint: localhost:9000
  access_key: minio
  secret_key: minio123
`)
	cfg, err := Parse(data, "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.NumRecords)
	assert.Equal(t, 0.5, cfg.StopFraction)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "resolve", cfg.ProbeMode)
	assert.True(t, cfg.Shuffle)
	assert.Equal(t, 50, cfg.DHT.Sim.Nodes)
	assert.Equal(t, 5, cfg.DHT.Sim.Replication)
	assert.Equal(t, "churnprobe", cfg.Artifacts.Bucket, "unset nested fields keep defaults")
	assert.Equal(t, uint32(DefaultTTLSeconds), cfg.TTLSeconds)
	require.NoError(t, cfg.Validate())
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, "empty.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "num_record: 5\n"},
		{"unknown nested key", "dht:\n  peers: 3\n"},
		{"wrong type", "threads: many\n"},
		{"out of range", "stop_fraction: 2\n"},
		{"bad enum", "probe_mode: ping\n"},
		{"bad backend", "dht:\n  backend: kad\n"},
		{"bootstrap not a list", "dht:\n  mainline:\n    bootstrap: router.example:6881\n"},
		{"zero threads", "threads: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "bad.yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaViolation)
			assert.Contains(t, err.Error(), "bad.yaml")
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("threads: [1, 2"), "broken.yaml")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchemaViolation)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "churnprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_records: 7\nmax_hours: 0.5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.NumRecords)
	assert.Equal(t, 30*time.Minute, cfg.MaxDuration())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestJSON_OmitsCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Artifacts.Endpoint = "localhost:9000"
	cfg.Artifacts.AccessKey = "minio"
	cfg.Artifacts.SecretKey = "minio123"

	out := cfg.JSON()
	assert.Contains(t, out, `"endpoint":"localhost:9000"`)
	assert.NotContains(t, out, "minio123")
	assert.NotContains(t, out, "access_key")
}

func TestParse_Mainline(t *testing.T) {
	data := []byte(`
dht:
  backend: mainline
  mainline:
    bootstrap:
      - router.example.net:6881
      - 10.0.0.2:6881
    listen: ":6881"
    alpha: 8
`)
	cfg, err := Parse(data, "mainline.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	node := cfg.DHT.Mainline.Node()
	assert.Equal(t, []string{"router.example.net:6881", "10.0.0.2:6881"}, node.Bootstrap)
	assert.Equal(t, ":6881", node.ListenAddr)
	assert.Equal(t, 8, node.Alpha)
	assert.Equal(t, time.Duration(DefaultBootstrapS)*time.Second, cfg.DHT.Mainline.BootstrapTimeout())
}
