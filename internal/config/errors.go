package config

import "errors"

var (
	ErrInvalidNumRecords       = errors.New("num_records must not be negative")
	ErrInvalidStopFraction     = errors.New("stop_fraction must be in (0, 1]")
	ErrInvalidThreads          = errors.New("threads must be at least 1")
	ErrNegativeDuration        = errors.New("durations must not be negative")
	ErrInvalidProbeTimeout     = errors.New("probe_timeout_ms must be positive")
	ErrUnknownProbeMode        = errors.New("probe_mode must be count or resolve")
	ErrNothingToDo             = errors.New("at least one of publish or probe must be enabled")
	ErrKeysInWithPublish       = errors.New("keys_in cannot be combined with publish")
	ErrNoWorkingSet            = errors.New("probing without publishing requires keys_in")
	ErrUnknownBackend          = errors.New("dht.backend must be mainline, sim or remote")
	ErrInvalidAlpha            = errors.New("dht.mainline.alpha must not be negative")
	ErrInvalidBootstrapTimeout = errors.New("dht.mainline.bootstrap_timeout_s must be positive")
	ErrAgentAddrRequired       = errors.New("dht.agent_addr is required for the remote backend")
	ErrArtifactBucketMissing   = errors.New("artifacts.bucket is required when artifacts.endpoint is set")
	ErrSchemaViolation         = errors.New("config does not match schema")
)
