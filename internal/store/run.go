package store

import (
	"errors"
	"time"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// ErrRunNotFound is returned when a run ID has no ledger row.
var ErrRunNotFound = errors.New("run not found")

// Run is one monitoring run.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time // zero while running
	Config          string    // JSON snapshot of the effective configuration
	WorkingSet      int
	Published       int
	PublishFailures int
	Sweeps          int
	Probes          int64
	Churned         int
	StopReason      string
	Status          string
}

// RunResult is what a finished run reports back to the ledger.
type RunResult struct {
	WorkingSet int
	Sweeps     int
	Probes     int64
	Churned    int
	StopReason string
	Status     string
	FinishedAt time.Time
}

// RecordRow is one working-set entry.
type RecordRow struct {
	PublicKey   string
	PublishedAt time.Time
}

// ChurnEvent is one churns.csv row.
type ChurnEvent struct {
	PublicKey string
	TimeS     int64
}

// NodeSample is one nodes_decay.csv row.
type NodeSample struct {
	TimestampS int64
	PublicKey  string
	NodesCount int
}

// GlobalSample is one nodes_storing.csv row.
type GlobalSample struct {
	NodeCount  int
	TimestampS int64
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
