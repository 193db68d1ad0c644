// Package recorder writes the monitor's three output streams:
//
//	churns.csv         pubkey,time_s                  one row per record
//	nodes_decay.csv    timestamp_s,pubkey,nodes_count on per-record change
//	nodes_storing.csv  node_count,timestamp           on aggregate decrease
//
// Every row is flushed to the OS as soon as it is written. Files are
// created with truncate semantics so a new run never appends to an old one.
package recorder

import (
	"time"

	"github.com/roach88/churnprobe/internal/record"
)

// Output file names inside the output directory.
const (
	ChurnsFile       = "churns.csv"
	NodesDecayFile   = "nodes_decay.csv"
	NodesStoringFile = "nodes_storing.csv"
)

// Header rows.
var (
	ChurnsHeader       = []string{"pubkey", "time_s"}
	NodesDecayHeader   = []string{"timestamp_s", "pubkey", "nodes_count"}
	NodesStoringHeader = []string{"node_count", "timestamp"}
)

// Sink receives engine output. *CSV, *Ledger and Tee implement it.
type Sink interface {
	NodeCount(elapsed time.Duration, key record.PublicKey, count int) error
	Churn(key record.PublicKey, delay time.Duration) error
	GlobalCount(count int, elapsed time.Duration) error
	Flush() error
}

// Seconds truncates d to whole seconds, the unit used by every stream.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Tee fans every write out to several sinks in order. The first error
// stops the fan-out and is returned.
type Tee []Sink

func (t Tee) NodeCount(elapsed time.Duration, key record.PublicKey, count int) error {
	for _, s := range t {
		if err := s.NodeCount(elapsed, key, count); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Churn(key record.PublicKey, delay time.Duration) error {
	for _, s := range t {
		if err := s.Churn(key, delay); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) GlobalCount(count int, elapsed time.Duration) error {
	for _, s := range t {
		if err := s.GlobalCount(count, elapsed); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Flush() error {
	for _, s := range t {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}
