// Package probe adapts a dht.Client into the prober's view of the world:
// one call, one storing-node count, never an error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

// Mode selects what a probe asks the DHT.
type Mode string

const (
	// ModeCount asks how many nodes store the record.
	ModeCount Mode = "count"
	// ModeResolve resolves the record and reports 1 if a valid copy came
	// back, 0 otherwise.
	ModeResolve Mode = "resolve"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCount, ModeResolve:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown probe mode %q: must be %q or %q", s, ModeCount, ModeResolve)
	}
}

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 30 * time.Second

// Adapter wraps a dht.Client with a per-probe time budget.
//
// A probe that fails, times out or returns garbage counts as zero storing
// nodes. The adapter does not retry; the next sweep is the retry.
type Adapter struct {
	client  dht.Client
	timeout time.Duration
	mode    Mode
}

// New creates an adapter. A non-positive timeout uses DefaultTimeout.
func New(client dht.Client, mode Mode, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if mode == "" {
		mode = ModeCount
	}
	return &Adapter{client: client, timeout: timeout, mode: mode}
}

type result struct {
	count int
	err   error
}

// CountStoringNodes returns the number of nodes storing key, or 0 on any
// failure.
//
// The probe runs on a context detached from ctx's cancellation, so a probe
// that is already in flight when the run is cancelled completes (or times
// out) normally. The call never blocks longer than the adapter's timeout,
// even if the underlying client ignores its context.
func (a *Adapter) CountStoringNodes(ctx context.Context, key record.PublicKey) int {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		n, err := a.query(pctx, key)
		ch <- result{count: n, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if !errors.Is(r.err, dht.ErrNotFound) {
				slog.Debug("probe failed", "key", key, "error", r.err)
			}
			return 0
		}
		if r.count < 0 {
			return 0
		}
		return r.count
	case <-pctx.Done():
		slog.Debug("probe timed out", "key", key, "timeout", a.timeout)
		return 0
	}
}

func (a *Adapter) query(ctx context.Context, key record.PublicKey) (int, error) {
	if a.mode == ModeResolve {
		rec, err := a.client.Resolve(ctx, key)
		if err != nil {
			return 0, err
		}
		if rec.PublicKey != key {
			return 0, fmt.Errorf("resolve returned record for %s", rec.PublicKey)
		}
		if err := rec.Verify(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return a.client.CountStoringNodes(ctx, key)
}

// Close closes the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
