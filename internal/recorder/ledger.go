package recorder

import (
	"context"
	"time"

	"github.com/roach88/churnprobe/internal/record"
	"github.com/roach88/churnprobe/internal/store"
)

// Ledger mirrors the streams into the SQLite run ledger under one run ID.
type Ledger struct {
	ctx   context.Context
	st    *store.Store
	runID string
}

// NewLedger returns a sink writing to st. Writes are not cancelled with
// ctx, so the terminal flush of a cancelled run still lands.
func NewLedger(ctx context.Context, st *store.Store, runID string) *Ledger {
	return &Ledger{ctx: context.WithoutCancel(ctx), st: st, runID: runID}
}

func (l *Ledger) NodeCount(elapsed time.Duration, key record.PublicKey, count int) error {
	return l.st.WriteNodeSample(l.ctx, l.runID, store.NodeSample{
		TimestampS: Seconds(elapsed),
		PublicKey:  key.String(),
		NodesCount: count,
	})
}

func (l *Ledger) Churn(key record.PublicKey, delay time.Duration) error {
	return l.st.WriteChurnEvent(l.ctx, l.runID, store.ChurnEvent{
		PublicKey: key.String(),
		TimeS:     Seconds(delay),
	})
}

func (l *Ledger) GlobalCount(count int, elapsed time.Duration) error {
	return l.st.WriteGlobalSample(l.ctx, l.runID, store.GlobalSample{
		NodeCount:  count,
		TimestampS: Seconds(elapsed),
	})
}

// Flush is a no-op; every ledger write is its own transaction.
func (l *Ledger) Flush() error {
	return nil
}
