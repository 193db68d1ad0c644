package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/churnprobe/internal/record"
	"github.com/roach88/churnprobe/internal/store"
	"github.com/roach88/churnprobe/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateRun(context.Background(), store.Run{ID: "run-1", StartedAt: time.Unix(0, 0)}))
	return st
}

func TestLedger_MirrorsStreams(t *testing.T) {
	st := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLedger(ctx, st, "run-1")
	key := testutil.SequentialKey(1)

	require.NoError(t, l.NodeCount(30*time.Second, key, 8))
	// Cancellation does not stop ledger writes.
	cancel()
	require.NoError(t, l.Churn(key, 95*time.Second))
	require.NoError(t, l.GlobalCount(8, 30*time.Second))
	require.NoError(t, l.Flush())

	bg := context.Background()
	nodes, err := st.ReadNodeSamples(bg, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []store.NodeSample{{TimestampS: 30, PublicKey: keyOne, NodesCount: 8}}, nodes)

	events, err := st.ReadChurnEvents(bg, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []store.ChurnEvent{{PublicKey: keyOne, TimeS: 95}}, events)

	globals, err := st.ReadGlobalSamples(bg, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []store.GlobalSample{{NodeCount: 8, TimestampS: 30}}, globals)
}

type countingSink struct {
	calls int
	err   error
}

func (c *countingSink) NodeCount(time.Duration, record.PublicKey, int) error {
	c.calls++
	return c.err
}
func (c *countingSink) Churn(record.PublicKey, time.Duration) error { c.calls++; return c.err }
func (c *countingSink) GlobalCount(int, time.Duration) error      { c.calls++; return c.err }
func (c *countingSink) Flush() error                             { c.calls++; return c.err }

func TestTee_FansOutAndStopsOnError(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{err: errors.New("ledger locked")}
	c := &countingSink{}
	tee := Tee{a, b, c}

	key := testutil.SequentialKey(1)
	require.Error(t, tee.NodeCount(0, key, 1))
	require.Error(t, tee.Churn(key, 0))
	require.Error(t, tee.GlobalCount(1, 0))
	require.Error(t, tee.Flush())

	assert.Equal(t, 4, a.calls)
	assert.Equal(t, 4, b.calls)
	assert.Equal(t, 0, c.calls)

	require.NoError(t, Tee{a, c}.Flush())
}
