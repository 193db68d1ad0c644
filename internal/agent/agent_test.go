package agent

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/probe"
	"github.com/roach88/churnprobe/internal/record"
	"github.com/roach88/churnprobe/internal/simnet"
	"github.com/roach88/churnprobe/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// startAgent serves backend over an in-memory listener and returns a
// connected client.
func startAgent(t *testing.T, backend dht.Client) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(backend)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return client
}

func testRecord(t *testing.T, b byte) *record.Signed {
	t.Helper()
	kp, err := record.NewKeypair(bytes.Repeat([]byte{b}, record.SecretKeySize))
	require.NoError(t, err)
	rec, err := record.NewExperiment(kp, 3600, epoch)
	require.NoError(t, err)
	return rec
}

func TestAgent_PublishAndResolve(t *testing.T) {
	backend := testutil.NewScriptedDHT()
	client := startAgent(t, backend)
	ctx := context.Background()

	rec := testRecord(t, 1)
	require.NoError(t, client.Publish(ctx, rec))
	assert.Equal(t, []record.PublicKey{rec.PublicKey}, backend.Published())

	got, err := client.Resolve(ctx, rec.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, got.Verify())
}

func TestAgent_ResolveNotFound(t *testing.T) {
	client := startAgent(t, testutil.NewScriptedDHT())

	_, err := client.Resolve(context.Background(), testutil.SequentialKey(9))
	assert.ErrorIs(t, err, dht.ErrNotFound)
}

func TestAgent_CountStoringNodes(t *testing.T) {
	backend := testutil.NewScriptedDHT()
	backend.Counts = func(key record.PublicKey, call int) (int, error) {
		return int(key[0]) * 10, nil
	}
	client := startAgent(t, backend)

	n, err := client.CountStoringNodes(context.Background(), testutil.SequentialKey(3))
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, 1, backend.Calls(testutil.SequentialKey(3)))
}

func TestAgent_CountErrorIsUnavailable(t *testing.T) {
	backend := testutil.NewScriptedDHT()
	backend.Counts = func(record.PublicKey, int) (int, error) {
		return 0, errors.New("lookup failed")
	}
	client := startAgent(t, backend)

	_, err := client.CountStoringNodes(context.Background(), testutil.SequentialKey(1))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestAgent_RejectsMalformedKey(t *testing.T) {
	client := startAgent(t, testutil.NewScriptedDHT())

	err := client.conn.Invoke(context.Background(), methodCountStoringNodes,
		wrapperspb.Bytes([]byte{1, 2, 3}), new(wrapperspb.UInt32Value))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAgent_RejectsMalformedRecord(t *testing.T) {
	client := startAgent(t, testutil.NewScriptedDHT())

	err := client.conn.Invoke(context.Background(), methodPublish,
		wrapperspb.Bytes([]byte("not a record")), new(emptypb.Empty))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAgent_SimulatedNetwork(t *testing.T) {
	cfg := simnet.DefaultConfig()
	cfg.Nodes = 50
	cfg.Replication = 8
	network, err := simnet.New(cfg, testutil.NewFakeClock(epoch))
	require.NoError(t, err)

	client := startAgent(t, network.Client())
	ctx := context.Background()

	rec := testRecord(t, 2)
	require.NoError(t, client.Publish(ctx, rec))

	n, err := client.CountStoringNodes(ctx, rec.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	tampered := *rec
	tampered.Value = "forged"
	err = client.Publish(ctx, &tampered)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAgent_ThroughProbeAdapter(t *testing.T) {
	backend := testutil.NewScriptedDHT()
	client := startAgent(t, backend)
	ctx := context.Background()

	rec := testRecord(t, 4)
	require.NoError(t, client.Publish(ctx, rec))

	counter := probe.New(client, probe.ModeCount, time.Second)
	assert.Equal(t, 1, counter.CountStoringNodes(ctx, rec.PublicKey))

	resolver := probe.New(client, probe.ModeResolve, time.Second)
	assert.Equal(t, 1, resolver.CountStoringNodes(ctx, rec.PublicKey))
	assert.Equal(t, 0, resolver.CountStoringNodes(ctx, testutil.SequentialKey(5)))
}

func TestClient_WaitReady(t *testing.T) {
	client := startAgent(t, testutil.NewScriptedDHT())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, client.WaitReady(ctx))
}

func TestClient_WaitReadyUnreachable(t *testing.T) {
	client, err := Dial("passthrough:///nowhere",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.WaitReady(ctx), context.DeadlineExceeded)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	srv := NewServer(testutil.NewScriptedDHT())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.NotFound, status.Code(toStatus(dht.ErrNotFound)))
	assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(record.ErrBadSignature)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(errors.New("boom"))))
}
