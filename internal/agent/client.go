package agent

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

// Client is a dht.Client talking to a remote agent.
type Client struct {
	conn *grpc.ClientConn
}

var _ dht.Client = (*Client)(nil)

// Dial creates a client for the agent at addr. The connection is
// established lazily; use WaitReady to fail fast on an unreachable agent.
// Without options the connection is plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Factory returns a dht.Factory dialling addr once per call.
func Factory(addr string, opts ...grpc.DialOption) dht.Factory {
	return func(ctx context.Context) (dht.Client, error) {
		return Dial(addr, opts...)
	}
}

// WaitReady connects and blocks until the connection is ready or ctx is
// done.
func (c *Client) WaitReady(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("agent %s not ready (%s): %w", c.conn.Target(), state, ctx.Err())
		}
	}
}

// Publish sends rec to the agent.
func (c *Client) Publish(ctx context.Context, rec *record.Signed) error {
	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, methodPublish, wrapperspb.Bytes(b), new(emptypb.Empty))
}

// CountStoringNodes asks the agent how many nodes store key.
func (c *Client) CountStoringNodes(ctx context.Context, key record.PublicKey) (int, error) {
	out := new(wrapperspb.UInt32Value)
	if err := c.conn.Invoke(ctx, methodCountStoringNodes, wrapperspb.Bytes(key.Bytes()), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// Resolve fetches the record stored under key.
func (c *Client) Resolve(ctx context.Context, key record.PublicKey) (*record.Signed, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, methodResolve, wrapperspb.Bytes(key.Bytes()), out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dht.ErrNotFound
		}
		return nil, err
	}
	var rec record.Signed
	if err := rec.UnmarshalBinary(out.GetValue()); err != nil {
		return nil, fmt.Errorf("decode resolved record: %w", err)
	}
	return &rec, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
