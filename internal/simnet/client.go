package simnet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

var errClientClosed = errors.New("simnet: client closed")

// Client is a dht.Client view onto a Network.
type Client struct {
	net    *Network
	closed atomic.Bool
}

var _ dht.Client = (*Client)(nil)

// wait simulates the network round-trip.
func (c *Client) wait(ctx context.Context) error {
	if c.closed.Load() {
		return errClientClosed
	}
	if d := c.net.cfg.Latency; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

// Publish stores rec on the nodes closest to its key.
func (c *Client) Publish(ctx context.Context, rec *record.Signed) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.net.put(rec)
	return err
}

// CountStoringNodes counts the lookup-set nodes holding key.
func (c *Client) CountStoringNodes(ctx context.Context, key record.PublicKey) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.net.count(key)
}

// Resolve returns the newest stored copy of key.
func (c *Client) Resolve(ctx context.Context, key record.PublicKey) (*record.Signed, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.net.get(key)
}

// Close detaches the client. The network itself keeps running.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}
