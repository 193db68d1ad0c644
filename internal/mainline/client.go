// Package mainline is the dht.Client for the public BitTorrent Mainline
// DHT. Records are stored as BEP44 mutable items with an empty salt; a
// probe is a get traversal toward the item's target that counts the
// nodes answering with a validly signed copy.
package mainline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/dht/v2/bep44"
	"github.com/anacrolix/dht/v2/exts/getput"
	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/dht/v2/traversal"
	"github.com/anacrolix/torrent/bencode"

	churndht "github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

// DefaultAlpha is the traversal's query concurrency.
const DefaultAlpha = 15

// Config shapes the local DHT node.
type Config struct {
	// Bootstrap lists host:port starting nodes. Empty uses the public
	// bootstrap routers.
	Bootstrap []string

	// ListenAddr is the UDP address to bind. Empty binds an ephemeral port
	// on all interfaces.
	ListenAddr string

	// Alpha is the traversal concurrency; 0 means DefaultAlpha.
	Alpha int

	// NoSecurity accepts node IDs that do not match their IP (BEP42).
	// Needed for loopback test networks.
	NoSecurity bool
}

// Node is a running DHT node. All clients created by Factory share it;
// the owner closes it once every client is done.
type Node struct {
	srv   *dht.Server
	alpha int
}

// Start binds the UDP socket and creates the node. It does not bootstrap;
// call Bootstrap before the first traversal on a fresh routing table.
func Start(cfg Config) (*Node, error) {
	sc := dht.NewDefaultServerConfig()
	sc.NoSecurity = cfg.NoSecurity
	if cfg.ListenAddr != "" {
		conn, err := net.ListenPacket("udp", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
		}
		sc.Conn = conn
	}
	if len(cfg.Bootstrap) > 0 {
		hostPorts := cfg.Bootstrap
		sc.StartingNodes = func() ([]dht.Addr, error) {
			return resolveHostPorts(hostPorts)
		}
	}
	srv, err := dht.NewServer(sc)
	if err != nil {
		if sc.Conn != nil {
			sc.Conn.Close()
		}
		return nil, fmt.Errorf("start dht node: %w", err)
	}
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return &Node{srv: srv, alpha: alpha}, nil
}

func resolveHostPorts(hostPorts []string) ([]dht.Addr, error) {
	addrs := make([]dht.Addr, 0, len(hostPorts))
	for _, hp := range hostPorts {
		ua, err := net.ResolveUDPAddr("udp", hp)
		if err != nil {
			return nil, fmt.Errorf("resolve bootstrap node %q: %w", hp, err)
		}
		addrs = append(addrs, dht.NewAddr(ua))
	}
	return addrs, nil
}

// Bootstrap fills the routing table from the starting nodes.
func (n *Node) Bootstrap(ctx context.Context) error {
	stats, err := n.srv.BootstrapContext(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	slog.Debug("dht bootstrap finished", "stats", stats, "good_nodes", n.srv.Stats().GoodNodes)
	return nil
}

// Addr is the node's UDP address.
func (n *Node) Addr() string {
	return n.srv.Addr().String()
}

// Close shuts the node down.
func (n *Node) Close() {
	n.srv.Close()
}

// Factory hands out clients sharing the node. dht.Server is safe for
// concurrent use, so workers do not need a node each.
func (n *Node) Factory() churndht.Factory {
	return func(ctx context.Context) (churndht.Client, error) {
		return &Client{node: n}, nil
	}
}

// Client implements dht.Client on a shared Node. Close does not stop the
// node.
type Client struct {
	node *Node
}

var _ churndht.Client = (*Client)(nil)

func target(key record.PublicKey) bep44.Target {
	return bep44.MakeMutableTarget(key, nil)
}

// Publish puts rec on the nodes closest to its target.
func (c *Client) Publish(ctx context.Context, rec *record.Signed) error {
	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	key := [32]byte(rec.PublicKey)
	put := bep44.Put{
		V:   payload,
		K:   &key,
		Sig: rec.Signature,
		Seq: rec.Seq(),
	}
	_, err = getput.Put(ctx, target(rec.PublicKey), c.node.srv, nil, func(int64) bep44.Put {
		return put
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.PublicKey, err)
	}
	return nil
}

// CountStoringNodes runs a get traversal and counts the distinct nodes
// that return a validly signed item for key. A traversal cut short by the
// context deadline counts the replies seen so far.
func (c *Client) CountStoringNodes(ctx context.Context, key record.PublicKey) (int, error) {
	var (
		mu      sync.Mutex
		holders = make(map[string]struct{})
	)
	err := c.traverse(ctx, key, func(addr krpc.NodeAddr, _ *record.Signed) {
		mu.Lock()
		holders[addr.String()] = struct{}{}
		mu.Unlock()
	})
	if err != nil {
		return 0, err
	}
	mu.Lock()
	defer mu.Unlock()
	return len(holders), nil
}

// Resolve returns the valid item with the highest sequence number.
func (c *Client) Resolve(ctx context.Context, key record.PublicKey) (*record.Signed, error) {
	var (
		mu     sync.Mutex
		newest *record.Signed
	)
	err := c.traverse(ctx, key, func(_ krpc.NodeAddr, rec *record.Signed) {
		mu.Lock()
		if newest == nil || rec.Timestamp > newest.Timestamp {
			newest = rec
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if newest == nil {
		return nil, churndht.ErrNotFound
	}
	return newest, nil
}

// Close is a no-op; the node outlives its clients.
func (c *Client) Close() error {
	return nil
}

// traverse walks toward key's target, calling found for every node that
// returns a valid item, until the traversal stalls or ctx ends.
func (c *Client) traverse(ctx context.Context, key record.PublicKey, found func(krpc.NodeAddr, *record.Signed)) error {
	srv := c.node.srv
	t := target(key)
	op := traversal.Start(traversal.OperationInput{
		Alpha:  c.node.alpha,
		Target: t,
		DoQuery: func(ctx context.Context, addr krpc.NodeAddr) traversal.QueryResult {
			res := srv.Get(ctx, dht.NewAddr(addr.UDP()), t, nil, dht.QueryRateLimiting{})
			if r := res.Reply.R; r != nil {
				if rec, ok := validItem(key, r); ok {
					found(addr, rec)
				}
			}
			return res.TraversalQueryResult(addr)
		},
		NodeFilter: srv.TraversalNodeFilter,
	})
	defer op.Stop()

	nodes, err := srv.TraversalStartingNodes()
	if err != nil {
		return fmt.Errorf("traversal starting nodes: %w", err)
	}
	op.AddNodes(nodes)

	select {
	case <-op.Stalled():
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return ctx.Err()
	}
}

// validItem checks a get reply against key and decodes the record it
// carries.
func validItem(key record.PublicKey, r *krpc.Return) (*record.Signed, bool) {
	if r.Seq == nil || r.K != key {
		return nil, false
	}
	bv, err := bencode.Marshal(r.V)
	if err != nil {
		return nil, false
	}
	rec, err := record.FromItem(key, *r.Seq, r.Sig, bv)
	if err != nil {
		return nil, false
	}
	return rec, true
}
