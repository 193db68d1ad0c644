// Package simnet is an in-process Kademlia-style network used to exercise
// the monitor without the public DHT.
//
// Records are replicated to the Replication closest live nodes (XOR
// distance from SHA-1 of the public key). Each Tick replaces a fraction of
// the nodes with fresh, empty ones and expires stored records, which is
// what makes records decay and eventually churn. With a fixed Seed and
// manual Tick calls the network is fully deterministic.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

var (
	ErrInvalidNodes       = errors.New("simnet: nodes must be positive")
	ErrInvalidReplication = errors.New("simnet: replication must be positive")
	ErrInvalidRate        = errors.New("simnet: rates must be within [0, 1]")
	ErrLookupFailed       = errors.New("simnet: lookup failed")
	ErrNoLiveNodes        = errors.New("simnet: no live nodes")
)

// Clock reads the current time. engine.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config shapes the simulated network.
type Config struct {
	Nodes        int           // network size, kept constant across churn
	Replication  int           // nodes a record is stored on
	LookupWidth  int           // closest nodes a count/resolve asks; 0 means Replication
	Capacity     int           // per-node record limit, 0 for unbounded
	Retention    time.Duration // per-node storage limit, 0 to honour the record TTL only
	ChurnRate    float64       // fraction of nodes replaced per tick
	FailureRate  float64       // probability that a single lookup fails
	Latency      time.Duration // simulated round-trip per operation
	TickInterval time.Duration
	Seed         uint64
}

// DefaultConfig returns a small, moderately churning network.
func DefaultConfig() Config {
	return Config{
		Nodes:        500,
		Replication:  20,
		ChurnRate:    0.01,
		TickInterval: time.Minute,
		Seed:         1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Nodes <= 0 {
		return ErrInvalidNodes
	}
	if c.Replication <= 0 {
		return ErrInvalidReplication
	}
	if c.ChurnRate < 0 || c.ChurnRate > 1 || c.FailureRate < 0 || c.FailureRate > 1 {
		return ErrInvalidRate
	}
	return nil
}

// TickStats summarises one Tick.
type TickStats struct {
	Replaced int
	Expired  int
}

// Network is the simulated DHT. It is safe for concurrent use.
type Network struct {
	cfg   Config
	clock Clock

	mu    sync.Mutex
	rng   *rand.Rand
	nodes []*node
	ticks int
}

// New builds a network of cfg.Nodes nodes. A nil clock uses wall time.
func New(cfg Config, clock Clock) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LookupWidth <= 0 {
		cfg.LookupWidth = cfg.Replication
	}
	if clock == nil {
		clock = realClock{}
	}
	n := &Network{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	now := clock.Now()
	n.nodes = make([]*node, cfg.Nodes)
	for i := range n.nodes {
		n.nodes[i] = newNode(randomID(n.rng), now)
	}
	return n, nil
}

// Size returns the number of live nodes.
func (n *Network) Size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.nodes)
}

// Ticks returns how many churn steps have run.
func (n *Network) Ticks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ticks
}

// closest returns up to k nodes nearest to target. Caller holds n.mu.
func (n *Network) closest(target NodeID, k int) []*node {
	all := make([]*node, len(n.nodes))
	copy(all, n.nodes)
	sort.Slice(all, func(i, j int) bool {
		return CompareDistance(all[i].id, all[j].id, target) < 0
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

// failed rolls the per-lookup failure die. Caller holds n.mu.
func (n *Network) failed() bool {
	return n.cfg.FailureRate > 0 && n.rng.Float64() < n.cfg.FailureRate
}

// put verifies rec and stores it on the closest nodes. It returns the
// number of nodes that accepted it.
func (n *Network) put(rec *record.Signed) (int, error) {
	if err := rec.Verify(); err != nil {
		return 0, fmt.Errorf("put: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed() {
		return 0, ErrLookupFailed
	}
	if len(n.nodes) == 0 {
		return 0, ErrNoLiveNodes
	}
	now := n.clock.Now()
	targets := n.closest(TargetFor(rec.PublicKey), n.cfg.Replication)
	for _, nd := range targets {
		nd.put(rec, now, n.cfg.Retention, n.cfg.Capacity)
	}
	return len(targets), nil
}

// count returns how many of the lookup set hold an unexpired copy of key.
func (n *Network) count(key record.PublicKey) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed() {
		return 0, ErrLookupFailed
	}
	now := n.clock.Now()
	stored := 0
	for _, nd := range n.closest(TargetFor(key), n.cfg.LookupWidth) {
		if _, ok := nd.get(key, now); ok {
			stored++
		}
	}
	return stored, nil
}

// get returns the newest unexpired copy of key in the lookup set.
func (n *Network) get(key record.PublicKey) (*record.Signed, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed() {
		return nil, ErrLookupFailed
	}
	now := n.clock.Now()
	var best *record.Signed
	for _, nd := range n.closest(TargetFor(key), n.cfg.LookupWidth) {
		if rec, ok := nd.get(key, now); ok && (best == nil || rec.Timestamp > best.Timestamp) {
			best = rec
		}
	}
	if best == nil {
		return nil, dht.ErrNotFound
	}
	return best, nil
}

// Tick runs one churn step: expired records are dropped and ChurnRate of
// the nodes leave, each replaced by a new node with a fresh ID and an
// empty store.
func (n *Network) Tick() TickStats {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	var stats TickStats
	for _, nd := range n.nodes {
		stats.Expired += nd.expire(now)
	}

	replace := int(math.Round(n.cfg.ChurnRate * float64(len(n.nodes))))
	if replace > 0 {
		for _, i := range n.rng.Perm(len(n.nodes))[:replace] {
			n.nodes[i] = newNode(randomID(n.rng), now)
		}
	}
	stats.Replaced = replace
	n.ticks++
	return stats
}

// Run ticks every TickInterval until ctx is cancelled.
func (n *Network) Run(ctx context.Context) error {
	if n.cfg.TickInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(n.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			stats := n.Tick()
			slog.Debug("simnet tick", "replaced", stats.Replaced, "expired", stats.Expired)
		}
	}
}

// Client returns a dht.Client attached to the network.
func (n *Network) Client() *Client {
	return &Client{net: n}
}

// Factory returns a dht.Factory whose clients share this network.
func (n *Network) Factory() dht.Factory {
	return func(context.Context) (dht.Client, error) {
		return n.Client(), nil
	}
}
