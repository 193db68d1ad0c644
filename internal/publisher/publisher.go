// Package publisher runs the publish phase: it creates signed records,
// stores them in the DHT and returns a handle for every record that made
// it.
//
// Publishing may be sharded across workers. Each worker owns a disjoint
// sub-range of the requested count and its own DHT client; the only
// shared state is the atomic progress counters.
package publisher

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/probe"
	"github.com/roach88/churnprobe/internal/record"
)

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats summarises a publish phase.
type Stats struct {
	Requested  int
	Attempts   int64
	Published  int64
	Failed     int64
	AvgLatency time.Duration
	Elapsed    time.Duration
}

// Rate returns successful publishes per second.
func (s Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Published) / s.Elapsed.Seconds()
}

// Result is the outcome of Publish. Handles and Keys are parallel slices
// in worker order.
type Result struct {
	Handles []*record.Handle
	Keys    []record.Keypair
	// InitialCounts holds the verification count per handle when
	// verification is enabled, nil otherwise.
	InitialCounts []int
	Stats         Stats
}

// Publisher drives the publish phase.
type Publisher struct {
	clients        dht.Factory
	ttl            uint32
	workers        int
	verify         bool
	verifyTimeout  time.Duration
	reportInterval int64
	clock          Clock

	randMu sync.Mutex
	rand   io.Reader

	attempts  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
	latency   atomic.Int64 // summed nanoseconds of successful publishes
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithWorkers shards publishing across n workers (minimum 1).
func WithWorkers(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithVerify probes every record once right after it was published. The
// count is observational only.
func WithVerify(timeout time.Duration) Option {
	return func(p *Publisher) {
		p.verify = true
		p.verifyTimeout = timeout
	}
}

// WithReportInterval logs progress every n successful publishes; 0
// disables progress logging.
func WithReportInterval(n int) Option {
	return func(p *Publisher) { p.reportInterval = int64(n) }
}

// WithClock sets the clock used for record timestamps.
func WithClock(c Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithRand sets the entropy source for key generation.
func WithRand(r io.Reader) Option {
	return func(p *Publisher) { p.rand = r }
}

// New creates a publisher storing records with the given TTL in seconds.
func New(clients dht.Factory, ttl uint32, opts ...Option) *Publisher {
	p := &Publisher{
		clients: clients,
		ttl:     ttl,
		workers: 1,
		clock:   systemClock{},
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type published struct {
	handle  *record.Handle
	key     record.Keypair
	initial int
}

// Publish creates and publishes count records.
//
// Failures to sign or publish a record are logged and skipped. If ctx is
// cancelled the records published so far are returned together with
// ctx's error. An error creating a worker's DHT client is fatal.
func (p *Publisher) Publish(ctx context.Context, count int) (Result, error) {
	start := p.clock.Now()
	workers := min(p.workers, count)
	if workers < 1 {
		workers = 1
	}

	clients := make([]dht.Client, 0, workers)
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				slog.Warn("closing dht client failed", "error", err)
			}
		}
	}()
	for i := 0; i < workers; i++ {
		c, err := p.clients(ctx)
		if err != nil {
			return Result{Stats: p.stats(count, start)}, fmt.Errorf("publisher worker %d: %w", i, err)
		}
		clients = append(clients, c)
	}

	ranges := shard(count, workers)
	outs := make([][]published, workers)
	var wg sync.WaitGroup
	for w := range clients {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			outs[w] = p.runWorker(ctx, w, clients[w], ranges[w][0], ranges[w][1])
		}(w)
	}
	wg.Wait()

	res := Result{Stats: p.stats(count, start)}
	for _, out := range outs {
		for _, rec := range out {
			res.Handles = append(res.Handles, rec.handle)
			res.Keys = append(res.Keys, rec.key)
			if p.verify {
				res.InitialCounts = append(res.InitialCounts, rec.initial)
			}
		}
	}
	slog.Info("publish phase complete",
		"requested", count,
		"published", res.Stats.Published,
		"failed", res.Stats.Failed,
		"avg_latency", res.Stats.AvgLatency,
		"elapsed", res.Stats.Elapsed,
	)
	return res, ctx.Err()
}

func (p *Publisher) runWorker(ctx context.Context, worker int, client dht.Client, lo, hi int) []published {
	var verifier *probe.Adapter
	if p.verify {
		verifier = probe.New(client, probe.ModeCount, p.verifyTimeout)
	}

	out := make([]published, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if ctx.Err() != nil {
			return out
		}
		p.attempts.Add(1)

		kp, err := p.newKeypair()
		if err != nil {
			p.failed.Add(1)
			slog.Warn("key generation failed", "worker", worker, "index", i, "error", err)
			continue
		}
		rec, err := record.NewExperiment(kp, p.ttl, p.clock.Now())
		if err != nil {
			p.failed.Add(1)
			slog.Warn("signing failed", "worker", worker, "index", i, "error", err)
			continue
		}

		began := time.Now()
		if err := client.Publish(ctx, rec); err != nil {
			p.failed.Add(1)
			slog.Warn("publish failed", "worker", worker, "index", i, "key", kp.PublicKey(), "error", err)
			continue
		}
		p.latency.Add(int64(time.Since(began)))

		entry := published{
			handle: record.NewHandle(kp.PublicKey(), p.clock.Now()),
			key:    kp,
		}
		if verifier != nil {
			entry.initial = verifier.CountStoringNodes(ctx, kp.PublicKey())
			slog.Debug("initial storing nodes", "key", kp.PublicKey(), "nodes", entry.initial)
		}
		out = append(out, entry)

		n := p.published.Add(1)
		if p.reportInterval > 0 && n%p.reportInterval == 0 {
			slog.Info("publish progress", "published", n, "failed", p.failed.Load())
		}
	}
	return out
}

func (p *Publisher) newKeypair() (record.Keypair, error) {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return record.GenerateKeypair(p.rand)
}

func (p *Publisher) stats(requested int, start time.Time) Stats {
	s := Stats{
		Requested: requested,
		Attempts:  p.attempts.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Elapsed:   p.clock.Now().Sub(start),
	}
	if s.Published > 0 {
		s.AvgLatency = time.Duration(p.latency.Load() / s.Published)
	}
	return s
}

// shard splits [0, n) into k contiguous ranges whose sizes differ by at
// most one.
func shard(n, k int) [][2]int {
	out := make([][2]int, k)
	base, extra := n/k, n%k
	lo := 0
	for i := range out {
		size := base
		if i < extra {
			size++
		}
		out[i] = [2]int{lo, lo + size}
		lo += size
	}
	return out
}
