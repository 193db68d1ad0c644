package testutil

import (
	"context"
	"sync"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

// CountFunc scripts a storing-node count. call is the 1-based number of
// times key has been probed so far, including this one.
type CountFunc func(key record.PublicKey, call int) (int, error)

// ScriptedDHT is an in-memory dht.Client whose probe answers are scripted.
//
// Published records are kept in memory. Without a Counts script a key
// reports 1 storing node if it was published and 0 otherwise.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedDHT struct {
	mu sync.Mutex

	// Counts overrides CountStoringNodes when set.
	Counts CountFunc
	// PublishErr makes Publish fail for the records it returns an error for.
	PublishErr func(rec *record.Signed) error

	published map[record.PublicKey]*record.Signed
	order     []record.PublicKey
	calls     map[record.PublicKey]int
	total     int
	closed    int
}

var _ dht.Client = (*ScriptedDHT)(nil)

// NewScriptedDHT creates an empty scripted client.
func NewScriptedDHT() *ScriptedDHT {
	return &ScriptedDHT{
		published: make(map[record.PublicKey]*record.Signed),
		calls:     make(map[record.PublicKey]int),
	}
}

// Publish records rec unless PublishErr rejects it.
func (d *ScriptedDHT) Publish(ctx context.Context, rec *record.Signed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	fail := d.PublishErr
	d.mu.Unlock()
	if fail != nil {
		if err := fail(rec); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.published[rec.PublicKey]; !ok {
		d.order = append(d.order, rec.PublicKey)
	}
	d.published[rec.PublicKey] = rec
	return nil
}

// CountStoringNodes returns the scripted count for key.
func (d *ScriptedDHT) CountStoringNodes(ctx context.Context, key record.PublicKey) (int, error) {
	d.mu.Lock()
	d.calls[key]++
	d.total++
	call := d.calls[key]
	script := d.Counts
	_, stored := d.published[key]
	d.mu.Unlock()

	if script != nil {
		return script(key, call)
	}
	if stored {
		return 1, nil
	}
	return 0, nil
}

// Resolve returns the published record for key.
func (d *ScriptedDHT) Resolve(ctx context.Context, key record.PublicKey) (*record.Signed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.published[key]
	if !ok {
		return nil, dht.ErrNotFound
	}
	return rec, nil
}

// Close counts the call; the client stays usable.
func (d *ScriptedDHT) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// Factory returns a dht.Factory handing out this client.
func (d *ScriptedDHT) Factory() dht.Factory {
	return func(context.Context) (dht.Client, error) {
		return d, nil
	}
}

// Published returns the published keys in first-publish order.
func (d *ScriptedDHT) Published() []record.PublicKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]record.PublicKey, len(d.order))
	copy(out, d.order)
	return out
}

// Calls returns how many times key was probed.
func (d *ScriptedDHT) Calls(key record.PublicKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[key]
}

// TotalCalls returns the number of probes across all keys.
func (d *ScriptedDHT) TotalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Closed returns how many times Close was called.
func (d *ScriptedDHT) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// SequentialKey returns a deterministic public key whose bytes are all i.
// Handy for tests that need readable keys in CSV output.
func SequentialKey(i int) record.PublicKey {
	var k record.PublicKey
	for j := range k {
		k[j] = byte(i)
	}
	return k
}

// SequentialKeys returns SequentialKey(1) through SequentialKey(n).
func SequentialKeys(n int) []record.PublicKey {
	out := make([]record.PublicKey, n)
	for i := range out {
		out[i] = SequentialKey(i + 1)
	}
	return out
}
