package simnet

import (
	"time"

	"github.com/roach88/churnprobe/internal/record"
)

type entry struct {
	rec      *record.Signed
	storedAt time.Time
	expiry   time.Time
}

// node is one simulated DHT participant with a local record store.
// All access goes through the owning Network's lock.
type node struct {
	id       NodeID
	joinedAt time.Time
	store    map[record.PublicKey]*entry
}

func newNode(id NodeID, now time.Time) *node {
	return &node{
		id:       id,
		joinedAt: now,
		store:    make(map[record.PublicKey]*entry),
	}
}

// put stores rec unless the node already holds a newer copy. When the
// store is at capacity the oldest entry is evicted first.
func (n *node) put(rec *record.Signed, now time.Time, retention time.Duration, capacity int) {
	if cur, ok := n.store[rec.PublicKey]; ok {
		if cur.rec.Timestamp > rec.Timestamp {
			return
		}
	} else if capacity > 0 && len(n.store) >= capacity {
		n.evictOldest()
	}

	keep := time.Duration(rec.TTL) * time.Second
	if retention > 0 && (keep == 0 || retention < keep) {
		keep = retention
	}
	var expiry time.Time
	if keep > 0 {
		expiry = now.Add(keep)
	}
	n.store[rec.PublicKey] = &entry{rec: rec, storedAt: now, expiry: expiry}
}

// get returns the stored record if it has not expired.
func (n *node) get(key record.PublicKey, now time.Time) (*record.Signed, bool) {
	e, ok := n.store[key]
	if !ok {
		return nil, false
	}
	if !e.expiry.IsZero() && !now.Before(e.expiry) {
		delete(n.store, key)
		return nil, false
	}
	return e.rec, true
}

// expire drops every expired entry and returns how many were dropped.
func (n *node) expire(now time.Time) int {
	dropped := 0
	for k, e := range n.store {
		if !e.expiry.IsZero() && !now.Before(e.expiry) {
			delete(n.store, k)
			dropped++
		}
	}
	return dropped
}

func (n *node) evictOldest() {
	var (
		oldestKey record.PublicKey
		oldest    *entry
	)
	for k, e := range n.store {
		if oldest == nil || e.storedAt.Before(oldest.storedAt) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(n.store, oldestKey)
	}
}
