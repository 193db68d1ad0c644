// Package dht declares the capability the monitor needs from a DHT
// client: publish a signed record, count the nodes currently storing a
// key, and resolve a key back to its record.
//
// Implementations live elsewhere: the Mainline DHT node
// (internal/mainline), the in-process simulated network (internal/simnet)
// and the gRPC client for a remote agent (internal/agent).
package dht

import (
	"context"
	"errors"

	"github.com/roach88/churnprobe/internal/record"
)

// ErrNotFound is returned by Resolve when no node returns the record.
var ErrNotFound = errors.New("dht: record not found")

// Client is a handle on a DHT. Implementations must be safe for use by a
// single goroutine; workers that need concurrency create one client each
// through a Factory.
type Client interface {
	// Publish stores rec on the nodes responsible for its key.
	Publish(ctx context.Context, rec *record.Signed) error

	// CountStoringNodes returns how many nodes currently answer a lookup
	// for key with a valid copy of its record.
	CountStoringNodes(ctx context.Context, key record.PublicKey) (int, error)

	// Resolve returns the most recent valid record stored under key, or
	// ErrNotFound.
	Resolve(ctx context.Context, key record.PublicKey) (*record.Signed, error)

	// Close releases the client's resources.
	Close() error
}

// Factory creates an independent client. Each publisher or prober worker
// calls it once.
type Factory func(ctx context.Context) (Client, error)
