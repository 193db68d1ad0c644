// Package record defines the experiment's record model.
//
// A record is a small signed mutable value (an ed25519 public key, a
// microsecond timestamp, a TTL and one TXT-like name/value pair) that is
// published into the DHT under its public key. The monitor never reads the
// value back in count mode; it only asks how many nodes still store it.
//
// Handle carries the per-record bookkeeping the prober needs: when the
// record was published, whether it is currently considered churned, the
// last storing-node count observed and whether its churn event has already
// been written.
package record
