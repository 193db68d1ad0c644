package simnet

import (
	"crypto/sha1"
	"encoding/hex"
	"math/rand/v2"

	"github.com/roach88/churnprobe/internal/record"
)

// IDBytes is the size of a node ID (160 bits, as in Mainline).
const IDBytes = 20

// NodeID is a position in the 160-bit keyspace.
type NodeID [IDBytes]byte

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// TargetFor maps a record key onto the keyspace the way BEP44 does for
// mutable items without salt: SHA-1 of the public key.
func TargetFor(key record.PublicKey) NodeID {
	return NodeID(sha1.Sum(key[:]))
}

func randomID(r *rand.Rand) NodeID {
	var id NodeID
	for i := range id {
		id[i] = byte(r.UintN(256))
	}
	return id
}

func xor(a, b NodeID) (o NodeID) {
	for i := 0; i < IDBytes; i++ {
		o[i] = a[i] ^ b[i]
	}
	return
}

// CompareDistance orders a and b by XOR distance to t. It returns -1 when a
// is closer, 1 when b is closer and 0 when they are equidistant.
func CompareDistance(a, b, t NodeID) int {
	da := xor(a, t)
	db := xor(b, t)
	for i := 0; i < IDBytes; i++ {
		if da[i] < db[i] {
			return -1
		}
		if da[i] > db[i] {
			return 1
		}
	}
	return 0
}
