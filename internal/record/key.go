package record

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Key sizes in bytes.
const (
	PublicKeySize = ed25519.PublicKeySize
	SecretKeySize = ed25519.SeedSize
)

var (
	// ErrInvalidKeyLength is returned when key material has the wrong size.
	ErrInvalidKeyLength = errors.New("record: invalid key length")
)

// PublicKey identifies a record in the DHT.
type PublicKey [PublicKeySize]byte

// String returns the lowercase hex form of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns a copy of the key bytes.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// PublicKeyFromBytes converts raw bytes into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != PublicKeySize {
		return k, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(b), PublicKeySize)
	}
	copy(k[:], b)
	return k, nil
}

// ParsePublicKey parses the hex form produced by String.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	return PublicKeyFromBytes(b)
}

// Keypair is an ed25519 signing key derived from a 32-byte secret.
type Keypair struct {
	priv ed25519.PrivateKey
}

// NewKeypair derives a key pair from a 32-byte secret seed.
func NewKeypair(secret []byte) (Keypair, error) {
	if len(secret) != SecretKeySize {
		return Keypair{}, fmt.Errorf("%w: got %d secret bytes, want %d", ErrInvalidKeyLength, len(secret), SecretKeySize)
	}
	return Keypair{priv: ed25519.NewKeyFromSeed(secret)}, nil
}

// GenerateKeypair creates a fresh key pair reading entropy from r.
// A nil reader uses crypto/rand.
func GenerateKeypair(r io.Reader) (Keypair, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, SecretKeySize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return NewKeypair(seed)
}

// PublicKey returns the public half of the pair.
func (k Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

// Secret returns a copy of the 32-byte seed.
func (k Keypair) Secret() []byte {
	return k.priv.Seed()
}
