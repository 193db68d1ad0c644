package record

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/dht/v2/bep44"
	"github.com/anacrolix/torrent/bencode"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultName and DefaultValue form the experiment's TXT entry.
	DefaultName  = "_experiment"
	DefaultValue = "dht-test"

	// MaxPayloadSize bounds the bencoded item value (BEP44 limit for
	// mutable items).
	MaxPayloadSize = 1000

	signatureSize = ed25519.SignatureSize
	headerSize    = PublicKeySize + signatureSize + 8 + 4 + 1
)

var (
	ErrEmptyName        = errors.New("record: empty name")
	ErrNameTooLong      = errors.New("record: name longer than 255 bytes")
	ErrPayloadTooLarge  = errors.New("record: payload exceeds size limit")
	ErrBadSignature     = errors.New("record: signature verification failed")
	ErrTruncatedPayload = errors.New("record: truncated encoding")
)

// Signed is a BEP44 mutable item signed by the owner of PublicKey, with
// an empty salt. The item value v is the byte string
// timestamp(8) | ttl(4) | nameLen(1) | name | value.
//
// Timestamp is in microseconds since the Unix epoch and doubles as the
// item's sequence number: a newer timestamp supersedes an older one.
type Signed struct {
	PublicKey PublicKey
	Signature [signatureSize]byte
	Timestamp uint64
	TTL       uint32
	Name      string
	Value     string
}

// New builds and signs a record for kp. Name and value are NFC
// normalized before signing so that equivalent strings sign identically.
func New(kp Keypair, name, value string, ttl uint32, at time.Time) (*Signed, error) {
	s := &Signed{
		PublicKey: kp.PublicKey(),
		Timestamp: uint64(at.UnixMicro()),
		TTL:       ttl,
		Name:      norm.NFC.String(name),
		Value:     norm.NFC.String(value),
	}
	bv, err := s.BencodedValue()
	if err != nil {
		return nil, err
	}
	copy(s.Signature[:], bep44.Sign(kp.priv, nil, s.Seq(), bv))
	return s, nil
}

// NewExperiment builds the default experiment record for kp.
func NewExperiment(kp Keypair, ttl uint32, at time.Time) (*Signed, error) {
	return New(kp, DefaultName, DefaultValue, ttl, at)
}

// Payload returns the item value:
// timestamp(8) | ttl(4) | nameLen(1) | name | value.
func (s *Signed) Payload() ([]byte, error) {
	if s.Name == "" {
		return nil, ErrEmptyName
	}
	if len(s.Name) > 255 {
		return nil, ErrNameTooLong
	}
	size := 8 + 4 + 1 + len(s.Name) + len(s.Value)
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint64(buf, s.Timestamp)
	buf = binary.BigEndian.AppendUint32(buf, s.TTL)
	buf = append(buf, byte(len(s.Name)))
	buf = append(buf, s.Name...)
	buf = append(buf, s.Value...)
	return buf, nil
}

// BencodedValue returns the bencoded item value, which is what the BEP44
// signature covers together with the sequence number.
func (s *Signed) BencodedValue() ([]byte, error) {
	payload, err := s.Payload()
	if err != nil {
		return nil, err
	}
	bv, err := bencode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if len(bv) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(bv))
	}
	return bv, nil
}

// Seq is the BEP44 sequence number.
func (s *Signed) Seq() int64 {
	return int64(s.Timestamp)
}

// Verify checks the signature against the record's public key.
func (s *Signed) Verify() error {
	bv, err := s.BencodedValue()
	if err != nil {
		return err
	}
	if !bep44.Verify(ed25519.PublicKey(s.PublicKey[:]), nil, s.Seq(), bv, s.Signature[:]) {
		return ErrBadSignature
	}
	return nil
}

// FromItem rebuilds a record from the fields of a BEP44 get response and
// verifies it. v is the item value, still bencoded.
func FromItem(key PublicKey, seq int64, sig [signatureSize]byte, v []byte) (*Signed, error) {
	var payload []byte
	if err := bencode.Unmarshal(v, &payload); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	s := &Signed{PublicKey: key, Signature: sig}
	if err := s.decodePayload(payload); err != nil {
		return nil, err
	}
	if s.Seq() != seq {
		return nil, fmt.Errorf("%w: seq %d does not match timestamp %d", ErrBadSignature, seq, s.Timestamp)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// SignedAt returns the record's timestamp as a time.
func (s *Signed) SignedAt() time.Time {
	return time.UnixMicro(int64(s.Timestamp))
}

// ExpiresAt returns when the record's TTL runs out.
func (s *Signed) ExpiresAt() time.Time {
	return s.SignedAt().Add(time.Duration(s.TTL) * time.Second)
}

// MarshalBinary encodes the record as
// pubkey(32) | sig(64) | timestamp(8) | ttl(4) | nameLen(1) | name | value.
func (s *Signed) MarshalBinary() ([]byte, error) {
	payload, err := s.Payload()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, PublicKeySize+signatureSize+len(payload))
	buf = append(buf, s.PublicKey[:]...)
	buf = append(buf, s.Signature[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// UnmarshalBinary decodes the MarshalBinary form. It does not verify the
// signature; call Verify for that.
func (s *Signed) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return ErrTruncatedPayload
	}
	if len(data)-PublicKeySize-signatureSize > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	copy(s.PublicKey[:], data[:PublicKeySize])
	copy(s.Signature[:], data[PublicKeySize:PublicKeySize+signatureSize])
	return s.decodePayload(data[PublicKeySize+signatureSize:])
}

func (s *Signed) decodePayload(data []byte) error {
	if len(data) < headerSize-PublicKeySize-signatureSize {
		return ErrTruncatedPayload
	}
	off := 0
	s.Timestamp = binary.BigEndian.Uint64(data[off:])
	off += 8
	s.TTL = binary.BigEndian.Uint32(data[off:])
	off += 4
	nameLen := int(data[off])
	off++
	if len(data) < off+nameLen {
		return ErrTruncatedPayload
	}
	s.Name = string(data[off : off+nameLen])
	s.Value = string(data[off+nameLen:])
	return nil
}
