package record

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKey_HexRoundTrip(t *testing.T) {
	kp, err := NewKeypair(bytes.Repeat([]byte{7}, SecretKeySize))
	require.NoError(t, err)

	pk := kp.PublicKey()
	s := pk.String()
	assert.Len(t, s, 2*PublicKeySize)
	assert.Equal(t, strings.ToLower(s), s)

	parsed, err := ParsePublicKey(s)
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)
}

func TestPublicKeyFromBytes_RejectsWrongLength(t *testing.T) {
	_, err := PublicKeyFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = ParsePublicKey("abcd")
	require.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = ParsePublicKey("zz")
	require.Error(t, err)
}

func TestNewKeypair_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, SecretKeySize)
	a, err := NewKeypair(seed)
	require.NoError(t, err)
	b, err := NewKeypair(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, seed, a.Secret())

	_, err = NewKeypair(seed[:10])
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestGenerateKeypair_UsesReader(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte{9}, SecretKeySize))
	kp, err := GenerateKeypair(r)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{9}, SecretKeySize), kp.Secret())

	// Exhausted reader.
	_, err = GenerateKeypair(bytes.NewReader(nil))
	require.Error(t, err)

	// Default entropy source produces distinct keys.
	x, err := GenerateKeypair(nil)
	require.NoError(t, err)
	y, err := GenerateKeypair(nil)
	require.NoError(t, err)
	assert.NotEqual(t, x.PublicKey(), y.PublicKey())
}
