package meshcrypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
)

func newTestCrypto(t *testing.T, addr meshproto.Address) (*Crypto, store.KV) {
	t.Helper()
	kv := store.NewMemory()
	c, err := New(Node{Address: addr}, kv)
	require.NoError(t, err)
	return c, kv
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	// Receiver must share the same key, so copy it from sender's store.
	receiver, err := New(Node{Address: 2}, kv)
	require.NoError(t, err)

	ad := []byte("header-bytes")
	nonce, sealed, err := sender.Seal([]byte("hi"), ad)
	require.NoError(t, err)

	plain, err := receiver.Open(nonce, sealed, ad, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "hi", string(plain))
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	receiver, _ := New(Node{Address: 2}, kv)

	ad := []byte("hdr")
	nonce, sealed, err := sender.Seal([]byte("hi"), ad)
	require.NoError(t, err)

	sealed[0] ^= 0xFF
	_, err = receiver.Open(nonce, sealed, ad, time.Now())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestOpenRejectsTamperedAssociatedData(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	receiver, _ := New(Node{Address: 2}, kv)

	nonce, sealed, err := sender.Seal([]byte("hi"), []byte("hdr1"))
	require.NoError(t, err)

	_, err = receiver.Open(nonce, sealed, []byte("hdr2"), time.Now())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestReplayRejection(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	receiver, _ := New(Node{Address: 2}, kv)

	ad := []byte("hdr")
	nonce, sealed, err := sender.Seal([]byte("hi"), ad)
	require.NoError(t, err)

	_, err = receiver.Open(nonce, sealed, ad, time.Now())
	require.NoError(t, err)

	_, err = receiver.Open(nonce, sealed, ad, time.Now())
	assert.ErrorIs(t, err, ErrAuth, "replayed nonce must be rejected")
	assert.EqualValues(t, 1, receiver.Stats.OpenFail)
}

func TestReplayWindowAcceptsReordering(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	receiver, _ := New(Node{Address: 2}, kv)
	ad := []byte("hdr")

	var nonces [][]byte
	var sealeds [][]byte
	for i := 0; i < 5; i++ {
		n, s, err := sender.Seal([]byte("m"), ad)
		require.NoError(t, err)
		nonces = append(nonces, n)
		sealeds = append(sealeds, s)
	}

	// Deliver out of order: 0, 2, 1, 4, 3.
	order := []int{0, 2, 1, 4, 3}
	for _, i := range order {
		_, err := receiver.Open(nonces[i], sealeds[i], ad, time.Now())
		assert.NoError(t, err, "reordered-but-unique nonce %d should be accepted", i)
	}
}

func TestNetworkIDStable(t *testing.T) {
	c, _ := newTestCrypto(t, 1)
	id1 := c.NetworkID()
	id2 := c.NetworkID()
	assert.Equal(t, id1, id2)
}

func TestKeyRotationOverlap(t *testing.T) {
	sender, kv := newTestCrypto(t, 1)
	receiver, _ := New(Node{Address: 2}, kv)

	ad := []byte("hdr")
	// Message sealed under the old key, in flight during rotation.
	nonce, sealed, err := sender.Seal([]byte("before"), ad)
	require.NoError(t, err)

	newKey, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, sender.RotateKey(newKey, time.Now()))
	require.NoError(t, receiver.RotateKey(newKey, time.Now()))

	plain, err := receiver.Open(nonce, sealed, ad, time.Now())
	require.NoError(t, err, "old-key traffic must still decrypt during the overlap window")
	assert.Equal(t, "before", string(plain))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("different phrase")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestKeyHexRoundTrip(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	parsed, err := KeyFromHex(k.Hex())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}
