// Package meshcrypto implements the AEAD packet framing, nonce
// management, replay protection, and key rotation of spec §4.1.
package meshcrypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
)

// ErrAuth is returned by Open on any authentication failure: bad tag,
// replay, or (at the engine layer, before Open is even called) a
// network-ID mismatch. It is deliberately undifferentiated — the
// contract requires no oracle distinguishing *why* a frame failed to
// authenticate (spec §4.1 Failure semantics).
var ErrAuth = errors.New("meshcrypto: authentication failed")

// ErrCounterExhausted is fatal: the node must not transmit again until
// re-keyed (spec §4.1, §7).
var ErrCounterExhausted = errors.New("meshcrypto: nonce counter exhausted, refusing to send")

// KeyRotationOverlap is how long both the old and new key are tried on
// decrypt after rotate_key, resolving spec §9 Open Question 3: at least
// one ACK-timeout cap (60s).
const KeyRotationOverlap = 60 * time.Second

// NoncePersistStride bounds how many sends may occur between persisting
// the nonce counter; the persisted value is always >= last used so a
// crash can only waste a few counter values, never repeat one.
const NoncePersistStride = 64

// Stats holds the AEAD success/fail counters per direction (spec §4.1).
type Stats struct {
	SealOK   uint64
	SealFail uint64
	OpenOK   uint64
	OpenFail uint64
}

type aeadKey struct {
	key  Key
	aead cipher.AEAD
}

// Crypto is the per-node AEAD state: current (and briefly, rotating-out)
// key, nonce counter, and per-source replay windows. It is mutated only
// from the engine loop (spec §5 single-threaded ownership) — no
// internal locking.
type Crypto struct {
	node Node

	current  *aeadKey
	previous *aeadKey
	rotateBy time.Time

	counter       uint64
	lastPersist   uint64
	exhausted     bool
	kv            store.KV

	replay map[meshproto.Address]*replayWindow

	Stats Stats
}

// Node identifies this crypto instance's own address, embedded in every
// nonce it mints so nonces are globally unique across devices sharing a
// key (spec §4.1).
type Node struct {
	Address meshproto.Address
}

// New constructs Crypto for node, loading or initializing the key and
// nonce counter from kv. If no key is persisted yet, one is generated
// and stored.
func New(node Node, kv store.KV) (*Crypto, error) {
	c := &Crypto{
		node:   node,
		kv:     kv,
		replay: make(map[meshproto.Address]*replayWindow),
	}

	key, err := loadOrGenerateKey(kv)
	if err != nil {
		return nil, err
	}
	ak, err := newAEADKey(key)
	if err != nil {
		return nil, err
	}
	c.current = ak

	counter, err := loadCounter(kv)
	if err != nil {
		return nil, err
	}
	c.counter = counter
	c.lastPersist = counter
	// Reserve the first stride of counter values before any seal uses
	// them, so a crash before the next persist cannot repeat a nonce.
	if err := c.persistCounter(); err != nil {
		return nil, fmt.Errorf("meshcrypto: persist nonce counter: %w", err)
	}

	return c, nil
}

func loadOrGenerateKey(kv store.KV) (Key, error) {
	b, ok, err := kv.Load(store.KeyNetKey)
	if err != nil {
		return Key{}, fmt.Errorf("meshcrypto: load key: %w", err)
	}
	if ok && len(b) == 32 {
		var k Key
		copy(k[:], b)
		return k, nil
	}

	k, err := GenerateKey()
	if err != nil {
		return Key{}, err
	}
	if err := kv.Store(store.KeyNetKey, k[:]); err != nil {
		return Key{}, fmt.Errorf("meshcrypto: persist key: %w", err)
	}
	return k, nil
}

func loadCounter(kv store.KV) (uint64, error) {
	b, ok, err := kv.Load(store.KeyNonceCounter)
	if err != nil {
		return 0, fmt.Errorf("meshcrypto: load nonce counter: %w", err)
	}
	if !ok || len(b) != 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

func newAEADKey(k Key) (*aeadKey, error) {
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, fmt.Errorf("meshcrypto: init AEAD: %w", err)
	}
	return &aeadKey{key: k, aead: aead}, nil
}

// buildNonce lays out [node_addr(4) | counter(8) | reserved(12)].
func buildNonce(addr meshproto.Address, counter uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSizeX)
	binary.LittleEndian.PutUint32(n[0:4], uint32(addr))
	binary.LittleEndian.PutUint64(n[4:12], counter)
	return n
}

func parseNonce(n []byte) (addr meshproto.Address, counter uint64, ok bool) {
	if len(n) != chacha20poly1305.NonceSizeX {
		return 0, 0, false
	}
	addr = meshproto.Address(binary.LittleEndian.Uint32(n[0:4]))
	counter = binary.LittleEndian.Uint64(n[4:12])
	return addr, counter, true
}

// Seal AEAD-encrypts plaintext under the current key, using the header
// bytes (associatedData) as associated data so the header is
// authenticated but not confidential (spec §4.1). It returns the nonce
// actually used and the ciphertext+tag.
func (c *Crypto) Seal(plaintext, associatedData []byte) (nonce, sealed []byte, err error) {
	if c.exhausted {
		c.Stats.SealFail++
		return nil, nil, ErrCounterExhausted
	}
	if c.counter == math.MaxUint64 {
		c.exhausted = true
		c.Stats.SealFail++
		return nil, nil, ErrCounterExhausted
	}

	n := buildNonce(c.node.Address, c.counter)
	out := c.current.aead.Seal(nil, n, plaintext, associatedData)

	c.counter++
	if c.counter-c.lastPersist >= NoncePersistStride {
		if perr := c.persistCounter(); perr != nil {
			// Persistence failure does not lose the in-memory counter,
			// but it must not go unnoticed: surfaced via Stats/logs by
			// the caller, sealing itself still succeeded.
			c.Stats.SealOK++
			return n, out, fmt.Errorf("meshcrypto: seal ok but persist failed: %w", perr)
		}
	}
	c.Stats.SealOK++
	return n, out, nil
}

// persistCounter stores the counter plus NoncePersistStride (saturating
// at math.MaxUint64), so the stored value stays above every nonce
// sealed before the next persist.
func (c *Crypto) persistCounter() error {
	reserved := c.counter + NoncePersistStride
	if reserved < c.counter {
		reserved = math.MaxUint64
	}
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, reserved)
	if err := c.kv.Store(store.KeyNonceCounter, b); err != nil {
		return err
	}
	c.lastPersist = c.counter
	return nil
}

// PersistNonceNow forces an immediate nonce-counter flush, used on
// graceful shutdown (spec §5).
func (c *Crypto) PersistNonceNow() error {
	return c.persistCounter()
}

// Open verifies and decrypts a sealed frame, enforcing the per-source
// replay window. On any failure it returns ErrAuth without
// distinguishing the cause to the caller, per spec §4.1. now is the
// engine loop's current time, so key-rotation overlap is governed by
// the same clock as every other timed decision (spec §5).
func (c *Crypto) Open(nonce, sealed, associatedData []byte, now time.Time) ([]byte, error) {
	srcAddr, counter, ok := parseNonce(nonce)
	if !ok {
		c.Stats.OpenFail++
		return nil, ErrAuth
	}

	plaintext, err := c.tryOpen(c.current, nonce, sealed, associatedData)
	if err != nil && c.previous != nil && now.Before(c.rotateBy) {
		plaintext, err = c.tryOpen(c.previous, nonce, sealed, associatedData)
	}
	if err != nil {
		c.Stats.OpenFail++
		return nil, ErrAuth
	}

	w := c.replay[srcAddr]
	if w == nil {
		w = &replayWindow{}
		c.replay[srcAddr] = w
	}
	if !w.accept(counter) {
		c.Stats.OpenFail++
		return nil, ErrAuth
	}

	c.Stats.OpenOK++
	return plaintext, nil
}

func (c *Crypto) tryOpen(ak *aeadKey, nonce, sealed, ad []byte) ([]byte, error) {
	if ak == nil {
		return nil, ErrAuth
	}
	return ak.aead.Open(nil, nonce, sealed, ad)
}

// NetworkID returns the current key's stable network-ID truncation.
func (c *Crypto) NetworkID() uint16 {
	return c.current.key.NetworkID()
}

// RotateKey atomically swaps in newKey, keeping the outgoing key valid
// for decrypt (not encrypt) during KeyRotationOverlap (spec §4.1, §9).
func (c *Crypto) RotateKey(newKey Key, now time.Time) error {
	ak, err := newAEADKey(newKey)
	if err != nil {
		return err
	}
	c.previous = c.current
	c.current = ak
	c.rotateBy = now.Add(KeyRotationOverlap)

	if err := c.kv.Store(store.KeyNetKey, newKey[:]); err != nil {
		return fmt.Errorf("meshcrypto: persist rotated key: %w", err)
	}
	// A fresh key must not reuse nonce counter values already used for
	// the old key space under a different network; reset the counter
	// and persist immediately.
	c.counter = 0
	c.exhausted = false
	return c.persistCounter()
}

// CurrentKey returns the active key, for console `psk show`/`psk export`.
func (c *Crypto) CurrentKey() Key { return c.current.key }

// Exhausted reports whether the nonce counter has wrapped and the node
// must refuse to send until re-keyed (spec §7, fatal persistent-state
// error).
func (c *Crypto) Exhausted() bool { return c.exhausted }
