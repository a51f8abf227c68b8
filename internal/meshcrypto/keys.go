package meshcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key is the 32-byte pre-shared network key (spec §3, §4.1).
type Key [32]byte

// GenerateKey returns a fresh random key, used on first boot.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("meshcrypto: generate key: %w", err)
	}
	return k, nil
}

// DeriveKey deterministically derives a network key from a passphrase,
// so operators can set a memorable PSK (console `psk set <phrase>`)
// instead of handling raw key material. HKDF-SHA256 with a fixed,
// protocol-specific info string domain-separates this from any other
// use of the same passphrase.
func DeriveKey(passphrase string) (Key, error) {
	var k Key
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte("icenet-mesh-v1-salt"), []byte("icenet-mesh-v1-netkey"))
	if _, err := io.ReadFull(kdf, k[:]); err != nil {
		return Key{}, fmt.Errorf("meshcrypto: derive key: %w", err)
	}
	return k, nil
}

// Hex returns the hex encoding of the key, for console `psk export`.
func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

// KeyFromHex parses the hex encoding produced by Hex, for console
// `psk import <hex>`.
func KeyFromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("meshcrypto: invalid hex key: %w", err)
	}
	if len(b) != 32 {
		return Key{}, fmt.Errorf("meshcrypto: key must be 32 bytes, got %d", len(b))
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// NetworkID is a stable truncation of the key's hash, used to cheaply
// isolate co-channel networks (spec §4.1).
func (k Key) NetworkID() uint16 {
	h := fnv.New32a()
	h.Write(k[:])
	sum := h.Sum32()
	return uint16(sum ^ (sum >> 16))
}
