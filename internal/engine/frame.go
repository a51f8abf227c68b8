package engine

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshcrypto"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// associatedData authenticates the header fields that never change in
// transit (spec §4.1: "associated data is the packet header bytes so
// the header is authenticated but not confidential"). TTL, flags,
// next_hop, and hop_count are deliberately excluded: they are rewritten
// hop-by-hop by forwarders that hold no key, and AEAD is end-to-end
// between the original sender and the ultimate destination, not
// hop-by-hop.
func associatedData(h meshproto.Header) []byte {
	b := make([]byte, 16)
	b[0] = h.Version
	b[1] = uint8(h.Type)
	binary.LittleEndian.PutUint32(b[2:6], uint32(h.Source))
	binary.LittleEndian.PutUint32(b[6:10], uint32(h.Destination))
	binary.LittleEndian.PutUint16(b[10:12], h.PacketID)
	binary.LittleEndian.PutUint16(b[12:14], h.NetworkID)
	b[14] = h.Channel
	b[15] = h.Sequence
	return b
}

// encryptedPayloadOverhead is the nonce-plus-tag bytes added to a
// plaintext payload when sealed (spec §4.1: "24-byte nonce + 16-byte
// tag (40 bytes)" of per-packet crypto overhead, carried in the wire
// payload region alongside the ciphertext).
const encryptedPayloadOverhead = 24 + 16

// MaxPlaintextPayload is the largest application payload that still
// fits under meshproto.MaxPayload once sealed (spec §4.1, §4.2).
const MaxPlaintextPayload = meshproto.MaxPayload - encryptedPayloadOverhead

// sealPayload encrypts plaintext for transmission under hdr's
// authenticated fields, returning the wire payload: nonce || sealed.
func (e *Engine) sealPayload(hdr meshproto.Header, plaintext []byte) ([]byte, error) {
	ad := associatedData(hdr)
	nonce, sealed, err := e.crypto.Seal(plaintext, ad)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// openPayload reverses sealPayload, enforcing the per-source replay
// window (spec §4.1).
func (e *Engine) openPayload(hdr meshproto.Header, wire []byte, now time.Time) ([]byte, error) {
	if len(wire) < 24 {
		return nil, meshcrypto.ErrAuth
	}
	nonce, sealed := wire[:24], wire[24:]
	ad := associatedData(hdr)
	return e.crypto.Open(nonce, sealed, ad, now)
}

// buildHeader assembles a new header for an originated packet, leaving
// PayloadLen for Encode to fill in.
func (e *Engine) buildHeader(typ meshproto.Type, dest, nextHop meshproto.Address, ackRequired bool, channel uint8, ttl uint8) meshproto.Header {
	h := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        typ,
		TTL:         ttl,
		PacketID:    e.nextPacketID(),
		Source:      e.cfg.Self,
		Destination: dest,
		NextHop:     nextHop,
		HopCount:    0,
		Sequence:    e.nextSequence(),
		Channel:     channel,
		NetworkID:   e.networkID(),
	}
	h.SetFlag(meshproto.FlagAckReq, ackRequired)
	return h
}

// encodeOutgoing seals plaintext (if encryption is enabled) and encodes
// the final on-air frame.
func (e *Engine) encodeOutgoing(hdr meshproto.Header, plaintext []byte) ([]byte, error) {
	payload := plaintext
	if e.encryptEnabled {
		sealed, err := e.sealPayload(hdr, plaintext)
		if err != nil {
			return nil, err
		}
		payload = sealed
		hdr.SetFlag(meshproto.FlagEncrypted, true)
	}
	if len(payload) > meshproto.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), meshproto.MaxPayload)
	}
	return meshproto.Encode(meshproto.Packet{Header: hdr, Payload: payload})
}

// decodeIncomingPayload decrypts pkt's payload if the ENCRYPTED flag is
// set, otherwise returns it verbatim (used only when console `encrypt
// off` has disabled crypto for diagnostics, SPEC_FULL §3).
func (e *Engine) decodeIncomingPayload(pkt meshproto.Packet, now time.Time) ([]byte, error) {
	if !pkt.Header.HasFlag(meshproto.FlagEncrypted) {
		return pkt.Payload, nil
	}
	return e.openPayload(pkt.Header, pkt.Payload, now)
}

// transmit hands a finished frame to the MAC-arbitrated radio. Carrier
// sense / slot-wait scheduling is evaluated by the caller (send.go);
// this is the unconditional, already-cleared Tx.
func (e *Engine) transmit(frame []byte) error {
	return e.radioDriver.Tx(frame)
}
