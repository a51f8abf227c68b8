package meshproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors. Transient-radio-error class (spec §7): counted by the
// caller, never propagated past the engine's receive path.
var (
	ErrShortFrame      = errors.New("meshproto: frame shorter than header+crc")
	ErrUnknownVersion  = errors.New("meshproto: unknown protocol version")
	ErrPayloadTooLarge = errors.New("meshproto: payload exceeds MaxPayload")
	ErrLengthMismatch  = errors.New("meshproto: declared payload length does not match frame")
	ErrBadCRC          = errors.New("meshproto: CRC mismatch")
)

// Packet is a decoded header plus its (still possibly encrypted) payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serializes p into a fresh on-air frame: header, payload, then
// the trailing 2-byte CRC over header+payload. The header's PayloadLen
// and CRC are (re)computed from p.Payload, so callers never hand-set
// them.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(p.Payload), MaxPayload)
	}

	h := p.Header
	h.PayloadLen = uint16(len(p.Payload))

	frame := make([]byte, HeaderSize+len(p.Payload)+CRCSize)
	h.marshal(frame[:HeaderSize])
	copy(frame[HeaderSize:], p.Payload)

	sum := crc16(frame[:HeaderSize+len(p.Payload)])
	binary.LittleEndian.PutUint16(frame[len(frame)-CRCSize:], sum)

	return frame, nil
}

// Decode parses and verifies a received frame. It rejects frames with an
// unknown version, an inconsistent declared payload length, or a bad
// CRC — the three checks spec §4.2 and §9 (Open Question 1) require.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < HeaderSize+CRCSize {
		return Packet{}, ErrShortFrame
	}

	h := unmarshalHeader(frame[:HeaderSize])
	if h.Version != ProtocolVersion {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownVersion, h.Version)
	}
	if int(h.PayloadLen) > MaxPayload {
		return Packet{}, fmt.Errorf("%w: declared %d > %d", ErrPayloadTooLarge, h.PayloadLen, MaxPayload)
	}

	wantLen := HeaderSize + int(h.PayloadLen) + CRCSize
	if wantLen != len(frame) {
		return Packet{}, fmt.Errorf("%w: declared %d, frame implies %d bytes", ErrLengthMismatch, h.PayloadLen, len(frame)-HeaderSize-CRCSize)
	}

	body := frame[:HeaderSize+int(h.PayloadLen)]
	got := binary.LittleEndian.Uint16(frame[len(frame)-CRCSize:])
	want := crc16(body)
	if got != want {
		return Packet{}, ErrBadCRC
	}

	payload := make([]byte, h.PayloadLen)
	copy(payload, frame[HeaderSize:HeaderSize+int(h.PayloadLen)])

	return Packet{Header: h, Payload: payload}, nil
}

// Reframe recomputes PayloadLen and CRC for p and re-serializes it,
// used when forwarding a packet after mutating the header (TTL
// decrement, next-hop rewrite) without touching the payload.
func Reframe(p Packet) ([]byte, error) {
	return Encode(p)
}
