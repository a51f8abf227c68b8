package meshproto

import (
	"errors"
	"testing"
)

// byteSliceEqual mirrors the teacher's bgp_test.go helper: hand-built
// byte-table comparisons rather than round-tripping through the same
// encoder that produced them.
func byteSliceEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

func TestHeaderMarshalLayout(t *testing.T) {
	h := Header{
		Version:     1,
		Type:        TypeData,
		TTL:         8,
		Flags:       FlagAckReq,
		PacketID:    0x0102,
		Source:      0x11223344,
		Destination: 0x55667788,
		NextHop:     0x99AABBCC,
		HopCount:    2,
		Sequence:    9,
		PayloadLen:  2,
		Channel:     3,
		NetworkID:   0xBEEF,
	}

	want := []byte{
		0x11,       // version(4)=1, type(4)=DATA(1)
		8,          // ttl
		FlagAckReq, // flags
		0x02, 0x01, // packet id, LE
		0x44, 0x33, 0x22, 0x11, // source, LE
		0x88, 0x77, 0x66, 0x55, // destination, LE
		0xCC, 0xBB, 0xAA, 0x99, // next hop, LE
		2,          // hop count
		9,          // sequence
		0x02, 0x00, // payload len, LE
		3,          // channel
		0xEF, 0xBE, // network id, LE
	}

	got := make([]byte, HeaderSize)
	h.marshal(got)

	if !byteSliceEqual(got, want) {
		t.Fatalf("header layout mismatch:\n got=%v\nwant=%v", got, want)
	}

	back := unmarshalHeader(got)
	if back != h {
		t.Fatalf("unmarshal did not round-trip: got=%+v want=%+v", back, h)
	}
}

func TestEncodeDecodeIdentity(t *testing.T) {
	p := Packet{
		Header: Header{
			Version:     ProtocolVersion,
			Type:        TypeData,
			TTL:         5,
			Source:      1,
			Destination: 2,
			NetworkID:   0x1234,
		},
		Payload: []byte("hi"),
	}

	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := p.Header
	want.PayloadLen = 2
	if got.Header != want || string(got.Payload) != "hi" {
		t.Fatalf("decoded packet mismatch: got=%+v want header=%+v", got, want)
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion, Type: TypeData}, Payload: []byte("x")}
	frame, _ := Encode(p)
	frame[len(frame)-1] ^= 0xFF

	if _, err := Decode(frame); err != ErrBadCRC {
		t.Fatalf("expected ErrBadCRC, got %v", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion, Type: TypeData}, Payload: []byte("hello")}
	frame, _ := Encode(p)
	// Truncate the payload without recomputing PayloadLen or CRC.
	truncated := append(append([]byte{}, frame[:HeaderSize+2]...), frame[len(frame)-CRCSize:]...)

	if _, err := Decode(truncated); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion, Type: TypeData}}
	frame, _ := Encode(p)
	frame[0] = (frame[0] & 0xF0) | 0x0F // bogus version nibble

	if _, err := Decode(frame); err == nil {
		t.Fatalf("expected error for unknown version")
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion}, Payload: make([]byte, MaxPayload+1)}
	if _, err := Encode(p); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeZeroLengthPayload(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion, Type: TypeData}}
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", got.Payload)
	}
}

func TestEncodeMaxPayload(t *testing.T) {
	p := Packet{Header: Header{Version: ProtocolVersion, Type: TypeData}, Payload: make([]byte, MaxPayload)}
	if _, err := Encode(p); err != nil {
		t.Fatalf("Encode at MaxPayload should succeed: %v", err)
	}
}
