package meshproto

import (
	"encoding/binary"
	"errors"
)

// ErrShortPayload is returned by the typed-payload parsers when the
// decrypted body is too short for the type it claims to be.
var ErrShortPayload = errors.New("meshproto: payload too short for type")

// AckPayload is the body of a TypeAck packet (spec §4.7).
type AckPayload struct {
	AckedPacketID uint16
	Responder     Address
}

func (a AckPayload) Marshal() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], a.AckedPacketID)
	binary.LittleEndian.PutUint32(b[2:6], uint32(a.Responder))
	return b
}

func ParseAck(b []byte) (AckPayload, error) {
	if len(b) < 6 {
		return AckPayload{}, ErrShortPayload
	}
	return AckPayload{
		AckedPacketID: binary.LittleEndian.Uint16(b[0:2]),
		Responder:     Address(binary.LittleEndian.Uint32(b[2:6])),
	}, nil
}

// RouteReqPayload is the body of a TypeRouteReq packet (spec §4.6).
type RouteReqPayload struct {
	Origin      Address
	Destination Address
	RequestID   uint16
}

func (r RouteReqPayload) Marshal() []byte {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Origin))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Destination))
	binary.LittleEndian.PutUint16(b[8:10], r.RequestID)
	return b
}

func ParseRouteReq(b []byte) (RouteReqPayload, error) {
	if len(b) < 10 {
		return RouteReqPayload{}, ErrShortPayload
	}
	return RouteReqPayload{
		Origin:      Address(binary.LittleEndian.Uint32(b[0:4])),
		Destination: Address(binary.LittleEndian.Uint32(b[4:8])),
		RequestID:   binary.LittleEndian.Uint16(b[8:10]),
	}, nil
}

// RouteRepPayload is the body of a TypeRouteRep packet.
type RouteRepPayload struct {
	Origin      Address
	Destination Address
	RequestID   uint16
	HopCount    uint8
	Quality     uint8
}

func (r RouteRepPayload) Marshal() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Origin))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Destination))
	binary.LittleEndian.PutUint16(b[8:10], r.RequestID)
	b[10] = r.HopCount
	b[11] = r.Quality
	return b
}

func ParseRouteRep(b []byte) (RouteRepPayload, error) {
	if len(b) < 12 {
		return RouteRepPayload{}, ErrShortPayload
	}
	return RouteRepPayload{
		Origin:      Address(binary.LittleEndian.Uint32(b[0:4])),
		Destination: Address(binary.LittleEndian.Uint32(b[4:8])),
		RequestID:   binary.LittleEndian.Uint16(b[8:10]),
		HopCount:    b[10],
		Quality:     b[11],
	}, nil
}

// RouteErrPayload is the body of a TypeRouteErr packet: the set of
// destinations that became unreachable through the failed link,
// followed by the address of the failed neighbor itself.
type RouteErrPayload struct {
	FailedNeighbor   Address
	Unreachable      []Address
}

func (r RouteErrPayload) Marshal() []byte {
	b := make([]byte, 4+1+4*len(r.Unreachable))
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.FailedNeighbor))
	b[4] = uint8(len(r.Unreachable))
	off := 5
	for _, a := range r.Unreachable {
		binary.LittleEndian.PutUint32(b[off:off+4], uint32(a))
		off += 4
	}
	return b
}

func ParseRouteErr(b []byte) (RouteErrPayload, error) {
	if len(b) < 5 {
		return RouteErrPayload{}, ErrShortPayload
	}
	n := int(b[4])
	if len(b) < 5+4*n {
		return RouteErrPayload{}, ErrShortPayload
	}
	out := RouteErrPayload{FailedNeighbor: Address(binary.LittleEndian.Uint32(b[0:4]))}
	off := 5
	for i := 0; i < n; i++ {
		out.Unreachable = append(out.Unreachable, Address(binary.LittleEndian.Uint32(b[off:off+4])))
		off += 4
	}
	return out, nil
}

// HelloPayload is the body of a TypeHello packet (spec §4.4): carries
// the sender's topology hash and neighbor count, plus a Refresh flag
// set on the engine's route-refresh HELLOs. The engine's receive path
// reads only the topology hash; Refresh triggers no reply.
type HelloPayload struct {
	TopologyHash  uint32
	NeighborCount uint8
	Refresh       bool
}

func (h HelloPayload) Marshal() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint32(b[0:4], h.TopologyHash)
	b[4] = h.NeighborCount
	if h.Refresh {
		b[5] = 1
	}
	return b
}

func ParseHello(b []byte) (HelloPayload, error) {
	if len(b) < 6 {
		return HelloPayload{}, ErrShortPayload
	}
	return HelloPayload{
		TopologyHash:  binary.LittleEndian.Uint32(b[0:4]),
		NeighborCount: b[4],
		Refresh:       b[5] != 0,
	}, nil
}

// BeaconPayload announces node presence and battery status (spec §3
// supplement, SPEC_FULL §3).
type BeaconPayload struct {
	TopologyHash    uint32
	NeighborCount   uint8
	BatteryMillivolts uint16
}

func (b BeaconPayload) Marshal() []byte {
	out := make([]byte, 7)
	binary.LittleEndian.PutUint32(out[0:4], b.TopologyHash)
	out[4] = b.NeighborCount
	binary.LittleEndian.PutUint16(out[5:7], b.BatteryMillivolts)
	return out
}

func ParseBeacon(b []byte) (BeaconPayload, error) {
	if len(b) < 7 {
		return BeaconPayload{}, ErrShortPayload
	}
	return BeaconPayload{
		TopologyHash:      binary.LittleEndian.Uint32(b[0:4]),
		NeighborCount:     b[4],
		BatteryMillivolts: binary.LittleEndian.Uint16(b[5:7]),
	}, nil
}

// TelemetryPayload reports node health (SPEC_FULL §3).
type TelemetryPayload struct {
	BatteryMillivolts uint16
	UptimeSeconds     uint32
	FreeRoutes        uint8
	FreeTxSlots       uint8
}

func (t TelemetryPayload) Marshal() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], t.BatteryMillivolts)
	binary.LittleEndian.PutUint32(b[2:6], t.UptimeSeconds)
	b[6] = t.FreeRoutes
	b[7] = t.FreeTxSlots
	return b
}

func ParseTelemetry(b []byte) (TelemetryPayload, error) {
	if len(b) < 8 {
		return TelemetryPayload{}, ErrShortPayload
	}
	return TelemetryPayload{
		BatteryMillivolts: binary.LittleEndian.Uint16(b[0:2]),
		UptimeSeconds:     binary.LittleEndian.Uint32(b[2:6]),
		FreeRoutes:        b[6],
		FreeTxSlots:       b[7],
	}, nil
}

// TimeSyncPayload propagates a time source's stratum/quality for the
// MAC's election (spec §4.3, SPEC_FULL §3).
type TimeSyncPayload struct {
	Stratum      uint8
	Quality      uint8
	SourceTag    uint8
	EpochSeconds uint64
	EpochMillis  uint16
}

func (t TimeSyncPayload) Marshal() []byte {
	b := make([]byte, 13)
	b[0] = t.Stratum
	b[1] = t.Quality
	b[2] = t.SourceTag
	binary.LittleEndian.PutUint64(b[3:11], t.EpochSeconds)
	binary.LittleEndian.PutUint16(b[11:13], t.EpochMillis)
	return b
}

func ParseTimeSync(b []byte) (TimeSyncPayload, error) {
	if len(b) < 13 {
		return TimeSyncPayload{}, ErrShortPayload
	}
	return TimeSyncPayload{
		Stratum:      b[0],
		Quality:      b[1],
		SourceTag:    b[2],
		EpochSeconds: binary.LittleEndian.Uint64(b[3:11]),
		EpochMillis:  binary.LittleEndian.Uint16(b[11:13]),
	}, nil
}
