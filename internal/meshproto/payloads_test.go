package meshproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteReqRoundTrip(t *testing.T) {
	want := RouteReqPayload{Origin: 1, Destination: 3, RequestID: 0xABCD}
	got, err := ParseRouteReq(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRouteRepRoundTrip(t *testing.T) {
	want := RouteRepPayload{Origin: 1, Destination: 3, RequestID: 7, HopCount: 2, Quality: 200}
	got, err := ParseRouteRep(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRouteErrRoundTrip(t *testing.T) {
	want := RouteErrPayload{FailedNeighbor: 9, Unreachable: []Address{1, 2, 3}}
	got, err := ParseRouteErr(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRouteErrEmptyUnreachable(t *testing.T) {
	want := RouteErrPayload{FailedNeighbor: 9}
	got, err := ParseRouteErr(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want.FailedNeighbor, got.FailedNeighbor)
	assert.Empty(t, got.Unreachable)
}

func TestHelloRoundTrip(t *testing.T) {
	want := HelloPayload{TopologyHash: 0xCAFEBABE, NeighborCount: 4, Refresh: true}
	got, err := ParseHello(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBeaconRoundTrip(t *testing.T) {
	want := BeaconPayload{TopologyHash: 0x1, NeighborCount: 2, BatteryMillivolts: 3700}
	got, err := ParseBeacon(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTelemetryRoundTrip(t *testing.T) {
	want := TelemetryPayload{BatteryMillivolts: 4100, UptimeSeconds: 99999, FreeRoutes: 3, FreeTxSlots: 4}
	got, err := ParseTelemetry(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTimeSyncRoundTrip(t *testing.T) {
	want := TimeSyncPayload{Stratum: 3, Quality: 90, SourceTag: 3, EpochSeconds: 1735689600, EpochMillis: 250}
	got, err := ParseTimeSync(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAckRoundTrip(t *testing.T) {
	want := AckPayload{AckedPacketID: 0x4242, Responder: 7}
	got, err := ParseAck(want.Marshal())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestShortPayloadsRejected(t *testing.T) {
	_, err := ParseAck(nil)
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseRouteReq([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseRouteRep([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseRouteErr(nil)
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseHello([]byte{1})
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseBeacon([]byte{1})
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseTelemetry([]byte{1})
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseTimeSync([]byte{1})
	assert.ErrorIs(t, err, ErrShortPayload)
}
