package netsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAddNodeRejectsDuplicateAddress(t *testing.T) {
	net := New(1, testEpoch)
	_, err := net.AddNode(1)
	require.NoError(t, err)
	_, err = net.AddNode(1)
	assert.Error(t, err)
}

func TestNodesShareProvisioningKeyByDefault(t *testing.T) {
	net := New(2, testEpoch)
	a, err := net.AddNode(1)
	require.NoError(t, err)
	b, err := net.AddNode(2)
	require.NoError(t, err)
	net.Link(1, 2, GoodLink())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Engine.Send(2, []byte("shared-key"), false, 0) }()
	net.Advance(2 * time.Second)
	require.NoError(t, <-errCh)

	deliveries := b.Deliveries()
	require.Len(t, deliveries, 1, "a default-provisioned node must be able to decrypt traffic from another default-provisioned node")
	assert.Equal(t, []byte("shared-key"), deliveries[0].Payload)
}

func TestWithOwnKeyNodeCannotDecryptNetworkTraffic(t *testing.T) {
	net := New(3, testEpoch)
	a, err := net.AddNode(1)
	require.NoError(t, err)
	rogue, err := net.AddNode(2, WithOwnKey())
	require.NoError(t, err)
	net.Link(1, 2, GoodLink())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Engine.Send(2, []byte("not-for-you"), false, 0) }()
	net.Advance(2 * time.Second)
	require.NoError(t, <-errCh)

	assert.Empty(t, rogue.Deliveries(), "a node with its own independently generated key must fail to authenticate the shared network's traffic")
}

func TestUnlinkSeversDelivery(t *testing.T) {
	net := New(4, testEpoch)
	a, err := net.AddNode(1)
	require.NoError(t, err)
	b, err := net.AddNode(2)
	require.NoError(t, err)
	net.Link(1, 2, GoodLink())
	net.Unlink(1, 2)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Engine.Broadcast([]byte("unreachable"), 0) }()
	net.Advance(2 * time.Second)
	require.NoError(t, <-errCh)

	assert.Empty(t, b.Deliveries(), "a broadcast must not cross a severed link")
}

func TestDropNextDiscardsExactlyOneFrame(t *testing.T) {
	net := New(5, testEpoch)
	a, err := net.AddNode(1)
	require.NoError(t, err)
	b, err := net.AddNode(2)
	require.NoError(t, err)
	net.Link(1, 2, GoodLink())

	net.DropNext(1, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Engine.Broadcast([]byte("first"), 0) }()
	net.Advance(1 * time.Second)
	require.NoError(t, <-errCh)
	assert.Empty(t, b.Deliveries(), "the armed drop must have discarded the first broadcast")

	errCh = make(chan error, 1)
	go func() { errCh <- a.Engine.Broadcast([]byte("second"), 0) }()
	net.Advance(1 * time.Second)
	require.NoError(t, <-errCh)
	deliveries := b.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, []byte("second"), deliveries[0].Payload)
}

func TestLastFrameCapturesMostRecentTransmission(t *testing.T) {
	net := New(6, testEpoch)
	a, err := net.AddNode(1)
	require.NoError(t, err)
	_, err = net.AddNode(2)
	require.NoError(t, err)
	net.Link(1, 2, GoodLink())

	_, ok := net.LastFrame(1)
	assert.False(t, ok, "a node that has not transmitted yet has no last frame")

	errCh := make(chan error, 1)
	go func() { errCh <- a.Engine.Broadcast([]byte("capture-me"), 0) }()
	net.Advance(1 * time.Second)
	require.NoError(t, <-errCh)

	frame, ok := net.LastFrame(1)
	require.True(t, ok)
	assert.NotEmpty(t, frame)
}
