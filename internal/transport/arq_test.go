package transport

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

func TestSendEnforcesWindow(t *testing.T) {
	m := NewManager(rand.New(rand.NewSource(1)))
	now := time.Now()

	for i := 0; i < TxWindowSize; i++ {
		_, err := m.Send(meshproto.Address(2), uint16(i), []byte("f"), now)
		require.NoError(t, err)
	}

	_, err := m.Send(meshproto.Address(2), uint16(99), []byte("f"), now)
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestAckReleasesSlotAndSamplesRTT(t *testing.T) {
	m := NewManager(rand.New(rand.NewSource(1)))
	now := time.Now()

	_, err := m.Send(meshproto.Address(2), 5, []byte("f"), now)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Outstanding(meshproto.Address(2)))

	slot, ok := m.Ack(5, now.Add(50*time.Millisecond))
	require.True(t, ok)
	assert.EqualValues(t, 5, slot.PacketID)
	assert.Equal(t, 0, m.Outstanding(meshproto.Address(2)))
	assert.EqualValues(t, 1, m.Estimator(meshproto.Address(2)).SampleCount())
}

func TestAckUnknownPacketIsNoop(t *testing.T) {
	m := NewManager(nil)
	_, ok := m.Ack(123, time.Now())
	assert.False(t, ok)
}

func TestKarnsRuleSkipsSampleAfterRetry(t *testing.T) {
	m := NewManager(rand.New(rand.NewSource(1)))
	now := time.Now()

	_, err := m.Send(meshproto.Address(2), 5, []byte("f"), now)
	require.NoError(t, err)

	result, retried := m.CheckTimeout(5, now.Add(DefaultRTO+time.Second))
	require.True(t, retried)
	assert.True(t, result.ShouldSend)
	assert.EqualValues(t, 1, result.Slot.Retries)

	_, ok := m.Ack(5, now.Add(DefaultRTO+2*time.Second))
	require.True(t, ok)
	assert.EqualValues(t, 0, m.Estimator(meshproto.Address(2)).SampleCount(), "retried packet must not pollute RTT estimate")
}

func TestRetryTimeoutDoublesAndCapsAtMaxRTO(t *testing.T) {
	m := NewManager(rand.New(rand.NewSource(1)))
	now := time.Now()
	_, err := m.Send(meshproto.Address(2), 5, []byte("f"), now)
	require.NoError(t, err)

	prev := DefaultRTO
	for i := 0; i < MaxRetries; i++ {
		result, ok := m.CheckTimeout(5, now.Add(prev+time.Minute))
		require.True(t, ok)
		assert.True(t, result.ShouldSend)
		assert.GreaterOrEqual(t, result.Slot.Timeout, prev*2-RetryJitterMax)
		assert.LessOrEqual(t, result.Slot.Timeout, maxDuration(prev*2, MaxRTO)+RetryJitterMax)
		prev = result.Slot.Timeout
		now = result.Slot.LastSent
	}

	result, ok := m.CheckTimeout(5, now.Add(prev+time.Minute))
	require.True(t, ok)
	assert.True(t, result.Failed)
	assert.False(t, result.ShouldSend)
	assert.Equal(t, 0, m.Outstanding(meshproto.Address(2)))
}

func TestCheckTimeoutBeforeDeadlineIsNoop(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	_, err := m.Send(meshproto.Address(2), 5, []byte("f"), now)
	require.NoError(t, err)

	_, fired := m.CheckTimeout(5, now.Add(time.Millisecond))
	assert.False(t, fired)
}

func TestSeenCacheDetectsDuplicateWithinTimeout(t *testing.T) {
	c := NewSeenCache()
	now := time.Now()
	src := meshproto.Address(7)

	assert.False(t, c.Seen(src, 1, now))
	c.Record(src, 1, now)
	assert.True(t, c.Seen(src, 1, now.Add(time.Second)))
	assert.False(t, c.Seen(src, 1, now.Add(SeenPacketTimeout+time.Second)))
}

func TestSeenCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewSeenCache()
	now := time.Now()
	src := meshproto.Address(7)

	for i := 0; i < SeenPacketCache; i++ {
		c.Record(src, uint16(i), now)
	}
	assert.True(t, c.Seen(src, 0, now))

	c.Record(src, uint16(SeenPacketCache), now)
	assert.False(t, c.Seen(src, 0, now), "oldest entry should have been evicted")
	assert.True(t, c.Seen(src, uint16(SeenPacketCache), now))
}

func TestRTOStartsAtDefault(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, DefaultRTO, e.RTO())
}

func TestRTOConvergesTowardStableRTT(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < 20; i++ {
		e.Sample(100 * time.Millisecond)
	}
	assert.InDelta(t, float64(100*time.Millisecond), float64(e.SmoothedRTT()), float64(5*time.Millisecond))
	assert.GreaterOrEqual(t, e.RTO(), DefaultRTO, "RTO never drops below the floor")
}

func TestRTOClampedToMaxRTO(t *testing.T) {
	e := NewEstimator()
	e.Sample(10 * time.Second)
	for i := 0; i < 5; i++ {
		e.Sample(10*time.Second + time.Duration(i)*5*time.Second)
	}
	assert.LessOrEqual(t, e.RTO(), MaxRTO)
}
