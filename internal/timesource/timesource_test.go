package timesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBestPrefersLocalLock(t *testing.T) {
	m := NewMock()
	e := NewElection(m)
	now := time.Now()

	e.ObservePeer(2, 0, 100, TagSynced, now)
	stratum, _, tag, synced := e.Best(now)
	assert.Equal(t, uint8(0), stratum)
	assert.Equal(t, TagGPS, tag)
	assert.True(t, synced)
}

func TestBestFallsBackToPeer(t *testing.T) {
	m := NewMock()
	m.SetLocked(false)
	e := NewElection(m)
	now := time.Now()

	e.ObservePeer(2, 1, 90, TagNTP, now)
	stratum, quality, tag, synced := e.Best(now)
	assert.Equal(t, uint8(2), stratum) // peer stratum 1 + 1 hop
	assert.Equal(t, uint8(90), quality)
	assert.Equal(t, TagSynced, tag)
	assert.True(t, synced)
}

func TestBestDegradesWithNoSource(t *testing.T) {
	m := NewMock()
	m.SetLocked(false)
	e := NewElection(m)

	stratum, _, tag, synced := e.Best(time.Now())
	assert.Equal(t, MaxStratum, stratum)
	assert.Equal(t, TagCrystal, tag)
	assert.False(t, synced)
}

func TestBestIgnoresStalePeers(t *testing.T) {
	m := NewMock()
	m.SetLocked(false)
	e := NewElection(m)
	stale := time.Now().Add(-2 * SyncInterval)

	e.ObservePeer(2, 1, 90, TagNTP, stale)
	stratum, _, tag, synced := e.Best(time.Now())
	assert.Equal(t, MaxStratum, stratum)
	assert.Equal(t, TagCrystal, tag)
	assert.False(t, synced)
}

func TestBestTieBreaksOnQualityThenArrival(t *testing.T) {
	m := NewMock()
	m.SetLocked(false)
	e := NewElection(m)
	now := time.Now()

	e.ObservePeer(2, 1, 50, TagNTP, now)
	e.ObservePeer(3, 1, 90, TagNTP, now.Add(time.Second))
	_, quality, _, _ := e.Best(now.Add(2 * time.Second))
	assert.Equal(t, uint8(90), quality, "higher quality should win despite later arrival")
}

func TestPeerStratumCapsAtMax(t *testing.T) {
	m := NewMock()
	m.SetLocked(false)
	e := NewElection(m)
	now := time.Now()

	e.ObservePeer(2, MaxStratum-1, 10, TagSynced, now)
	stratum, _, _, synced := e.Best(now)
	assert.Equal(t, MaxStratum, stratum)
	assert.False(t, synced, "stratum >= MaxStratum disables synced mode")
}
