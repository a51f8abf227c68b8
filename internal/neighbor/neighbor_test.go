package neighbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

func TestObserveCreatesAndUpdates(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	isNew := tbl.Observe(1, now, -60, 5)
	assert.True(t, isNew)

	isNew = tbl.Observe(1, now.Add(time.Second), -60, 5)
	assert.False(t, isNew)

	e, ok := tbl.Get(1)
	require.True(t, ok)
	assert.EqualValues(t, 2, e.PacketCount)
}

func TestInvariantLastHeardWithinTimeout(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Observe(1, now, -60, 5)

	var evicted meshproto.Address
	tbl.ScavengeExpired(now.Add(NeighborTimeout+time.Second), func(a meshproto.Address) {
		evicted = a
	})

	_, ok := tbl.Get(1)
	assert.False(t, ok)
	assert.EqualValues(t, 1, evicted)
}

func TestScavengeKeepsFreshEntries(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Observe(1, now, -60, 5)

	tbl.ScavengeExpired(now.Add(NeighborTimeout-time.Second), nil)

	_, ok := tbl.Get(1)
	assert.True(t, ok)
}

func TestTopologyHashStableAndOrderIndependent(t *testing.T) {
	a := NewTable()
	b := NewTable()
	now := time.Now()

	a.Observe(1, now, -60, 5)
	a.Observe(2, now, -60, 5)

	b.Observe(2, now, -60, 5)
	b.Observe(1, now, -60, 5)

	assert.Equal(t, a.TopologyHash(), b.TopologyHash())
}

func TestTopologyHashChangesWithMembership(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	h1 := tbl.TopologyHash()

	tbl.Observe(1, now, -60, 5)
	h2 := tbl.TopologyHash()

	assert.NotEqual(t, h1, h2)
}

func TestLinkQualityHigherSNRScoresHigher(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Observe(1, now, -80, -10)
	e1, _ := tbl.Get(1)

	tbl2 := NewTable()
	tbl2.Observe(1, now, -80, 8)
	e2, _ := tbl2.Get(1)

	assert.Greater(t, e2.LinkQuality, e1.LinkQuality)
}

func TestMaxNeighborsEvictsStalest(t *testing.T) {
	tbl := NewTable()
	base := time.Now()
	for i := 0; i < MaxNeighbors; i++ {
		tbl.Observe(meshproto.Address(i+1), base.Add(time.Duration(i)*time.Millisecond), -60, 5)
	}
	require.Equal(t, MaxNeighbors, tbl.Len())

	tbl.Observe(meshproto.Address(999), base.Add(time.Hour), -60, 5)
	assert.Equal(t, MaxNeighbors, tbl.Len())
	_, ok := tbl.Get(1) // the stalest (earliest LastHeard) should be gone
	assert.False(t, ok)
}
