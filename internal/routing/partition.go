package routing

import "github.com/IceNet-01/LNK-22-sub000/internal/meshproto"

// AggressiveDiscoveryAction describes the immediate-beacon /
// re-resolve-all work the engine must perform after a partition is
// detected (spec §4.6 "Partition detection").
type AggressiveDiscoveryAction struct {
	Triggered        bool
	Redestinations   []meshproto.Address
	PartitionEventNo uint64
}

// ObserveTopologyHash compares a peer-reported topology hash (carried on
// HELLO/BEACON) against our own local hash. Three consecutive divergent
// observations trip aggressive-discovery: every currently-known
// destination is returned for immediate re-resolution and the partition
// event counter increments once (spec §4.6). A matching observation
// resets the streak.
func (m *Manager) ObserveTopologyHash(localHash, peerHash uint32) AggressiveDiscoveryAction {
	m.localTopologyHash = localHash

	if localHash == peerHash {
		m.mismatchStreak = 0
		return AggressiveDiscoveryAction{}
	}

	m.mismatchStreak++
	if m.mismatchStreak < PartitionDetectThreshold {
		return AggressiveDiscoveryAction{}
	}

	m.mismatchStreak = 0
	m.partitionEvents++

	var dests []meshproto.Address
	for _, e := range m.routes.All() {
		if e.IsPrimary {
			dests = append(dests, e.Destination)
		}
	}

	return AggressiveDiscoveryAction{
		Triggered:        true,
		Redestinations:   dests,
		PartitionEventNo: m.partitionEvents,
	}
}
