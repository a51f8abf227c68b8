// Package neighbor implements the direct-peer liveness table of spec
// §4.4: last-heard tracking, EWMA link quality, topology hashing, and
// timeout eviction.
package neighbor

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// NeighborTimeout is the liveness window: an entry exists iff a packet
// from that address has been received within this duration (spec §3).
const NeighborTimeout = 60 * time.Second

// TopologyBroadcastInterval governs how often HELLO carries the
// topology hash (spec §4.4).
const TopologyBroadcastInterval = 60 * time.Second

// MaxNeighbors bounds directly observed peers (spec §1 Non-goals).
const MaxNeighbors = 64

// Entry is one direct neighbor (spec §3).
type Entry struct {
	Address          meshproto.Address
	LastHeard        time.Time
	PacketCount      uint64
	LastRSSI         int16
	LastSNR          float32
	LinkQuality      uint8 // 0-255 EWMA of SNR/RSSI-derived score
	TopologyCompared bool
}

// ewmaAlpha weights new samples against history for link quality.
const ewmaAlpha = 0.25

// Table owns the neighbor set. Mutated only from the engine loop (spec §5).
type Table struct {
	entries map[meshproto.Address]*Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[meshproto.Address]*Entry)}
}

// EvictedListener is notified when a neighbor times out, so the caller
// (the engine, via the routing component) can invalidate routes through
// it and broadcast ROUTE_ERR (spec §4.4).
type EvictedListener func(addr meshproto.Address)

// Observe records evidence of liveness from a correctly decrypted frame
// (spec §4.4): updates last_heard, increments packet_count, and folds
// RSSI/SNR into the EWMA link-quality score. Returns true if this is a
// newly-seen neighbor.
func (t *Table) Observe(addr meshproto.Address, now time.Time, rssi int16, snr float32) bool {
	isNew := false
	e, ok := t.entries[addr]
	if !ok {
		if len(t.entries) >= MaxNeighbors {
			t.evictWorst()
		}
		e = &Entry{Address: addr}
		t.entries[addr] = e
		isNew = true
	}

	e.LastHeard = now
	e.PacketCount++
	e.LastRSSI = rssi
	e.LastSNR = snr

	sample := qualityFromSignal(rssi, snr)
	if isNew {
		e.LinkQuality = sample
	} else {
		e.LinkQuality = uint8(float64(e.LinkQuality)*(1-ewmaAlpha) + float64(sample)*ewmaAlpha)
	}

	return isNew
}

// qualityFromSignal maps RSSI/SNR to a 0-255 score via a simple
// piecewise-linear mapping (spec §4.4): SNR dominates (it is the
// better LoRa link indicator), RSSI nudges within a band.
func qualityFromSignal(rssi int16, snr float32) uint8 {
	// SNR observed range for LoRa is roughly -20dB (unusable) to +10dB
	// (excellent); map linearly to 0-200.
	snrScore := (float64(snr) + 20) / 30 * 200
	if snrScore < 0 {
		snrScore = 0
	}
	if snrScore > 200 {
		snrScore = 200
	}

	// RSSI observed range roughly -130dBm (floor) to -40dBm (very close);
	// map linearly to 0-55, added as a smaller contribution.
	rssiScore := (float64(rssi) + 130) / 90 * 55
	if rssiScore < 0 {
		rssiScore = 0
	}
	if rssiScore > 55 {
		rssiScore = 55
	}

	total := snrScore + rssiScore
	if total > 255 {
		total = 255
	}
	return uint8(total)
}

// evictWorst drops the stalest neighbor to make room under MaxNeighbors.
func (t *Table) evictWorst() {
	var worst meshproto.Address
	var worstTime time.Time
	first := true
	for addr, e := range t.entries {
		if first || e.LastHeard.Before(worstTime) {
			worst = addr
			worstTime = e.LastHeard
			first = false
		}
	}
	if !first {
		delete(t.entries, worst)
	}
}

// ScavengeExpired evicts entries whose last_heard predates
// now-NeighborTimeout, invoking onEvict for each (spec §4.4).
func (t *Table) ScavengeExpired(now time.Time, onEvict EvictedListener) {
	for addr, e := range t.entries {
		if now.Sub(e.LastHeard) > NeighborTimeout {
			delete(t.entries, addr)
			if onEvict != nil {
				onEvict(addr)
			}
		}
	}
}

// Get returns the entry for addr, if present.
func (t *Table) Get(addr meshproto.Address) (Entry, bool) {
	e, ok := t.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of live neighbors.
func (t *Table) Len() int { return len(t.entries) }

// All returns a stable-ordered snapshot of all neighbors, for display
// (`neighbors` console command) and iteration.
func (t *Table) All() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// TopologyHash computes FNV-1a over the sorted list of current neighbor
// addresses (spec §4.4).
func (t *Table) TopologyHash() uint32 {
	addrs := make([]meshproto.Address, 0, len(t.entries))
	for a := range t.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	h := fnv.New32a()
	b := make([]byte, 4)
	for _, a := range addrs {
		b[0] = byte(a)
		b[1] = byte(a >> 8)
		b[2] = byte(a >> 16)
		b[3] = byte(a >> 24)
		h.Write(b)
	}
	return h.Sum32()
}
