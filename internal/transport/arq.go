// Package transport implements per-destination reliable delivery: the
// pending-ACK window, adaptive retransmission, RTT estimation, and
// duplicate suppression of spec §4.7.
package transport

import (
	"errors"
	"math/rand"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// TxWindowSize bounds outstanding ACK-required packets per sender
// (spec §3).
const TxWindowSize = 4

// MaxRetries bounds retransmission attempts before the packet fails
// (spec §4.7).
const MaxRetries = 3

// RetryJitterMax is the upper bound of the uniform random jitter added
// to each retry (spec §4.7).
const RetryJitterMax = 500 * time.Millisecond

// ErrBackpressure is returned when the TX window is full (spec §4.7, §7).
var ErrBackpressure = errors.New("transport: tx window full")

// PendingSlot tracks one outstanding ACK-required packet (spec §3).
type PendingSlot struct {
	Destination meshproto.Address
	PacketID    uint16
	Frame       []byte // the exact on-air frame to retransmit
	FirstSent   time.Time
	LastSent    time.Time
	Retries     int
	Timeout     time.Duration
	retriedOnce bool
}

// DeadlineAt returns when this slot's current timeout expires.
func (s PendingSlot) DeadlineAt() time.Time {
	return s.LastSent.Add(s.Timeout)
}

// Manager owns pending ACK slots and per-destination RTT estimators.
// Mutated only from the engine loop (spec §5).
type Manager struct {
	slots      map[uint16]*PendingSlot // keyed by packet ID; unicast IDs are per-sender unique
	byDest     map[meshproto.Address]int
	estimators map[meshproto.Address]*Estimator
	seen       *SeenCache
	rng        *rand.Rand
}

func NewManager(rng *rand.Rand) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Manager{
		slots:      make(map[uint16]*PendingSlot),
		byDest:     make(map[meshproto.Address]int),
		estimators: make(map[meshproto.Address]*Estimator),
		seen:       NewSeenCache(),
		rng:        rng,
	}
}

// Seen exposes the dedup cache for the engine's receive path.
func (m *Manager) Seen() *SeenCache { return m.seen }

// Estimator returns (creating if needed) the RTT estimator for dest.
func (m *Manager) Estimator(dest meshproto.Address) *Estimator {
	e, ok := m.estimators[dest]
	if !ok {
		e = NewEstimator()
		m.estimators[dest] = e
	}
	return e
}

// Outstanding returns the count of pending ACK slots for dest.
func (m *Manager) Outstanding(dest meshproto.Address) int {
	return m.byDest[dest]
}

// Send registers a newly-sent ACK-required packet, enforcing the global
// TX window (spec §4.7: "Sender enforces TX_WINDOW_SIZE ... outstanding
// ACK-required packets globally"). Broadcasts must not go through Send
// (they bypass the window per spec §4.7).
func (m *Manager) Send(dest meshproto.Address, packetID uint16, frame []byte, now time.Time) (*PendingSlot, error) {
	if len(m.slots) >= TxWindowSize {
		return nil, ErrBackpressure
	}

	slot := &PendingSlot{
		Destination: dest,
		PacketID:    packetID,
		Frame:       frame,
		FirstSent:   now,
		LastSent:    now,
		Timeout:     m.Estimator(dest).RTO(),
	}
	m.slots[packetID] = slot
	m.byDest[dest]++
	return slot, nil
}

// Ack processes a received ACK for packetID: if a matching pending slot
// exists, it is released, and (per Karn's rule) an RTT sample is taken
// only if the packet was never retransmitted. Returns the released slot
// and whether one was found.
func (m *Manager) Ack(packetID uint16, now time.Time) (PendingSlot, bool) {
	slot, ok := m.slots[packetID]
	if !ok {
		return PendingSlot{}, false
	}

	if !slot.retriedOnce {
		m.Estimator(slot.Destination).Sample(now.Sub(slot.FirstSent))
	}

	delete(m.slots, packetID)
	m.byDest[slot.Destination]--
	if m.byDest[slot.Destination] <= 0 {
		delete(m.byDest, slot.Destination)
	}
	return *slot, true
}

// RetryResult describes what the engine should do with a timed-out slot.
type RetryResult struct {
	Slot       PendingSlot
	ShouldSend bool // false once MaxRetries is exhausted: the packet has failed
	Failed     bool
}

// CheckTimeout evaluates one slot against now and, if its deadline has
// passed, either schedules the next retry (doubling the timeout, adding
// jitter, marking IS_RETRY) or fails it after MaxRetries (spec §4.7).
func (m *Manager) CheckTimeout(packetID uint16, now time.Time) (RetryResult, bool) {
	slot, ok := m.slots[packetID]
	if !ok {
		return RetryResult{}, false
	}
	if now.Before(slot.DeadlineAt()) {
		return RetryResult{}, false
	}

	if slot.Retries >= MaxRetries {
		delete(m.slots, packetID)
		m.byDest[slot.Destination]--
		if m.byDest[slot.Destination] <= 0 {
			delete(m.byDest, slot.Destination)
		}
		return RetryResult{Slot: *slot, Failed: true}, true
	}

	slot.Retries++
	slot.retriedOnce = true
	base := slot.Timeout * 2
	if base > MaxRTO {
		base = MaxRTO
	}
	slot.Timeout = base + retryJitter(m.rng)
	slot.LastSent = now
	return RetryResult{Slot: *slot, ShouldSend: true}, true
}

// PendingPacketIDs returns all packet IDs with an outstanding slot, for
// the engine's per-tick timeout scan.
func (m *Manager) PendingPacketIDs() []uint16 {
	out := make([]uint16, 0, len(m.slots))
	for id := range m.slots {
		out = append(out, id)
	}
	return out
}

// retryJitter draws the uniform [0, RetryJitterMax] jitter added to each
// retry timeout.
func retryJitter(rng *rand.Rand) time.Duration {
	return time.Duration(rng.Int63n(int64(RetryJitterMax) + 1))
}
