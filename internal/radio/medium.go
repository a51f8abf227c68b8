package radio

import (
	"math/rand"
	"sync"
)

type simReceiver interface {
	deliver(RxFrame)
}

// Medium is a shared in-memory radio medium for simulated nodes: it
// models point-to-point links (loss, latency, RSSI/SNR) rather than a
// single shared collision domain, since the spec's MAC already handles
// collision avoidance and the interesting test scenarios (spec §8) are
// about topology (who can hear whom), not PHY-level collision modeling.
type Medium struct {
	mu        sync.Mutex
	nodes     map[uint32]simReceiver
	links     map[[2]uint32]Link
	rng       *rand.Rand
	busyMap   map[uint32]bool
	dropNext  map[uint32]int
	lastFrame map[uint32][]byte
}

// NewMedium returns an empty medium seeded for deterministic simulation.
func NewMedium(seed int64) *Medium {
	return &Medium{
		nodes:     make(map[uint32]simReceiver),
		links:     make(map[[2]uint32]Link),
		rng:       rand.New(rand.NewSource(seed)),
		busyMap:   make(map[uint32]bool),
		dropNext:  make(map[uint32]int),
		lastFrame: make(map[uint32][]byte),
	}
}

func (m *Medium) join(addr uint32, r simReceiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[addr] = r
}

// SetLink makes a and b able to hear each other with the given
// characteristics. Links are symmetric for simplicity.
func (m *Medium) SetLink(a, b uint32, link Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]uint32{a, b}] = link
	m.links[[2]uint32{b, a}] = link
}

// RemoveLink severs connectivity between a and b, simulating a severed
// link or a node moving out of range (spec §8 scenario 4/5).
func (m *Medium) RemoveLink(a, b uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, [2]uint32{a, b})
	delete(m.links, [2]uint32{b, a})
}

func (m *Medium) broadcast(from uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastFrame[from] = append([]byte(nil), data...)

	if m.dropNext[from] > 0 {
		m.dropNext[from]--
		return
	}

	for to, recv := range m.nodes {
		if to == from {
			continue
		}
		link, ok := m.links[[2]uint32{from, to}]
		if !ok {
			continue
		}
		if link.LossProbability > 0 && m.rng.Float64() < link.LossProbability {
			continue
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		recv.deliver(RxFrame{Data: frame, RSSI: link.RSSI, SNR: link.SNR})
	}
}

func (m *Medium) busy(addr uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyMap[addr]
}

// SetBusy lets a test force a node's channel-busy state, for exercising
// MAC carrier-sense backoff deterministically.
func (m *Medium) SetBusy(addr uint32, busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busyMap[addr] = busy
}

// DropNext discards the next n frames addr transmits entirely (no
// recipient hears them), a deterministic stand-in for a transient loss
// like a single missed ACK (spec §8 scenario 3), without relying on a
// randomized loss draw to land where a test needs it to.
func (m *Medium) DropNext(addr uint32, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropNext[addr] = n
}

// LastFrame returns the most recent frame addr transmitted, for tests
// that need to capture and later replay a real on-wire frame (spec §8
// scenario 6).
func (m *Medium) LastFrame(addr uint32) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.lastFrame[addr]
	return f, ok
}
