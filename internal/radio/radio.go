// Package radio defines the physical-layer collaborator interface the
// protocol engine treats as external (spec §1, §6) and an in-memory
// simulation driver used by tests and internal/netsim. Grounded on
// arx-os-arxos's RadioInterface abstraction and the sx1276/nrf24
// register-constant style (see DESIGN.md); a real device would bind
// Driver to an SX127x/SX126x SPI driver instead.
package radio

import "time"

// Params are the LoRa-style PHY parameters (spec §6). Two conforming
// nodes must agree on all of these to interoperate; the protocol engine
// never changes them on its own initiative except to retune
// SpreadingFactor for adaptive range/rate trade-offs via SetParams.
type Params struct {
	CarrierHz      uint32 // 915_000_000 or regional equivalent
	BandwidthHz    uint32 // 125_000
	SpreadingFactor uint8  // 7-12, default 10
	CodingRate     uint8  // 4/5 encoded as 5
	ExplicitHeader bool
	CRCEnabled     bool
	SyncWord       uint8 // 0x12
	PreambleLen    uint16
	TxPowerDbm     int8 // up to 22
}

// DefaultParams matches spec §6's bit-exact interop defaults.
func DefaultParams() Params {
	return Params{
		CarrierHz:       915_000_000,
		BandwidthHz:     125_000,
		SpreadingFactor: 10,
		CodingRate:      5,
		ExplicitHeader:  true,
		CRCEnabled:      true,
		SyncWord:        0x12,
		PreambleLen:     8,
		TxPowerDbm:      22,
	}
}

// RxFrame is a received raw frame plus its signal-quality sidecar,
// exactly the out-of-scope contract of spec §1
// (`rx_poll() -> Option<(bytes, rssi, snr)>`).
type RxFrame struct {
	Data []byte
	RSSI int16 // dBm
	SNR  float32 // dB
}

// Driver is the narrow physical-layer contract (spec §1): tx, a
// non-blocking rx poll, and param configuration. The engine's ISR-side
// glue (see internal/engine) is the only caller.
type Driver interface {
	Tx(data []byte) error
	RxPoll() (RxFrame, bool)
	SetParams(p Params) error
	// ChannelBusy reports instantaneous channel energy above the
	// noise floor, used by carrier-sense backoff (spec §4.3).
	ChannelBusy() bool
}

// ensure interface satisfaction is checked at compile time for the sim driver.
var _ Driver = (*Simulated)(nil)

// Simulated is an in-memory Driver backed by a shared Medium, used by
// internal/netsim to wire up multiple simulated nodes that can hear
// each other without real hardware.
type Simulated struct {
	medium *Medium
	addr   uint32
	params Params
	inbox  chan RxFrame
}

// NewSimulated attaches a simulated radio for node addr to medium.
func NewSimulated(medium *Medium, addr uint32) *Simulated {
	s := &Simulated{medium: medium, addr: addr, params: DefaultParams(), inbox: make(chan RxFrame, 64)}
	medium.join(addr, s)
	return s
}

func (s *Simulated) Tx(data []byte) error {
	s.medium.broadcast(s.addr, data)
	return nil
}

func (s *Simulated) RxPoll() (RxFrame, bool) {
	select {
	case f := <-s.inbox:
		return f, true
	default:
		return RxFrame{}, false
	}
}

func (s *Simulated) SetParams(p Params) error {
	s.params = p
	return nil
}

func (s *Simulated) ChannelBusy() bool {
	return s.medium.busy(s.addr)
}

// Deliver injects data into this node's inbox as if it had just been
// received over the air, bypassing the medium's topology and loss
// model entirely. Used by tests that need to replay a genuine captured
// frame from outside the network's current connectivity, e.g. an
// attacker resending a packet it recorded earlier (spec §8 scenario 6).
func (s *Simulated) Deliver(data []byte) {
	s.deliver(RxFrame{Data: data})
}

func (s *Simulated) deliver(f RxFrame) {
	select {
	case s.inbox <- f:
	default:
		// Bounded inbox: a full queue drops the oldest-incoming frame,
		// mirroring the bounded radio-ISR queue of spec §4.8/§5 rather
		// than blocking the (simulated) ISR.
	}
}

// Link describes a lossy/delayed path between two simulated nodes, used
// by internal/netsim to model partial connectivity and partitions.
type Link struct {
	LossProbability float64
	Latency         time.Duration
	RSSI            int16
	SNR             float32
}
