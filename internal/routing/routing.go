// Package routing implements the on-demand distance-vector discovery
// protocol, forwarding decisions, and partition detection of spec §4.6.
package routing

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/neighbor"
	"github.com/IceNet-01/LNK-22-sub000/internal/route"
)

// DefaultTTL is the TTL a newly originated packet starts with. The spec
// leaves the exact hop budget unstated (Open Question); 8 covers the
// largest diameter a single-channel LoRa mesh is expected to need before
// partitioning is preferable to routing through it (DESIGN.md,
// open-question decision 4).
const DefaultTTL = 8

// PartitionDetectThreshold is the number of consecutive diverging
// topology-hash comparisons that trigger aggressive-discovery (spec §4.6).
const PartitionDetectThreshold = 3

// DiscoveryBufferTTL bounds how long an application packet waits for a
// ROUTE_REP before the send fails (spec §4.6: "buffer briefly").
const DiscoveryBufferTTL = 5 * time.Second

// SeenRequestCacheSize and SeenRequestTimeout bound the (origin,
// request_id) loop-suppression cache (spec §4.6).
const (
	SeenRequestCacheSize = 48
	SeenRequestTimeout   = 30 * time.Second
)

// ActionKind classifies what the engine should do with a routing
// decision's output frame, if any.
type ActionKind uint8

const (
	// ActionNone means nothing further to transmit.
	ActionNone ActionKind = iota
	// ActionSend means Header/Payload should be encoded and handed to
	// the transport/MAC layer for transmission (unicast or broadcast,
	// per Header.Destination).
	ActionSend
	// ActionDeliverLocal means Payload is destined for this node's
	// application layer (used for buffered-packet release on ROUTE_REP).
	ActionDeliverLocal
)

// Action is one output of a routing decision.
type Action struct {
	Kind    ActionKind
	Header  meshproto.Header
	Payload []byte
}

// PendingPacket is an application payload buffered while a route is
// being discovered (spec §4.6 "buffer briefly and issue ROUTE_REQ").
type PendingPacket struct {
	Destination meshproto.Address
	Payload     []byte
	AckRequired bool
	Channel     uint8
	Queued      time.Time
}

// Manager owns the discovery state machine, the seen-request cache, the
// buffered-packet queue, and partition detection. Mutated only from the
// engine loop (spec §5).
type Manager struct {
	Self meshproto.Address

	neighbors *neighbor.Table
	routes    *route.Table

	nextRequestID uint16
	seenRequests  *seenRequestCache

	pending map[meshproto.Address][]PendingPacket

	localTopologyHash uint32
	mismatchStreak    int
	partitionEvents   uint64
}

func NewManager(self meshproto.Address, neighbors *neighbor.Table, routes *route.Table) *Manager {
	return &Manager{
		Self:         self,
		neighbors:    neighbors,
		routes:       routes,
		seenRequests: newSeenRequestCache(),
		pending:      make(map[meshproto.Address][]PendingPacket),
	}
}

// PartitionEvents returns the lifetime count of detected partition
// events, for diagnostics (spec §4.6, §7 `status`).
func (m *Manager) PartitionEvents() uint64 { return m.partitionEvents }

// allocateRequestID returns the next request ID for a ROUTE_REQ this
// node originates. 16-bit, wraps; loop suppression is scoped to
// (origin, request_id) so wraparound collisions require churning
// through 65536 outstanding requests from the same origin, which the
// seen-cache's 30s timeout makes practically impossible.
func (m *Manager) allocateRequestID() uint16 {
	id := m.nextRequestID
	m.nextRequestID++
	return id
}
