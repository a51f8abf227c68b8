package routing

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// ForwardDecisionKind classifies what the engine should do with a
// received packet not destined locally (spec §4.6 "Forwarding decision").
type ForwardDecisionKind uint8

const (
	ForwardDrop ForwardDecisionKind = iota
	ForwardRetransmit
	ForwardBufferAndDiscover
	ForwardBroadcast
)

// ForwardDecision is the result of DecideForward.
type ForwardDecision struct {
	Kind   ForwardDecisionKind
	Header meshproto.Header // TTL decremented, next_hop rewritten where applicable
}

// DecideForward implements spec §4.6's forwarding decision for a packet
// whose destination is not this node. Broadcasts are forwarded without a
// routing lookup if not already seen and TTL>0; unicasts consult the
// route table and either get their next_hop rewritten for retransmission
// or are parked for on-demand discovery.
func (m *Manager) DecideForward(hdr meshproto.Header, alreadySeen bool) ForwardDecision {
	if hdr.TTL == 0 {
		return ForwardDecision{Kind: ForwardDrop}
	}

	decremented := hdr
	decremented.TTL--
	decremented.HopCount++

	if hdr.Destination.IsBroadcast() {
		if alreadySeen {
			return ForwardDecision{Kind: ForwardDrop}
		}
		return ForwardDecision{Kind: ForwardBroadcast, Header: decremented}
	}

	entry, ok := m.routes.FindRoute(hdr.Destination)
	if !ok {
		return ForwardDecision{Kind: ForwardBufferAndDiscover, Header: decremented}
	}

	decremented.NextHop = entry.NextHop
	return ForwardDecision{Kind: ForwardRetransmit, Header: decremented}
}

// RefreshCandidates returns destinations whose primary route is aging
// or stale and should be probed with a HELLO before they expire
// (spec §4.6 "Proactive maintenance").
func (m *Manager) RefreshCandidates(now time.Time) []meshproto.Address {
	return m.routes.StaleDestinations(now)
}
