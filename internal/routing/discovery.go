package routing

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/route"
)

// Resolve looks up the primary route to dest (spec §4.5 find_route).
func (m *Manager) Resolve(dest meshproto.Address) (route.Entry, bool) {
	return m.routes.FindRoute(dest)
}

// BeginDiscovery originates a ROUTE_REQ for dest (spec §4.6): allocates
// a request ID, marks it seen so our own rebroadcast-suppression logic
// also applies to us, and returns the broadcast action. The caller is
// responsible for buffering the triggering application packet via
// Buffer.
func (m *Manager) BeginDiscovery(dest meshproto.Address, now time.Time) Action {
	reqID := m.allocateRequestID()
	m.seenRequests.Record(uint32(m.Self), reqID, now)

	payload := meshproto.RouteReqPayload{
		Origin:      m.Self,
		Destination: dest,
		RequestID:   reqID,
	}

	hdr := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        meshproto.TypeRouteReq,
		TTL:         DefaultTTL,
		Source:      m.Self,
		Destination: meshproto.Broadcast,
		NextHop:     meshproto.Broadcast,
		HopCount:    0,
	}

	return Action{Kind: ActionSend, Header: hdr, Payload: payload.Marshal()}
}

// Buffer queues an application packet awaiting route resolution
// (spec §4.6).
func (m *Manager) Buffer(p PendingPacket) {
	m.pending[p.Destination] = append(m.pending[p.Destination], p)
}

// DrainPending removes and returns all packets buffered for dest, for
// release once a route arrives.
func (m *Manager) DrainPending(dest meshproto.Address) []PendingPacket {
	out := m.pending[dest]
	delete(m.pending, dest)
	return out
}

// ExpirePending drops buffered packets older than DiscoveryBufferTTL,
// returning how many were dropped per destination (for NoRoute
// surfacing to the application, spec §7).
func (m *Manager) ExpirePending(now time.Time) map[meshproto.Address]int {
	dropped := make(map[meshproto.Address]int)
	for dest, packets := range m.pending {
		kept := packets[:0:0]
		for _, p := range packets {
			if now.Sub(p.Queued) > DiscoveryBufferTTL {
				dropped[dest]++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(m.pending, dest)
		} else {
			m.pending[dest] = kept
		}
	}
	return dropped
}

// HandleRouteReq processes a received ROUTE_REQ (spec §4.6 "Discovery
// (request)"). via is the neighbor that delivered it, viaQuality its
// current link-quality score. Installs a reverse route toward the
// request's origin. If this node is the destination, or holds a fresh
// route to it, returns a unicast ROUTE_REP action; otherwise, if the
// pair has not been seen and TTL remains, returns a rebroadcast action
// with TTL decremented and hop count incremented. Otherwise returns
// ActionNone (drop).
func (m *Manager) HandleRouteReq(hdr meshproto.Header, req meshproto.RouteReqPayload, via meshproto.Address, viaQuality uint8, now time.Time) Action {
	if m.seenRequests.Seen(uint32(req.Origin), req.RequestID, now) {
		return Action{}
	}
	m.seenRequests.Record(uint32(req.Origin), req.RequestID, now)

	m.routes.AddRoute(req.Origin, via, hdr.HopCount+1, viaQuality, now)

	if m.Self == req.Destination {
		return m.replyRouteRep(req, via, now)
	}
	if entry, ok := m.routes.FindRoute(req.Destination); ok && entry.FreshnessAt(now) == route.Fresh {
		return m.replyRouteRep(req, via, now)
	}

	if hdr.TTL == 0 {
		return Action{}
	}

	// Source is re-stamped to this node, not left as the original
	// broadcaster's: the next hop's "via" on receipt is read straight off
	// Header.Source, the same way AODV's RREQ IP source is the previous
	// hop rather than the original requester (who travels in the payload
	// as Origin instead).
	fwdHdr := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        meshproto.TypeRouteReq,
		TTL:         hdr.TTL - 1,
		Source:      m.Self,
		Destination: meshproto.Broadcast,
		NextHop:     meshproto.Broadcast,
		HopCount:    hdr.HopCount + 1,
	}
	return Action{Kind: ActionSend, Header: fwdHdr, Payload: req.Marshal()}
}

// replyRouteRep builds the unicast ROUTE_REP back toward req.Origin,
// sent via the reverse route just installed (spec §4.6 "Discovery
// (reply)").
func (m *Manager) replyRouteRep(req meshproto.RouteReqPayload, nextHop meshproto.Address, now time.Time) Action {
	var hopCount, quality uint8
	if m.Self == req.Destination {
		hopCount, quality = 0, 255
	} else if entry, ok := m.routes.FindRoute(req.Destination); ok {
		hopCount, quality = entry.HopCount, entry.Quality
	}

	rep := meshproto.RouteRepPayload{
		Origin:      req.Origin,
		Destination: req.Destination,
		RequestID:   req.RequestID,
		HopCount:    hopCount,
		Quality:     quality,
	}

	hdr := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        meshproto.TypeRouteRep,
		TTL:         DefaultTTL,
		Source:      m.Self,
		Destination: req.Origin,
		NextHop:     nextHop,
		HopCount:    0,
	}
	return Action{Kind: ActionSend, Header: hdr, Payload: rep.Marshal()}
}

// HandleRouteRep processes a received ROUTE_REP (spec §4.6). Installs a
// forward route toward rep.Destination through via, using route.Table's
// score-based primary selection for the tie-break (higher score; ties
// broken by freshest arrival, which a later, equally-scored reply
// naturally wins). If this node is the original requester, returns
// ActionDeliverLocal actions for each buffered packet release (the
// caller re-sends them); otherwise forwards the reply on toward
// rep.Origin via the previously installed reverse route.
func (m *Manager) HandleRouteRep(hdr meshproto.Header, rep meshproto.RouteRepPayload, via meshproto.Address, viaQuality uint8, now time.Time) Action {
	hopCount := rep.HopCount + 1
	quality := combineQuality(rep.Quality, viaQuality)
	m.routes.AddRoute(rep.Destination, via, hopCount, quality, now)

	if m.Self == rep.Origin {
		return Action{}
	}

	reverse, ok := m.routes.FindRoute(rep.Origin)
	if !ok {
		return Action{}
	}

	fwdHdr := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        meshproto.TypeRouteRep,
		TTL:         hdr.TTL,
		Source:      m.Self,
		Destination: rep.Origin,
		NextHop:     reverse.NextHop,
		HopCount:    hopCount,
	}
	fwdRep := meshproto.RouteRepPayload{
		Origin:      rep.Origin,
		Destination: rep.Destination,
		RequestID:   rep.RequestID,
		HopCount:    hopCount,
		Quality:     quality,
	}
	return Action{Kind: ActionSend, Header: fwdHdr, Payload: fwdRep.Marshal()}
}

// combineQuality folds a reported upstream link quality with the
// quality of the hop that delivered it, so multi-hop routes reflect
// their weakest link rather than only the last one.
func combineQuality(reported, lastHop uint8) uint8 {
	if lastHop < reported {
		return lastHop
	}
	return reported
}

// HandleRouteErr processes a received ROUTE_ERR (spec §4.6 "Error").
// For each destination listed as unreachable, if our current primary
// route to it runs through the neighbor that sent us this ROUTE_ERR,
// we fail that route over to a backup if one exists, or leave the
// destination stale (next use re-triggers discovery).
func (m *Manager) HandleRouteErr(hdr meshproto.Header, errPayload meshproto.RouteErrPayload) {
	for _, dest := range errPayload.Unreachable {
		entry, ok := m.routes.FindRoute(dest)
		if !ok || entry.NextHop != hdr.Source {
			continue
		}
		m.routes.Failover(dest)
	}
}

// BuildRouteErr constructs a ROUTE_ERR announcing that failedNeighbor is
// gone and unreachable lists the destinations stranded by it
// (spec §4.4, §4.6).
func (m *Manager) BuildRouteErr(failedNeighbor meshproto.Address, unreachable []meshproto.Address) Action {
	payload := meshproto.RouteErrPayload{FailedNeighbor: failedNeighbor, Unreachable: unreachable}
	hdr := meshproto.Header{
		Version:     meshproto.ProtocolVersion,
		Type:        meshproto.TypeRouteErr,
		TTL:         DefaultTTL,
		Source:      m.Self,
		Destination: meshproto.Broadcast,
		NextHop:     meshproto.Broadcast,
	}
	return Action{Kind: ActionSend, Header: hdr, Payload: payload.Marshal()}
}

// NeighborLost is called when the neighbor table evicts addr
// (spec §4.4): invalidates routes through it and, if any destinations
// were stranded, returns the ROUTE_ERR action to broadcast.
func (m *Manager) NeighborLost(addr meshproto.Address) (Action, bool) {
	stranded := m.routes.InvalidateVia(addr)
	if len(stranded) == 0 {
		return Action{}, false
	}
	return m.BuildRouteErr(addr, stranded), true
}
