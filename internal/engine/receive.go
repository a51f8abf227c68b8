package engine

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/radio"
	"github.com/IceNet-01/LNK-22-sub000/internal/routing"
	"github.com/IceNet-01/LNK-22-sub000/internal/timesource"
)

// handleRx is the receive half of the engine loop (spec §4.8 event
// source 1, §6): decode, filter on network ID before attempting
// decryption, then dispatch by type. Any failure at any stage drops the
// frame silently past a debug/warn log line — a malformed or foreign
// frame is never a fatal condition.
func (e *Engine) handleRx(raw radio.RxFrame, now time.Time) {
	pkt, err := meshproto.Decode(raw.Data)
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping undecodable frame")
		return
	}
	if pkt.Header.NetworkID != e.networkID() {
		return
	}

	if pkt.Header.Type == meshproto.TypeData {
		e.handleData(pkt, raw, now)
		return
	}
	if pkt.Header.Type == meshproto.TypeAck {
		e.handleAckPacket(pkt, raw, now)
		return
	}

	// ROUTE_REQ/ROUTE_REP/ROUTE_ERR and the single-hop HELLO/BEACON/
	// TELEMETRY/TIME_SYNC family are sent unencrypted (DESIGN.md Open
	// Question 5) or, for the single-hop family, sealed end-to-end
	// across exactly one hop; either way decodeIncomingPayload's no-op
	// pass-through and its Open call both apply uniformly here.
	payload, err := e.decodeIncomingPayload(pkt, now)
	if err != nil {
		e.log.Warn().Err(err).Uint32("source", uint32(pkt.Header.Source)).Msg("dropping frame: authentication failed")
		return
	}
	e.neighbors.Observe(pkt.Header.Source, now, raw.RSSI, raw.SNR)

	switch pkt.Header.Type {
	case meshproto.TypeRouteReq:
		e.handleRouteReq(pkt.Header, payload, now)
	case meshproto.TypeRouteRep:
		e.handleRouteRep(pkt.Header, payload, now)
	case meshproto.TypeRouteErr:
		e.handleRouteErr(pkt.Header, payload, now)
	case meshproto.TypeHello:
		e.handleHello(payload, now)
	case meshproto.TypeBeacon:
		e.handleBeacon(payload, now)
	case meshproto.TypeTimeSync:
		e.handleTimeSync(pkt.Header, payload, now)
	case meshproto.TypeTelem:
		// Observe above already recorded liveness; telemetry content is
		// diagnostic only and has no further effect on protocol state.
	}
}

func (e *Engine) linkQuality(addr meshproto.Address) uint8 {
	if n, ok := e.neighbors.Get(addr); ok {
		return n.LinkQuality
	}
	return 0
}

func (e *Engine) handleRouteReq(hdr meshproto.Header, payload []byte, now time.Time) {
	req, err := meshproto.ParseRouteReq(payload)
	if err != nil {
		return
	}
	action := e.routingMgr.HandleRouteReq(hdr, req, hdr.Source, e.linkQuality(hdr.Source), now)
	if err := e.sendRoutingAction(action, now); err != nil {
		e.log.Debug().Err(err).Msg("failed to send ROUTE_REQ response")
	}
}

func (e *Engine) handleRouteRep(hdr meshproto.Header, payload []byte, now time.Time) {
	rep, err := meshproto.ParseRouteRep(payload)
	if err != nil {
		return
	}
	via := hdr.Source
	action := e.routingMgr.HandleRouteRep(hdr, rep, via, e.linkQuality(via), now)
	if action.Kind == routing.ActionNone && e.routingMgr.Self == rep.Origin {
		e.releasePending(rep.Destination, now)
		return
	}
	if err := e.sendRoutingAction(action, now); err != nil {
		e.log.Debug().Err(err).Msg("failed to forward ROUTE_REP")
	}
}

// releasePending re-sends every application packet that was buffered
// awaiting this destination's route (spec §4.6: once ROUTE_REP reaches
// the original requester, buffered packets are sent).
func (e *Engine) releasePending(dest meshproto.Address, now time.Time) {
	for _, p := range e.routingMgr.DrainPending(dest) {
		entry, ok := e.routingMgr.Resolve(dest)
		if !ok {
			e.log.Warn().Uint32("dest", uint32(dest)).Msg("route discovery completed but resolve still misses, dropping buffered packet")
			continue
		}
		hdr := e.buildHeader(meshproto.TypeData, dest, entry.NextHop, p.AckRequired, p.Channel, routing.DefaultTTL)
		if err := e.sendData(hdr, p.Payload, p.AckRequired, now); err != nil {
			e.log.Warn().Err(err).Msg("failed to send buffered packet after route discovery")
		}
	}
}

func (e *Engine) handleRouteErr(hdr meshproto.Header, payload []byte, now time.Time) {
	errPayload, err := meshproto.ParseRouteErr(payload)
	if err != nil {
		return
	}
	e.routingMgr.HandleRouteErr(hdr, errPayload)

	duplicate := e.transportMgr.Seen().Seen(hdr.Source, hdr.PacketID, now)
	decision := e.routingMgr.DecideForward(hdr, duplicate)
	e.applyForwardDecision(decision, payload, now)
}

// handleHello and handleBeacon both carry a topology hash that feeds
// partition detection (spec §4.6); neither is forwarded past its
// originating hop, so Header.Source is always the direct neighbor that
// sent it.
func (e *Engine) handleHello(payload []byte, now time.Time) {
	hello, err := meshproto.ParseHello(payload)
	if err != nil {
		return
	}
	e.observeTopology(hello.TopologyHash, now)
}

func (e *Engine) handleBeacon(payload []byte, now time.Time) {
	beacon, err := meshproto.ParseBeacon(payload)
	if err != nil {
		return
	}
	e.observeTopology(beacon.TopologyHash, now)
}

func (e *Engine) observeTopology(peerHash uint32, now time.Time) {
	localHash := e.neighbors.TopologyHash()
	result := e.routingMgr.ObserveTopologyHash(localHash, peerHash)
	if !result.Triggered {
		return
	}
	e.log.Warn().Uint64("partition_event", result.PartitionEventNo).Int("redestinations", len(result.Redestinations)).Msg("partition detected, re-resolving known routes")
	for _, dest := range result.Redestinations {
		if err := e.sendRoutingAction(e.routingMgr.BeginDiscovery(dest, now), now); err != nil {
			e.log.Warn().Err(err).Msg("failed to re-issue discovery after partition event")
		}
	}
}

func (e *Engine) handleTimeSync(hdr meshproto.Header, payload []byte, now time.Time) {
	ts, err := meshproto.ParseTimeSync(payload)
	if err != nil {
		return
	}
	e.timeElection.ObservePeer(uint32(hdr.Source), ts.Stratum, ts.Quality, timesource.Tag(ts.SourceTag), now)
	e.refreshMacTimeSource(now)
}

// handleData implements spec §4.7's reception half: deliver-if-for-us
// (deduplicated, ACKed if requested), forward-if-not (spec §4.6's
// forwarding decision). Link-quality/neighbor observation only trusts
// Header.Source when HopCount is 0 — at any later hop Source still
// names the original application sender, not whoever is physically
// transmitting to us right now.
func (e *Engine) handleData(pkt meshproto.Packet, raw radio.RxFrame, now time.Time) {
	hdr := pkt.Header
	forMe := hdr.Destination == e.cfg.Self
	broadcast := hdr.Destination.IsBroadcast()

	if hdr.HopCount == 0 {
		e.neighbors.Observe(hdr.Source, now, raw.RSSI, raw.SNR)
	}

	duplicate := e.transportMgr.Seen().Seen(hdr.Source, hdr.PacketID, now)
	authOK := true

	if forMe || broadcast {
		if !duplicate {
			e.transportMgr.Seen().Record(hdr.Source, hdr.PacketID, now)
			plaintext, err := e.decodeIncomingPayload(pkt, now)
			if err != nil {
				authOK = false
				e.log.Warn().Err(err).Uint32("source", uint32(hdr.Source)).Msg("dropping DATA: authentication failed")
			} else {
				e.deliverLocal(hdr, plaintext)
			}
		}
		if forMe && authOK && hdr.HasFlag(meshproto.FlagAckReq) {
			e.sendAck(hdr, now)
		}
	}

	if forMe {
		return
	}

	decision := e.routingMgr.DecideForward(hdr, duplicate)
	e.applyForwardDecision(decision, pkt.Payload, now)
}

func (e *Engine) handleAckPacket(pkt meshproto.Packet, raw radio.RxFrame, now time.Time) {
	hdr := pkt.Header
	if hdr.HopCount == 0 {
		e.neighbors.Observe(hdr.Source, now, raw.RSSI, raw.SNR)
	}

	if hdr.Destination == e.cfg.Self {
		plaintext, err := e.decodeIncomingPayload(pkt, now)
		if err != nil {
			e.log.Warn().Err(err).Msg("dropping ACK: authentication failed")
			return
		}
		ack, err := meshproto.ParseAck(plaintext)
		if err != nil {
			return
		}
		if _, ok := e.transportMgr.Ack(ack.AckedPacketID, now); ok {
			e.log.Debug().Uint16("packet_id", ack.AckedPacketID).Uint32("responder", uint32(ack.Responder)).Msg("delivery acknowledged")
		}
		return
	}

	duplicate := e.transportMgr.Seen().Seen(hdr.Source, hdr.PacketID, now)
	decision := e.routingMgr.DecideForward(hdr, duplicate)
	e.applyForwardDecision(decision, pkt.Payload, now)
}

// applyForwardDecision re-frames a decision's mutated header around the
// original wire payload (still sealed, if it was) and hands it to MAC
// arbitration. Forwarders never decrypt or re-encrypt payload bytes they
// relay (spec §4.1: AEAD is end-to-end, not hop-by-hop).
func (e *Engine) applyForwardDecision(decision routing.ForwardDecision, wirePayload []byte, now time.Time) {
	switch decision.Kind {
	case routing.ForwardDrop, routing.ForwardBufferAndDiscover:
		if decision.Kind == routing.ForwardBufferAndDiscover {
			if err := e.sendRoutingAction(e.routingMgr.BeginDiscovery(decision.Header.Destination, now), now); err != nil {
				e.log.Debug().Err(err).Msg("failed to start discovery for undeliverable forward")
			}
		}
		return
	case routing.ForwardRetransmit, routing.ForwardBroadcast:
		frame, err := meshproto.Encode(meshproto.Packet{Header: decision.Header, Payload: wirePayload})
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to re-frame forwarded packet")
			return
		}
		if decision.Kind == routing.ForwardBroadcast {
			e.transportMgr.Seen().Record(decision.Header.Source, decision.Header.PacketID, now)
		}
		if err := e.arbitrateAndSend(decision.Header.PacketID, frame, false, now); err != nil {
			e.log.Debug().Err(err).Msg("forward deferred or dropped")
		}
	}
}

// deliverLocal hands payload to the application, dropping it when its
// channel differs from this node's configured channel (console
// `channel`, DESIGN.md open-question decision 2).
func (e *Engine) deliverLocal(hdr meshproto.Header, payload []byte) {
	if hdr.Channel != e.cfg.Channel {
		return
	}
	select {
	case e.appDeliveries <- Delivery{Source: hdr.Source, Channel: hdr.Channel, Payload: payload}:
	default:
		e.log.Warn().Msg("application delivery queue full, dropping decoded payload")
	}
}

func (e *Engine) sendAck(hdr meshproto.Header, now time.Time) {
	nextHop := hdr.Source
	if entry, ok := e.routingMgr.Resolve(hdr.Source); ok {
		nextHop = entry.NextHop
	}
	ackHdr := e.buildHeader(meshproto.TypeAck, hdr.Source, nextHop, false, hdr.Channel, routing.DefaultTTL)
	payload := meshproto.AckPayload{AckedPacketID: hdr.PacketID, Responder: e.cfg.Self}
	frame, err := e.encodeOutgoing(ackHdr, payload.Marshal())
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to build ACK")
		return
	}
	if err := e.arbitrateAndSend(ackHdr.PacketID, frame, false, now); err != nil {
		e.log.Debug().Err(err).Msg("ACK deferred or dropped")
	}
}
