package engine

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/mac"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/routing"
)

// appRequestKind distinguishes the three things an application can ask
// of the engine (spec §4.8 event source 3).
type appRequestKind uint8

const (
	appSend appRequestKind = iota
	appBroadcast
	appStatusQuery
)

type appRequest struct {
	kind        appRequestKind
	dest        meshproto.Address
	payload     []byte
	ackRequired bool
	channel     uint8
	reply       chan appReply
}

type appReply struct {
	err    error
	status Status
}

// Send asks the engine to deliver payload to dest, blocking until the
// request is accepted or rejected (not until delivery completes: ACK
// confirmation, if requested, is asynchronous and not observable
// through this call). Returns ErrBackpressure immediately if the
// application request queue is full, and ErrPayloadTooLarge if payload
// exceeds MaxPlaintextPayload, the limit for a sealed frame; the limit
// applies whether or not encryption is enabled.
func (e *Engine) Send(dest meshproto.Address, payload []byte, ackRequired bool, channel uint8) error {
	if len(payload) > MaxPlaintextPayload {
		return ErrPayloadTooLarge
	}
	reply := make(chan appReply, 1)
	req := appRequest{kind: appSend, dest: dest, payload: payload, ackRequired: ackRequired, channel: channel, reply: reply}
	select {
	case e.appRequests <- req:
	default:
		return ErrBackpressure
	}
	r := <-reply
	return r.err
}

// Broadcast asks the engine to broadcast payload on channel.
func (e *Engine) Broadcast(payload []byte, channel uint8) error {
	if len(payload) > MaxPlaintextPayload {
		return ErrPayloadTooLarge
	}
	reply := make(chan appReply, 1)
	req := appRequest{kind: appBroadcast, payload: payload, channel: channel, reply: reply}
	select {
	case e.appRequests <- req:
	default:
		return ErrBackpressure
	}
	r := <-reply
	return r.err
}

// StatusSync synchronously fetches a diagnostic snapshot from the
// engine loop.
func (e *Engine) StatusSync(now time.Time) Status {
	reply := make(chan appReply, 1)
	req := appRequest{kind: appStatusQuery, reply: reply}
	select {
	case e.appRequests <- req:
	default:
		return e.Status(now)
	}
	r := <-reply
	return r.status
}

// handleAppRequest processes one dequeued application request on the
// engine loop (spec §4.8: "honor one application request" per tick).
func (e *Engine) handleAppRequest(req appRequest, now time.Time) {
	switch req.kind {
	case appStatusQuery:
		req.reply <- appReply{status: e.Status(now)}
	case appBroadcast:
		req.reply <- appReply{err: e.originateBroadcast(req.payload, req.channel, now)}
	case appSend:
		req.reply <- appReply{err: e.originateUnicast(req.dest, req.payload, req.ackRequired, req.channel, now)}
	}
}

// originateUnicast resolves dest, buffering for discovery if no route
// is known, otherwise sealing and arbitrating transmission.
func (e *Engine) originateUnicast(dest meshproto.Address, payload []byte, ackRequired bool, channel uint8, now time.Time) error {
	entry, ok := e.routingMgr.Resolve(dest)
	if !ok {
		e.routingMgr.Buffer(routing.PendingPacket{
			Destination: dest,
			Payload:     payload,
			AckRequired: ackRequired,
			Channel:     channel,
			Queued:      now,
		})
		return e.sendRoutingAction(e.routingMgr.BeginDiscovery(dest, now), now)
	}

	hdr := e.buildHeader(meshproto.TypeData, dest, entry.NextHop, ackRequired, channel, routing.DefaultTTL)
	return e.sendData(hdr, payload, ackRequired, now)
}

// originateBroadcast sends payload to the broadcast address. Broadcasts
// never require ACK and bypass the TX window (spec §4.7).
func (e *Engine) originateBroadcast(payload []byte, channel uint8, now time.Time) error {
	hdr := e.buildHeader(meshproto.TypeData, meshproto.Broadcast, meshproto.Broadcast, false, channel, routing.DefaultTTL)
	frame, err := e.encodeOutgoing(hdr, payload)
	if err != nil {
		return err
	}
	e.transportMgr.Seen().Record(hdr.Source, hdr.PacketID, now)
	return e.arbitrateAndSend(hdr.PacketID, frame, false, now)
}

// sendData seals and transmits an ACK-eligible unicast DATA packet,
// registering it in the transport window if ACK_REQ is set.
func (e *Engine) sendData(hdr meshproto.Header, payload []byte, ackRequired bool, now time.Time) error {
	frame, err := e.encodeOutgoing(hdr, payload)
	if err != nil {
		return err
	}
	if ackRequired {
		if _, err := e.transportMgr.Send(hdr.Destination, hdr.PacketID, frame, now); err != nil {
			return err
		}
		e.scheduleRetransmitTimer(hdr.Destination, hdr.PacketID, now)
	}
	return e.arbitrateAndSend(hdr.PacketID, frame, false, now)
}

func (e *Engine) scheduleRetransmitTimer(dest meshproto.Address, packetID uint16, now time.Time) {
	rto := e.transportMgr.Estimator(dest).RTO()
	e.timers.schedule(toNsTime(now.Add(rto).UnixNano()), timerRetransmit, packetID)
}

// sendRoutingAction transmits a routing.Action (ROUTE_REQ/ROUTE_REP/
// ROUTE_ERR), unencrypted: control traffic must be forwardable by any
// node, not just ones holding the data-plane key (SPEC_FULL §3).
func (e *Engine) sendRoutingAction(a routing.Action, now time.Time) error {
	if a.Kind != routing.ActionSend {
		return nil
	}
	frame, err := meshproto.Encode(meshproto.Packet{Header: a.Header, Payload: a.Payload})
	if err != nil {
		return err
	}
	return e.arbitrateAndSend(a.Header.PacketID, frame, false, now)
}

// arbitrateAndSend gates frame on MAC access (spec §4.3): in
// carrier-sense mode it tries immediately and defers on backoff; in
// slotted mode it transmits now if this is our slot (or the beacon
// slot, for beacons) and otherwise defers to the next opportunity.
// Deferred frames are retried from a MAC-retry timer (spec §4.8: "the
// MAC back-off timer does not block the loop — it schedules a deferred
// transmit").
func (e *Engine) arbitrateAndSend(packetID uint16, frame []byte, isBeacon bool, now time.Time) error {
	if !e.frameEpochSet {
		e.frameEpoch = now
		e.frameEpochSet = true
	}

	if e.macLayer.Mode() == mac.ModeCarrierSense {
		decision := e.macLayer.TryCarrierSense(e.radioDriver.ChannelBusy())
		switch {
		case decision.Transmit:
			e.macLayer.ResetCarrierSense()
			return e.transmit(frame)
		case decision.GiveUp:
			return ErrBackpressure
		default:
			e.deferSend(packetID, frame, isBeacon, now.Add(decision.Backoff))
			return nil
		}
	}

	elapsed := now.Sub(e.frameEpoch)
	mod := elapsed % mac.FrameDuration
	slot := mac.SlotInFrame(mod)
	if e.macLayer.CanTransmitSlotted(slot, isBeacon) && !e.radioDriver.ChannelBusy() {
		return e.transmit(frame)
	}

	nextSlotStart := e.frameEpoch.Add(elapsed - mod + mac.SlotDuration)
	e.deferSend(packetID, frame, isBeacon, nextSlotStart)
	return nil
}

func (e *Engine) deferSend(packetID uint16, frame []byte, isBeacon bool, at time.Time) {
	e.outbox[packetID] = outboxEntry{frame: frame, isBeacon: isBeacon}
	e.timers.schedule(toNsTime(at.UnixNano()), timerMacRetry, packetID)
}
