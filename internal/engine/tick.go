package engine

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// Start seeds the periodic timer wheel. Call once before the first
// Tick (spec §4.8, §5: the engine owns no wall-clock of its own, so the
// caller's first `now` anchors every subsequent interval).
func (e *Engine) Start(now time.Time) {
	e.timers.schedule(toNsTime(now.Add(BeaconInterval).UnixNano()), timerBeacon, 0)
	e.timers.schedule(toNsTime(now.Add(NeighborScavengeInterval).UnixNano()), timerNeighborScavenge, 0)
	e.timers.schedule(toNsTime(now.Add(RouteRefreshInterval).UnixNano()), timerRouteRefresh, 0)
	e.timers.schedule(toNsTime(now.Add(TopologyBroadcastInterval).UnixNano()), timerTopologyBroadcast, 0)
	e.timers.schedule(toNsTime(now.Add(NoncePersistStrobe).UnixNano()), timerNoncePersist, 0)
	e.timers.schedule(toNsTime(now.Add(PruneAgedRoutesInterval).UnixNano()), timerPruneAgedRoutes, 0)
	e.timers.schedule(toNsTime(now.Add(DiscoveryExpireInterval).UnixNano()), timerDiscoveryExpire, 0)
}

// Tick processes one iteration of the cooperative scheduler (spec §4.8):
// a bounded drain of queued radio frames, at most one due timer, at
// most one application request, and at most one console command. No
// step here ever blocks.
func (e *Engine) Tick(now time.Time) {
	e.timeElection.ObserveLocal(now)
	e.drainRadio(now)
	e.fireDueTimer(now)
	e.handleOneAppRequest(now)
	e.handleOneConsoleCommand(now)
}

func (e *Engine) drainRadio(now time.Time) {
	for i := 0; i < RadioDrainPerTick; i++ {
		select {
		case f := <-e.radioQueue:
			e.handleRx(f, now)
		default:
			return
		}
	}
}

func (e *Engine) fireDueTimer(now time.Time) {
	item, ok := e.timers.PopDue(toNsTime(now.UnixNano()))
	if !ok {
		return
	}

	switch item.kind {
	case timerRetransmit:
		e.handleTimerRetransmit(item.packetID, now)
	case timerBeacon:
		e.sendBeacon(now)
		e.timers.schedule(toNsTime(now.Add(BeaconInterval).UnixNano()), timerBeacon, 0)
	case timerNeighborScavenge:
		e.scavengeNeighbors(now)
		e.timers.schedule(toNsTime(now.Add(NeighborScavengeInterval).UnixNano()), timerNeighborScavenge, 0)
	case timerRouteRefresh:
		e.refreshStaleRoutes(now)
		e.timers.schedule(toNsTime(now.Add(RouteRefreshInterval).UnixNano()), timerRouteRefresh, 0)
	case timerTopologyBroadcast:
		e.sendHello(now, true)
		e.timers.schedule(toNsTime(now.Add(TopologyBroadcastInterval).UnixNano()), timerTopologyBroadcast, 0)
	case timerNoncePersist:
		if err := e.crypto.PersistNonceNow(); err != nil {
			e.log.Warn().Err(err).Msg("periodic nonce persist failed")
		}
		e.timers.schedule(toNsTime(now.Add(NoncePersistStrobe).UnixNano()), timerNoncePersist, 0)
	case timerPruneAgedRoutes:
		e.routes.PruneAged(now)
		e.timers.schedule(toNsTime(now.Add(PruneAgedRoutesInterval).UnixNano()), timerPruneAgedRoutes, 0)
	case timerDiscoveryExpire:
		e.expireDiscovery(now)
		e.timers.schedule(toNsTime(now.Add(DiscoveryExpireInterval).UnixNano()), timerDiscoveryExpire, 0)
	case timerMacRetry:
		e.retryDeferredSend(item.packetID, now)
	}
}

func (e *Engine) handleOneAppRequest(now time.Time) {
	select {
	case req := <-e.appRequests:
		e.handleAppRequest(req, now)
	default:
	}
}

func (e *Engine) handleOneConsoleCommand(now time.Time) {
	select {
	case req := <-e.console:
		e.executeConsoleCommand(req, now)
	default:
	}
}

// handleTimerRetransmit retries an unacknowledged packet, or gives up
// past MAX_RETRIES (spec §4.7). The stored frame is decoded, IS_RETRY is
// set on the header, and the frame is re-encoded around the same
// (still-sealed) payload bytes rather than re-sealing from plaintext.
func (e *Engine) handleTimerRetransmit(packetID uint16, now time.Time) {
	result, ok := e.transportMgr.CheckTimeout(packetID, now)
	if !ok {
		return
	}
	if result.Failed {
		e.log.Warn().Uint16("packet_id", packetID).Uint32("dest", uint32(result.Slot.Destination)).Msg("delivery failed after max retries")
		return
	}

	pkt, err := meshproto.Decode(result.Slot.Frame)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to decode frame for retransmit")
		return
	}
	pkt.Header.SetFlag(meshproto.FlagIsRetry, true)
	frame, err := meshproto.Reframe(pkt)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to re-frame retransmit")
		return
	}

	if err := e.arbitrateAndSend(packetID, frame, false, now); err != nil {
		e.log.Debug().Err(err).Msg("retransmit deferred or dropped")
	}
	e.timers.schedule(toNsTime(now.Add(result.Slot.Timeout).UnixNano()), timerRetransmit, packetID)
}

// retryDeferredSend re-attempts a frame MAC arbitration deferred earlier
// (spec §4.8: "the MAC back-off timer schedules a deferred transmit").
func (e *Engine) retryDeferredSend(packetID uint16, now time.Time) {
	entry, ok := e.outbox[packetID]
	if !ok {
		return
	}
	delete(e.outbox, packetID)
	if err := e.arbitrateAndSend(packetID, entry.frame, entry.isBeacon, now); err != nil {
		e.log.Debug().Err(err).Msg("deferred send re-deferred or dropped")
	}
}

func (e *Engine) batteryMillivolts() uint16 {
	if e.cfg.BatterySource == nil {
		return 0
	}
	return e.cfg.BatterySource()
}

// sendBeacon broadcasts node presence, topology hash, and battery
// status (SPEC_FULL §3; grounded on the HELLO topology-hash mechanism
// of spec §4.4, split into its own lower-rate announcement).
func (e *Engine) sendBeacon(now time.Time) {
	payload := meshproto.BeaconPayload{
		TopologyHash:      e.neighbors.TopologyHash(),
		NeighborCount:     uint8(clampInt(e.neighbors.Len(), 0, 255)),
		BatteryMillivolts: e.batteryMillivolts(),
	}
	hdr := e.buildHeader(meshproto.TypeBeacon, meshproto.Broadcast, meshproto.Broadcast, false, 0, 1)
	frame, err := e.encodeOutgoing(hdr, payload.Marshal())
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to build BEACON")
		return
	}
	if err := e.arbitrateAndSend(hdr.PacketID, frame, true, now); err != nil {
		e.log.Debug().Err(err).Msg("BEACON deferred or dropped")
	}
}

// sendHello broadcasts the liveness/topology-hash probe of spec §4.4.
// refresh sets the HELLO's Refresh flag; receivers (handleHello) act
// only on the topology hash, so the flag sends no reply and updates no
// route timestamp.
func (e *Engine) sendHello(now time.Time, refresh bool) {
	payload := meshproto.HelloPayload{
		TopologyHash:  e.neighbors.TopologyHash(),
		NeighborCount: uint8(clampInt(e.neighbors.Len(), 0, 255)),
		Refresh:       refresh,
	}
	hdr := e.buildHeader(meshproto.TypeHello, meshproto.Broadcast, meshproto.Broadcast, false, 0, 1)
	frame, err := e.encodeOutgoing(hdr, payload.Marshal())
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to build HELLO")
		return
	}
	if err := e.arbitrateAndSend(hdr.PacketID, frame, false, now); err != nil {
		e.log.Debug().Err(err).Msg("HELLO deferred or dropped")
	}
}

// scavengeNeighbors evicts timed-out neighbors and broadcasts ROUTE_ERR
// for any destination stranded by the loss (spec §4.4, §4.6).
func (e *Engine) scavengeNeighbors(now time.Time) {
	e.neighbors.ScavengeExpired(now, func(addr meshproto.Address) {
		action, ok := e.routingMgr.NeighborLost(addr)
		if !ok {
			return
		}
		// NeighborLost does not stamp a PacketID (it has no engine-side
		// counter to draw from); each ROUTE_ERR this node originates
		// needs one of its own, or the transport dedup cache would
		// collapse distinct ROUTE_ERR broadcasts issued close together.
		action.Header.PacketID = e.nextPacketID()
		if err := e.sendRoutingAction(action, now); err != nil {
			e.log.Warn().Err(err).Msg("failed to broadcast ROUTE_ERR")
		}
	})
}

// refreshStaleRoutes broadcasts one refresh-flagged HELLO when any
// primary route is aging or stale (spec §4.6 "Proactive maintenance").
// No reply to that HELLO exists, so it does not renew any route's
// timestamp; an aging route is renewed only when discovery installs it
// again.
func (e *Engine) refreshStaleRoutes(now time.Time) {
	candidates := e.routingMgr.RefreshCandidates(now)
	if len(candidates) == 0 {
		return
	}
	e.sendHello(now, true)
}

// expireDiscovery drops application packets that have waited too long
// for a route to resolve (spec §4.6 "buffer briefly").
func (e *Engine) expireDiscovery(now time.Time) {
	dropped := e.routingMgr.ExpirePending(now)
	for dest, n := range dropped {
		e.log.Warn().Uint32("dest", uint32(dest)).Int("count", n).Msg("dropped packets awaiting route discovery")
	}
}

func (e *Engine) refreshMacTimeSource(now time.Time) {
	stratum, _, _, _ := e.timeElection.Best(now)
	e.macLayer.SetTimeSource(stratum, e.timeElection.ClockErrorEstimate())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
