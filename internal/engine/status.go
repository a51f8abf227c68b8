package engine

import (
	"time"
)

// Status is the diagnostic snapshot exposed by the `status` console
// command and StatusSync (spec §7).
type Status struct {
	Self            uint32
	Uptime          time.Duration
	NetworkID       uint16
	EncryptEnabled  bool
	MACMode         string
	TimeStratum     uint8
	TimeSynced      bool
	NeighborCount   int
	RouteCount      int
	PendingAcks     int
	PartitionEvents uint64
	NonceExhausted  bool
	CurrentKeyHex   string
}

// Status assembles a diagnostic snapshot from the current engine state.
// Must run on the engine loop: it reads collaborators with no locking
// of their own (spec §5).
func (e *Engine) Status(now time.Time) Status {
	stratum, _, _, synced := e.timeElection.Best(now)

	routeCount := 0
	for range e.routes.All() {
		routeCount++
	}

	return Status{
		Self:            uint32(e.cfg.Self),
		Uptime:          now.Sub(e.started),
		NetworkID:       e.networkID(),
		EncryptEnabled:  e.encryptEnabled,
		MACMode:         e.macLayer.Mode().String(),
		TimeStratum:     stratum,
		TimeSynced:      synced,
		NeighborCount:   e.neighbors.Len(),
		RouteCount:      routeCount,
		PendingAcks:     len(e.transportMgr.PendingPacketIDs()),
		PartitionEvents: e.routingMgr.PartitionEvents(),
		NonceExhausted:  e.crypto.Exhausted(),
		CurrentKeyHex:   e.crypto.CurrentKey().Hex(),
	}
}
