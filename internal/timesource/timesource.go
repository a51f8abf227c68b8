// Package timesource implements the stratum/quality time-source
// election of spec §4.3: each node tracks its own local time source and
// the sources it has heard from peers via TIME_SYNC packets, and picks
// the best one using the same stratum/quality/arrival tie-break a peer
// election would use (grounded on facebook-time/ntpcheck's peer
// selection, see DESIGN.md).
package timesource

import "time"

// Tag identifies the kind of time source (spec §4.3).
type Tag uint8

const (
	TagGPS    Tag = 0
	TagNTP    Tag = 1
	TagSerial Tag = 2
	// TagSynced covers strata 3..14: derived from a synchronized peer.
	TagSynced Tag = 3
	TagCrystal Tag = 15
)

// MaxStratum is the unsynchronized floor; at or above this the MAC must
// revert to carrier-sense mode (spec §4.3).
const MaxStratum uint8 = 15

// SyncInterval bounds how recently a source must have been heard to be
// considered current.
const SyncInterval = 5 * time.Minute

// ClockErrorThreshold is the within-frame clock error below which
// slotted mode is viable (spec §4.3).
const ClockErrorThreshold = 10 * time.Millisecond

// Observation is one heard time source: local (from a collaborator) or
// remote (from a peer's TIME_SYNC/HELLO).
type Observation struct {
	Stratum  uint8
	Quality  uint8
	Source   Tag
	HeardAt  time.Time
	EpochUTC time.Time
}

// Collaborator is the external GPS/NTP/host time source (spec §1): it
// exposes only now/quality, nothing else.
type Collaborator interface {
	// NowUTC returns the current time and true if the source currently
	// has a fix/lock, or the zero time and false otherwise.
	NowUTC() (time.Time, bool)
	// Stratum and Quality describe the fixed hint for this collaborator
	// (e.g. GPS is always stratum 0 quality 100).
	Stratum() uint8
	Quality() uint8
	Tag() Tag
}

// Election tracks the local collaborator and peer observations and
// picks the best current source. Mutated only from the engine loop.
type Election struct {
	local        Collaborator
	peers        map[uint32]Observation
	clockErrEst  time.Duration
	lastLocalHit time.Time
}

func NewElection(local Collaborator) *Election {
	return &Election{local: local, peers: make(map[uint32]Observation)}
}

// ObserveLocal refreshes the election's view of the local collaborator,
// called once per engine tick.
func (e *Election) ObserveLocal(now time.Time) {
	if e.local == nil {
		return
	}
	if _, ok := e.local.NowUTC(); ok {
		e.lastLocalHit = now
	}
}

// ObservePeer records a peer's advertised stratum/quality (from a
// TIME_SYNC or beacon-carried hint), keyed by the peer's node address.
func (e *Election) ObservePeer(addr uint32, stratum, quality uint8, tag Tag, now time.Time) {
	e.peers[addr] = Observation{Stratum: stratum, Quality: quality, Source: tag, HeardAt: now}
}

// Best returns the node's own effective stratum and quality tag: its
// local collaborator if locked, else the best peer-derived source heard
// within SyncInterval, else MaxStratum/TagCrystal (spec §4.3).
func (e *Election) Best(now time.Time) (stratum uint8, quality uint8, tag Tag, synced bool) {
	if e.local != nil {
		if _, ok := e.local.NowUTC(); ok {
			return e.local.Stratum(), e.local.Quality(), e.local.Tag(), true
		}
	}

	var best *Observation
	for _, obs := range e.peers {
		if now.Sub(obs.HeardAt) > SyncInterval {
			continue
		}
		o := obs
		if best == nil || better(o, *best) {
			best = &o
		}
	}

	if best == nil {
		return MaxStratum, 0, TagCrystal, false
	}

	// A peer's advertised stratum is theirs; we are one hop further.
	derived := best.Stratum + 1
	if derived >= MaxStratum {
		derived = MaxStratum
	}
	return derived, best.Quality, TagSynced, derived < MaxStratum
}

// better implements the tie-break: lowest stratum, then highest
// quality, then earliest arrival (spec §4.3).
func better(a, b Observation) bool {
	if a.Stratum != b.Stratum {
		return a.Stratum < b.Stratum
	}
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	return a.HeardAt.Before(b.HeardAt)
}

// ClockErrorEstimate returns the election's current estimate of
// within-frame clock error, used by the MAC to decide slotted vs
// carrier-sense mode.
func (e *Election) ClockErrorEstimate() time.Duration { return e.clockErrEst }

// SetClockErrorEstimate lets the engine feed in a measured estimate
// (e.g. derived from successive GPS fixes); defaults to zero, which
// favors slotted mode whenever stratum is low enough.
func (e *Election) SetClockErrorEstimate(d time.Duration) { e.clockErrEst = d }
