// Package route implements the multi-path distance-vector route table
// of spec §4.5.
package route

import (
	"sort"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// MaxRoutesPerDest bounds stored alternatives per destination (spec §3).
const MaxRoutesPerDest = 3

// Freshness thresholds (spec §4.5).
const (
	FreshWindow = 2 * time.Minute
	AgingWindow = 4 * time.Minute
	MaxAge      = 5 * time.Minute
)

// Freshness classifies a route's age for display/decisions.
type Freshness uint8

const (
	Fresh Freshness = iota
	Aging
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Aging:
		return "aging"
	default:
		return "stale"
	}
}

// Entry is one route alternative (spec §3).
type Entry struct {
	Destination meshproto.Address
	NextHop     meshproto.Address
	HopCount    uint8
	Quality     uint8
	Score       uint8
	LastUpdated time.Time
	IsPrimary   bool
}

// FreshnessAt classifies e's age relative to now.
func (e Entry) FreshnessAt(now time.Time) Freshness {
	age := now.Sub(e.LastUpdated)
	switch {
	case age < FreshWindow:
		return Fresh
	case age < AgingWindow:
		return Aging
	default:
		return Stale
	}
}

// Score computes the spec §3(d) scoring formula: quality - hops*20,
// clamped to [0,255].
func Score(quality, hopCount uint8) uint8 {
	v := int(quality) - int(hopCount)*20
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// Table owns all destinations' route alternatives. Mutated only from the
// engine loop (spec §5).
type Table struct {
	byDest map[meshproto.Address][]*Entry
}

func NewTable() *Table {
	return &Table{byDest: make(map[meshproto.Address][]*Entry)}
}

// AddRoute installs or updates a route alternative, per spec §4.5:
// update a matching (dest,next_hop) in place; else insert if there's
// room; else evict the worst if the incoming score beats it.
// Recomputes primary afterward. Returns whether the route was
// accepted (false only when the table was full and the candidate did
// not beat the worst entry).
func (t *Table) AddRoute(dest, nextHop meshproto.Address, hopCount, quality uint8, now time.Time) bool {
	score := Score(quality, hopCount)
	entries := t.byDest[dest]

	for _, e := range entries {
		if e.NextHop == nextHop {
			e.HopCount = hopCount
			e.Quality = quality
			e.Score = score
			e.LastUpdated = now
			t.recomputePrimary(dest)
			return true
		}
	}

	candidate := &Entry{
		Destination: dest,
		NextHop:     nextHop,
		HopCount:    hopCount,
		Quality:     quality,
		Score:       score,
		LastUpdated: now,
	}

	if len(entries) < MaxRoutesPerDest {
		t.byDest[dest] = append(entries, candidate)
		t.recomputePrimary(dest)
		return true
	}

	worstIdx, worstScore := -1, 256
	for i, e := range entries {
		if int(e.Score) < worstScore {
			worstIdx, worstScore = i, int(e.Score)
		}
	}
	if worstIdx >= 0 && int(score) > worstScore {
		entries[worstIdx] = candidate
		t.byDest[dest] = entries
		t.recomputePrimary(dest)
		return true
	}

	return false
}

// recomputePrimary sets is_primary on the highest-scoring entry, ties
// broken by freshest (spec §3(c)).
func (t *Table) recomputePrimary(dest meshproto.Address) {
	entries := t.byDest[dest]
	if len(entries) == 0 {
		return
	}

	best := entries[0]
	for _, e := range entries[1:] {
		e.IsPrimary = false
		if e.Score > best.Score || (e.Score == best.Score && e.LastUpdated.After(best.LastUpdated)) {
			best = e
		}
	}
	for _, e := range entries {
		e.IsPrimary = e == best
	}
}

// FindRoute returns the primary route to dest, if any (spec §4.5).
func (t *Table) FindRoute(dest meshproto.Address) (Entry, bool) {
	for _, e := range t.byDest[dest] {
		if e.IsPrimary {
			return *e, true
		}
	}
	return Entry{}, false
}

// Failover marks the current primary invalid (removes it) and promotes
// the next-best, returning the new primary if any (spec §4.5).
func (t *Table) Failover(dest meshproto.Address) (Entry, bool) {
	entries := t.byDest[dest]
	idx := -1
	for i, e := range entries {
		if e.IsPrimary {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entry{}, false
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	t.byDest[dest] = entries
	if len(entries) == 0 {
		delete(t.byDest, dest)
		return Entry{}, false
	}
	t.recomputePrimary(dest)
	return t.FindRoute(dest)
}

// InvalidateVia removes all routes whose next hop is nextHop
// (spec §4.6, neighbor-timeout / ROUTE_ERR handling), returning the set
// of destinations that lost their primary route as a result and now
// have no remaining alternative (candidates for re-discovery).
func (t *Table) InvalidateVia(nextHop meshproto.Address) []meshproto.Address {
	var strandedDests []meshproto.Address

	for dest, entries := range t.byDest {
		hadPrimaryVia := false
		kept := entries[:0:0]
		for _, e := range entries {
			if e.NextHop == nextHop {
				if e.IsPrimary {
					hadPrimaryVia = true
				}
				continue
			}
			kept = append(kept, e)
		}

		if len(kept) == 0 {
			delete(t.byDest, dest)
			if hadPrimaryVia {
				strandedDests = append(strandedDests, dest)
			}
			continue
		}

		t.byDest[dest] = kept
		if hadPrimaryVia {
			t.recomputePrimary(dest)
		}
	}

	return strandedDests
}

// AllForDest returns a copy of dest's alternatives, ordered
// highest-score first, for display (`routes` console command).
func (t *Table) AllForDest(dest meshproto.Address) []Entry {
	entries := t.byDest[dest]
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// All returns every stored route across all destinations, ordered by
// destination then score, for display and for the route_cache
// warm-start snapshot (spec §6).
func (t *Table) All() []Entry {
	var out []Entry
	for _, entries := range t.byDest {
		for _, e := range entries {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// PruneAged removes routes older than MaxAge (spec §4.5).
func (t *Table) PruneAged(now time.Time) {
	for dest, entries := range t.byDest {
		kept := entries[:0:0]
		for _, e := range entries {
			if now.Sub(e.LastUpdated) <= MaxAge {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(t.byDest, dest)
			continue
		}
		t.byDest[dest] = kept
		t.recomputePrimary(dest)
	}
}

// StaleDestinations returns destinations whose primary route is stale
// or aging-toward-stale, for proactive refresh (spec §4.6).
func (t *Table) StaleDestinations(now time.Time) []meshproto.Address {
	var out []meshproto.Address
	for dest, entries := range t.byDest {
		for _, e := range entries {
			if e.IsPrimary && e.FreshnessAt(now) != Fresh {
				out = append(out, dest)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Restore installs a warm-start snapshot (spec §6 route_cache) without
// treating it as freshly observed: callers should back-date LastUpdated
// so routes are used opportunistically but refreshed soon.
func (t *Table) Restore(entries []Entry) {
	for _, e := range entries {
		cp := e
		t.byDest[e.Destination] = append(t.byDest[e.Destination], &cp)
	}
	for dest := range t.byDest {
		t.recomputePrimary(dest)
	}
}
