package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/route"
)

// routeCacheEntry is the JSON-serializable view of a route.Entry
// persisted across restarts (spec §6 `route_cache`). Time values are
// not persisted: decodeRouteCache gives every restored route the same
// back-dated timestamp, not one surviving a power cycle.
type routeCacheEntry struct {
	Destination uint32 `json:"destination"`
	NextHop     uint32 `json:"next_hop"`
	HopCount    uint8  `json:"hop_count"`
	Quality     uint8  `json:"quality"`
}

func encodeRouteCache(entries []route.Entry) ([]byte, error) {
	out := make([]routeCacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, routeCacheEntry{
			Destination: uint32(e.Destination),
			NextHop:     uint32(e.NextHop),
			HopCount:    e.HopCount,
			Quality:     e.Quality,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("engine: encode route cache: %w", err)
	}
	return b, nil
}

// decodeRouteCache reverses encodeRouteCache, back-dating every restored
// route to one second short of route.AgingWindow: aging and usable
// immediately, stale one second later, and pruned once route.MaxAge
// passes unless discovery installs it again (spec §6).
func decodeRouteCache(b []byte, now time.Time) ([]route.Entry, error) {
	var in []routeCacheEntry
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, fmt.Errorf("engine: decode route cache: %w", err)
	}
	backdated := now.Add(-route.AgingWindow + time.Second)
	out := make([]route.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, route.Entry{
			Destination: meshproto.Address(e.Destination),
			NextHop:     meshproto.Address(e.NextHop),
			HopCount:    e.HopCount,
			Quality:     e.Quality,
			Score:       route.Score(e.Quality, e.HopCount),
			LastUpdated: backdated,
		})
	}
	return out, nil
}
