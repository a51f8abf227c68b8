package transport

import (
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
)

// SeenPacketCache bounds the ring of recently observed (source,
// packet_id) pairs (spec §3) used for loop suppression and duplicate
// re-ACKing.
const SeenPacketCache = 32

// SeenPacketTimeout is how long an entry suppresses a duplicate
// (spec §3).
const SeenPacketTimeout = 30 * time.Second

type seenKey struct {
	Source   meshproto.Address
	PacketID uint16
}

type seenEntry struct {
	key seenKey
	at  time.Time
}

// SeenCache is a fixed-capacity ring buffer of recently seen packets.
type SeenCache struct {
	ring  [SeenPacketCache]seenEntry
	index map[seenKey]int
	next  int
	count int
}

func NewSeenCache() *SeenCache {
	return &SeenCache{index: make(map[seenKey]int)}
}

// Seen reports whether (source, id) was recorded within
// SeenPacketTimeout of now, without recording it.
func (c *SeenCache) Seen(source meshproto.Address, id uint16, now time.Time) bool {
	k := seenKey{source, id}
	idx, ok := c.index[k]
	if !ok {
		return false
	}
	e := c.ring[idx]
	if now.Sub(e.at) > SeenPacketTimeout {
		return false
	}
	return true
}

// Record inserts (source, id) as seen at now, evicting the oldest
// ring slot if full.
func (c *SeenCache) Record(source meshproto.Address, id uint16, now time.Time) {
	k := seenKey{source, id}
	if idx, ok := c.index[k]; ok {
		c.ring[idx].at = now
		return
	}

	if old := c.ring[c.next]; c.count == SeenPacketCache {
		delete(c.index, old.key)
	}

	c.ring[c.next] = seenEntry{key: k, at: now}
	c.index[k] = c.next
	c.next = (c.next + 1) % SeenPacketCache
	if c.count < SeenPacketCache {
		c.count++
	}
}
