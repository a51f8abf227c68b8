package engine

import "container/heap"

// timerKind identifies what a fired timer should do (spec §4.8 event
// source 2).
type timerKind uint8

const (
	timerRetransmit timerKind = iota
	timerBeacon
	timerNeighborScavenge
	timerRouteRefresh
	timerTopologyBroadcast
	timerNoncePersist
	timerPruneAgedRoutes
	timerDiscoveryExpire
	timerMacRetry
)

// timerItem is one scheduled deadline. packetID is only meaningful for
// timerRetransmit and timerMacRetry.
type timerItem struct {
	deadline nsTime
	kind     timerKind
	packetID uint16
	index    int // heap.Interface bookkeeping
}

// nsTime is a monotonic-ish nanosecond timestamp; the engine always
// works from an explicit `now time.Time` (never wall-clock internally),
// so timers store a comparable int64 view of it rather than pulling in
// time.Time's larger comparison surface onto the heap.
type nsTime int64

// timerHeap is a min-heap by deadline, grounded on the stdlib
// container/heap priority-queue idiom used throughout the pack for
// timer wheels (DESIGN.md: internal/engine).
type timerHeap []*timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// timerWheel schedules deadline-triggered actions for the engine loop.
// Mutated only from the engine loop (spec §5).
type timerWheel struct {
	h timerHeap
}

func newTimerWheel() *timerWheel {
	tw := &timerWheel{}
	heap.Init(&tw.h)
	return tw
}

func toNsTime(unixNano int64) nsTime { return nsTime(unixNano) }

func (tw *timerWheel) schedule(deadline nsTime, kind timerKind, packetID uint16) {
	heap.Push(&tw.h, &timerItem{deadline: deadline, kind: kind, packetID: packetID})
}

// Peek returns the earliest-deadline item without removing it.
func (tw *timerWheel) Peek() (*timerItem, bool) {
	if len(tw.h) == 0 {
		return nil, false
	}
	return tw.h[0], true
}

// PopDue removes and returns the earliest timer if its deadline has
// passed now, processing at most one per call (spec §4.8: "process one
// pending timer" per tick).
func (tw *timerWheel) PopDue(now nsTime) (*timerItem, bool) {
	if len(tw.h) == 0 {
		return nil, false
	}
	if tw.h[0].deadline > now {
		return nil, false
	}
	item := heap.Pop(&tw.h).(*timerItem)
	return item, true
}
