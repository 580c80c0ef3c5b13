// Package page implements the small in-process free-space map the redo
// handlers notify whenever a page's free bytes change materially. The
// real engine's FSM is an external, durable collaborator; this is a
// minimal in-memory stand-in with the same contract, built on the
// bucketed free-list idiom an extent manager would use.
package page

import "sync"

// FreeSpaceStats summarizes the map's current occupancy, in the style
// of an extent manager's stats block.
type FreeSpaceStats struct {
	TrackedPages int
	TotalFree    int64
}

// Map tracks the most recently reported free-byte count per (log, block),
// keyed the same way the undo/redo packages address pages. It implements
// undo.FreeSpaceMap without importing it, to keep this package free of a
// dependency on the undo subsystem's internals.
type Map struct {
	mu    sync.Mutex
	free  map[uint64]map[uint64]int
	total int64
}

// NewMap creates an empty free-space map.
func NewMap() *Map {
	return &Map{free: make(map[uint64]map[uint64]int)}
}

// RecordPageWithFreeSpace records block's current free-byte count under
// logNumber, replacing any prior value.
func (m *Map) RecordPageWithFreeSpace(logNumber uint32, block uint64, freeSpace int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byLog, ok := m.free[uint64(logNumber)]
	if !ok {
		byLog = make(map[uint64]int)
		m.free[uint64(logNumber)] = byLog
	}
	if prev, had := byLog[block]; had {
		m.total -= int64(prev)
	}
	byLog[block] = freeSpace
	m.total += int64(freeSpace)
}

// MostFree returns the block with the largest recorded free space under
// logNumber, used by an inserter looking for room without a full scan.
// The second return is false when no page has been recorded yet.
func (m *Map) MostFree(logNumber uint32) (uint64, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byLog, ok := m.free[uint64(logNumber)]
	if !ok || len(byLog) == 0 {
		return 0, 0, false
	}
	var bestBlock uint64
	bestFree := -1
	for blk, free := range byLog {
		if free > bestFree {
			bestBlock, bestFree = blk, free
		}
	}
	return bestBlock, bestFree, true
}

// Stats reports the map's current size and total tracked free space.
func (m *Map) Stats() FreeSpaceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracked := 0
	for _, byLog := range m.free {
		tracked += len(byLog)
	}
	return FreeSpaceStats{TrackedPages: tracked, TotalFree: m.total}
}
