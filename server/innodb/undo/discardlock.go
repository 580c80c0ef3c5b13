package undo

import (
	"time"

	"github.com/oltpcore/undoengine/server/innodb/latch"
)

// DiscardLockStats mirrors the contention counters the lock manager keeps
// for row/table locks, scoped here to the single discard-lock each undo
// log owns.
type DiscardLockStats struct {
	SharedGrants    uint64
	ExclusiveGrants uint64
	WaitingReaders  uint64
	TotalWaitTime   time.Duration
}

// DiscardLock is the per-log shared/exclusive lock: the discard worker
// takes it exclusive to advance discard, every reader (fetch,
// transaction-chain update) takes it shared.
type DiscardLock struct {
	l     latch.Latch
	stats DiscardLockStats
}

func (d *DiscardLock) RLock() {
	start := time.Now()
	d.l.RLock()
	d.stats.TotalWaitTime += time.Since(start)
	d.stats.SharedGrants++
}

func (d *DiscardLock) RUnlock() { d.l.RUnlock() }

func (d *DiscardLock) Lock() {
	start := time.Now()
	d.l.Lock()
	d.stats.TotalWaitTime += time.Since(start)
	d.stats.ExclusiveGrants++
}

func (d *DiscardLock) Unlock() { d.l.Unlock() }

func (d *DiscardLock) Stats() DiscardLockStats { return d.stats }
