package manager

import (
	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/server/innodb/buffer_pool"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// DefaultPoolCapacity bounds how many undo pages NewUndoLogManagerWithPool
// keeps pinned-or-cached in memory before evicting the least recently used.
const DefaultPoolCapacity = 1024

// UndoLogManager is the session-facing facade over the undo package: it
// owns the process-wide registry and allocator and hands each caller a
// Session scoped to one backend or, during recovery, the single
// replayer.
type UndoLogManager struct {
	registry  *undo.Registry
	allocator *undo.Allocator
	fetcher   *undo.Fetcher
	bufMgr    undo.BufferManager
}

// NewUndoLogManager creates a manager rooted at undoDir (e.g.
// "base/undo"), backed by bufMgr for page pinning.
func NewUndoLogManager(undoDir string, bufMgr undo.BufferManager) (*UndoLogManager, error) {
	registry, err := undo.NewRegistry(undoDir)
	if err != nil {
		return nil, err
	}
	allocator := undo.NewAllocator(registry)
	return &UndoLogManager{
		registry:  registry,
		allocator: allocator,
		fetcher:   undo.NewFetcher(registry, bufMgr),
		bufMgr:    bufMgr,
	}, nil
}

// NewUndoLogManagerWithPool creates a manager rooted at undoDir whose page
// pinning is backed by a disk-resident buffer_pool.Pool sized to capacity,
// instead of a caller-supplied undo.BufferManager. This is the production
// path: ReadBuffer misses are satisfied by reading the exact segment file
// undo.Registry.PageFileOffset resolves, and released dirty pages are
// written back through the same path.
func NewUndoLogManagerWithPool(undoDir string, capacity int) (*UndoLogManager, error) {
	registry, err := undo.NewRegistry(undoDir)
	if err != nil {
		return nil, err
	}
	pool := buffer_pool.NewPool(registry, capacity)
	allocator := undo.NewAllocator(registry)
	return &UndoLogManager{
		registry:  registry,
		allocator: allocator,
		fetcher:   undo.NewFetcher(registry, pool),
		bufMgr:    pool,
	}, nil
}

// NewSession returns a fresh per-backend undo session.
func (m *UndoLogManager) NewSession() *undo.Session {
	return undo.NewSession(m.allocator, m.bufMgr)
}

// Attach exposes the allocator's log attachment directly, for callers
// that only need a log handle (e.g. tests).
func (m *UndoLogManager) Attach(persistence undo.Persistence, tablespace undo.TablespaceID, xid uint64) (*undo.Log, error) {
	return m.allocator.Attach(persistence, tablespace, xid)
}

// Fetch walks the per-tuple undo chain starting at urp.
func (m *UndoLogManager) Fetch(urp undo.RecPtr, block uint64, offset uint16, xid uint64, cb undo.VisibilityCallback) (*undo.UnpackedUndoRecord, error) {
	return m.fetcher.FetchRecord(urp, block, offset, xid, cb)
}

// Checkpoint durably snapshots the registry to pgUndoDir/<lsn>.
func (m *UndoLogManager) Checkpoint(pgUndoDir string, lsn uint64) (string, error) {
	return m.registry.Checkpoint(pgUndoDir, lsn)
}

// Recover rebuilds the registry from a prior checkpoint snapshot.
func (m *UndoLogManager) Recover(path string) error {
	if err := m.registry.Recover(path); err != nil {
		return err
	}
	logger.Infof("undo registry recovered from %s", path)
	return nil
}

// Discard advances a log's discard pointer to newDiscard, taking the
// log's discard-lock exclusive so no concurrent fetch observes bytes
// below it mid-advance.
func (m *UndoLogManager) Discard(logNumber uint32, newDiscard uint64) error {
	l := m.registry.Lookup(logNumber)
	if l == nil {
		return undo.ProtocolViolation("discard: unknown undo log %d", logNumber)
	}
	l.DiscardLock().Lock()
	defer l.DiscardLock().Unlock()

	l.AdvanceDiscard(newDiscard)
	logger.WithFields(logger.Fields{
		"log":     logNumber,
		"discard": newDiscard,
	}).Debug("undo discard pointer advanced")
	return nil
}
