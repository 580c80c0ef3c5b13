package manager

import (
	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/server/innodb/redo"
	"github.com/oltpcore/undoengine/server/innodb/slot"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// RedoLogManager drives WAL replay: it owns the redo dispatcher and the
// per-replayer undo session every handler stages its undo insertion
// through.
type RedoLogManager struct {
	dispatcher *redo.Dispatcher
	ctx        *redo.Context
	locks      *LockManager
	slots      *slot.Registry
}

// RedoLogManagerConfig bundles the collaborators a replayer needs.
// Slots may be left nil: NewRedoLogManager then creates its own
// slot.Registry and provides a real per-(log,block) PageSlots lookup
// backed by it, rather than requiring every caller to supply one.
type RedoLogManagerConfig struct {
	Session         *undo.Session
	Registry        *undo.Registry
	BufMgr          undo.BufferManager
	FSM             undo.FreeSpaceMap
	Slots           func(logNumber uint32, block uint64) *slot.PageSlots
	IsLive          slot.IsLiveFunc
	LatestFrozenXid uint64
}

// NewRedoLogManager builds a manager pre-wired with the standard
// physical-operation handlers.
func NewRedoLogManager(cfg RedoLogManagerConfig) *RedoLogManager {
	slotsFn := cfg.Slots
	var slotRegistry *slot.Registry
	if slotsFn == nil {
		slotRegistry = slot.NewRegistry()
		slotsFn = slotRegistry.For
	}
	return &RedoLogManager{
		dispatcher: redo.NewDispatcher(),
		ctx: &redo.Context{
			Session:         cfg.Session,
			Registry:        cfg.Registry,
			BufMgr:          cfg.BufMgr,
			FSM:             cfg.FSM,
			Slots:           slotsFn,
			IsLive:          cfg.IsLive,
			LatestFrozenXid: cfg.LatestFrozenXid,
		},
		locks: NewLockManager(),
		slots: slotRegistry,
	}
}

// Replay dispatches one WAL record; a fatal dispatch error aborts the
// whole recovery pass. LOCK records also re-acquire the replayed row
// lock in the in-memory lock manager so that a replayer resuming
// foreground work after recovery sees the same lock state the original
// backend held.
func (m *RedoLogManager) Replay(rec redo.Record) error {
	if redo.Op(rec) == redo.OpLock {
		if logNumber, block, ok := rec.BlockTag(0); ok {
			if err := m.locks.AcquireLock(rec.Xid(), logNumber, uint32(block), 0, LOCK_X); err != nil {
				logger.WithFields(logger.Fields{"xid": rec.Xid(), "log": logNumber, "block": block}).
					Warnf("redo: could not reacquire replayed row lock: %v", err)
			}
		}
	}
	if err := m.dispatcher.Dispatch(m.ctx, rec); err != nil {
		logger.WithFields(logger.Fields{
			"lsn": rec.Lsn(),
			"xid": rec.Xid(),
		}).Errorf("redo replay failed: %v", err)
		return err
	}
	return nil
}

// Register overrides or extends the handler table, e.g. for tests that
// substitute a fake handler for one opcode.
func (m *RedoLogManager) Register(op redo.OpCode, h redo.Handler) {
	m.dispatcher.Register(op, h)
}

// ReleaseXidLocks drops every row lock replay re-acquired for xid, once
// recovery has determined the transaction committed or aborted.
func (m *RedoLogManager) ReleaseXidLocks(xid uint64) {
	m.locks.ReleaseLocks(xid)
}

// Close stops the lock manager's deadlock-detection loop and detaches
// the replay session's undo logs, once a recovery pass is finished.
func (m *RedoLogManager) Close() {
	m.locks.Close()
	if m.ctx.Session != nil {
		m.ctx.Session.Close()
	}
}
