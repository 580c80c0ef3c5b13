package redo

import (
	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/server/innodb/slot"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// Handler reconstructs page state (and, for undo-aware ops, replays the
// matching undo insertion) for one physical operation. It is a pure
// function of (record, replay context); no handler holds state across
// calls.
type Handler func(ctx *Context, rec Record) error

// Context bundles every external collaborator a handler needs: the
// per-replayer undo session, the undo registry, the buffer
// manager, the page's transaction slots, and the free-space map.
type Context struct {
	Session  *undo.Session
	Registry *undo.Registry
	BufMgr   undo.BufferManager
	FSM      undo.FreeSpaceMap
	Slots    func(logNumber uint32, block uint64) *slot.PageSlots
	IsLive   slot.IsLiveFunc

	// LatestFrozenXid bounds FREEZE_SLOT's hot-standby snapshot-conflict
	// resolution; see Open Questions on wraparound handling.
	LatestFrozenXid uint64
}

// Dispatcher routes a WAL record to the handler registered for its
// opcode. It is the single switch point; handlers themselves never
// dispatch on opcode again.
type Dispatcher struct {
	handlers map[OpCode]Handler
}

// NewDispatcher builds a dispatcher pre-registered with the ten standard
// physical-operation handlers.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[OpCode]Handler)}
	d.Register(OpInsert, handleInsert)
	d.Register(OpDelete, handleDelete)
	d.Register(OpUpdate, handleUpdate)
	d.Register(OpMultiInsert, handleMultiInsert)
	d.Register(OpLock, handleLock)
	d.Register(OpClean, handleClean)
	d.Register(OpUnused, handleUnused)
	d.Register(OpConfirm, handleConfirm)
	d.Register(OpFreezeSlot, handleFreezeSlot)
	d.Register(OpInvalidateSlot, handleInvalidateSlot)
	return d
}

// Register installs or overrides the handler for op.
func (d *Dispatcher) Register(op OpCode, h Handler) {
	d.handlers[op] = h
}

// Dispatch replays rec against ctx using the handler registered for its
// opcode. An unregistered opcode is a fatal protocol violation: the
// replayer cannot guess at an operation's semantics.
func (d *Dispatcher) Dispatch(ctx *Context, rec Record) error {
	op := Op(rec)
	h, ok := d.handlers[op]
	if !ok {
		return undo.ProtocolViolation("redo: no handler registered for opcode %d", op)
	}
	logger.WithFields(logger.Fields{
		"op":  op,
		"lsn": rec.Lsn(),
		"xid": rec.Xid(),
	}).Debug("replaying WAL record")
	return h(ctx, rec)
}

// assertDoRedoEquality is the cross-subsystem invariant every undo-aware
// handler must check after preparing its undo record: the pointer
// PrepareUndoInsert computed during replay must equal the one embedded
// in the WAL record at DO time. A mismatch is a fatal recovery error.
func assertDoRedoEquality(computed, wal undo.RecPtr) error {
	if computed != wal {
		return undo.ProtocolViolation("redo: computed undo pointer %s does not match WAL-embedded pointer %s", computed, wal)
	}
	return nil
}
