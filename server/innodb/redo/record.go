// Package redo implements the undo-aware WAL replay dispatcher: one
// handler per physical operation, each reconstructing page state and
// replaying the matching undo insertion so that the undo pointer
// produced during replay equals the one produced when the operation was
// first done.
package redo

import "github.com/oltpcore/undoengine/server/innodb/undo"

// OpCode identifies the physical operation a WAL record replays,
// extracted from info & OPMASK.
type OpCode uint8

const (
	OpInsert OpCode = iota
	OpDelete
	OpUpdate
	OpMultiInsert
	OpLock
	OpClean
	OpUnused
	OpConfirm
	OpFreezeSlot
	OpInvalidateSlot
)

// OpMask is the bitmask isolating the opcode from any accompanying
// per-record info flags (e.g. INIT_PAGE) in a WAL record's Info byte.
const OpMask = 0x0F

// InitPageFlag, set outside OpMask, tells the INSERT handler to
// initialize a fresh page rather than mutate an existing one.
const InitPageFlag = 0x10

// Record is the WAL record this package consumes; the real WAL reader
// lives outside this package and implements it over its wire format.
type Record interface {
	// Data returns the record's fixed+variable payload, excluding block
	// references.
	Data() []byte
	// Info returns the record's info byte, OpMask | any extra flags.
	Info() byte
	// Xid returns the transaction id that produced this record.
	Xid() uint64
	// Lsn returns this record's log sequence number.
	Lsn() uint64
	// UrecPtr returns the undo pointer embedded in the record at DO
	// time; REDO must reproduce the identical pointer.
	UrecPtr() undo.RecPtr
	// HasBlockRef reports whether block reference blockID is present.
	HasBlockRef(blockID int) bool
	// BlockTag resolves block reference blockID to (logNumber, block).
	BlockTag(blockID int) (logNumber uint32, block uint64, ok bool)
	// BlockData returns the raw bytes carried for block reference
	// blockID (e.g. the new tuple image for INSERT).
	BlockData(blockID int) []byte
}

// Op returns the opcode component of a record's Info byte.
func Op(r Record) OpCode {
	return OpCode(r.Info() & OpMask)
}

// InitPage reports whether the INIT_PAGE flag is set.
func InitPage(r Record) bool {
	return r.Info()&InitPageFlag != 0
}
