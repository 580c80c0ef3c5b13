// Package undo implements the undo log subsystem: a process-wide registry
// of append-only, page-oriented byte streams that hold rollback and
// multi-version-visibility information addressed by a 64-bit UndoRecPtr.
package undo

import "fmt"

// RecPtr addresses a byte offset inside a numbered undo log. The top 24
// bits hold the log number, the low 40 bits hold the offset within that
// log. Offsets include page headers; callers skip those when walking
// payload bytes.
type RecPtr uint64

const (
	logNumberBits = 24
	offsetBits    = 64 - logNumberBits

	offsetMask = (uint64(1) << offsetBits) - 1

	// InvalidRecPtr is returned when no record could be located, e.g. the
	// requested pointer has already been discarded.
	InvalidRecPtr RecPtr = 0

	// MaxLogNumber is the largest log number representable in 24 bits.
	MaxLogNumber = (uint32(1) << logNumberBits) - 1
)

// MakeRecPtr packs a log number and an offset into a RecPtr.
func MakeRecPtr(logNumber uint32, offset uint64) RecPtr {
	return RecPtr(uint64(logNumber)<<offsetBits | (offset & offsetMask))
}

// LogNumber returns the log number component.
func (p RecPtr) LogNumber() uint32 {
	return uint32(uint64(p) >> offsetBits)
}

// Offset returns the offset-within-log component.
func (p RecPtr) Offset() uint64 {
	return uint64(p) & offsetMask
}

// Valid reports whether p is not the zero/invalid pointer.
func (p RecPtr) Valid() bool {
	return p != InvalidRecPtr
}

func (p RecPtr) String() string {
	return fmt.Sprintf("%d.%010X", p.LogNumber(), p.Offset())
}

// Add returns p advanced by n bytes within the same log. Callers are
// responsible for ensuring the result does not cross a segment boundary
// without first creating the segment.
func (p RecPtr) Add(n uint64) RecPtr {
	return MakeRecPtr(p.LogNumber(), p.Offset()+n)
}

// Sub returns p moved back by n bytes within the same log, used to
// locate the previous record via prevlen.
func (p RecPtr) Sub(n uint64) RecPtr {
	return MakeRecPtr(p.LogNumber(), p.Offset()-n)
}

// PrevRecordPointer returns the pointer of the record immediately
// preceding the one at urp, given that record's stored prevlen.
func PrevRecordPointer(urp RecPtr, prevlen uint16) RecPtr {
	return urp.Sub(uint64(prevlen))
}
