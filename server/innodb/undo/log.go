package undo

import "sync"

// SegmentSize is the fixed size of one undo segment file, created as the
// end pointer crosses each boundary.
const SegmentSize = 1 << 20 // 1 MiB

// Log is one numbered, append-only undo byte stream for a single
// persistence class. Its three pointers only ever move forward.
type Log struct {
	mu sync.Mutex

	Number      uint32
	Persistence Persistence
	Tablespace  TablespaceID

	// Discard, Insert and End are offsets within the log. discard <=
	// insert <= end at all times.
	Discard uint64
	Insert  uint64
	End     uint64

	// LastXactStart is the offset of the transaction header of the
	// currently-owning top transaction, or 0 if none.
	LastXactStart uint64

	// Prevlen is the length in bytes of the most recently inserted
	// record, so the previous record can be located without a
	// back-index.
	Prevlen uint16

	// attachedXid is the top-level transaction currently holding
	// exclusive write attachment to this log, or 0 if unattached.
	attachedXid uint64

	discardLock DiscardLock
}

// DiscardLock returns the log's shared/exclusive discard lock.
func (l *Log) DiscardLock() *DiscardLock { return &l.discardLock }

// Attached reports whether a session currently owns exclusive write
// access to this log.
func (l *Log) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attachedXid != 0
}

// Detach releases the log's exclusive write attachment, making it
// available to AttachableLog again. Per the single-writer-per-log
// invariant only the session that currently holds the attachment ever
// calls this, so no xid check is needed.
func (l *Log) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attachedXid = 0
}

// AdvanceDiscard moves the discard pointer forward to newDiscard. The
// caller must hold the log's discard-lock exclusive.
func (l *Log) AdvanceDiscard(newDiscard uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newDiscard > l.Discard {
		l.Discard = newDiscard
	}
}

// Exhausted reports whether the log can no longer accept new records:
// insert has reached end and nothing remains to discard.
func (l *Log) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Insert == l.End && l.Discard == l.Insert
}

// segmentStart returns the byte offset of the 1 MiB segment containing
// offset.
func segmentStart(offset uint64) uint64 {
	return offset - offset%SegmentSize
}

// bytesRemainingInSegment is the number of bytes left before offset
// crosses into the next 1 MiB segment.
func bytesRemainingInSegment(offset uint64) uint64 {
	return SegmentSize - offset%SegmentSize
}
