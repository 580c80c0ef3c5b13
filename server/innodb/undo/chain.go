package undo

import (
	"encoding/binary"
)

// ChainMaintainer links each top transaction's first undo record to the
// previous one on the same log by patching the previous record's `next`
// field in place. A ChainMaintainer is reused across a session's
// staged records; Prepare schedules the patch outside the critical
// section, the accompanying commit step applies it inside one.
type ChainMaintainer struct {
	allocator *Allocator

	scheduled   bool
	bufMgr      BufferManager
	buf         Buffer
	fieldOffset int // byte offset of `next` within buf.Page()
	newValue    RecPtr
}

// PrepareUndoRecordUpdateTransInfo locates the byte position of the
// previous transaction's `next` field so it can be patched once inside
// the critical section. It reads the previous record's header (and, if
// present, its relation-details and block sub-headers) to compute the
// offset. A discarded previous record is not an
// error: the patch is simply skipped, since the information would be
// useless.
func (c *ChainMaintainer) PrepareUndoRecordUpdateTransInfo(l *Log, prevXactUrp, newUrp RecPtr, bufMgr BufferManager) error {
	l.DiscardLock().RLock()
	defer l.DiscardLock().RUnlock()

	l.mu.Lock()
	discard := l.Discard
	l.mu.Unlock()
	if prevXactUrp.Offset() < discard {
		c.scheduled = false
		return nil
	}

	block := prevXactUrp.Offset() / uint64(PageSize)
	buf, err := bufMgr.ReadBuffer(l.Number, block, LockShared)
	if err != nil {
		return WrapIO(err, "read previous transaction header")
	}

	page := buf.Page()
	start := int(prevXactUrp.Offset() % uint64(PageSize))
	if len(page) < start+headerSize {
		bufMgr.ReleaseBuffer(buf)
		return ProtocolViolation("previous transaction header truncated at %s", prevXactUrp)
	}
	info := Info(page[start+1])

	offset := start + headerSize
	if info&InfoRelationDetails != 0 {
		offset += relationDetailsSize
	}
	if info&InfoBlock != 0 {
		offset += blockSize
	}
	if info&InfoTransaction == 0 {
		bufMgr.ReleaseBuffer(buf)
		return ProtocolViolation("previous transaction record at %s has no TRANSACTION info", prevXactUrp)
	}

	// buf stays pinned here: UndoRecordUpdateTransInfo writes through it
	// inside the critical section and releases it once the patch is
	// applied and the page is marked dirty.
	c.scheduled = true
	c.bufMgr = bufMgr
	c.buf = buf
	c.fieldOffset = offset
	c.newValue = newUrp
	return nil
}

// UndoRecordUpdateTransInfo applies the scheduled patch inside the
// critical section: writes newValue across the recorded byte position
// and marks the buffer dirty. It is a no-op if nothing was scheduled
// (TEMP logs never build a chain: other sessions cannot read those
// buffers, so there is nothing to patch across sessions).
func (c *ChainMaintainer) UndoRecordUpdateTransInfo() error {
	if !c.scheduled {
		return nil
	}
	page := c.buf.Page()
	binary.LittleEndian.PutUint64(page[c.fieldOffset:c.fieldOffset+8], uint64(c.newValue))
	c.buf.MarkDirty()
	c.bufMgr.ReleaseBuffer(c.buf)
	c.scheduled = false
	c.buf = nil
	return nil
}

// reset releases any pinned buffer left scheduled but never applied —
// PrepareUndoRecordUpdateTransInfo scheduled a patch but the staged
// record was abandoned before InsertPreparedUndo ran
// UndoRecordUpdateTransInfo — and clears state for reuse.
func (c *ChainMaintainer) reset() {
	if c.scheduled && c.buf != nil {
		c.bufMgr.ReleaseBuffer(c.buf)
	}
	c.scheduled = false
	c.buf = nil
}
