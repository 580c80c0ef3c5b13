package redo

import (
	"encoding/binary"

	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// Tuple header flags: bit flags in the header byte at a tuple's offset,
// shared by every handler that flips a bit on an existing tuple.
const (
	flagDeleted     = 1 << 0
	flagUpdated     = 1 << 1
	flagSpeculative = 1 << 2
	flagLocked      = 1 << 3
)

// acquirePageForRedo mirrors XLogReadBufferForRedo/XLogInitBufferForRedo:
// when initPage is set it returns a freshly zeroed buffer, otherwise it
// pins the existing one and reports whether the handler still needs to
// apply the mutation (NeedsRedo) or the page was already caught up by a
// full-page image.
func acquirePageForRedo(ctx *Context, logNumber uint32, block uint64, initPage bool) (undo.Buffer, undo.RedoAction, error) {
	if initPage {
		buf, err := ctx.BufMgr.XLogInitBufferForRedo(logNumber, block)
		return buf, undo.NeedsRedo, err
	}
	return ctx.BufMgr.XLogReadBufferForRedo(logNumber, block)
}

// stageAndAssert prepares an undo record and verifies the DO/REDO
// invariant before the handler touches the data page.
func stageAndAssert(ctx *Context, rec *undo.UnpackedUndoRecord, persistence undo.Persistence, xid uint64, walUrp undo.RecPtr) (undo.RecPtr, error) {
	urp, _, err := ctx.Session.PrepareUndoInsert(rec, persistence, xid)
	if err != nil {
		return undo.InvalidRecPtr, err
	}
	if err := assertDoRedoEquality(urp, walUrp); err != nil {
		return undo.InvalidRecPtr, err
	}
	return urp, nil
}

// maybeUpdateFreeSpace notifies the free-space map when a page's free
// bytes fall below 20% of the page size.
func maybeUpdateFreeSpace(ctx *Context, logNumber uint32, block uint64, freeSpace int) {
	if freeSpace < undo.PageSize/5 {
		ctx.FSM.RecordPageWithFreeSpace(logNumber, block, freeSpace)
	}
}

// handleInsert reconstructs a single new tuple at the record's offset,
// initializing the page first if INIT_PAGE is set.
func handleInsert(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("INSERT redo record missing block reference")
	}

	tuple := rec.BlockData(0)
	offset := binary.LittleEndian.Uint16(rec.Data()[:2])

	undoRec := &undo.UnpackedUndoRecord{
		Type:    undo.Insert,
		Block:   block,
		Offset:  offset,
		Tuple:   tuple,
		PrevXid: 0,
	}
	urp, err := stageAndAssert(ctx, undoRec, undo.Permanent, rec.Xid(), rec.UrecPtr())
	if err != nil {
		return err
	}
	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, InitPage(rec))
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		writeTupleAt(page, int(offset), tuple)
		slots := ctx.Slots(logNumber, block)
		slotIdx := slots.Assign(0, rec.Xid(), urp, ctx.IsLive)
		_ = slotIdx
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleDelete sets the deleted bit on the tuple header, preserving the
// full old tuple image as the undo record's payload.
func handleDelete(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("DELETE redo record missing block reference")
	}
	offset := binary.LittleEndian.Uint16(rec.Data()[:2])
	oldTuple := rec.BlockData(0)

	undoRec := &undo.UnpackedUndoRecord{
		Type:    undo.Delete,
		Block:   block,
		Offset:  offset,
		Payload: oldTuple,
		PrevXid: rec.Xid(),
	}
	urp, err := stageAndAssert(ctx, undoRec, undo.Permanent, rec.Xid(), rec.UrecPtr())
	if err != nil {
		return err
	}
	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		setTupleFlag(page, int(offset), flagDeleted)
		slots := ctx.Slots(logNumber, block)
		slots.Assign(0, rec.Xid(), urp, ctx.IsLive)
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleUpdate rebuilds the new tuple from a stored prefix/suffix delta
// against the old tuple bytes, in-place or non-in-place depending on
// whether the record carries a second block reference.
func handleUpdate(ctx *Context, rec Record) error {
	oldLogNumber, oldBlock, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("UPDATE redo record missing old block reference")
	}

	inPlace := !rec.HasBlockRef(1)
	data := rec.Data()
	prefixLen := binary.LittleEndian.Uint16(data[0:2])
	suffixLen := binary.LittleEndian.Uint16(data[2:4])
	oldOffset := binary.LittleEndian.Uint16(data[4:6])

	oldTuple := rec.BlockData(0)

	if inPlace {
		undoRec := &undo.UnpackedUndoRecord{
			Type:    undo.InplaceUpdate,
			Block:   oldBlock,
			Offset:  oldOffset,
			Payload: oldTuple,
			PrevXid: rec.Xid(),
		}
		urp, err := stageAndAssert(ctx, undoRec, undo.Permanent, rec.Xid(), rec.UrecPtr())
		if err != nil {
			return err
		}
		if err := ctx.Session.InsertPreparedUndo(); err != nil {
			return err
		}
		defer ctx.Session.UnlockReleaseUndoBuffers()

		buf, action, err := acquirePageForRedo(ctx, oldLogNumber, oldBlock, false)
		if err != nil {
			return err
		}
		if action == undo.NeedsRedo {
			page := buf.Page()
			newTuple := rebuildTuple(oldTuple, prefixLen, suffixLen, rec.BlockData(0))
			writeTupleAt(page, int(oldOffset), newTuple)
			setTupleFlag(page, int(oldOffset), flagUpdated)
			ctx.Slots(oldLogNumber, oldBlock).Assign(0, rec.Xid(), urp, ctx.IsLive)
			buf.SetLSN(rec.Lsn())
			buf.MarkDirty()
			maybeUpdateFreeSpace(ctx, oldLogNumber, oldBlock, len(page)-int(oldOffset)-len(newTuple))
		}
		ctx.BufMgr.UnlockReleaseBuffer(buf)
		return nil
	}

	// Non-in-place: one UPDATE record on the old block (pointing forward
	// via payload) plus one INSERT record on the new block.
	newLogNumber, newBlock, _ := rec.BlockTag(1)
	newOffset := binary.LittleEndian.Uint16(data[6:8])
	newTuple := rebuildTuple(oldTuple, prefixLen, suffixLen, rec.BlockData(1))

	ctx.Session.SetPrepareSize(2)

	updateRec := &undo.UnpackedUndoRecord{
		Type:    undo.Update,
		Block:   oldBlock,
		Offset:  oldOffset,
		Payload: append(encodeNewTid(newBlock, newOffset), oldTuple...),
		PrevXid: rec.Xid(),
	}
	insertRec := &undo.UnpackedUndoRecord{
		Type:   undo.Insert,
		Block:  newBlock,
		Offset: newOffset,
		Tuple:  newTuple,
	}

	updateUrp, _, err := ctx.Session.PrepareUndoInsert(updateRec, undo.Permanent, rec.Xid())
	if err != nil {
		return err
	}
	insertUrp, _, err := ctx.Session.PrepareUndoInsert(insertRec, undo.Permanent, rec.Xid())
	if err != nil {
		return err
	}
	if err := assertDoRedoEquality(updateUrp, rec.UrecPtr()); err != nil {
		return err
	}

	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	oldBuf, action, err := acquirePageForRedo(ctx, oldLogNumber, oldBlock, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := oldBuf.Page()
		setTupleFlag(page, int(oldOffset), flagUpdated)
		ctx.Slots(oldLogNumber, oldBlock).Assign(0, rec.Xid(), updateUrp, ctx.IsLive)
		oldBuf.SetLSN(rec.Lsn())
		oldBuf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(oldBuf)

	newBuf, action, err := acquirePageForRedo(ctx, newLogNumber, newBlock, InitPage(rec))
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := newBuf.Page()
		writeTupleAt(page, int(newOffset), newTuple)
		ctx.Slots(newLogNumber, newBlock).Assign(0, rec.Xid(), insertUrp, ctx.IsLive)
		newBuf.SetLSN(rec.Lsn())
		newBuf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(newBuf)
	return nil
}

// handleMultiInsert adds N tuples within declared offset ranges, one
// undo record per range, each chained via blkprev to its predecessor.
func handleMultiInsert(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("MULTI_INSERT redo record missing block reference")
	}

	ranges := decodeOffsetRanges(rec.Data())
	ctx.Session.SetPrepareSize(len(ranges))

	var blkprev undo.RecPtr
	urps := make([]undo.RecPtr, len(ranges))
	for i, rng := range ranges {
		undoRec := &undo.UnpackedUndoRecord{
			Type:    undo.MultiInsert,
			Block:   block,
			Offset:  rng.start,
			Blkprev: blkprev,
			Payload: encodeOffsetRange(rng),
		}
		urp, _, err := ctx.Session.PrepareUndoInsert(undoRec, undo.Permanent, rec.Xid())
		if err != nil {
			return err
		}
		urps[i] = urp
		blkprev = urp
	}
	if err := assertDoRedoEquality(blkprev, rec.UrecPtr()); err != nil {
		return err
	}
	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, InitPage(rec))
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		tuples := rec.BlockData(0)
		cursor := 0
		slots := ctx.Slots(logNumber, block)
		for i, rng := range ranges {
			for off := rng.start; off <= rng.end; off++ {
				n := int(rng.tupleLen)
				writeTupleAt(page, int(off), tuples[cursor:cursor+n])
				cursor += n
			}
			slots.Assign(0, rec.Xid(), urps[i], ctx.IsLive)
		}
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleLock rewrites the tuple header to reflect the lock mode carried
// in the payload, emitting XID_LOCK_ONLY or XID_MULTI_LOCK_ONLY based on
// the record's infomask.
func handleLock(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("LOCK redo record missing block reference")
	}
	data := rec.Data()
	offset := binary.LittleEndian.Uint16(data[0:2])
	multi := data[2] != 0

	recType := undo.XidLockOnly
	if multi {
		recType = undo.XidMultiLockOnly
	}
	undoRec := &undo.UnpackedUndoRecord{
		Type:    recType,
		Block:   block,
		Offset:  offset,
		Payload: data[3:],
		PrevXid: rec.Xid(),
	}
	urp, err := stageAndAssert(ctx, undoRec, undo.Permanent, rec.Xid(), rec.UrecPtr())
	if err != nil {
		return err
	}
	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		setTupleFlag(page, int(offset), flagLocked)
		ctx.Slots(logNumber, block).Assign(0, rec.Xid(), urp, ctx.IsLive)
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleClean executes a page-prune pass: every byte with the deleted
// bit set is cleared in place. Tuples are not moved, so the page is not
// defragmented. No undo is generated; the FSM is updated after replay.
func handleClean(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("CLEAN redo record missing block reference")
	}
	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		freeSpace := pruneDeletedTuples(page)
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
		maybeUpdateFreeSpace(ctx, logNumber, block, freeSpace)
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleUnused marks item ids unused by clearing the header byte at each
// listed offset; tuples are not moved, so fragmentation is not repaired.
// One undo record carries the cleared offset array as payload.
func handleUnused(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("UNUSED redo record missing block reference")
	}
	offsets := rec.Data()

	undoRec := &undo.UnpackedUndoRecord{
		Type:    undo.ItemIDUnused,
		Block:   block,
		Payload: offsets,
		PrevXid: rec.Xid(),
	}
	urp, err := stageAndAssert(ctx, undoRec, undo.Permanent, rec.Xid(), rec.UrecPtr())
	if err != nil {
		return err
	}
	if err := ctx.Session.InsertPreparedUndo(); err != nil {
		return err
	}
	defer ctx.Session.UnlockReleaseUndoBuffers()

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		freeSpace := markItemsUnused(page, offsets)
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
		maybeUpdateFreeSpace(ctx, logNumber, block, freeSpace)
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	_ = urp
	return nil
}

// handleConfirm clears the speculative-insertion bit on success or marks
// the tuple dead on failure. No undo is generated.
func handleConfirm(ctx *Context, rec Record) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("CONFIRM redo record missing block reference")
	}
	data := rec.Data()
	offset := binary.LittleEndian.Uint16(data[0:2])
	success := data[2] != 0

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		page := buf.Page()
		if success {
			clearTupleFlag(page, int(offset), flagSpeculative)
		} else {
			setTupleFlag(page, int(offset), flagDeleted)
		}
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}

// handleFreezeSlot resets the page's slot array entry and zeroes the page
// word clearTupleSlotRef addresses for that slot; tuple headers that
// refer to the slot are not rewritten. In hot standby it first resolves a snapshot
// conflict against LatestFrozenXid (see Open Questions on wraparound).
func handleFreezeSlot(ctx *Context, rec Record) error {
	return freezeOrInvalidate(ctx, rec, false)
}

// handleInvalidateSlot resets only the slot's xid to invalid, leaving
// UrecPtr untouched.
func handleInvalidateSlot(ctx *Context, rec Record) error {
	return freezeOrInvalidate(ctx, rec, true)
}

func freezeOrInvalidate(ctx *Context, rec Record, invalidateOnly bool) error {
	logNumber, block, ok := rec.BlockTag(0)
	if !ok {
		return undo.ProtocolViolation("slot-freeze redo record missing block reference")
	}
	slotIndex := int(binary.LittleEndian.Uint16(rec.Data()[:2]))

	buf, action, err := acquirePageForRedo(ctx, logNumber, block, false)
	if err != nil {
		return err
	}
	if action == undo.NeedsRedo {
		slots := ctx.Slots(logNumber, block)
		if ctx.LatestFrozenXid != 0 {
			if s, occupied := slots.Get(slotIndex); occupied && s.Xid > ctx.LatestFrozenXid {
				ctx.BufMgr.UnlockReleaseBuffer(buf)
				return undo.ProtocolViolation(
					"redo: slot %d xid %d is newer than latestFrozenXid %d: hot-standby snapshot conflict at lsn %d",
					slotIndex, s.Xid, ctx.LatestFrozenXid, rec.Lsn())
			}
		}
		slots.FreezeSlot(slotIndex, invalidateOnly)
		if !invalidateOnly {
			clearTupleSlotRef(buf.Page(), slotIndex)
		}
		buf.SetLSN(rec.Lsn())
		buf.MarkDirty()
	}
	ctx.BufMgr.UnlockReleaseBuffer(buf)
	return nil
}
