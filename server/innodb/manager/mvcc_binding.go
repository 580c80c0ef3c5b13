package manager

import (
	"time"

	"github.com/oltpcore/undoengine/internal/mvcc"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// FetchVisible walks urp's undo chain looking for the newest version
// visible to rv, adapting ReadView.ChangesVisible to the fetcher's
// (record, block, offset, xid) callback shape. The returned
// MVCCVisibility classifies the outcome for callers that report it
// upstream (MVCC_VISIBLE means record is non-nil).
func (m *UndoLogManager) FetchVisible(urp undo.RecPtr, block uint64, offset uint16, rv *mvcc.ReadView) (*undo.UnpackedUndoRecord, MVCCVisibility, error) {
	cb := func(record *undo.UnpackedUndoRecord, block uint64, offset uint16, xid uint64) bool {
		return rv.VisibleUndo(record.Xid)
	}
	record, err := m.fetcher.FetchRecord(urp, block, offset, 0, cb)
	if err != nil {
		return nil, MVCC_INVISIBLE, err
	}
	if record == nil {
		return nil, MVCC_INVISIBLE, nil
	}
	return record, MVCC_VISIBLE, nil
}

// SnapshotOf builds both a ReadView (for FetchVisible) and the
// MVCCSnapshot record an auditor or EXPLAIN-style caller would report,
// from the same trxSys state.
func SnapshotOf(trxSys *mvcc.TrxSys, creator uint64, stamp time.Time) (*mvcc.ReadView, MVCCSnapshot) {
	rv := trxSys.Snapshot(creator)
	active := trxSys.ActiveIDs()
	return rv, MVCCSnapshot{
		ID:         creator,
		CreateTime: stamp,
		MinTxID:    minOf(active, creator),
		MaxTxID:    maxOf(active, creator),
		TxMap:      active,
	}
}

func minOf(ids []uint64, fallback uint64) uint64 {
	m := fallback
	for _, id := range ids {
		if id < m {
			m = id
		}
	}
	return m
}

func maxOf(ids []uint64, fallback uint64) uint64 {
	m := fallback
	for _, id := range ids {
		if id > m {
			m = id
		}
	}
	return m
}
