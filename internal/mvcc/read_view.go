// Package mvcc provides the visibility and liveness surface that the undo
// fetch path and the redo slot handlers consult, without depending on the
// foreground transaction manager itself. It is the consumer side of the
// undo.VisibilityCallback and slot.IsLiveFunc contracts.
package mvcc

import "sort"

// ReadView is a snapshot of the transaction system taken when a scanning
// transaction starts. Visibility of a row version follows the classic
// four-part rule: a version is visible if its creator is the read view's
// own creator, or if its creator committed strictly before the view's
// minimum active transaction, and not visible if its creator started at
// or after the view's max, with versions in between resolved against the
// active-id list captured at snapshot time.
type ReadView struct {
	minTrxID     uint64
	maxTrxID     uint64
	creatorTrxID uint64
	activeTrxIDs []uint64
}

// NewReadView builds a snapshot from the currently active transaction ids
// (sorted ascending) and the id of the transaction creating the view.
func NewReadView(active []uint64, creator uint64) *ReadView {
	ids := append([]uint64(nil), active...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rv := &ReadView{creatorTrxID: creator, activeTrxIDs: ids}
	if len(ids) > 0 {
		rv.minTrxID = ids[0]
		rv.maxTrxID = ids[len(ids)-1] + 1
	} else {
		rv.minTrxID = creator
		rv.maxTrxID = creator
	}
	return rv
}

// ChangesVisible reports whether a row version stamped with creatorXid is
// visible to this read view.
func (rv *ReadView) ChangesVisible(creatorXid uint64) bool {
	if creatorXid == rv.creatorTrxID {
		return true
	}
	if creatorXid < rv.minTrxID {
		return true
	}
	if creatorXid >= rv.maxTrxID {
		return false
	}
	return !rv.isActive(creatorXid)
}

func (rv *ReadView) isActive(xid uint64) bool {
	i := sort.Search(len(rv.activeTrxIDs), func(i int) bool { return rv.activeTrxIDs[i] >= xid })
	return i < len(rv.activeTrxIDs) && rv.activeTrxIDs[i] == xid
}

// IsLive reports whether xid is one of the transactions active when this
// view was taken; it backs slot.IsLiveFunc for slot reuse decisions.
func (rv *ReadView) IsLive(xid uint64) bool {
	return rv.isActive(xid)
}

// VisibleUndo adapts ChangesVisible to undo.VisibilityCallback's shape: it
// stops the undo chain walk as soon as it finds a version this view can
// see, so callers get the newest visible version rather than walking to
// the oldest.
func (rv *ReadView) VisibleUndo(creatorXid uint64) bool {
	return rv.ChangesVisible(creatorXid)
}
