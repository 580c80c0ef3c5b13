// Package slot implements the per-page transaction slot array and its
// TPD (transaction page directory) overflow, used by tuples to reference
// the last undo record written by the transaction that touched them.
package slot

import (
	"sync"

	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// InlineSlotCount is the number of transaction slots a data page carries
// before overflowing to a TPD page.
const InlineSlotCount = 4

// InvalidSlot marks a tuple as not yet referencing any transaction slot.
const InvalidSlot = -1

// TransSlot stores the last undo pointer created by one transaction on
// the page that owns this slot.
type TransSlot struct {
	XidEpoch uint32
	Xid      uint64
	UrecPtr  undo.RecPtr
}

func (s TransSlot) occupied() bool { return s.UrecPtr.Valid() }

// PageSlots is the small inline transaction-slot array carried by every
// data page, plus a pointer to its TPD overflow page once the inline
// array fills up.
type PageSlots struct {
	mu       sync.Mutex
	slots    [InlineSlotCount]TransSlot
	tpdBlock uint64 // 0 if no TPD page is attached
	tpd      *TPD
}

// IsLiveFunc reports whether xid is still a live transaction; slots
// belonging to finished transactions may be reused.
type IsLiveFunc func(xid uint64) bool

// Assign finds or creates a slot for (xidEpoch, xid, urp), spilling to
// the TPD overflow when every inline slot is held by a still-live
// transaction. It returns the slot index; TPD indices are offset by
// InlineSlotCount so callers can distinguish them.
func (p *PageSlots) Assign(xidEpoch uint32, xid uint64, urp undo.RecPtr, isLive IsLiveFunc) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		if p.slots[i].Xid == xid && p.slots[i].occupied() {
			p.slots[i].UrecPtr = urp
			return i
		}
	}
	for i := range p.slots {
		if !p.slots[i].occupied() || !isLive(p.slots[i].Xid) {
			p.slots[i] = TransSlot{XidEpoch: xidEpoch, Xid: xid, UrecPtr: urp}
			return i
		}
	}

	if p.tpd == nil {
		p.tpd = newTPD()
	}
	idx := p.tpd.assign(xidEpoch, xid, urp, isLive)
	return InlineSlotCount + idx
}

// Get returns the slot at index, which may reference either the inline
// array or the TPD overflow.
func (p *PageSlots) Get(index int) (TransSlot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < InlineSlotCount {
		s := p.slots[index]
		return s, s.occupied()
	}
	if p.tpd == nil {
		return TransSlot{}, false
	}
	return p.tpd.get(index - InlineSlotCount)
}

// FreezeSlot clears a slot's transaction reference, used by the redo
// FREEZE_SLOT/INVALIDATE_SLOT handlers. invalidateOnly, when true,
// resets only the xid to invalid and leaves UrecPtr (INVALIDATE_SLOT);
// otherwise the whole slot is cleared (FREEZE_SLOT).
func (p *PageSlots) FreezeSlot(index int, invalidateOnly bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear := func(s *TransSlot) {
		if invalidateOnly {
			s.Xid = 0
			s.XidEpoch = 0
			return
		}
		*s = TransSlot{}
	}

	if index < InlineSlotCount {
		clear(&p.slots[index])
		return
	}
	if p.tpd != nil {
		p.tpd.freeze(index-InlineSlotCount, invalidateOnly)
	}
}

// TPD is the overflow page holding extra transaction slots once a data
// page's inline array is full.
type TPD struct {
	mu    sync.Mutex
	slots []TransSlot
}

func newTPD() *TPD { return &TPD{} }

func (t *TPD) assign(xidEpoch uint32, xid uint64, urp undo.RecPtr, isLive IsLiveFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].Xid == xid && t.slots[i].occupied() {
			t.slots[i].UrecPtr = urp
			return i
		}
	}
	for i := range t.slots {
		if !t.slots[i].occupied() || !isLive(t.slots[i].Xid) {
			t.slots[i] = TransSlot{XidEpoch: xidEpoch, Xid: xid, UrecPtr: urp}
			return i
		}
	}
	t.slots = append(t.slots, TransSlot{XidEpoch: xidEpoch, Xid: xid, UrecPtr: urp})
	return len(t.slots) - 1
}

func (t *TPD) get(index int) (TransSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.slots) {
		return TransSlot{}, false
	}
	s := t.slots[index]
	return s, s.occupied()
}

func (t *TPD) freeze(index int, invalidateOnly bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.slots) {
		return
	}
	if invalidateOnly {
		t.slots[index].Xid = 0
		t.slots[index].XidEpoch = 0
		return
	}
	t.slots[index] = TransSlot{}
}
