package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oltpcore/undoengine/server/innodb/undo"
)

func allLive(uint64) bool { return true }
func noneLive(uint64) bool { return false }

func urp(n uint64) undo.RecPtr { return undo.MakeRecPtr(1, n) }

func TestAssignReusesSlotForSameXid(t *testing.T) {
	ps := &PageSlots{}
	i1 := ps.Assign(1, 42, urp(100), allLive)
	i2 := ps.Assign(1, 42, urp(200), allLive)
	assert.Equal(t, i1, i2)

	s, ok := ps.Get(i2)
	assert.True(t, ok)
	assert.Equal(t, urp(200), s.UrecPtr)
}

func TestAssignReclaimsDeadSlot(t *testing.T) {
	ps := &PageSlots{}
	for i := 0; i < InlineSlotCount; i++ {
		ps.Assign(1, uint64(i+1), urp(uint64(i+1)), allLive)
	}
	// every inline slot is held by a dead transaction now
	idx := ps.Assign(1, 999, urp(999), noneLive)
	assert.Less(t, idx, InlineSlotCount)

	s, ok := ps.Get(idx)
	assert.True(t, ok)
	assert.Equal(t, uint64(999), s.Xid)
}

func TestAssignOverflowsToTPD(t *testing.T) {
	ps := &PageSlots{}
	for i := 0; i < InlineSlotCount; i++ {
		ps.Assign(1, uint64(i+1), urp(uint64(i+1)), allLive)
	}
	idx := ps.Assign(1, 777, urp(777), allLive)
	assert.GreaterOrEqual(t, idx, InlineSlotCount)

	s, ok := ps.Get(idx)
	assert.True(t, ok)
	assert.Equal(t, uint64(777), s.Xid)
}

func TestFreezeSlotInvalidateOnlyKeepsUrecPtr(t *testing.T) {
	ps := &PageSlots{}
	idx := ps.Assign(1, 5, urp(50), allLive)

	ps.FreezeSlot(idx, true)
	s, ok := ps.Get(idx)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), s.Xid)
	assert.Equal(t, urp(50), s.UrecPtr)
}

func TestFreezeSlotFullClearResetsOccupancy(t *testing.T) {
	ps := &PageSlots{}
	idx := ps.Assign(1, 6, urp(60), allLive)

	ps.FreezeSlot(idx, false)
	_, ok := ps.Get(idx)
	assert.False(t, ok)
}

func TestRegistryCreatesAndReusesPerBlock(t *testing.T) {
	r := NewRegistry()
	a := r.For(1, 10)
	b := r.For(1, 10)
	assert.Same(t, a, b)

	c := r.For(1, 11)
	assert.NotSame(t, a, c)

	d := r.For(2, 10)
	assert.NotSame(t, a, d)
}

func TestRegistryForget(t *testing.T) {
	r := NewRegistry()
	a := r.For(1, 10)
	a.Assign(1, 1, urp(1), allLive)

	r.Forget(1, 10)
	b := r.For(1, 10)
	assert.NotSame(t, a, b)
}
