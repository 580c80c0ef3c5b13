package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadViewVisibility(t *testing.T) {
	rv := NewReadView([]uint64{10, 12, 15}, 20)

	assert.True(t, rv.ChangesVisible(20), "creator always sees its own writes")
	assert.True(t, rv.ChangesVisible(5), "below min is committed before the snapshot")
	assert.False(t, rv.ChangesVisible(16), "at or above max started after the snapshot")
	assert.False(t, rv.ChangesVisible(12), "in range and still active at snapshot time")
	assert.True(t, rv.ChangesVisible(13), "in range but not in the active list: already committed")
}

func TestTrxSysTracksLiveness(t *testing.T) {
	sys := NewTrxSys()
	a := sys.Begin()
	b := sys.Begin()

	assert.True(t, sys.IsLive(a))
	assert.True(t, sys.IsLive(b))

	sys.End(a)
	assert.False(t, sys.IsLive(a))
	assert.True(t, sys.IsLive(b))

	rv := sys.Snapshot(b)
	assert.True(t, rv.ChangesVisible(a), "a committed before the snapshot")
	assert.False(t, rv.ChangesVisible(b+1), "no transaction past current nextID exists yet")
}
