package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMostFreePicksLargest(t *testing.T) {
	m := NewMap()
	m.RecordPageWithFreeSpace(1, 3, 100)
	m.RecordPageWithFreeSpace(1, 7, 400)
	m.RecordPageWithFreeSpace(1, 9, 250)

	block, free, ok := m.MostFree(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), block)
	assert.Equal(t, 400, free)
}

func TestRecordPageWithFreeSpaceReplacesPriorValue(t *testing.T) {
	m := NewMap()
	m.RecordPageWithFreeSpace(2, 1, 100)
	m.RecordPageWithFreeSpace(2, 1, 50)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TrackedPages)
	assert.Equal(t, int64(50), stats.TotalFree)
}

func TestMostFreeEmptyLog(t *testing.T) {
	m := NewMap()
	_, _, ok := m.MostFree(99)
	assert.False(t, ok)
}
