package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *Registry, *mockBufferManager) {
	t.Helper()
	registry, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	allocator := NewAllocator(registry)
	bufMgr := newMockBufferManager()
	return NewSession(allocator, bufMgr), registry, bufMgr
}

// End-to-end scenario 1: single INSERT.
func TestPrepareAndInsertSingleRecord(t *testing.T) {
	session, _, _ := newTestSession(t)

	rec := &UnpackedUndoRecord{
		Type:    Insert,
		Block:   1,
		Offset:  1,
		Tuple:   []byte("row(1,'a')"),
		Blkprev: InvalidRecPtr,
	}

	urp, _, err := session.PrepareUndoInsert(rec, Permanent, 100)
	require.NoError(t, err)
	assert.True(t, urp.Valid())
	assert.Equal(t, Special, rec.Next, "first record of a new top transaction gets next=SPECIAL")
	assert.NotZero(t, rec.Info&InfoTransaction)

	require.NoError(t, session.InsertPreparedUndo())
	assert.Equal(t, urp, session.CurrentUndoLocation())
	session.UnlockReleaseUndoBuffers()
}

// End-to-end scenario 3: two-transaction chain.
func TestTransactionChainLinksAcrossTopTransactions(t *testing.T) {
	session, registry, _ := newTestSession(t)

	first := &UnpackedUndoRecord{Type: Insert, Block: 1, Offset: 1, Tuple: []byte("row1"), Blkprev: InvalidRecPtr}
	urp1, _, err := session.PrepareUndoInsert(first, Permanent, 100)
	require.NoError(t, err)
	require.NoError(t, session.InsertPreparedUndo())
	session.UnlockReleaseUndoBuffers()

	second := &UnpackedUndoRecord{Type: Insert, Block: 1, Offset: 2, Tuple: []byte("row2"), Blkprev: InvalidRecPtr}
	urp2, _, err := session.PrepareUndoInsert(second, Permanent, 101)
	require.NoError(t, err)
	require.NoError(t, session.InsertPreparedUndo())
	session.UnlockReleaseUndoBuffers()

	assert.NotEqual(t, urp1, urp2)
	assert.Equal(t, Special, second.Next)

	l := registry.Lookup(urp2.LogNumber())
	require.NotNil(t, l)
	assert.Equal(t, urp2.Offset(), l.LastXactStart)

	// The first transaction's `next` field, patched in place on its
	// buffer page, must now equal the second transaction's urp.
	block := urp1.Offset() / uint64(PageSize)
	fetcher := NewFetcher(registry, session.bufMgr)
	got, err := fetcher.FetchRecord(urp1, block, 1, 100, func(*UnpackedUndoRecord, uint64, uint16, uint64) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, RecPtr(urp2), got.Next)
}

func TestPrepareUndoInsertStagingFull(t *testing.T) {
	session, _, _ := newTestSession(t)
	session.SetPrepareSize(1)

	rec1 := &UnpackedUndoRecord{Type: Insert, Block: 1, Offset: 1, Tuple: []byte("a")}
	_, _, err := session.PrepareUndoInsert(rec1, Permanent, 1)
	require.NoError(t, err)

	rec2 := &UnpackedUndoRecord{Type: Insert, Block: 1, Offset: 2, Tuple: []byte("b")}
	_, _, err = session.PrepareUndoInsert(rec2, Permanent, 1)
	assert.ErrorIs(t, err, ErrPrepareStagingFull)
}
