package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// insertThreeOnSameBlock stages three undo records for the same tuple,
// each chained to the previous via Blkprev, returning their urps in
// insertion order.
func insertThreeOnSameBlock(t *testing.T, session *Session) []RecPtr {
	t.Helper()
	var urps []RecPtr
	var prev RecPtr = InvalidRecPtr
	for i, xid := range []uint64{100, 101, 102} {
		rec := &UnpackedUndoRecord{
			Type:    Insert,
			Block:   7,
			Offset:  1,
			Tuple:   []byte{byte('a' + i)},
			Blkprev: prev,
		}
		urp, _, err := session.PrepareUndoInsert(rec, Permanent, xid)
		require.NoError(t, err)
		require.NoError(t, session.InsertPreparedUndo())
		session.UnlockReleaseUndoBuffers()
		urps = append(urps, urp)
		prev = urp
	}
	return urps
}

func TestFetchRecordWalksMultiHopChain(t *testing.T) {
	session, registry, bufMgr := newTestSession(t)
	urps := insertThreeOnSameBlock(t, session)

	fetcher := NewFetcher(registry, bufMgr)
	block := urps[2].Offset() / uint64(PageSize)

	// Look for the first record (xid 100); the callback rejects the two
	// later ones so the fetcher must follow blkprev twice.
	var seen []uint64
	got, err := fetcher.FetchRecord(urps[2], block, 7, 100, func(r *UnpackedUndoRecord, _ uint64, _ uint16, xid uint64) bool {
		seen = append(seen, r.Xid)
		return r.Xid == 100
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(100), got.Xid)
	assert.Equal(t, []uint64{102, 101, 100}, seen)
}

func TestFetchRecordCallbackNeverSatisfiedReturnsNil(t *testing.T) {
	session, registry, bufMgr := newTestSession(t)
	urps := insertThreeOnSameBlock(t, session)

	fetcher := NewFetcher(registry, bufMgr)
	block := urps[2].Offset() / uint64(PageSize)

	got, err := fetcher.FetchRecord(urps[2], block, 7, 999, func(*UnpackedUndoRecord, uint64, uint16, uint64) bool {
		return false
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetchRecordBelowDiscardReturnsNilWithoutError(t *testing.T) {
	session, registry, bufMgr := newTestSession(t)
	urps := insertThreeOnSameBlock(t, session)

	l := registry.Lookup(urps[0].LogNumber())
	require.NotNil(t, l)
	l.AdvanceDiscard(urps[2].Offset())

	fetcher := NewFetcher(registry, bufMgr)
	block := urps[0].Offset() / uint64(PageSize)

	got, err := fetcher.FetchRecord(urps[0], block, 7, 100, func(*UnpackedUndoRecord, uint64, uint16, uint64) bool {
		return true
	})
	require.NoError(t, err)
	assert.Nil(t, got, "a record fully below the discard pointer must not be returned")
}

func TestFetchRecordUnconditionalFirstHopIgnoresBlock(t *testing.T) {
	session, registry, bufMgr := newTestSession(t)
	urps := insertThreeOnSameBlock(t, session)

	fetcher := NewFetcher(registry, bufMgr)
	got, err := fetcher.FetchRecord(urps[2], InvalidBlock, 7, 102, func(*UnpackedUndoRecord, uint64, uint16, uint64) bool {
		return false
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(102), got.Xid)
}
