package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oltpcore/undoengine/internal/mvcc"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

type stubBufferManager struct {
	buffers map[uint64]map[uint64]*stubBuffer
}

type stubBuffer struct {
	block uint64
	page  []byte
}

func (b *stubBuffer) Page() []byte          { return b.page }
func (b *stubBuffer) Block() uint64         { return b.block }
func (b *stubBuffer) Lock(undo.LockMode)    {}
func (b *stubBuffer) MarkDirty()            {}
func (b *stubBuffer) SetLSN(uint64)         {}

func newStubBufferManager() *stubBufferManager {
	return &stubBufferManager{buffers: make(map[uint64]map[uint64]*stubBuffer)}
}

func (m *stubBufferManager) get(logNumber uint32, block uint64) *stubBuffer {
	byLog, ok := m.buffers[uint64(logNumber)]
	if !ok {
		byLog = make(map[uint64]*stubBuffer)
		m.buffers[uint64(logNumber)] = byLog
	}
	buf, ok := byLog[block]
	if !ok {
		buf = &stubBuffer{block: block, page: make([]byte, undo.PageSize)}
		byLog[block] = buf
	}
	return buf
}

func (m *stubBufferManager) ReadBuffer(logNumber uint32, block uint64, mode undo.LockMode) (undo.Buffer, error) {
	return m.get(logNumber, block), nil
}
func (m *stubBufferManager) ReleaseBuffer(undo.Buffer)       {}
func (m *stubBufferManager) UnlockReleaseBuffer(undo.Buffer) {}
func (m *stubBufferManager) XLogReadBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, undo.RedoAction, error) {
	return m.get(logNumber, block), undo.NeedsRedo, nil
}
func (m *stubBufferManager) XLogInitBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, error) {
	return m.get(logNumber, block), nil
}

func TestFetchVisibleHonoursReadView(t *testing.T) {
	bufMgr := newStubBufferManager()
	undoMgr, err := NewUndoLogManager(t.TempDir(), bufMgr)
	require.NoError(t, err)

	trxSys := mvcc.NewTrxSys()
	committer := trxSys.Begin()

	session := undoMgr.NewSession()
	rec := &undo.UnpackedUndoRecord{Type: undo.Insert, Block: 1, Offset: 1, Tuple: []byte("row")}
	urp, _, err := session.PrepareUndoInsert(rec, undo.Permanent, committer)
	require.NoError(t, err)
	require.NoError(t, session.InsertPreparedUndo())
	session.UnlockReleaseUndoBuffers()
	trxSys.End(committer)

	viewer := trxSys.Begin()
	rv, snap := SnapshotOf(trxSys, viewer, time.Time{})
	assert.Equal(t, viewer, snap.ID)

	got, visibility, err := undoMgr.FetchVisible(urp, 1, 1, rv)
	require.NoError(t, err)
	assert.Equal(t, MVCC_VISIBLE, visibility)
	assert.Equal(t, committer, got.Xid)
}
