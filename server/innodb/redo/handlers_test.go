package redo

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oltpcore/undoengine/server/innodb/slot"
	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// fakeBuffer and fakeBufferManager give the dispatcher something to read
// and write without a real page cache, mirroring the mock used by the
// undo package's own tests.
type fakeBuffer struct {
	block uint64
	page  []byte
}

func (b *fakeBuffer) Page() []byte          { return b.page }
func (b *fakeBuffer) Block() uint64         { return b.block }
func (b *fakeBuffer) Lock(undo.LockMode)    {}
func (b *fakeBuffer) MarkDirty()            {}
func (b *fakeBuffer) SetLSN(lsn uint64)     {}

type fakeBufferManager struct {
	mu      sync.Mutex
	buffers map[uint64]map[uint64]*fakeBuffer
}

func newFakeBufferManager() *fakeBufferManager {
	return &fakeBufferManager{buffers: make(map[uint64]map[uint64]*fakeBuffer)}
}

func (m *fakeBufferManager) get(logNumber uint32, block uint64) *fakeBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLog, ok := m.buffers[uint64(logNumber)]
	if !ok {
		byLog = make(map[uint64]*fakeBuffer)
		m.buffers[uint64(logNumber)] = byLog
	}
	buf, ok := byLog[block]
	if !ok {
		buf = &fakeBuffer{block: block, page: make([]byte, undo.PageSize)}
		byLog[block] = buf
	}
	return buf
}

func (m *fakeBufferManager) ReadBuffer(logNumber uint32, block uint64, mode undo.LockMode) (undo.Buffer, error) {
	return m.get(logNumber, block), nil
}
func (m *fakeBufferManager) ReleaseBuffer(undo.Buffer)       {}
func (m *fakeBufferManager) UnlockReleaseBuffer(undo.Buffer) {}
func (m *fakeBufferManager) XLogReadBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, undo.RedoAction, error) {
	return m.get(logNumber, block), undo.NeedsRedo, nil
}
func (m *fakeBufferManager) XLogInitBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, error) {
	buf := m.get(logNumber, block)
	buf.page = make([]byte, undo.PageSize)
	return buf, nil
}

type fakeFSM struct{ calls int }

func (f *fakeFSM) RecordPageWithFreeSpace(logNumber uint32, block uint64, freeSpace int) { f.calls++ }

// fakeInsertRecord is a minimal Record for an INSERT WAL entry.
type fakeInsertRecord struct {
	logNumber uint32
	block     uint64
	offset    uint16
	tuple     []byte
	xid       uint64
	lsn       uint64
	urp       undo.RecPtr
}

func (r *fakeInsertRecord) Data() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, r.offset)
	return b
}
func (r *fakeInsertRecord) Info() byte         { return byte(OpInsert) }
func (r *fakeInsertRecord) Xid() uint64        { return r.xid }
func (r *fakeInsertRecord) Lsn() uint64        { return r.lsn }
func (r *fakeInsertRecord) UrecPtr() undo.RecPtr { return r.urp }
func (r *fakeInsertRecord) HasBlockRef(id int) bool { return id == 0 }
func (r *fakeInsertRecord) BlockTag(id int) (uint32, uint64, bool) {
	if id == 0 {
		return r.logNumber, r.block, true
	}
	return 0, 0, false
}
func (r *fakeInsertRecord) BlockData(id int) []byte {
	if id == 0 {
		return r.tuple
	}
	return nil
}

func TestHandleInsertMatchesDoRedoInvariant(t *testing.T) {
	registry, err := undo.NewRegistry(t.TempDir())
	require.NoError(t, err)
	allocator := undo.NewAllocator(registry)
	bufMgr := newFakeBufferManager()
	session := undo.NewSession(allocator, bufMgr)

	// Give the replay session's log an earlier record of transaction 55,
	// so the record replayed below is not the first one on the log.
	probe := &undo.UnpackedUndoRecord{Type: undo.Insert, Block: 3, Offset: 7, Tuple: []byte("row")}
	expectedUrp, _, err := session.PrepareUndoInsert(probe, undo.Permanent, 55)
	require.NoError(t, err)
	require.NoError(t, session.InsertPreparedUndo())
	session.UnlockReleaseUndoBuffers()

	// Now REDO a second, identical-shaped insert and assert the handler
	// enforces equality against a WAL-embedded pointer we control.
	rec := &fakeInsertRecord{logNumber: expectedUrp.LogNumber(), block: 9, offset: 1, tuple: []byte("xy"), xid: 56}

	ctx := &Context{
		Session:  session,
		Registry: registry,
		BufMgr:   bufMgr,
		FSM:      &fakeFSM{},
		Slots: func(logNumber uint32, block uint64) *slot.PageSlots {
			return &slot.PageSlots{}
		},
		IsLive: func(xid uint64) bool { return false },
	}

	// The DO side is an independent registry and session with the same
	// history. Allocate advances a log's insert pointer as soon as a
	// record is prepared, so computing the WAL pointer on the replay
	// session itself would move the replayed record to the next offset.
	doRegistry, err := undo.NewRegistry(t.TempDir())
	require.NoError(t, err)
	doSession := undo.NewSession(undo.NewAllocator(doRegistry), newFakeBufferManager())
	_, _, err = doSession.PrepareUndoInsert(&undo.UnpackedUndoRecord{Type: undo.Insert, Block: 3, Offset: 7, Tuple: []byte("row")}, undo.Permanent, 55)
	require.NoError(t, err)
	require.NoError(t, doSession.InsertPreparedUndo())
	doSession.UnlockReleaseUndoBuffers()

	computed, _, err := doSession.PrepareUndoInsert(&undo.UnpackedUndoRecord{Type: undo.Insert, Block: rec.block, Offset: rec.offset, Tuple: rec.tuple}, undo.Permanent, rec.xid)
	require.NoError(t, err)
	doSession.UnlockReleaseUndoBuffers()
	rec.urp = computed

	d := NewDispatcher()
	err = d.Dispatch(ctx, rec)
	require.NoError(t, err)

	buf := bufMgr.get(rec.logNumber, rec.block)
	assert.Equal(t, rec.tuple, buf.Page()[rec.offset:int(rec.offset)+len(rec.tuple)])
}

func TestHandleFreezeSlotRejectsSlotNewerThanLatestFrozenXid(t *testing.T) {
	bufMgr := newFakeBufferManager()
	slots := &slot.PageSlots{}
	slots.Assign(0, 900, undo.MakeRecPtr(1, 8192), func(uint64) bool { return false })

	ctx := &Context{
		BufMgr: bufMgr,
		Slots: func(logNumber uint32, block uint64) *slot.PageSlots {
			return slots
		},
		LatestFrozenXid: 500,
	}
	rec := &fakeInsertRecord{logNumber: 1, block: 3, offset: 0}

	err := freezeOrInvalidate(ctx, rec, false)
	require.Error(t, err, "slot xid 900 is newer than latestFrozenXid 500: conflict must be rejected")
}

func TestHandleFreezeSlotClearsSlotAtOrBelowLatestFrozenXid(t *testing.T) {
	bufMgr := newFakeBufferManager()
	slots := &slot.PageSlots{}
	slots.Assign(0, 500, undo.MakeRecPtr(1, 8192), func(uint64) bool { return false })

	ctx := &Context{
		BufMgr: bufMgr,
		Slots: func(logNumber uint32, block uint64) *slot.PageSlots {
			return slots
		},
		LatestFrozenXid: 500,
	}
	rec := &fakeInsertRecord{logNumber: 1, block: 3, offset: 0}

	err := freezeOrInvalidate(ctx, rec, false)
	require.NoError(t, err)
	_, occupied := slots.Get(0)
	assert.False(t, occupied, "slot at or below latestFrozenXid must be frozen")
}

func TestDispatchUnknownOpcodeIsFatal(t *testing.T) {
	d := NewDispatcher()
	d2 := &Dispatcher{handlers: map[OpCode]Handler{}}
	_ = d
	rec := &fakeInsertRecord{}
	err := d2.Dispatch(&Context{}, rec)
	assert.Error(t, err)
}
