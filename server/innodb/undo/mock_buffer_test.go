package undo

import "sync"

// memBuffer is an in-memory Buffer backing mockBufferManager, sized to
// PageSize and zeroed on first access, mirroring the real buffer
// manager's pin-on-demand behaviour closely enough to exercise the
// undo package without real page I/O.
type memBuffer struct {
	mu    sync.Mutex
	block uint64
	page  []byte
	lsn   uint64
}

func (b *memBuffer) Page() []byte       { return b.page }
func (b *memBuffer) Block() uint64      { return b.block }
func (b *memBuffer) Lock(mode LockMode) {}
func (b *memBuffer) MarkDirty()         {}
func (b *memBuffer) SetLSN(lsn uint64)  { b.lsn = lsn }

// mockBufferManager keeps one memBuffer per (log, block), allocated
// lazily, so tests can exercise PrepareUndoInsert/InsertPreparedUndo
// without a real page cache.
type mockBufferManager struct {
	mu      sync.Mutex
	buffers map[uint64]map[uint64]*memBuffer
}

func newMockBufferManager() *mockBufferManager {
	return &mockBufferManager{buffers: make(map[uint64]map[uint64]*memBuffer)}
}

func (m *mockBufferManager) get(logNumber uint32, block uint64) *memBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLog, ok := m.buffers[uint64(logNumber)]
	if !ok {
		byLog = make(map[uint64]*memBuffer)
		m.buffers[uint64(logNumber)] = byLog
	}
	buf, ok := byLog[block]
	if !ok {
		buf = &memBuffer{block: block, page: make([]byte, PageSize)}
		byLog[block] = buf
	}
	return buf
}

func (m *mockBufferManager) ReadBuffer(logNumber uint32, block uint64, mode LockMode) (Buffer, error) {
	return m.get(logNumber, block), nil
}

func (m *mockBufferManager) ReleaseBuffer(buf Buffer)       {}
func (m *mockBufferManager) UnlockReleaseBuffer(buf Buffer) {}

func (m *mockBufferManager) XLogReadBufferForRedo(logNumber uint32, block uint64) (Buffer, RedoAction, error) {
	return m.get(logNumber, block), NeedsRedo, nil
}

func (m *mockBufferManager) XLogInitBufferForRedo(logNumber uint32, block uint64) (Buffer, error) {
	buf := m.get(logNumber, block)
	buf.page = make([]byte, PageSize)
	return buf, nil
}
