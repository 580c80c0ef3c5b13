package undo

// LockMode selects how a pinned buffer is locked.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
	LockUnlock
)

// RedoAction is the outcome of preparing a buffer for replay.
type RedoAction uint8

const (
	NeedsRedo RedoAction = iota
	RestoredFromFPI
	BufferNotFound
)

// PageSize is the fixed page size every undo and data page is framed to.
// No code in this repository, internal/config included, reassigns it.
var PageSize = 8192

// PageHeaderSize is the number of reserved bytes at the start of every
// undo page (LSN + checksum + slot bookkeeping); usable bytes start here.
const PageHeaderSize = 24

// Buffer is a pinned, lockable handle on one fixed-size page, addressed
// by (log number, block number) for undo pages. It is consumed, not
// implemented, by this package: the real pin/lock/I/O machinery lives in
// the buffer manager.
type Buffer interface {
	// Page returns the raw page bytes this buffer is pinned to.
	Page() []byte
	// Block is the page's block number within its log/segment.
	Block() uint64
	// Lock acquires mode on the buffer; LockUnlock releases it.
	Lock(mode LockMode)
	// MarkDirty flags the page for write-back and WAL-stamping.
	MarkDirty()
	// SetLSN stamps the page with the LSN of the WAL record that last
	// modified it.
	SetLSN(lsn uint64)
}

// BufferManager is the external collaborator that pins, locks and reads
// fixed-size pages by (log, block). Implementations own the page cache;
// this package only ever calls through the interface.
type BufferManager interface {
	ReadBuffer(logNumber uint32, block uint64, mode LockMode) (Buffer, error)
	ReleaseBuffer(buf Buffer)
	UnlockReleaseBuffer(buf Buffer)

	// XLogReadBufferForRedo mirrors the consumed WAL replay primitive:
	// it returns the buffer for blk plus the redo action a handler must
	// branch on before mutating the page.
	XLogReadBufferForRedo(logNumber uint32, block uint64) (Buffer, RedoAction, error)
	// XLogInitBufferForRedo returns a freshly zeroed buffer, used when
	// the INIT_PAGE info bit is set on the WAL record being replayed.
	XLogInitBufferForRedo(logNumber uint32, block uint64) (Buffer, error)
}

// FreeSpaceMap is the consumed free-space map collaborator; handlers
// notify it whenever a page's free space changes materially.
type FreeSpaceMap interface {
	RecordPageWithFreeSpace(logNumber uint32, block uint64, freeSpace int)
}
