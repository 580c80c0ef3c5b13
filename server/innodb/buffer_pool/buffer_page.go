package buffer_pool

import (
	"sync"

	"github.com/oltpcore/undoengine/server/innodb/undo"
)

// LSN is this package's own log-sequence-number type; it no longer
// depends on the deleted server-wide common package.
type LSN uint64

// BufferPage is the control body for one pinned page: space/page
// identity, dirty/LSN bookkeeping, and the raw page bytes. It doubles as
// the undo.Buffer implementation the undo and redo packages pin pages
// through, so the same pool backs both ordinary relation pages and undo
// pages.
type BufferPage struct {
	mu sync.Mutex

	spaceId uint32
	pageNo  uint32

	pageState BufferPageState
	flushType BufferFlushType
	iofix     buffer_io_fix

	newestModification LSN
	oldestModification LSN

	accessTime uint64

	dirty   bool
	content []byte
}

func NewBufferPage(spaceId uint32, pageNo uint32) *BufferPage {
	return &BufferPage{
		spaceId:   spaceId,
		pageNo:    pageNo,
		pageState: BUF_BLOCK_NOT_USED,
		content:   make([]byte, undo.PageSize),
	}
}

func (p *BufferPage) GetContent() []byte { return p.content }
func (p *BufferPage) GetSpaceID() uint32 { return p.spaceId }
func (p *BufferPage) GetPageNo() uint32  { return p.pageNo }

// SetContent replaces the page's bytes, used when a page surfaces from
// the LRU cache's eviction path as a detached copy.
func (p *BufferPage) SetContent(content []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = content
}

func (p *BufferPage) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

func (p *BufferPage) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
	p.pageState = BUF_BLOCK_FILE_PAGE
}

func (p *BufferPage) ClearDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}

// Page implements undo.Buffer: it returns the raw bytes a Codec or redo
// handler mutates directly.
func (p *BufferPage) Page() []byte { return p.content }

// Block implements undo.Buffer, using the page number as the block
// number within the owning undo log or relation fork.
func (p *BufferPage) Block() uint64 { return uint64(p.pageNo) }

// Lock implements undo.Buffer. The pool's own page latch already
// serializes access at pin time in this in-memory model; Lock exists so
// callers written against the interface compile unchanged against a
// future real latch manager.
func (p *BufferPage) Lock(mode undo.LockMode) {}

// SetLSN implements undo.Buffer.
func (p *BufferPage) SetLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newestModification = LSN(lsn)
}
