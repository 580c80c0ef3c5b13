package buffer_pool

import (
	"sync"

	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/server/innodb/undo"
	"github.com/oltpcore/undoengine/util"
)

// SegmentLocator resolves the on-disk file and byte offset backing one
// fixed-size page. undo.Registry implements this against the exact
// L.OOOOOOOOOO segment files Allocator.extendLocked preallocates, so the
// pool reads and writes through the same files the allocator addresses
// by urp rather than a separate page store.
type SegmentLocator interface {
	PageFileOffset(logNumber uint32, block uint64) (path string, offset int64)
}

// Pool is a disk-backed, LRU-bounded page cache implementing
// undo.BufferManager. It is the production pin/lock/I-O layer undo
// staging and redo replay pin pages through; tests use a simpler
// in-memory fake instead.
type Pool struct {
	mu       sync.Mutex
	cache    *OptimizedLRUCache
	pinned   map[uint64]*BufferPage
	pinCount map[uint64]int
	locator  SegmentLocator
	stats    *BufferPoolStats
}

// NewPool creates a pool that caches up to capacity pages before
// evicting, reading and writing through locator.
func NewPool(locator SegmentLocator, capacity int) *Pool {
	return &Pool{
		cache:    NewOptimizedLRUCache(capacity, 0.25, 0.75, 1000),
		pinned:   make(map[uint64]*BufferPage),
		pinCount: make(map[uint64]int),
		locator:  locator,
		stats:    NewBufferPoolStats(),
	}
}

func pageKey(logNumber uint32, block uint64) uint64 {
	return uint64(logNumber)<<32 | uint64(uint32(block))
}

// ReadBuffer implements undo.BufferManager: it pins the page at
// (logNumber, block), loading it from its segment file on a cache miss.
func (p *Pool) ReadBuffer(logNumber uint32, block uint64, mode undo.LockMode) (undo.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := p.pinLocked(logNumber, block)
	if err != nil {
		return nil, err
	}
	page.Lock(mode)
	return page, nil
}

// pinLocked returns the page at (logNumber, block), already pinned,
// reading it from disk on a cache miss. p.mu must be held.
func (p *Pool) pinLocked(logNumber uint32, block uint64) (*BufferPage, error) {
	k := pageKey(logNumber, block)
	if page, ok := p.pinned[k]; ok {
		p.pinCount[k]++
		return page, nil
	}

	if blk, err := p.cache.Get(logNumber, uint32(block)); err == nil && blk != nil {
		p.stats.RecordPageRequest(true)
		p.cache.Remove(logNumber, uint32(block))
		p.pinned[k] = blk.BufferPage
		p.pinCount[k] = 1
		return blk.BufferPage, nil
	}
	p.stats.RecordPageRequest(false)

	page := NewBufferPage(logNumber, uint32(block))
	path, offset := p.locator.PageFileOffset(logNumber, block)
	content, err := util.ReadFileAt(path, offset, undo.PageSize)
	if err != nil {
		return nil, undo.WrapIO(err, "read undo page from segment file")
	}
	page.SetContent(content)
	p.stats.RecordPageIO(true, 0)

	p.pinned[k] = page
	p.pinCount[k] = 1
	return page, nil
}

// ReleaseBuffer implements undo.BufferManager: it flushes buf to disk if
// dirty and drops the pin, returning the page to the LRU cache once no
// one holds it.
func (p *Pool) ReleaseBuffer(buf undo.Buffer) {
	page, ok := buf.(*BufferPage)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpinLocked(page)
}

// UnlockReleaseBuffer implements undo.BufferManager; this pool has no
// separate lock state to drop beyond the pin itself.
func (p *Pool) UnlockReleaseBuffer(buf undo.Buffer) {
	p.ReleaseBuffer(buf)
}

func (p *Pool) unpinLocked(page *BufferPage) {
	k := pageKey(page.GetSpaceID(), uint64(page.GetPageNo()))
	if page.IsDirty() {
		path, offset := p.locator.PageFileOffset(page.GetSpaceID(), uint64(page.GetPageNo()))
		if err := util.WriteFileAt(path, offset, page.GetContent()); err != nil {
			logger.WithFields(logger.Fields{
				"log":   page.GetSpaceID(),
				"block": page.GetPageNo(),
			}).Errorf("buffer pool: failed to flush dirty page: %v", err)
		} else {
			page.ClearDirty()
			p.stats.RecordPageIO(false, 0)
		}
	}

	p.pinCount[k]--
	if p.pinCount[k] > 0 {
		return
	}
	delete(p.pinCount, k)
	delete(p.pinned, k)
	if err := p.cache.Set(page.GetSpaceID(), page.GetPageNo(), NewBufferBlock(page)); err != nil {
		logger.Debugf("buffer pool: failed to cache released page: %v", err)
	}
}

// XLogReadBufferForRedo implements undo.BufferManager for WAL replay:
// it pins the page the same way ReadBuffer does. This pool has no
// separate full-page-image store, so it never reports RestoredFromFPI.
func (p *Pool) XLogReadBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, undo.RedoAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, err := p.pinLocked(logNumber, block)
	if err != nil {
		return nil, undo.BufferNotFound, err
	}
	return page, undo.NeedsRedo, nil
}

// XLogInitBufferForRedo implements undo.BufferManager: it pins a freshly
// zeroed page, used when the WAL record being replayed carries the
// INIT_PAGE info bit and the prior page content is irrelevant.
func (p *Pool) XLogInitBufferForRedo(logNumber uint32, block uint64) (undo.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := pageKey(logNumber, block)
	page, ok := p.pinned[k]
	if !ok {
		page = NewBufferPage(logNumber, uint32(block))
		p.pinned[k] = page
		p.pinCount[k] = 1
	} else {
		p.pinCount[k]++
	}
	page.SetContent(make([]byte, undo.PageSize))
	return page, nil
}

// Stats exposes the pool's hit-ratio and I/O counters.
func (p *Pool) Stats() *BufferPoolStats { return p.stats }
