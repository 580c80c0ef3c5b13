package undo

import (
	"github.com/oltpcore/undoengine/logger"
)

// DefaultPrepareCapacity is the built-in maximum number of records that
// may be staged without calling SetPrepareSize.
const DefaultPrepareCapacity = 2

// preparedUndo is one record staged by PrepareUndoInsert, awaiting
// InsertPreparedUndo inside the critical section.
type preparedUndo struct {
	record  *UnpackedUndoRecord
	log     *Log
	urp     RecPtr
	size    int
	blocks  []uint64
	chained bool // a transaction-chain UpdateTransInfo was scheduled for this record
}

// Session is the per-backend (or, during recovery, per-replayer)
// thread-local state: which top transaction most recently wrote to each
// persistence class, the array of records currently staged for a single
// critical section, and the buffers pinned to hold them.
type Session struct {
	allocator *Allocator
	bufMgr    BufferManager
	chain     *ChainMaintainer

	// attachedLogs caches, per persistence class, the log this session
	// is already exclusively attached to, so that PrepareUndoInsert only
	// calls Allocator.Attach (and potentially CreateLog) once per class
	// per session instead of on every staged record.
	attachedLogs map[Persistence]*Log

	prevTxid map[Persistence]uint64

	capacity int
	staged   []*preparedUndo
	pinned   map[uint64]Buffer // block number -> pinned buffer, de-duplicated across staged records

	currentUndoLocation RecPtr

	// inRecovery, when set, makes PrepareUndoInsert consult
	// firstXidInRecovery instead of prevTxid to detect the first
	// record of a top transaction.
	inRecovery        bool
	firstXidInRecovery map[uint64]bool
}

// NewSession creates a session bound to allocator and bufMgr.
func NewSession(allocator *Allocator, bufMgr BufferManager) *Session {
	return &Session{
		allocator:    allocator,
		bufMgr:       bufMgr,
		chain:        &ChainMaintainer{allocator: allocator},
		attachedLogs: make(map[Persistence]*Log),
		prevTxid:     make(map[Persistence]uint64),
		capacity:     DefaultPrepareCapacity,
		pinned:       make(map[uint64]Buffer),
	}
}

// Close detaches every log this session holds an exclusive attachment
// to, making them available to other sessions. Callers invoke this once
// a session's work — a transaction, or the whole recovery pass — is
// done.
func (s *Session) Close() {
	for _, l := range s.attachedLogs {
		l.Detach()
	}
	s.attachedLogs = make(map[Persistence]*Log)
}

// SetPrepareSize enlarges the staging array when more than
// DefaultPrepareCapacity records will be prepared before a single
// InsertPreparedUndo call.
func (s *Session) SetPrepareSize(n int) {
	if n > s.capacity {
		s.capacity = n
	}
}

// MarkRecovery switches the session into replay mode, where the first
// record of a transaction is detected via IsTransactionFirstRec instead
// of the in-memory prevTxid table.
func (s *Session) MarkRecovery(firstXid map[uint64]bool) {
	s.inRecovery = true
	s.firstXidInRecovery = firstXid
}

func (s *Session) isTransactionFirstRec(xid uint64, persistence Persistence) bool {
	if s.inRecovery {
		return s.firstXidInRecovery[xid]
	}
	return s.prevTxid[persistence] != xid
}

// PrepareUndoInsert stages record for insertion on a log attached for
// persistence, computing its address and pinning the pages it will span,
// without writing any bytes yet.
func (s *Session) PrepareUndoInsert(record *UnpackedUndoRecord, persistence Persistence, xid uint64) (RecPtr, *LogMeta, error) {
	if len(s.staged) >= s.capacity {
		return InvalidRecPtr, nil, ErrPrepareStagingFull
	}

	l, ok := s.attachedLogs[persistence]
	if !ok {
		var err error
		l, err = s.allocator.Attach(persistence, record.RelFileNode.Tablespace, xid)
		if err != nil {
			return InvalidRecPtr, nil, err
		}
		s.attachedLogs[persistence] = l
	}

	firstRec := s.isTransactionFirstRec(xid, persistence)
	if firstRec {
		record.Next = Special
	}
	record.Xid = xid

	size := ExpectedSize(record)

	var meta LogMeta
	urp, err := s.allocator.Allocate(l, size, &meta)
	if err != nil {
		return InvalidRecPtr, nil, err
	}

	// Step 3: if the new insert offset lands exactly on LastXactStart,
	// a subtransaction rollback unwound the whole top transaction; treat
	// this record as a fresh transaction start and re-size.
	l.mu.Lock()
	landedOnLastXact := urp.Offset() == l.LastXactStart
	l.mu.Unlock()
	if landedOnLastXact && !firstRec {
		firstRec = true
		record.Next = Special
		size = ExpectedSize(record)
	}

	p := &preparedUndo{record: record, log: l, urp: urp, size: size}

	if firstRec {
		l.mu.Lock()
		prevXact := l.LastXactStart
		l.mu.Unlock()
		if prevXact != urp.Offset() {
			if err := s.chain.PrepareUndoRecordUpdateTransInfo(l, MakeRecPtr(l.Number, prevXact), urp, s.bufMgr); err != nil {
				return InvalidRecPtr, nil, err
			}
			p.chained = true
		}
		l.mu.Lock()
		l.LastXactStart = urp.Offset()
		l.mu.Unlock()
	}

	if err := s.allocator.AdvanceInsert(l, urp, size); err != nil {
		return InvalidRecPtr, nil, err
	}

	p.blocks = blocksSpanned(urp, size)
	for _, blk := range p.blocks {
		if _, ok := s.pinned[blk]; ok {
			continue
		}
		buf, err := s.bufMgr.ReadBuffer(l.Number, blk, LockExclusive)
		if err != nil {
			return InvalidRecPtr, nil, WrapIO(err, "pin undo buffer")
		}
		s.pinned[blk] = buf
	}

	s.prevTxid[persistence] = xid
	s.staged = append(s.staged, p)
	record.urp = urp

	return urp, &meta, nil
}

// blocksSpanned returns the distinct block numbers a size-byte record
// starting at urp will be written across.
func blocksSpanned(urp RecPtr, size int) []uint64 {
	start := urp.Offset()
	end := start + uint64(size)
	first := start / uint64(PageSize)
	last := (end - 1) / uint64(PageSize)
	blocks := make([]uint64, 0, last-first+1)
	for b := first; b <= last; b++ {
		blocks = append(blocks, b)
	}
	return blocks
}

// InsertPreparedUndo is called inside the critical section. It acquires
// the pinned buffers in pin order, serialises every staged record across
// its pages, marks them dirty, and applies any scheduled transaction
// chain patch.
func (s *Session) InsertPreparedUndo() error {
	for _, p := range s.staged {
		// prevlen with page-boundary adjustment: when the record starts
		// exactly at a page's usable-byte origin, its prevlen must
		// additionally account for the page header skipped by the
		// previous record's reader.
		prevlen := p.log.Prevlen
		if p.urp.Offset()%uint64(PageSize) == 0 {
			prevlen += PageHeaderSize
		}
		p.record.Prevlen = prevlen

		codec := &Codec{}
		written := 0
		for _, blk := range p.blocks {
			buf := s.pinned[blk]
			page := buf.Page()
			start := int(p.urp.Offset()%uint64(PageSize)) + written
			if blk != p.blocks[0] {
				start = PageHeaderSize
			}
			done, n, err := codec.Serialise(p.record, page, start, written)
			if err != nil {
				return err
			}
			written += n
			buf.MarkDirty()
			if done {
				break
			}
		}

		p.log.mu.Lock()
		p.log.Prevlen = uint16(p.size)
		p.log.mu.Unlock()

		if p.chained {
			if err := s.chain.UndoRecordUpdateTransInfo(); err != nil {
				return err
			}
		}

		s.currentUndoLocation = p.urp
		logger.WithFields(logger.Fields{
			"urp":  p.urp.String(),
			"xid":  p.record.Xid,
			"type": p.record.Type,
		}).Debug("undo record inserted")
	}
	return nil
}

// UnlockReleaseUndoBuffers releases every pinned buffer and resets
// staging, shrinking an over-sized staging array back to the default
// capacity.
func (s *Session) UnlockReleaseUndoBuffers() {
	for _, buf := range s.pinned {
		s.bufMgr.UnlockReleaseBuffer(buf)
	}
	s.pinned = make(map[uint64]Buffer)
	s.staged = nil
	if s.capacity > DefaultPrepareCapacity {
		s.capacity = DefaultPrepareCapacity
	}
	s.chain.reset()
}

// CurrentUndoLocation is the urp of the most recently inserted record,
// consulted by the rollback path.
func (s *Session) CurrentUndoLocation() RecPtr { return s.currentUndoLocation }
