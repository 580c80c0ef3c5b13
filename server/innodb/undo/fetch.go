package undo

// VisibilityCallback decides whether the record found at (block, offset,
// xid) is the one the scanner wants. Returning true stops the walk and
// FetchRecord returns that record; returning false follows blkprev.
type VisibilityCallback func(record *UnpackedUndoRecord, block uint64, offset uint16, xid uint64) bool

// Fetcher walks per-tuple undo chains, amortising buffer pins across
// hops that stay on the same block and log.
type Fetcher struct {
	registry *Registry
	bufMgr   BufferManager

	pinnedBlock uint64
	pinnedLog   uint32
	pinnedBuf   Buffer
	havePin     bool
}

// NewFetcher creates a fetcher against registry using bufMgr for page I/O.
func NewFetcher(registry *Registry, bufMgr BufferManager) *Fetcher {
	return &Fetcher{registry: registry, bufMgr: bufMgr}
}

// FetchRecord repeatedly reads the record at urp and invokes callback,
// following blkprev until callback returns true, urp falls below the
// log's discard pointer, or block == InvalidBlock (caller wants the
// first record unconditionally). It returns (nil, nil) when no record
// satisfies the callback before discard.
func (f *Fetcher) FetchRecord(urp RecPtr, block uint64, offset uint16, xid uint64, callback VisibilityCallback) (*UnpackedUndoRecord, error) {
	defer f.releasePin()

	for {
		l := f.registry.Lookup(urp.LogNumber())
		if l == nil {
			return nil, ProtocolViolation("fetch: unknown undo log %d", urp.LogNumber())
		}

		l.DiscardLock().RLock()
		belowDiscard := urp.Offset() < l.Discard
		l.DiscardLock().RUnlock()
		if belowDiscard {
			return nil, nil
		}

		record, err := f.readRecord(l, urp)
		if err != nil {
			return nil, err
		}

		if callback(record, block, offset, xid) {
			return record, nil
		}

		if block == InvalidBlock {
			return record, nil
		}

		if !record.Blkprev.Valid() {
			return nil, nil
		}

		urp = record.Blkprev
	}
}

// readRecord pins (or reuses the already-pinned) buffer for urp's block
// and deserialises the record starting there. Records that span more
// than one page are reassembled into an owned buffer before decoding.
func (f *Fetcher) readRecord(l *Log, urp RecPtr) (*UnpackedUndoRecord, error) {
	blockNum := urp.Offset() / uint64(PageSize)
	start := int(urp.Offset() % uint64(PageSize))

	buf, err := f.pin(l.Number, blockNum)
	if err != nil {
		return nil, err
	}
	page := buf.Page()

	if start >= len(page) {
		return nil, ProtocolViolation("fetch: urp %s out of page bounds", urp)
	}

	remaining := len(page) - start
	if remaining >= headerSize {
		info := Info(page[start+1])
		size := headerHintedSize(info, page[start:])
		if size > 0 && size <= remaining {
			return Deserialise(page[start : start+size])
		}
	}

	// Split across pages: walk forward, pinning subsequent blocks and
	// reassembling into an owned buffer.
	assembled := append([]byte(nil), page[start:]...)
	nextBlock := blockNum + 1
	for {
		nbuf, err := f.pin(l.Number, nextBlock)
		if err != nil {
			return nil, err
		}
		npage := nbuf.Page()
		chunk := npage[PageHeaderSize:]
		assembled = append(assembled, chunk...)

		if rec, err := Deserialise(assembled); err == nil {
			return rec, nil
		}
		nextBlock++
		if nextBlock-blockNum > 64 {
			return nil, ProtocolViolation("fetch: record at %s spans implausibly many pages", urp)
		}
	}
}

// headerHintedSize computes the exact encoded size from a header already
// known to be fully present in buf, without requiring payload/tuple
// bytes to also be present (used only to decide whether a fast
// single-page decode is possible).
func headerHintedSize(info Info, buf []byte) int {
	size := headerSize
	if info&InfoRelationDetails != 0 {
		size += relationDetailsSize
	}
	if info&InfoBlock != 0 {
		size += blockSize
	}
	if info&InfoTransaction != 0 {
		size += transactionSize
	}
	if info&InfoPayload != 0 {
		if size+payloadLenSize > len(buf) {
			return -1
		}
		payloadLen := int(le32(buf[size : size+4]))
		tupleLen := int(le32(buf[size+4 : size+8]))
		size += payloadLenSize + payloadLen + tupleLen
	}
	return size
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (f *Fetcher) pin(logNumber uint32, block uint64) (Buffer, error) {
	if f.havePin && f.pinnedLog == logNumber && f.pinnedBlock == block {
		return f.pinnedBuf, nil
	}
	f.releasePin()

	buf, err := f.bufMgr.ReadBuffer(logNumber, block, LockShared)
	if err != nil {
		return nil, WrapIO(err, "pin undo buffer for fetch")
	}
	f.pinnedBuf = buf
	f.pinnedLog = logNumber
	f.pinnedBlock = block
	f.havePin = true
	return buf, nil
}

func (f *Fetcher) releasePin() {
	if f.havePin {
		f.bufMgr.ReleaseBuffer(f.pinnedBuf)
		f.havePin = false
		f.pinnedBuf = nil
	}
}
