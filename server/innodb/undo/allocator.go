package undo

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/util"
)

// LogMeta is the snapshot of a log's metadata handed back on the first
// allocation in a new top transaction, so the caller can embed it in its
// WAL record and recovery sees consistent metadata even under an online
// checkpoint.
type LogMeta struct {
	Number        uint32
	Persistence   Persistence
	Tablespace    TablespaceID
	LastXactStart uint64
	Prevlen       uint16
}

// Allocator attaches sessions to logs, reserves undo address space and
// creates the 1 MiB segment files that back it.
type Allocator struct {
	registry *Registry

	mu           sync.Mutex
	recoveryLogs map[uint64]uint32 // xid -> log number, rebuilt from WAL during recovery
}

// NewAllocator creates an allocator backed by registry.
func NewAllocator(registry *Registry) *Allocator {
	return &Allocator{
		registry:     registry,
		recoveryLogs: make(map[uint64]uint32),
	}
}

// Attach returns a log this session may exclusively write to, creating
// one if every suitable log is already attached or exhausted.
func (a *Allocator) Attach(persistence Persistence, tablespace TablespaceID, xid uint64) (*Log, error) {
	l := a.registry.AttachableLog(persistence)
	if l == nil {
		var err error
		l, err = a.registry.CreateLog(persistence, tablespace)
		if err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	l.attachedXid = xid
	l.mu.Unlock()
	return l, nil
}

// Allocate reserves size bytes starting at l.Insert, advancing Insert by
// exactly size. If the reservation would cross a 1 MiB segment boundary,
// a new segment is created and End advanced first. metaOut, when
// non-nil, is filled with the log's metadata snapshot on every call;
// whether the allocation starts a new top transaction is decided by the
// caller (PrepareUndoInsert), which may ignore the snapshot otherwise.
func (a *Allocator) Allocate(l *Log, size int, metaOut *LogMeta) (RecPtr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := bytesRemainingInSegment(l.Insert)
	if l.Insert == 0 || uint64(size) > remaining {
		if err := a.extendLocked(l); err != nil {
			return InvalidRecPtr, err
		}
	}

	if l.Insert+uint64(size) > l.End {
		return InvalidRecPtr, ErrOutOfAddressSpace
	}

	urp := MakeRecPtr(l.Number, l.Insert)
	l.Insert += uint64(size)

	if metaOut != nil {
		*metaOut = LogMeta{
			Number:        l.Number,
			Persistence:   l.Persistence,
			Tablespace:    l.Tablespace,
			LastXactStart: l.LastXactStart,
			Prevlen:       l.Prevlen,
		}
	}
	return urp, nil
}

// AllocateInRecovery mirrors Allocate but consults the replay-time
// xid -> log map so the same undo addresses are reproduced during WAL
// replay.
func (a *Allocator) AllocateInRecovery(xid uint64, size int, persistence Persistence) (RecPtr, error) {
	a.mu.Lock()
	logNumber, ok := a.recoveryLogs[xid]
	a.mu.Unlock()
	if !ok {
		l, err := a.registry.CreateLog(persistence, 0)
		if err != nil {
			return InvalidRecPtr, err
		}
		a.mu.Lock()
		a.recoveryLogs[xid] = l.Number
		a.mu.Unlock()
		logNumber = l.Number
	}
	l := a.registry.Lookup(logNumber)
	if l == nil {
		return InvalidRecPtr, ProtocolViolation("recovery log %d missing from registry", logNumber)
	}
	return a.Allocate(l, size, nil)
}

// AdvanceInsert commits an allocation after its bytes are actually
// written; size must equal the size passed to the matching Allocate.
// This is a no-op beyond an assertion in the current in-memory model,
// since Allocate already advanced Insert eagerly, but it is kept as an
// explicit call so staging and recovery share one commit point.
func (a *Allocator) AdvanceInsert(l *Log, urp RecPtr, size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if urp.Offset()+uint64(size) > l.Insert {
		return InvariantAssertion("AdvanceInsert: %s+%d exceeds log %d insert pointer %d", urp, size, l.Number, l.Insert)
	}
	return nil
}

// extendLocked creates a new 1 MiB segment and advances End. l.mu must
// already be held.
func (a *Allocator) extendLocked(l *Log) error {
	newEnd := segmentStart(l.End) + SegmentSize
	if l.End == 0 {
		newEnd = SegmentSize
	}
	path := a.registry.segmentPath(l.Number, segmentStart(l.End))
	f, err := util.CreateFileWithSize(path, SegmentSize)
	if err != nil {
		return SegmentCreateFailed(err, path)
	}
	f.Close()

	l.End = newEnd
	logger.WithFields(logger.Fields{
		"log":     l.Number,
		"segment": path,
	}).Debug("undo segment created")
	return nil
}

// ArchiveSegment lz4-compresses a fully-discarded 1 MiB segment before
// removing the live file, used by the discard worker once an entire
// segment falls below the log's discard pointer.
func (a *Allocator) ArchiveSegment(l *Log, segmentOffset uint64, archiveDir string) error {
	path := a.registry.segmentPath(l.Number, segmentOffset)
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return WrapIO(err, "read segment for archival")
	}

	if err := util.EnsureDir(archiveDir); err != nil {
		return WrapIO(err, "create archive directory")
	}
	archivePath := a.registry.segmentPath(l.Number, segmentOffset)
	archivePath = archiveDir + "/" + archivePath[len(a.registry.undoDir)+1:] + ".lz4"

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil {
		return WrapIO(err, "lz4 compress segment")
	}
	if err := ioutil.WriteFile(archivePath, compressed[:n], 0644); err != nil {
		return WrapIO(err, "write archived segment")
	}
	return os.Remove(path)
}
