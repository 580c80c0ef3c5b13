package undo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"github.com/oltpcore/undoengine/logger"
	"github.com/oltpcore/undoengine/util"
)

// Registry is the process-wide table of active undo logs and their
// metadata. It grows by appending new Log entries, never shrinks, and is
// the unit a checkpoint durably snapshots to pg_undo/<lsn>.
type Registry struct {
	mu       sync.RWMutex
	logs     map[uint32]*Log
	nextLog  uint32
	baseDir  string // base/undo, pg_tblspc/<version>/undo, or temp equivalent
	undoDir  string
}

// NewRegistry creates a registry rooted at baseDir (e.g. "base/undo").
func NewRegistry(baseDir string) (*Registry, error) {
	if err := util.EnsureDir(baseDir); err != nil {
		return nil, WrapIO(err, "create undo base directory")
	}
	return &Registry{
		logs:    make(map[uint32]*Log),
		baseDir: baseDir,
		undoDir: baseDir,
	}, nil
}

// CreateLog allocates a brand-new log for the given persistence class and
// tablespace; it never reuses a log number.
func (r *Registry) CreateLog(persistence Persistence, tablespace TablespaceID) (*Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nextLog > MaxLogNumber {
		return nil, ProtocolViolation("undo log number space exhausted")
	}
	l := &Log{
		Number:      r.nextLog,
		Persistence: persistence,
		Tablespace:  tablespace,
	}
	r.nextLog++
	r.logs[l.Number] = l

	logger.WithFields(logger.Fields{
		"log":         l.Number,
		"persistence": persistence.String(),
	}).Info("undo log created")

	return l, nil
}

// Lookup returns the log with the given number, or nil.
func (r *Registry) Lookup(logNumber uint32) *Log {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logs[logNumber]
}

// AttachableLog returns an unattached, non-exhausted log for persistence,
// or nil if none exists and the caller must CreateLog.
func (r *Registry) AttachableLog(persistence Persistence) *Log {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.logs {
		if l.Persistence == persistence && !l.Attached() && !l.Exhausted() {
			return l
		}
	}
	return nil
}

// segmentPath returns the path of the 1 MiB segment file starting at
// offset within logNumber's log, named L.OOOOOOOOOO.
func (r *Registry) segmentPath(logNumber uint32, segmentOffset uint64) string {
	name := fmt.Sprintf("%d.%010X", logNumber, segmentOffset)
	return filepath.Join(r.undoDir, name)
}

// PageFileOffset resolves the on-disk segment file and the byte offset
// within it backing the fixed-size page at block within logNumber's log.
// It lets a page cache read and write through the exact pre-allocated
// segment files Allocator.extendLocked creates, instead of duplicating
// the L.OOOOOOOOOO naming scheme.
func (r *Registry) PageFileOffset(logNumber uint32, block uint64) (path string, offset int64) {
	pageOffset := block * uint64(PageSize)
	return r.segmentPath(logNumber, segmentStart(pageOffset)), int64(pageOffset % SegmentSize)
}

// checkpointRecord is the on-disk shape of one log's metadata inside a
// checkpoint snapshot.
type checkpointRecord struct {
	Number        uint32
	Persistence   uint8
	Tablespace    uint32
	Discard       uint64
	Insert        uint64
	End           uint64
	LastXactStart uint64
	Prevlen       uint16
}

// Checkpoint durably snapshots the full registry to pg_undo/<lsn>,
// compressed with snappy, so recovery can rebuild log metadata without
// replaying every segment from scratch.
func (r *Registry) Checkpoint(pgUndoDir string, lsn uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(r.logs))); err != nil {
		return "", WrapIO(err, "encode checkpoint log count")
	}
	for _, l := range r.logs {
		l.mu.Lock()
		rec := checkpointRecord{
			Number:        l.Number,
			Persistence:   uint8(l.Persistence),
			Tablespace:    uint32(l.Tablespace),
			Discard:       l.Discard,
			Insert:        l.Insert,
			End:           l.End,
			LastXactStart: l.LastXactStart,
			Prevlen:       l.Prevlen,
		}
		l.mu.Unlock()
		if err := binary.Write(&buf, binary.BigEndian, rec); err != nil {
			return "", WrapIO(err, "encode checkpoint record")
		}
	}

	if err := util.EnsureDir(pgUndoDir); err != nil {
		return "", WrapIO(err, "create pg_undo directory")
	}
	path := filepath.Join(pgUndoDir, fmt.Sprintf("%d", lsn))
	compressed := snappy.Encode(nil, buf.Bytes())
	if err := ioutil.WriteFile(path, compressed, 0644); err != nil {
		return "", WrapIO(err, "write checkpoint snapshot")
	}

	logger.Infof("undo checkpoint snapshot written: %s (%d logs)", path, len(r.logs))
	return path, nil
}

// Recover rebuilds the registry from a checkpoint snapshot written by
// Checkpoint.
func (r *Registry) Recover(path string) error {
	compressed, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no prior checkpoint, start empty
		}
		return WrapIO(err, "read checkpoint snapshot")
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return WrapIO(err, "decompress checkpoint snapshot")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return WrapIO(err, "decode checkpoint log count")
	}
	r.logs = make(map[uint32]*Log, count)
	var maxLogNumber uint32
	for i := uint32(0); i < count; i++ {
		var rec checkpointRecord
		if err := binary.Read(buf, binary.BigEndian, &rec); err != nil {
			return WrapIO(err, "decode checkpoint record")
		}
		r.logs[rec.Number] = &Log{
			Number:        rec.Number,
			Persistence:   Persistence(rec.Persistence),
			Tablespace:    TablespaceID(rec.Tablespace),
			Discard:       rec.Discard,
			Insert:        rec.Insert,
			End:           rec.End,
			LastXactStart: rec.LastXactStart,
			Prevlen:       rec.Prevlen,
		}
		if rec.Number > maxLogNumber {
			maxLogNumber = rec.Number
		}
	}
	if count > 0 {
		r.nextLog = maxLogNumber + 1
	}
	return nil
}
