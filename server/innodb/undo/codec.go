package undo

import (
	"encoding/binary"
)

// workspace holds the fully pre-converted byte image of a record being
// serialised across one or more pages. It is built once on the first
// Serialise call; later continuation calls only copy slices of it, and
// assert the caller passed back the same record.
type workspace struct {
	bytes []byte
	rec   *UnpackedUndoRecord
}

// Codec drives Serialise/Deserialise for one in-flight (possibly
// multi-page) record. Callers create one per record being written or
// read; it is not safe for concurrent use.
type Codec struct {
	ws *workspace
}

func encodeHeader(buf []byte, r *UnpackedUndoRecord) {
	buf[0] = byte(r.Type)
	buf[1] = byte(r.Info)
	binary.LittleEndian.PutUint16(buf[2:4], r.Prevlen)
	binary.LittleEndian.PutUint32(buf[4:8], r.RelFileNode.RelNumber)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.RelFileNode.Tablespace))
	binary.LittleEndian.PutUint64(buf[12:20], r.PrevXid)
	binary.LittleEndian.PutUint64(buf[20:28], r.Xid)
	binary.LittleEndian.PutUint32(buf[28:32], r.Cid)
}

func decodeHeader(buf []byte, r *UnpackedUndoRecord) {
	r.Type = RecordType(buf[0])
	r.Info = Info(buf[1])
	r.Prevlen = binary.LittleEndian.Uint16(buf[2:4])
	r.RelFileNode.RelNumber = binary.LittleEndian.Uint32(buf[4:8])
	r.RelFileNode.Tablespace = TablespaceID(binary.LittleEndian.Uint32(buf[8:12]))
	r.PrevXid = binary.LittleEndian.Uint64(buf[12:20])
	r.Xid = binary.LittleEndian.Uint64(buf[20:28])
	r.Cid = binary.LittleEndian.Uint32(buf[28:32])
}

// buildImage lays out the record's full byte image in the fixed order:
// header, relation details, block, transaction, payload length, payload
// bytes, tuple bytes.
func buildImage(r *UnpackedUndoRecord) []byte {
	ExpectedSize(r) // refreshes r.Info as a side effect
	buf := make([]byte, 0, ExpectedSize(r))

	hdr := make([]byte, headerSize)
	encodeHeader(hdr, r)
	buf = append(buf, hdr...)

	if r.Info&InfoRelationDetails != 0 {
		b := make([]byte, relationDetailsSize)
		binary.LittleEndian.PutUint32(b[0:4], uint32(r.Tablespace))
		b[4] = byte(r.Fork)
		buf = append(buf, b...)
	}
	if r.Info&InfoBlock != 0 {
		b := make([]byte, blockSize)
		binary.LittleEndian.PutUint64(b[0:8], uint64(r.Blkprev))
		binary.LittleEndian.PutUint64(b[8:16], r.Block)
		binary.LittleEndian.PutUint16(b[16:18], r.Offset)
		buf = append(buf, b...)
	}
	if r.Info&InfoTransaction != 0 {
		b := make([]byte, transactionSize)
		binary.LittleEndian.PutUint64(b[0:8], uint64(r.Next))
		binary.LittleEndian.PutUint32(b[8:12], r.XidEpoch)
		buf = append(buf, b...)
	}
	if r.Info&InfoPayload != 0 {
		b := make([]byte, payloadLenSize)
		binary.LittleEndian.PutUint32(b[0:4], uint32(len(r.Payload)))
		binary.LittleEndian.PutUint32(b[4:8], uint32(len(r.Tuple)))
		buf = append(buf, b...)
		buf = append(buf, r.Payload...)
		buf = append(buf, r.Tuple...)
	}
	return buf
}

// Serialise writes as much of record as fits starting at page[startByte:],
// continuing from alreadyWritten bytes already emitted to earlier pages
// of the same record. It returns whether the whole record has now been
// written and how many bytes were written to this page.
//
// On the first call (alreadyWritten == 0) the codec builds and caches the
// record's full byte image; later continuation calls assert the caller
// passed back the same record instance.
func (c *Codec) Serialise(record *UnpackedUndoRecord, page []byte, startByte, alreadyWritten int) (done bool, written int, err error) {
	if c.ws == nil {
		if alreadyWritten != 0 {
			return false, 0, InvariantAssertion("Serialise: first call must have alreadyWritten == 0")
		}
		c.ws = &workspace{bytes: buildImage(record), rec: record}
	} else if c.ws.rec != record {
		return false, 0, InvariantAssertion("Serialise: record changed across continuation calls")
	}

	remainingInPage := len(page) - startByte
	remainingInRecord := len(c.ws.bytes) - alreadyWritten
	n := remainingInRecord
	if n > remainingInPage {
		n = remainingInPage
	}
	copy(page[startByte:startByte+n], c.ws.bytes[alreadyWritten:alreadyWritten+n])

	written = n
	done = alreadyWritten+n == len(c.ws.bytes)
	return done, written, nil
}

// Deserialise is the inverse of Serialise. When the record fits on one
// page, Payload and Tuple reference the page buffer directly; when split
// across pages, callers first reassemble the continuous byte image
// (as Fetcher.readRecord does) and pass it here as a single slice, after which
// Release frees nothing since the caller owns the reassembly buffer.
func Deserialise(buf []byte) (*UnpackedUndoRecord, error) {
	if len(buf) < headerSize {
		return nil, ProtocolViolation("undo record shorter than header: %d bytes", len(buf))
	}
	r := &UnpackedUndoRecord{}
	decodeHeader(buf[:headerSize], r)
	cursor := headerSize

	if r.Info&InfoRelationDetails != 0 {
		if cursor+relationDetailsSize > len(buf) {
			return nil, ProtocolViolation("undo record truncated in relation details")
		}
		b := buf[cursor : cursor+relationDetailsSize]
		r.Tablespace = TablespaceID(binary.LittleEndian.Uint32(b[0:4]))
		r.Fork = ForkNumber(b[4])
		cursor += relationDetailsSize
	}
	if r.Info&InfoBlock != 0 {
		if cursor+blockSize > len(buf) {
			return nil, ProtocolViolation("undo record truncated in block info")
		}
		b := buf[cursor : cursor+blockSize]
		r.Blkprev = RecPtr(binary.LittleEndian.Uint64(b[0:8]))
		r.Block = binary.LittleEndian.Uint64(b[8:16])
		r.Offset = binary.LittleEndian.Uint16(b[16:18])
		cursor += blockSize
	} else {
		r.Block = InvalidBlock
	}
	if r.Info&InfoTransaction != 0 {
		if cursor+transactionSize > len(buf) {
			return nil, ProtocolViolation("undo record truncated in transaction info")
		}
		b := buf[cursor : cursor+transactionSize]
		r.Next = RecPtr(binary.LittleEndian.Uint64(b[0:8]))
		r.XidEpoch = binary.LittleEndian.Uint32(b[8:12])
		cursor += transactionSize
	}
	if r.Info&InfoPayload != 0 {
		if cursor+payloadLenSize > len(buf) {
			return nil, ProtocolViolation("undo record truncated in payload length")
		}
		b := buf[cursor : cursor+payloadLenSize]
		payloadLen := int(binary.LittleEndian.Uint32(b[0:4]))
		tupleLen := int(binary.LittleEndian.Uint32(b[4:8]))
		cursor += payloadLenSize
		if cursor+payloadLen+tupleLen > len(buf) {
			return nil, ProtocolViolation("undo record truncated in payload/tuple bytes")
		}
		// Zero-copy: reference buf directly. Release is a no-op unless
		// the caller built buf as an owned reassembly allocation.
		r.Payload = buf[cursor : cursor+payloadLen]
		cursor += payloadLen
		r.Tuple = buf[cursor : cursor+tupleLen]
		cursor += tupleLen
	}
	return r, nil
}

// Release frees any owned allocations made to reassemble a split record.
// With the current reassemble-then-Deserialise shape there is nothing to
// do beyond letting the reassembly buffer go out of scope; Release
// exists so call sites keep the usual pin/release symmetry and so a
// future pooled-allocation implementation has a hook.
func Release(*UnpackedUndoRecord) {}
