package undo

// Persistence classes a log (and therefore every record on it) belongs to.
type Persistence uint8

const (
	Permanent Persistence = iota
	Unlogged
	Temp
)

func (p Persistence) String() string {
	switch p {
	case Permanent:
		return "permanent"
	case Unlogged:
		return "unlogged"
	case Temp:
		return "temp"
	default:
		return "unknown"
	}
}

// RecordType is the logical operation an undo record rolls back.
type RecordType uint8

const (
	Insert RecordType = iota
	Delete
	InplaceUpdate
	Update
	MultiInsert
	XidLockOnly
	XidMultiLockOnly
	ItemIDUnused
)

// Info is a bitmap of which optional sub-blocks are present on a record.
// It is always derivable from which fields the caller populated; callers
// never set it directly.
type Info uint8

const (
	InfoRelationDetails Info = 1 << iota
	InfoBlock
	InfoTransaction
	InfoPayload
)

// Special marks the `next` field of a transaction's first record before
// the next transaction on the log patches it in place.
const Special RecPtr = RecPtr(^uint64(0))

// InvalidBlock tells FetchRecord to return the first record unconditionally
// rather than following blkprev.
const InvalidBlock uint64 = ^uint64(0)

// TablespaceID and ForkNumber are opaque ids carried by RELATION_DETAILS;
// their interpretation belongs to the consuming storage layer.
type TablespaceID uint32
type ForkNumber uint8

const DefaultForkNumber ForkNumber = 0

// RelFileNode identifies the relation a record belongs to.
type RelFileNode struct {
	Tablespace TablespaceID
	RelNumber  uint32
}

// UnpackedUndoRecord is the in-memory form produced by callers and
// consumed by the record codec. Fields are grouped by the optional info
// bit that governs their presence on the wire.
type UnpackedUndoRecord struct {
	// Header, always present.
	Type        RecordType
	Info        Info
	Prevlen     uint16
	RelFileNode RelFileNode
	PrevXid     uint64
	Xid         uint64
	Cid         uint32

	// RELATION_DETAILS
	Tablespace TablespaceID
	Fork       ForkNumber

	// BLOCK
	Blkprev RecPtr
	Block   uint64
	Offset  uint16

	// TRANSACTION
	Next     RecPtr
	XidEpoch uint32

	// PAYLOAD
	Payload []byte
	Tuple   []byte

	// urp is filled in once the record has been staged/allocated; it is
	// not part of the wire format.
	urp RecPtr
}

// deriveInfo recomputes Info from which optional fields are populated:
// non-default tablespace/fork selects RELATION_DETAILS, a valid
// block selects BLOCK, a valid Next selects TRANSACTION, and any payload
// or tuple bytes select PAYLOAD.
func (r *UnpackedUndoRecord) deriveInfo() {
	var info Info
	if r.Tablespace != 0 || r.Fork != DefaultForkNumber {
		info |= InfoRelationDetails
	}
	if r.Block != InvalidBlock {
		info |= InfoBlock
	}
	if r.Next.Valid() || r.Next == Special {
		info |= InfoTransaction
	}
	if len(r.Payload) > 0 || len(r.Tuple) > 0 {
		info |= InfoPayload
	}
	r.Info = info
}

// URP returns the undo pointer this record was staged/inserted at.
func (r *UnpackedUndoRecord) URP() RecPtr { return r.urp }

const (
	headerSize          = 1 + 1 + 2 + 4 + 4 + 8 + 8 + 4 // type+info+prevlen+relnumber+tablespace(header copy)+prevxid+xid+cid
	relationDetailsSize = 4 + 1                         // tablespace id + fork
	blockSize           = 8 + 8 + 2                     // blkprev + block + offset
	transactionSize     = 8 + 4                         // next + xid_epoch
	payloadLenSize      = 4 + 4                         // payload length + tuple length
)

// ExpectedSize is a pure function of which optional blocks Info selects;
// it never depends on page layout.
func ExpectedSize(r *UnpackedUndoRecord) int {
	r.deriveInfo()
	size := headerSize
	if r.Info&InfoRelationDetails != 0 {
		size += relationDetailsSize
	}
	if r.Info&InfoBlock != 0 {
		size += blockSize
	}
	if r.Info&InfoTransaction != 0 {
		size += transactionSize
	}
	if r.Info&InfoPayload != 0 {
		size += payloadLenSize + len(r.Payload) + len(r.Tuple)
	}
	return size
}
