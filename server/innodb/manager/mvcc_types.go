package manager

import "time"

// MVCCSnapshot is the point-in-time transaction-table snapshot a caller
// can report alongside the ReadView SnapshotOf builds from the same
// state, e.g. for an EXPLAIN-style visibility trace.
type MVCCSnapshot struct {
	ID         uint64    // creating transaction id
	CreateTime time.Time
	MinTxID    uint64
	MaxTxID    uint64
	TxMap      []uint64 // transactions active at snapshot time, including the creator
}

// MVCCVisibility classifies the outcome of a FetchVisible call.
type MVCCVisibility uint8

const (
	MVCC_VISIBLE MVCCVisibility = iota
	MVCC_INVISIBLE
)
