package undo

import (
	juju "github.com/juju/errors"
	pcap "github.com/pingcap/errors"
	"github.com/pkg/errors"
)

// Error handling follows the three-tier taxonomy from the ambient stack:
// juju/errors classifies protocol and invariant violations that must
// abort the owning process, pingcap/errors carries the recoverable
// sentinel conditions a caller is expected to branch on, and pkg/errors
// wraps transient I/O failures with a stack trace for the buffer manager
// to retry against.

// ProtocolViolation reports a fatal on-disk or cross-subsystem
// inconsistency: invalid offsets, a tuple too large for a page, or a
// computed undo pointer that disagrees with the one embedded in a WAL
// record. The owning backend or replayer must abort.
func ProtocolViolation(format string, args ...interface{}) error {
	return protocolViolation{juju.Errorf(format, args...)}
}

// protocolViolation marks errors built by ProtocolViolation so that
// IsProtocolViolation can tell them apart from every other error.
type protocolViolation struct{ error }

// IsProtocolViolation reports whether err was produced by ProtocolViolation.
func IsProtocolViolation(err error) bool {
	_, ok := errors.Cause(err).(protocolViolation)
	return ok
}

// InvariantAssertion reports a fatal mismatch between a resumed
// Serialise/Deserialise call and the record it was first invoked with.
func InvariantAssertion(format string, args ...interface{}) error {
	return juju.Errorf(format, args...)
}

// Recoverable sentinel errors a caller is expected to test for with ==
// or errors.Is, per pingcap/errors' normalized-error convention.
var (
	// ErrOutOfAddressSpace is returned by Allocate when the attached log
	// cannot grow any further and the caller must attach a fresh one.
	ErrOutOfAddressSpace = pcap.Normalize("undo log exhausted, attach a new log", pcap.RFCCodeText("undo:out_of_address_space"))

	// ErrPrepareStagingFull is returned when more records are being
	// prepared than SetPrepareSize allows for.
	ErrPrepareStagingFull = pcap.Normalize("prepared-undo staging array is full, call SetPrepareSize", pcap.RFCCodeText("undo:prepare_staging_full"))

	// ErrAlreadyDiscarded is the "no record" sentinel for a urp that has
	// fallen below the log's discard pointer. FetchRecord does not return
	// it: it reports that case as (nil, nil).
	ErrAlreadyDiscarded = pcap.Normalize("undo record already discarded", pcap.RFCCodeText("undo:already_discarded"))
)

// WrapIO wraps a transient I/O failure (segment creation, buffer read)
// with a stack trace so the buffer manager's retry path has context on
// where the failure originated.
func WrapIO(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// SegmentCreateFailed wraps a failed 1 MiB segment file creation. It is
// fatal: unlike ErrOutOfAddressSpace, the caller cannot route around it
// by attaching a different log.
func SegmentCreateFailed(err error, path string) error {
	return errors.Wrapf(err, "create undo segment %s", path)
}
