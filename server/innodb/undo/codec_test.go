package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *UnpackedUndoRecord {
	return &UnpackedUndoRecord{
		Type:        Insert,
		RelFileNode: RelFileNode{Tablespace: 1, RelNumber: 42},
		PrevXid:     99,
		Xid:         100,
		Cid:         3,
		Tablespace:  7,
		Fork:        DefaultForkNumber,
		Block:       5,
		Offset:      1,
		Blkprev:     InvalidRecPtr,
		Next:        Special,
		XidEpoch:    1,
		Payload:     []byte("meta"),
		Tuple:       []byte("row bytes go here"),
	}
}

func TestExpectedSizeMatchesInsertDelta(t *testing.T) {
	registry, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	l, err := registry.CreateLog(Permanent, 0)
	require.NoError(t, err)
	allocator := NewAllocator(registry)

	rec := sampleRecord()
	size := ExpectedSize(rec)

	before := l.Insert
	_, err = allocator.Allocate(l, size, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(size), int64(l.Insert-before))
}

func TestSerialiseDeserialiseRoundTrip(t *testing.T) {
	rec := sampleRecord()
	page := make([]byte, PageSize)

	codec := &Codec{}
	done, n, err := codec.Serialise(rec, page, PageHeaderSize, 0)
	require.NoError(t, err)
	require.True(t, done)
	require.Greater(t, n, 0)

	got, err := Deserialise(page[PageHeaderSize : PageHeaderSize+n])
	require.NoError(t, err)

	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.RelFileNode, got.RelFileNode)
	assert.Equal(t, rec.PrevXid, got.PrevXid)
	assert.Equal(t, rec.Xid, got.Xid)
	assert.Equal(t, rec.Cid, got.Cid)
	assert.Equal(t, rec.Tablespace, got.Tablespace)
	assert.Equal(t, rec.Fork, got.Fork)
	assert.Equal(t, rec.Block, got.Block)
	assert.Equal(t, rec.Offset, got.Offset)
	assert.Equal(t, rec.Next, got.Next)
	assert.Equal(t, rec.XidEpoch, got.XidEpoch)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, rec.Tuple, got.Tuple)
}

func TestSerialiseSplitAcrossPages(t *testing.T) {
	rec := sampleRecord()
	rec.Tuple = make([]byte, 500)
	for i := range rec.Tuple {
		rec.Tuple[i] = byte(i)
	}

	pageA := make([]byte, PageSize)
	pageB := make([]byte, PageSize)

	codec := &Codec{}
	startByte := PageSize - 40 // force a split near the end of page A
	done, n1, err := codec.Serialise(rec, pageA, startByte, 0)
	require.NoError(t, err)
	require.False(t, done)

	done, n2, err := codec.Serialise(rec, pageB, PageHeaderSize, n1)
	require.NoError(t, err)
	require.True(t, done)

	assembled := append([]byte{}, pageA[startByte:startByte+n1]...)
	assembled = append(assembled, pageB[PageHeaderSize:PageHeaderSize+n2]...)

	got, err := Deserialise(assembled)
	require.NoError(t, err)
	assert.Equal(t, rec.Tuple, got.Tuple)
	assert.Equal(t, rec.Type, got.Type)
}

func TestSerialiseRejectsChangedRecordAcrossCalls(t *testing.T) {
	rec := sampleRecord()
	page := make([]byte, PageSize)
	codec := &Codec{}

	_, n, err := codec.Serialise(rec, page, PageSize-10, 0)
	require.NoError(t, err)

	other := sampleRecord()
	_, _, err = codec.Serialise(other, page, 0, n)
	assert.Error(t, err)
}
