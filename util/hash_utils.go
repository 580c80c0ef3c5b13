package util

import (
	"github.com/OneOfOne/xxhash"
)

// Checksum64 computes the xxhash64 checksum of data, used for page and
// undo-segment checksums.
func Checksum64(data []byte) uint64 {
	h := xxhash.New64()
	h.Write(data)
	return h.Sum64()
}

// Checksum32 truncates Checksum64 to the 4-byte field stored in page and
// segment headers.
func Checksum32(data []byte) uint32 {
	return uint32(Checksum64(data))
}
