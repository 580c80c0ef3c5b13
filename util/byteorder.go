// Package util holds the small, dependency-free helpers shared by the
// page, undo and redo packages: fixed-width little-endian byte
// conversion and on-disk path helpers.
package util

// ReadUB2 reads a little-endian uint16 starting at cursor, returning the
// cursor advanced past it.
func ReadUB2(buff []byte, cursor int) (int, uint16) {
	i := uint16(buff[cursor])
	i |= uint16(buff[cursor+1]) << 8
	return cursor + 2, i
}

func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor])
	i |= uint32(buff[cursor+1]) << 8
	i |= uint32(buff[cursor+2]) << 16
	i |= uint32(buff[cursor+3]) << 24
	return cursor + 4, i
}

func ReadUB8(buff []byte, cursor int) (int, uint64) {
	i := uint64(buff[cursor])
	i |= uint64(buff[cursor+1]) << 8
	i |= uint64(buff[cursor+2]) << 16
	i |= uint64(buff[cursor+3]) << 24
	i |= uint64(buff[cursor+4]) << 32
	i |= uint64(buff[cursor+5]) << 40
	i |= uint64(buff[cursor+6]) << 48
	i |= uint64(buff[cursor+7]) << 56
	return cursor + 8, i
}

func ReadUB4Byte2UInt32(buff []byte) uint32 {
	_, v := ReadUB4(buff, 0)
	return v
}

func ReadUB8Byte2Long(buff []byte) uint64 {
	_, v := ReadUB8(buff, 0)
	return v
}

func WriteUB2(buf []byte, i uint16) []byte {
	return append(buf, byte(i), byte(i>>8))
}

func WriteUB4(buf []byte, i uint32) []byte {
	return append(buf, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
}

func WriteUB8(buf []byte, i uint64) []byte {
	return append(buf,
		byte(i), byte(i>>8), byte(i>>16), byte(i>>24),
		byte(i>>32), byte(i>>40), byte(i>>48), byte(i>>56))
}

func ConvertUInt2Bytes(i uint16) []byte { return WriteUB2(make([]byte, 0, 2), i) }
func ConvertUInt4Bytes(i uint32) []byte { return WriteUB4(make([]byte, 0, 4), i) }
func ConvertULong8Bytes(i uint64) []byte { return WriteUB8(make([]byte, 0, 8), i) }

func ConvertInt4Bytes(i int32) []byte  { return ConvertUInt4Bytes(uint32(i)) }
func ConvertLong8Bytes(i int64) []byte { return ConvertULong8Bytes(uint64(i)) }

func ConvertBool2Byte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
