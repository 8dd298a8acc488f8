package substream

import "encoding/binary"

// AppendUERString appends a length-prefixed UTF-8 string: BE32(len) || bytes.
func AppendUERString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// AppendLE64 appends v as 8 little-endian bytes.
func AppendLE64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// be64 reads 8 big-endian bytes.
func be64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
