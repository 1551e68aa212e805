package btree

import "encoding/binary"

// Value is the fixed-size payload an index maps keys to. The table
// heap and tuple format are out of scope for this module (spec.md
// §1), so Value is an opaque 8-byte record the caller defines the
// meaning of — typically a (page id, slot) pointer into whatever heap
// storage the caller owns.
type Value [8]byte

// Codec supplies the fixed-width binary encoding for a key type K and
// its total order. Size must equal the number of bytes Encode writes.
type Codec[K any] struct {
	Size    int
	Encode  func(K, []byte)
	Decode  func([]byte) K
	Compare func(a, b K) int
}

// Int64Codec encodes int64 keys as 8-byte big-endian integers with a
// sign-flip so unsigned byte comparison matches signed numeric order.
func Int64Codec() Codec[int64] {
	return Codec[int64]{
		Size: 8,
		Encode: func(k int64, buf []byte) {
			binary.BigEndian.PutUint64(buf, uint64(k)^signBit)
		},
		Decode: func(buf []byte) int64 {
			return int64(binary.BigEndian.Uint64(buf) ^ signBit)
		},
		Compare: func(a, b int64) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
	}
}

const signBit = uint64(1) << 63

// StringCodec encodes fixed-width, null-padded string keys. Keys
// longer than width are rejected by the tree at insert time.
func StringCodec(width int) Codec[string] {
	return Codec[string]{
		Size: width,
		Encode: func(k string, buf []byte) {
			n := copy(buf, k)
			clear(buf[n:])
		},
		Decode: func(buf []byte) string {
			end := len(buf)
			for end > 0 && buf[end-1] == 0 {
				end--
			}
			return string(buf[:end])
		},
		Compare: func(a, b string) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
	}
}
