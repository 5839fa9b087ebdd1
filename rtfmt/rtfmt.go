// Package rtfmt provides the primitive binary encoding used throughout the
// reftable format: fixed-width big-endian integers, a little-endian varint,
// and a generic binary-search helper over a monotone predicate.
//
// Every other package in this module builds on these primitives; nothing
// here depends on record, block, or file layout.
package rtfmt

import "encoding/binary"

// PutU16 writes v as a 2-byte big-endian value into dst[0:2].
func PutU16(dst []byte, v uint16) {
	_ = dst[1]
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
}

// GetU16 reads a 2-byte big-endian value from src[0:2].
func GetU16(src []byte) uint16 {
	_ = src[1]
	return uint16(src[0])<<8 | uint16(src[1])
}

// PutU24 writes v as a 3-byte big-endian value into dst[0:3].
// The top byte of v is ignored; callers must ensure v < 1<<24.
func PutU24(dst []byte, v uint32) {
	_ = dst[2]
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// GetU24 reads a 3-byte big-endian value from src[0:3].
func GetU24(src []byte) uint32 {
	_ = src[2]
	return uint32(src[0])<<16 | uint32(src[1])<<8 | uint32(src[2])
}

// PutU32 writes v as a 4-byte big-endian value into dst[0:4].
func PutU32(dst []byte, v uint32) {
	binary.BigEndian.PutUint32(dst, v)
}

// GetU32 reads a 4-byte big-endian value from src[0:4].
func GetU32(src []byte) uint32 {
	return binary.BigEndian.Uint32(src)
}

// PutU64 writes v as an 8-byte big-endian value into dst[0:8].
func PutU64(dst []byte, v uint64) {
	binary.BigEndian.PutUint64(dst, v)
}

// GetU64 reads an 8-byte big-endian value from src[0:8].
func GetU64(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// MaxVarintLen is the maximum number of bytes a uint64 varint can occupy
// under the 7-bits-per-byte little-endian continuation scheme used here.
const MaxVarintLen = binary.MaxVarintLen64

// PutUvarint appends the varint encoding of v to dst and returns the
// extended slice, growing it as needed.
func PutUvarint(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// GetUvarint decodes a varint from src starting at offset.
//
// Returns the decoded value, the offset immediately following the varint,
// and false if src is exhausted or the varint is malformed (overlong / more
// than MaxVarintLen bytes).
func GetUvarint(src []byte, offset int) (uint64, int, bool) {
	if offset < 0 || offset >= len(src) {
		return 0, offset, false
	}

	v, n := binary.Uvarint(src[offset:])
	if n <= 0 {
		return 0, offset, false
	}

	return v, offset + n, true
}

// BinarySearch returns the smallest index i in [0, n) at which f(i) is true,
// assuming f is ascending (false...false, true...true somewhere in the
// range). It returns n if f never becomes true.
//
// This is the monotone binary-search helper used by both the in-block
// restart-point search (block.Reader.Seek) and the reader's block-level
// search of the ref section when no ref index is available. Unindexed log
// and obj lookups do not use it; they scan the section's blocks in order.
func BinarySearch(n int, f func(i int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if f(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	return lo
}
