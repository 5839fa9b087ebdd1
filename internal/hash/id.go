// Package hash provides a fast, non-cryptographic accelerator hash used to
// bucket candidate keys in an in-memory staging map. It has nothing to do
// with the object identifiers stored on disk (their hash algorithm is a
// caller-supplied opaque byte string); this is purely an internal
// lookup-speed optimization.
package hash

import "github.com/cespare/xxhash/v2"

// OfBytes computes the xxHash64 of an object-id prefix, used by
// table.ObjectIndexBuilder to bucket its staging map before the final
// lexicographic flush.
func OfBytes(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// OfString computes the xxHash64 of a string key.
func OfString(data string) uint64 {
	return xxhash.Sum64String(data)
}
