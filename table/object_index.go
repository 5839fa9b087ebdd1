package table

import (
	"bytes"
	"sort"

	"github.com/nrednav/reftable/internal/hash"
	"github.com/nrednav/reftable/record"
)

// minObjKeyLen is the shortest prefix length the obj section will ever
// emit, per spec: object keys are shortened to the minimum unique prefix,
// never below 2 bytes.
const minObjKeyLen = 2

type objEntry struct {
	id      []byte
	offsets []uint64
}

// ObjectIndexBuilder buffers (ObjectId -> ref-block offset) observations
// made while the ref section is being written, then flushes them as the
// obj section once ref writing finishes.
//
// Internally it buckets entries by an xxhash64 of the full ObjectId rather
// than relying on a Go map keyed directly by string(id): this mirrors how
// the rest of this module reaches for cespare/xxhash/v2 as an in-memory
// accelerator hash, and keeps the staging structure independent of
// whatever hash algorithm actually produced the ObjectId bytes.
type ObjectIndexBuilder struct {
	buckets map[uint64][]*objEntry
	count   int
}

// NewObjectIndexBuilder returns an empty builder.
func NewObjectIndexBuilder() *ObjectIndexBuilder {
	return &ObjectIndexBuilder{buckets: make(map[uint64][]*objEntry)}
}

// Observe records that id (a ref's Value or TargetValue) appears in the
// ref block starting at blockOffset. Nil/empty ids are ignored.
func (b *ObjectIndexBuilder) Observe(id []byte, blockOffset uint64) {
	if len(id) == 0 {
		return
	}

	h := hash.OfBytes(id)
	chain := b.buckets[h]

	for _, e := range chain {
		if bytes.Equal(e.id, id) {
			if len(e.offsets) == 0 || e.offsets[len(e.offsets)-1] != blockOffset {
				e.offsets = append(e.offsets, blockOffset)
			}
			return
		}
	}

	entry := &objEntry{id: append([]byte(nil), id...), offsets: []uint64{blockOffset}}
	b.buckets[h] = append(chain, entry)
	b.count++
}

// Len reports the number of distinct object ids observed.
func (b *ObjectIndexBuilder) Len() int { return b.count }

// Flush writes the obj section: one record.Obj per distinct object id,
// in lexicographic order of the full id, each keyed by the shortest
// prefix that remains unique against its lexicographic neighbors.
func (b *ObjectIndexBuilder) Flush(sw *SectionWriter) error {
	entries := b.sortedEntries()
	if len(entries) == 0 {
		return nil
	}

	prefixes := shortenKeys(entries)

	for i, e := range entries {
		rec := &record.Obj{
			Prefix:  prefixes[i],
			Offsets: dedupAscending(e.offsets),
		}
		if err := sw.Add(rec); err != nil {
			return err
		}
	}

	return nil
}

func (b *ObjectIndexBuilder) sortedEntries() []*objEntry {
	all := make([]*objEntry, 0, b.count)
	for _, chain := range b.buckets {
		all = append(all, chain...)
	}
	sort.Slice(all, func(i, j int) bool {
		return bytes.Compare(all[i].id, all[j].id) < 0
	})
	return all
}

// shortenKeys computes, for each sorted entry, the shortest prefix length
// >= minObjKeyLen that is not shared with either lexicographic neighbor.
// Because the entries are sorted, any other entry sharing a given prefix
// must be adjacent, so only the immediate neighbors need checking.
func shortenKeys(entries []*objEntry) [][]byte {
	n := len(entries)
	out := make([][]byte, n)

	for i, e := range entries {
		l := minObjKeyLen
		if l > len(e.id) {
			l = len(e.id)
		}

		for l < len(e.id) {
			prevConflict := i > 0 && sharesPrefix(entries[i-1].id, e.id, l)
			nextConflict := i+1 < n && sharesPrefix(entries[i+1].id, e.id, l)
			if !prevConflict && !nextConflict {
				break
			}
			l++
		}

		out[i] = e.id[:l]
	}

	return out
}

func sharesPrefix(a, b []byte, l int) bool {
	if len(a) < l || len(b) < l {
		return false
	}
	return bytes.Equal(a[:l], b[:l])
}

func dedupAscending(offsets []uint64) []uint64 {
	sorted := append([]uint64(nil), offsets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
