// Package block implements the reftable block codec: the fixed-size,
// typed, prefix-compressed unit that every reftable section is built from.
//
// A block holds one record kind. Records are stored back to back in
// ascending key order, each one prefix-compressed against its predecessor
// except at restart points, which store the full key and serve as anchors
// for the in-block binary search Reader.Seek performs.
package block

import (
	"bytes"
	"errors"

	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
)

// ErrBlockFull is returned by Writer.Add when the record would not fit in
// the remaining block capacity. It is not a format error: the caller
// (table.SectionWriter) is expected to finish the current block and open a
// new one.
var ErrBlockFull = errors.New("block: full")

const (
	headerSize     = 4 // type(1) + block_len(3)
	restartEntrySz = 3 // u24 per restart offset
	restartCountSz = 2 // u16 restart count
)

// Writer accumulates records of a single kind into one block's payload.
type Writer struct {
	kind            record.Kind
	blockSize       int
	restartInterval int

	buf      []byte
	restarts []uint32
	prevKey  []byte
	firstKey []byte
	lastKey  []byte
	count    int
}

// NewWriter creates a block writer for the given kind, targeting blockSize
// bytes per block (including the type/length header and restart table) and
// emitting a restart point every restartInterval records.
func NewWriter(kind record.Kind, blockSize, restartInterval int) *Writer {
	return &Writer{
		kind:            kind,
		blockSize:       blockSize,
		restartInterval: restartInterval,
	}
}

// Len reports the number of records added since the last Reset.
func (w *Writer) Len() int { return w.count }

// BlockSize reports the capacity this writer was constructed or Reset with.
// A section's first block may be sized smaller than the section's nominal
// block_size (to share its opening bytes with the file header); callers
// that pad a block to its own capacity rather than a fixed constant use
// this instead of the section's block_size.
func (w *Writer) BlockSize() int { return w.blockSize }

// Reset clears the writer so it can start a fresh block, optionally with a
// new capacity.
func (w *Writer) Reset(blockSize int) {
	w.blockSize = blockSize
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.prevKey = nil
	w.firstKey = nil
	w.lastKey = nil
	w.count = 0
}

// EstimatedSize returns the number of bytes Finish would currently produce
// before padding, i.e. header + records + restart table.
func (w *Writer) EstimatedSize() int {
	return headerSize + len(w.buf) + restartEntrySz*len(w.restarts) + restartCountSz
}

// Add encodes rec against the writer's running previous key and appends it
// to the block. It returns ErrBlockFull, without mutating the writer's
// committed state, when the record would push the block (including its
// worst-case restart table growth) past blockSize — unless the block is
// still empty, in which case the record is always accepted so the caller
// can grow the block to fit a single oversized record.
func (w *Writer) Add(rec record.Record, ctx record.Context) error {
	key := rec.Key()

	isRestart := w.count%w.restartInterval == 0

	shared := 0
	if !isRestart {
		shared = commonPrefixLen(w.prevKey, key)
	}
	suffix := key[shared:]

	enc := make([]byte, 0, 16+len(suffix))
	enc = rtfmt.PutUvarint(enc, uint64(shared))
	enc = rtfmt.PutUvarint(enc, uint64(len(suffix)))
	enc = append(enc, suffix...)
	enc = rtfmt.PutUvarint(enc, uint64(rec.ValType()&0x7))

	enc, err := rec.EncodeValue(enc, ctx)
	if err != nil {
		return err
	}

	newRestartCount := len(w.restarts)
	if isRestart {
		newRestartCount++
	}
	projected := headerSize + len(w.buf) + len(enc) + restartEntrySz*newRestartCount + restartCountSz

	if w.count > 0 && projected > w.blockSize {
		return ErrBlockFull
	}

	if isRestart {
		w.restarts = append(w.restarts, uint32(headerSize+len(w.buf)))
	}
	w.buf = append(w.buf, enc...)

	w.prevKey = append(w.prevKey[:0], key...)
	if w.count == 0 {
		w.firstKey = append([]byte{}, key...)
	}
	w.lastKey = append([]byte{}, key...)
	w.count++

	return nil
}

// Finish serializes the block: header, records, restart table, restart
// count. If targetSize is greater than the natural length, the block is
// zero-padded up to targetSize; a targetSize of 0 (or anything at or below
// the natural length) leaves the block unpadded. The section writer passes
// 0 for a section's final block; an oversized single-record log block is
// left unpadded because its natural length exceeds the target it is given.
func (w *Writer) Finish(targetSize int) (payload, firstKey, lastKey []byte, err error) {
	blockLen := w.EstimatedSize()
	if blockLen > 1<<24-1 {
		return nil, nil, nil, rterrs.ErrRecordTooLarge
	}

	size := blockLen
	if targetSize > size {
		size = targetSize
	}

	out := make([]byte, 0, size)
	out = append(out, byte(w.kind))

	var lenBuf [3]byte
	rtfmt.PutU24(lenBuf[:], uint32(blockLen))
	out = append(out, lenBuf[:]...)

	out = append(out, w.buf...)

	for _, off := range w.restarts {
		var b [3]byte
		rtfmt.PutU24(b[:], off)
		out = append(out, b[:]...)
	}

	var cnt [2]byte
	rtfmt.PutU16(cnt[:], uint16(len(w.restarts)))
	out = append(out, cnt[:]...)

	if len(out) < size {
		out = append(out, make([]byte, size-len(out))...)
	}

	return out, w.firstKey, w.lastKey, nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Reader decodes a single block held entirely in memory, starting at
// data[0] (callers strip any leading file/header bytes before constructing
// one).
type Reader struct {
	kind        record.Kind
	data        []byte
	restarts    []uint32
	recordsEnd  int
	blockLength int
}

// NewReader parses a block's header and restart table. It does not decode
// any records eagerly.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < headerSize+restartCountSz {
		return nil, rterrs.ErrTruncated
	}

	kind := record.Kind(data[0])
	blockLen := int(rtfmt.GetU24(data[1:4]))
	if blockLen < headerSize+restartCountSz || blockLen > len(data) {
		return nil, rterrs.ErrCorruptBlock
	}

	restartCount := int(rtfmt.GetU16(data[blockLen-restartCountSz : blockLen]))
	restartsStart := blockLen - restartCountSz - restartEntrySz*restartCount
	if restartsStart < headerSize {
		return nil, rterrs.ErrCorruptBlock
	}

	restarts := make([]uint32, restartCount)
	for i := 0; i < restartCount; i++ {
		off := restartsStart + restartEntrySz*i
		restarts[i] = rtfmt.GetU24(data[off : off+3])
	}

	return &Reader{
		kind:        kind,
		data:        data,
		restarts:    restarts,
		recordsEnd:  restartsStart,
		blockLength: blockLen,
	}, nil
}

// Kind reports the block's record kind.
func (r *Reader) Kind() record.Kind { return r.kind }

// RestartCount reports the number of restart points in the block.
func (r *Reader) RestartCount() int { return len(r.restarts) }

// Length reports the block's declared length (header + records + restart
// table + restart count), excluding any trailing zero padding. Non-final
// blocks in a section are physically padded on disk to their padded target
// (block_size, or block_size minus the file header for a ref section's
// first block); a block's on-disk footprint is max(Length(), target).
func (r *Reader) Length() int { return r.blockLength }

// Iter returns an iterator positioned before the block's first record.
func (r *Reader) Iter() *Iter {
	return &Iter{r: r, pos: headerSize}
}

// Seek returns an iterator positioned so that the next call to Next yields
// the first record with key >= target, or an iterator already exhausted if
// no such record exists in this block.
func (r *Reader) Seek(target []byte, ctx record.Context) (*Iter, error) {
	restartIdx := rtfmt.BinarySearch(len(r.restarts), func(i int) bool {
		key, err := r.restartKey(i)
		if err != nil {
			return true
		}
		return bytes.Compare(key, target) > 0
	})

	startPos := headerSize
	if restartIdx > 0 {
		startPos = int(r.restarts[restartIdx-1])
	}

	pos := startPos
	var prevKey []byte
	scratch := record.New(r.kind)

	for pos < r.recordsEnd {
		recStart := pos
		keyAtStart := prevKey

		key, newPos, err := decodeRecord(r.data, pos, prevKey, scratch, ctx)
		if err != nil {
			return nil, err
		}

		if bytes.Compare(key, target) >= 0 {
			return &Iter{r: r, pos: recStart, prevKey: cloneKey(keyAtStart)}, nil
		}

		prevKey = key
		pos = newPos
	}

	return &Iter{r: r, pos: r.recordsEnd}, nil
}

func (r *Reader) restartKey(i int) ([]byte, error) {
	pos := int(r.restarts[i])
	shared, p1, ok := rtfmt.GetUvarint(r.data, pos)
	if !ok || shared != 0 {
		return nil, rterrs.ErrCorruptBlock
	}
	suffixLen, p2, ok := rtfmt.GetUvarint(r.data, p1)
	if !ok || p2+int(suffixLen) > len(r.data) {
		return nil, rterrs.ErrCorruptBlock
	}
	return r.data[p2 : p2+int(suffixLen)], nil
}

func cloneKey(k []byte) []byte {
	if k == nil {
		return nil
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

// decodeRecord decodes one prefix-compressed record starting at pos,
// against prevKey, filling rec's value via DecodeValue. It returns the
// reconstructed key and the offset immediately after the record.
func decodeRecord(data []byte, pos int, prevKey []byte, rec record.Record, ctx record.Context) (key []byte, newPos int, err error) {
	shared, p1, ok := rtfmt.GetUvarint(data, pos)
	if !ok || int(shared) > len(prevKey) {
		return nil, 0, rterrs.ErrCorruptRecord
	}

	suffixLen, p2, ok := rtfmt.GetUvarint(data, p1)
	if !ok || p2+int(suffixLen) > len(data) {
		return nil, 0, rterrs.ErrCorruptRecord
	}
	suffix := data[p2 : p2+int(suffixLen)]

	key = make([]byte, 0, int(shared)+len(suffix))
	key = append(key, prevKey[:shared]...)
	key = append(key, suffix...)

	p3 := p2 + int(suffixLen)
	extra, p4, ok := rtfmt.GetUvarint(data, p3)
	if !ok {
		return nil, 0, rterrs.ErrCorruptRecord
	}
	valType := uint8(extra & 0x7)

	n, err := rec.DecodeValue(data[p4:], valType, ctx)
	if err != nil {
		return nil, 0, err
	}

	return key, p4 + n, nil
}

// Iter walks a block's records in order, starting from wherever it was
// constructed (block start for Iter(), a seek target for Seek()).
type Iter struct {
	r       *Reader
	pos     int
	prevKey []byte
}

// Next decodes the next record into rec. rec must be the concrete type
// matching the block's kind (record.New(reader.Kind()) if the caller
// doesn't already have one). Returns rterrs.ErrIterationDone once the
// block is exhausted.
func (it *Iter) Next(rec record.Record, ctx record.Context) error {
	if it.pos >= it.r.recordsEnd {
		return rterrs.ErrIterationDone
	}

	key, newPos, err := decodeRecord(it.r.data, it.pos, it.prevKey, rec, ctx)
	if err != nil {
		return err
	}
	if err := rec.SetKey(key); err != nil {
		return err
	}

	it.prevKey = key
	it.pos = newPos

	return nil
}

// Done reports whether the iterator has no more records to yield, without
// consuming one. Used by reftable.Reader to decide whether a seek landed
// inside a block or must continue into the next one.
func (it *Iter) Done() bool { return it.pos >= it.r.recordsEnd }
