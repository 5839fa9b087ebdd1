package reftable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/nrednav/reftable/block"
	"github.com/nrednav/reftable/internal/options"
	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
	"github.com/nrednav/reftable/rtio"
)

// ReaderStats reports the file-level parameters a Reader recovered from the
// header and footer.
type ReaderStats struct {
	BlockSize         int
	HashSize          int
	MinUpdateIndex    uint64
	MaxUpdateIndex    uint64
	RefSectionPresent bool
	ObjSectionPresent bool
	LogSectionPresent bool
}

type sectionDescriptor struct {
	present   bool
	start     uint64
	indexRoot uint64
}

// Reader opens a reftable file for seeking refs, logs, and object-to-ref
// lookups. It is safe for concurrent use: concurrent seeks for the same
// key share the cost of descending a section's index tree via
// golang.org/x/sync/singleflight, though each call still gets its own
// independent Iterator.
type Reader struct {
	src rtio.Source
	cfg readerConfig

	blockSize      int
	hashSize       int
	minUpdateIndex uint64
	maxUpdateIndex uint64
	ctx            record.Context

	refs, objs, logs sectionDescriptor
	footerStart      uint64

	sf     singleflight.Group
	closed bool
}

// Init parses src's header and footer and returns a ready Reader.
func Init(src rtio.Source, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultReaderConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	if size < HeaderSize+FooterSize {
		return nil, rterrs.ErrTruncated
	}

	hbuf := make([]byte, HeaderSize)
	if _, err := readFull(src, hbuf, 0); err != nil {
		return nil, err
	}
	h, err := decodeHeader(hbuf)
	if err != nil {
		return nil, err
	}
	if h.blockSize <= 0 {
		return nil, rterrs.ErrCorruptBlock
	}

	fbuf := make([]byte, FooterSize)
	if _, err := readFull(src, fbuf, size-FooterSize); err != nil {
		return nil, err
	}
	f, err := decodeFooter(fbuf, hbuf)
	if err != nil {
		return nil, err
	}

	hashSize, err := hashSizeForVersion(h.version)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:            src,
		cfg:            *cfg,
		blockSize:      h.blockSize,
		hashSize:       hashSize,
		minUpdateIndex: h.minUpdateIndex,
		maxUpdateIndex: h.maxUpdateIndex,
		ctx:            record.Context{HashSize: hashSize, BaseUpdateIndex: h.minUpdateIndex},
		footerStart:    uint64(size) - FooterSize,
	}

	r.refs = sectionDescriptor{present: f.refStart != 0, start: f.refStart, indexRoot: f.refIndexRoot}
	r.objs = sectionDescriptor{present: f.objStart != 0, start: f.objStart, indexRoot: f.objIndexRoot}
	r.logs = sectionDescriptor{present: f.logStart != 0, start: f.logStart, indexRoot: f.logIndexRoot}

	if cfg.IgnoreIndex {
		r.refs.indexRoot = 0
		r.objs.indexRoot = 0
		r.logs.indexRoot = 0
	}

	cfg.Logger.Debugw("reftable: opened", "block_size", r.blockSize, "hash_size", r.hashSize,
		"refs", r.refs.present, "objs", r.objs.present, "logs", r.logs.present)

	return r, nil
}

func readFull(src rtio.Source, buf []byte, off int64) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := src.ReadAt(buf[n:], off+int64(n))
		n += m
		if err != nil {
			if err == io.EOF && n == len(buf) {
				return n, nil
			}
			if err == io.EOF {
				return n, rterrs.ErrTruncated
			}
			return n, err
		}
	}
	return n, nil
}

// Stats reports the file's header-level parameters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		BlockSize:         r.blockSize,
		HashSize:          r.hashSize,
		MinUpdateIndex:    r.minUpdateIndex,
		MaxUpdateIndex:    r.maxUpdateIndex,
		RefSectionPresent: r.refs.present,
		ObjSectionPresent: r.objs.present,
		LogSectionPresent: r.logs.present,
	}
}

// Close releases the underlying source. Iterators obtained from this
// Reader must not be used afterward.
func (r *Reader) Close() error {
	r.closed = true
	return r.src.Close()
}

// SeekRef returns an iterator positioned at the first ref whose name is >=
// name.
func (r *Reader) SeekRef(name string) (*Iterator, error) {
	return r.seekSection(r.refs, record.KindRef, []byte(name))
}

// SeekLog returns an iterator positioned at the newest log entry for name
// (or the first later ref name's entries, if name has none), since log
// keys order newest-first within a ref name.
func (r *Reader) SeekLog(name string) (*Iterator, error) {
	return r.seekSection(r.logs, record.KindLog, []byte(name))
}

// SeekLogAt returns an iterator positioned at the exact (name, updateIndex)
// log entry, or the next entry in key order if no exact match exists.
func (r *Reader) SeekLogAt(name string, updateIndex uint64) (*Iterator, error) {
	key := (&record.Log{RefName: name, UpdateIndex: updateIndex}).Key()
	return r.seekSection(r.logs, record.KindLog, key)
}

// RefsFor returns an iterator over every ref whose Value or TargetValue
// equals objectID. If the file carries an object index, only the ref
// blocks it names are visited; otherwise every ref is scanned. Both paths
// are required to agree, per the format's invariant that the object index
// is an optimization, never a correctness requirement.
func (r *Reader) RefsFor(objectID []byte) (*Iterator, error) {
	needle := append([]byte(nil), objectID...)

	if r.objs.present {
		offsets, err := r.objLookup(needle)
		if err != nil {
			return nil, err
		}
		if len(offsets) == 0 {
			return &Iterator{r: r, kind: record.KindRef}, nil
		}
		br, err := r.readBlockAt(offsets[0])
		if err != nil {
			return nil, err
		}
		return &Iterator{
			r: r, kind: record.KindRef,
			blk: br, it: br.Iter(), curOffset: offsets[0],
			blockList: offsets, blockIdx: 0,
			filterObjectID: needle,
		}, nil
	}

	if !r.refs.present {
		return &Iterator{r: r, kind: record.KindRef}, nil
	}
	r.cfg.Logger.Debugw("reftable: refs_for falling back to full ref scan", "object_id", fmt.Sprintf("%x", objectID))
	br, err := r.readBlockAt(r.refs.start)
	if err != nil {
		return nil, err
	}
	return &Iterator{
		r: r, kind: record.KindRef,
		blk: br, it: br.Iter(), curOffset: r.refs.start,
		sectionEnd:     r.sectionEnd(r.refs, record.KindRef),
		filterObjectID: needle,
	}, nil
}

// objLookup resolves the single obj record (if any) whose Prefix is a
// prefix of objectID, returning that record's Offsets directly. Descends
// the obj section's index tree when one exists; otherwise (a single-block
// section, or a reader opened WithoutIndex) falls back to a linear scan.
func (r *Reader) objLookup(objectID []byte) ([]uint64, error) {
	if !r.objs.present {
		return nil, nil
	}

	if r.objs.indexRoot == 0 {
		return r.objLookupScan(objectID)
	}

	rec, err := r.descendObjIndex(r.objs.indexRoot, objectID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !bytes.HasPrefix(objectID, rec.Prefix) {
		return nil, nil
	}
	return append([]uint64(nil), rec.Offsets...), nil
}

// objLookupScan linearly scans every block of the obj section. Reached
// when the section has no index (a single block) or the reader was opened
// WithoutIndex.
func (r *Reader) objLookupScan(objectID []byte) ([]uint64, error) {
	r.cfg.Logger.Debugw("reftable: obj section has no index, scanning", "object_id", fmt.Sprintf("%x", objectID))
	end := r.sectionEnd(r.objs, record.KindObj)
	offset := r.objs.start
	var found []uint64

	for offset < end {
		br, err := r.readBlockAt(offset)
		if err != nil {
			return nil, err
		}
		it := br.Iter()
		for {
			rec := &record.Obj{}
			if err := it.Next(rec, record.Context{}); err != nil {
				break
			}
			if bytes.HasPrefix(objectID, rec.Prefix) {
				found = append(found, rec.Offsets...)
			}
		}
		offset += uint64(r.blockStride(record.KindObj, offset, br.Length()))
	}

	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	out := found[:0]
	for i, v := range found {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out, nil
}

// descendObjIndex walks the obj section's index tree to find the obj
// record whose Prefix is the predecessor of (the largest stored key <=)
// target. Because the writer shortens obj keys to minimal unique
// prefixes, no stored prefix is ever a prefix of another stored prefix —
// so at most one record's Prefix can be a prefix of target, and it must
// be that predecessor, making a plain "largest key <= target" descent
// (rather than block.Reader's "first key >= target" used for refs/logs)
// the correct search here.
func (r *Reader) descendObjIndex(rootOffset uint64, target []byte) (*record.Obj, error) {
	offset := rootOffset

	var fallbackOffset uint64
	haveFallback := false

	for {
		br, err := r.readBlockAt(offset)
		if err != nil {
			return nil, err
		}

		if br.Kind() != record.KindIndex {
			if pred := scanLeafObjPredecessor(br, target); pred != nil {
				return pred, nil
			}
			if haveFallback {
				return r.lastObjRecordInSubtree(fallbackOffset)
			}
			return nil, nil
		}

		it := br.Iter()
		var (
			chosenOffset       uint64
			chosenFound        bool
			prevOffset         uint64
			havePrecedingEntry bool
		)
		for {
			rec := &record.Index{}
			if err := it.Next(rec, record.Context{}); err != nil {
				break
			}
			if bytes.Compare(rec.LastKey, target) >= 0 {
				chosenOffset = rec.Offset
				chosenFound = true
				break
			}
			prevOffset = rec.Offset
			havePrecedingEntry = true
		}

		if !chosenFound {
			if !havePrecedingEntry {
				return nil, rterrs.ErrCorruptBlock
			}
			// Every entry at this level is < target: the overall
			// predecessor lives somewhere in the last (largest) child.
			offset = prevOffset
			haveFallback = false
			continue
		}

		if havePrecedingEntry {
			fallbackOffset = prevOffset
			haveFallback = true
		}
		offset = chosenOffset
	}
}

// scanLeafObjPredecessor linearly scans a leaf obj block for the last
// record whose key is <= target, or nil if every key in the block exceeds
// target.
func scanLeafObjPredecessor(br *block.Reader, target []byte) *record.Obj {
	it := br.Iter()
	var pred *record.Obj
	for {
		rec := &record.Obj{}
		if err := it.Next(rec, record.Context{}); err != nil {
			break
		}
		if bytes.Compare(rec.Prefix, target) > 0 {
			break
		}
		cp := *rec
		pred = &cp
	}
	return pred
}

// lastObjRecordInSubtree descends the rightmost path of the index subtree
// rooted at offset to find its maximum obj record.
func (r *Reader) lastObjRecordInSubtree(offset uint64) (*record.Obj, error) {
	for {
		br, err := r.readBlockAt(offset)
		if err != nil {
			return nil, err
		}
		if br.Kind() == record.KindIndex {
			last, err := lastIndexRecord(br)
			if err != nil {
				return nil, err
			}
			offset = last.Offset
			continue
		}

		it := br.Iter()
		var last *record.Obj
		for {
			rec := &record.Obj{}
			if err := it.Next(rec, record.Context{}); err != nil {
				break
			}
			last = rec
		}
		if last == nil {
			return nil, rterrs.ErrCorruptBlock
		}
		return last, nil
	}
}

func (r *Reader) seekSection(desc sectionDescriptor, kind record.Kind, target []byte) (*Iterator, error) {
	if !desc.present {
		return nil, rterrs.ErrSectionAbsent
	}

	leaf, err := r.resolveLeaf(desc, kind, target)
	if err != nil {
		return nil, err
	}
	return r.seekWithinSectionFrom(desc, kind, target, leaf)
}

// resolveLeaf finds the offset of the block that may contain target,
// coalescing concurrent identical lookups (the expensive part: descending
// an index tree, or binary-searching a section's block boundaries) via
// singleflight. The returned offset is then read independently by each
// caller, so Iterator state is never shared across goroutines.
func (r *Reader) resolveLeaf(desc sectionDescriptor, kind record.Kind, target []byte) (uint64, error) {
	key := fmt.Sprintf("%c:%d:%x", byte(kind), desc.start, target)

	v, err, shared := r.sf.Do(key, func() (any, error) {
		if desc.indexRoot != 0 {
			return r.descendIndex(desc.indexRoot, target)
		}
		if kind == record.KindLog {
			return desc.start, nil
		}
		r.cfg.Logger.Debugw("reftable: seek without index, binary-searching block offsets", "kind", string(rune(kind)), "section_start", desc.start)
		return r.resolveStridedLeaf(desc, kind, target)
	})
	if shared {
		r.cfg.Logger.Debugw("reftable: seek coalesced with an in-flight identical seek", "kind", string(rune(kind)))
	}
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (r *Reader) descendIndex(offset uint64, target []byte) (uint64, error) {
	for {
		br, err := r.readBlockAt(offset)
		if err != nil {
			return 0, err
		}
		if br.Kind() != record.KindIndex {
			return offset, nil
		}

		it, err := br.Seek(target, record.Context{})
		if err != nil {
			return 0, err
		}

		idxRec := &record.Index{}
		if err := it.Next(idxRec, record.Context{}); err != nil {
			if !errors.Is(err, rterrs.ErrIterationDone) {
				return 0, err
			}
			last, lerr := lastIndexRecord(br)
			if lerr != nil {
				return 0, lerr
			}
			idxRec = last
		}

		offset = idxRec.Offset
	}
}

func lastIndexRecord(br *block.Reader) (*record.Index, error) {
	it := br.Iter()
	var last *record.Index
	for {
		rec := &record.Index{}
		if err := it.Next(rec, record.Context{}); err != nil {
			break
		}
		last = rec
	}
	if last == nil {
		return nil, rterrs.ErrCorruptBlock
	}
	return last, nil
}

// resolveStridedLeaf binary-searches a section's blocks directly by file
// offset, valid because every block in a ref or obj section except
// possibly the last is exactly blockSize bytes on disk (logs, which may
// contain an oversized block, never reach this path: an unindexed log
// seek starts at the section's first block). The ref section's
// block 0 is the one exception to "exactly blockSize": it shares its
// opening bytes with the file header, so sectionBlockOffset/
// sectionBlockCount special-case it rather than assuming a uniform
// desc.start-relative stride.
func (r *Reader) resolveStridedLeaf(desc sectionDescriptor, kind record.Kind, target []byte) (uint64, error) {
	end := r.sectionEnd(desc, kind)
	origin := desc.start
	if kind == record.KindRef {
		origin = 0
	}
	n := r.sectionBlockCount(origin, end)

	var firstErr error
	idx := rtfmt.BinarySearch(n, func(i int) bool {
		key, err := r.firstKeyOfBlock(kind, r.sectionBlockOffset(desc, kind, i))
		if err != nil {
			firstErr = err
			return true
		}
		return bytes.Compare(key, target) > 0
	})
	if firstErr != nil {
		return 0, firstErr
	}

	start := idx
	switch {
	case idx == 0:
		start = 0
	case idx >= n:
		start = n - 1
	default:
		start = idx - 1
	}
	return r.sectionBlockOffset(desc, kind, start), nil
}

// sectionBlockOffset returns the absolute file offset of the i-th block
// (0-indexed) of the given section. Every section's blocks are
// desc.start-relative multiples of blockSize, except the ref section's:
// its block 0 starts at desc.start (== HeaderSize) but every later block
// lands at an absolute multiple of blockSize, since block 0's padded
// target is blockSize-HeaderSize rather than blockSize.
func (r *Reader) sectionBlockOffset(desc sectionDescriptor, kind record.Kind, i int) uint64 {
	if kind == record.KindRef {
		if i == 0 {
			return desc.start
		}
		return uint64(i) * uint64(r.blockSize)
	}
	return desc.start + uint64(i)*uint64(r.blockSize)
}

// blockStride reports how far the current offset must advance to reach
// the block immediately after the one at curOffset, given that block's
// own declared (pre-padding) length. A block's padded target is
// blockSize, except the ref section's very first block, which pads only
// to blockSize-HeaderSize since it shares its opening bytes with the
// file header.
func (r *Reader) blockStride(kind record.Kind, curOffset uint64, declaredLen int) int {
	target := r.blockSize
	if kind == record.KindRef && curOffset == r.refs.start {
		target = r.blockSize - HeaderSize
	}
	if declaredLen > target {
		return declaredLen
	}
	return target
}

func (r *Reader) seekWithinSectionFrom(desc sectionDescriptor, kind record.Kind, target []byte, leafOffset uint64) (*Iterator, error) {
	end := r.sectionEnd(desc, kind)
	offset := leafOffset

	for offset < end {
		br, err := r.readBlockAt(offset)
		if err != nil {
			return nil, err
		}
		it, err := br.Seek(target, r.ctx)
		if err != nil {
			return nil, err
		}
		if !it.Done() {
			return &Iterator{r: r, kind: kind, blk: br, it: it, curOffset: offset, sectionEnd: end}, nil
		}
		offset += uint64(r.blockStride(kind, offset, br.Length()))
	}

	return &Iterator{r: r, kind: kind}, nil
}

func (r *Reader) firstKeyOfBlock(kind record.Kind, offset uint64) ([]byte, error) {
	br, err := r.readBlockAt(offset)
	if err != nil {
		return nil, err
	}
	it := br.Iter()
	rec := record.New(kind)
	if err := it.Next(rec, record.Context{HashSize: r.hashSize}); err != nil {
		return nil, err
	}
	return rec.Key(), nil
}

// sectionEnd returns the file offset one past the given section's body
// (its index tree, if any, otherwise the next present section, otherwise
// the footer).
func (r *Reader) sectionEnd(desc sectionDescriptor, kind record.Kind) uint64 {
	ends := make([]uint64, 0, 3)
	if desc.indexRoot != 0 {
		ends = append(ends, desc.indexRoot)
	}
	switch kind {
	case record.KindRef:
		if r.objs.present {
			ends = append(ends, r.objs.start)
		}
		if r.logs.present {
			ends = append(ends, r.logs.start)
		}
	case record.KindObj:
		if r.logs.present {
			ends = append(ends, r.logs.start)
		}
	}
	ends = append(ends, r.footerStart)

	m := ends[0]
	for _, e := range ends[1:] {
		if e < m {
			m = e
		}
	}
	return m
}

func (r *Reader) sectionBlockCount(start, end uint64) int {
	total := end - start
	n := int(total / uint64(r.blockSize))
	if total%uint64(r.blockSize) != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// readBlockAt reads and parses the block starting at offset, growing the
// read past blockSize when the block's declared length says so (an
// oversized log block).
func (r *Reader) readBlockAt(offset uint64) (*block.Reader, error) {
	if offset >= r.footerStart {
		return nil, rterrs.ErrCorruptBlock
	}

	first := r.blockSize
	if offset+uint64(first) > r.footerStart {
		first = int(r.footerStart - offset)
	}

	buf := make([]byte, first)
	n, err := readAtAllowEOF(r.src, buf, int64(offset))
	if err != nil {
		return nil, err
	}
	buf = buf[:n]
	if len(buf) < 4 {
		return nil, rterrs.ErrTruncated
	}

	declared := int(rtfmt.GetU24(buf[1:4]))
	if declared > len(buf) {
		full := make([]byte, declared)
		n2, err := readAtAllowEOF(r.src, full, int64(offset))
		if err != nil {
			return nil, err
		}
		buf = full[:n2]
	}

	return block.NewReader(buf)
}

func readAtAllowEOF(src rtio.Source, p []byte, off int64) (int, error) {
	n, err := src.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}
