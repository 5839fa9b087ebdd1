// Package table drives block-level writes for one reftable section (refs,
// objs, or logs): enforcing key order, finalizing blocks, tracking
// statistics, and building the section's index tree when more than one
// block was written.
package table

import (
	"bytes"
	"errors"

	"github.com/nrednav/reftable/block"
	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtio"
)

// Stats reports per-section counters, surfaced to callers via
// reftable.WriterStats.
type Stats struct {
	BlockCount      int
	ByteSize        uint64
	RecordCount     int
	IndexBlockCount int
	MaxBlockSize    int
}

type indexEntry struct {
	lastKey []byte
	offset  uint64
}

// countingWriter wraps an rtio.Writer to track the absolute file offset of
// the next byte to be written, since rtio.Writer itself is append-only and
// offset-unaware.
type countingWriter struct {
	w   rtio.Writer
	pos uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += uint64(n)
	return n, err
}

// SectionWriter streams records of one record.Kind into successive blocks
// on sink, starting at startOffset (the file offset the first byte written
// through sink corresponds to).
type SectionWriter struct {
	kind            record.Kind
	sink            *countingWriter
	blockSize       int
	restartInterval int
	ctx             record.Context
	headerOff       int

	cur      *block.Writer
	havePrev bool
	prevKey  []byte
	pending  []indexEntry

	startOffset uint64
	stats       Stats
}

// NewSectionWriter constructs a section writer. startOffset must equal the
// number of bytes already written to sink by the caller (e.g. the file
// header, for the ref section). headerOff is non-zero only for a section
// whose first block shares its opening bytes with the file header (the ref
// section, immediately following SetLimits's header write): that first
// block is sized blockSize-headerOff so it still lands its successor at an
// absolute multiple of blockSize; every other section passes 0.
func NewSectionWriter(kind record.Kind, sink rtio.Writer, startOffset uint64, blockSize, restartInterval int, ctx record.Context, headerOff int) *SectionWriter {
	return &SectionWriter{
		kind:            kind,
		sink:            &countingWriter{w: sink, pos: startOffset},
		blockSize:       blockSize,
		restartInterval: restartInterval,
		ctx:             ctx,
		startOffset:     startOffset,
		headerOff:       headerOff,
	}
}

// currentBlockSize returns the capacity the block currently being filled
// should be constructed with: blockSize-headerOff for the section's very
// first block (stats.BlockCount == 0, i.e. no data block has been flushed
// yet), blockSize for every block after it.
func (sw *SectionWriter) currentBlockSize() int {
	if sw.stats.BlockCount == 0 {
		return sw.blockSize - sw.headerOff
	}
	return sw.blockSize
}

// Add appends rec to the section, flushing the current block first if it
// is full. Keys must be strictly ascending across the whole section.
func (sw *SectionWriter) Add(rec record.Record) error {
	key := rec.Key()
	if sw.havePrev && bytes.Compare(key, sw.prevKey) <= 0 {
		return rterrs.ErrOutOfOrder
	}

	if sw.cur == nil {
		sw.cur = block.NewWriter(sw.kind, sw.currentBlockSize(), sw.restartInterval)
	}

	err := sw.cur.Add(rec, sw.ctx)
	if errors.Is(err, block.ErrBlockFull) {
		if ferr := sw.flushCurrent(true); ferr != nil {
			return ferr
		}
		sw.cur = block.NewWriter(sw.kind, sw.currentBlockSize(), sw.restartInterval)
		// A freshly reset block always accepts its first record
		// regardless of size (block.Writer waives the capacity check
		// for an empty block), so this cannot fail with ErrBlockFull
		// again; a single oversized log record ends up alone in a
		// block larger than blockSize, per spec.
		err = sw.cur.Add(rec, sw.ctx)
	}
	if err != nil {
		return err
	}

	sw.prevKey = append(sw.prevKey[:0], key...)
	sw.havePrev = true
	sw.stats.RecordCount++

	return nil
}

func (sw *SectionWriter) flushCurrent(pad bool) error {
	if sw.cur == nil || sw.cur.Len() == 0 {
		return nil
	}

	target := 0
	if pad {
		target = sw.cur.BlockSize()
	}

	payload, _, lastKey, err := sw.cur.Finish(target)
	if err != nil {
		return err
	}

	blockOffset := sw.sink.pos
	if _, err := sw.sink.Write(payload); err != nil {
		return err
	}

	sw.pending = append(sw.pending, indexEntry{lastKey: lastKey, offset: blockOffset})

	sw.stats.BlockCount++
	sw.stats.ByteSize += uint64(len(payload))
	if len(payload) > sw.stats.MaxBlockSize {
		sw.stats.MaxBlockSize = len(payload)
	}

	sw.cur = nil
	return nil
}

// Close flushes any pending block and, if the section produced more than
// one block, builds its index tree. It returns the section's start offset
// and index root offset (both 0 if the section received no records, which
// callers treat as "section absent").
func (sw *SectionWriter) Close() (startOffset, indexRoot uint64, err error) {
	if sw.stats.RecordCount == 0 {
		return 0, 0, nil
	}

	if err := sw.flushCurrent(false); err != nil {
		return 0, 0, err
	}

	if len(sw.pending) > 1 {
		root, idxCount, err := sw.buildIndex()
		if err != nil {
			return 0, 0, err
		}
		indexRoot = root
		sw.stats.IndexBlockCount = idxCount
	}

	return sw.startOffset, indexRoot, nil
}

// buildIndex recursively folds sw.pending (block last-key/offset pairs)
// into a tree of KindIndex blocks until a single root block remains,
// returning that root's file offset.
func (sw *SectionWriter) buildIndex() (rootOffset uint64, indexBlockCount int, err error) {
	level := sw.pending

	for len(level) > 1 {
		var next []indexEntry
		w := block.NewWriter(record.KindIndex, sw.blockSize, sw.restartInterval)

		flush := func(pad bool) error {
			if w.Len() == 0 {
				return nil
			}
			target := 0
			if pad {
				target = sw.blockSize
			}
			payload, _, lastKey, ferr := w.Finish(target)
			if ferr != nil {
				return ferr
			}
			off := sw.sink.pos
			if _, werr := sw.sink.Write(payload); werr != nil {
				return werr
			}
			next = append(next, indexEntry{lastKey: lastKey, offset: off})
			indexBlockCount++

			sw.stats.ByteSize += uint64(len(payload))
			if len(payload) > sw.stats.MaxBlockSize {
				sw.stats.MaxBlockSize = len(payload)
			}

			w = block.NewWriter(record.KindIndex, sw.blockSize, sw.restartInterval)
			return nil
		}

		for _, e := range level {
			rec := &record.Index{LastKey: e.lastKey, Offset: e.offset}
			if addErr := w.Add(rec, record.Context{}); addErr != nil {
				if !errors.Is(addErr, block.ErrBlockFull) {
					return 0, 0, addErr
				}
				if ferr := flush(true); ferr != nil {
					return 0, 0, ferr
				}
				if addErr2 := w.Add(rec, record.Context{}); addErr2 != nil {
					return 0, 0, addErr2
				}
			}
		}

		if ferr := flush(false); ferr != nil {
			return 0, 0, ferr
		}

		level = next
	}

	if len(level) == 0 {
		return 0, indexBlockCount, nil
	}
	return level[0].offset, indexBlockCount, nil
}

// Stats returns the section's statistics as observed so far.
func (sw *SectionWriter) Stats() Stats { return sw.stats }

// CurrentBlockOffset reports the file offset of the block currently being
// assembled (or, if none is open, the offset the next block will start at).
// Called immediately after Add, this is the offset of the block the just
// added record landed in — correct whether or not that Add triggered a
// flush, since a flush always completes before Add returns.
func (sw *SectionWriter) CurrentBlockOffset() uint64 { return sw.sink.pos }
