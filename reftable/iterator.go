package reftable

import (
	"bytes"
	"errors"

	"github.com/nrednav/reftable/block"
	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/rterrs"
)

// Iterator walks one section (refs or logs) of a reftable file forward
// from wherever a Seek* or RefsFor call positioned it, transparently
// crossing block boundaries.
type Iterator struct {
	r    *Reader
	kind record.Kind

	blk       *block.Reader
	it        *block.Iter
	curOffset uint64

	// sectionEnd bounds contiguous stride-based advancement; zero value
	// (unused) when blockList is set instead.
	sectionEnd uint64

	// blockList, when non-nil, restricts iteration to exactly these block
	// offsets in order (RefsFor via the object index), rather than
	// striding contiguously through the section.
	blockList []uint64
	blockIdx  int

	// filterObjectID, when non-nil, skips ref records whose Value and
	// TargetValue both differ from it.
	filterObjectID []byte
}

// Next decodes the next matching record into rec, which must be the
// concrete type this iterator was built for (record.Ref for SeekRef/
// RefsFor, record.Log for SeekLog/SeekLogAt). Returns ErrWrongIteratorKind
// for a type mismatch, ErrIterationDone once exhausted.
func (it *Iterator) Next(rec record.Record) error {
	if it.r.closed {
		return rterrs.ErrIteratorClosed
	}
	if rec.Kind() != it.kind {
		return rterrs.ErrWrongIteratorKind
	}

	for {
		if it.blk == nil {
			return rterrs.ErrIterationDone
		}

		err := it.it.Next(rec, it.r.ctx)
		if err != nil {
			if !errors.Is(err, rterrs.ErrIterationDone) {
				return err
			}
			if advErr := it.advanceBlock(); advErr != nil {
				return advErr
			}
			continue
		}

		if it.filterObjectID != nil {
			ref, ok := rec.(*record.Ref)
			if !ok {
				return rterrs.ErrWrongIteratorKind
			}
			if !bytes.Equal(ref.Value, it.filterObjectID) && !bytes.Equal(ref.TargetValue, it.filterObjectID) {
				continue
			}
		}

		return nil
	}
}

// NextRef is a typed convenience wrapper around Next for ref iterators.
func (it *Iterator) NextRef() (*record.Ref, error) {
	rec := &record.Ref{}
	if err := it.Next(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// NextLog is a typed convenience wrapper around Next for log iterators.
func (it *Iterator) NextLog() (*record.Log, error) {
	rec := &record.Log{}
	if err := it.Next(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (it *Iterator) advanceBlock() error {
	var nextOffset uint64

	if it.blockList != nil {
		it.blockIdx++
		if it.blockIdx >= len(it.blockList) {
			it.blk = nil
			return nil
		}
		nextOffset = it.blockList[it.blockIdx]
	} else {
		nextOffset = it.curOffset + uint64(it.r.blockStride(it.kind, it.curOffset, it.blk.Length()))
		if nextOffset >= it.sectionEnd {
			it.blk = nil
			return nil
		}
	}

	br, err := it.r.readBlockAt(nextOffset)
	if err != nil {
		return err
	}
	it.blk = br
	it.it = br.Iter()
	it.curOffset = nextOffset
	return nil
}
