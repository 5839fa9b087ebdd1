package record

import (
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
)

// Index is a single entry of an index block: the last key found in some
// lower-level block, paired with that block's offset in the file. A chain of
// index blocks forms the section index tree that SeekRef/SeekLog descend via
// binary search, and that the reftable package's object lookup descends via
// a largest-key-not-greater-than search (obj keys are shortened, possibly
// non-full-length prefixes, so a plain >= comparison against a full-length
// target id isn't the right descent rule there).
type Index struct {
	LastKey []byte
	Offset  uint64
}

var _ Record = (*Index)(nil)

func (x *Index) Kind() Kind { return KindIndex }

func (x *Index) Key() []byte { return x.LastKey }

func (x *Index) SetKey(key []byte) error {
	x.LastKey = cloneBytes(key)
	return nil
}

// ValType is always 0: index entries have a single value shape, a bare
// offset.
func (x *Index) ValType() uint8 { return 0 }

func (x *Index) EncodeValue(dst []byte, _ Context) ([]byte, error) {
	return rtfmt.PutUvarint(dst, x.Offset), nil
}

func (x *Index) DecodeValue(src []byte, _ uint8, _ Context) (int, error) {
	off, n, ok := rtfmt.GetUvarint(src, 0)
	if !ok {
		return 0, rterrs.ErrCorruptRecord
	}
	x.Offset = off
	return n, nil
}
