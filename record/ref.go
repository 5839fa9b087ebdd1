package record

import (
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
)

// Ref value shapes, stored in the low 3 bits of the record's extra field.
const (
	RefValNone   uint8 = 0 // deletion tombstone: no Value, no TargetValue, no TargetName
	RefValValue  uint8 = 1 // Value holds a single ObjectId
	RefValPair   uint8 = 2 // Value + TargetValue: a peeled, symbolic-capable ref
	RefValSymref uint8 = 3 // TargetName holds the symref target ref name
)

// Ref is a ref-name -> ObjectId binding, one of the three interleaved
// reftable sections.
type Ref struct {
	Name        string
	UpdateIndex uint64
	Value       []byte // len == hash_size, or nil
	TargetValue []byte // len == hash_size, or nil (peeled value of a symbolic ref)
	TargetName  string  // symref target, or ""
}

var _ Record = (*Ref)(nil)

func (r *Ref) Kind() Kind { return KindRef }

func (r *Ref) Key() []byte { return []byte(r.Name) }

func (r *Ref) SetKey(key []byte) error {
	r.Name = string(key)
	return nil
}

func (r *Ref) ValType() uint8 {
	switch {
	case r.TargetName != "":
		return RefValSymref
	case r.TargetValue != nil:
		return RefValPair
	case r.Value != nil:
		return RefValValue
	default:
		return RefValNone
	}
}

// IsDeletion reports whether this ref record is a tombstone (no value of any
// shape), used by writers that want to emit an explicit deletion marker
// inside an update_index range rather than omitting the ref entirely.
func (r *Ref) IsDeletion() bool {
	return r.ValType() == RefValNone
}

func (r *Ref) EncodeValue(dst []byte, ctx Context) ([]byte, error) {
	if r.UpdateIndex < ctx.BaseUpdateIndex {
		return nil, rterrs.ErrUpdateIndexOutOfRange
	}

	dst = rtfmt.PutUvarint(dst, r.UpdateIndex-ctx.BaseUpdateIndex)

	switch r.ValType() {
	case RefValNone:
		// no further bytes
	case RefValValue:
		if len(r.Value) != ctx.HashSize {
			return nil, rterrs.ErrRecordTooLarge
		}
		dst = append(dst, r.Value...)
	case RefValPair:
		if len(r.Value) != ctx.HashSize || len(r.TargetValue) != ctx.HashSize {
			return nil, rterrs.ErrRecordTooLarge
		}
		dst = append(dst, r.Value...)
		dst = append(dst, r.TargetValue...)
	case RefValSymref:
		dst = rtfmt.PutUvarint(dst, uint64(len(r.TargetName)))
		dst = append(dst, r.TargetName...)
	}

	return dst, nil
}

func (r *Ref) DecodeValue(src []byte, valType uint8, ctx Context) (int, error) {
	delta, n, ok := rtfmt.GetUvarint(src, 0)
	if !ok {
		return 0, rterrs.ErrCorruptRecord
	}
	r.UpdateIndex = ctx.BaseUpdateIndex + delta

	r.Value = nil
	r.TargetValue = nil
	r.TargetName = ""

	switch valType {
	case RefValNone:
		return n, nil
	case RefValValue:
		if n+ctx.HashSize > len(src) {
			return 0, rterrs.ErrTruncated
		}
		r.Value = cloneBytes(src[n : n+ctx.HashSize])
		return n + ctx.HashSize, nil
	case RefValPair:
		if n+2*ctx.HashSize > len(src) {
			return 0, rterrs.ErrTruncated
		}
		r.Value = cloneBytes(src[n : n+ctx.HashSize])
		r.TargetValue = cloneBytes(src[n+ctx.HashSize : n+2*ctx.HashSize])
		return n + 2*ctx.HashSize, nil
	case RefValSymref:
		nameLen, n2, ok := rtfmt.GetUvarint(src, n)
		if !ok {
			return 0, rterrs.ErrCorruptRecord
		}
		if n2+int(nameLen) > len(src) {
			return 0, rterrs.ErrTruncated
		}
		r.TargetName = string(src[n2 : n2+int(nameLen)])
		return n2 + int(nameLen), nil
	default:
		return 0, rterrs.ErrCorruptRecord
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
