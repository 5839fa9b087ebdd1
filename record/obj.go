package record

import "github.com/nrednav/reftable/rtfmt"
import "github.com/nrednav/reftable/rterrs"

// Obj maps a (possibly shortened) ObjectId prefix to the ascending,
// deduplicated list of ref-section block offsets holding refs that point at
// objects with that prefix.
//
// The writer shortens Prefix to the minimum length (at least 2 bytes) that
// keeps every obj-section key unique; readers must therefore compare target
// object IDs against Prefix using only len(Prefix) bytes, never a full
// ObjectId-width comparison.
type Obj struct {
	Prefix  []byte
	Offsets []uint64
}

var _ Record = (*Obj)(nil)

func (o *Obj) Kind() Kind { return KindObj }

func (o *Obj) Key() []byte { return o.Prefix }

func (o *Obj) SetKey(key []byte) error {
	o.Prefix = cloneBytes(key)
	return nil
}

func (o *Obj) ValType() uint8 { return 0 }

func (o *Obj) EncodeValue(dst []byte, _ Context) ([]byte, error) {
	dst = rtfmt.PutUvarint(dst, uint64(len(o.Offsets)))

	var prev uint64
	for _, off := range o.Offsets {
		if off < prev {
			return nil, rterrs.ErrCorruptRecord
		}
		dst = rtfmt.PutUvarint(dst, off-prev)
		prev = off
	}

	return dst, nil
}

func (o *Obj) DecodeValue(src []byte, _ uint8, _ Context) (int, error) {
	count, off, ok := rtfmt.GetUvarint(src, 0)
	if !ok {
		return 0, rterrs.ErrCorruptRecord
	}

	offsets := make([]uint64, 0, count)
	var prev uint64
	for i := uint64(0); i < count; i++ {
		delta, next, ok := rtfmt.GetUvarint(src, off)
		if !ok {
			return 0, rterrs.ErrTruncated
		}
		prev += delta
		offsets = append(offsets, prev)
		off = next
	}

	o.Offsets = offsets
	return off, nil
}
