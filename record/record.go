// Package record defines the reftable record kinds — ref, log, obj, and the
// index records used inside section indices — and their key ordering and
// value encoding.
//
// Each kind implements the Record interface, which factors out the generic
// prefix-compressed record header (shared-prefix length, suffix, value-type
// tag) into the block package; Record implementations here are only
// responsible for their own key bytes and value payload. This keeps the
// four kinds free of duplicated framing logic while still avoiding
// implementation inheritance, matching the "tagged variant" capability set
// the format calls for.
package record

// Kind identifies which of the four record shapes a block or record holds.
// The numeric values are the on-disk block type tags.
type Kind byte

const (
	KindRef   Kind = 'r'
	KindLog   Kind = 'l'
	KindObj   Kind = 'o'
	KindIndex Kind = 'i'
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "ref"
	case KindLog:
		return "log"
	case KindObj:
		return "obj"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Context carries the per-section parameters a record needs to encode or
// decode its value payload: the fixed ObjectId width, and (for ref records
// only) the section's minimum update_index, which is subtracted from every
// ref's update_index before it is varint-encoded.
type Context struct {
	HashSize        int
	BaseUpdateIndex uint64
}

// Record is the capability set every record kind implements. The block
// codec owns shared-prefix compression and the value-type tag byte; Record
// implementations only see their own key and value bytes.
type Record interface {
	// Kind reports which block type this record belongs in.
	Kind() Kind

	// Key returns the bytes used for ordering and restart-point storage.
	// The returned slice must not be retained beyond the call: callers that
	// need to keep it make their own copy.
	Key() []byte

	// SetKey installs a key decoded by the block reader (the reassembled
	// shared-prefix + suffix bytes) back into the record, splitting it into
	// whatever fields this kind derives its key from (e.g. log records
	// split ref-name from the trailing negated update index).
	SetKey(key []byte) error

	// ValType returns the 3-bit value-shape tag stored in the record's
	// extra field.
	ValType() uint8

	// EncodeValue appends this record's value payload to dst and returns
	// the extended slice.
	EncodeValue(dst []byte, ctx Context) ([]byte, error)

	// DecodeValue parses this record's value payload from the front of
	// src, given the valType read from the block, and returns the number
	// of bytes consumed.
	DecodeValue(src []byte, valType uint8, ctx Context) (int, error)
}

// New returns a zero-valued record of the given kind. Block readers use it
// to obtain scratch records during seek, where the caller has not supplied
// one of its own.
func New(kind Kind) Record {
	switch kind {
	case KindRef:
		return &Ref{}
	case KindLog:
		return &Log{}
	case KindObj:
		return &Obj{}
	case KindIndex:
		return &Index{}
	default:
		return nil
	}
}
