package record

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
)

// Log is a single reflog-style entry: an old/new ObjectId pair for one ref,
// attributed to a committer, at a point in time.
//
// Log records key on ref name concatenated with the bitwise-negated
// update_index, which makes later updates sort first within a ref: this is
// the mechanism that gives newest-first iteration per ref name, and it is an
// invariant of the format, not an implementation choice.
type Log struct {
	RefName     string
	UpdateIndex uint64

	Old, New []byte // each len == hash_size; nil is treated as the all-zero id

	Name, Email string
	Time        uint64
	TZOffset    int16
	Message     string
}

var _ Record = (*Log)(nil)

func (l *Log) Kind() Kind { return KindLog }

// Key returns ref_name || ^update_index (big-endian u64).
func (l *Log) Key() []byte {
	key := make([]byte, len(l.RefName)+8)
	copy(key, l.RefName)
	rtfmt.PutU64(key[len(l.RefName):], ^l.UpdateIndex)
	return key
}

func (l *Log) SetKey(key []byte) error {
	if len(key) < 8 {
		return rterrs.ErrCorruptRecord
	}
	l.RefName = string(key[:len(key)-8])
	l.UpdateIndex = ^rtfmt.GetU64(key[len(key)-8:])
	return nil
}

// ValType is always 0: the log section has a single value shape.
func (l *Log) ValType() uint8 { return 0 }

func (l *Log) EncodeValue(dst []byte, ctx Context) ([]byte, error) {
	raw := make([]byte, 0, 2*ctx.HashSize+32+len(l.Name)+len(l.Email)+len(l.Message))
	raw = appendHash(raw, l.Old, ctx.HashSize)
	raw = appendHash(raw, l.New, ctx.HashSize)
	raw = rtfmt.PutUvarint(raw, uint64(len(l.Name)))
	raw = append(raw, l.Name...)
	raw = rtfmt.PutUvarint(raw, uint64(len(l.Email)))
	raw = append(raw, l.Email...)

	var tmp8 [8]byte
	rtfmt.PutU64(tmp8[:], l.Time)
	raw = append(raw, tmp8[:]...)

	raw = append(raw, byte(uint16(l.TZOffset)>>8), byte(uint16(l.TZOffset)))

	raw = rtfmt.PutUvarint(raw, uint64(len(l.Message)))
	raw = append(raw, l.Message...)

	compressed, err := compressLog(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rterrs.ErrZlib, err)
	}

	dst = rtfmt.PutUvarint(dst, uint64(len(compressed)))
	dst = append(dst, compressed...)

	return dst, nil
}

func (l *Log) DecodeValue(src []byte, valType uint8, ctx Context) (int, error) {
	compressedLen, n, ok := rtfmt.GetUvarint(src, 0)
	if !ok {
		return 0, rterrs.ErrCorruptRecord
	}
	if n+int(compressedLen) > len(src) {
		return 0, rterrs.ErrTruncated
	}

	raw, err := decompressLog(src[n : n+int(compressedLen)])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rterrs.ErrZlib, err)
	}

	if 2*ctx.HashSize > len(raw) {
		return 0, rterrs.ErrCorruptRecord
	}
	l.Old = cloneBytes(raw[:ctx.HashSize])
	l.New = cloneBytes(raw[ctx.HashSize : 2*ctx.HashSize])
	off := 2 * ctx.HashSize

	nameLen, off2, ok := rtfmt.GetUvarint(raw, off)
	if !ok || off2+int(nameLen) > len(raw) {
		return 0, rterrs.ErrCorruptRecord
	}
	l.Name = string(raw[off2 : off2+int(nameLen)])
	off = off2 + int(nameLen)

	emailLen, off3, ok := rtfmt.GetUvarint(raw, off)
	if !ok || off3+int(emailLen) > len(raw) {
		return 0, rterrs.ErrCorruptRecord
	}
	l.Email = string(raw[off3 : off3+int(emailLen)])
	off = off3 + int(emailLen)

	if off+10 > len(raw) {
		return 0, rterrs.ErrCorruptRecord
	}
	l.Time = rtfmt.GetU64(raw[off : off+8])
	l.TZOffset = int16(uint16(raw[off+8])<<8 | uint16(raw[off+9]))
	off += 10

	msgLen, off4, ok := rtfmt.GetUvarint(raw, off)
	if !ok || off4+int(msgLen) > len(raw) {
		return 0, rterrs.ErrCorruptRecord
	}
	l.Message = string(raw[off4 : off4+int(msgLen)])

	return n + int(compressedLen), nil
}

func appendHash(dst, id []byte, hashSize int) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, hashSize)...)
	copy(dst[start:], id)
	return dst
}

func compressLog(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLog(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
