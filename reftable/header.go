package reftable

import (
	"hash/crc32"

	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtfmt"
)

// HeaderSize is the fixed on-disk size of the file header: magic(4) +
// version(1) + block_size(3) + min_update_index(8) + max_update_index(8).
const HeaderSize = 24

// FooterSize is the fixed on-disk size of the file footer: a copy of the
// header (24 bytes) followed by six section offsets (8 bytes each) and a
// trailing CRC32 (4 bytes).
const FooterSize = HeaderSize + 6*8 + 4

var magic = [4]byte{'R', 'E', 'F', 'T'}

const (
	versionSHA1   byte = 1
	versionSHA256 byte = 2
)

func versionForHashSize(hashSize int) (byte, error) {
	switch hashSize {
	case 20:
		return versionSHA1, nil
	case 32:
		return versionSHA256, nil
	default:
		return 0, rterrs.ErrInvalidHashSize
	}
}

func hashSizeForVersion(version byte) (int, error) {
	switch version {
	case versionSHA1:
		return 20, nil
	case versionSHA256:
		return 32, nil
	default:
		return 0, rterrs.ErrUnsupportedVersion
	}
}

type header struct {
	version        byte
	blockSize      int
	minUpdateIndex uint64
	maxUpdateIndex uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	buf[4] = h.version
	rtfmt.PutU24(buf[5:8], uint32(h.blockSize))
	rtfmt.PutU64(buf[8:16], h.minUpdateIndex)
	rtfmt.PutU64(buf[16:24], h.maxUpdateIndex)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, rterrs.ErrTruncated
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return header{}, rterrs.ErrInvalidMagic
	}

	h := header{
		version:        buf[4],
		blockSize:      int(rtfmt.GetU24(buf[5:8])),
		minUpdateIndex: rtfmt.GetU64(buf[8:16]),
		maxUpdateIndex: rtfmt.GetU64(buf[16:24]),
	}

	if _, err := hashSizeForVersion(h.version); err != nil {
		return header{}, err
	}

	return h, nil
}

type footer struct {
	header        header
	refStart      uint64
	refIndexRoot  uint64
	objStart      uint64
	objIndexRoot  uint64
	logStart      uint64
	logIndexRoot  uint64
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, 0, FooterSize)
	buf = append(buf, encodeHeader(f.header)...)

	var tmp [8]byte
	put := func(v uint64) {
		rtfmt.PutU64(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	put(f.refStart)
	put(f.refIndexRoot)
	put(f.objStart)
	put(f.objIndexRoot)
	put(f.logStart)
	put(f.logIndexRoot)

	crc := crc32.ChecksumIEEE(buf)
	var crcBuf [4]byte
	rtfmt.PutU32(crcBuf[:], crc)
	buf = append(buf, crcBuf[:]...)

	return buf
}

func decodeFooter(buf []byte, wantHeader []byte) (footer, error) {
	if len(buf) != FooterSize {
		return footer{}, rterrs.ErrTruncated
	}

	body := buf[:len(buf)-4]
	wantCRC := rtfmt.GetU32(buf[len(buf)-4:])
	gotCRC := crc32.ChecksumIEEE(body)
	if gotCRC != wantCRC {
		return footer{}, rterrs.ErrFooterCRCMismatch
	}

	if string(buf[0:HeaderSize]) != string(wantHeader) {
		return footer{}, rterrs.ErrHeaderFooterMismatch
	}

	h, err := decodeHeader(buf[0:HeaderSize])
	if err != nil {
		return footer{}, err
	}

	off := HeaderSize
	next := func() uint64 {
		v := rtfmt.GetU64(buf[off : off+8])
		off += 8
		return v
	}

	return footer{
		header:       h,
		refStart:     next(),
		refIndexRoot: next(),
		objStart:     next(),
		objIndexRoot: next(),
		logStart:     next(),
		logIndexRoot: next(),
	}, nil
}
