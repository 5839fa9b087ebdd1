// Package rtio defines the byte sink and byte source contracts a reftable
// Writer and Reader are built against, plus file-backed and in-memory
// implementations of each.
//
// The core format deliberately treats these as abstract collaborators
// (spec §1 lists the block I/O source as out of scope for the core
// engine); this package exists because every concrete writer/reader still
// needs at least one instantiation to be constructed and tested against.
package rtio

import (
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/nrednav/reftable/internal/pool"
)

// Writer is the append-only sink a reftable Writer streams bytes into.
// Writes must be sequential; the engine never seeks backward on this
// interface.
type Writer interface {
	io.Writer
}

// Source is the random-access byte provider a reftable Reader mounts.
// ReadAt may return fewer bytes than requested only at end of file, per
// io.ReaderAt's contract.
type Source interface {
	io.ReaderAt
	Size() (int64, error)
	Close() error
}

// FileWriter adapts *os.File to Writer. It exists mainly so callers don't
// need to import os themselves just to open a reftable for writing.
type FileWriter struct {
	f *os.File
}

// CreateFile creates (or truncates) the named file for writing.
func CreateFile(name string) (*FileWriter, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &FileWriter{f: f}, nil
}

func (w *FileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

// Close closes the underlying file.
func (w *FileWriter) Close() error { return w.f.Close() }

// FileSource adapts *os.File to Source.
type FileSource struct {
	f *os.File
}

// OpenFile opens the named file for reading.
func OpenFile(name string) (*FileSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *FileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileSource) Close() error { return s.f.Close() }

// MemFile is an in-memory Writer and Source over a single growable buffer,
// backed by a pool.ByteBuffer. It is the backend tests build reftables against,
// avoiding disk I/O in the suite.
type MemFile struct {
	buf *pool.ByteBuffer
}

// NewMemFile returns an empty in-memory reftable backend.
func NewMemFile() *MemFile {
	return &MemFile{buf: pool.NewByteBuffer(pool.BlockBufferDefaultSize)}
}

func (m *MemFile) Write(p []byte) (int, error) {
	m.buf.MustWrite(p)
	return len(p), nil
}

func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	data := m.buf.Bytes()
	if off < 0 || off > int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) Size() (int64, error) { return int64(m.buf.Len()), nil }

func (m *MemFile) Close() error { return nil }

// Bytes exposes the accumulated contents, for tests that want to feed a
// MemFile written as a Writer back in as a Source without copying.
func (m *MemFile) Bytes() []byte { return m.buf.Bytes() }

// LZ4File wraps a Source, transparently LZ4-compressing its backing bytes
// in a scratch file on disk. It is not part of the reftable on-disk format
// (which never compresses blocks, only log values): the dump CLI's
// --lz4-scratch flag uses this to shrink a temporary copy of a remote
// reftable before reading it block by block, trading a decompression pass
// per ReadAt for less data held on local disk.
type LZ4File struct {
	raw  *os.File
	size int64
}

// NewLZ4File LZ4-compresses the contents of src into a new scratch file at
// path, then reopens it as a Source that transparently decompresses on
// every ReadAt.
func NewLZ4File(path string, src Source) (*LZ4File, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	zw := lz4.NewWriter(out)
	size, err := src.Size()
	if err != nil {
		out.Close()
		return nil, err
	}

	buf, free := pool.GetByteSlice(pool.FileBufferDefaultSize)
	defer free()

	var off int64
	for off < size {
		n, rerr := src.ReadAt(buf, off)
		if n > 0 {
			if _, werr := zw.Write(buf[:n]); werr != nil {
				out.Close()
				return nil, werr
			}
			off += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			out.Close()
			return nil, rerr
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &LZ4File{raw: f, size: size}, nil
}

// ReadAt decompresses from the start of the scratch file up to off+len(p),
// discarding the decompressed prefix before off. LZ4File is meant for
// small, largely-sequential scratch reads (a CLI dumping a file top to
// bottom), not random access at scale.
func (f *LZ4File) ReadAt(p []byte, off int64) (int, error) {
	if _, err := f.raw.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	zr := lz4.NewReader(f.raw)

	if off > 0 {
		if _, err := io.CopyN(io.Discard, zr, off); err != nil {
			return 0, err
		}
	}

	n, err := io.ReadFull(zr, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (f *LZ4File) Size() (int64, error) { return f.size, nil }

func (f *LZ4File) Close() error { return f.raw.Close() }
