// Package rterrs defines the sentinel errors shared by the reftable engine.
//
// The taxonomy mirrors the original reftable design: io failures, malformed
// on-disk data (format), misuse of the API (api), failed log-value
// (de)compression (zlib), and the benign end-of-iteration signal that must
// never be confused with a real error. "not_exist" and "lock" are reserved
// for the section-absent and higher-layer-locking cases respectively; they
// are not returned by seek misses, which instead report ErrIterationDone.
package rterrs

import "errors"

var (
	// ErrIterationDone signals that an iterator has been exhausted. It is
	// not a failure: callers should stop iterating and discard the error.
	ErrIterationDone = errors.New("reftable: iteration done")

	// ErrSectionAbsent is returned when a seek targets a section the file
	// does not contain (e.g. SeekLog on a file without a log section).
	ErrSectionAbsent = errors.New("reftable: section not present")

	// ErrInvalidMagic means the 4-byte file magic did not read "REFT".
	ErrInvalidMagic = errors.New("reftable: invalid magic")

	// ErrUnsupportedVersion means the header/footer version byte is not
	// one this reader understands.
	ErrUnsupportedVersion = errors.New("reftable: unsupported version")

	// ErrTruncated means the byte source ended before a structure (header,
	// footer, block, or record) could be fully read.
	ErrTruncated = errors.New("reftable: truncated data")

	// ErrCorruptBlock means a block's declared length, restart table, or
	// restart count is internally inconsistent.
	ErrCorruptBlock = errors.New("reftable: corrupt block")

	// ErrCorruptRecord means a record's varint or length fields could not
	// be decoded from the bytes available.
	ErrCorruptRecord = errors.New("reftable: corrupt record")

	// ErrFooterCRCMismatch means the footer's CRC32 did not match its
	// recomputed value.
	ErrFooterCRCMismatch = errors.New("reftable: footer CRC mismatch")

	// ErrHeaderFooterMismatch means the header copy embedded in the footer
	// disagrees with the file's actual leading header.
	ErrHeaderFooterMismatch = errors.New("reftable: header/footer mismatch")

	// ErrOutOfOrder is returned by AddRef/AddLog when a record's key is not
	// strictly greater than the previous record's key in the same section.
	ErrOutOfOrder = errors.New("reftable: keys must be added in strictly ascending order")

	// ErrLimitsNotSet is returned by AddRef/AddLog when SetLimits has not
	// been called yet.
	ErrLimitsNotSet = errors.New("reftable: update index limits not set")

	// ErrLimitsAlreadySet is returned by SetLimits when called more than
	// once, or after the first record has already been added.
	ErrLimitsAlreadySet = errors.New("reftable: update index limits already set")

	// ErrUpdateIndexOutOfRange is returned by AddRef when a ref's
	// update_index falls outside [min_update_index, max_update_index].
	ErrUpdateIndexOutOfRange = errors.New("reftable: update index out of range")

	// ErrWriterClosed is returned by AddRef, AddLog and Close once Close
	// has succeeded. A writer in a failed state instead keeps returning the
	// error that failed it.
	ErrWriterClosed = errors.New("reftable: writer is closed")

	// ErrBackwardsTransition is returned when a caller attempts to add a
	// ref after logs have started, or otherwise violates the
	// OPEN_REFS -> OPEN_OBJ -> OPEN_LOGS -> CLOSED state machine.
	ErrBackwardsTransition = errors.New("reftable: cannot move backwards in the writer state machine")

	// ErrWrongIteratorKind is returned when NextRef is called on an
	// iterator positioned over the log section (or vice versa).
	ErrWrongIteratorKind = errors.New("reftable: wrong iterator kind")

	// ErrIteratorClosed is returned by Next* after the owning Reader has
	// been closed.
	ErrIteratorClosed = errors.New("reftable: iterator used after reader close")

	// ErrZlib wraps a failure from the zlib compressor/decompressor used
	// for log record values.
	ErrZlib = errors.New("reftable: zlib failure")

	// ErrRecordTooLarge is returned when a single record (after any
	// compression) cannot be made to fit even a block grown to
	// accommodate it alone, e.g. because hash_size disagrees with the
	// record's embedded object IDs.
	ErrRecordTooLarge = errors.New("reftable: record too large to encode")

	// ErrInvalidHashSize is returned by WithHashSize for any value other
	// than 20 (SHA-1) or 32 (SHA-256).
	ErrInvalidHashSize = errors.New("reftable: hash size must be 20 or 32")
)
