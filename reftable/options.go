package reftable

import (
	"github.com/nrednav/reftable/internal/options"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtlog"
)

type writerConfig struct {
	BlockSize        int
	RestartInterval  int
	HashSize         int
	SkipIndexObjects bool
	ExactLogMessage  bool
	Logger           rtlog.Logger
}

func defaultWriterConfig() *writerConfig {
	return &writerConfig{
		BlockSize:       DefaultBlockSize,
		RestartInterval: DefaultRestartInterval,
		HashSize:        DefaultHashSize,
		Logger:          rtlog.Nop(),
	}
}

// WriterOption configures a Writer at construction time.
type WriterOption = options.Option[*writerConfig]

// WithBlockSize sets the target block size in bytes. Values outside
// (0, 2^24-1] are clamped to the nearest bound.
func WithBlockSize(n int) WriterOption {
	return options.NoError(func(c *writerConfig) {
		if n < 1 {
			n = 1
		}
		if n > maxBlockSize {
			n = maxBlockSize
		}
		c.BlockSize = n
	})
}

// WithRestartInterval sets how many records separate restart points inside
// a block. Values outside [1, 64] are clamped.
func WithRestartInterval(n int) WriterOption {
	return options.NoError(func(c *writerConfig) {
		if n < minRestartInterval {
			n = minRestartInterval
		}
		if n > maxRestartInterval {
			n = maxRestartInterval
		}
		c.RestartInterval = n
	})
}

// WithHashSize fixes the object id width: 20 (SHA-1) or 32 (SHA-256).
func WithHashSize(n int) WriterOption {
	return options.New(func(c *writerConfig) error {
		if n != 20 && n != 32 {
			return rterrs.ErrInvalidHashSize
		}
		c.HashSize = n
		return nil
	})
}

// WithSkipIndexObjects disables the object index (and the obj section
// entirely), trading refs_for's ability to avoid a full ref scan for a
// smaller file and a faster write.
func WithSkipIndexObjects(skip bool) WriterOption {
	return options.NoError(func(c *writerConfig) { c.SkipIndexObjects = skip })
}

// WithExactLogMessage disables the writer's default normalization of log
// messages (trimming a single trailing newline, matching the git reflog
// convention). With this set, the message bytes the caller supplied are
// stored exactly as given.
func WithExactLogMessage(exact bool) WriterOption {
	return options.NoError(func(c *writerConfig) { c.ExactLogMessage = exact })
}

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(l rtlog.Logger) WriterOption {
	return options.NoError(func(c *writerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

type readerConfig struct {
	IgnoreIndex bool
	Logger      rtlog.Logger
}

func defaultReaderConfig() *readerConfig {
	return &readerConfig{Logger: rtlog.Nop()}
}

// ReaderOption configures a Reader at construction time.
type ReaderOption = options.Option[*readerConfig]

// WithoutIndex forces the reader to ignore any section index trees present
// in the file, falling back to its block-scanning seek path even when an
// index root is recorded in the footer. Exists to let tests assert that
// indexed and un-indexed seeks agree (an explicit invariant of the
// format: the index is an optimization, never required for correctness).
func WithoutIndex(ignore bool) ReaderOption {
	return options.NoError(func(c *readerConfig) { c.IgnoreIndex = ignore })
}

// ReaderWithLogger attaches a structured logger to a Reader.
func ReaderWithLogger(l rtlog.Logger) ReaderOption {
	return options.NoError(func(c *readerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}
