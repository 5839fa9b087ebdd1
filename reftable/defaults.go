package reftable

const (
	// DefaultBlockSize matches the reference implementation's default and
	// is small enough to exercise multi-block sections in tests without
	// writing enormous fixtures.
	DefaultBlockSize = 4096

	// DefaultRestartInterval is the number of records between restart
	// points inside a block.
	DefaultRestartInterval = 16

	// DefaultHashSize corresponds to SHA-1 object ids (version 1).
	DefaultHashSize = 20

	maxBlockSize      = 1<<24 - 1
	maxRestartInterval = 64
	minRestartInterval = 1
)
