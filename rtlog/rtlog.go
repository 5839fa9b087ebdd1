// Package rtlog provides the structured logger type used across the
// reftable Writer and Reader: a thin alias over *zap.SugaredLogger plus
// constructors for the common cases, so callers don't need to reach into
// zap directly just to wire a WithLogger option.
package rtlog

import "go.uber.org/zap"

// Logger is the structured logger passed through WithLogger. It is a plain
// alias, not a wrapped interface: callers that already build a
// *zap.SugaredLogger for the rest of their process can hand it to
// reftable.WithLogger/ReaderWithLogger as-is.
type Logger = *zap.SugaredLogger

// New returns a production-configured logger (JSON encoding, info level).
func New() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopment returns a human-readable, debug-level logger suitable for
// the reftable-dump CLI and tests.
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything, the default when no
// WithLogger option is supplied.
func Nop() Logger {
	return zap.NewNop().Sugar()
}
