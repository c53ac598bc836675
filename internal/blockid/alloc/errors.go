package alloc

import (
	"errors"
	"fmt"

	"github.com/julianstephens/blockid/internal/blockid/errorutil"
)

var (
	// Returned by New when the block size is zero.
	ErrInvalidBlockSize = errors.New("alloc: block size must be positive")

	// Returned by New when no counter source is given.
	ErrNilSource = errors.New("alloc: counter source is nil")

	// Returned for calls made after Close, and to waiters still queued
	// behind an overflow when the allocator is closed.
	ErrClosed = errors.New("alloc: allocator closed")

	// Returned when a fetched block would run past the end of the uint64 space.
	ErrBlockOutOfRange = errors.New("alloc: block exceeds identifier range")

	// Returned by Future.Result before the future is resolved.
	ErrNotResolved = errors.New("alloc: future not resolved")
)

// ConfigError reports an invalid construction parameter. It is fatal: the
// allocator is not created.
type ConfigError struct {
	Err   error
	Field string
	Have  uint64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s (%s=%d)", e.Err.Error(), e.Field, e.Have)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BlockError reports a fetched block the allocator refused to install.
type BlockError struct {
	Err         error
	Coordinates errorutil.Coordinates
}

func (e *BlockError) Error() string {
	if c := e.Coordinates.FormatCoordinates(); c != "" {
		return e.Err.Error() + " " + c
	}
	return e.Err.Error()
}

func (e *BlockError) Unwrap() error { return e.Err }
