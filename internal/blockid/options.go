package blockid

import "time"

// Options collects the runtime configuration shared by the CLI commands.
//
// BlockSize is fixed for the lifetime of an allocator. Retry settings apply to
// the counter source wrapper, never to the allocator itself.
type Options struct {
	BlockSize uint64

	// Retry policy for the counter source (0 attempts disables the wrapper)
	RetryAttempts uint64
	RetryInitial  time.Duration

	// File-based logging configuration
	LogDir     string // Directory for rotating log files
	LogMaxSize int    // Max size per log file in MB (default: 100)
	LogMaxBak  int    // Max number of backup log files (default: 3)
}

// DefaultOptions returns Options populated with the package defaults.
func DefaultOptions() Options {
	return Options{
		BlockSize:     DefaultBlockSize,
		RetryAttempts: DefaultRetryAttempts,
		RetryInitial:  DefaultRetryInitialMs * time.Millisecond,
		LogDir:        DefaultLogDir,
		LogMaxSize:    DefaultLogMaxSize,
		LogMaxBak:     DefaultLogMaxBackups,
	}
}
