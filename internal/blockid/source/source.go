// Package source provides counter sources for the block allocator. Each
// source atomically reserves the next block of a named sequence and returns
// its first identifier.
package source

import (
	"path/filepath"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/logger"
)

// Store kinds accepted by Open and Init.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindBolt   = "bolt"
	KindBadger = "badger"
)

// Store is a counter source that can also report its position and release
// its resources.
type Store interface {
	alloc.Source

	// Peek returns the start of the next block without reserving it.
	Peek() (uint64, error)

	// Close releases the store. Later calls fail with ErrClosed.
	Close() error
}

// Config selects and locates a store.
type Config struct {
	Kind  string // memory, file, bolt or badger
	Dir   string // directory holding the store files
	Name  string // sequence name; defaults to blockid.DefaultSequenceName
	Start uint64 // first block start used by Init and by memory stores
}

func (c Config) name() string {
	if c.Name == "" {
		return blockid.DefaultSequenceName
	}
	return c.Name
}

func (c Config) start() uint64 {
	if c.Start == 0 {
		return blockid.FirstBlockStart
	}
	return c.Start
}

// Path returns the file or directory backing the store.
func (c Config) Path() string {
	switch c.Kind {
	case KindFile:
		return filepath.Join(c.Dir, blockid.SequenceFileName)
	case KindBolt:
		return filepath.Join(c.Dir, blockid.BoltFileName)
	case KindBadger:
		return filepath.Join(c.Dir, blockid.BadgerDirName)
	default:
		return ""
	}
}

// Init creates the sequence described by cfg. It fails with
// ErrAlreadyExists if the sequence is already present.
func Init(cfg Config) error {
	switch cfg.Kind {
	case KindFile:
		return InitFile(cfg.Path(), cfg.name(), cfg.start())
	case KindBolt:
		return InitBolt(cfg.Path(), cfg.name(), cfg.start())
	case KindBadger:
		return InitBadger(cfg.Path(), cfg.name(), cfg.start())
	case KindMemory:
		return nil
	default:
		return &SourceError{Kind: ErrorKindUnknownStore, Store: cfg.Kind}
	}
}

// Open opens an existing sequence. Memory stores are created on the spot.
func Open(cfg Config, lg logger.Logger) (Store, error) {
	switch cfg.Kind {
	case KindFile:
		return OpenFile(cfg.Path(), cfg.name(), lg)
	case KindBolt:
		return OpenBolt(cfg.Path(), cfg.name(), lg)
	case KindBadger:
		return OpenBadger(cfg.Path(), cfg.name(), lg)
	case KindMemory:
		return NewMemory(cfg.name(), cfg.start()), nil
	default:
		return nil, &SourceError{Kind: ErrorKindUnknownStore, Store: cfg.Kind}
	}
}

// advance returns the value that follows a block of size starting at next.
// A block whose end would not fit in a uint64 exhausts the sequence.
func advance(store, name string, next, size uint64) (uint64, error) {
	if size == 0 || next > ^uint64(0)-size {
		return 0, &SourceError{
			Kind:  ErrorKindExhausted,
			Store: store,
			Path:  name,
		}
	}
	return next + size, nil
}
