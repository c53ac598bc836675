package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/blockid/source"
	"github.com/julianstephens/blockid/internal/logger"
)

// StoreOpts selects the sequence store shared by every command.
type StoreOpts struct {
	Store string `help:"Sequence store (memory, file, bolt, badger)" default:"${store_kind}" enum:"memory,file,bolt,badger" envvar:"BLOCKID_STORE"`
	Dir   string `help:"Store directory (default: ~/.blockid)" type:"path" envvar:"BLOCKID_DIR"`
	Name  string `help:"Sequence name" default:"${sequence}" envvar:"BLOCKID_SEQUENCE"`
}

func (o StoreOpts) config() (source.Config, error) {
	dir := o.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return source.Config{}, err
		}
		dir = filepath.Join(home, blockid.DefaultAppDir)
	}
	return source.Config{Kind: o.Store, Dir: dir, Name: o.Name}, nil
}

// AllocOpts configures the allocator and the retry wrapper around its store.
type AllocOpts struct {
	BlockSize     uint64        `help:"Identifiers reserved per counter call" default:"${block_size}" envvar:"BLOCKID_BLOCK_SIZE"`
	RetryAttempts uint64        `help:"Extra attempts for failed counter calls" default:"${retry_attempts}" envvar:"BLOCKID_RETRY_ATTEMPTS"`
	RetryInitial  time.Duration `help:"Wait before the first retry, doubled after" default:"${retry_initial}" envvar:"BLOCKID_RETRY_INITIAL"`
}

func (o AllocOpts) options() blockid.Options {
	opts := blockid.DefaultOptions()
	opts.BlockSize = o.BlockSize
	opts.RetryAttempts = o.RetryAttempts
	opts.RetryInitial = o.RetryInitial
	return opts
}

// session is an open store with an allocator on top of it.
type session struct {
	store source.Store
	alloc *alloc.Allocator
	lg    logger.Logger
}

// openSession opens the store and builds an allocator over it. A positive
// delay is slept before every counter call.
func openSession(lg logger.Logger, so StoreOpts, ao AllocOpts, obs alloc.Observer, delay time.Duration) (*session, error) {
	cfg, err := so.config()
	if err != nil {
		return nil, err
	}
	store, err := source.Open(cfg, lg)
	if err != nil {
		return nil, err
	}

	opts := ao.options()
	var src alloc.Source = store
	if delay > 0 {
		src = delayed(src, delay)
	}
	if opts.RetryAttempts > 0 {
		src = source.NewRetrying(src, opts.RetryAttempts, opts.RetryInitial, lg)
	}
	a, err := alloc.New(src, alloc.Options{
		BlockSize: opts.BlockSize,
		Observer:  alloc.Observers(alloc.NewLogObserver(lg), obs),
		Logger:    lg,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	lg.Debug("session opened", "store", cfg.Kind, "path", cfg.Path(), "name", cfg.Name, "block_size", opts.BlockSize)
	return &session{store: store, alloc: a, lg: lg}, nil
}

func (s *session) Close() error {
	if err := s.alloc.Close(); err != nil {
		s.lg.Error("failed to close allocator", err)
	}
	return s.store.Close()
}

func delayed(src alloc.Source, delay time.Duration) alloc.Source {
	return alloc.SourceFunc(func(ctx context.Context, blockSize uint64) (uint64, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return src.NextBlockStart(ctx, blockSize)
	})
}
