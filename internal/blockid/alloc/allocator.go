package alloc

import (
	"context"
	"sync"

	"github.com/julianstephens/blockid/internal/logger"
)

// Source hands out the first identifier of a fresh block of blockSize
// identifiers. Every returned range [start, start+blockSize) must be disjoint
// from every range it has ever returned, to any caller. The allocator calls
// it at most once per refill and never retries.
type Source interface {
	NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, blockSize uint64) (uint64, error)

func (f SourceFunc) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	return f(ctx, blockSize)
}

// Options configures an Allocator. BlockSize is required; a nil Observer or
// Logger disables that output.
type Options struct {
	BlockSize uint64
	Observer  Observer
	Logger    logger.Logger
}

// Allocator hands out unique identifiers from locally cached blocks and
// refills from its Source when a block runs out. At most one refill is in
// flight at a time; callers arriving during a refill are queued on it and
// served in arrival order once the new block is installed.
type Allocator struct {
	src    Source
	obs    Observer
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards everything below: the block, the active refill and its
	// waiter queue are only ever mutated together.
	mu     sync.Mutex
	blk    block
	active *refill
	seq    uint64
	closed bool
	stats  Stats
}

// Stats is a point-in-time view of an allocator.
type Stats struct {
	Fetches   uint64 // source calls started
	Failures  uint64 // source calls that failed
	Overflows uint64 // refills chained to serve waiters beyond one block
	FastPath  uint64 // identifiers handed out without suspending
	SlowPath  uint64 // identifiers handed out to queued waiters
	Waiting   int    // waiters queued on the active refill
	Refilling bool
	Owned     bool // a block has been installed at least once
	Hi        uint64
	Remaining uint64
}

// New creates an allocator over src. It owns no block until the first call.
func New(src Source, opts Options) (*Allocator, error) {
	if opts.BlockSize == 0 {
		return nil, &ConfigError{Err: ErrInvalidBlockSize, Field: "block_size", Have: opts.BlockSize}
	}
	if src == nil {
		return nil, &ConfigError{Err: ErrNilSource, Field: "source"}
	}
	obs := opts.Observer
	if obs == nil {
		obs = NoopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Allocator{
		src:    src,
		obs:    obs,
		logger: logger.OrNoOp(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
		blk:    newBlock(opts.BlockSize),
	}
	a.logger.Debug("allocator created", "size", opts.BlockSize)
	return a, nil
}

// BlockSize returns the number of identifiers per block.
func (a *Allocator) BlockSize() uint64 {
	return a.blk.size
}

// GenerateAsync never blocks. If the current block has an unused offset the
// returned future is already resolved. Otherwise the caller is queued on the
// in-flight refill, or a refill is started with the caller as its first
// waiter. token is carried on the future for the caller's own correlation.
func (a *Allocator) GenerateAsync(token any) *Future {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return completedFuture(token, 0, ErrClosed)
	}
	if id, ok := a.blk.claim(); ok {
		a.stats.FastPath++
		a.mu.Unlock()
		a.obs.Allocated(true)
		return completedFuture(token, id, nil)
	}

	f := newFuture(token)
	a.joinOrStartRefill(f)
	a.mu.Unlock()
	return f
}

// Generate returns the next identifier, suspending the calling goroutine
// while a refill is outstanding. A refill failure is returned unchanged.
// If ctx ends first, ctx.Err() is returned and the identifier the queued
// request eventually receives is discarded.
func (a *Allocator) Generate(ctx context.Context) (uint64, error) {
	return a.GenerateAsync(nil).Wait(ctx)
}

// Stats returns counters and the current block view.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.Owned = a.blk.owned
	s.Hi = a.blk.hi
	s.Remaining = a.blk.remaining()
	if a.active != nil {
		s.Refilling = true
		s.Waiting = len(a.active.waiters)
	}
	return s
}

// Close cancels an in-flight refill and waits for it to finish. Waiters on
// that refill receive the source's error; later calls fail with ErrClosed.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	s := a.Stats()
	a.logger.Info("allocator closed",
		"fetches", s.Fetches,
		"failures", s.Failures,
		"overflows", s.Overflows,
		"fast", s.FastPath,
		"slow", s.SlowPath,
	)
	return nil
}
