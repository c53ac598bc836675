package alloc_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/blockid/audit"
	"github.com/julianstephens/blockid/internal/testutil"
)

func newAllocator(t *testing.T, src alloc.Source, size uint64) *alloc.Allocator {
	t.Helper()
	a, err := alloc.New(src, alloc.Options{BlockSize: size})
	tst.RequireNoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func waitAll(t *testing.T, futures []*alloc.Future) []uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ids := make([]uint64, len(futures))
	for i, f := range futures {
		id, err := f.Wait(ctx)
		tst.RequireNoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestNew_TableDriven(t *testing.T) {
	testCases := []struct {
		name        string
		src         alloc.Source
		size        uint64
		expectError error
	}{
		{name: "Valid", src: testutil.NewCountingSource(1), size: 100},
		{name: "SizeOne", src: testutil.NewCountingSource(1), size: 1},
		{name: "ZeroSize", src: testutil.NewCountingSource(1), size: 0, expectError: alloc.ErrInvalidBlockSize},
		{name: "NilSource", src: nil, size: 10, expectError: alloc.ErrNilSource},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := alloc.New(tc.src, alloc.Options{BlockSize: tc.size})
			if tc.expectError != nil {
				tst.AssertNotNil(t, err, "expected error")
				tst.AssertTrue(t, errors.Is(err, tc.expectError), fmt.Sprintf("expected %v, got %v", tc.expectError, err))
				var cfgErr *alloc.ConfigError
				tst.AssertTrue(t, errors.As(err, &cfgErr), "expected *ConfigError")
				return
			}
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, a.BlockSize(), tc.size)
			tst.RequireNoError(t, a.Close())
		})
	}
}

func TestGenerate_SequentialWithinBlocks(t *testing.T) {
	src := testutil.NewCountingSource(1)
	a := newAllocator(t, src, 10)

	for want := uint64(1); want <= 25; want++ {
		id, err := a.Generate(context.Background())
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, id, want)
	}
	tst.RequireDeepEqual(t, src.Calls(), 3)

	stats := a.Stats()
	tst.RequireDeepEqual(t, stats.Fetches, uint64(3))
	tst.RequireDeepEqual(t, stats.SlowPath, uint64(3))
	tst.RequireDeepEqual(t, stats.FastPath, uint64(22))
	tst.RequireDeepEqual(t, stats.Hi, uint64(21))
	tst.RequireDeepEqual(t, stats.Remaining, uint64(5))
	tst.AssertTrue(t, stats.Owned, "expected allocator to own a block")
	tst.AssertFalse(t, stats.Refilling, "expected no refill in flight")
}

func TestGenerate_FastPathResolvesImmediately(t *testing.T) {
	a := newAllocator(t, testutil.NewCountingSource(1), 5)

	_, err := a.Generate(context.Background())
	tst.RequireNoError(t, err)

	f := a.GenerateAsync("token")
	select {
	case <-f.Done():
	default:
		t.Fatal("expected fast path future to be resolved on return")
	}
	id, err := f.Result()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(2))
	tst.RequireDeepEqual(t, f.Token(), any("token"))
}

func TestGenerate_UniqueUnderConcurrency_TableDriven(t *testing.T) {
	testCases := []struct {
		name      string
		blockSize uint64
		workers   int
		perWorker int
	}{
		{name: "BlockSizeOne", blockSize: 1, workers: 8, perWorker: 200},
		{name: "BlockSizeTwo", blockSize: 2, workers: 16, perWorker: 300},
		{name: "OddBlockSize", blockSize: 7, workers: 16, perWorker: 500},
		{name: "DefaultBlockSize", blockSize: 100, workers: 16, perWorker: 1000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := testutil.NewCountingSource(1)
			a := newAllocator(t, src, tc.blockSize)
			total := tc.workers * tc.perWorker
			col := audit.NewCollector(1, uint(total)+uint(tc.blockSize))

			var wg sync.WaitGroup
			errs := make(chan error, tc.workers)
			for w := 0; w < tc.workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < tc.perWorker; i++ {
						id, err := a.Generate(context.Background())
						if err != nil {
							errs <- err
							return
						}
						col.Add(id)
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("unexpected error: %v", err)
			}

			tst.RequireDeepEqual(t, col.Len(), uint64(total))
			tst.RequireDeepEqual(t, len(col.Duplicates()), 0)

			// Every fetched block except possibly the last is fully consumed.
			wantCalls := (total + int(tc.blockSize) - 1) / int(tc.blockSize)
			tst.RequireDeepEqual(t, src.Calls(), wantCalls)
		})
	}
}

func TestGenerate_SingleFlightRefill(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 100)

	first := a.GenerateAsync(0)
	src.AwaitFetch(t)

	futures := []*alloc.Future{first}
	for i := 1; i < 50; i++ {
		futures = append(futures, a.GenerateAsync(i))
	}
	stats := a.Stats()
	tst.AssertTrue(t, stats.Refilling, "expected a refill in flight")
	tst.RequireDeepEqual(t, stats.Waiting, 50)
	tst.RequireDeepEqual(t, src.Calls(), 1)

	src.Release(t)
	ids := waitAll(t, futures)

	// Waiters are served in arrival order from offsets 0..49.
	for i, id := range ids {
		tst.RequireDeepEqual(t, id, uint64(i+1))
		tst.RequireDeepEqual(t, futures[i].Token(), any(i))
	}
	tst.RequireDeepEqual(t, src.Calls(), 1)

	// The rest of the block serves the fast path without another fetch.
	for i := 0; i < 50; i++ {
		_, err := a.Generate(context.Background())
		tst.RequireNoError(t, err)
	}
	tst.RequireDeepEqual(t, src.Calls(), 1)
}

func TestGenerate_NonBlockingWhileRefillOutstanding(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 10)

	f := a.GenerateAsync(nil)
	src.AwaitFetch(t)

	// The same goroutine keeps making progress while the fetch is held.
	progressed := 0
	pending := []*alloc.Future{f}
	for i := 0; i < 100; i++ {
		g := a.GenerateAsync(nil)
		select {
		case <-g.Done():
			t.Fatal("expected queued future to stay pending while the fetch is held")
		default:
		}
		pending = append(pending, g)
		progressed++
	}
	tst.RequireDeepEqual(t, progressed, 100)
	_, err := f.Result()
	tst.AssertTrue(t, errors.Is(err, alloc.ErrNotResolved), "expected pending future")

	// 101 waiters over blocks of 10 need 11 fetches in total.
	src.Release(t)
	for i := 0; i < 10; i++ {
		src.Step(t)
	}
	ids := waitAll(t, pending)
	for i, id := range ids {
		tst.RequireDeepEqual(t, id, uint64(i+1))
	}
	tst.RequireDeepEqual(t, src.Calls(), 11)
}

func TestGenerate_OverflowChainsRefills(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 2)

	futures := []*alloc.Future{a.GenerateAsync(nil)}
	src.AwaitFetch(t)
	for i := 0; i < 4; i++ {
		futures = append(futures, a.GenerateAsync(nil))
	}

	src.Release(t) // block [1,3): waiters 0 and 1
	src.Step(t)    // block [3,5): waiters 2 and 3
	src.Step(t)    // block [5,7): waiter 4

	ids := waitAll(t, futures)
	tst.RequireDeepEqual(t, ids, []uint64{1, 2, 3, 4, 5})
	tst.RequireDeepEqual(t, src.Calls(), 3)

	stats := a.Stats()
	tst.RequireDeepEqual(t, stats.Overflows, uint64(2))
	tst.RequireDeepEqual(t, stats.Remaining, uint64(1))

	id, err := a.Generate(context.Background())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(6))
}

func TestGenerate_FailureReachesEveryWaiter(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 10)
	errBoom := testutil.NewError("sequence update failed")
	src.FailNext(errBoom)

	futures := []*alloc.Future{a.GenerateAsync(nil)}
	src.AwaitFetch(t)
	for i := 0; i < 3; i++ {
		futures = append(futures, a.GenerateAsync(nil))
	}
	src.Release(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range futures {
		_, err := f.Wait(ctx)
		tst.AssertTrue(t, err == error(errBoom), fmt.Sprintf("expected the source error unchanged, got %v", err))
	}

	stats := a.Stats()
	tst.RequireDeepEqual(t, stats.Failures, uint64(1))
	tst.AssertFalse(t, stats.Owned, "expected no block installed after failure")
	tst.AssertFalse(t, stats.Refilling, "expected no refill in flight after failure")

	// The next call starts a fresh fetch.
	next := a.GenerateAsync(nil)
	src.Step(t)
	id, err := next.Wait(ctx)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(1))
	tst.RequireDeepEqual(t, src.Calls(), 2)
}

func TestGenerate_FailureDuringOverflowChain(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 1)
	errBoom := testutil.NewError("boom")

	futures := []*alloc.Future{a.GenerateAsync(nil)}
	src.AwaitFetch(t)
	futures = append(futures, a.GenerateAsync(nil), a.GenerateAsync(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src.Release(t) // serves waiter 0, chains waiters 1 and 2
	id, err := futures[0].Wait(ctx)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(1))

	src.FailNext(errBoom)
	src.Step(t) // chained refill fails
	for _, f := range futures[1:] {
		_, err := f.Wait(ctx)
		tst.AssertTrue(t, errors.Is(err, errBoom), "expected chained waiters to fail")
	}
}

func TestGenerate_AbandonedWaiterLeavesGap(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a := newAllocator(t, src, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Generate(ctx)
		done <- err
	}()
	src.AwaitFetch(t)
	cancel()
	tst.AssertTrue(t, errors.Is(<-done, context.Canceled), "expected caller to observe its own cancellation")

	// The abandoned waiter still consumes identifier 1.
	src.Release(t)
	next := a.GenerateAsync(nil)
	src.Step(t)
	id, err := next.Wait(context.Background())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(2))
}

func TestClose_FailsPendingAndLaterCalls(t *testing.T) {
	src := testutil.NewGatedSource(1)
	a, err := alloc.New(src, alloc.Options{BlockSize: 10})
	tst.RequireNoError(t, err)

	f := a.GenerateAsync(nil)
	src.AwaitFetch(t)

	tst.RequireNoError(t, a.Close())
	_, err = f.Wait(context.Background())
	tst.AssertTrue(t, errors.Is(err, context.Canceled), "expected pending waiter to get the cancelled fetch error")

	_, err = a.Generate(context.Background())
	tst.AssertTrue(t, errors.Is(err, alloc.ErrClosed), "expected ErrClosed after Close")
	tst.AssertTrue(t, errors.Is(a.Close(), alloc.ErrClosed), "expected ErrClosed on double close")
}

func TestClose_FailsWaitersCarriedPastLastBlock(t *testing.T) {
	entered := make(chan struct{}, 1)
	// The block is returned even though the fetch was cancelled.
	src := alloc.SourceFunc(func(ctx context.Context, _ uint64) (uint64, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return 1, nil
	})
	a, err := alloc.New(src, alloc.Options{BlockSize: 1})
	tst.RequireNoError(t, err)

	futures := []*alloc.Future{a.GenerateAsync(nil)}
	<-entered
	futures = append(futures, a.GenerateAsync(nil), a.GenerateAsync(nil))

	tst.RequireNoError(t, a.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := futures[0].Wait(ctx)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(1))
	for _, f := range futures[1:] {
		_, err := f.Wait(ctx)
		tst.AssertTrue(t, errors.Is(err, alloc.ErrClosed), fmt.Sprintf("expected ErrClosed for carried waiter, got %v", err))
	}

	stats := a.Stats()
	tst.RequireDeepEqual(t, stats.Fetches, uint64(1))
	tst.RequireDeepEqual(t, stats.Overflows, uint64(0))
	tst.AssertFalse(t, stats.Refilling, "expected no chained refill after Close")
}

func TestGenerate_BlockOutOfRange(t *testing.T) {
	src := alloc.SourceFunc(func(context.Context, uint64) (uint64, error) {
		return math.MaxUint64, nil
	})
	a := newAllocator(t, src, 2)

	_, err := a.Generate(context.Background())
	tst.AssertTrue(t, errors.Is(err, alloc.ErrBlockOutOfRange), "expected ErrBlockOutOfRange")
	var blockErr *alloc.BlockError
	tst.AssertTrue(t, errors.As(err, &blockErr), "expected *BlockError")
	tst.AssertTrue(t, strings.Contains(err.Error(), "size=2"), "expected coordinates in message")
}

func TestGenerate_SourcePanicFailsRefill(t *testing.T) {
	calls := 0
	src := alloc.SourceFunc(func(context.Context, uint64) (uint64, error) {
		calls++
		if calls == 1 {
			panic("driver exploded")
		}
		return 40, nil
	})
	a := newAllocator(t, src, 3)

	_, err := a.Generate(context.Background())
	tst.AssertNotNil(t, err, "expected panic to surface as an error")
	tst.AssertTrue(t, strings.Contains(err.Error(), "driver exploded"), "expected panic value in message")

	id, err := a.Generate(context.Background())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(40))
}

func TestGenerate_ObserverCheckpoints(t *testing.T) {
	src := testutil.NewGatedSource(1)
	rec := &recordingObserver{}
	a, err := alloc.New(src, alloc.Options{BlockSize: 2, Observer: rec})
	tst.RequireNoError(t, err)
	defer func() { _ = a.Close() }()

	futures := []*alloc.Future{a.GenerateAsync(nil)}
	src.AwaitFetch(t)
	futures = append(futures, a.GenerateAsync(nil), a.GenerateAsync(nil))
	src.Release(t)
	src.Step(t)
	waitAll(t, futures)

	events := rec.snapshot()
	sort.Strings(events)
	tst.RequireDeepEqual(t, events, []string{
		"completed seq=1 hi=1 served=2 carried=1",
		"completed seq=2 hi=3 served=1 carried=0",
		"started seq=1 waiters=1 chained=false",
		"started seq=2 waiters=1 chained=true",
	})
	tst.RequireDeepEqual(t, rec.slow(), 3)
}
