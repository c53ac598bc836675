package alloc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"
)

func TestFuture_ResultBeforeResolve(t *testing.T) {
	f := newFuture("req-1")
	_, err := f.Result()
	tst.AssertTrue(t, errors.Is(err, ErrNotResolved), fmt.Sprintf("expected ErrNotResolved, got %v", err))

	f.resolve(42, nil)
	id, err := f.Result()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(42))
	tst.RequireDeepEqual(t, f.Token(), any("req-1"))
}

func TestFuture_ResolvesOnce(t *testing.T) {
	f := newFuture(nil)
	f.resolve(7, nil)
	f.resolve(8, errors.New("late"))

	id, err := f.Result()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(7))
}

func TestFuture_OnComplete(t *testing.T) {
	t.Run("RegisteredBeforeResolve", func(t *testing.T) {
		f := newFuture(nil)
		var (
			mu  sync.Mutex
			got []uint64
		)
		for i := 0; i < 3; i++ {
			f.OnComplete(func(id uint64, err error) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, id)
			})
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.resolve(5, nil)
		}()
		<-done

		mu.Lock()
		defer mu.Unlock()
		tst.RequireDeepEqual(t, got, []uint64{5, 5, 5})
	})

	t.Run("RegisteredAfterResolve", func(t *testing.T) {
		errFetch := errors.New("fetch failed")
		f := completedFuture(nil, 0, errFetch)

		called := false
		f.OnComplete(func(id uint64, err error) {
			called = true
			tst.AssertTrue(t, errors.Is(err, errFetch), "expected fetch error")
		})
		tst.AssertTrue(t, called, "expected callback to run immediately")
	})
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := newFuture(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	tst.AssertTrue(t, errors.Is(err, context.DeadlineExceeded), fmt.Sprintf("expected deadline error, got %v", err))

	// The abandoned future can still be resolved later.
	f.resolve(3, nil)
	id, err := f.Wait(context.Background())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(3))
}
