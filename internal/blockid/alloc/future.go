package alloc

import (
	"context"
	"sync"
)

// Future is the pending result of a GenerateAsync call. It is resolved
// exactly once, either with an identifier or with the error of the refill it
// was queued on.
type Future struct {
	token any
	done  chan struct{}

	mu        sync.Mutex
	id        uint64
	err       error
	resolved  bool
	callbacks []func(uint64, error)
}

func newFuture(token any) *Future {
	return &Future{token: token, done: make(chan struct{})}
}

func completedFuture(token any, id uint64, err error) *Future {
	f := newFuture(token)
	f.resolve(id, err)
	return f
}

// Token returns the caller-supplied correlation value.
func (f *Future) Token() any {
	return f.token
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without waiting. Before resolution it returns
// ErrNotResolved.
func (f *Future) Result() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return 0, ErrNotResolved
	}
	return f.id, f.err
}

// Wait suspends the calling goroutine until the future resolves or ctx is
// done. Abandoning a future does not withdraw it: the identifier it is
// eventually given is simply never used.
func (f *Future) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. If the future is already
// resolved fn runs immediately on the calling goroutine; otherwise it runs on
// the goroutine that resolves the future.
func (f *Future) OnComplete(fn func(id uint64, err error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	id, err := f.id, f.err
	f.mu.Unlock()
	fn(id, err)
}

func (f *Future) resolve(id uint64, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.id, f.err, f.resolved = id, err, true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(id, err)
	}
}
