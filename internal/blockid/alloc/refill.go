package alloc

import (
	"fmt"
	"time"

	"github.com/julianstephens/blockid/internal/blockid/errorutil"
)

// refill is one outstanding source call together with the callers waiting
// for it. waiters is append-only until drain, which happens exactly once.
type refill struct {
	seq     uint64
	chained bool
	started time.Time
	waiters []*Future
	drained bool
}

func (r *refill) join(f *Future) {
	r.waiters = append(r.waiters, f)
}

func (r *refill) drain() []*Future {
	w := r.waiters
	r.waiters = nil
	r.drained = true
	return w
}

// joinOrStartRefill queues f on the active refill, starting one if none is
// in flight. Caller must hold a.mu.
func (a *Allocator) joinOrStartRefill(f *Future) {
	if a.active != nil && !a.active.drained {
		a.active.join(f)
		return
	}
	a.startRefill([]*Future{f}, false)
}

// startRefill makes a new refill active and launches its fetch. Caller must
// hold a.mu and must have checked that the allocator is open.
func (a *Allocator) startRefill(waiters []*Future, chained bool) {
	a.seq++
	r := &refill{
		seq:     a.seq,
		chained: chained,
		started: time.Now(),
		waiters: waiters,
	}
	a.active = r
	a.stats.Fetches++

	ev := RefillEvent{
		Seq:       r.seq,
		BlockSize: a.blk.size,
		Chained:   chained,
		Waiters:   len(waiters),
	}
	a.wg.Add(1)
	go a.run(r, ev)
}

func (a *Allocator) run(r *refill, ev RefillEvent) {
	defer a.wg.Done()

	a.obs.RefillStarted(ev)
	hi, err := a.fetch(ev.BlockSize)
	a.complete(r, hi, err)
}

// fetch calls the source once. A panicking source fails the refill instead
// of stranding its waiters.
func (a *Allocator) fetch(size uint64) (hi uint64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("alloc: counter source panicked: %v", p)
		}
	}()
	return a.src.NextBlockStart(a.ctx, size)
}

// complete installs the fetched block and resolves the drained waiters in
// arrival order. Waiters beyond one block are moved to a chained refill.
func (a *Allocator) complete(r *refill, hi uint64, err error) {
	size := a.blk.size
	elapsed := time.Since(r.started)
	if err == nil && !fits(hi, size) {
		err = &BlockError{
			Err:         ErrBlockOutOfRange,
			Coordinates: errorutil.Coordinates{Hi: errorutil.Ptr(hi), Size: errorutil.Ptr(size)},
		}
	}

	a.mu.Lock()
	waiters := r.drain()
	if a.active == r {
		a.active = nil
	}
	ev := RefillEvent{
		Seq:       r.seq,
		BlockSize: size,
		Chained:   r.chained,
		Waiters:   len(waiters),
		Elapsed:   elapsed,
	}

	if err != nil {
		a.stats.Failures++
		a.mu.Unlock()

		ev.Err = err
		a.obs.RefillFailed(ev)
		for _, w := range waiters {
			w.resolve(0, err)
		}
		return
	}

	a.blk.install(hi)
	n := len(waiters)
	if uint64(n) > size {
		n = int(size)
	}
	ids := make([]uint64, n)
	for i := range ids {
		ids[i], _ = a.blk.claim()
	}
	served, rest := waiters[:n], waiters[n:]

	var orphans []*Future
	if len(rest) > 0 {
		if a.closed {
			orphans = rest
		} else {
			a.stats.Overflows++
			a.startRefill(rest, true)
		}
	}
	a.stats.SlowPath += uint64(n)
	a.mu.Unlock()

	ev.Hi = hi
	ev.Served = n
	ev.Carried = len(rest)
	a.obs.RefillCompleted(ev)

	for i, w := range served {
		a.obs.Allocated(false)
		w.resolve(ids[i], nil)
	}
	for _, w := range orphans {
		w.resolve(0, ErrClosed)
	}
}
