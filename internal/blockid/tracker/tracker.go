// Package tracker records refill checkpoints so that refills which never
// finished can be reported, for example when a service hangs on shutdown.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/logger"
)

// Checkpoint labels.
const (
	Started = "started"
	Fetched = "fetched"
	Failed  = "failed"
	Drained = "drained"
	Chained = "chained"
)

var ErrUnfinishedRefills = errors.New("tracker: unfinished refills")

// State is the checkpoint history of one refill.
type State struct {
	Seq         uint64
	Chained     bool
	Started     time.Time
	Checkpoints []string
	Ended       bool
}

func (s State) String() string {
	return fmt.Sprintf("refill{seq=%d, chained=%t, checkpoints=[%s]}", s.Seq, s.Chained, strings.Join(s.Checkpoints, ", "))
}

// Tracker is an alloc.Observer that keeps a State per refill.
type Tracker struct {
	mu     sync.Mutex
	states map[uint64]*State
	now    func() time.Time
}

var _ alloc.Observer = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{states: make(map[uint64]*State), now: time.Now}
}

func (t *Tracker) RefillStarted(ev alloc.RefillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(ev.Seq)
	s.Chained = ev.Chained
	s.Started = t.now()
	s.Checkpoints = append(s.Checkpoints, Started)
}

func (t *Tracker) RefillCompleted(ev alloc.RefillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(ev.Seq)
	s.Checkpoints = append(s.Checkpoints, Fetched, Drained)
	if ev.Carried > 0 {
		s.Checkpoints = append(s.Checkpoints, Chained)
	}
	s.Ended = true
}

func (t *Tracker) RefillFailed(ev alloc.RefillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(ev.Seq)
	s.Checkpoints = append(s.Checkpoints, Failed, Drained)
	s.Ended = true
}

func (t *Tracker) Allocated(bool) {}

// state returns the State for seq, creating it if needed. Caller must hold
// t.mu.
func (t *Tracker) state(seq uint64) *State {
	s, ok := t.states[seq]
	if !ok {
		s = &State{Seq: seq}
		t.states[seq] = s
	}
	return s
}

// States returns a copy of every recorded state ordered by Seq.
func (t *Tracker) States() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		cp := *s
		cp.Checkpoints = append([]string(nil), s.Checkpoints...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Suspects returns the refills that have not ended, ordered by Seq.
func (t *Tracker) Suspects() []State {
	var out []State
	for _, s := range t.States() {
		if !s.Ended {
			out = append(out, s)
		}
	}
	return out
}

// Dump logs each unfinished refill and a summary line, and returns the
// number of unfinished refills.
func (t *Tracker) Dump(lg logger.Logger) int {
	lg = logger.OrNoOp(lg)
	states := t.States()
	failures := 0
	for _, s := range states {
		if s.Ended {
			continue
		}
		failures++
		lg.Error("refill not completed", ErrUnfinishedRefills,
			"seq", s.Seq,
			"age", t.now().Sub(s.Started).Round(time.Millisecond),
			"state", s.String(),
		)
	}
	if failures == 0 {
		lg.Info(fmt.Sprintf("No problems detected among %d refills", len(states)))
	} else {
		lg.Warn(fmt.Sprintf("Problems detected: %d refills out of a total of %d did not complete", failures, len(states)))
	}
	return failures
}
