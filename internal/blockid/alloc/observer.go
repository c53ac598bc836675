package alloc

import (
	"time"

	"github.com/julianstephens/blockid/internal/logger"
)

// RefillEvent describes one refill at a checkpoint. Fields that only make
// sense after the fetch (Hi, Served, Carried, Err) are zero in RefillStarted.
type RefillEvent struct {
	Seq       uint64
	BlockSize uint64
	Chained   bool // started to serve overflow waiters of the previous refill
	Waiters   int  // waiters queued when the event fired
	Hi        uint64
	Served    int
	Carried   int
	Err       error
	Elapsed   time.Duration
}

// Observer receives allocator checkpoints. Methods are called outside the
// allocator lock, possibly from several goroutines at once.
type Observer interface {
	RefillStarted(ev RefillEvent)
	RefillCompleted(ev RefillEvent)
	RefillFailed(ev RefillEvent)
	Allocated(fastPath bool)
}

// NoopObserver ignores every checkpoint.
type NoopObserver struct{}

func (NoopObserver) RefillStarted(RefillEvent)   {}
func (NoopObserver) RefillCompleted(RefillEvent) {}
func (NoopObserver) RefillFailed(RefillEvent)    {}
func (NoopObserver) Allocated(bool)              {}

var _ Observer = NoopObserver{}

type multiObserver []Observer

// Observers fans checkpoints out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return NoopObserver{}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multiObserver) RefillStarted(ev RefillEvent) {
	for _, o := range m {
		o.RefillStarted(ev)
	}
}

func (m multiObserver) RefillCompleted(ev RefillEvent) {
	for _, o := range m {
		o.RefillCompleted(ev)
	}
}

func (m multiObserver) RefillFailed(ev RefillEvent) {
	for _, o := range m {
		o.RefillFailed(ev)
	}
}

func (m multiObserver) Allocated(fastPath bool) {
	for _, o := range m {
		o.Allocated(fastPath)
	}
}

// LogObserver writes refill checkpoints to a logger. Per-identifier events
// are not logged.
type LogObserver struct {
	lg logger.Logger
}

func NewLogObserver(lg logger.Logger) *LogObserver {
	return &LogObserver{lg: logger.OrNoOp(lg)}
}

func (o *LogObserver) RefillStarted(ev RefillEvent) {
	o.lg.Debug("refill started", "seq", ev.Seq, "size", ev.BlockSize, "waiters", ev.Waiters, "chained", ev.Chained)
}

func (o *LogObserver) RefillCompleted(ev RefillEvent) {
	o.lg.Debug("refill completed",
		"seq", ev.Seq,
		"hi", ev.Hi,
		"served", ev.Served,
		"carried", ev.Carried,
		"elapsed", ev.Elapsed,
	)
	if ev.Carried > 0 {
		o.lg.Info("refill overflowed into next block", "seq", ev.Seq, "carried", ev.Carried)
	}
}

func (o *LogObserver) RefillFailed(ev RefillEvent) {
	o.lg.Error("refill failed", ev.Err, "seq", ev.Seq, "waiters", ev.Waiters, "elapsed", ev.Elapsed)
}

func (o *LogObserver) Allocated(bool) {}
