package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/logger"
)

// Retrying wraps a source with exponential backoff. Context errors and
// Permanent errors are returned at once; otherwise the last error is
// returned unchanged once attempts are used up.
type Retrying struct {
	src      alloc.Source
	attempts uint64
	initial  time.Duration
	logger   logger.Logger
}

var _ alloc.Source = (*Retrying)(nil)

// NewRetrying retries src up to attempts extra times, starting at initial
// and doubling between attempts.
func NewRetrying(src alloc.Source, attempts uint64, initial time.Duration, lg logger.Logger) *Retrying {
	return &Retrying{
		src:      src,
		attempts: attempts,
		initial:  initial,
		logger:   logger.OrNoOp(lg),
	}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, r.attempts), ctx)
}

func (r *Retrying) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (uint64, error) {
		attempt++
		hi, err := r.src.NextBlockStart(ctx, blockSize)
		if err == nil {
			return hi, nil
		}
		if ctx.Err() != nil || Permanent(err) {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}, r.newBackOff(ctx), func(err error, wait time.Duration) {
		r.logger.Warn("counter source failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})
}
