package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// CountingSource is an in-memory counter source that records how many
// blocks were requested. Delay, if set, is slept (honouring ctx) before each
// reservation.
type CountingSource struct {
	Delay time.Duration

	mu    sync.Mutex
	next  uint64
	calls atomic.Int64
}

// NewCountingSource creates a source whose first block starts at start.
func NewCountingSource(start uint64) *CountingSource {
	return &CountingSource{next: start}
}

func (s *CountingSource) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hi := s.next
	s.next += blockSize
	return hi, nil
}

// Calls returns the number of NextBlockStart calls so far.
func (s *CountingSource) Calls() int {
	return int(s.calls.Load())
}

// GatedSource holds every fetch until the test releases it, so tests can
// queue callers behind an in-flight refill deterministically.
type GatedSource struct {
	entered chan struct{}
	gate    chan struct{}

	mu       sync.Mutex
	next     uint64
	failures []error
	calls    atomic.Int64
}

// NewGatedSource creates a gated source whose first block starts at start.
func NewGatedSource(start uint64) *GatedSource {
	return &GatedSource{
		entered: make(chan struct{}, 1024),
		gate:    make(chan struct{}),
		next:    start,
	}
}

func (s *GatedSource) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}

	select {
	case <-s.gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return 0, err
	}
	hi := s.next
	s.next += blockSize
	return hi, nil
}

// FailNext makes the next released fetch return err instead of a block.
func (s *GatedSource) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// AwaitFetch waits until a fetch has entered the source.
func (s *GatedSource) AwaitFetch(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a fetch to start")
	}
}

// Release lets one waiting fetch proceed.
func (s *GatedSource) Release(t *testing.T) {
	t.Helper()
	select {
	case s.gate <- struct{}{}:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out releasing a fetch")
	}
}

// Step waits for the next fetch to start and releases it.
func (s *GatedSource) Step(t *testing.T) {
	t.Helper()
	s.AwaitFetch(t)
	s.Release(t)
}

// Calls returns the number of fetches started so far.
func (s *GatedSource) Calls() int {
	return int(s.calls.Load())
}
