package source

import (
	"context"
	"sync"
)

// Memory is a process-local counter. It does not survive restarts.
type Memory struct {
	name string

	mu     sync.Mutex
	next   uint64
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates a counter whose first block starts at start.
func NewMemory(name string, start uint64) *Memory {
	return &Memory{name: name, next: start}
}

func (m *Memory) NextBlockStart(ctx context.Context, blockSize uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, &SourceError{Kind: ErrorKindClosed, Store: KindMemory, Path: m.name}
	}
	after, err := advance(KindMemory, m.name, m.next, blockSize)
	if err != nil {
		return 0, err
	}
	hi := m.next
	m.next = after
	return hi, nil
}

func (m *Memory) Peek() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, &SourceError{Kind: ErrorKindClosed, Store: KindMemory, Path: m.name}
	}
	return m.next, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
