// Package audit checks batches of identifiers for duplicates and gaps.
package audit

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Collector gathers identifiers from concurrent workers and flags duplicates
// with a bitset indexed from base. Identifiers below base are counted as
// stray and never reach the bitset.
type Collector struct {
	base uint64

	mu    sync.Mutex
	seen  *bitset.BitSet
	count uint64
	min   uint64
	max   uint64
	dups  []uint64
	stray uint64
}

// NewCollector creates a collector for identifiers starting at base, with
// room for capacity identifiers before the bitset has to grow.
func NewCollector(base uint64, capacity uint) *Collector {
	return &Collector{base: base, seen: bitset.New(capacity)}
}

// Add records id and reports whether it was a duplicate or stray.
func (c *Collector) Add(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	if id < c.base {
		c.stray++
		return true
	}
	if c.count-c.stray == 1 || id < c.min {
		c.min = id
	}
	if id > c.max {
		c.max = id
	}

	idx := uint(id - c.base)
	if c.seen.Test(idx) {
		c.dups = append(c.dups, id)
		return true
	}
	c.seen.Set(idx)
	return false
}

// Len returns the number of identifiers added, duplicates included.
func (c *Collector) Len() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Duplicates returns every identifier that was added more than once.
func (c *Collector) Duplicates() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.dups...)
}

// Gaps returns how many identifiers inside [min, max] were never added.
func (c *Collector) Gaps() uint64 {
	return c.Summary().Gaps
}

// Summary describes everything added so far.
type Summary struct {
	Count      uint64
	Distinct   uint64
	Duplicates int
	Stray      uint64
	Gaps       uint64
	Min        uint64
	Max        uint64
}

func (s Summary) String() string {
	return fmt.Sprintf("count=%d distinct=%d duplicates=%d stray=%d gaps=%d range=[%d,%d]",
		s.Count, s.Distinct, s.Duplicates, s.Stray, s.Gaps, s.Min, s.Max)
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{
		Count:      c.count,
		Distinct:   uint64(c.seen.Count()),
		Duplicates: len(c.dups),
		Stray:      c.stray,
		Min:        c.min,
		Max:        c.max,
	}
	if s.Distinct > 0 {
		s.Gaps = c.max - c.min + 1 - s.Distinct
	}
	return s
}

// Check returns an error if any identifier repeated or strayed, or if the
// gaps exceed maxGaps.
func (s Summary) Check(maxGaps uint64) error {
	switch {
	case s.Duplicates > 0:
		return fmt.Errorf("%w: %d duplicate identifiers", ErrDuplicate, s.Duplicates)
	case s.Stray > 0:
		return fmt.Errorf("%w: %d identifiers below the starting block", ErrDuplicate, s.Stray)
	case s.Gaps > maxGaps:
		return fmt.Errorf("%w: %d gaps, allowed %d", ErrTooManyGaps, s.Gaps, maxGaps)
	}
	return nil
}
