package errorutil

import (
	"fmt"
	"strings"
)

// Coordinates holds positional information about a block, its hi value and
// size, used when formatting allocator errors.
type Coordinates struct {
	// Hi is the first identifier of the block.
	Hi *uint64

	// Size is the number of identifiers in the block.
	Size *uint64
}

// FormatCoordinates returns the non-nil coordinates as "hi=X size=Z".
// Returns an empty string if all coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string
	if c.Hi != nil {
		parts = append(parts, fmt.Sprintf("hi=%d", *c.Hi))
	}
	if c.Size != nil {
		parts = append(parts, fmt.Sprintf("size=%d", *c.Size))
	}
	return strings.Join(parts, " ")
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}

// Ptr returns a pointer to v, for building Coordinates inline.
func Ptr(v uint64) *uint64 {
	return &v
}
