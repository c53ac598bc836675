package alloc

// block is the currently owned range [hi, hi+size). next is the offset of the
// next unused identifier; next == size means the block is exhausted. A fresh
// allocator owns no block, which is represented as an exhausted one.
type block struct {
	size  uint64
	hi    uint64
	next  uint64
	owned bool
}

func newBlock(size uint64) block {
	return block{size: size, next: size}
}

// claim hands out hi+next and advances next. It reports false once the block
// is exhausted.
func (b *block) claim() (uint64, bool) {
	if b.next >= b.size {
		return 0, false
	}
	id := b.hi + b.next
	b.next++
	return id, true
}

// install replaces the block with a freshly fetched one.
func (b *block) install(hi uint64) {
	b.hi = hi
	b.next = 0
	b.owned = true
}

func (b *block) remaining() uint64 {
	return b.size - b.next
}

// fits reports whether [hi, hi+size) stays inside the uint64 space.
func fits(hi, size uint64) bool {
	return hi <= ^uint64(0)-(size-1)
}
