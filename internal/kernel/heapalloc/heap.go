// Package heapalloc implements the kernel's dynamic memory pool (spec C5): a
// first-fit allocator over a single address-ordered free list with block
// coalescing. It has no hardware register surface of its own; it is backed
// by a flat byte slice standing in for the physical heap region the boot
// sequence reserves below the kernel stack, so offsets returned by Alloc
// are real addresses other subsystems (paging, the ELF loader) can map.
package heapalloc

import (
	"fmt"
	"sync"
)

// headerOverhead is the bookkeeping cost charged against the pool for every
// block, free or used. It does not occupy space in pool itself (headers
// are tracked out of band); it exists so size accounting matches what a
// real in-band header would cost, per spec S4.3 ("header + 16B" remainder
// rule for splitting).
const headerOverhead = 16
const minSplitRemainder = headerOverhead + 16

// block is one node of the address-ordered singly linked free list.
type block struct {
	start int
	size  int // payload size
	used  bool
	next  *block
}

// Heap is a first-fit, address-ordered free-list allocator over a fixed
// pool. The zero value is not usable; construct with New.
type Heap struct {
	mu   sync.Mutex
	pool []byte
	root *block
}

// New carves a Heap out of a freshly allocated pool of the given size.
func New(size int) (*Heap, error) {
	if size <= headerOverhead {
		return nil, fmt.Errorf("heapalloc: pool of %d bytes too small for one block", size)
	}
	return &Heap{
		pool: make([]byte, size),
		root: &block{start: 0, size: size - headerOverhead, used: false, next: nil},
	}, nil
}

// Size reports the total pool size in bytes, including header overhead.
func (h *Heap) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pool)
}

func alignUp(off, align int) int {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}

// Alloc returns a payload offset into the pool of at least size bytes,
// aligned to align (a power of two; 1 means no alignment requirement), or
// ok=false if no block is large enough. Per spec S4.3, callers in the
// kernel treat a false return as fatal.
func (h *Heap) Alloc(size, align int) (off int, ok bool) {
	if size <= 0 {
		size = 1
	}
	if align <= 0 {
		align = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for b := h.root; b != nil; b = b.next {
		if b.used {
			continue
		}
		alignedStart := alignUp(b.start, align)
		pad := alignedStart - b.start
		if b.size >= pad+size {
			h.splitAndTake(b, pad+size)
			return alignedStart, true
		}
	}
	return 0, false
}

// splitAndTake marks b used for needed bytes of its payload, carving a new
// free block from the remainder when it is large enough to be worthwhile.
func (h *Heap) splitAndTake(b *block, needed int) {
	remainder := b.size - needed
	if remainder >= minSplitRemainder {
		tail := &block{
			start: b.start + needed + headerOverhead,
			size:  remainder - headerOverhead,
			used:  false,
			next:  b.next,
		}
		b.size = needed
		b.next = tail
	}
	b.used = true
}

// Free releases the block whose payload begins at off. It coalesces with
// its successor and, by walking the list from root, with its predecessor
// too (O(n) in free blocks, acceptable at this scale per spec S4.3).
func (h *Heap) Free(off int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.enclosing(off)
	if b == nil {
		return
	}
	b.used = false
	h.coalesceAll()
}

func (h *Heap) enclosing(payloadOff int) *block {
	for b := h.root; b != nil; b = b.next {
		if payloadOff >= b.start && payloadOff <= b.start+b.size {
			return b
		}
	}
	return nil
}

// coalesceAll merges every run of address-adjacent free blocks in one pass
// over the list, from root forward.
func (h *Heap) coalesceAll() {
	for b := h.root; b != nil && b.next != nil; {
		if !b.used && !b.next.used && b.next.start == b.start+b.size+headerOverhead {
			b.size += headerOverhead + b.next.size
			b.next = b.next.next
			continue // re-check b against its new neighbor
		}
		b = b.next
	}
}

// Stats summarizes the free list, mainly for tests asserting soundness
// properties (spec S8.2).
type Stats struct {
	FreeBlocks int
	UsedBlocks int
	FreeBytes  int
	UsedBytes  int
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var s Stats
	for b := h.root; b != nil; b = b.next {
		if b.used {
			s.UsedBlocks++
			s.UsedBytes += b.size
		} else {
			s.FreeBlocks++
			s.FreeBytes += b.size
		}
	}
	return s
}

// SingleFreeBlock reports whether the whole pool has collapsed back to one
// free block, and that block's payload size. Used by property S8.2(c).
func (h *Heap) SingleFreeBlock() (size int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.root.used || h.root.next != nil {
		return 0, false
	}
	return h.root.size, true
}
