// Package mempool provides a chunk-carving typed arena with a free list.
// Grid search allocates thousands of small nodes per plan; carving them out
// of fixed-size slabs keeps the per-node cost to a slice index instead of a
// system allocation, and lets a whole plan's worth of nodes be released in
// one call.
package mempool

// DefaultChunkSize is the number of blocks carved per slab.
const DefaultChunkSize = 1024

// Pool is an indexed arena of T. Alloc hands out stable indices; At resolves
// an index to its block until the index is freed or the pool is reset.
// Indices on the free list are reused in LIFO order. Pool is not safe for
// concurrent use.
type Pool[T any] struct {
	chunkSize int
	chunks    [][]T
	free      []int32
	nextIdx   int32
	live      int
}

// New constructs a pool carving chunkSize blocks per slab. A non-positive
// chunkSize falls back to DefaultChunkSize.
func New[T any](chunkSize int) *Pool[T] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pool[T]{chunkSize: chunkSize}
}

// Alloc returns a zeroed block and its index. The pointer stays valid until
// Reset; the index stays valid until Free or Reset.
func (p *Pool[T]) Alloc() (int32, *T) {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		p.live++
		blk := p.At(idx)
		var zero T
		*blk = zero
		return idx, blk
	}
	chunk := int(p.nextIdx) / p.chunkSize
	if chunk == len(p.chunks) {
		p.chunks = append(p.chunks, make([]T, p.chunkSize))
	}
	idx := p.nextIdx
	p.nextIdx++
	p.live++
	return idx, p.At(idx)
}

// At resolves an index previously returned by Alloc.
func (p *Pool[T]) At(idx int32) *T {
	return &p.chunks[int(idx)/p.chunkSize][int(idx)%p.chunkSize]
}

// Free returns a block to the free list. The block is zeroed so stale reads
// through a dangling index see zero values rather than old contents.
func (p *Pool[T]) Free(idx int32) {
	var zero T
	*p.At(idx) = zero
	p.free = append(p.free, idx)
	p.live--
}

// Reset releases every slab and empties the free list, making the pool
// reusable for the next plan.
func (p *Pool[T]) Reset() {
	p.chunks = nil
	p.free = p.free[:0]
	p.nextIdx = 0
	p.live = 0
}

// Len returns the number of live allocations.
func (p *Pool[T]) Len() int {
	return p.live
}

// Cap returns the total number of blocks currently carved.
func (p *Pool[T]) Cap() int {
	return len(p.chunks) * p.chunkSize
}
