// Package astar implements an 8-connected grid shortest-path planner with a
// Chebyshev heuristic, a min-heap open list, and corner-cut prevention. The
// planner is reusable across calls; every call returns its node pool to
// empty before returning.
package astar

import (
	"container/heap"

	"github.com/edaniels/golog"

	"github.com/viam-labs/navloop/mempool"
)

// Move costs in grid units: orthogonal steps cost 10, diagonal steps 14
// (~ sqrt(2) * 10). The heuristic is stepCost * chebyshev(cell, end); every
// move covers at most one Chebyshev unit at cost >= stepCost, so it never
// overestimates.
const (
	stepCost = 10
	diagCost = 14
)

// Cell is a grid coordinate.
type Cell struct {
	X, Y int
}

// CanPassFunc reports whether the given cell is traversable.
type CanPassFunc func(Cell) bool

type nodeState uint8

const (
	stateOpen nodeState = iota + 1
	stateClosed
)

type node struct {
	cell    Cell
	g, h    int32
	parent  int32 // pool index, -1 at the start cell
	heapIdx int32
	seq     int32
	state   nodeState
}

// Planner finds shortest grid paths. It owns a node pool whose lifetime
// spans the planner; each Find allocates from it and resets it on return.
// Planner is not safe for concurrent use.
type Planner struct {
	logger golog.Logger
	pool   *mempool.Pool[node]
	open   openHeap
	byCell map[Cell]int32
	seq    int32
}

// NewPlanner returns a reusable grid planner.
func NewPlanner(logger golog.Logger) *Planner {
	p := &Planner{
		logger: logger,
		pool:   mempool.New[node](mempool.DefaultChunkSize),
	}
	p.open.planner = p
	return p
}

// Find returns the cheapest 8-connected path from start to end under
// canPass, inclusive of end and exclusive of start, or nil when no path
// exists or the arguments are invalid. When corner is false a diagonal move
// is only taken if both orthogonal cells sharing its corner are passable.
func (p *Planner) Find(width, height int, canPass CanPassFunc, start, end Cell, corner bool) []Cell {
	if width <= 0 || height <= 0 || canPass == nil ||
		!inBounds(start, width, height) || !inBounds(end, width, height) {
		p.logger.Debugw("rejecting invalid plan request",
			"width", width, "height", height, "start", start, "end", end)
		return nil
	}
	defer p.reset()

	p.byCell = make(map[Cell]int32, 256)

	startIdx, startNode := p.pool.Alloc()
	*startNode = node{
		cell:   start,
		h:      heuristic(start, end),
		parent: -1,
		state:  stateOpen,
	}
	p.byCell[start] = startIdx
	heap.Push(&p.open, startIdx)

	for p.open.Len() > 0 {
		curIdx := heap.Pop(&p.open).(int32)
		cur := p.pool.At(curIdx)
		cur.state = stateClosed

		if cur.cell == end {
			return p.extractPath(curIdx, start)
		}

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				next := Cell{X: cur.cell.X + dx, Y: cur.cell.Y + dy}
				if !inBounds(next, width, height) || !canPass(next) {
					continue
				}
				moveCost := int32(stepCost)
				if dx != 0 && dy != 0 {
					// a diagonal between two walls squeezes the footprint
					// through the shared corner
					if !corner && (!canPass(Cell{X: cur.cell.X + dx, Y: cur.cell.Y}) ||
						!canPass(Cell{X: cur.cell.X, Y: cur.cell.Y + dy})) {
						continue
					}
					moveCost = diagCost
				}
				g := cur.g + moveCost

				if nbIdx, ok := p.byCell[next]; ok {
					nb := p.pool.At(nbIdx)
					if nb.state == stateClosed {
						continue
					}
					if g < nb.g {
						nb.g = g
						nb.parent = curIdx
						heap.Fix(&p.open, int(nb.heapIdx))
					}
					continue
				}

				nbIdx, nb := p.pool.Alloc()
				*nb = node{
					cell:   next,
					g:      g,
					h:      heuristic(next, end),
					parent: curIdx,
					state:  stateOpen,
				}
				p.byCell[next] = nbIdx
				heap.Push(&p.open, nbIdx)
			}
		}
	}
	return nil
}

// extractPath walks parent links from end to start and reverses.
func (p *Planner) extractPath(endIdx int32, start Cell) []Cell {
	var path []Cell
	for idx := endIdx; idx >= 0; {
		n := p.pool.At(idx)
		if n.cell == start {
			break
		}
		path = append(path, n.cell)
		idx = n.parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PoolLive returns the number of live node allocations; zero between calls.
func (p *Planner) PoolLive() int {
	return p.pool.Len()
}

func (p *Planner) reset() {
	p.pool.Reset()
	p.open.idxs = p.open.idxs[:0]
	p.byCell = nil
	p.seq = 0
}

func heuristic(c, end Cell) int32 {
	dx := absInt(c.X - end.X)
	dy := absInt(c.Y - end.Y)
	if dy > dx {
		dx = dy
	}
	return int32(stepCost * dx)
}

func inBounds(c Cell, width, height int) bool {
	return c.X >= 0 && c.X < width && c.Y >= 0 && c.Y < height
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// openHeap is a binary min-heap of pool indices ordered by f = g + h, with
// equal-f ties broken by insertion sequence so plans are deterministic.
type openHeap struct {
	planner *Planner
	idxs    []int32
}

func (h *openHeap) Len() int { return len(h.idxs) }

func (h *openHeap) Less(i, j int) bool {
	a := h.planner.pool.At(h.idxs[i])
	b := h.planner.pool.At(h.idxs[j])
	fa, fb := a.g+a.h, b.g+b.h
	if fa != fb {
		return fa < fb
	}
	return a.seq < b.seq
}

func (h *openHeap) Swap(i, j int) {
	h.idxs[i], h.idxs[j] = h.idxs[j], h.idxs[i]
	h.planner.pool.At(h.idxs[i]).heapIdx = int32(i)
	h.planner.pool.At(h.idxs[j]).heapIdx = int32(j)
}

func (h *openHeap) Push(x interface{}) {
	idx := x.(int32)
	n := h.planner.pool.At(idx)
	n.heapIdx = int32(len(h.idxs))
	n.seq = h.planner.seq
	h.planner.seq++
	h.idxs = append(h.idxs, idx)
}

func (h *openHeap) Pop() interface{} {
	old := h.idxs
	n := len(old)
	idx := old[n-1]
	h.idxs = old[:n-1]
	h.planner.pool.At(idx).heapIdx = -1
	return idx
}
