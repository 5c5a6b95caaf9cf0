// Package pathfind implements 8-directional A* over a Layout's collision view.
//
// Costs are 1 for straight moves and √2 for diagonal moves; the heuristic is
// the octile distance, which is admissible and consistent for that cost
// model, so returned routes are optimal. Equal-f nodes pop in insertion order,
// which makes results a pure function of (layout, start, goal).
package pathfind

import (
	"container/heap"
	"math"

	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

const (
	CostStraight = 1.0
	CostDiagonal = math.Sqrt2
)

// Octile returns the exact unobstructed 8-connected distance between a and b.
func Octile(a, b layout.Cell) float64 {
	dx := math.Abs(float64(a.X - b.X))
	dy := math.Abs(float64(a.Y - b.Y))
	return CostStraight*(dx+dy) + (CostDiagonal-2*CostStraight)*math.Min(dx, dy)
}

// StepCost is the cost of moving between two 8-neighbours.
func StepCost(a, b layout.Cell) float64 {
	if a.X != b.X && a.Y != b.Y {
		return CostDiagonal
	}
	return CostStraight
}

// RouteCost sums step costs along a route.
func RouteCost(route []layout.Cell) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += StepCost(route[i-1], route[i])
	}
	return total
}

// Pathfinder reuses its scratch buffers across calls. Not safe for concurrent use;
// the kernel is single-threaded and owns one instance.
type Pathfinder struct {
	grid *layout.Layout

	g      []float64
	parent []int32
	seen   []uint32 // generation stamp: g/parent valid when seen[i] == gen
	closed []uint32
	gen    uint32

	open    nodeHeap
	counter uint64
}

// New creates a Pathfinder bound to a read-only layout.
func New(grid *layout.Layout) *Pathfinder {
	n := grid.Width() * grid.Height()
	return &Pathfinder{
		grid:   grid,
		g:      make([]float64, n),
		parent: make([]int32, n),
		seen:   make([]uint32, n),
		closed: make([]uint32, n),
		open:   make(nodeHeap, 0, 64),
	}
}

// FindPath returns the optimal route from start to goal inclusive, or ok=false
// when either endpoint is unusable or the regions are disconnected.
func (p *Pathfinder) FindPath(start, goal layout.Cell) ([]layout.Cell, bool) {
	return p.FindPathAvoiding(start, goal, nil)
}

// FindPathAvoiding is FindPath with an extra caller-local mask: cells for which
// avoid returns true are treated as blocked for this call only. start is never
// masked.
func (p *Pathfinder) FindPathAvoiding(start, goal layout.Cell, avoid func(layout.Cell) bool) ([]layout.Cell, bool) {
	if !p.grid.InBounds(start) || !p.grid.InBounds(goal) {
		return nil, false
	}
	if !p.grid.IsWalkable(start) || !p.grid.IsWalkable(goal) {
		return nil, false
	}
	if start == goal {
		return []layout.Cell{start}, true
	}
	if avoid != nil && avoid(goal) {
		return nil, false
	}

	p.reset()
	w := p.grid.Width()
	si := int32(p.grid.Index(start))
	gi := int32(p.grid.Index(goal))

	p.g[si] = 0
	p.parent[si] = -1
	p.seen[si] = p.gen
	p.push(si, Octile(start, goal))

	for p.open.Len() > 0 {
		cur := heap.Pop(&p.open).(node)
		if p.closed[cur.idx] == p.gen {
			continue
		}
		p.closed[cur.idx] = p.gen
		if cur.idx == gi {
			return p.reconstruct(gi, w), true
		}
		cc := layout.Cell{X: int(cur.idx) % w, Y: int(cur.idx) / w}
		for _, d := range directions {
			n := layout.Cell{X: cc.X + d.X, Y: cc.Y + d.Y}
			if !p.grid.IsWalkable(n) {
				continue
			}
			if avoid != nil && avoid(n) {
				continue
			}
			ni := int32(p.grid.Index(n))
			if p.closed[ni] == p.gen {
				continue
			}
			tentative := p.g[cur.idx] + d.cost
			if p.seen[ni] == p.gen && tentative >= p.g[ni] {
				continue
			}
			p.seen[ni] = p.gen
			p.g[ni] = tentative
			p.parent[ni] = cur.idx
			p.push(ni, tentative+Octile(n, goal))
		}
	}
	return nil, false
}

func (p *Pathfinder) reset() {
	p.gen++
	if p.gen == 0 {
		// stamps wrapped; clear so stale entries cannot alias the new generation
		clear(p.seen)
		clear(p.closed)
		p.gen = 1
	}
	p.open = p.open[:0]
	p.counter = 0
}

func (p *Pathfinder) push(idx int32, f float64) {
	heap.Push(&p.open, node{idx: idx, f: f, order: p.counter})
	p.counter++
}

func (p *Pathfinder) reconstruct(goal int32, w int) []layout.Cell {
	var rev []layout.Cell
	for i := goal; i >= 0; i = p.parent[i] {
		rev = append(rev, layout.Cell{X: int(i) % w, Y: int(i) / w})
	}
	out := make([]layout.Cell, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

type direction struct {
	X, Y int
	cost float64
}

// N, E, S, W, NE, SE, SW, NW
var directions = [8]direction{
	{0, -1, CostStraight}, {1, 0, CostStraight}, {0, 1, CostStraight}, {-1, 0, CostStraight},
	{1, -1, CostDiagonal}, {1, 1, CostDiagonal}, {-1, 1, CostDiagonal}, {-1, -1, CostDiagonal},
}

type node struct {
	idx   int32
	f     float64
	order uint64
}

// nodeHeap orders by f, then by insertion counter.
type nodeHeap []node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].order < h[j].order
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(node)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
