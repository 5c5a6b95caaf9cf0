// Package layout owns the immutable warehouse floor: grid dimensions, per-cell
// type and walkability, and the typed point lists (picking, staging, parking,
// depot). It is the only place where grid and pixel coordinates meet.
package layout

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var (
	// ErrMalformedLayout is returned when the source omits or corrupts required dimensions.
	ErrMalformedLayout = errors.New("malformed layout")
	// ErrInvalidCell is returned when a typed object references an unusable cell.
	ErrInvalidCell = errors.New("invalid cell")
)

// Cell is a grid coordinate.
type Cell struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Point is a pixel-space coordinate.
type Point struct {
	X float64
	Y float64
}

// CellType classifies a grid cell.
type CellType int

const (
	Floor CellType = iota
	Aisle
	Rack
	PickingPoint
	Depot
	Staging
	Parking
	Blocked
)

var cellTypeNames = map[CellType]string{
	Floor:        "floor",
	Aisle:        "aisle",
	Rack:         "rack",
	PickingPoint: "picking",
	Depot:        "depot",
	Staging:      "staging",
	Parking:      "parking",
	Blocked:      "blocked",
}

func (t CellType) String() string {
	if name, ok := cellTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("celltype(%d)", int(t))
}

// ParseCellType maps a tile "type" property to a CellType.
func ParseCellType(s string) (CellType, error) {
	for t, name := range cellTypeNames {
		if name == s {
			return t, nil
		}
	}
	return Floor, fmt.Errorf("unknown cell type %q", s)
}

// requiresWalkable reports whether agents must be able to stand on cells of this type.
func (t CellType) requiresWalkable() bool {
	switch t {
	case PickingPoint, Depot, Staging, Parking:
		return true
	}
	return false
}

// CellInfo is the effective per-cell data after layer merging.
type CellInfo struct {
	Type     CellType
	Walkable bool
}

// Layout is the immutable grid. Safe for concurrent reads after Load.
type Layout struct {
	width, height int
	tileW, tileH  int
	cells         []CellInfo

	pickings []Cell
	parkings []Cell
	depots   []Cell
	staging  map[int]Cell
}

func (l *Layout) Width() int      { return l.width }
func (l *Layout) Height() int     { return l.height }
func (l *Layout) TileWidth() int  { return l.tileW }
func (l *Layout) TileHeight() int { return l.tileH }

// InBounds reports whether c lies on the grid.
func (l *Layout) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < l.width && c.Y >= 0 && c.Y < l.height
}

// Index returns the row-major index of an in-bounds cell.
func (l *Layout) Index(c Cell) int { return c.Y*l.width + c.X }

// CellAt returns the info for c; ok is false when c is out of bounds.
func (l *Layout) CellAt(c Cell) (CellInfo, bool) {
	if !l.InBounds(c) {
		return CellInfo{}, false
	}
	return l.cells[l.Index(c)], true
}

// IsWalkable is false for out-of-bounds cells.
func (l *Layout) IsWalkable(c Cell) bool {
	info, ok := l.CellAt(c)
	return ok && info.Walkable
}

// GridToPixel returns the centre pixel of the cell.
func (l *Layout) GridToPixel(c Cell) Point {
	return Point{
		X: float64(c.X*l.tileW) + float64(l.tileW)/2,
		Y: float64(c.Y*l.tileH) + float64(l.tileH)/2,
	}
}

// PixelToGrid is the inverse of GridToPixel, clamped to the grid.
func (l *Layout) PixelToGrid(p Point) Cell {
	x := int(math.Floor(p.X / float64(l.tileW)))
	y := int(math.Floor(p.Y / float64(l.tileH)))
	return Cell{X: clamp(x, 0, l.width-1), Y: clamp(y, 0, l.height-1)}
}

// PixelInBounds reports whether p lies within the grid's pixel extent.
func (l *Layout) PixelInBounds(p Point) bool {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return false
	}
	return p.X >= 0 && p.Y >= 0 &&
		p.X < float64(l.width*l.tileW) && p.Y < float64(l.height*l.tileH)
}

// Direction offsets: cardinals first, then diagonals. Pathfinding relies on this order.
var (
	cardinals = [4]Cell{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
	diagonals = [4]Cell{{1, -1}, {1, 1}, {-1, 1}, {-1, -1}}
)

// Neighbours returns walkable 4- or 8-connected neighbours in a fixed order.
func (l *Layout) Neighbours(c Cell, diagonal bool) []Cell {
	out := make([]Cell, 0, 8)
	for _, d := range cardinals {
		n := Cell{c.X + d.X, c.Y + d.Y}
		if l.IsWalkable(n) {
			out = append(out, n)
		}
	}
	if diagonal {
		for _, d := range diagonals {
			n := Cell{c.X + d.X, c.Y + d.Y}
			if l.IsWalkable(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// RandomWalkable draws uniformly over walkable cells; ok is false if none exist.
func (l *Layout) RandomWalkable(rng *rand.Rand) (Cell, bool) {
	walkable := 0
	for _, info := range l.cells {
		if info.Walkable {
			walkable++
		}
	}
	if walkable == 0 {
		return Cell{}, false
	}
	k := rng.Intn(walkable)
	for i, info := range l.cells {
		if !info.Walkable {
			continue
		}
		if k == 0 {
			return Cell{X: i % l.width, Y: i / l.width}, true
		}
		k--
	}
	return Cell{}, false
}

// NearestWalkable returns c itself when walkable, otherwise the closest walkable
// cell by ring search (Chebyshev rings, then squared distance, then row-major).
// Out-of-bounds inputs are clamped first.
func (l *Layout) NearestWalkable(c Cell) (Cell, bool) {
	c = Cell{X: clamp(c.X, 0, l.width-1), Y: clamp(c.Y, 0, l.height-1)}
	if l.IsWalkable(c) {
		return c, true
	}
	maxR := max(l.width, l.height)
	for r := 1; r <= maxR; r++ {
		best, bestD, found := Cell{}, 0, false
		for y := c.Y - r; y <= c.Y+r; y++ {
			for x := c.X - r; x <= c.X+r; x++ {
				if abs(x-c.X) != r && abs(y-c.Y) != r {
					continue
				}
				n := Cell{x, y}
				if !l.IsWalkable(n) {
					continue
				}
				d := (x-c.X)*(x-c.X) + (y-c.Y)*(y-c.Y)
				if !found || d < bestD {
					best, bestD, found = n, d, true
				}
			}
		}
		if found {
			return best, true
		}
	}
	return Cell{}, false
}

// PickingPoints returns a copy of the picking point list (row-major order).
func (l *Layout) PickingPoints() []Cell { return append([]Cell(nil), l.pickings...) }

// ParkingPoints returns a copy of the parking point list.
func (l *Layout) ParkingPoints() []Cell { return append([]Cell(nil), l.parkings...) }

// DepotPoints returns a copy of the depot point list.
func (l *Layout) DepotPoints() []Cell { return append([]Cell(nil), l.depots...) }

// StagingPoints returns a copy of the staging id → cell mapping.
func (l *Layout) StagingPoints() map[int]Cell {
	out := make(map[int]Cell, len(l.staging))
	for id, c := range l.staging {
		out[id] = c
	}
	return out
}

// StagingIDs returns staging ids in ascending order.
func (l *Layout) StagingIDs() []int {
	ids := make([]int, 0, len(l.staging))
	for id := range l.staging {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
