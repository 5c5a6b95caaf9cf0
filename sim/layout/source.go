package layout

import (
	"fmt"
	"sort"
)

// Tile is one layer's contribution to a cell. The zero Tile is an empty slot:
// it declares no type and does not block.
type Tile struct {
	Type    CellType
	HasType bool
	Blocked bool
}

// Layer is a row-major tile slice of exactly Width*Height entries.
type Layer struct {
	Name  string
	Tiles []Tile
}

// ObjectPoint is an explicitly placed object. ID is meaningful for staging points only.
type ObjectPoint struct {
	ID   int
	Cell Cell
}

// ObjectGroup lists explicit objects of one type.
type ObjectGroup struct {
	Type   CellType
	Points []ObjectPoint
}

// SourceData is what a map loader yields. Layers are ordered bottom to top.
type SourceData struct {
	Width      int
	Height     int
	TileWidth  int
	TileHeight int
	Layers     []Layer
	Objects    []ObjectGroup
}

// Source abstracts the map file format.
type Source interface {
	Read() (*SourceData, error)
}

// Load reads src and builds the Layout. Any source-level problem is fatal: there
// is no walkable fallback.
func Load(src Source) (*Layout, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrMalformedLayout)
	}
	data, err := src.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayout, err)
	}
	return FromData(data)
}

// FromData builds a Layout from already-decoded source data.
func FromData(data *SourceData) (*Layout, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: no data", ErrMalformedLayout)
	}
	if data.Width <= 0 || data.Height <= 0 {
		return nil, fmt.Errorf("%w: grid dimensions %dx%d", ErrMalformedLayout, data.Width, data.Height)
	}
	if data.TileWidth <= 0 || data.TileHeight <= 0 {
		return nil, fmt.Errorf("%w: tile dimensions %dx%d", ErrMalformedLayout, data.TileWidth, data.TileHeight)
	}
	if len(data.Layers) == 0 {
		return nil, fmt.Errorf("%w: no tile layers", ErrMalformedLayout)
	}
	n := data.Width * data.Height
	for i, layer := range data.Layers {
		if len(layer.Tiles) != n {
			return nil, fmt.Errorf("%w: layer %d (%q) has %d tiles, want %d",
				ErrMalformedLayout, i, layer.Name, len(layer.Tiles), n)
		}
	}

	l := &Layout{
		width:   data.Width,
		height:  data.Height,
		tileW:   data.TileWidth,
		tileH:   data.TileHeight,
		cells:   make([]CellInfo, n),
		staging: make(map[int]Cell),
	}

	for i := 0; i < n; i++ {
		info := CellInfo{Type: Floor, Walkable: true}
		typed := false
		for li := len(data.Layers) - 1; li >= 0; li-- {
			t := data.Layers[li].Tiles[i]
			if t.Blocked {
				info.Walkable = false
			}
			if t.HasType && !typed {
				info.Type = t.Type
				typed = true
			}
		}
		if info.Type == Rack || info.Type == Blocked {
			info.Walkable = false
		}
		l.cells[i] = info
	}

	explicitStaging := make(map[int]Cell)
	for _, group := range data.Objects {
		for _, obj := range group.Points {
			if !l.InBounds(obj.Cell) {
				return nil, fmt.Errorf("%w: %s object at %s is out of bounds", ErrInvalidCell, group.Type, obj.Cell)
			}
			idx := l.Index(obj.Cell)
			if group.Type.requiresWalkable() && !l.cells[idx].Walkable {
				return nil, fmt.Errorf("%w: %s object at %s is not walkable", ErrInvalidCell, group.Type, obj.Cell)
			}
			l.cells[idx].Type = group.Type
			if group.Type == Staging && obj.ID > 0 {
				if prev, dup := explicitStaging[obj.ID]; dup && prev != obj.Cell {
					return nil, fmt.Errorf("%w: staging id %d declared at %s and %s", ErrInvalidCell, obj.ID, prev, obj.Cell)
				}
				explicitStaging[obj.ID] = obj.Cell
			}
		}
	}

	for i, info := range l.cells {
		c := Cell{X: i % l.width, Y: i / l.width}
		if info.Type.requiresWalkable() && !info.Walkable {
			return nil, fmt.Errorf("%w: %s cell %s is not walkable", ErrInvalidCell, info.Type, c)
		}
	}

	l.collectPoints(explicitStaging)
	return l, nil
}

func (l *Layout) collectPoints(explicitStaging map[int]Cell) {
	claimed := make(map[Cell]bool, len(explicitStaging))
	nextID := 1
	ids := make([]int, 0, len(explicitStaging))
	for id := range explicitStaging {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := explicitStaging[id]
		if claimed[c] {
			continue
		}
		claimed[c] = true
		l.staging[id] = c
		if id >= nextID {
			nextID = id + 1
		}
	}

	for i, info := range l.cells {
		c := Cell{X: i % l.width, Y: i / l.width}
		switch info.Type {
		case PickingPoint:
			l.pickings = append(l.pickings, c)
		case Parking:
			l.parkings = append(l.parkings, c)
		case Depot:
			l.depots = append(l.depots, c)
		case Staging:
			if !claimed[c] {
				claimed[c] = true
				l.staging[nextID] = c
				nextID++
			}
		}
	}
}

// DefaultStaging generates staging points along the bottom edge: up to seven
// evenly spaced walkable cells, ids from 1. Used when neither the layout nor
// the caller supplies any.
func DefaultStaging(l *Layout) map[int]Cell {
	const count = 7
	spacing := max(1, l.width/(count+1))
	out := make(map[int]Cell)
	seen := make(map[Cell]bool)
	y := l.height - 1
	id := 1
	for i := 1; i <= count; i++ {
		c := Cell{X: i * spacing, Y: y}
		if !l.IsWalkable(c) || seen[c] {
			continue
		}
		seen[c] = true
		out[id] = c
		id++
	}
	if len(out) == 0 {
		if c, ok := l.NearestWalkable(Cell{X: 0, Y: y}); ok {
			out[1] = c
		}
	}
	return out
}

// OpenSource is an all-floor, all-walkable grid, handy for scenarios and tests.
type OpenSource struct {
	Width, Height         int
	TileWidth, TileHeight int
	// Blocked cells are marked non-walkable in a second layer.
	Blocked []Cell
}

func (s OpenSource) Read() (*SourceData, error) {
	tw, th := s.TileWidth, s.TileHeight
	if tw == 0 {
		tw = 32
	}
	if th == 0 {
		th = 32
	}
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("open grid %dx%d", s.Width, s.Height)
	}
	n := s.Width * s.Height
	base := Layer{Name: "floor", Tiles: make([]Tile, n)}
	for i := range base.Tiles {
		base.Tiles[i] = Tile{Type: Floor, HasType: true}
	}
	data := &SourceData{Width: s.Width, Height: s.Height, TileWidth: tw, TileHeight: th, Layers: []Layer{base}}
	if len(s.Blocked) > 0 {
		walls := Layer{Name: "walls", Tiles: make([]Tile, n)}
		for _, c := range s.Blocked {
			if c.X < 0 || c.X >= s.Width || c.Y < 0 || c.Y >= s.Height {
				return nil, fmt.Errorf("blocked cell %s outside %dx%d grid", c, s.Width, s.Height)
			}
			walls.Tiles[c.Y*s.Width+c.X] = Tile{Type: Blocked, HasType: true, Blocked: true}
		}
		data.Layers = append(data.Layers, walls)
	}
	return data, nil
}
