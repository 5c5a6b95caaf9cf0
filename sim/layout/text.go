package layout

import "fmt"

// DefaultLegend maps map characters to cell types for TextSource.
var DefaultLegend = map[rune]CellType{
	'.': Floor,
	'-': Aisle,
	'#': Rack,
	'X': Blocked,
	'P': PickingPoint,
	'D': Depot,
	'S': Staging,
	'K': Parking,
}

// TextSource reads a character grid, one string per row. Digits 1-9 place a
// staging point with that explicit id.
type TextSource struct {
	Rows       []string
	TileWidth  int
	TileHeight int
	Legend     map[rune]CellType
}

// NewTextSource builds a TextSource with the default legend and 32px tiles.
func NewTextSource(rows []string) TextSource {
	return TextSource{Rows: rows, TileWidth: 32, TileHeight: 32, Legend: DefaultLegend}
}

// ParseLegend extends DefaultLegend with single-character keys mapped to
// cell type names ("aisle", "rack", ...). Digits stay reserved for staging ids.
func ParseLegend(names map[string]string) (map[rune]CellType, error) {
	legend := make(map[rune]CellType, len(DefaultLegend)+len(names))
	for r, t := range DefaultLegend {
		legend[r] = t
	}
	for key, name := range names {
		runes := []rune(key)
		if len(runes) != 1 || (runes[0] >= '1' && runes[0] <= '9') {
			return nil, fmt.Errorf("legend key %q must be a single non-digit character", key)
		}
		t, err := ParseCellType(name)
		if err != nil {
			return nil, fmt.Errorf("legend key %q: %w", key, err)
		}
		legend[runes[0]] = t
	}
	return legend, nil
}

func (s TextSource) Read() (*SourceData, error) {
	if len(s.Rows) == 0 {
		return nil, fmt.Errorf("text map has no rows")
	}
	legend := s.Legend
	if legend == nil {
		legend = DefaultLegend
	}
	width := len([]rune(s.Rows[0]))
	height := len(s.Rows)
	tiles := make([]Tile, 0, width*height)
	staging := ObjectGroup{Type: Staging}
	for y, row := range s.Rows {
		runes := []rune(row)
		if len(runes) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", y, len(runes), width)
		}
		for x, r := range runes {
			if r >= '1' && r <= '9' {
				tiles = append(tiles, Tile{Type: Staging, HasType: true})
				staging.Points = append(staging.Points, ObjectPoint{ID: int(r - '0'), Cell: Cell{X: x, Y: y}})
				continue
			}
			t, ok := legend[r]
			if !ok {
				return nil, fmt.Errorf("unknown map character %q at (%d,%d)", r, x, y)
			}
			tiles = append(tiles, Tile{Type: t, HasType: true, Blocked: t == Rack || t == Blocked})
		}
	}
	data := &SourceData{
		Width:      width,
		Height:     height,
		TileWidth:  s.TileWidth,
		TileHeight: s.TileHeight,
		Layers:     []Layer{{Name: "map", Tiles: tiles}},
	}
	if len(staging.Points) > 0 {
		data.Objects = append(data.Objects, staging)
	}
	return data, nil
}
