package layout

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, src Source) *Layout {
	t.Helper()
	l, err := Load(src)
	require.NoError(t, err)
	return l
}

func TestGridToPixel_ReturnsCellCentre(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 4, Height: 3, TileWidth: 32, TileHeight: 16})
	assert.Equal(t, Point{X: 16, Y: 8}, l.GridToPixel(Cell{0, 0}))
	assert.Equal(t, Point{X: 112, Y: 40}, l.GridToPixel(Cell{3, 2}))
}

func TestPixelToGrid_RoundTripsEveryCell(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 30, Height: 30, TileWidth: 32, TileHeight: 32})
	for y := 0; y < l.Height(); y++ {
		for x := 0; x < l.Width(); x++ {
			c := Cell{x, y}
			assert.Equal(t, c, l.PixelToGrid(l.GridToPixel(c)))
		}
	}
}

func TestPixelToGrid_ClampsOutOfRange(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 5, Height: 5})
	assert.Equal(t, Cell{0, 0}, l.PixelToGrid(Point{X: -100, Y: -3}))
	assert.Equal(t, Cell{4, 4}, l.PixelToGrid(Point{X: 1e6, Y: 1e6}))
}

func TestIsWalkable_OutOfBoundsIsFalse(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 2, Height: 2})
	assert.False(t, l.IsWalkable(Cell{-1, 0}))
	assert.False(t, l.IsWalkable(Cell{2, 0}))
	_, ok := l.CellAt(Cell{0, 5})
	assert.False(t, ok)
}

func TestLoad_WalkabilityIsConjunctionAcrossLayers(t *testing.T) {
	data := &SourceData{
		Width: 2, Height: 1, TileWidth: 10, TileHeight: 10,
		Layers: []Layer{
			{Name: "base", Tiles: []Tile{{Type: Aisle, HasType: true}, {Type: Aisle, HasType: true}}},
			{Name: "overlay", Tiles: []Tile{{}, {Blocked: true}}},
		},
	}
	l, err := FromData(data)
	require.NoError(t, err)
	assert.True(t, l.IsWalkable(Cell{0, 0}))
	assert.False(t, l.IsWalkable(Cell{1, 0}))
	info, _ := l.CellAt(Cell{1, 0})
	assert.Equal(t, Aisle, info.Type, "type comes from the topmost declaring layer")
}

func TestLoad_TopmostTypeWins(t *testing.T) {
	data := &SourceData{
		Width: 1, Height: 1, TileWidth: 10, TileHeight: 10,
		Layers: []Layer{
			{Tiles: []Tile{{Type: Aisle, HasType: true}}},
			{Tiles: []Tile{{Type: PickingPoint, HasType: true}}},
		},
	}
	l, err := FromData(data)
	require.NoError(t, err)
	info, _ := l.CellAt(Cell{0, 0})
	assert.Equal(t, PickingPoint, info.Type)
	assert.Equal(t, []Cell{{0, 0}}, l.PickingPoints())
}

func TestLoad_UntypedDefaultsToFloor(t *testing.T) {
	data := &SourceData{Width: 1, Height: 1, TileWidth: 1, TileHeight: 1, Layers: []Layer{{Tiles: []Tile{{}}}}}
	l, err := FromData(data)
	require.NoError(t, err)
	info, _ := l.CellAt(Cell{0, 0})
	assert.Equal(t, Floor, info.Type)
	assert.True(t, info.Walkable)
}

func TestLoad_RackIsNeverWalkable(t *testing.T) {
	data := &SourceData{Width: 1, Height: 1, TileWidth: 1, TileHeight: 1,
		Layers: []Layer{{Tiles: []Tile{{Type: Rack, HasType: true}}}}}
	l, err := FromData(data)
	require.NoError(t, err)
	assert.False(t, l.IsWalkable(Cell{0, 0}))
}

func TestLoad_MalformedDimensions(t *testing.T) {
	tests := []struct {
		name string
		data *SourceData
	}{
		{"nil", nil},
		{"zero width", &SourceData{Width: 0, Height: 1, TileWidth: 1, TileHeight: 1, Layers: []Layer{{}}}},
		{"zero tile", &SourceData{Width: 1, Height: 1, TileWidth: 0, TileHeight: 1, Layers: []Layer{{Tiles: []Tile{{}}}}}},
		{"no layers", &SourceData{Width: 1, Height: 1, TileWidth: 1, TileHeight: 1}},
		{"short layer", &SourceData{Width: 2, Height: 1, TileWidth: 1, TileHeight: 1, Layers: []Layer{{Tiles: []Tile{{}}}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromData(tc.data)
			assert.ErrorIs(t, err, ErrMalformedLayout)
		})
	}
}

func TestLoad_ObjectOnBlockedCellIsInvalid(t *testing.T) {
	data := &SourceData{
		Width: 2, Height: 1, TileWidth: 1, TileHeight: 1,
		Layers:  []Layer{{Tiles: []Tile{{}, {Blocked: true}}}},
		Objects: []ObjectGroup{{Type: PickingPoint, Points: []ObjectPoint{{Cell: Cell{1, 0}}}}},
	}
	_, err := FromData(data)
	assert.ErrorIs(t, err, ErrInvalidCell)
}

func TestLoad_ObjectOutOfBoundsIsInvalid(t *testing.T) {
	data := &SourceData{
		Width: 1, Height: 1, TileWidth: 1, TileHeight: 1,
		Layers:  []Layer{{Tiles: []Tile{{}}}},
		Objects: []ObjectGroup{{Type: Parking, Points: []ObjectPoint{{Cell: Cell{3, 3}}}}},
	}
	_, err := FromData(data)
	assert.ErrorIs(t, err, ErrInvalidCell)
}

func TestLoad_BlockedPickingTileIsInvalid(t *testing.T) {
	data := &SourceData{
		Width: 1, Height: 1, TileWidth: 1, TileHeight: 1,
		Layers: []Layer{
			{Tiles: []Tile{{Type: PickingPoint, HasType: true}}},
			{Tiles: []Tile{{Blocked: true}}},
		},
	}
	_, err := FromData(data)
	assert.ErrorIs(t, err, ErrInvalidCell)
}

func TestLoad_StagingIDsMergeExplicitAndScanned(t *testing.T) {
	src := NewTextSource([]string{
		"S..2",
		"..S.",
	})
	l := mustLoad(t, src)
	assert.Equal(t, map[int]Cell{2: {3, 0}, 3: {0, 0}, 4: {2, 1}}, l.StagingPoints())
	assert.Equal(t, []int{2, 3, 4}, l.StagingIDs())
}

func TestLoad_DuplicateObjectsDedupedByCell(t *testing.T) {
	data := &SourceData{
		Width: 2, Height: 1, TileWidth: 1, TileHeight: 1,
		Layers: []Layer{{Tiles: []Tile{{Type: Parking, HasType: true}, {}}}},
		Objects: []ObjectGroup{
			{Type: Parking, Points: []ObjectPoint{{Cell: Cell{0, 0}}, {Cell: Cell{0, 0}}}},
		},
	}
	l, err := FromData(data)
	require.NoError(t, err)
	assert.Equal(t, []Cell{{0, 0}}, l.ParkingPoints())
}

func TestTextSource_Legend(t *testing.T) {
	l := mustLoad(t, NewTextSource([]string{
		"K.P#",
		"D-XS",
	}))
	assert.Equal(t, 4, l.Width())
	assert.Equal(t, 2, l.Height())
	assert.Equal(t, []Cell{{0, 0}}, l.ParkingPoints())
	assert.Equal(t, []Cell{{2, 0}}, l.PickingPoints())
	assert.Equal(t, []Cell{{0, 1}}, l.DepotPoints())
	assert.False(t, l.IsWalkable(Cell{3, 0}))
	assert.False(t, l.IsWalkable(Cell{2, 1}))
	assert.True(t, l.IsWalkable(Cell{1, 1}))
}

func TestParseLegend_ExtendsDefault(t *testing.T) {
	legend, err := ParseLegend(map[string]string{"~": "aisle", "K": "rack"})
	require.NoError(t, err)
	src := NewTextSource([]string{"~K.", "P.."})
	src.Legend = legend
	l := mustLoad(t, src)
	info, ok := l.CellAt(Cell{0, 0})
	require.True(t, ok)
	assert.Equal(t, Aisle, info.Type)
	assert.False(t, l.IsWalkable(Cell{1, 0}), "K remapped from parking to rack")
	assert.Empty(t, l.ParkingPoints())
	assert.Equal(t, []Cell{{0, 1}}, l.PickingPoints())

	for _, bad := range []map[string]string{{"~": "lava"}, {"ab": "floor"}, {"3": "floor"}} {
		_, err := ParseLegend(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestTextSource_RaggedRowsRejected(t *testing.T) {
	_, err := Load(NewTextSource([]string{"...", ".."}))
	assert.ErrorIs(t, err, ErrMalformedLayout)
}

func TestNeighbours_FourAndEightConnected(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 3, Height: 3, Blocked: []Cell{{1, 0}}})
	four := l.Neighbours(Cell{1, 1}, false)
	assert.Equal(t, []Cell{{2, 1}, {1, 2}, {0, 1}}, four)
	eight := l.Neighbours(Cell{1, 1}, true)
	assert.Len(t, eight, 7)
	assert.NotContains(t, eight, Cell{1, 0})
}

func TestRandomWalkable(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 3, Height: 1, Blocked: []Cell{{0, 0}, {2, 0}}})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		c, ok := l.RandomWalkable(rng)
		require.True(t, ok)
		assert.Equal(t, Cell{1, 0}, c)
	}

	none := mustLoad(t, OpenSource{Width: 1, Height: 1, Blocked: []Cell{{0, 0}}})
	_, ok := none.RandomWalkable(rng)
	assert.False(t, ok)
}

func TestNearestWalkable(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 5, Height: 5, Blocked: []Cell{{2, 2}, {1, 2}, {3, 2}, {2, 1}}})
	c, ok := l.NearestWalkable(Cell{2, 2})
	require.True(t, ok)
	assert.Equal(t, Cell{2, 3}, c)

	c, ok = l.NearestWalkable(Cell{-4, 99})
	require.True(t, ok)
	assert.Equal(t, Cell{0, 4}, c)
}

func TestDefaultStaging_AlongBottomEdge(t *testing.T) {
	l := mustLoad(t, OpenSource{Width: 30, Height: 30})
	st := DefaultStaging(l)
	require.Len(t, st, 7)
	assert.Equal(t, Cell{3, 29}, st[1])
	assert.Equal(t, Cell{21, 29}, st[7])

	narrow := mustLoad(t, OpenSource{Width: 3, Height: 1})
	assert.Equal(t, map[int]Cell{1: {1, 0}, 2: {2, 0}}, DefaultStaging(narrow))
}
