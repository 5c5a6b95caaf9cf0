package pathfind

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

func openGrid(t *testing.T, w, h int, blocked ...layout.Cell) *layout.Layout {
	t.Helper()
	l, err := layout.Load(layout.OpenSource{Width: w, Height: h, Blocked: blocked})
	require.NoError(t, err)
	return l
}

// assertValidRoute checks endpoints, adjacency, walkability and uniqueness.
func assertValidRoute(t *testing.T, l *layout.Layout, route []layout.Cell, start, goal layout.Cell) {
	t.Helper()
	require.NotEmpty(t, route)
	assert.Equal(t, start, route[0])
	assert.Equal(t, goal, route[len(route)-1])
	seen := map[layout.Cell]bool{}
	for i, c := range route {
		assert.True(t, l.IsWalkable(c), "cell %v not walkable", c)
		assert.False(t, seen[c], "cell %v repeats", c)
		seen[c] = true
		if i > 0 {
			p := route[i-1]
			dx, dy := c.X-p.X, c.Y-p.Y
			assert.True(t, dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1 && (dx != 0 || dy != 0),
				"%v -> %v are not 8-neighbours", p, c)
		}
	}
}

// dijkstra is a slow reference for optimal octile cost.
func dijkstra(l *layout.Layout, start, goal layout.Cell) (float64, bool) {
	n := l.Width() * l.Height()
	dist := make([]float64, n)
	done := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[l.Index(start)] = 0
	for {
		best := -1
		for i := 0; i < n; i++ {
			if !done[i] && !math.IsInf(dist[i], 1) && (best < 0 || dist[i] < dist[best]) {
				best = i
			}
		}
		if best < 0 {
			return 0, false
		}
		done[best] = true
		c := layout.Cell{X: best % l.Width(), Y: best / l.Width()}
		if c == goal {
			return dist[best], true
		}
		for _, nb := range l.Neighbours(c, true) {
			ni := l.Index(nb)
			if d := dist[best] + StepCost(c, nb); d < dist[ni] {
				dist[ni] = d
			}
		}
	}
}

func TestOctile(t *testing.T) {
	assert.InDelta(t, 0.0, Octile(layout.Cell{X: 2, Y: 2}, layout.Cell{X: 2, Y: 2}), 1e-12)
	assert.InDelta(t, 5.0, Octile(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 5, Y: 0}), 1e-12)
	assert.InDelta(t, 3*math.Sqrt2, Octile(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 3, Y: 3}), 1e-12)
	assert.InDelta(t, 2+3*math.Sqrt2, Octile(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 3, Y: 5}), 1e-12)
}

func TestFindPath_StartEqualsGoal(t *testing.T) {
	pf := New(openGrid(t, 3, 3))
	route, ok := pf.FindPath(layout.Cell{X: 1, Y: 1}, layout.Cell{X: 1, Y: 1})
	require.True(t, ok)
	assert.Equal(t, []layout.Cell{{X: 1, Y: 1}}, route)
}

func TestFindPath_UnusableEndpoints(t *testing.T) {
	l := openGrid(t, 4, 4, layout.Cell{X: 3, Y: 3})
	pf := New(l)
	tests := []struct {
		name        string
		start, goal layout.Cell
	}{
		{"start out of bounds", layout.Cell{X: -1, Y: 0}, layout.Cell{X: 1, Y: 1}},
		{"goal out of bounds", layout.Cell{X: 0, Y: 0}, layout.Cell{X: 4, Y: 0}},
		{"goal blocked", layout.Cell{X: 0, Y: 0}, layout.Cell{X: 3, Y: 3}},
		{"start blocked", layout.Cell{X: 3, Y: 3}, layout.Cell{X: 0, Y: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			route, ok := pf.FindPath(tc.start, tc.goal)
			assert.False(t, ok)
			assert.Nil(t, route)
		})
	}
}

func TestFindPath_DisconnectedRegions(t *testing.T) {
	var wall []layout.Cell
	for y := 0; y < 5; y++ {
		wall = append(wall, layout.Cell{X: 2, Y: y})
	}
	pf := New(openGrid(t, 5, 5, wall...))
	_, ok := pf.FindPath(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 4, Y: 4})
	assert.False(t, ok)
}

func TestFindPath_DiagonalOnOpenGrid(t *testing.T) {
	l := openGrid(t, 10, 10)
	pf := New(l)
	route, ok := pf.FindPath(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 4, Y: 4})
	require.True(t, ok)
	assertValidRoute(t, l, route, layout.Cell{X: 0, Y: 0}, layout.Cell{X: 4, Y: 4})
	assert.Len(t, route, 5)
	assert.InDelta(t, 4*math.Sqrt2, RouteCost(route), 1e-9)
}

func TestFindPath_DetoursAroundWall(t *testing.T) {
	// x=5 is a wall for every row except y=29
	var wall []layout.Cell
	for y := 0; y < 29; y++ {
		wall = append(wall, layout.Cell{X: 5, Y: y})
	}
	l := openGrid(t, 30, 30, wall...)
	pf := New(l)
	start, goal := layout.Cell{X: 0, Y: 0}, layout.Cell{X: 10, Y: 10}

	route, ok := pf.FindPath(start, goal)
	require.True(t, ok)
	assertValidRoute(t, l, route, start, goal)
	assert.Contains(t, route, layout.Cell{X: 5, Y: 29})

	manhattan := 20
	assert.GreaterOrEqual(t, len(route)-1, manhattan/2+29)

	want, ok := dijkstra(l, start, goal)
	require.True(t, ok)
	assert.InDelta(t, want, RouteCost(route), 1e-9)
	assert.InDelta(t, 38+10*math.Sqrt2, RouteCost(route), 1e-9)
}

func TestFindPath_OptimalAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 25; trial++ {
		var blocked []layout.Cell
		for y := 0; y < 12; y++ {
			for x := 0; x < 12; x++ {
				if rng.Float64() < 0.3 {
					blocked = append(blocked, layout.Cell{X: x, Y: y})
				}
			}
		}
		l := openGrid(t, 12, 12, blocked...)
		pf := New(l)
		for q := 0; q < 8; q++ {
			start := layout.Cell{X: rng.Intn(12), Y: rng.Intn(12)}
			goal := layout.Cell{X: rng.Intn(12), Y: rng.Intn(12)}
			route, ok := pf.FindPath(start, goal)
			want, reachable := dijkstra(l, start, goal)
			if !l.IsWalkable(start) || !l.IsWalkable(goal) {
				assert.False(t, ok)
				continue
			}
			require.Equal(t, reachable, ok, "trial %d %v->%v", trial, start, goal)
			if ok {
				assertValidRoute(t, l, route, start, goal)
				assert.InDelta(t, want, RouteCost(route), 1e-9)
			}
		}
	}
}

func TestFindPath_IdempotentWithScratchReuse(t *testing.T) {
	l := openGrid(t, 20, 20, layout.Cell{X: 10, Y: 9}, layout.Cell{X: 10, Y: 10}, layout.Cell{X: 10, Y: 11})
	pf := New(l)
	first, ok := pf.FindPath(layout.Cell{X: 0, Y: 10}, layout.Cell{X: 19, Y: 10})
	require.True(t, ok)
	_, _ = pf.FindPath(layout.Cell{X: 19, Y: 19}, layout.Cell{X: 0, Y: 0})
	second, ok := pf.FindPath(layout.Cell{X: 0, Y: 10}, layout.Cell{X: 19, Y: 10})
	require.True(t, ok)
	assert.Equal(t, first, second)

	fresh, _ := New(l).FindPath(layout.Cell{X: 0, Y: 10}, layout.Cell{X: 19, Y: 10})
	assert.Equal(t, first, fresh)
}

func TestFindPathAvoiding_MasksContestedCell(t *testing.T) {
	l := openGrid(t, 3, 3)
	pf := New(l)
	contested := layout.Cell{X: 1, Y: 0}
	route, ok := pf.FindPathAvoiding(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 2, Y: 0}, func(c layout.Cell) bool { return c == contested })
	require.True(t, ok)
	assert.NotContains(t, route, contested)
	assertValidRoute(t, l, route, layout.Cell{X: 0, Y: 0}, layout.Cell{X: 2, Y: 0})

	// in a corridor there is no way around
	corridor := openGrid(t, 3, 1)
	_, ok = New(corridor).FindPathAvoiding(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 2, Y: 0}, func(c layout.Cell) bool { return c == contested })
	assert.False(t, ok)

	// the mask never applies to the start cell
	route, ok = pf.FindPathAvoiding(layout.Cell{X: 1, Y: 0}, layout.Cell{X: 1, Y: 2}, func(c layout.Cell) bool { return c == contested })
	require.True(t, ok)
	assert.Equal(t, layout.Cell{X: 1, Y: 0}, route[0])
}

func BenchmarkFindPath_Open100(b *testing.B) {
	l, _ := layout.Load(layout.OpenSource{Width: 100, Height: 100})
	pf := New(l)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pf.FindPath(layout.Cell{X: 0, Y: 0}, layout.Cell{X: 99, Y: 73})
	}
}
