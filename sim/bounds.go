package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

// BoundsChecker guards every agent position update. A position off the grid
// or over a blocked cell is pulled back to the centre of the nearest walkable
// cell and counted; it is never fatal.
type BoundsChecker struct {
	grid    *layout.Layout
	metrics *Metrics
}

func NewBoundsChecker(grid *layout.Layout, metrics *Metrics) *BoundsChecker {
	return &BoundsChecker{grid: grid, metrics: metrics}
}

// ValidateAndClamp returns p unchanged when it is on a walkable cell,
// otherwise the clamped position.
func (b *BoundsChecker) ValidateAndClamp(p layout.Point, context, agentID string) layout.Point {
	if b.grid.PixelInBounds(p) && b.grid.IsWalkable(b.grid.PixelToGrid(p)) {
		return p
	}
	if b.metrics != nil {
		b.metrics.boundsViolation()
	}
	c, ok := b.grid.NearestWalkable(b.grid.PixelToGrid(p))
	if !ok {
		// a grid with no walkable cell never gets this far; NewSimulator rejects it
		logrus.Errorf("bounds: %s %s at (%.1f,%.1f) has no walkable cell to clamp to", agentID, context, p.X, p.Y)
		return p
	}
	out := b.grid.GridToPixel(c)
	logrus.Warnf("bounds: %s %s at (%.1f,%.1f) clamped to %s", agentID, context, p.X, p.Y, c)
	return out
}
