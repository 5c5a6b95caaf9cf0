package workload

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/warehouse-sim/warehouse-sim/sim"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

type cohortGen struct {
	spec  *CohortSpec
	kind  sim.AgentKind
	qty   QuantitySampler
	cells []layout.Cell
}

// GeneratePlan creates spec.Count work orders on grid. Pick sequences start
// at after+1 so the result can follow a hand-written plan. Deterministic
// given the same spec and grid.
func GeneratePlan(spec *PlanSpec, grid *layout.Layout, after int) ([]*sim.WorkOrder, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan spec: %w", err)
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(spec.Seed)).ForSubsystem(sim.SubsystemWorkload)

	gens := make([]cohortGen, len(spec.Cohorts))
	weights := make([]float64, len(spec.Cohorts))
	for i := range spec.Cohorts {
		c := &spec.Cohorts[i]
		kind, _ := sim.ParseAgentKind(c.Equipment) // checked by Validate
		qty, err := NewQuantitySampler(c.Qty)
		if err != nil {
			return nil, fmt.Errorf("cohort %d qty: %w", i, err)
		}
		cells := candidateCells(grid, c.Region)
		if len(cells) == 0 {
			return nil, fmt.Errorf("cohort %d: no walkable cell in region", i)
		}
		gens[i] = cohortGen{spec: c, kind: kind, qty: qty, cells: cells}
		weights[i] = c.Weight
	}
	cdf := cumulative(weights)

	prefix := spec.IDPrefix
	if prefix == "" {
		prefix = "GEN-"
	}
	width := max(4, len(fmt.Sprint(spec.Count)))

	plan := make([]*sim.WorkOrder, 0, spec.Count)
	for i := 0; i < spec.Count; i++ {
		g := &gens[pickIndex(cdf, rng.Float64())]
		loc := g.cells[rng.Intn(len(g.cells))]
		plan = append(plan, &sim.WorkOrder{
			ID:                fmt.Sprintf("%s%0*d", prefix, width, i+1),
			PickSequence:      after + i + 1,
			Location:          loc,
			SKU:               g.sku(rng, loc),
			QtyInitial:        g.qty.Sample(rng),
			EquipmentRequired: g.kind,
			WorkArea:          g.spec.WorkArea,
			StagingID:         g.spec.StagingID,
		})
	}
	return plan, nil
}

// sku draws from the cohort's SKU list, or names the slot when there is none.
func (g *cohortGen) sku(rng *rand.Rand, loc layout.Cell) string {
	if n := len(g.spec.SKUs); n > 0 {
		return g.spec.SKUs[rng.Intn(n)]
	}
	return fmt.Sprintf("SKU-%02d%02d", loc.X, loc.Y)
}

// candidateCells prefers picking points inside the region and falls back
// to any walkable cell there. A nil region covers the whole grid.
func candidateCells(grid *layout.Layout, r *Region) []layout.Cell {
	in := func(c layout.Cell) bool { return r == nil || r.contains(c.X, c.Y) }
	var cells []layout.Cell
	for _, c := range grid.PickingPoints() {
		if in(c) {
			cells = append(cells, c)
		}
	}
	if len(cells) > 0 {
		return cells
	}
	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			c := layout.Cell{X: x, Y: y}
			if in(c) && grid.IsWalkable(c) {
				cells = append(cells, c)
			}
		}
	}
	return cells
}

// cumulative normalizes weights into a CDF whose last entry is exactly 1.
func cumulative(weights []float64) []float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	cdf := make([]float64, len(weights))
	acc := 0.0
	for i, w := range weights {
		acc += w / total
		cdf[i] = acc
	}
	cdf[len(cdf)-1] = 1.0
	return cdf
}

func pickIndex(cdf []float64, u float64) int {
	idx := sort.SearchFloat64s(cdf, u)
	if idx >= len(cdf) {
		idx = len(cdf) - 1
	}
	return idx
}
