package sim

import (
	"fmt"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

// AgentView is a read-only copy of one agent.
type AgentView struct {
	ID         string
	Kind       AgentKind
	State      AgentState
	Position   layout.Point
	Cell       layout.Cell
	Load       int
	Capacity   int
	TourLength float64
	Tour       []string
}

// Snapshot is a deep copy of kernel state between ticks. Render hooks and
// tests may keep it; later ticks do not change it.
type Snapshot struct {
	Time       float64
	Tick       int64
	Agents     []AgentView
	WorkOrders map[string]WOStatus
	Staging    map[int]map[string]int
	Summary    eventlog.Summary
}

// Snapshot copies the current state.
func (s *Simulator) Snapshot() Snapshot {
	snap := Snapshot{
		Time:       s.Now(),
		Tick:       s.Clock,
		Agents:     make([]AgentView, len(s.agents)),
		WorkOrders: make(map[string]WOStatus, len(s.dispatcher.plan)),
		Staging:    make(map[int]map[string]int, len(s.contents)),
		Summary:    s.Summary(),
	}
	for i, r := range s.agents {
		v := AgentView{
			ID:         r.ID,
			Kind:       r.Kind,
			State:      r.State,
			Position:   r.Position,
			Cell:       r.CurrentCell,
			Load:       r.Load(),
			Capacity:   r.Capacity,
			TourLength: r.TourLength,
		}
		for _, w := range r.Tour {
			v.Tour = append(v.Tour, w.ID)
		}
		snap.Agents[i] = v
	}
	for _, w := range s.dispatcher.plan {
		snap.WorkOrders[w.ID] = w.Status
	}
	for id, m := range s.contents {
		c := make(map[string]int, len(m))
		for k, v := range m {
			c[k] = v
		}
		snap.Staging[id] = c
	}
	return snap
}

// CheckInvariants audits the kernel's cross-structure invariants: every
// agent on a walkable cell it alone holds, loads within capacity, and work
// order quantities in range.
func (s *Simulator) CheckInvariants() error {
	if err := s.lanes.Check(); err != nil {
		return err
	}
	if n := s.lanes.Len(); n != len(s.agents) {
		return fmt.Errorf("%d cells reserved for %d agents", n, len(s.agents))
	}
	for _, r := range s.agents {
		if !s.grid.IsWalkable(r.CurrentCell) {
			return fmt.Errorf("agent %s on non-walkable cell %s", r.ID, r.CurrentCell)
		}
		if c, ok := s.lanes.CellOf(r.ID); !ok || c != r.CurrentCell {
			return fmt.Errorf("agent %s at %s but reservation says %s (held=%t)", r.ID, r.CurrentCell, c, ok)
		}
		if load := r.Load(); load < 0 || load > r.Capacity {
			return fmt.Errorf("agent %s carries %d, capacity %d", r.ID, load, r.Capacity)
		}
		if !s.grid.PixelInBounds(r.Position) {
			return fmt.Errorf("agent %s position (%.1f,%.1f) off the grid", r.ID, r.Position.X, r.Position.Y)
		}
	}
	for _, w := range s.dispatcher.plan {
		if w.QtyRemaining < 0 || w.QtyRemaining > w.QtyInitial {
			return fmt.Errorf("%s remaining %d of %d", w.ID, w.QtyRemaining, w.QtyInitial)
		}
		if w.QtyStaged > w.QtyInitial-w.QtyRemaining {
			return fmt.Errorf("%s staged %d but picked %d", w.ID, w.QtyStaged, w.QtyInitial-w.QtyRemaining)
		}
		if w.Status == StatusStaged && w.QtyStaged != w.QtyInitial {
			return fmt.Errorf("%s staged with %d of %d units", w.ID, w.QtyStaged, w.QtyInitial)
		}
	}
	return nil
}
