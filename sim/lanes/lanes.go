// Package lanes enforces single occupancy of grid cells.
//
// Reservations is a partial, injective map cell -> agent plus its inverse.
// Every mutation keeps both directions in step, so an agent holds at most one
// cell and a cell is held by at most one agent.
package lanes

import (
	"fmt"
	"sort"

	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

// Reservations is owned by the kernel and mutated only inside a tick.
type Reservations struct {
	byCell  map[layout.Cell]string
	byAgent map[string]layout.Cell
}

func New() *Reservations {
	return &Reservations{
		byCell:  make(map[layout.Cell]string),
		byAgent: make(map[string]layout.Cell),
	}
}

// TryAcquire reserves cell for agent. It succeeds when the cell is free or
// already held by agent. An agent holding a different cell must use Move.
func (r *Reservations) TryAcquire(cell layout.Cell, agent string) bool {
	if holder, ok := r.byCell[cell]; ok {
		return holder == agent
	}
	if _, holds := r.byAgent[agent]; holds {
		return false
	}
	r.byCell[cell] = agent
	r.byAgent[agent] = cell
	return true
}

// Release frees cell if agent holds it; otherwise it is a no-op.
func (r *Reservations) Release(cell layout.Cell, agent string) {
	if holder, ok := r.byCell[cell]; !ok || holder != agent {
		return
	}
	delete(r.byCell, cell)
	delete(r.byAgent, agent)
}

// Move acquires to and releases from in one step. It fails without changing
// anything when to is held by another agent or from is not held by agent.
func (r *Reservations) Move(from, to layout.Cell, agent string) bool {
	if holder, ok := r.byCell[from]; !ok || holder != agent {
		return false
	}
	if from == to {
		return true
	}
	if holder, ok := r.byCell[to]; ok && holder != agent {
		return false
	}
	delete(r.byCell, from)
	r.byCell[to] = agent
	r.byAgent[agent] = to
	return true
}

// Holder returns the agent reserving cell.
func (r *Reservations) Holder(cell layout.Cell) (string, bool) {
	a, ok := r.byCell[cell]
	return a, ok
}

// CellOf returns the cell reserved by agent.
func (r *Reservations) CellOf(agent string) (layout.Cell, bool) {
	c, ok := r.byAgent[agent]
	return c, ok
}

func (r *Reservations) Len() int { return len(r.byCell) }

// Check audits injectivity: both maps must be exact inverses.
func (r *Reservations) Check() error {
	if len(r.byCell) != len(r.byAgent) {
		return fmt.Errorf("reservation maps disagree: %d cells, %d agents", len(r.byCell), len(r.byAgent))
	}
	agents := make([]string, 0, len(r.byAgent))
	for a := range r.byAgent {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, a := range agents {
		c := r.byAgent[a]
		if holder := r.byCell[c]; holder != a {
			return fmt.Errorf("agent %s claims %s but cell is held by %q", a, c, holder)
		}
	}
	return nil
}
