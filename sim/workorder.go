package sim

import (
	"errors"
	"fmt"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

var (
	// ErrMalformedPlan is returned for a master plan with duplicate or
	// non-monotone pick sequences, or work orders that cannot be placed.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrInvalidAssignment is reported when an agent acts on a work order it does not hold.
	ErrInvalidAssignment = errors.New("invalid assignment")
	// ErrInvalidConfig covers agent, staging and timing configuration errors.
	ErrInvalidConfig = errors.New("invalid simulation config")
	// ErrBadTransition means a work order was pushed along an edge its lifecycle does not allow.
	ErrBadTransition = errors.New("work order status transition not allowed")
)

// WOStatus is a work order's lifecycle state.
type WOStatus string

const (
	StatusPending   WOStatus = "pending"
	StatusAssigned  WOStatus = "assigned"
	StatusPicking   WOStatus = "picking"
	StatusPicked    WOStatus = "picked"
	StatusStaged    WOStatus = "staged"
	StatusCancelled WOStatus = "cancelled"
)

// allowedTransitions is the forward lifecycle plus two recovery edges:
// assigned -> pending when an agent gives a work order back, and any live
// state -> cancelled after repeated path failures.
var allowedTransitions = map[WOStatus][]WOStatus{
	StatusPending:  {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusPicking, StatusPending, StatusCancelled},
	StatusPicking:  {StatusPicked, StatusCancelled},
	StatusPicked:   {StatusStaged},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to WOStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s WOStatus) Terminal() bool {
	return s == StatusStaged || s == StatusCancelled
}

// WorkOrder is one line of the master plan.
type WorkOrder struct {
	ID                string
	PickSequence      int
	Location          layout.Cell
	SKU               string
	QtyInitial        int
	QtyRemaining      int
	EquipmentRequired AgentKind
	WorkArea          string
	StagingID         int // 0 = deliver to the nearest staging point

	Status      WOStatus
	AssignedTo  string
	QtyStaged   int
	CompletedAt float64 // virtual time the order reached staged

	pathFailures int
}

func (w *WorkOrder) setStatus(to WOStatus) error {
	if w.Status == to {
		return nil
	}
	if !CanTransition(w.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrBadTransition, w.ID, w.Status, to)
	}
	w.Status = to
	return nil
}

// PathFailures is the number of NoPath failures counted against this order.
func (w *WorkOrder) PathFailures() int { return w.pathFailures }

// Snapshot converts the order to its event-stream form.
func (w *WorkOrder) Snapshot() eventlog.WorkOrderSnapshot {
	return eventlog.WorkOrderSnapshot{
		ID:                w.ID,
		Status:            string(w.Status),
		Location:          [2]int{w.Location.X, w.Location.Y},
		SKU:               w.SKU,
		QtyInitial:        w.QtyInitial,
		QtyRemaining:      w.QtyRemaining,
		PickSequence:      w.PickSequence,
		EquipmentRequired: string(w.EquipmentRequired),
		WorkArea:          w.WorkArea,
		StagingID:         w.StagingID,
	}
}

func (w *WorkOrder) update() *eventlog.WorkOrderUpdatePayload {
	return &eventlog.WorkOrderUpdatePayload{
		ID:           w.ID,
		Status:       string(w.Status),
		Location:     [2]int{w.Location.X, w.Location.Y},
		SKU:          w.SKU,
		QtyRemaining: w.QtyRemaining,
		AssignedTo:   w.AssignedTo,
	}
}

// PreparePlan validates the master plan against grid. Pick sequences must
// already be strictly increasing in list order. Orders with no status start
// pending, with QtyRemaining defaulting to QtyInitial.
func PreparePlan(grid *layout.Layout, orders []*WorkOrder) ([]*WorkOrder, error) {
	plan := make([]*WorkOrder, len(orders))
	copy(plan, orders)
	ids := make(map[string]bool, len(plan))
	for i, w := range plan {
		if w == nil {
			return nil, fmt.Errorf("%w: entry %d is nil", ErrMalformedPlan, i)
		}
		if w.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrMalformedPlan, i)
		}
		if ids[w.ID] {
			return nil, fmt.Errorf("%w: duplicate work order id %q", ErrMalformedPlan, w.ID)
		}
		ids[w.ID] = true
		if w.PickSequence < 0 {
			return nil, fmt.Errorf("%w: %s has negative pick_sequence %d", ErrMalformedPlan, w.ID, w.PickSequence)
		}
		if i > 0 && w.PickSequence <= plan[i-1].PickSequence {
			return nil, fmt.Errorf("%w: pick_sequence %d of %s does not follow %d of %s",
				ErrMalformedPlan, w.PickSequence, w.ID, plan[i-1].PickSequence, plan[i-1].ID)
		}
		if w.QtyInitial < 0 || w.QtyRemaining < 0 || w.QtyRemaining > w.QtyInitial {
			return nil, fmt.Errorf("%w: %s quantities %d/%d", ErrMalformedPlan, w.ID, w.QtyRemaining, w.QtyInitial)
		}
		kind, err := ParseAgentKind(string(w.EquipmentRequired))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPlan, w.ID, err)
		}
		w.EquipmentRequired = kind
		if !grid.IsWalkable(w.Location) {
			return nil, fmt.Errorf("%w: %s location %s is not a walkable cell", ErrMalformedPlan, w.ID, w.Location)
		}
		switch w.Status {
		case "", StatusPending:
			w.Status = StatusPending
			if w.QtyRemaining == 0 {
				w.QtyRemaining = w.QtyInitial
			}
		case StatusStaged:
			w.QtyRemaining = 0
			w.QtyStaged = w.QtyInitial
		case StatusCancelled:
		default:
			// in-flight states need an agent holding the order
			return nil, fmt.Errorf("%w: %s cannot start in status %s", ErrMalformedPlan, w.ID, w.Status)
		}
		w.AssignedTo = ""
	}
	return plan, nil
}
