package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/pathfind"
	"github.com/warehouse-sim/warehouse-sim/sim/trace"
)

// Dispatcher owns the master plan and hands out work orders in pick-sequence
// order. It is mutated only from inside a kernel tick.
type Dispatcher struct {
	plan        []*WorkOrder
	byID        map[string]*WorkOrder
	strategy    string
	maxFailures int
	tourType    string
	maxPerTour  int

	trace *trace.SimulationTrace // nil unless decision tracing is on
	now   func() int64
}

// NewDispatcher wraps an already validated plan (see PreparePlan).
func NewDispatcher(plan []*WorkOrder, cfg DispatchConfig) (*Dispatcher, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		plan:        plan,
		byID:        make(map[string]*WorkOrder, len(plan)),
		strategy:    cfg.Strategy,
		maxFailures: cfg.MaxPathFailures,
		tourType:    cfg.TourType,
		maxPerTour:  cfg.MaxWOsPerTour,
	}
	for _, w := range plan {
		d.byID[w.ID] = w
	}
	return d, nil
}

// eligible reports whether a may take w. staging restricts to orders bound to
// the agent's current tour destination (0 = unrestricted).
func eligible(w *WorkOrder, a *Agent, staging int) bool {
	if w.Status != StatusPending || w.EquipmentRequired != a.Kind || w.ID == a.declined {
		return false
	}
	if staging != 0 && w.StagingID != 0 && w.StagingID != staging {
		return false
	}
	return a.MayEnter(w.WorkArea)
}

// Assignment cost weights of the global strategy.
const (
	lowPriorityPenalty = 50_000 // area ranked worse than goodPriority, or unranked
	goodPriority       = 10
	distanceWeight     = 100 // per cell of octile distance
)

// Config returns the normalized dispatch configuration.
func (d *Dispatcher) Config() DispatchConfig {
	return DispatchConfig{Strategy: d.strategy, MaxPathFailures: d.maxFailures, TourType: d.tourType, MaxWOsPerTour: d.maxPerTour}
}

// RequestAssignment returns the next eligible pending work order for a and
// marks it assigned, or nil when nothing fits. staging is the tour's
// destination; it only restricts the choice for simple tours.
func (d *Dispatcher) RequestAssignment(a *Agent, staging int) *WorkOrder {
	defer func() { a.declined = "" }()
	if d.tourType != TourSimple {
		staging = 0
	}
	var pick *WorkOrder
	switch d.strategy {
	case StrategyAreaPriority:
		best := math.MaxInt
		for _, w := range d.plan {
			if !eligible(w, a, staging) {
				continue
			}
			// plan is in sequence order, so the first order seen per
			// priority level is the earliest one
			if p := a.priorityOf(w.WorkArea); p < best {
				best = p
				pick = w
			}
		}
	case StrategyGlobal:
		if len(a.Tour) > 0 || len(a.Carrying) > 0 {
			// only a tour's first order is chosen by cost
			pick = d.first(a, staging)
			break
		}
		pick = d.cheapest(a, staging, assignmentCost)
	case StrategyNearest:
		pick = d.cheapest(a, staging, func(a *Agent, w *WorkOrder) float64 {
			return pathfind.Octile(a.CurrentCell, w.Location)
		})
	case StrategyFIFO:
		for _, w := range d.plan {
			if w.Status == StatusPending && w.EquipmentRequired == a.Kind {
				if eligible(w, a, staging) {
					pick = w
				}
				break
			}
		}
	default:
		pick = d.first(a, staging)
	}
	if pick == nil {
		return nil
	}
	if d.trace != nil {
		d.recordAssignment(a, staging, pick)
	}
	pick.Status = StatusAssigned
	pick.AssignedTo = a.ID
	logrus.Debugf("dispatch: %s -> %s (seq %d)", pick.ID, a.ID, pick.PickSequence)
	return pick
}

func (d *Dispatcher) first(a *Agent, staging int) *WorkOrder {
	for _, w := range d.plan {
		if eligible(w, a, staging) {
			return w
		}
	}
	return nil
}

// cheapest returns the eligible order with the lowest cost; ties go to the
// earlier pick sequence.
func (d *Dispatcher) cheapest(a *Agent, staging int, cost func(*Agent, *WorkOrder) float64) *WorkOrder {
	var pick *WorkOrder
	best := math.Inf(1)
	for _, w := range d.plan {
		if !eligible(w, a, staging) {
			continue
		}
		if c := cost(a, w); c < best {
			best, pick = c, w
		}
	}
	return pick
}

// assignmentCost scores w for a: a penalty when a ranks w's area poorly,
// plus the octile distance from a's cell.
func assignmentCost(a *Agent, w *WorkOrder) float64 {
	penalty := 0.0
	if len(a.AreaPriority) > 0 && a.priorityOf(w.WorkArea) > goodPriority {
		penalty = lowPriorityPenalty
	}
	return penalty + pathfind.Octile(a.CurrentCell, w.Location)*distanceWeight
}

// recordAssignment traces pick against every other order a could have taken.
func (d *Dispatcher) recordAssignment(a *Agent, staging int, pick *WorkOrder) {
	var cands []trace.CandidateScore
	for _, w := range d.plan {
		if eligible(w, a, staging) {
			cands = append(cands, trace.CandidateScore{
				WorkOrderID:  w.ID,
				PickSequence: w.PickSequence,
				WorkArea:     w.WorkArea,
				Distance:     pathfind.Octile(a.CurrentCell, w.Location),
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
	dist := pathfind.Octile(a.CurrentCell, pick.Location)
	rec := trace.AssignmentRecord{
		AgentID:     a.ID,
		Clock:       d.clock(),
		WorkOrderID: pick.ID,
		Reason:      d.strategy,
		Distance:    dist,
		Eligible:    len(cands),
		Regret:      dist - cands[0].Distance,
	}
	if k := d.trace.Config.CounterfactualK; k > 0 {
		rec.Candidates = cands[:min(k, len(cands))]
	}
	d.trace.RecordAssignment(rec)
}

func (d *Dispatcher) recordRelease(w *WorkOrder, agentID, reason string) {
	if d.trace == nil {
		return
	}
	d.trace.RecordRelease(trace.ReleaseRecord{AgentID: agentID, Clock: d.clock(), WorkOrderID: w.ID, Reason: reason})
}

func (d *Dispatcher) clock() int64 {
	if d.now == nil {
		return 0
	}
	return d.now()
}

func (d *Dispatcher) owned(w *WorkOrder, agentID string) error {
	if w == nil || d.byID[w.ID] != w {
		return fmt.Errorf("%w: unknown work order", ErrInvalidAssignment)
	}
	if w.AssignedTo != agentID {
		return fmt.Errorf("%w: %s reported %s assigned to %q", ErrInvalidAssignment, agentID, w.ID, w.AssignedTo)
	}
	return nil
}

// StartPicking moves w to picking when its agent arrives.
func (d *Dispatcher) StartPicking(w *WorkOrder, agentID string) error {
	if err := d.owned(w, agentID); err != nil {
		return err
	}
	return w.setStatus(StatusPicking)
}

// RecordPick removes qty units from w. The order becomes picked once nothing remains.
func (d *Dispatcher) RecordPick(w *WorkOrder, agentID string, qty int) error {
	if err := d.owned(w, agentID); err != nil {
		return err
	}
	if qty < 0 || qty > w.QtyRemaining {
		return fmt.Errorf("%w: pick of %d from %s with %d remaining", ErrInvalidAssignment, qty, w.ID, w.QtyRemaining)
	}
	w.QtyRemaining -= qty
	if w.QtyRemaining == 0 {
		return w.setStatus(StatusPicked)
	}
	return nil
}

// ReportCompleted records qty units of w delivered to staging. When every
// unit has been staged the order moves picked -> staged and true is returned.
// Units of a cancelled order still on a cart are staged and the order stays
// cancelled; its last delivery releases it from agentID.
func (d *Dispatcher) ReportCompleted(w *WorkOrder, agentID string, qty int, now float64) (bool, error) {
	if err := d.owned(w, agentID); err != nil {
		return false, err
	}
	if w.QtyStaged+qty > w.QtyInitial-w.QtyRemaining {
		return false, fmt.Errorf("%w: %s stages %d units of %s but only %d were picked",
			ErrInvalidAssignment, agentID, w.QtyStaged+qty, w.ID, w.QtyInitial-w.QtyRemaining)
	}
	w.QtyStaged += qty
	if w.Status == StatusCancelled {
		if w.QtyStaged == w.QtyInitial-w.QtyRemaining {
			w.AssignedTo = ""
		}
		return false, nil
	}
	if w.Status != StatusPicked || w.QtyStaged < w.QtyInitial {
		return false, nil
	}
	if err := w.setStatus(StatusStaged); err != nil {
		return false, err
	}
	w.CompletedAt = now
	return true, nil
}

// Release hands an assigned order back to the pool without counting a failure.
func (d *Dispatcher) Release(w *WorkOrder, agentID string) error {
	if err := d.owned(w, agentID); err != nil {
		return err
	}
	if err := w.setStatus(StatusPending); err != nil {
		return err
	}
	w.AssignedTo = ""
	d.recordRelease(w, agentID, trace.ReleaseBlocked)
	return nil
}

// ReportPathFailure counts a NoPath failure against w. The order returns to
// pending, or is cancelled once the failure threshold is reached or part of
// it has been picked. holding means agentID still carries picked units of w:
// the order stays attributed to it until they are unloaded.
func (d *Dispatcher) ReportPathFailure(w *WorkOrder, agentID string, holding bool) (cancelled bool, err error) {
	if err := d.owned(w, agentID); err != nil {
		return false, err
	}
	w.pathFailures++
	if w.pathFailures >= d.maxFailures || w.Status != StatusAssigned {
		if err := w.setStatus(StatusCancelled); err != nil {
			return false, err
		}
		if !holding {
			w.AssignedTo = ""
		}
		d.recordRelease(w, agentID, trace.ReleaseCancelled)
		return true, nil
	}
	if err := w.setStatus(StatusPending); err != nil {
		return false, err
	}
	w.AssignedTo = ""
	d.recordRelease(w, agentID, trace.ReleaseNoPath)
	return false, nil
}

// Drained reports whether every work order is staged or cancelled.
func (d *Dispatcher) Drained() bool {
	for _, w := range d.plan {
		if !w.Status.Terminal() {
			return false
		}
	}
	return true
}

// Count returns how many orders are in status s.
func (d *Dispatcher) Count(s WOStatus) int {
	n := 0
	for _, w := range d.plan {
		if w.Status == s {
			n++
		}
	}
	return n
}

// Plan returns the orders in sequence order. Callers must not mutate them.
func (d *Dispatcher) Plan() []*WorkOrder { return d.plan }

func (d *Dispatcher) Get(id string) (*WorkOrder, bool) {
	w, ok := d.byID[id]
	return w, ok
}
