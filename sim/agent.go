package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
	"github.com/warehouse-sim/warehouse-sim/sim/pathfind"
)

// AgentKind is the equipment class of an agent; work orders require one.
type AgentKind string

const (
	GroundOperator AgentKind = "GroundOperator"
	Forklift       AgentKind = "Forklift"
)

// ParseAgentKind accepts the canonical names plus the short forms "ground" and "forklift".
func ParseAgentKind(s string) (AgentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "groundoperator", "ground", "ground_operator":
		return GroundOperator, nil
	case "forklift":
		return Forklift, nil
	}
	return "", fmt.Errorf("unknown agent kind %q", s)
}

// defaults returns speed in cells per second and capacity in units.
func (k AgentKind) defaults() (float64, int) {
	if k == Forklift {
		return 8, 50
	}
	return 10, 20
}

// AgentState is the per-agent state machine position.
type AgentState string

const (
	StateIdle      AgentState = "idle"
	StateMoving    AgentState = "moving"
	StatePicking   AgentState = "picking"
	StateLifting   AgentState = "lifting"
	StateUnloading AgentState = "unloading"
)

// Item is a quantity of one work order's sku on an agent's cart.
type Item struct {
	WorkOrderID string
	SKU         string
	Qty         int
}

// Agent is the observable part of a mobile agent.
type Agent struct {
	ID           string
	Kind         AgentKind
	Speed        float64 // cells per second
	Capacity     int
	WorkAreas    []string
	AreaPriority map[string]int

	Position    layout.Point
	CurrentCell layout.Cell
	State       AgentState
	Carrying    []Item
	// Tour holds assigned orders not yet fully picked; the head is the current target.
	Tour       []*WorkOrder
	Route      []layout.Cell
	TourLength float64 // pixels travelled between cell centres

	// declined is an order this agent just abandoned; its next assignment
	// request skips it so a head-on pair swaps orders instead of retrying.
	declined string
}

// Load is the number of units on the cart.
func (a *Agent) Load() int {
	n := 0
	for _, it := range a.Carrying {
		n += it.Qty
	}
	return n
}

// MayEnter reports whether the agent is permitted in a work area.
func (a *Agent) MayEnter(area string) bool {
	if area == "" || len(a.WorkAreas) == 0 {
		return true
	}
	for _, w := range a.WorkAreas {
		if w == area {
			return true
		}
	}
	return false
}

func (a *Agent) priorityOf(area string) int {
	if p, ok := a.AreaPriority[area]; ok {
		return p
	}
	return math.MaxInt - 1
}

type legKind int

const (
	legNone legKind = iota
	legPick
	legStaging
	legPark // clearing a cell another agent is heading for
)

// holdAction is what happens when a timed state runs out.
type holdAction int

const (
	actNone holdAction = iota
	actBeginPick
	actPickDone
	actAfterPick
	actBeginUnload
	actUnloadDone
)

// AgentRuntime drives one agent's state machine, one decision per tick.
type AgentRuntime struct {
	*Agent
	sim *Simulator

	leg      legKind
	goal     layout.Cell
	routeIdx int
	progress float64 // cells travelled along the current segment
	blocked  int     // consecutive failed reservation attempts
	cooldown int     // idle ticks to skip after a path failure

	staging    int // tour destination; 0 until the first pick
	tourOrders int // orders accepted since the cart was last empty
	holdTicks  int
	action    holdAction
	pickQty   int
}

// Step runs the agent's behaviour for the current tick.
func (r *AgentRuntime) Step() {
	switch r.State {
	case StateIdle:
		r.stepIdle()
	case StateMoving:
		r.stepMoving()
	default:
		r.stepHold()
	}
}

func (r *AgentRuntime) stepIdle() {
	if r.cooldown > 0 {
		r.cooldown--
		return
	}
	if len(r.Tour) > 0 {
		r.planPickLeg(r.Tour[0])
		return
	}
	if len(r.Carrying) == 0 {
		r.tourOrders = 0
	}
	if r.mayExtendTour() {
		if wo := r.sim.dispatcher.RequestAssignment(r.Agent, r.staging); wo != nil {
			r.accept(wo)
			return
		}
	}
	if len(r.Carrying) > 0 {
		r.headToStaging()
		return
	}
	if r.sim.wantedBy(r.CurrentCell, r.ID) {
		r.vacate()
	}
}

// vacate moves an idle agent off a cell that another agent needs, to the
// nearest free parking point or else to a free neighbour.
func (r *AgentRuntime) vacate() {
	for _, c := range r.sim.refuges(r.CurrentCell, r.ID) {
		route, ok := r.sim.paths.FindPath(r.CurrentCell, c)
		if !ok {
			continue
		}
		logrus.Debugf("[t=%.1f] %s vacates %s for %s", r.sim.Now(), r.ID, r.CurrentCell, c)
		r.setRoute(legPark, c, route)
		r.State = StateMoving
		r.emitState(nil, "", false)
		return
	}
}

// mayExtendTour reports whether the cart has room and the tour is under the
// per-tour order limit.
func (r *AgentRuntime) mayExtendTour() bool {
	return r.Load() < r.Capacity && r.tourOrders < r.sim.cfg.Dispatch.MaxWOsPerTour
}

func (r *AgentRuntime) accept(wo *WorkOrder) {
	r.tourOrders++
	r.Tour = append(r.Tour, wo)
	route, ok := r.sim.paths.FindPath(r.CurrentCell, wo.Location)
	if !ok {
		r.sim.emit(wo.update())
		r.pathFailed(wo)
		return
	}
	r.setRoute(legPick, wo.Location, route)
	r.State = StateMoving
	r.emitState(wo, "", true)
	r.sim.emit(wo.update())
}

func (r *AgentRuntime) planPickLeg(wo *WorkOrder) {
	route, ok := r.sim.paths.FindPath(r.CurrentCell, wo.Location)
	if !ok {
		r.pathFailed(wo)
		return
	}
	r.setRoute(legPick, wo.Location, route)
	r.State = StateMoving
	r.emitState(wo, "", true)
}

// pathFailed gives wo back to the dispatcher after a NoPath result.
func (r *AgentRuntime) pathFailed(wo *WorkOrder) {
	r.sim.metrics.pathFailure()
	logrus.Warnf("[t=%.1f] %s: no path from %s to %s for %s", r.sim.Now(), r.ID, r.CurrentCell, wo.Location, wo.ID)
	r.dropFromTour(wo)
	r.clearRoute()
	r.State = StateIdle
	r.emitState(wo, eventlog.NotePathFail, false)
	r.sim.progressed()
	cancelled, err := r.sim.dispatcher.ReportPathFailure(wo, r.ID, r.carries(wo))
	if err != nil {
		r.sim.recover(err)
		return
	}
	if cancelled {
		r.sim.metrics.cancelled()
		logrus.Warnf("[t=%.1f] %s cancelled after %d path failures", r.sim.Now(), wo.ID, wo.pathFailures)
	}
	r.sim.emit(wo.update())
	r.cooldown = 1
}

func (r *AgentRuntime) stepMoving() {
	dt := r.sim.cfg.Timing.TickSeconds
	budget := r.Speed * dt
	for {
		if r.routeIdx >= len(r.Route)-1 {
			r.arrive()
			return
		}
		if budget <= 1e-9 {
			return
		}
		from, next := r.Route[r.routeIdx], r.Route[r.routeIdx+1]
		if r.progress == 0 {
			if !r.sim.lanes.Move(from, next, r.ID) {
				r.contended(next)
				return
			}
			r.blocked = 0
			r.CurrentCell = next
			r.sim.progressed()
		}
		seg := pathfind.StepCost(from, next)
		a := r.sim.grid.GridToPixel(from)
		b := r.sim.grid.GridToPixel(next)
		if rest := seg - r.progress; budget >= rest-1e-9 {
			budget = math.Max(0, budget-rest)
			r.progress = 0
			r.routeIdx++
			r.TourLength += math.Hypot(b.X-a.X, b.Y-a.Y)
			r.setPosition(b, "arrive")
			r.emitState(nil, "", false)
			continue
		}
		r.progress += budget
		f := r.progress / seg
		r.setPosition(layout.Point{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f}, "interpolate")
		return
	}
}

// contended handles a failed reservation of next: wait one tick, then
// replan around next, then give up the leg.
func (r *AgentRuntime) contended(next layout.Cell) {
	r.blocked++
	r.sim.metrics.contention()
	logrus.Debugf("[t=%.1f] %s blocked at %s by %s (%d)", r.sim.Now(), r.ID, r.CurrentCell, next, r.blocked)
	if r.blocked < 2 {
		return
	}
	avoid := func(c layout.Cell) bool { return c == next }
	if route, ok := r.sim.paths.FindPathAvoiding(r.CurrentCell, r.goal, avoid); ok {
		r.sim.metrics.replan()
		r.setRoute(r.leg, r.goal, route)
		r.emitState(r.target(), eventlog.NoteReplan, false)
		return
	}
	switch r.leg {
	case legPick:
		wo := r.Tour[0]
		if wo.Status != StatusAssigned {
			// part of this order is already on a cart; keep trying
			r.blocked = 0
			return
		}
		r.abandon(wo)
	case legStaging:
		if r.boundStaging() != 0 {
			// the goods must reach this point; wait for the way to clear
			r.blocked = 0
			return
		}
		for _, id := range r.sim.stagingCandidates(r.CurrentCell, 0) {
			if id == r.staging {
				continue
			}
			cell := r.sim.staging[id]
			if route, ok := r.sim.paths.FindPathAvoiding(r.CurrentCell, cell, avoid); ok {
				r.sim.metrics.replan()
				r.staging = id
				r.setRoute(legStaging, cell, route)
				r.emitState(nil, eventlog.NoteReplan, false)
				return
			}
		}
		r.blocked = 0
	}
}

// abandon returns an assigned order to the pool after a failed replan.
func (r *AgentRuntime) abandon(wo *WorkOrder) {
	logrus.Debugf("[t=%.1f] %s abandons %s", r.sim.Now(), r.ID, wo.ID)
	r.dropFromTour(wo)
	r.clearRoute()
	r.State = StateIdle
	r.emitState(wo, eventlog.NoteBlockedAbandon, false)
	if err := r.sim.dispatcher.Release(wo, r.ID); err != nil {
		r.sim.recover(err)
		return
	}
	r.declined = wo.ID
	r.sim.emit(wo.update())
}

func (r *AgentRuntime) arrive() {
	leg := r.leg
	r.clearRoute()
	switch leg {
	case legPick:
		if r.Kind == Forklift {
			r.hold(StateLifting, r.sim.cfg.Timing.LiftSeconds, actBeginPick, r.Tour[0])
			return
		}
		r.beginPick()
	case legStaging:
		if r.Kind == Forklift {
			r.hold(StateLifting, r.sim.cfg.Timing.LiftSeconds, actBeginUnload, nil)
			return
		}
		r.beginUnload()
	default:
		r.State = StateIdle
		r.emitState(nil, "", false)
	}
}

func (r *AgentRuntime) beginPick() {
	wo := r.Tour[0]
	if r.CurrentCell != wo.Location {
		// picking only happens on the order's cell
		r.planPickLeg(wo)
		return
	}
	tm := r.sim.cfg.Timing
	qty := min(wo.QtyRemaining, r.Capacity-r.Load())
	r.pickQty = max(qty, 0)
	d := tm.PickBaseSeconds + tm.PickPerUnitSeconds*float64(r.pickQty)
	if tm.PickJitterSeconds > 0 {
		d += r.sim.rng.ForSubsystem(SubsystemKernel).Float64() * tm.PickJitterSeconds
	}
	r.hold(StatePicking, d, actPickDone, wo)
	if wo.Status == StatusAssigned {
		if err := r.sim.dispatcher.StartPicking(wo, r.ID); err != nil {
			r.sim.recover(err)
			return
		}
		r.sim.emit(wo.update())
	}
}

func (r *AgentRuntime) pickDone() {
	wo := r.Tour[0]
	if err := r.sim.dispatcher.RecordPick(wo, r.ID, r.pickQty); err != nil {
		r.sim.recover(err)
		return
	}
	r.addCargo(wo, r.pickQty)
	if r.staging == 0 {
		r.staging = r.sim.stagingFor(wo)
	}
	r.sim.emit(wo.update())
	r.sim.emit(&eventlog.TaskCompletedPayload{AgentID: r.ID, TaskID: wo.ID})
	if wo.QtyRemaining == 0 {
		r.Tour = r.Tour[1:]
	}
	if r.Kind == Forklift {
		r.hold(StateLifting, r.sim.cfg.Timing.LiftSeconds, actAfterPick, nil)
		return
	}
	r.afterPick()
}

func (r *AgentRuntime) afterPick() {
	if len(r.Tour) == 0 && r.mayExtendTour() {
		if wo := r.sim.dispatcher.RequestAssignment(r.Agent, r.staging); wo != nil {
			r.accept(wo)
			return
		}
	}
	r.headToStaging()
}

// headToStaging routes the cart to its next unload point. When a carried
// order is bound to a staging point only that point is tried; otherwise the
// tour destination comes first and any other reachable point will do.
func (r *AgentRuntime) headToStaging() {
	var candidates []int
	if bound := r.boundStaging(); bound != 0 {
		candidates = []int{bound}
	} else {
		if r.staging == 0 && len(r.Carrying) > 0 {
			if wo, ok := r.sim.dispatcher.Get(r.Carrying[0].WorkOrderID); ok {
				r.staging = r.sim.stagingFor(wo)
			}
		}
		candidates = r.sim.stagingCandidates(r.CurrentCell, r.staging)
	}
	for _, id := range candidates {
		cell := r.sim.staging[id]
		route, ok := r.sim.paths.FindPath(r.CurrentCell, cell)
		if !ok {
			continue
		}
		r.staging = id
		r.setRoute(legStaging, cell, route)
		r.State = StateMoving
		r.emitState(nil, "", true)
		return
	}
	r.sim.metrics.pathFailure()
	logrus.Warnf("[t=%.1f] %s: no staging point reachable from %s", r.sim.Now(), r.ID, r.CurrentCell)
	r.clearRoute()
	r.State = StateIdle
	r.emitState(nil, eventlog.NotePathFail, false)
	r.cooldown = 1
}

func (r *AgentRuntime) beginUnload() {
	r.hold(StateUnloading, r.sim.cfg.Timing.UnloadSeconds, actUnloadDone, nil)
}

// unloadDone transfers the cart to the current staging point. Goods bound to
// another point stay on the cart and the tour continues there.
func (r *AgentRuntime) unloadDone() {
	now := r.sim.Now()
	var rest []Item
	for _, it := range r.Carrying {
		wo, ok := r.sim.dispatcher.Get(it.WorkOrderID)
		if !ok {
			r.sim.recover(fmt.Errorf("%w: %s carries unknown order %s", ErrInvalidAssignment, r.ID, it.WorkOrderID))
			continue
		}
		if _, bound := r.sim.staging[wo.StagingID]; bound && wo.StagingID != r.staging {
			rest = append(rest, it)
			continue
		}
		staged, err := r.sim.dispatcher.ReportCompleted(wo, r.ID, it.Qty, now)
		if err != nil {
			r.sim.recover(err)
			continue
		}
		r.sim.stage(r.staging, wo.ID, it.Qty)
		u := wo.update()
		u.StagingID = r.staging
		u.QtyStaged = wo.QtyStaged
		r.sim.emit(u)
		if staged {
			r.sim.metrics.staged(wo.QtyInitial)
			r.sim.emit(&eventlog.WorkOrderCompletedPayload{AgentID: r.ID, WorkOrderID: wo.ID, StagingID: r.staging})
		}
	}
	r.Carrying = rest
	r.staging = 0
	if len(rest) > 0 {
		r.headToStaging()
		return
	}
	r.State = StateIdle
	r.emitState(nil, "", false)
}

// hold enters a timed state. It lasts at least one tick.
func (r *AgentRuntime) hold(state AgentState, seconds float64, next holdAction, wo *WorkOrder) {
	r.State = state
	r.holdTicks = max(1, ticksFor(seconds, r.sim.cfg.Timing.TickSeconds))
	r.action = next
	r.emitState(wo, "", false)
}

func (r *AgentRuntime) stepHold() {
	r.sim.progressed()
	r.holdTicks--
	if r.holdTicks > 0 {
		return
	}
	act := r.action
	r.action = actNone
	switch act {
	case actBeginPick:
		r.beginPick()
	case actPickDone:
		r.pickDone()
	case actAfterPick:
		r.afterPick()
	case actBeginUnload:
		r.beginUnload()
	case actUnloadDone:
		r.unloadDone()
	default:
		r.State = StateIdle
		r.emitState(nil, "", false)
	}
}

func (r *AgentRuntime) addCargo(wo *WorkOrder, qty int) {
	for i := range r.Carrying {
		if r.Carrying[i].WorkOrderID == wo.ID {
			r.Carrying[i].Qty += qty
			return
		}
	}
	r.Carrying = append(r.Carrying, Item{WorkOrderID: wo.ID, SKU: wo.SKU, Qty: qty})
}

// boundStaging returns the nearest staging point a carried order is bound
// to, or 0 when nothing on the cart is bound.
func (r *AgentRuntime) boundStaging() int {
	best, bestD := 0, math.Inf(1)
	for _, it := range r.Carrying {
		wo, ok := r.sim.dispatcher.Get(it.WorkOrderID)
		if !ok {
			continue
		}
		cell, ok := r.sim.staging[wo.StagingID]
		if !ok {
			continue
		}
		if d := pathfind.Octile(r.CurrentCell, cell); d < bestD || (d == bestD && wo.StagingID < best) {
			best, bestD = wo.StagingID, d
		}
	}
	return best
}

func (r *AgentRuntime) carries(wo *WorkOrder) bool {
	for _, it := range r.Carrying {
		if it.WorkOrderID == wo.ID && it.Qty > 0 {
			return true
		}
	}
	return false
}

func (r *AgentRuntime) dropFromTour(wo *WorkOrder) {
	out := r.Tour[:0]
	for _, w := range r.Tour {
		if w != wo {
			out = append(out, w)
		}
	}
	r.Tour = out
}

func (r *AgentRuntime) target() *WorkOrder {
	if r.leg == legPick && len(r.Tour) > 0 {
		return r.Tour[0]
	}
	return nil
}

func (r *AgentRuntime) setRoute(leg legKind, goal layout.Cell, route []layout.Cell) {
	r.leg = leg
	r.goal = goal
	r.Route = route
	r.routeIdx = 0
	r.progress = 0
	r.blocked = 0
}

func (r *AgentRuntime) clearRoute() {
	r.leg = legNone
	r.Route = nil
	r.routeIdx = 0
	r.progress = 0
	r.blocked = 0
}

func (r *AgentRuntime) setPosition(p layout.Point, context string) {
	r.Position = r.sim.bounds.ValidateAndClamp(p, context, r.ID)
}

// emitState writes an agent_state record for the current state. tour adds
// the tour snapshot, used when a new leg starts.
func (r *AgentRuntime) emitState(wo *WorkOrder, note string, tour bool) {
	p := &eventlog.AgentStatePayload{
		AgentID:   r.ID,
		AgentType: string(r.Kind),
		Status:    string(r.State),
		Position:  [2]float64{r.Position.X, r.Position.Y},
		Note:      note,
	}
	if wo != nil {
		p.WorkOrderID = wo.ID
	}
	if tour && len(r.Tour) > 0 {
		p.TourDetails = make([]eventlog.WorkOrderSnapshot, len(r.Tour))
		for i, w := range r.Tour {
			p.TourDetails[i] = w.Snapshot()
		}
	}
	r.sim.emit(p)
}
