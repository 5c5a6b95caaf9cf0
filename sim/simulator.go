package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/lanes"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
	"github.com/warehouse-sim/warehouse-sim/sim/pathfind"
	"github.com/warehouse-sim/warehouse-sim/sim/trace"
)

const (
	endDrained  = eventlog.ReasonPlanDrained
	endDeadline = eventlog.ReasonDeadline
	endStopped  = eventlog.ReasonStopped
	endStalled  = eventlog.ReasonStalled
)

const maxPlacementDraws = 100

// Simulator is the simulation kernel: it owns the clock, the event heap, and
// every piece of mutable run state. All mutation happens on the goroutine
// that calls Run; RequestStop is the only method safe to call concurrently.
type Simulator struct {
	// Clock is the index of the tick being executed. Virtual time is Clock·Δt.
	Clock int64

	cfg        Config
	grid       *layout.Layout
	paths      *pathfind.Pathfinder
	lanes      *lanes.Reservations
	dispatcher *Dispatcher
	agents     []*AgentRuntime // sorted by ID; this is the per-tick update order
	staging    map[int]layout.Cell
	stagingIDs []int
	contents   map[int]map[string]int // staging id → work order id → units
	rng        *PartitionedRNG
	bounds     *BoundsChecker
	metrics    *Metrics
	log        *eventlog.Log
	queue      *EventHeap

	ctx      context.Context
	stop     atomic.Bool
	err      error
	ended    bool
	hasRun   bool
	reason   string
	lastTick time.Time

	lastProgress int64 // last tick an agent moved, worked, or failed a path
	stallTicks   int64 // 0 = stall detection off
}

// NewSimulator validates the plan and configuration, places the agents, and
// returns a kernel ready to Run. A nil log discards records.
func NewSimulator(grid *layout.Layout, orders []*WorkOrder, cfg Config, log *eventlog.Log) (*Simulator, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: nil layout", ErrInvalidConfig)
	}
	if err := cfg.Timing.validate(); err != nil {
		return nil, err
	}
	plan, err := PreparePlan(grid, orders)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(plan, cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	cfg.Dispatch = dispatcher.Config()
	if cfg.Kernel.Until < 0 || math.IsNaN(cfg.Kernel.Until) {
		return nil, fmt.Errorf("%w: until must be non-negative, got %g", ErrInvalidConfig, cfg.Kernel.Until)
	}
	if math.IsNaN(cfg.Kernel.StallSeconds) {
		return nil, fmt.Errorf("%w: stall timeout is NaN", ErrInvalidConfig)
	}
	if !trace.IsValidTraceLevel(string(cfg.Kernel.Trace.Level)) || cfg.Kernel.Trace.CounterfactualK < 0 {
		return nil, fmt.Errorf("%w: trace level %q, k=%d", ErrInvalidConfig, cfg.Kernel.Trace.Level, cfg.Kernel.Trace.CounterfactualK)
	}
	if cfg.Kernel.RunID == "" {
		cfg.Kernel.RunID = uuid.NewString()
	}
	if log == nil {
		log = eventlog.NewLog()
	}

	metrics := NewMetrics()
	s := &Simulator{
		cfg:        cfg,
		grid:       grid,
		paths:      pathfind.New(grid),
		lanes:      lanes.New(),
		dispatcher: dispatcher,
		contents:   make(map[int]map[string]int),
		rng:        NewPartitionedRNG(NewSimulationKey(cfg.Kernel.Seed)),
		bounds:     NewBoundsChecker(grid, metrics),
		metrics:    metrics,
		log:        log,
		queue:      NewEventHeap(),
		stallTicks: cfg.Kernel.stallTicks(cfg.Timing.TickSeconds),
	}
	if cfg.Kernel.Trace.Enabled() {
		dispatcher.trace = trace.NewSimulationTrace(cfg.Kernel.Trace)
		dispatcher.now = func() int64 { return s.Clock }
	}
	if err := s.initStaging(); err != nil {
		return nil, err
	}
	for _, w := range plan {
		if w.StagingID != 0 {
			if _, ok := s.staging[w.StagingID]; !ok {
				return nil, fmt.Errorf("%w: %s targets unknown staging point %d", ErrMalformedPlan, w.ID, w.StagingID)
			}
		}
	}
	if err := s.placeAgents(); err != nil {
		return nil, err
	}
	s.warnUnservable()
	return s, nil
}

func (s *Simulator) initStaging() error {
	src := s.cfg.Staging
	if len(src) == 0 {
		src = s.grid.StagingPoints()
	}
	if len(src) == 0 {
		src = layout.DefaultStaging(s.grid)
	}
	if len(src) == 0 {
		return fmt.Errorf("%w: no staging point available", ErrInvalidConfig)
	}
	s.staging = make(map[int]layout.Cell, len(src))
	for id, c := range src {
		if id <= 0 {
			return fmt.Errorf("%w: staging id %d must be positive", ErrInvalidConfig, id)
		}
		if !s.grid.IsWalkable(c) {
			return fmt.Errorf("%w: staging point %d at %s is not walkable", ErrInvalidConfig, id, c)
		}
		s.staging[id] = c
		s.stagingIDs = append(s.stagingIDs, id)
	}
	sort.Ints(s.stagingIDs)
	return nil
}

// placeAgents puts agents with an explicit start first, then fills parking
// points in order, then draws random walkable cells from the placement RNG.
func (s *Simulator) placeAgents() error {
	specs := append([]AgentSpec(nil), s.cfg.Agents...)
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })

	seen := make(map[string]bool, len(specs))
	s.agents = make([]*AgentRuntime, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			return fmt.Errorf("%w: agent %d has no id", ErrInvalidConfig, i)
		}
		if seen[spec.ID] {
			return fmt.Errorf("%w: duplicate agent id %q", ErrInvalidConfig, spec.ID)
		}
		seen[spec.ID] = true
		kind, err := ParseAgentKind(string(spec.Kind))
		if err != nil {
			return fmt.Errorf("%w: agent %s: %v", ErrInvalidConfig, spec.ID, err)
		}
		speed, capacity := kind.defaults()
		if spec.Speed < 0 || spec.Capacity < 0 || math.IsNaN(spec.Speed) {
			return fmt.Errorf("%w: agent %s has negative speed or capacity", ErrInvalidConfig, spec.ID)
		}
		if spec.Speed > 0 {
			speed = spec.Speed
		}
		if spec.Capacity > 0 {
			capacity = spec.Capacity
		}
		s.agents[i] = &AgentRuntime{
			Agent: &Agent{
				ID:           spec.ID,
				Kind:         kind,
				Speed:        speed,
				Capacity:     capacity,
				WorkAreas:    append([]string(nil), spec.WorkAreas...),
				AreaPriority: spec.AreaPriority,
				State:        StateIdle,
			},
			sim: s,
		}
	}

	for i, spec := range specs {
		if spec.Start == nil {
			continue
		}
		c := *spec.Start
		if !s.grid.IsWalkable(c) {
			return fmt.Errorf("%w: agent %s starts on non-walkable cell %s", ErrInvalidConfig, spec.ID, c)
		}
		if !s.lanes.TryAcquire(c, spec.ID) {
			holder, _ := s.lanes.Holder(c)
			return fmt.Errorf("%w: agent %s starts on %s, already taken by %s", ErrInvalidConfig, spec.ID, c, holder)
		}
		s.agents[i].CurrentCell = c
	}

	parking := s.grid.ParkingPoints()
	rng := s.rng.ForSubsystem(SubsystemPlacement)
	for i, spec := range specs {
		if spec.Start != nil {
			continue
		}
		c, ok := s.freeCell(spec.ID, &parking, rng)
		if !ok {
			return fmt.Errorf("%w: no free walkable cell for agent %s", ErrInvalidConfig, spec.ID)
		}
		s.agents[i].CurrentCell = c
	}

	for _, r := range s.agents {
		r.Position = s.grid.GridToPixel(r.CurrentCell)
	}
	return nil
}

func (s *Simulator) freeCell(agent string, parking *[]layout.Cell, rng *rand.Rand) (layout.Cell, bool) {
	for len(*parking) > 0 {
		c := (*parking)[0]
		*parking = (*parking)[1:]
		if s.lanes.TryAcquire(c, agent) {
			return c, true
		}
	}
	for i := 0; i < maxPlacementDraws; i++ {
		c, ok := s.grid.RandomWalkable(rng)
		if !ok {
			break
		}
		if s.lanes.TryAcquire(c, agent) {
			return c, true
		}
	}
	for y := 0; y < s.grid.Height(); y++ {
		for x := 0; x < s.grid.Width(); x++ {
			c := layout.Cell{X: x, Y: y}
			if s.grid.IsWalkable(c) && s.lanes.TryAcquire(c, agent) {
				return c, true
			}
		}
	}
	return layout.Cell{}, false
}

// warnUnservable logs orders no agent could ever take. They stay pending and
// keep the run from draining.
func (s *Simulator) warnUnservable() {
	for _, w := range s.dispatcher.plan {
		if w.Status != StatusPending {
			continue
		}
		served := false
		for _, r := range s.agents {
			if r.Kind == w.EquipmentRequired && r.MayEnter(w.WorkArea) {
				served = true
				break
			}
		}
		if !served {
			logrus.Warnf("%s needs a %s in area %q but no agent qualifies; the run will not drain on its own", w.ID, w.EquipmentRequired, w.WorkArea)
		}
	}
}

// Schedule pushes an event onto the kernel's heap.
func (s *Simulator) Schedule(ev Event) {
	s.queue.Schedule(ev)
}

// Now returns the virtual time in seconds, rounded to the microsecond so
// that repeated runs print identical timestamps.
func (s *Simulator) Now() float64 {
	return math.Round(float64(s.Clock)*s.cfg.Timing.TickSeconds*1e6) / 1e6
}

// RequestStop asks the kernel to end at the start of the next tick. Safe to
// call from any goroutine.
func (s *Simulator) RequestStop() {
	s.stop.Store(true)
}

func (s *Simulator) stopRequested() bool {
	if s.stop.Load() {
		return true
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		return true
	}
	return false
}

// Run executes the simulation until the plan drains, the deadline passes, or
// a stop is requested. The returned error is the first fatal error, if any;
// SIMULATION_END is written in every case.
func (s *Simulator) Run(ctx context.Context) error {
	if s.hasRun {
		return errors.New("simulator: Run called more than once")
	}
	s.hasRun = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx

	s.emitStart()
	s.Schedule(NewTickEvent(0))
	if s.cfg.Kernel.Until > 0 {
		s.Schedule(NewDeadlineEvent(int64(ticksFor(s.cfg.Kernel.Until, s.cfg.Timing.TickSeconds))))
	}
	logrus.Infof("[t=%.1f] simulation %s started: %d agents, %d work orders",
		s.Now(), s.cfg.Kernel.RunID, len(s.agents), len(s.dispatcher.plan))

	for !s.ended {
		ev := s.queue.PopNext()
		if ev == nil {
			s.end(endStopped)
			break
		}
		if ev.Timestamp() < s.Clock {
			panic(fmt.Sprintf("kernel clock moved backwards: %d -> %d", s.Clock, ev.Timestamp()))
		}
		s.Clock = ev.Timestamp()
		logrus.Debugf("[tick %07d] Executing %s", s.Clock, ev.Type())
		ev.Execute(s)
	}
	logrus.Infof("[t=%.1f] simulation ended (%s): %d/%d work orders staged",
		s.Now(), s.reason, s.metrics.WorkOrdersStaged, len(s.dispatcher.plan))
	return s.err
}

func (s *Simulator) emitStart() {
	rc := eventlog.RunConfig{
		RunID:            s.cfg.Kernel.RunID,
		Seed:             s.cfg.Kernel.Seed,
		TickSeconds:      s.cfg.Timing.TickSeconds,
		Width:            s.grid.Width(),
		Height:           s.grid.Height(),
		TileWidth:        s.grid.TileWidth(),
		TileHeight:       s.grid.TileHeight(),
		DispatchStrategy: s.cfg.Dispatch.Strategy,
		Staging:          make(map[int][2]int, len(s.staging)),
	}
	for id, c := range s.staging {
		rc.Staging[id] = [2]int{c.X, c.Y}
	}
	for _, r := range s.agents {
		rc.Agents = append(rc.Agents, eventlog.AgentInit{
			ID:       r.ID,
			Type:     string(r.Kind),
			Cell:     [2]int{r.CurrentCell.X, r.CurrentCell.Y},
			Position: [2]float64{r.Position.X, r.Position.Y},
			Capacity: r.Capacity,
		})
	}
	snaps := make([]eventlog.WorkOrderSnapshot, len(s.dispatcher.plan))
	for i, w := range s.dispatcher.plan {
		snaps[i] = w.Snapshot()
	}
	s.emit(&eventlog.StartPayload{
		Config:            rc,
		TotalWorkOrders:   len(snaps),
		InitialWorkOrders: snaps,
	})
}

// step pumps every agent once in ID order, then publishes the tick's records.
func (s *Simulator) step() {
	busy := 0
	for _, r := range s.agents {
		r.Step()
		if s.err != nil {
			return
		}
		if r.State != StateIdle {
			busy++
		}
	}
	s.metrics.tick(s.Now(), busy)
	if err := s.log.Flush(); err != nil {
		s.recover(err)
	}
}

func (s *Simulator) render() {
	if hook := s.cfg.Kernel.RenderHook; hook != nil {
		hook(s.Snapshot())
	}
}

// pace sleeps so that visual mode advances RealTimeFactor virtual seconds per
// wall second. Headless runs never sleep.
func (s *Simulator) pace() {
	f := s.cfg.Kernel.RealTimeFactor
	if f <= 0 {
		return
	}
	want := time.Duration(s.cfg.Timing.TickSeconds / f * float64(time.Second))
	if !s.lastTick.IsZero() {
		if d := want - time.Since(s.lastTick); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
			}
		}
	}
	s.lastTick = time.Now()
}

// drained reports whether every order is terminal and every agent is idle and empty.
// An agent still moving to a parking refuge (legPark) counts as idle: the
// move only clears a cell and carries no work.
func (s *Simulator) drained() bool {
	if !s.dispatcher.Drained() {
		return false
	}
	for _, r := range s.agents {
		if len(r.Carrying) > 0 || len(r.Tour) > 0 {
			return false
		}
		if r.State != StateIdle && r.leg != legPark {
			return false
		}
	}
	return true
}

// wantedBy reports whether an agent other than self is routed to or through
// c. Agents on their way to a refuge do not count.
func (s *Simulator) wantedBy(c layout.Cell, self string) bool {
	for _, r := range s.agents {
		if r.ID == self || r.State != StateMoving || r.leg == legPark {
			continue
		}
		if r.goal == c {
			return true
		}
		for i := r.routeIdx + 1; i < len(r.Route); i++ {
			if r.Route[i] == c {
				return true
			}
		}
	}
	return false
}

func (s *Simulator) progressed() { s.lastProgress = s.Clock }

// stalled reports whether nothing has happened for the stall timeout: every
// agent is idle or blocked and no path failure has been reported.
func (s *Simulator) stalled() bool {
	return s.stallTicks > 0 && s.Clock-s.lastProgress >= s.stallTicks
}

// refuges lists cells an idle agent at cur may move to: free parking points
// by distance, then free neighbours. Staging points and cells other agents
// are routed to are excluded.
func (s *Simulator) refuges(cur layout.Cell, self string) []layout.Cell {
	usable := func(c layout.Cell) bool {
		if c == cur || !s.grid.IsWalkable(c) || s.wantedBy(c, self) {
			return false
		}
		if _, held := s.lanes.Holder(c); held {
			return false
		}
		for _, st := range s.staging {
			if st == c {
				return false
			}
		}
		return true
	}
	var parks []layout.Cell
	for _, c := range s.grid.ParkingPoints() {
		if usable(c) {
			parks = append(parks, c)
		}
	}
	sort.SliceStable(parks, func(i, j int) bool {
		return pathfind.Octile(cur, parks[i]) < pathfind.Octile(cur, parks[j])
	})
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if c := (layout.Cell{X: cur.X + dx, Y: cur.Y + dy}); usable(c) {
				parks = append(parks, c)
			}
		}
	}
	return parks
}

// end writes SIMULATION_END exactly once.
func (s *Simulator) end(reason string) {
	if s.ended {
		return
	}
	s.ended = true
	s.reason = reason
	sum := s.Summary()
	s.emit(&eventlog.EndPayload{
		TotalCompleted: sum.WorkOrdersStaged,
		Reason:         reason,
		Summary:        &sum,
	})
	if err := s.log.Flush(); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *Simulator) emit(p eventlog.Payload) {
	if err := s.log.Append(eventlog.New(s.Now(), p)); err != nil {
		s.recover(err)
	}
}

// recover decides whether err is fatal. An InvalidAssignment is logged and
// ignored unless Debug is set; anything else stops the run.
func (s *Simulator) recover(err error) {
	if errors.Is(err, ErrInvalidAssignment) && !s.cfg.Kernel.Debug {
		logrus.Warnf("[t=%.1f] ignored: %v", s.Now(), err)
		return
	}
	logrus.Errorf("[t=%.1f] fatal: %v", s.Now(), err)
	if s.err == nil {
		s.err = err
	}
}

// stagingFor is wo's delivery point: its own staging id, or the nearest one.
func (s *Simulator) stagingFor(wo *WorkOrder) int {
	if _, ok := s.staging[wo.StagingID]; ok {
		return wo.StagingID
	}
	best, bestD := 0, math.Inf(1)
	for _, id := range s.stagingIDs {
		if d := pathfind.Octile(wo.Location, s.staging[id]); d < bestD {
			best, bestD = id, d
		}
	}
	return best
}

// stagingCandidates lists staging ids to try from cur: preferred first, then
// the rest by octile distance with ties to the lower id.
func (s *Simulator) stagingCandidates(cur layout.Cell, preferred int) []int {
	out := make([]int, 0, len(s.stagingIDs))
	if _, ok := s.staging[preferred]; ok {
		out = append(out, preferred)
	}
	rest := make([]int, 0, len(s.stagingIDs))
	for _, id := range s.stagingIDs {
		if id != preferred {
			rest = append(rest, id)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return pathfind.Octile(cur, s.staging[rest[i]]) < pathfind.Octile(cur, s.staging[rest[j]])
	})
	return append(out, rest...)
}

func (s *Simulator) stage(id int, woID string, qty int) {
	m := s.contents[id]
	if m == nil {
		m = make(map[string]int)
		s.contents[id] = m
	}
	m[woID] += qty
}

// Summary returns the run counters in END record form.
func (s *Simulator) Summary() eventlog.Summary {
	return s.metrics.Summary(len(s.dispatcher.plan))
}

// Metrics exposes the run's counters and Prometheus registry.
func (s *Simulator) Metrics() *Metrics { return s.metrics }

// Trace returns the dispatch decision trace, or nil when tracing is off.
func (s *Simulator) Trace() *trace.SimulationTrace { return s.dispatcher.trace }

// Dispatcher exposes the plan for inspection after or during a run.
func (s *Simulator) Dispatcher() *Dispatcher { return s.dispatcher }

// Log returns the event log records are appended to.
func (s *Simulator) Log() *eventlog.Log { return s.log }

// EndReason is empty until the run ends.
func (s *Simulator) EndReason() string { return s.reason }

// Config returns the normalized configuration, including the generated run id.
func (s *Simulator) Config() Config { return s.cfg }

// Agent returns the runtime state of agent id.
func (s *Simulator) Agent(id string) (*Agent, bool) {
	for _, r := range s.agents {
		if r.ID == id {
			return r.Agent, true
		}
	}
	return nil, false
}
