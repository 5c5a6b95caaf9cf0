package sim

import (
	"fmt"
	"math"

	"github.com/warehouse-sim/warehouse-sim/sim/layout"
	"github.com/warehouse-sim/warehouse-sim/sim/trace"
)

// TimingConfig groups virtual-time durations. All values are seconds.
type TimingConfig struct {
	TickSeconds        float64 // Δt of one kernel tick (default 0.1)
	PickBaseSeconds    float64 // fixed part of a pick (default 5)
	PickPerUnitSeconds float64 // added per unit picked (default 0)
	PickJitterSeconds  float64 // uniform [0, jitter) added per pick, drawn from the seeded RNG
	UnloadSeconds      float64 // unloading at staging (default 5)
	LiftSeconds        float64 // forklift fork raise or lower (default 2)
}

// DispatchConfig groups work assignment parameters.
type DispatchConfig struct {
	Strategy        string // one of the Strategy* names (default "plan")
	MaxPathFailures int    // NoPath failures before a work order is cancelled (default 3)
	// TourType is "mixed" (default): one tour may carry orders bound to
	// different staging points and unloads at each. "simple" keeps every
	// order of a tour bound to one staging point.
	TourType      string
	MaxWOsPerTour int // orders accepted per tour (default 20)
}

// KernelConfig groups run control parameters.
type KernelConfig struct {
	Seed  int64
	Until float64 // deadline in virtual seconds; 0 = run until the plan drains
	RunID string  // carried in SIMULATION_START; a random uuid when empty
	// Debug makes InvalidAssignment fatal instead of logged and ignored.
	Debug bool
	// RenderHook, when set, observes a Snapshot after every tick (visual mode).
	RenderHook func(Snapshot)
	// RealTimeFactor paces visual mode: virtual seconds per wall second. 0 = unpaced.
	RealTimeFactor float64
	// Trace records dispatch decisions when Level is "decisions".
	Trace trace.TraceConfig
	// StallSeconds ends the run with reason "stalled" when no agent has moved,
	// worked, or reported a path failure for this long. 0 = 600 s, negative = never.
	StallSeconds float64
}

// Config bundles everything NewSimulator needs besides the layout and plan.
type Config struct {
	Timing   TimingConfig
	Dispatch DispatchConfig
	Kernel   KernelConfig
	Agents   []AgentSpec
	// Staging overrides the layout's staging points when non-empty.
	Staging map[int]layout.Cell
}

// AgentSpec configures one agent. Zero Speed and Capacity take the kind defaults.
type AgentSpec struct {
	ID        string
	Kind      AgentKind
	Start     *layout.Cell // nil = first free parking point, else a seeded random walkable cell
	Speed     float64      // cells per second
	Capacity  int
	WorkAreas []string // permitted work areas; empty = all
	// AreaPriority ranks work areas for the area-priority strategy (lower first).
	AreaPriority map[string]int
}

const (
	StrategyPlan         = "plan"
	StrategyAreaPriority = "area-priority"
	// StrategyGlobal takes the order with the lowest assignment cost:
	// area-priority penalty plus octile distance from the agent.
	StrategyGlobal  = "global"
	StrategyNearest = "nearest"
	// StrategyFIFO serves the plan strictly in sequence: an agent only gets
	// the earliest pending order of its equipment kind, never a later one.
	StrategyFIFO = "fifo"
)

// Strategies lists every dispatch strategy name.
var Strategies = []string{StrategyPlan, StrategyAreaPriority, StrategyGlobal, StrategyNearest, StrategyFIFO}

const (
	TourMixed  = "mixed"
	TourSimple = "simple"
)

const (
	defaultMaxWOsPerTour = 20
	defaultStallSeconds  = 600
)

// DefaultTiming returns the timing used when a scenario does not override it.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		TickSeconds:     0.1,
		PickBaseSeconds: 5,
		UnloadSeconds:   5,
		LiftSeconds:     2,
	}
}

// DefaultDispatch returns the plan-order strategy with a cancel threshold of
// 3 and mixed tours of up to 20 orders.
func DefaultDispatch() DispatchConfig {
	return DispatchConfig{Strategy: StrategyPlan, MaxPathFailures: 3, TourType: TourMixed, MaxWOsPerTour: defaultMaxWOsPerTour}
}

func (c *TimingConfig) validate() error {
	if c.TickSeconds <= 0 || math.IsNaN(c.TickSeconds) || math.IsInf(c.TickSeconds, 0) {
		return fmt.Errorf("%w: tick must be positive, got %g", ErrInvalidConfig, c.TickSeconds)
	}
	durations := []struct {
		name string
		v    float64
	}{
		{"pick base", c.PickBaseSeconds},
		{"pick per unit", c.PickPerUnitSeconds},
		{"pick jitter", c.PickJitterSeconds},
		{"unload", c.UnloadSeconds},
		{"lift", c.LiftSeconds},
	}
	for _, d := range durations {
		if d.v < 0 || math.IsNaN(d.v) {
			return fmt.Errorf("%w: %s duration must be non-negative, got %g", ErrInvalidConfig, d.name, d.v)
		}
	}
	return nil
}

func (c *DispatchConfig) normalize() error {
	if c.Strategy == "" {
		c.Strategy = StrategyPlan
	}
	known := false
	for _, name := range Strategies {
		known = known || c.Strategy == name
	}
	if !known {
		return fmt.Errorf("%w: unknown dispatch strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.MaxPathFailures <= 0 {
		c.MaxPathFailures = 3
	}
	switch c.TourType {
	case "":
		c.TourType = TourMixed
	case TourMixed, TourSimple:
	default:
		return fmt.Errorf("%w: unknown tour type %q", ErrInvalidConfig, c.TourType)
	}
	if c.MaxWOsPerTour < 0 {
		return fmt.Errorf("%w: max work orders per tour must be non-negative, got %d", ErrInvalidConfig, c.MaxWOsPerTour)
	}
	if c.MaxWOsPerTour == 0 {
		c.MaxWOsPerTour = defaultMaxWOsPerTour
	}
	return nil
}

// stallTicks is the idle run length that ends a run, or 0 when disabled.
func (c *KernelConfig) stallTicks(dt float64) int64 {
	switch {
	case c.StallSeconds < 0:
		return 0
	case c.StallSeconds == 0:
		return int64(ticksFor(defaultStallSeconds, dt))
	}
	return int64(ticksFor(c.StallSeconds, dt))
}

// ticksFor converts a duration to whole ticks, rounding up. Zero stays zero.
func ticksFor(seconds, dt float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds/dt - 1e-9))
}
