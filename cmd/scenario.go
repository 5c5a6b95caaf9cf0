package cmd

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/warehouse-sim/warehouse-sim/sim"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
	"github.com/warehouse-sim/warehouse-sim/sim/workload"
)

//go:embed default_scenario.yaml
var defaultScenario []byte

// Scenario is one scenario file: map, fleet, master plan and run parameters.
// All sections must be listed to satisfy KnownFields(true) strict parsing.
// stall_seconds ends a run nobody makes progress in: 0 = 600 s, negative = never.
type Scenario struct {
	Name         string             `yaml:"name"`
	Seed         int64              `yaml:"seed"`
	Until        float64            `yaml:"until" validate:"gte=0"`
	StallSeconds float64            `yaml:"stall_seconds"`
	Layout       LayoutSpec         `yaml:"layout"`
	Staging      map[int][2]int     `yaml:"staging"`
	Timing       TimingSpec         `yaml:"timing"`
	Dispatch     DispatchSpec       `yaml:"dispatch"`
	Fleet        FleetSpec          `yaml:"fleet"`
	Agents       []AgentEntry       `yaml:"agents" validate:"dive"`
	WorkOrders   []WorkOrderEntry   `yaml:"work_orders" validate:"dive"`
	Generate     *workload.PlanSpec `yaml:"generate" validate:"-"`
}

// LayoutSpec is either a character map (rows) or an open grid with walls.
// legend adds or remaps row characters, e.g. {"~": aisle}.
type LayoutSpec struct {
	Rows       []string          `yaml:"rows"`
	Legend     map[string]string `yaml:"legend"`
	Width      int               `yaml:"width" validate:"required_without=Rows"`
	Height     int               `yaml:"height" validate:"required_without=Rows"`
	TileWidth  int               `yaml:"tile_width" validate:"gte=0"`
	TileHeight int               `yaml:"tile_height" validate:"gte=0"`
	Blocked    [][2]int          `yaml:"blocked"`
}

// TimingSpec leaves zero values at the kernel defaults.
type TimingSpec struct {
	TickSeconds        float64 `yaml:"tick_seconds" validate:"gte=0"`
	PickBaseSeconds    float64 `yaml:"pick_base_seconds" validate:"gte=0"`
	PickPerUnitSeconds float64 `yaml:"pick_per_unit_seconds" validate:"gte=0"`
	PickJitterSeconds  float64 `yaml:"pick_jitter_seconds" validate:"gte=0"`
	UnloadSeconds      float64 `yaml:"unload_seconds" validate:"gte=0"`
	LiftSeconds        float64 `yaml:"lift_seconds" validate:"gte=0"`
}

type DispatchSpec struct {
	Strategy        string `yaml:"strategy" validate:"omitempty,oneof=plan area-priority global nearest fifo"`
	MaxPathFailures int    `yaml:"max_path_failures" validate:"gte=0"`
	TourType        string `yaml:"tour_type" validate:"omitempty,oneof=mixed simple"`
	MaxWOsPerTour   int    `yaml:"max_wos_per_tour" validate:"gte=0"`
}

// FleetSpec generates agents with zero-padded ids (GroundOp-01, Forklift-01).
type FleetSpec struct {
	GroundOperators int `yaml:"ground_operators" validate:"gte=0"`
	Forklifts       int `yaml:"forklifts" validate:"gte=0"`
}

type AgentEntry struct {
	ID           string         `yaml:"id" validate:"required"`
	Kind         string         `yaml:"kind" validate:"required,agent_kind"`
	Start        *[2]int        `yaml:"start"`
	Speed        float64        `yaml:"speed" validate:"gte=0"`
	Capacity     int            `yaml:"capacity" validate:"gte=0"`
	WorkAreas    []string       `yaml:"work_areas"`
	AreaPriority map[string]int `yaml:"area_priority"`
}

type WorkOrderEntry struct {
	ID           string `yaml:"id" validate:"required"`
	PickSequence int    `yaml:"pick_sequence" validate:"gt=0"`
	Location     [2]int `yaml:"location"`
	SKU          string `yaml:"sku"`
	Qty          int    `yaml:"qty" validate:"gte=0"`
	Equipment    string `yaml:"equipment" validate:"required,agent_kind"`
	WorkArea     string `yaml:"work_area"`
	StagingID    int    `yaml:"staging_id" validate:"gte=0"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// scenarioValidator reports field errors under their YAML names.
func scenarioValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("agent_kind", func(fl validator.FieldLevel) bool {
			_, err := sim.ParseAgentKind(fl.Field().String())
			return err == nil
		})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Scenario.")
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, field+" is required")
		case "agent_kind":
			msgs = append(msgs, fmt.Sprintf("%s: unknown agent kind %q", field, fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid scenario: %s", strings.Join(msgs, "; "))
}

// ParseScenario decodes YAML strictly (unknown keys are errors) and validates it.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty scenario")
		}
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := scenarioValidator().Struct(&sc); err != nil {
		return nil, validationError(err)
	}
	if sc.Generate != nil {
		if err := sc.Generate.Validate(); err != nil {
			return nil, fmt.Errorf("invalid scenario: generate: %w", err)
		}
	}
	return &sc, nil
}

// LoadScenario reads path, or the embedded default scenario when path is empty.
func LoadScenario(path string) (*Scenario, error) {
	if path == "" {
		return ParseScenario(bytes.NewReader(defaultScenario))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc, err := ParseScenario(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// BuildLayout loads the scenario's map.
func (sc *Scenario) BuildLayout() (*layout.Layout, error) {
	l := sc.Layout
	if len(l.Rows) > 0 {
		src := layout.NewTextSource(l.Rows)
		if l.TileWidth > 0 {
			src.TileWidth = l.TileWidth
		}
		if l.TileHeight > 0 {
			src.TileHeight = l.TileHeight
		}
		if len(l.Legend) > 0 {
			legend, err := layout.ParseLegend(l.Legend)
			if err != nil {
				return nil, fmt.Errorf("layout.legend: %w", err)
			}
			src.Legend = legend
		}
		return layout.Load(src)
	}
	src := layout.OpenSource{Width: l.Width, Height: l.Height, TileWidth: l.TileWidth, TileHeight: l.TileHeight}
	for _, b := range l.Blocked {
		src.Blocked = append(src.Blocked, layout.Cell{X: b[0], Y: b[1]})
	}
	return layout.Load(src)
}

// BuildPlan converts the work order entries and appends the generated ones.
// Validation of sequences and locations happens in the kernel.
func (sc *Scenario) BuildPlan(grid *layout.Layout) ([]*sim.WorkOrder, error) {
	plan := make([]*sim.WorkOrder, 0, len(sc.WorkOrders))
	for _, e := range sc.WorkOrders {
		kind, err := sim.ParseAgentKind(e.Equipment)
		if err != nil {
			return nil, fmt.Errorf("work order %s: %w", e.ID, err)
		}
		plan = append(plan, &sim.WorkOrder{
			ID:                e.ID,
			PickSequence:      e.PickSequence,
			Location:          layout.Cell{X: e.Location[0], Y: e.Location[1]},
			SKU:               e.SKU,
			QtyInitial:        e.Qty,
			EquipmentRequired: kind,
			WorkArea:          e.WorkArea,
			StagingID:         e.StagingID,
		})
	}
	if sc.Generate == nil {
		return plan, nil
	}
	last := 0
	if n := len(plan); n > 0 {
		last = plan[n-1].PickSequence
	}
	generated, err := workload.GeneratePlan(sc.Generate, grid, last)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return append(plan, generated...), nil
}

// BuildConfig assembles the kernel config. Explicit agents come first, then
// the generated fleet.
func (sc *Scenario) BuildConfig() (sim.Config, error) {
	cfg := sim.Config{
		Timing:   sim.DefaultTiming(),
		Dispatch: sim.DefaultDispatch(),
		Kernel:   sim.KernelConfig{Seed: sc.Seed, Until: sc.Until, StallSeconds: sc.StallSeconds},
	}
	t := sc.Timing
	override(&cfg.Timing.TickSeconds, t.TickSeconds)
	override(&cfg.Timing.PickBaseSeconds, t.PickBaseSeconds)
	override(&cfg.Timing.PickPerUnitSeconds, t.PickPerUnitSeconds)
	override(&cfg.Timing.PickJitterSeconds, t.PickJitterSeconds)
	override(&cfg.Timing.UnloadSeconds, t.UnloadSeconds)
	override(&cfg.Timing.LiftSeconds, t.LiftSeconds)
	if sc.Dispatch.Strategy != "" {
		cfg.Dispatch.Strategy = sc.Dispatch.Strategy
	}
	if sc.Dispatch.MaxPathFailures > 0 {
		cfg.Dispatch.MaxPathFailures = sc.Dispatch.MaxPathFailures
	}
	if sc.Dispatch.TourType != "" {
		cfg.Dispatch.TourType = sc.Dispatch.TourType
	}
	if sc.Dispatch.MaxWOsPerTour > 0 {
		cfg.Dispatch.MaxWOsPerTour = sc.Dispatch.MaxWOsPerTour
	}

	for _, a := range sc.Agents {
		kind, err := sim.ParseAgentKind(a.Kind)
		if err != nil {
			return cfg, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		spec := sim.AgentSpec{
			ID:           a.ID,
			Kind:         kind,
			Speed:        a.Speed,
			Capacity:     a.Capacity,
			WorkAreas:    a.WorkAreas,
			AreaPriority: a.AreaPriority,
		}
		if a.Start != nil {
			spec.Start = &layout.Cell{X: a.Start[0], Y: a.Start[1]}
		}
		cfg.Agents = append(cfg.Agents, spec)
	}
	cfg.Agents = append(cfg.Agents, fleet("GroundOp", sim.GroundOperator, sc.Fleet.GroundOperators)...)
	cfg.Agents = append(cfg.Agents, fleet("Forklift", sim.Forklift, sc.Fleet.Forklifts)...)

	if len(sc.Staging) > 0 {
		cfg.Staging = make(map[int]layout.Cell, len(sc.Staging))
		for id, c := range sc.Staging {
			cfg.Staging[id] = layout.Cell{X: c[0], Y: c[1]}
		}
	}
	return cfg, nil
}

func fleet(prefix string, kind sim.AgentKind, n int) []sim.AgentSpec {
	width := max(2, len(fmt.Sprint(n)))
	out := make([]sim.AgentSpec, n)
	for i := range out {
		out[i] = sim.AgentSpec{ID: fmt.Sprintf("%s-%0*d", prefix, width, i+1), Kind: kind}
	}
	return out
}

func override(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// describe is the one-line scenario banner logged at start.
func (sc *Scenario) describe() string {
	name := sc.Name
	if name == "" {
		name = "unnamed"
	}
	orders := len(sc.WorkOrders)
	if sc.Generate != nil {
		orders += sc.Generate.Count
	}
	return strings.TrimSpace(fmt.Sprintf("%s: %d work orders, %d agents + fleet %d/%d",
		name, orders, len(sc.Agents), sc.Fleet.GroundOperators, sc.Fleet.Forklifts))
}
