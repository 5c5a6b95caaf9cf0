// Package workload generates synthetic master plans: work orders with
// sampled quantities placed on the picking points of a layout.
package workload

import (
	"fmt"
	"math"

	"github.com/warehouse-sim/warehouse-sim/sim"
)

// PlanSpec describes a generated plan. Scenario files embed it under
// "generate"; the orders follow any hand-written ones.
type PlanSpec struct {
	Seed     int64        `yaml:"seed"`
	Count    int          `yaml:"count"`
	IDPrefix string       `yaml:"id_prefix,omitempty"` // default "GEN-"
	Cohorts  []CohortSpec `yaml:"cohorts"`
}

// CohortSpec is one class of generated order. Orders pick a cohort with
// probability proportional to Weight.
type CohortSpec struct {
	ID        string   `yaml:"id"`
	Weight    float64  `yaml:"weight"`
	Equipment string   `yaml:"equipment"`
	WorkArea  string   `yaml:"work_area,omitempty"`
	StagingID int      `yaml:"staging_id,omitempty"`
	Region    *Region  `yaml:"region,omitempty"`
	SKUs      []string `yaml:"skus,omitempty"`
	Qty       DistSpec `yaml:"qty"`
}

// Region is an inclusive cell rectangle.
type Region struct {
	Min [2]int `yaml:"min"`
	Max [2]int `yaml:"max"`
}

func (r *Region) contains(x, y int) bool {
	return x >= r.Min[0] && x <= r.Max[0] && y >= r.Min[1] && y <= r.Max[1]
}

// DistSpec parameterizes a quantity distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

var validDistTypes = map[string]bool{
	"gaussian": true, "exponential": true, "uniform": true, "empirical": true, "constant": true,
}

// Validate checks every field of the plan spec.
func (s *PlanSpec) Validate() error {
	if s.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", s.Count)
	}
	if len(s.Cohorts) == 0 {
		return fmt.Errorf("at least one cohort required")
	}
	for i := range s.Cohorts {
		if err := validateCohort(&s.Cohorts[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateCohort(c *CohortSpec, idx int) error {
	prefix := fmt.Sprintf("cohort[%d]", idx)
	if c.ID != "" {
		prefix = fmt.Sprintf("cohort %q", c.ID)
	}
	if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight <= 0 {
		return fmt.Errorf("%s: weight must be a positive finite number, got %f", prefix, c.Weight)
	}
	if _, err := sim.ParseAgentKind(c.Equipment); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if c.StagingID < 0 {
		return fmt.Errorf("%s: staging_id must be non-negative, got %d", prefix, c.StagingID)
	}
	if r := c.Region; r != nil && (r.Min[0] > r.Max[0] || r.Min[1] > r.Max[1]) {
		return fmt.Errorf("%s: region min %v exceeds max %v", prefix, r.Min, r.Max)
	}
	return validateDistSpec(prefix+".qty", &c.Qty)
}

func validateDistSpec(prefix string, d *DistSpec) error {
	if !validDistTypes[d.Type] {
		return fmt.Errorf("%s: unknown distribution type %q; valid: gaussian, exponential, uniform, empirical, constant", prefix, d.Type)
	}
	for name, val := range d.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s.params.%s must be a finite number, got %f", prefix, name, val)
		}
	}
	return nil
}
