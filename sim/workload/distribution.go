package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// QuantitySampler draws pick quantities for generated work orders.
type QuantitySampler interface {
	// Sample returns a positive unit count (>= 1).
	Sample(rng *rand.Rand) int
}

// GaussianSampler produces clamped Gaussian quantities.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     int
}

func (s *GaussianSampler) Sample(rng *rand.Rand) int {
	if s.min == s.max {
		return atLeastOne(s.min)
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	clamped := math.Min(float64(s.max), math.Max(float64(s.min), val))
	return atLeastOne(int(math.Round(clamped)))
}

// ExponentialSampler produces exponentially distributed quantities, capped
// at max when max > 0.
type ExponentialSampler struct {
	mean float64
	max  int
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) int {
	v := atLeastOne(int(math.Round(rng.ExpFloat64() * s.mean)))
	if s.max > 0 && v > s.max {
		return s.max
	}
	return v
}

// UniformSampler draws integers in [min, max].
type UniformSampler struct {
	min, max int
}

func (s *UniformSampler) Sample(rng *rand.Rand) int {
	return atLeastOne(s.min + rng.Intn(s.max-s.min+1))
}

// EmpiricalSampler samples a histogram of quantities by inverse CDF.
type EmpiricalSampler struct {
	values []int     // sorted quantities
	cdf    []float64 // cumulative probabilities, same length as values
}

// NewEmpiricalSampler builds a sampler from quantity → weight. Weights are
// normalized; non-positive weights are dropped.
func NewEmpiricalSampler(pdf map[int]float64) *EmpiricalSampler {
	keys := make([]int, 0, len(pdf))
	total := 0.0
	for k, p := range pdf {
		if p > 0 {
			keys = append(keys, k)
			total += p
		}
	}
	sort.Ints(keys)

	s := &EmpiricalSampler{values: keys, cdf: make([]float64, len(keys))}
	cumulative := 0.0
	for i, k := range keys {
		cumulative += pdf[k] / total
		s.cdf[i] = cumulative
	}
	if n := len(s.cdf); n > 0 {
		s.cdf[n-1] = 1.0
	}
	return s
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) int {
	switch len(s.values) {
	case 0:
		return 1
	case 1:
		return atLeastOne(s.values[0])
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return atLeastOne(s.values[idx])
}

// ConstantSampler always returns the same quantity.
type ConstantSampler struct {
	value int
}

func (s *ConstantSampler) Sample(_ *rand.Rand) int {
	return atLeastOne(s.value)
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewQuantitySampler creates a QuantitySampler from a DistSpec.
func NewQuantitySampler(spec DistSpec) (QuantitySampler, error) {
	switch spec.Type {
	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		lo, hi := int(spec.Params["min"]), int(spec.Params["max"])
		if lo > hi {
			return nil, fmt.Errorf("gaussian min %d exceeds max %d", lo, hi)
		}
		return &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    lo,
			max:    hi,
		}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: spec.Params["mean"], max: int(spec.Params["max"])}, nil

	case "uniform":
		if err := requireParam(spec.Params, "min", "max"); err != nil {
			return nil, err
		}
		lo, hi := int(spec.Params["min"]), int(spec.Params["max"])
		if lo > hi {
			return nil, fmt.Errorf("uniform min %d exceeds max %d", lo, hi)
		}
		return &UniformSampler{min: lo, max: hi}, nil

	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: int(spec.Params["value"])}, nil

	case "empirical":
		// params map a quantity (as a string key) to its weight
		pdf := make(map[int]float64, len(spec.Params))
		for k, v := range spec.Params {
			var qty int
			if _, err := fmt.Sscanf(k, "%d", &qty); err != nil {
				return nil, fmt.Errorf("empirical key %q is not an integer: %w", k, err)
			}
			pdf[qty] = v
		}
		s := NewEmpiricalSampler(pdf)
		if len(s.values) == 0 {
			return nil, fmt.Errorf("empirical distribution has no positive bins")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
