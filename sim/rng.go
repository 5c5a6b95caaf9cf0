package sim

import (
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey, layout, plan and configuration
// produce identical event logs.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemKernel draws pick-time jitter. Uses the master seed directly
	// so --seed alone reproduces a run.
	SubsystemKernel = "kernel"

	// SubsystemPlacement places agents that have no start cell and no free parking point.
	SubsystemPlacement = "placement"

	// SubsystemWorkload generates synthetic master plans.
	SubsystemWorkload = "workload"
)

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemKernel: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Only the kernel goroutine draws from it.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	derivedSeed := int64(p.key)
	if name != SubsystemKernel {
		derivedSeed ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
