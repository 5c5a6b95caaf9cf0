package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions    int
	ReleaseCount      int
	ReleasesByReason  map[string]int
	MeanDistance      float64
	MeanRegret        float64
	MaxRegret         float64
	UniqueAgents      int
	AgentDistribution map[string]int // agent ID → assignments received
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		ReleasesByReason:  make(map[string]int),
		AgentDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Assignments)
	if n := len(st.Assignments); n > 0 {
		totalRegret, totalDistance := 0.0, 0.0
		for _, a := range st.Assignments {
			summary.AgentDistribution[a.AgentID]++
			totalRegret += a.Regret
			totalDistance += a.Distance
			if a.Regret > summary.MaxRegret {
				summary.MaxRegret = a.Regret
			}
		}
		summary.MeanRegret = totalRegret / float64(n)
		summary.MeanDistance = totalDistance / float64(n)
	}

	summary.ReleaseCount = len(st.Releases)
	for _, r := range st.Releases {
		summary.ReleasesByReason[r.Reason]++
	}
	summary.UniqueAgents = len(summary.AgentDistribution)

	return summary
}
