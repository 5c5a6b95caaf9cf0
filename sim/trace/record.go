// Package trace records dispatch decisions for offline analysis of
// assignment strategies. It stores pure data and does not import sim.
package trace

// CandidateScore is one eligible work order the dispatcher could have
// handed out, scored by octile distance from the requesting agent.
type CandidateScore struct {
	WorkOrderID  string
	PickSequence int
	WorkArea     string
	Distance     float64
}

// AssignmentRecord captures one assignment with its counterfactual candidates.
type AssignmentRecord struct {
	AgentID     string
	Clock       int64
	WorkOrderID string
	Reason      string           // dispatch strategy that chose it
	Distance    float64          // agent to chosen order, in cells
	Eligible    int              // number of orders the agent could have taken
	Candidates  []CandidateScore // nearest-first (nil if k=0)
	Regret      float64          // Distance minus the nearest eligible distance
}

// ReleaseRecord captures an order handed back to the pool.
type ReleaseRecord struct {
	AgentID     string
	Clock       int64
	WorkOrderID string
	Reason      string // "blocked", "no_path" or "cancelled"
}
