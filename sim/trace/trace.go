package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every assignment and release.
	TraceLevelDecisions TraceLevel = "decisions"
)

const (
	ReleaseBlocked   = "blocked"
	ReleaseNoPath    = "no_path"
	ReleaseCancelled = "cancelled"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level           TraceLevel
	CounterfactualK int // nearest alternatives kept per assignment
}

// Enabled reports whether decisions should be recorded.
func (c TraceConfig) Enabled() bool { return c.Level == TraceLevelDecisions }

// SimulationTrace collects decision records during a run.
type SimulationTrace struct {
	Config      TraceConfig
	Assignments []AssignmentRecord
	Releases    []ReleaseRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Assignments: make([]AssignmentRecord, 0),
		Releases:    make([]ReleaseRecord, 0),
	}
}

func (st *SimulationTrace) RecordAssignment(record AssignmentRecord) {
	st.Assignments = append(st.Assignments, record)
}

func (st *SimulationTrace) RecordRelease(record ReleaseRecord) {
	st.Releases = append(st.Releases, record)
}
