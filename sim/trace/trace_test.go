package trace

import (
	"testing"
)

func TestSimulationTrace_RecordAssignment_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions, CounterfactualK: 0})

	// WHEN an assignment is recorded
	st.RecordAssignment(AssignmentRecord{
		AgentID:     "G1",
		Clock:       10,
		WorkOrderID: "W1",
		Reason:      "plan",
		Distance:    4,
	})

	// THEN the trace contains one assignment with correct data
	if len(st.Assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(st.Assignments))
	}
	if st.Assignments[0].WorkOrderID != "W1" {
		t.Errorf("expected work order W1, got %s", st.Assignments[0].WorkOrderID)
	}
	if len(st.Releases) != 0 {
		t.Errorf("expected no releases, got %d", len(st.Releases))
	}
}

func TestSimulationTrace_MultipleRecords_PreservesOrder(t *testing.T) {
	// GIVEN a trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN multiple records are added
	st.RecordAssignment(AssignmentRecord{AgentID: "G1", Clock: 1, WorkOrderID: "W1"})
	st.RecordAssignment(AssignmentRecord{AgentID: "G2", Clock: 1, WorkOrderID: "W2"})
	st.RecordRelease(ReleaseRecord{AgentID: "G2", Clock: 3, WorkOrderID: "W2", Reason: ReleaseBlocked})

	// THEN order is preserved
	if st.Assignments[0].WorkOrderID != "W1" || st.Assignments[1].WorkOrderID != "W2" {
		t.Error("assignment order not preserved")
	}
	if len(st.Releases) != 1 || st.Releases[0].Reason != ReleaseBlocked {
		t.Error("release record mismatch")
	}
}

func TestTraceConfig_Enabled(t *testing.T) {
	if (TraceConfig{}).Enabled() {
		t.Error("zero config must not trace")
	}
	if (TraceConfig{Level: TraceLevelNone}).Enabled() {
		t.Error("none must not trace")
	}
	if !(TraceConfig{Level: TraceLevelDecisions}).Enabled() {
		t.Error("decisions must trace")
	}
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"decisions", true},
		{"", true}, // empty defaults to none
		{"detailed", false},
		{"NONE", false}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := IsValidTraceLevel(tt.level); got != tt.valid {
				t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.valid)
			}
		})
	}
}
