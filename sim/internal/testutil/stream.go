// Package testutil provides shared test infrastructure for the warehouse
// simulator: grid builders and assertions over recorded event streams, used
// across the sim/, sim/replay/ and cmd/ test packages.
package testutil

import (
	"math"
	"testing"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/layout"
)

// OpenGrid loads an all-floor grid of w×h 32px tiles.
func OpenGrid(t *testing.T, w, h int) *layout.Layout {
	t.Helper()
	g, err := layout.Load(layout.OpenSource{Width: w, Height: h, TileWidth: 32, TileHeight: 32})
	if err != nil {
		t.Fatalf("open grid %dx%d: %v", w, h, err)
	}
	return g
}

// TextGrid loads a character map (see layout.DefaultLegend).
func TextGrid(t *testing.T, rows ...string) *layout.Layout {
	t.Helper()
	g, err := layout.Load(layout.NewTextSource(rows))
	if err != nil {
		t.Fatalf("text grid: %v", err)
	}
	return g
}

// RequireMonotonic fails unless timestamps never decrease, START is first
// and END is last and unique.
func RequireMonotonic(t *testing.T, records []eventlog.Record) {
	t.Helper()
	if len(records) == 0 {
		t.Fatal("empty stream")
	}
	if records[0].Type != eventlog.SimulationStart {
		t.Fatalf("first record is %s, want %s", records[0].Type, eventlog.SimulationStart)
	}
	for i, r := range records {
		if i > 0 && r.Timestamp < records[i-1].Timestamp {
			t.Fatalf("record %d (%s) at %v precedes %v", i, r.Type, r.Timestamp, records[i-1].Timestamp)
		}
		if r.Type == eventlog.SimulationEnd && i != len(records)-1 {
			t.Fatalf("SIMULATION_END at %d of %d", i, len(records))
		}
	}
	if last := records[len(records)-1]; last.Type != eventlog.SimulationEnd {
		t.Fatalf("last record is %s, want %s", last.Type, eventlog.SimulationEnd)
	}
}

// End returns the END payload; the stream must have one.
func End(t *testing.T, records []eventlog.Record) *eventlog.EndPayload {
	t.Helper()
	for i := len(records) - 1; i >= 0; i-- {
		if p, ok := records[i].Payload.(*eventlog.EndPayload); ok {
			return p
		}
	}
	t.Fatal("no SIMULATION_END in stream")
	return nil
}

// StatusTrail lists the distinct consecutive statuses reported for work
// order id, starting from its status in the START record.
func StatusTrail(records []eventlog.Record, id string) []string {
	var trail []string
	add := func(s string) {
		if len(trail) == 0 || trail[len(trail)-1] != s {
			trail = append(trail, s)
		}
	}
	for _, r := range records {
		switch p := r.Payload.(type) {
		case *eventlog.StartPayload:
			for _, w := range p.InitialWorkOrders {
				if w.ID == id {
					add(w.Status)
				}
			}
		case *eventlog.WorkOrderUpdatePayload:
			if p.ID == id {
				add(p.Status)
			}
		}
	}
	return trail
}

// Matcher selects records for RequireSubsequence.
type Matcher struct {
	Name  string
	Match func(eventlog.Record) bool
}

// RequireSubsequence fails unless the matchers hit records in order.
func RequireSubsequence(t *testing.T, records []eventlog.Record, want ...Matcher) {
	t.Helper()
	i := 0
	for _, r := range records {
		if i < len(want) && want[i].Match(r) {
			i++
		}
	}
	if i < len(want) {
		t.Fatalf("stream matched %d of %d expected records; first missing: %s", i, len(want), want[i].Name)
	}
}

// OfType matches any record of type et.
func OfType(et eventlog.EventType) Matcher {
	return Matcher{Name: string(et), Match: func(r eventlog.Record) bool { return r.Type == et }}
}

// AgentStatus matches agent_state(agent, status).
func AgentStatus(agent, status string) Matcher {
	return Matcher{Name: "agent_state " + agent + " " + status, Match: func(r eventlog.Record) bool {
		p, ok := r.Payload.(*eventlog.AgentStatePayload)
		return ok && p.AgentID == agent && p.Status == status
	}}
}

// WOStatus matches work_order_update(id, status).
func WOStatus(id, status string) Matcher {
	return Matcher{Name: "work_order_update " + id + " " + status, Match: func(r eventlog.Record) bool {
		p, ok := r.Payload.(*eventlog.WorkOrderUpdatePayload)
		return ok && p.ID == id && p.Status == status
	}}
}

// AgentStates returns agent's agent_state payloads in order.
func AgentStates(records []eventlog.Record, agent string) []*eventlog.AgentStatePayload {
	var out []*eventlog.AgentStatePayload
	for _, r := range records {
		if p, ok := r.Payload.(*eventlog.AgentStatePayload); ok && p.AgentID == agent {
			out = append(out, p)
		}
	}
	return out
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
