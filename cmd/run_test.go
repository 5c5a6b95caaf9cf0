package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/replay"
	"github.com/warehouse-sim/warehouse-sim/sim/stream"
	"github.com/warehouse-sim/warehouse-sim/sim/trace"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSimulate_WritesReplayableStream(t *testing.T) {
	// GIVEN a one-order scenario recorded to a compressed stream
	out := filepath.Join(t.TempDir(), "run.jsonl.zst")
	o := runOptions{scenario: writeScenario(t, tinyScenario), out: out, headless: true, runID: "cli-test"}

	// WHEN it runs headless
	s, err := simulate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, eventlog.ReasonPlanDrained, s.EndReason())
	assert.Equal(t, 1, s.Summary().WorkOrdersStaged)

	// THEN the stream replays to the same end state
	r, err := loadReplay(out, true)
	require.NoError(t, err)
	r.RunToEnd()
	st := r.State()
	assert.True(t, st.Ended)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, "cli-test", st.Config.RunID)
	assert.Equal(t, int64(7), st.Config.Seed)
	assert.Equal(t, map[int]map[string]int{1: {"W1": 3}}, st.Staging)

	var buf bytes.Buffer
	printReplaySummary(&buf, r)
	assert.Contains(t, buf.String(), "Work Orders Completed: 1 / 1")
	assert.Contains(t, buf.String(), "GroundOp-01")
}

func TestSimulate_FlagOverrides(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.jsonl")
	seed, until, tick := int64(99), 1.0, 0.5
	o := runOptions{scenario: writeScenario(t, tinyScenario), out: out, headless: true, seed: &seed, until: &until, tick: &tick}

	s, err := simulate(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, eventlog.ReasonDeadline, s.EndReason())
	assert.Equal(t, 0.5, s.Config().Timing.TickSeconds)
	assert.Equal(t, int64(99), s.Config().Kernel.Seed)
	assert.NotEmpty(t, s.Config().Kernel.RunID, "a run id is generated")

	recs, err := eventlog.OpenFile(out, nil)
	require.NoError(t, err)
	last := recs[len(recs)-1]
	assert.Equal(t, eventlog.SimulationEnd, last.Type)
	assert.Equal(t, 1.0, last.Timestamp)
}

func TestSimulate_VisualModePrintsStatus(t *testing.T) {
	var status bytes.Buffer
	statusOut = &status
	defer func() { statusOut = os.Stderr }()

	o := runOptions{scenario: writeScenario(t, tinyScenario), out: filepath.Join(t.TempDir(), "run.jsonl")}
	_, err := simulate(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, status.String(), "staged 1/1")
}

func TestSimulate_BadScenarioFails(t *testing.T) {
	_, err := simulate(context.Background(), runOptions{scenario: writeScenario(t, "layout: {rows: [\"..\"]}\nbogus: 1\n"), out: "-"})
	assert.Error(t, err)

	// duplicate pick sequences are rejected by the kernel
	dup := tinyScenario + "  - {id: W2, pick_sequence: 1, location: [3, 0], qty: 1, equipment: ground}\n"
	_, err = simulate(context.Background(), runOptions{scenario: writeScenario(t, dup), out: filepath.Join(t.TempDir(), "x.jsonl"), headless: true})
	assert.Error(t, err)
}

func TestSimulate_DefaultScenarioTerminates(t *testing.T) {
	until := 3000.0
	out := filepath.Join(t.TempDir(), "demo.db")
	s, err := simulate(context.Background(), runOptions{out: out, headless: true, until: &until})
	require.NoError(t, err)
	sum := s.Summary()
	assert.LessOrEqual(t, sum.WorkOrdersStaged+sum.WorkOrdersCancelled, 8)

	recs, err := eventlog.OpenFile(out, nil)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, eventlog.SimulationStart, recs[0].Type)
	assert.Equal(t, eventlog.SimulationEnd, recs[len(recs)-1].Type)
}

func TestConvertStream_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.jsonl")
	_, err := simulate(context.Background(), runOptions{scenario: writeScenario(t, tinyScenario), out: src, headless: true, runID: "conv"})
	require.NoError(t, err)

	db := filepath.Join(dir, "run.db")
	n, err := convertStream(src, db, true)
	require.NoError(t, err)
	back := filepath.Join(dir, "back.jsonl")
	m, err := convertStream(db, back, false)
	require.NoError(t, err)
	assert.Equal(t, n, m)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	_, err = convertStream(src, src, false)
	assert.Error(t, err)
	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = convertStream(empty, filepath.Join(dir, "e.db"), false)
	assert.ErrorIs(t, err, eventlog.ErrMalformedEvent)
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		in   string
		want replay.Command
	}{
		{"p", replay.Command{Kind: replay.CmdTogglePause}},
		{"+", replay.Command{Kind: replay.CmdSpeedUp}},
		{"-", replay.Command{Kind: replay.CmdSlowDown}},
		{"speed 8", replay.Command{Kind: replay.CmdSetSpeed, Value: 8}},
		{"  seek 12.5 ", replay.Command{Kind: replay.CmdSeek, Value: 12.5}},
		{"Q", replay.Command{Kind: replay.CmdQuit}},
	}
	for _, tt := range tests {
		got, err := parseCommandLine(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	for _, bad := range []string{"", "seek", "speed fast", "rewind"} {
		_, err := parseCommandLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestPublisherRestartsAfterBackwardSeek(t *testing.T) {
	src := filepath.Join(t.TempDir(), "run.jsonl")
	_, err := simulate(context.Background(), runOptions{scenario: writeScenario(t, tinyScenario), out: src, headless: true})
	require.NoError(t, err)
	r, err := loadReplay(src, false)
	require.NoError(t, err)

	p := &publisher{hub: stream.NewHub(nil)}
	r.SeekTo(3)
	p.frame(r)
	mid := p.sent
	assert.Equal(t, r.Consumed(), mid)

	r.RunToEnd()
	p.frame(r)
	assert.Equal(t, r.Len(), p.sent)

	r.SeekTo(0)
	p.frame(r)
	assert.Equal(t, r.Consumed(), p.sent)
	assert.Less(t, p.sent, mid)
}

func TestSimulate_TraceSummary(t *testing.T) {
	o := runOptions{
		scenario: writeScenario(t, tinyScenario),
		out:      filepath.Join(t.TempDir(), "run.jsonl"),
		headless: true,
		trace:    trace.TraceConfig{Level: trace.TraceLevelDecisions, CounterfactualK: 2},
	}
	s, err := simulate(context.Background(), o)
	require.NoError(t, err)
	require.NotNil(t, s.Trace())

	var buf bytes.Buffer
	printTraceSummary(&buf, trace.Summarize(s.Trace()))
	assert.Contains(t, buf.String(), "Assignments          : 1 (1 agents)")
	assert.Contains(t, buf.String(), "Releases             : 0")
}
