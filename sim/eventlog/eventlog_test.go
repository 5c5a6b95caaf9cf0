package eventlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStream() []Record {
	return []Record{
		New(0, &StartPayload{
			Config: RunConfig{RunID: "run-1", Seed: 42, TickSeconds: 0.1, Width: 30, Height: 30, TileWidth: 32, TileHeight: 32,
				DispatchStrategy: "plan", Staging: map[int][2]int{1: {3, 29}},
				Agents: []AgentInit{{ID: "G1", Type: "GroundOperator", Cell: [2]int{0, 0}, Position: [2]float64{16, 16}, Capacity: 20}}},
			TotalWorkOrders:   1,
			InitialWorkOrders: []WorkOrderSnapshot{{ID: "1", Status: "pending", Location: [2]int{10, 10}, SKU: "A", QtyInitial: 1, QtyRemaining: 1, PickSequence: 1}},
		}),
		New(0, &WorkOrderUpdatePayload{ID: "1", Status: "assigned", Location: [2]int{10, 10}, SKU: "A", QtyRemaining: 1, AssignedTo: "G1"}),
		New(0, &AgentStatePayload{AgentID: "G1", AgentType: "GroundOperator", Status: "moving", Position: [2]float64{16, 16}, WorkOrderID: "1"}),
		New(1.4, &AgentStatePayload{AgentID: "G1", AgentType: "GroundOperator", Status: "picking", Position: [2]float64{336, 336}, WorkOrderID: "1"}),
		New(1.4, &WorkOrderUpdatePayload{ID: "1", Status: "picking", Location: [2]int{10, 10}, SKU: "A", QtyRemaining: 1, AssignedTo: "G1"}),
		New(3.0, &TaskCompletedPayload{AgentID: "G1", TaskID: "1"}),
		New(6.0, &WorkOrderCompletedPayload{AgentID: "G1", WorkOrderID: "1", StagingID: 1}),
		New(6.0, &EndPayload{TotalCompleted: 1, Reason: ReasonPlanDrained, Summary: &Summary{Ticks: 61, WorkOrdersTotal: 1, WorkOrdersStaged: 1}}),
	}
}

func TestEncode_FixedKeyOrder(t *testing.T) {
	b, err := Encode(New(1.5, &TaskCompletedPayload{AgentID: "G1", TaskID: "7"}))
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":1.5,"event_type":"task_completed","agent_id":"G1","task_id":"7"}`, string(b))

	b, err = Encode(New(0, &AgentStatePayload{AgentID: "G1", AgentType: "GroundOperator", Status: "idle", Position: [2]float64{16, 16}}))
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":0,"event_type":"agent_state","agent_id":"G1","agent_type":"GroundOperator","status":"idle","position":[16,16]}`, string(b))
}

func TestEncode_RejectsMismatchedPayload(t *testing.T) {
	_, err := Encode(Record{Type: AgentState, Payload: &TaskCompletedPayload{}})
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = Encode(Record{Type: AgentState})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDecode_PreservesUnknownKeys(t *testing.T) {
	line := `{"timestamp":2,"event_type":"task_completed","zone":"north","agent_id":"G1","task_id":"3","meta":{"a":1}}`
	rec, err := Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, rec.Type)
	p, ok := rec.Payload.(*TaskCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, "3", p.TaskID)
	require.Len(t, rec.Extra, 2)
	assert.JSONEq(t, `"north"`, string(rec.Extra["zone"]))

	out, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":2,"event_type":"task_completed","agent_id":"G1","task_id":"3","meta":{"a":1},"zone":"north"}`, string(out))
}

func TestDecode_EncodeIsStableOverSample(t *testing.T) {
	for _, r := range sampleStream() {
		b, err := Encode(r)
		require.NoError(t, err)
		back, err := Decode(b)
		require.NoError(t, err)
		again, err := Encode(back)
		require.NoError(t, err)
		assert.Equal(t, string(b), string(again))
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{"timestamp":`},
		{"missing timestamp", `{"event_type":"task_completed"}`},
		{"string timestamp", `{"timestamp":"x","event_type":"task_completed"}`},
		{"negative timestamp", `{"timestamp":-1,"event_type":"task_completed"}`},
		{"missing event_type", `{"timestamp":1}`},
		{"unknown event_type", `{"timestamp":1,"event_type":"teleport"}`},
		{"bad field type", `{"timestamp":1,"event_type":"task_completed","agent_id":5,"task_id":"1"}`},
		{"array", `[1,2]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.line))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestLog_AppendRejectsOutOfOrder(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(New(1, &TaskCompletedPayload{})))
	require.NoError(t, l.Append(New(1, &TaskCompletedPayload{})))
	err := l.Append(New(0.9, &TaskCompletedPayload{}))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, int64(2), l.Len())
}

func TestLog_FlushFeedsSinksAndSubscribers(t *testing.T) {
	mem := &MemorySink{}
	l := NewLog(mem)
	ch, cancel := l.Subscribe(4)
	defer cancel()

	for _, r := range sampleStream()[:3] {
		require.NoError(t, l.Append(r))
	}
	assert.Empty(t, mem.Records, "append only buffers")
	require.NoError(t, l.Flush())
	assert.Len(t, mem.Records, 3)

	batch := <-ch
	require.Len(t, batch, 3)
	batch[0].Timestamp = 99
	assert.Equal(t, 0.0, mem.Records[0].Timestamp, "subscribers get a copy")

	require.NoError(t, l.Flush(), "empty flush is a no-op")
	select {
	case <-ch:
		t.Fatal("no batch expected for empty flush")
	default:
	}
}

func TestLog_SlowSubscriberDropsBatches(t *testing.T) {
	l := NewLog()
	_, cancel := l.Subscribe(1)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(New(float64(i), &TaskCompletedPayload{})))
		require.NoError(t, l.Flush())
	}
	assert.Equal(t, int64(2), l.Dropped())
	require.NoError(t, l.Close())
	cancel()
}

func TestJSONLSink_ReaderRoundTripSkipsMalformed(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLSink(&buf)
	recs := sampleStream()
	require.NoError(t, s.Write(recs[:4]))
	buf.WriteString("this is not json\n\n")
	buf.WriteString(`{"timestamp":1.4,"event_type":"mystery"}` + "\n")
	require.NoError(t, s.Write(recs[4:]))

	rd := NewReader(&buf)
	got, err := rd.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, rd.Skipped())
	require.Len(t, got, len(recs))
	assert.Equal(t, recs[5].Payload, got[5].Payload)
	assert.Equal(t, SimulationEnd, got[len(got)-1].Type)
}

func TestZstdSink_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl.zst")
	s, err := OpenSink(path)
	require.NoError(t, err)
	_, ok := s.(*ZstdSink)
	require.True(t, ok)
	recs := sampleStream()
	require.NoError(t, s.Write(recs))
	require.NoError(t, s.Close())

	got, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.Len(t, got, len(recs))
	for i := range recs {
		assert.Equal(t, recs[i].Payload, got[i].Payload)
	}
}

func TestSQLiteSink_ReadSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	s, err := OpenSink(path)
	require.NoError(t, err)
	recs := sampleStream()
	require.NoError(t, s.Write(recs[:3]))
	require.NoError(t, s.Write(recs[3:]))
	require.NoError(t, s.Close())

	got, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.Len(t, got, len(recs))
	assert.Equal(t, recs[0].Payload, got[0].Payload)
	assert.Equal(t, 6.0, got[len(got)-1].Timestamp)
}

func TestOpenFile_PlainJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.jsonl")
	s, err := OpenSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(sampleStream()))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(sampleStream()), strings.Count(string(raw), "\n"))

	got, err := OpenFile(path, nil)
	require.NoError(t, err)
	assert.Len(t, got, len(sampleStream()))
}

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	for _, r := range sampleStream() {
		assert.NoError(t, v.Validate(r), "%s", r.Type)
	}

	bad := []string{
		`{"timestamp":1,"event_type":"work_order_update","id":"1","status":"assigned","location":[1,1],"qty_remaining":1}`,
		`{"timestamp":1,"event_type":"work_order_update","id":"1","status":"teleported","location":[1,1],"sku":"A","qty_remaining":1}`,
		`{"timestamp":1,"event_type":"agent_state","agent_id":"G1","agent_type":"GroundOperator","status":"idle","position":[1]}`,
		`{"timestamp":1,"event_type":"SIMULATION_END","reason":"deadline"}`,
		`{"event_type":"task_completed","agent_id":"G1","task_id":"1"}`,
		`nope`,
	}
	for _, line := range bad {
		assert.ErrorIs(t, v.ValidateLine([]byte(line)), ErrMalformedEvent, line)
	}

	// unknown keys stay valid
	assert.NoError(t, v.ValidateLine([]byte(`{"timestamp":1,"event_type":"task_completed","agent_id":"G1","task_id":"1","zone":"n"}`)))
}

func TestReader_ValidatorSkipsSchemaViolations(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	in := strings.Join([]string{
		`{"timestamp":0,"event_type":"task_completed","agent_id":"G1","task_id":"1"}`,
		`{"timestamp":1,"event_type":"task_completed","agent_id":"G1"}`,
		`{"timestamp":2,"event_type":"SIMULATION_END","total_completed":0,"reason":"deadline"}`,
	}, "\n")
	rd := NewReader(strings.NewReader(in))
	rd.Validator = v
	got, err := rd.ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, rd.Skipped())
}
