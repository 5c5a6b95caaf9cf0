// Package eventlog holds the typed event records a simulation run emits, their
// line-delimited JSON encoding, and the sinks and readers for recorded streams.
// This package has no dependencies on sim/: it stores pure data types.
package eventlog

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedEvent marks a record that cannot be decoded or fails the event schema.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrOutOfOrder is returned by Log.Append for a timestamp earlier than the previous record.
	ErrOutOfOrder = errors.New("event timestamp out of order")
)

// EventType is the value of the event_type key.
type EventType string

const (
	SimulationStart    EventType = "SIMULATION_START"
	SimulationEnd      EventType = "SIMULATION_END"
	AgentState         EventType = "agent_state"
	WorkOrderUpdate    EventType = "work_order_update"
	TaskCompleted      EventType = "task_completed"
	WorkOrderCompleted EventType = "work_order_completed"
	OperationCompleted EventType = "operation_completed"
)

// Notes carried by agent_state records for locally recovered errors.
const (
	NotePathFail       = "PATH_FAIL"
	NoteReplan         = "REPLAN"
	NoteBlockedAbandon = "BLOCKED_ABANDON"
)

// End reasons.
const (
	ReasonPlanDrained = "plan drained"
	ReasonDeadline    = "deadline"
	ReasonStopped     = "stopped"
	ReasonStalled     = "stalled"
)

// Record is one line of the stream. Payload is one of the *Payload types in
// this file and always matches Type. Extra holds top-level keys this version
// does not know about; they are written back verbatim after the known keys.
type Record struct {
	Timestamp float64
	Type      EventType
	Payload   Payload
	Extra     map[string]json.RawMessage
}

// Payload is the closed set of per-type bodies.
type Payload interface {
	eventType() EventType
}

// WorkOrderSnapshot is the full view of a work order carried by start records
// and tour details.
type WorkOrderSnapshot struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Location          [2]int `json:"location"`
	SKU               string `json:"sku"`
	QtyInitial        int    `json:"qty_initial"`
	QtyRemaining      int    `json:"qty_remaining"`
	PickSequence      int    `json:"pick_sequence"`
	EquipmentRequired string `json:"equipment_required,omitempty"`
	WorkArea          string `json:"work_area,omitempty"`
	StagingID         int    `json:"staging_id,omitempty"`
}

// AgentInit places an agent before its first agent_state record.
type AgentInit struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Cell     [2]int     `json:"cell"`
	Position [2]float64 `json:"position"`
	Capacity int        `json:"capacity"`
}

// RunConfig describes the run that produced the stream.
type RunConfig struct {
	RunID            string         `json:"run_id"`
	Seed             int64          `json:"seed"`
	TickSeconds      float64        `json:"tick_seconds"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	TileWidth        int            `json:"tile_width"`
	TileHeight       int            `json:"tile_height"`
	DispatchStrategy string         `json:"dispatch_strategy"`
	Staging          map[int][2]int `json:"staging"`
	Agents           []AgentInit    `json:"agents"`
}

// Summary is the end-of-run report carried by SIMULATION_END.
type Summary struct {
	Ticks                  int64 `json:"ticks"`
	WorkOrdersTotal        int   `json:"work_orders_total"`
	WorkOrdersStaged       int   `json:"work_orders_staged"`
	WorkOrdersCancelled    int   `json:"work_orders_cancelled"`
	UnitsStaged            int   `json:"units_staged"`
	BoundsViolations       int64 `json:"bounds_violations"`
	ReservationContentions int64 `json:"reservation_contentions"`
	Replans                int64 `json:"replans"`
	PathFailures           int64 `json:"path_failures"`
}

type StartPayload struct {
	Config            RunConfig           `json:"config"`
	TotalWorkOrders   int                 `json:"total_work_orders"`
	InitialWorkOrders []WorkOrderSnapshot `json:"initial_work_orders"`
}

type EndPayload struct {
	TotalCompleted int      `json:"total_completed"`
	Reason         string   `json:"reason"`
	Summary        *Summary `json:"summary,omitempty"`
}

type AgentStatePayload struct {
	AgentID     string              `json:"agent_id"`
	AgentType   string              `json:"agent_type"`
	Status      string              `json:"status"`
	Position    [2]float64          `json:"position"`
	WorkOrderID string              `json:"work_order_id,omitempty"`
	Note        string              `json:"note,omitempty"`
	TourDetails []WorkOrderSnapshot `json:"tour_details,omitempty"`
}

type WorkOrderUpdatePayload struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Location     [2]int `json:"location"`
	SKU          string `json:"sku"`
	QtyRemaining int    `json:"qty_remaining"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	StagingID    int    `json:"staging_id,omitempty"`
	QtyStaged    int    `json:"qty_staged,omitempty"`
}

type TaskCompletedPayload struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
}

type WorkOrderCompletedPayload struct {
	AgentID     string `json:"agent_id"`
	WorkOrderID string `json:"work_order_id"`
	StagingID   int    `json:"staging_id,omitempty"`
}

// OperationCompletedPayload is reserved; its keys travel in Record.Extra.
type OperationCompletedPayload struct{}

func (*StartPayload) eventType() EventType              { return SimulationStart }
func (*EndPayload) eventType() EventType                { return SimulationEnd }
func (*AgentStatePayload) eventType() EventType         { return AgentState }
func (*WorkOrderUpdatePayload) eventType() EventType    { return WorkOrderUpdate }
func (*TaskCompletedPayload) eventType() EventType      { return TaskCompleted }
func (*WorkOrderCompletedPayload) eventType() EventType { return WorkOrderCompleted }
func (*OperationCompletedPayload) eventType() EventType { return OperationCompleted }

// New wraps a payload into a record stamped at ts.
func New(ts float64, p Payload) Record {
	return Record{Timestamp: ts, Type: p.eventType(), Payload: p}
}

// newPayload returns an empty payload for t and the json keys it owns.
func newPayload(t EventType) (Payload, []string, bool) {
	switch t {
	case SimulationStart:
		return &StartPayload{}, []string{"config", "total_work_orders", "initial_work_orders"}, true
	case SimulationEnd:
		return &EndPayload{}, []string{"total_completed", "reason", "summary"}, true
	case AgentState:
		return &AgentStatePayload{}, []string{"agent_id", "agent_type", "status", "position", "work_order_id", "note", "tour_details"}, true
	case WorkOrderUpdate:
		return &WorkOrderUpdatePayload{}, []string{"id", "status", "location", "sku", "qty_remaining", "assigned_to", "staging_id", "qty_staged"}, true
	case TaskCompleted:
		return &TaskCompletedPayload{}, []string{"agent_id", "task_id"}, true
	case WorkOrderCompleted:
		return &WorkOrderCompletedPayload{}, []string{"agent_id", "work_order_id", "staging_id"}, true
	case OperationCompleted:
		return &OperationCompletedPayload{}, nil, true
	}
	return nil, nil, false
}
