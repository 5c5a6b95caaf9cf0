package replay

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
)

// Agent is an agent as reconstructed from the stream.
type Agent struct {
	ID          string
	Kind        string
	Status      string
	Position    [2]float64
	WorkOrderID string
	Note        string
	Capacity    int
	TourLength  float64 // pixels between successive reported positions
	Tasks       int     // task_completed records
	placed      bool
}

// WorkOrder is a work order as reconstructed from the stream.
type WorkOrder struct {
	ID           string
	Status       string
	Location     [2]int
	SKU          string
	QtyInitial   int
	QtyRemaining int
	AssignedTo   string
	QtyStaged    int
}

// State is everything a renderer needs for one frame.
type State struct {
	Config     *eventlog.RunConfig
	Agents     map[string]*Agent
	WorkOrders map[string]*WorkOrder
	// Staging maps staging id → work order id → units delivered.
	Staging   map[int]map[string]int
	Completed int
	Ended     bool
	EndReason string
	Summary   *eventlog.Summary
}

func newState() State {
	return State{
		Agents:     make(map[string]*Agent),
		WorkOrders: make(map[string]*WorkOrder),
		Staging:    make(map[int]map[string]int),
	}
}

// AgentIDs returns agent ids in ascending order.
func (s *State) AgentIDs() []string {
	return sortedKeys(s.Agents)
}

func (s *State) apply(r eventlog.Record) {
	switch p := r.Payload.(type) {
	case *eventlog.StartPayload:
		cfg := p.Config
		s.Config = &cfg
		for _, a := range cfg.Agents {
			s.Agents[a.ID] = &Agent{
				ID:       a.ID,
				Kind:     a.Type,
				Status:   "idle",
				Position: a.Position,
				Capacity: a.Capacity,
				placed:   true,
			}
		}
		for _, w := range p.InitialWorkOrders {
			s.WorkOrders[w.ID] = &WorkOrder{
				ID:           w.ID,
				Status:       w.Status,
				Location:     w.Location,
				SKU:          w.SKU,
				QtyInitial:   w.QtyInitial,
				QtyRemaining: w.QtyRemaining,
			}
		}
	case *eventlog.AgentStatePayload:
		a := s.Agents[p.AgentID]
		if a == nil {
			a = &Agent{ID: p.AgentID, Kind: p.AgentType}
			s.Agents[p.AgentID] = a
		}
		if a.placed {
			a.TourLength += math.Hypot(p.Position[0]-a.Position[0], p.Position[1]-a.Position[1])
		}
		a.placed = true
		a.Position = p.Position
		a.Status = p.Status
		a.WorkOrderID = p.WorkOrderID
		a.Note = p.Note
	case *eventlog.WorkOrderUpdatePayload:
		w := s.WorkOrders[p.ID]
		if w == nil {
			w = &WorkOrder{ID: p.ID, QtyInitial: p.QtyRemaining}
			s.WorkOrders[p.ID] = w
		}
		w.Status = p.Status
		w.Location = p.Location
		w.SKU = p.SKU
		w.QtyRemaining = p.QtyRemaining
		w.AssignedTo = p.AssignedTo
		if p.StagingID != 0 && p.QtyStaged > w.QtyStaged {
			m := s.Staging[p.StagingID]
			if m == nil {
				m = make(map[string]int)
				s.Staging[p.StagingID] = m
			}
			m[p.ID] += p.QtyStaged - w.QtyStaged
			w.QtyStaged = p.QtyStaged
		}
	case *eventlog.TaskCompletedPayload:
		if a := s.Agents[p.AgentID]; a != nil {
			a.Tasks++
		}
	case *eventlog.WorkOrderCompletedPayload:
		s.Completed++
	case *eventlog.EndPayload:
		s.Ended = true
		s.EndReason = p.Reason
		s.Completed = p.TotalCompleted
		s.Summary = p.Summary
	case *eventlog.OperationCompletedPayload:
	default:
		logrus.Debugf("replay: ignoring %s record", r.Type)
	}
}
