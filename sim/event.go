package sim

import "github.com/sirupsen/logrus"

// EventType names a kernel event kind.
type EventType string

const (
	EventTypeTick     EventType = "Tick"
	EventTypeDeadline EventType = "Deadline"
)

// EventTypePriority orders events that share a timestamp: the tick at the
// deadline still runs before the deadline ends the run.
var EventTypePriority = map[EventType]int{
	EventTypeTick:     0,
	EventTypeDeadline: 1,
}

// Event is a kernel event scheduled at a tick index.
type Event interface {
	Timestamp() int64
	EventID() uint64
	Type() EventType
	Execute(*Simulator)
}

// BaseEvent provides common event fields. eventID is assigned by the heap.
type BaseEvent struct {
	timestamp int64
	eventID   uint64
	eventType EventType
}

func (e *BaseEvent) Timestamp() int64 { return e.timestamp }
func (e *BaseEvent) EventID() uint64  { return e.eventID }
func (e *BaseEvent) Type() EventType  { return e.eventType }

func (e *BaseEvent) setID(id uint64) { e.eventID = id }

// TickEvent pumps every agent once, flushes the log, and schedules the next tick.
type TickEvent struct {
	BaseEvent
}

func NewTickEvent(tick int64) *TickEvent {
	return &TickEvent{BaseEvent{timestamp: tick, eventType: EventTypeTick}}
}

func (e *TickEvent) Execute(s *Simulator) {
	if s.stopRequested() {
		s.end(endStopped)
		return
	}
	s.step()
	if s.err != nil {
		s.end(endStopped)
		return
	}
	s.render()
	if s.drained() {
		s.end(endDrained)
		return
	}
	if s.stalled() {
		logrus.Warnf("[t=%.1f] no agent made progress for %.1f s", s.Now(), float64(s.stallTicks)*s.cfg.Timing.TickSeconds)
		s.end(endStalled)
		return
	}
	s.Schedule(NewTickEvent(e.timestamp + 1))
	s.pace()
}

// DeadlineEvent ends the run at the configured virtual time.
type DeadlineEvent struct {
	BaseEvent
}

func NewDeadlineEvent(tick int64) *DeadlineEvent {
	return &DeadlineEvent{BaseEvent{timestamp: tick, eventType: EventTypeDeadline}}
}

func (e *DeadlineEvent) Execute(s *Simulator) {
	logrus.Infof("[t=%.1f] deadline reached", s.Now())
	s.end(endDeadline)
}
