package sim

import "container/heap"

// eventSlice is the heap.Interface backing store. Ties on tick break by
// EventTypePriority and then by scheduling order.
type eventSlice []Event

func (q eventSlice) Len() int { return len(q) }

func (q eventSlice) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Timestamp() != b.Timestamp() {
		return a.Timestamp() < b.Timestamp()
	}
	if pa, pb := EventTypePriority[a.Type()], EventTypePriority[b.Type()]; pa != pb {
		return pa < pb
	}
	return a.EventID() < b.EventID()
}

func (q eventSlice) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventSlice) Push(x any) { *q = append(*q, x.(Event)) }

func (q *eventSlice) Pop() any {
	old := *q
	n := len(old) - 1
	e := old[n]
	old[n] = nil
	*q = old[:n]
	return e
}

// EventHeap is the kernel's pending-event queue. Schedule stamps each event
// with a monotonically increasing ID, so two events at the same tick and
// priority pop in the order they were scheduled.
type EventHeap struct {
	q      eventSlice
	nextID uint64
}

func NewEventHeap() *EventHeap {
	return &EventHeap{}
}

func (h *EventHeap) Len() int { return h.q.Len() }

type idSetter interface{ setID(uint64) }

// Schedule stamps e with the next event ID and queues it.
func (h *EventHeap) Schedule(e Event) {
	h.nextID++
	if s, ok := e.(idSetter); ok {
		s.setID(h.nextID)
	}
	heap.Push(&h.q, e)
}

// PopNext removes and returns the earliest event, or nil when empty.
func (h *EventHeap) PopNext() Event {
	if len(h.q) == 0 {
		return nil
	}
	return heap.Pop(&h.q).(Event)
}

// Peek returns the earliest event without removing it.
func (h *EventHeap) Peek() Event {
	if len(h.q) == 0 {
		return nil
	}
	return h.q[0]
}
