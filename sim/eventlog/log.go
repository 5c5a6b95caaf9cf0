package eventlog

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Log is the append-only record stream of one run. Append buffers in memory;
// Flush writes the buffer to every sink and publishes a copy to subscribers.
// Append and Flush belong to the kernel goroutine. Subscribe may be called
// from any goroutine.
type Log struct {
	sinks   []Sink
	pending []Record
	last    float64
	count   int64

	mu      sync.Mutex
	subs    map[int]chan []Record
	nextSub int
	dropped int64
}

func NewLog(sinks ...Sink) *Log {
	return &Log{sinks: sinks, subs: make(map[int]chan []Record)}
}

// Append buffers r. Timestamps must be non-decreasing in append order.
func (l *Log) Append(r Record) error {
	if l.count > 0 && r.Timestamp < l.last {
		return fmt.Errorf("%w: %s at %g after %g", ErrOutOfOrder, r.Type, r.Timestamp, l.last)
	}
	if r.Payload == nil || r.Payload.eventType() != r.Type {
		return fmt.Errorf("%w: %s payload mismatch", ErrMalformedEvent, r.Type)
	}
	l.pending = append(l.pending, r)
	l.last = r.Timestamp
	l.count++
	return nil
}

// Flush hands the buffered records to the sinks in order, then to subscribers.
// A slow subscriber misses batches rather than stalling the kernel.
func (l *Log) Flush() error {
	if len(l.pending) == 0 {
		return nil
	}
	batch := l.pending
	l.pending = nil
	for _, s := range l.sinks {
		if err := s.Write(batch); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.subs {
		cp := make([]Record, len(batch))
		copy(cp, batch)
		select {
		case ch <- cp:
		default:
			l.dropped += int64(len(cp))
			logrus.Debugf("eventlog: subscriber %d is behind, dropped %d records", id, len(cp))
		}
	}
	return nil
}

// Subscribe returns a receive-only queue of flushed batches and a cancel func
// that closes it.
func (l *Log) Subscribe(buffer int) (<-chan []Record, func()) {
	if buffer < 1 {
		buffer = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan []Record, buffer)
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}
}

// Close flushes and closes every sink, then closes all subscriber queues.
func (l *Log) Close() error {
	err := l.Flush()
	for _, s := range l.sinks {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	l.mu.Lock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	l.mu.Unlock()
	return err
}

// Len is the number of records appended so far.
func (l *Log) Len() int64 { return l.count }

// Dropped is the number of records subscribers missed.
func (l *Log) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
