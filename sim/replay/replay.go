// Package replay plays back a recorded event stream. It rebuilds agent,
// work order and staging state from the records alone and never runs the
// kernel, dispatcher or pathfinder.
package replay

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
)

// Speeds are the playback multipliers, slowest first.
var Speeds = []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64}

const defaultSpeed = 2 // index of 1x

// Replay owns a playback clock over a recorded stream. It is not safe for
// concurrent use; Drive serializes commands and frames on one goroutine.
type Replay struct {
	records  []eventlog.Record
	next     int
	clock    float64
	speedIdx int
	paused   bool
	pinned   bool
	state    State
}

// New wraps records already in timestamp order. Records that step back in
// time are dropped with a warning.
func New(records []eventlog.Record) *Replay {
	kept := make([]eventlog.Record, 0, len(records))
	last := 0.0
	for i, r := range records {
		if len(kept) > 0 && r.Timestamp < last {
			logrus.Warnf("replay: skipping record %d (%s at %g after %g): %v", i, r.Type, r.Timestamp, last, eventlog.ErrOutOfOrder)
			continue
		}
		kept = append(kept, r)
		last = r.Timestamp
	}
	return &Replay{records: kept, speedIdx: defaultSpeed, state: newState()}
}

// Load reads a stream in any supported encoding. A non-nil validator drops
// records that violate the event schema.
func Load(path string, v *eventlog.Validator) (*Replay, error) {
	recs, err := eventlog.OpenFile(path, v)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w: no records", path, eventlog.ErrMalformedEvent)
	}
	return New(recs), nil
}

// Frame advances the playback clock by dt·speed and applies every record
// due by then. Paused or pinned playback does not move.
func (r *Replay) Frame(dt float64) {
	if r.paused || r.pinned || dt <= 0 {
		return
	}
	r.clock += dt * Speeds[r.speedIdx]
	r.consume()
}

func (r *Replay) consume() {
	for r.next < len(r.records) && r.records[r.next].Timestamp <= r.clock {
		rec := r.records[r.next]
		r.next++
		r.state.apply(rec)
		if rec.Type == eventlog.SimulationEnd {
			r.pinned = true
			r.clock = rec.Timestamp
			return
		}
	}
}

// SeekTo rebuilds state from the start of the stream up to t. Seeking back
// from a pinned end unpins playback.
func (r *Replay) SeekTo(t float64) {
	if t < 0 {
		t = 0
	}
	r.state = newState()
	r.next = 0
	r.pinned = false
	r.clock = t
	r.consume()
}

// RunToEnd applies every remaining record.
func (r *Replay) RunToEnd() {
	if r.pinned {
		return
	}
	if n := len(r.records); n > 0 {
		r.clock = max(r.clock, r.records[n-1].Timestamp)
	}
	r.consume()
}

func (r *Replay) Pause()  { r.paused = true }
func (r *Replay) Resume() { r.paused = false }

// SetSpeed selects one of Speeds.
func (r *Replay) SetSpeed(s float64) error {
	for i, v := range Speeds {
		if v == s {
			r.speedIdx = i
			return nil
		}
	}
	return fmt.Errorf("unsupported playback speed %gx", s)
}

// SpeedUp moves to the next faster speed, stopping at the fastest.
func (r *Replay) SpeedUp() {
	if r.speedIdx < len(Speeds)-1 {
		r.speedIdx++
	}
}

// SlowDown moves to the next slower speed, stopping at the slowest.
func (r *Replay) SlowDown() {
	if r.speedIdx > 0 {
		r.speedIdx--
	}
}

func (r *Replay) Clock() float64 { return r.clock }
func (r *Replay) Speed() float64 { return Speeds[r.speedIdx] }
func (r *Replay) Paused() bool   { return r.paused }

// Pinned reports whether SIMULATION_END has been consumed.
func (r *Replay) Pinned() bool { return r.pinned }

// Consumed is the number of records applied so far.
func (r *Replay) Consumed() int { return r.next }

// Records are the playable records in order. Callers must not modify them.
func (r *Replay) Records() []eventlog.Record { return r.records }

// Len is the number of playable records.
func (r *Replay) Len() int { return len(r.records) }

// State is the reconstructed state. It is owned by the Replay and changes
// on the next Frame; copy what must outlive it.
func (r *Replay) State() *State { return &r.state }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
