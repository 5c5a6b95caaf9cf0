package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Encode renders r as one JSON object without a trailing newline. Key order is
// fixed: timestamp, event_type, payload keys in declaration order, then extra
// keys sorted by name. Equal records therefore encode to equal bytes.
func Encode(r Record) ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("%w: %s record has no payload", ErrMalformedEvent, r.Type)
	}
	if r.Payload.eventType() != r.Type {
		return nil, fmt.Errorf("%w: %s record carries a %s payload", ErrMalformedEvent, r.Type, r.Payload.eventType())
	}
	if math.IsNaN(r.Timestamp) || math.IsInf(r.Timestamp, 0) {
		return nil, fmt.Errorf("%w: non-finite timestamp", ErrMalformedEvent)
	}
	body, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	ts, err := json.Marshal(r.Timestamp)
	if err != nil {
		return nil, err
	}
	et, err := json.Marshal(string(r.Type))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 48)
	buf.WriteString(`{"timestamp":`)
	buf.Write(ts)
	buf.WriteString(`,"event_type":`)
	buf.Write(et)
	if inner := body[1 : len(body)-1]; len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	if len(r.Extra) > 0 {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			kb, _ := json.Marshal(k)
			buf.WriteByte(',')
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(r.Extra[k])
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one JSON object. Unknown top-level keys are kept in Extra.
func Decode(line []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	tsRaw, ok := raw["timestamp"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}
	var ts float64
	if err := json.Unmarshal(tsRaw, &ts); err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedEvent, err)
	}
	if ts < 0 {
		return Record{}, fmt.Errorf("%w: negative timestamp %g", ErrMalformedEvent, ts)
	}
	etRaw, ok := raw["event_type"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing event_type", ErrMalformedEvent)
	}
	var et string
	if err := json.Unmarshal(etRaw, &et); err != nil {
		return Record{}, fmt.Errorf("%w: event_type: %v", ErrMalformedEvent, err)
	}
	p, keys, ok := newPayload(EventType(et))
	if !ok {
		return Record{}, fmt.Errorf("%w: unknown event_type %q", ErrMalformedEvent, et)
	}
	if len(keys) > 0 {
		if err := json.Unmarshal(line, p); err != nil {
			return Record{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, et, err)
		}
	}

	delete(raw, "timestamp")
	delete(raw, "event_type")
	for _, k := range keys {
		delete(raw, k)
	}
	rec := Record{Timestamp: ts, Type: EventType(et), Payload: p}
	if len(raw) > 0 {
		rec.Extra = raw
	}
	return rec, nil
}
