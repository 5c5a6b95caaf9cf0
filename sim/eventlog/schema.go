package eventlog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed events.schema.json
var eventsSchema string

// Validator checks raw lines against the embedded event schema. Decode only
// enforces what it needs to build a Record; the schema also pins required
// payload keys and value ranges per event type.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	s, err := jsonschema.CompileString("events.schema.json", eventsSchema)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// ValidateLine reports ErrMalformedEvent for a line that is not JSON or does
// not satisfy the schema.
func (v *Validator) ValidateLine(line []byte) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Validate encodes r and checks the result.
func (v *Validator) Validate(r Record) error {
	b, err := Encode(r)
	if err != nil {
		return err
	}
	return v.ValidateLine(b)
}
