package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFormat matches every FormatError via errors.Is.
var ErrFormat = errors.New("backup format error")

// FormatError reports an unusable manifest or archive. Field or Version
// name the offending part when there is one.
type FormatError struct {
	Reason  string
	Field   string
	Version string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Validate checks version support and the presence and array-ness of every
// required collection. It has no side effects.
func Validate(raw *Raw) error {
	if raw == nil || raw.FormatVersion == "" || raw.Data == nil {
		return &FormatError{Reason: "invalid format"}
	}

	version, ok := Lookup(raw.FormatVersion)
	if !ok {
		return &FormatError{
			Reason:  "unsupported version: " + raw.FormatVersion,
			Version: raw.FormatVersion,
		}
	}

	for _, name := range version.Required() {
		payload, ok := raw.Data[name]
		if !ok || !isArray(payload) {
			return &FormatError{Reason: "missing or invalid data for: " + name, Field: name}
		}
	}

	return nil
}

func isArray(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// decodeRecords decodes a collection keeping numbers exact. Record contents
// are opaque here: an element that is not an object is kept as a nil Record
// and rejected by the data-access layer on insert.
func decodeRecords(payload json.RawMessage) ([]Record, error) {
	if !isArray(payload) {
		return nil, fmt.Errorf("not an array")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var elems []any
	if err := dec.Decode(&elems); err != nil {
		return nil, err
	}
	recs := make([]Record, len(elems))
	for i, elem := range elems {
		if obj, ok := elem.(map[string]any); ok {
			recs[i] = Record(obj)
		}
	}
	return recs, nil
}
