// Package manifest defines the snapshot document carried inside a backup
// archive and the validation gate shared by preview and restore.
package manifest

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// SystemActor is recorded as ExportedBy when no user is authenticated.
const SystemActor = "system"

// Record is one entity row. Field names and values are opaque here; the
// data-access layer checks them against its schema on insert.
type Record map[string]any

// Metadata is the summary view of a manifest's metadata block: record
// counts and a note. It is never used for validation.
type Metadata struct {
	Counts map[string]int `json:"counts"`
	Note   string         `json:"note"`
}

// EncodeMetadata renders md as a metadata block.
func EncodeMetadata(md Metadata) (json.RawMessage, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return data, nil
}

// Manifest is a complete snapshot of the persisted entity state.
type Manifest struct {
	FormatVersion string              `json:"formatVersion"`
	ExportedAt    time.Time           `json:"exportedAt"`
	ExportedBy    string              `json:"exportedBy"`
	Data          map[string][]Record `json:"data"`

	// Metadata is kept exactly as read. Summary gives the typed view.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Undeclared lists collections present in the payload that the
	// manifest's version does not declare and whose value is not an array.
	// They cannot be restored.
	Undeclared []string `json:"-"`
}

// Encode serializes the manifest as indented JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return data, nil
}

// Validate runs an in-memory manifest through the same gate used for
// decoded payloads.
func (m *Manifest) Validate() error {
	payload, err := json.Marshal(m)
	if err != nil {
		return &FormatError{Reason: "invalid format", Err: err}
	}
	raw, err := Decode(payload)
	if err != nil {
		return err
	}
	return Validate(raw)
}

// Collection returns the records of the named collection and whether the
// collection was present at all.
func (m *Manifest) Collection(name string) ([]Record, bool) {
	recs, ok := m.Data[name]
	return recs, ok
}

// Summary reads the note and the record counts out of the metadata block.
// Entries of the wrong type are left out; the rest are still returned.
func (m *Manifest) Summary() Metadata {
	var md Metadata

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Metadata, &fields); err != nil {
		return md
	}
	_ = json.Unmarshal(fields["note"], &md.Note)

	var counts map[string]json.RawMessage
	if err := json.Unmarshal(fields["counts"], &counts); err != nil {
		return md
	}
	for name, raw := range counts {
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil || n != math.Trunc(n) {
			continue
		}
		if md.Counts == nil {
			md.Counts = make(map[string]int, len(counts))
		}
		md.Counts[name] = int(n)
	}
	return md
}

// Counts returns the number of records per present collection.
func (m *Manifest) Counts() map[string]int {
	counts := make(map[string]int, len(m.Data))
	for name, recs := range m.Data {
		counts[name] = len(recs)
	}
	return counts
}

// Raw is a manifest decoded only far enough to be validated. Collection
// payloads stay undecoded so a non-array value can be reported by name.
type Raw struct {
	FormatVersion string                     `json:"formatVersion"`
	ExportedAt    string                     `json:"exportedAt"`
	ExportedBy    string                     `json:"exportedBy"`
	Data          map[string]json.RawMessage `json:"data"`
	Metadata      json.RawMessage            `json:"metadata"`
}

// Decode parses a manifest payload into its untyped form.
func Decode(payload []byte) (*Raw, error) {
	var raw Raw
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &FormatError{Reason: "invalid format", Err: err}
	}
	return &raw, nil
}

// Parse decodes, validates and types a manifest payload. Preview and
// restore both go through here.
func Parse(payload []byte) (*Manifest, error) {
	raw, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return raw.typed()
}

func (r *Raw) typed() (*Manifest, error) {
	version, _ := Lookup(r.FormatVersion)

	m := &Manifest{
		FormatVersion: r.FormatVersion,
		ExportedBy:    r.ExportedBy,
		Data:          make(map[string][]Record),
	}

	if r.ExportedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, r.ExportedAt)
		if err != nil {
			return nil, &FormatError{Reason: "invalid exportedAt", Field: "exportedAt", Err: err}
		}
		m.ExportedAt = t.UTC()
	}

	for name, payload := range r.Data {
		if !version.Declares(name) && !isArray(payload) {
			m.Undeclared = append(m.Undeclared, name)
			continue
		}
		recs, err := decodeRecords(payload)
		if err != nil {
			return nil, &FormatError{Reason: "missing or invalid data for: " + name, Field: name, Err: err}
		}
		m.Data[name] = recs
	}
	sort.Strings(m.Undeclared)

	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		m.Metadata = r.Metadata
	}

	return m, nil
}
