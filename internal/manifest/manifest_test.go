package manifest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// validPayload returns a minimal valid manifest as a generic map so tests
// can remove or replace fields.
func validPayload(version string) map[string]any {
	data := map[string]any{}
	for _, name := range requiredCollections {
		data[name] = []any{}
	}
	data[Patients] = []any{map[string]any{"id": 1, "first_name": "Ada"}}
	return map[string]any{
		"formatVersion": version,
		"exportedAt":    "2026-03-01T10:00:00.000Z",
		"exportedBy":    SystemActor,
		"data":          data,
		"metadata":      map[string]any{"counts": map[string]int{Patients: 1}, "note": "nightly"},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestParseValidManifest(t *testing.T) {
	m, err := Parse(mustJSON(t, validPayload(LatestVersion)))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if m.FormatVersion != LatestVersion {
		t.Errorf("FormatVersion = %q, want %q", m.FormatVersion, LatestVersion)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !m.ExportedAt.Equal(want) {
		t.Errorf("ExportedAt = %v, want %v", m.ExportedAt, want)
	}
	if md := m.Summary(); md.Note != "nightly" || md.Counts[Patients] != 1 {
		t.Errorf("Summary() = %+v", md)
	}

	patients, ok := m.Collection(Patients)
	if !ok || len(patients) != 1 {
		t.Fatalf("patients = %v (present %v), want 1 record", patients, ok)
	}
	if _, isNumber := patients[0]["id"].(json.Number); !isNumber {
		t.Errorf("id decoded as %T, want json.Number", patients[0]["id"])
	}
}

func TestValidateRejectsMissingEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no version", `{"data": {}}`},
		{"empty version", `{"formatVersion": "", "data": {}}`},
		{"no data", `{"formatVersion": "3.0.0"}`},
		{"null data", `{"formatVersion": "3.0.0", "data": null}`},
		{"not json", `{"formatVersion": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected format error, got %v", err)
			}
			if !strings.Contains(err.Error(), "invalid format") {
				t.Errorf("error = %q, want it to mention invalid format", err)
			}
		})
	}
}

func TestValidateVersionGate(t *testing.T) {
	for _, v := range []string{"0.9.0", "4.0.0", "3.0", "latest"} {
		t.Run(v, func(t *testing.T) {
			_, err := Parse(mustJSON(t, validPayload(v)))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FormatError, got %v", err)
			}
			if fe.Version != v {
				t.Errorf("Version = %q, want %q", fe.Version, v)
			}
			if err.Error() != "unsupported version: "+v {
				t.Errorf("error = %q", err)
			}
		})
	}
}

func TestValidateRequiredFieldGate(t *testing.T) {
	for _, name := range requiredCollections {
		t.Run(name+"/removed", func(t *testing.T) {
			p := validPayload(LatestVersion)
			delete(p["data"].(map[string]any), name)
			assertMissingField(t, p, name)
		})
		t.Run(name+"/not array", func(t *testing.T) {
			p := validPayload(LatestVersion)
			p["data"].(map[string]any)[name] = map[string]any{"id": 1}
			assertMissingField(t, p, name)
		})
		t.Run(name+"/null", func(t *testing.T) {
			p := validPayload(LatestVersion)
			p["data"].(map[string]any)[name] = nil
			assertMissingField(t, p, name)
		})
	}
}

func assertMissingField(t *testing.T, payload map[string]any, name string) {
	t.Helper()
	_, err := Parse(mustJSON(t, payload))
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
	if fe.Field != name {
		t.Errorf("Field = %q, want %q", fe.Field, name)
	}
	if err.Error() != "missing or invalid data for: "+name {
		t.Errorf("error = %q", err)
	}
}

func TestOptionalCollectionsMayBeAbsent(t *testing.T) {
	m, err := Parse(mustJSON(t, validPayload("1.0.0")))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if _, ok := m.Collection(Payments); ok {
		t.Error("payments should be absent from a 1.0.0 manifest")
	}
}

func TestOptionalCollectionMustBeArrayWhenPresent(t *testing.T) {
	p := validPayload(LatestVersion)
	p["data"].(map[string]any)[Payments] = "nope"

	_, err := Parse(mustJSON(t, p))
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Field != Payments {
		t.Fatalf("expected format error for payments, got %v", err)
	}
}

func TestUndeclaredArrayCollectionsAreKept(t *testing.T) {
	p := validPayload("1.0.0")
	data := p["data"].(map[string]any)
	data[Payments] = []any{map[string]any{"id": 1}}
	data["loyaltyCards"] = []any{}
	data["legacyFlags"] = "on"

	m, err := Parse(mustJSON(t, p))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if recs, ok := m.Collection(Payments); !ok || len(recs) != 1 {
		t.Errorf("payments = %v (present %v), want 1 record", recs, ok)
	}
	if _, ok := m.Collection("loyaltyCards"); !ok {
		t.Error("loyaltyCards should be kept as an empty collection")
	}
	want := []string{"legacyFlags"}
	if strings.Join(m.Undeclared, ",") != strings.Join(want, ",") {
		t.Errorf("Undeclared = %v, want %v", m.Undeclared, want)
	}
}

func TestRecordContentsAreOpaque(t *testing.T) {
	p := validPayload(LatestVersion)
	p["data"].(map[string]any)[Teeth] = []any{1, map[string]any{"id": 7}}

	m, err := Parse(mustJSON(t, p))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	teeth, _ := m.Collection(Teeth)
	if len(teeth) != 2 || teeth[0] != nil || teeth[1]["id"] != json.Number("7") {
		t.Errorf("teeth = %v, want [nil {id:7}]", teeth)
	}
	if m.Counts()[Teeth] != 2 {
		t.Errorf("Counts()[teeth] = %d, want 2", m.Counts()[Teeth])
	}
}

func TestMetadataKeptVerbatim(t *testing.T) {
	p := validPayload(LatestVersion)
	p["metadata"] = map[string]any{
		"counts":     map[string]any{Patients: 2.5, Teeth: 4},
		"note":       "keep me",
		"appVersion": "1.4.2",
	}

	m, err := Parse(mustJSON(t, p))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(m.Metadata, &got); err != nil {
		t.Fatalf("Metadata is not JSON: %v", err)
	}
	if got["appVersion"] != "1.4.2" || got["note"] != "keep me" {
		t.Errorf("Metadata = %s", m.Metadata)
	}
	if counts, _ := got["counts"].(map[string]any); counts[Patients] != 2.5 {
		t.Errorf("counts = %v, want patients 2.5 untouched", got["counts"])
	}

	md := m.Summary()
	if md.Note != "keep me" {
		t.Errorf("Summary().Note = %q, want keep me", md.Note)
	}
	if _, ok := md.Counts[Patients]; ok || md.Counts[Teeth] != 4 {
		t.Errorf("Summary().Counts = %v, want only teeth", md.Counts)
	}
}

func TestMalformedMetadataHasEmptySummary(t *testing.T) {
	p := validPayload(LatestVersion)
	p["metadata"] = "free text"

	m, err := Parse(mustJSON(t, p))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if string(m.Metadata) != `"free text"` {
		t.Errorf("Metadata = %s, want the original string", m.Metadata)
	}
	if md := m.Summary(); md.Note != "" || md.Counts != nil {
		t.Errorf("Summary() = %+v, want zero value", md)
	}
}

func TestInMemoryManifestValidate(t *testing.T) {
	m := &Manifest{
		FormatVersion: LatestVersion,
		ExportedAt:    time.Now().UTC(),
		ExportedBy:    SystemActor,
		Data:          map[string][]Record{},
	}
	for _, name := range requiredCollections {
		m.Data[name] = []Record{}
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	delete(m.Data, Invoices)
	if err := m.Validate(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected format error after removing invoices, got %v", err)
	}
}

func TestVersionTable(t *testing.T) {
	supported := SupportedVersions()
	if supported[len(supported)-1] != LatestVersion {
		t.Errorf("latest supported = %q, want %q", supported[len(supported)-1], LatestVersion)
	}

	// Each version's optional set must contain the previous version's.
	for i := 1; i < len(versions); i++ {
		for _, name := range versions[i-1].Optional {
			if !versions[i].Declares(name) {
				t.Errorf("version %s drops %s declared by %s", versions[i].Name, name, versions[i-1].Name)
			}
		}
	}
}
