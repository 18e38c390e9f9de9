package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/clinicvault/internal/archive"
	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/store"
)

func TestRestoreRoundTrip(t *testing.T) {
	m, st, cfg := newTestBackupManager(t)
	ctx := context.Background()
	seedClinic(t, st)
	writeTestFile(t, filepath.Join(cfg.UploadsPath(), "logo.png"), "logo")
	writeTestFile(t, filepath.Join(cfg.UploadsPath(), "p1.jpg"), "xray")
	writeTestFile(t, cfg.SettingsPath(), `{"clinicName":"Smile"}`)

	before := dumpTables(t, st)
	dest := filepath.Join(t.TempDir(), "backup.zip")
	backup, err := m.Backup(ctx, BackupOptions{Dest: dest})
	if err != nil {
		t.Fatalf("Backup() error: %v", err)
	}

	// Drift away from the snapshot.
	insertRows(t, st, "patients", store.Record{"id": int64(3), "first_name": "Cleo"})
	if err := os.RemoveAll(cfg.UploadsPath()); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, cfg.SettingsPath(), `{"clinicName":"Changed"}`)

	report, err := m.Restore(ctx, dest)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	if after := dumpTables(t, st); after != before {
		t.Errorf("restored tables differ\nbefore: %s\nafter:  %s", before, after)
	}

	for name, n := range backup.Counts {
		if n == 0 {
			if _, ok := report.Counts[name]; ok {
				t.Errorf("counts[%s] present for empty collection", name)
			}
			continue
		}
		if report.Counts[name] != n {
			t.Errorf("counts[%s] = %d, want %d", name, report.Counts[name], n)
		}
	}

	if !report.ExportedAt.Equal(testNow) {
		t.Errorf("ExportedAt = %v, want %v", report.ExportedAt, testNow)
	}
	if report.AssetsRestored != 2 || !report.SettingsRestored {
		t.Errorf("assets = %d settings = %v", report.AssetsRestored, report.SettingsRestored)
	}
	want := "Restore completed successfully; 2 asset file(s) restored; settings restored"
	if report.Message != want {
		t.Errorf("Message = %q, want %q", report.Message, want)
	}

	if got, _ := os.ReadFile(filepath.Join(cfg.UploadsPath(), "p1.jpg")); string(got) != "xray" {
		t.Errorf("p1.jpg = %q, want xray", got)
	}
	if got, _ := os.ReadFile(cfg.SettingsPath()); string(got) != `{"clinicName":"Smile"}` {
		t.Errorf("settings = %q", got)
	}

	entries, err := st.ListAudit(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Action != store.AuditBackupRestored {
		t.Fatalf("audit entries = %+v", entries)
	}
	if !strings.Contains(entries[0].Details, `"exportedAt":"2026-03-01T10:00:00Z"`) {
		t.Errorf("restore audit details = %s", entries[0].Details)
	}
}

func TestRestoreManifestInMemory(t *testing.T) {
	m, st, _ := newTestBackupManager(t)
	ctx := context.Background()
	seedClinic(t, st)
	before := dumpTables(t, st)

	man, err := m.Build(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	insertRows(t, st, "expenses", store.Record{"id": int64(1), "amount": 10.0})

	report, err := m.RestoreManifest(ctx, man)
	if err != nil {
		t.Fatalf("RestoreManifest() error: %v", err)
	}
	if report.Message != restoreSuccess {
		t.Errorf("Message = %q, want base message", report.Message)
	}
	if after := dumpTables(t, st); after != before {
		t.Errorf("restored tables differ from snapshot")
	}

	if _, err := m.RestoreManifest(ctx, nil); !errors.Is(err, ErrInput) {
		t.Errorf("RestoreManifest(nil) error = %v, want input error", err)
	}
}

func TestRestoreVersionGate(t *testing.T) {
	m, st, _ := newTestBackupManager(t)
	seedClinic(t, st)
	before := tableCounts(t, st)

	path := filepath.Join(t.TempDir(), "future.json")
	writeTestFile(t, path, manifestJSON(t, "9.9.9", requiredData()))

	_, err := m.Restore(context.Background(), path)
	var fe *manifest.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Restore() error = %v, want format error", err)
	}
	if fe.Version != "9.9.9" || err.Error() != "unsupported version: 9.9.9" {
		t.Errorf("error = %q (version %q)", err, fe.Version)
	}

	after := tableCounts(t, st)
	for name, n := range before {
		if after[name] != n {
			t.Errorf("%s changed from %d to %d", name, n, after[name])
		}
	}
}

func TestRestoreRequiredFieldGate(t *testing.T) {
	for _, name := range []string{
		manifest.Patients, manifest.MedicalHistories, manifest.Teeth,
		manifest.Appointments, manifest.Treatments, manifest.Invoices,
	} {
		for _, variant := range []string{"removed", "not an array"} {
			t.Run(name+"/"+variant, func(t *testing.T) {
				m, st, _ := newTestBackupManager(t)
				seedClinic(t, st)

				data := requiredData()
				if variant == "removed" {
					delete(data, name)
				} else {
					data[name] = map[string]any{"id": 1}
				}
				path := filepath.Join(t.TempDir(), "broken.json")
				writeTestFile(t, path, manifestJSON(t, "1.0.0", data))

				_, err := m.Restore(context.Background(), path)
				if !errors.Is(err, manifest.ErrFormat) {
					t.Fatalf("Restore() error = %v, want format error", err)
				}
				if want := "missing or invalid data for: " + name; err.Error() != want {
					t.Errorf("error = %q, want %q", err, want)
				}
				if n, _ := st.CountRows(context.Background(), "patients"); n != 2 {
					t.Errorf("patients = %d after rejected restore, want 2", n)
				}
			})
		}
	}
}

func TestRestoreTraversalContainment(t *testing.T) {
	m, _, cfg := newTestBackupManager(t)

	path := filepath.Join(t.TempDir(), "hostile.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry:     manifestJSON(t, "1.0.0", requiredData()),
		"uploads/../../evil.bin":  "evil",
		"uploads/..\\..\\win.bin": "win",
	})

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if report.AssetsRestored != 2 {
		t.Errorf("AssetsRestored = %d, want 2", report.AssetsRestored)
	}

	uploads := cfg.UploadsPath()
	for _, name := range []string{"evil.bin", "win.bin"} {
		if _, err := os.Stat(filepath.Join(uploads, name)); err != nil {
			t.Errorf("%s not restored inside the asset directory: %v", name, err)
		}
		for _, outside := range []string{filepath.Dir(uploads), filepath.Dir(filepath.Dir(uploads))} {
			if _, err := os.Stat(filepath.Join(outside, name)); !os.IsNotExist(err) {
				t.Errorf("%s escaped into %s", name, outside)
			}
		}
	}
}

func TestRestoreSkipsHiddenAndDirectoryEntries(t *testing.T) {
	m, _, cfg := newTestBackupManager(t)

	path := filepath.Join(t.TempDir(), "mixed.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry:    manifestJSON(t, "1.0.0", requiredData()),
		"uploads/":               "",
		"uploads/scans/":         "",
		"uploads/.env":           "secret",
		"uploads/sub/.gitignore": "x",
		"uploads/ok.png":         "ok",
	})

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if report.AssetsRestored != 1 {
		t.Errorf("AssetsRestored = %d, want 1", report.AssetsRestored)
	}
	if len(report.SkippedAssets) != 2 {
		t.Errorf("SkippedAssets = %v, want the two hidden files", report.SkippedAssets)
	}

	entries, err := os.ReadDir(cfg.UploadsPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "ok.png" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("asset directory holds %v, want [ok.png]", names)
	}
}

func TestRestoreMessage(t *testing.T) {
	tests := []struct {
		name     string
		assets   int
		settings bool
		want     string
	}{
		{"neither", 0, false, "Restore completed successfully"},
		{"assets only", 3, false, "Restore completed successfully; 3 asset file(s) restored"},
		{"settings only", 0, true, "Restore completed successfully; settings restored"},
		{"both", 2, true, "Restore completed successfully; 2 asset file(s) restored; settings restored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restoreMessage(tt.assets, tt.settings); got != tt.want {
				t.Errorf("restoreMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRestoreArchiveWithoutAssetsOrSettings(t *testing.T) {
	m, _, _ := newTestBackupManager(t)

	path := filepath.Join(t.TempDir(), "plain.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry: manifestJSON(t, "1.0.0", requiredData()),
	})

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if report.Message != "Restore completed successfully" {
		t.Errorf("Message = %q, want base message", report.Message)
	}
}

func TestRestoreIsAtomic(t *testing.T) {
	m, st, cfg := newTestBackupManager(t)
	seedClinic(t, st)
	writeTestFile(t, filepath.Join(cfg.UploadsPath(), "existing.png"), "old")
	before := dumpTables(t, st)

	data := requiredData()
	data[manifest.Patients] = []any{map[string]any{"id": 7, "first_name": "Dina"}}
	// Passes the format gate, fails on insert.
	data[manifest.Teeth] = []any{map[string]any{"id": 1, "patient_id": 7, "tooth_number": 11, "shade": "A2"}}

	path := filepath.Join(t.TempDir(), "bad-rows.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry:  manifestJSON(t, "1.0.0", data),
		"uploads/existing.png": "new",
		"settings.json":        `{"clinicName":"Other"}`,
	})

	report, err := m.Restore(context.Background(), path)
	if report != nil {
		t.Errorf("expected no report on failed restore, got %+v", report)
	}
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Restore() error = %v, want storage error", err)
	}

	if after := dumpTables(t, st); after != before {
		t.Errorf("database changed by failed restore\nbefore: %s\nafter:  %s", before, after)
	}
	if got, _ := os.ReadFile(filepath.Join(cfg.UploadsPath(), "existing.png")); string(got) != "old" {
		t.Errorf("existing.png = %q, want it untouched", got)
	}
	if _, err := os.Stat(cfg.SettingsPath()); !os.IsNotExist(err) {
		t.Error("settings written by failed restore")
	}
	if got := auditCount(t, st); got != 0 {
		t.Errorf("audit entries = %d, want 0", got)
	}

	leftovers, err := os.ReadDir(filepath.Dir(cfg.UploadsPath()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range leftovers {
		if strings.HasPrefix(e.Name(), ".clinicvault-staging-") {
			t.Errorf("staging directory %s left behind", e.Name())
		}
	}
}

func TestRestoreCorruptArchiveChangesNothing(t *testing.T) {
	m, st, _ := newTestBackupManager(t)
	seedClinic(t, st)
	before := dumpTables(t, st)

	path := filepath.Join(t.TempDir(), "corrupt.zip")
	writeTestFile(t, path, "PK\x03\x04 definitely not a full archive")

	_, err := m.Restore(context.Background(), path)
	if !errors.Is(err, manifest.ErrFormat) {
		t.Fatalf("Restore() error = %v, want format error", err)
	}
	if after := dumpTables(t, st); after != before {
		t.Error("database changed by corrupt archive")
	}
}

func TestRestoreOlderVersion(t *testing.T) {
	m, st, _ := newTestBackupManager(t)
	seedClinic(t, st)
	insertRows(t, st, "expenses", store.Record{"id": int64(1), "amount": 25.0})

	data := requiredData()
	data[manifest.Patients] = []any{
		map[string]any{"id": 1, "first_name": "Ana"},
		map[string]any{"id": 2, "first_name": "Ben"},
	}
	data[manifest.Teeth] = []any{map[string]any{"id": 1, "patient_id": 1, "tooth_number": 11}}
	data[manifest.Invoices] = []any{map[string]any{"id": 1, "patient_id": 1, "total": 5}}
	// Introduced after 1.0.0 but a table exists for it, so it is restored.
	data[manifest.Payments] = []any{map[string]any{"id": 1, "invoice_id": 1, "amount": 5}}
	// Neither declared nor an array.
	data["legacyFlags"] = "on"

	path := filepath.Join(t.TempDir(), "v1.json")
	writeTestFile(t, path, manifestJSON(t, "1.0.0", data))

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	want := map[string]int{manifest.Patients: 2, manifest.Teeth: 1, manifest.Invoices: 1, manifest.Payments: 1}
	if len(report.Counts) != len(want) {
		t.Errorf("Counts = %v, want %v", report.Counts, want)
	}
	for name, n := range want {
		if report.Counts[name] != n {
			t.Errorf("Counts[%s] = %d, want %d", name, report.Counts[name], n)
		}
	}
	if len(report.SkippedCollections) != 1 || report.SkippedCollections[0] != "legacyFlags" {
		t.Errorf("SkippedCollections = %v, want [legacyFlags]", report.SkippedCollections)
	}

	counts := tableCounts(t, st)
	if counts[manifest.Payments] != 1 {
		t.Errorf("payments = %d, want 1", counts[manifest.Payments])
	}
	if counts[manifest.Expenses] != 0 {
		t.Errorf("tables not cleared by full restore: %v", counts)
	}
}

func TestRestoreUnknownArrayCollectionIsSkipped(t *testing.T) {
	m, _, _ := newTestBackupManager(t)

	data := requiredData()
	data["referralPartners"] = []any{map[string]any{"id": 1}}
	path := filepath.Join(t.TempDir(), "extra.json")
	writeTestFile(t, path, manifestJSON(t, "3.0.0", data))

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if len(report.SkippedCollections) != 1 || report.SkippedCollections[0] != "referralPartners" {
		t.Errorf("SkippedCollections = %v, want [referralPartners]", report.SkippedCollections)
	}
}

func TestRestoreCountsAssetsSharingLeafName(t *testing.T) {
	m, _, cfg := newTestBackupManager(t)

	path := filepath.Join(t.TempDir(), "dupes.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry: manifestJSON(t, "1.0.0", requiredData()),
		"uploads/a/x.png":     "first",
		"uploads/b/x.png":     "second",
		"uploads/y.png":       "y",
	})

	report, err := m.Restore(context.Background(), path)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if report.AssetsRestored != 3 {
		t.Errorf("AssetsRestored = %d, want 3", report.AssetsRestored)
	}
	if want := "Restore completed successfully; 3 asset file(s) restored"; report.Message != want {
		t.Errorf("Message = %q, want %q", report.Message, want)
	}

	entries, err := os.ReadDir(cfg.UploadsPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("asset directory holds %d files, want 2", len(entries))
	}
}

func TestRestoreNonObjectRecordFailsOnInsert(t *testing.T) {
	m, st, _ := newTestBackupManager(t)
	seedClinic(t, st)
	before := dumpTables(t, st)

	data := requiredData()
	data[manifest.Patients] = []any{map[string]any{"id": 9, "first_name": "Ivy"}, 42}
	path := filepath.Join(t.TempDir(), "scalar.json")
	writeTestFile(t, path, manifestJSON(t, "1.0.0", data))

	if _, err := m.Preview(context.Background(), path); err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	_, err := m.Restore(context.Background(), path)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Restore() error = %v, want storage error", err)
	}
	if after := dumpTables(t, st); after != before {
		t.Errorf("database changed by failed restore")
	}
}

func TestRestorePartialAssetFailure(t *testing.T) {
	m, st, cfg := newTestBackupManager(t)
	// A regular file where the asset directory should be.
	writeTestFile(t, cfg.UploadsPath(), "not a directory")

	data := requiredData()
	data[manifest.Patients] = []any{map[string]any{"id": 1, "first_name": "Ana"}}
	path := filepath.Join(t.TempDir(), "assets.zip")
	writeRawArchive(t, path, map[string]string{
		archive.ManifestEntry: manifestJSON(t, "1.0.0", data),
		"uploads/a.png":       "a",
		"settings.json":       `{"clinicName":"Smile"}`,
	})

	report, err := m.Restore(context.Background(), path)
	if !errors.Is(err, ErrPartialRestore) {
		t.Fatalf("Restore() error = %v, want partial restore error", err)
	}
	var are *AssetRestoreError
	if !errors.As(err, &are) || len(are.Failed) != 1 || are.Failed[0] != "a.png" {
		t.Errorf("AssetRestoreError = %+v", are)
	}

	if report == nil {
		t.Fatal("expected report alongside partial error")
	}
	if report.Counts[manifest.Patients] != 1 || report.AssetsRestored != 0 || !report.SettingsRestored {
		t.Errorf("report = %+v", report)
	}
	if n, _ := st.CountRows(context.Background(), "patients"); n != 1 {
		t.Errorf("patients = %d, want database restored", n)
	}

	progress := m.ActiveTracker().Snapshot()
	if progress.Phase != PhaseComplete || progress.Error == "" {
		t.Errorf("progress = %s / %q, want complete with error", progress.Phase, progress.Error)
	}
}

func TestRestoreInputErrors(t *testing.T) {
	m, _, _ := newTestBackupManager(t)
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "backup.txt"), "{}")

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"wrong extension", filepath.Join(dir, "backup.txt")},
		{"missing", filepath.Join(dir, "missing.zip")},
		{"directory", dir + ".zip"},
	}
	if err := os.Mkdir(dir+".zip", 0o755); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Restore(context.Background(), tt.path); !errors.Is(err, ErrInput) {
				t.Errorf("Restore(%q) error = %v, want input error", tt.path, err)
			}
		})
	}
}
