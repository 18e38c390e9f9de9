package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BadgerOps/clinicvault/internal/archive"
	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/safety"
	"github.com/BadgerOps/clinicvault/internal/store"
)

const restoreSuccess = "Restore completed successfully"

// RestoreReport summarizes a completed restore.
type RestoreReport struct {
	OperationID string
	// Counts holds inserted rows per collection. Collections that had no
	// records are absent.
	Counts             map[string]int
	ExportedAt         time.Time
	RestoredAt         time.Time
	AssetsRestored     int
	SkippedAssets      []string
	SettingsRestored   bool
	SkippedCollections []string
	Message            string
}

type restoreDetails struct {
	ExportedAt time.Time      `json:"exportedAt"`
	RestoredAt time.Time      `json:"restoredAt"`
	Counts     map[string]int `json:"counts"`
	Source     string         `json:"source,omitempty"`
}

// staged holds what was taken out of an archive before the database
// transaction started.
type staged struct {
	dir      string
	assets   []string
	writes   map[string]int
	skipped  []string
	settings []byte
	hasSet   bool
}

func (s *staged) cleanup() {
	if s != nil && s.dir != "" {
		_ = os.RemoveAll(s.dir)
	}
}

// Restore replaces the clinic state with the contents of a backup file.
//
// The database is replaced in one transaction: on any error before commit
// it is left exactly as it was. Assets and settings are written after the
// commit; if that fails the report is still returned, together with an
// *AssetRestoreError.
func (m *BackupManager) Restore(ctx context.Context, path string) (*RestoreReport, error) {
	opID := newOperationID()
	tr := m.track(opID, OperationRestore, path)

	report, err := m.restoreFile(ctx, opID, path, tr)
	tr.Finish(err)
	return report, err
}

func (m *BackupManager) restoreFile(ctx context.Context, opID, path string, tr *OperationTracker) (*RestoreReport, error) {
	src, err := ClassifySource(path)
	if err != nil {
		return nil, err
	}

	switch src.Kind {
	case SourceArchive:
		r, err := archive.Open(src.Path)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		man, err := r.Manifest()
		if err != nil {
			return nil, err
		}
		return m.restore(ctx, opID, man, r, src.Path, tr)
	default:
		man, err := readManifestFile(src.Path)
		if err != nil {
			return nil, err
		}
		return m.restore(ctx, opID, man, nil, src.Path, tr)
	}
}

// RestoreManifest restores an in-memory manifest. There are no assets or
// settings to write.
func (m *BackupManager) RestoreManifest(ctx context.Context, man *manifest.Manifest) (*RestoreReport, error) {
	if man == nil {
		return nil, &InputError{Msg: "manifest is required"}
	}
	if err := man.Validate(); err != nil {
		return nil, err
	}

	opID := newOperationID()
	tr := m.track(opID, OperationRestore, "")

	report, err := m.restore(ctx, opID, man, nil, "", tr)
	tr.Finish(err)
	return report, err
}

func (m *BackupManager) restore(ctx context.Context, opID string, man *manifest.Manifest, r *archive.Reader, source string, tr *OperationTracker) (*RestoreReport, error) {
	if _, ok := manifest.Lookup(man.FormatVersion); !ok {
		return nil, &manifest.FormatError{Reason: "unsupported version: " + man.FormatVersion, Version: man.FormatVersion}
	}

	m.logger.Info("restore starting",
		"operation_id", opID,
		"source", source,
		"version", man.FormatVersion,
		"exported_at", man.ExportedAt,
	)

	var stage *staged
	if r != nil {
		tr.SetPhase(PhaseStaging)
		var err error
		stage, err = m.stage(r)
		if err != nil {
			return nil, err
		}
		defer stage.cleanup()
	}

	tr.SetPhase(PhaseCommitting)
	tr.SetTotal(insertedCollections(man))

	counts := make(map[string]int)
	err := m.data.InTx(ctx, func(tx *store.Tx) error {
		for _, e := range store.DeleteOrder() {
			if _, err := tx.DeleteAll(ctx, e.Table); err != nil {
				return err
			}
		}
		for _, e := range store.InsertOrder() {
			records := man.Data[e.Collection]
			if len(records) == 0 {
				continue
			}
			rows := make([]store.Record, len(records))
			for i, rec := range records {
				rows[i] = store.Record(rec)
			}
			n, err := tx.BulkInsert(ctx, e.Table, rows)
			if err != nil {
				return err
			}
			if n > 0 {
				counts[e.Collection] = n
			}
			tr.CollectionDone(e.Collection, n)
		}
		return nil
	})
	if err != nil {
		m.logger.Error("restore rolled back", "operation_id", opID, "error", err)
		return nil, &StorageError{Op: "restoring database", Err: err}
	}

	report := &RestoreReport{
		OperationID:        opID,
		Counts:             counts,
		ExportedAt:         man.ExportedAt,
		RestoredAt:         m.now(),
		SkippedCollections: skippedCollections(man),
	}

	m.recordAudit(ctx, opID, store.AuditBackupRestored, restoreDetails{
		ExportedAt: report.ExportedAt,
		RestoredAt: report.RestoredAt,
		Counts:     counts,
		Source:     source,
	})

	var fileErr error
	if stage != nil {
		tr.SetPhase(PhaseApplying)
		fileErr = m.applyStaged(stage, report)
	}
	report.Message = restoreMessage(report.AssetsRestored, stage != nil && stage.hasSet)
	tr.SetMessage(report.Message)

	m.logger.Info("restore completed",
		"operation_id", opID,
		"counts", counts,
		"assets", report.AssetsRestored,
		"settings", report.SettingsRestored,
	)
	if len(report.SkippedCollections) > 0 {
		m.logger.Warn("collections not restored", "operation_id", opID, "collections", report.SkippedCollections)
	}
	if fileErr != nil {
		m.logger.Error("restore file step failed", "operation_id", opID, "error", fileErr)
		return report, fileErr
	}
	return report, nil
}

// stage extracts assets and reads settings before any database change so
// that a broken archive aborts the restore cleanly. The staging directory
// sits beside the asset directory, keeping the later renames on one
// filesystem.
func (m *BackupManager) stage(r *archive.Reader) (*staged, error) {
	st := &staged{}

	settings, ok, err := r.Settings()
	if err != nil {
		return nil, err
	}
	st.settings, st.hasSet = settings, ok

	uploads := m.config.UploadsPath()
	if uploads == "" {
		if len(r.Assets()) > 0 {
			m.logger.Warn("no uploads directory configured, archive assets ignored")
		}
		return st, nil
	}

	parent := filepath.Dir(uploads)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating asset parent directory: %w", err)
	}
	st.dir, err = os.MkdirTemp(parent, ".clinicvault-staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	extracted, err := r.ExtractAssets(st.dir)
	if err != nil {
		st.cleanup()
		return nil, fmt.Errorf("staging assets: %w", err)
	}
	// Entries sharing a leaf name overwrite each other in staging; the last
	// one wins and is moved once, but every write is counted.
	st.writes = make(map[string]int, len(extracted.Written))
	for _, name := range extracted.Written {
		if st.writes[name] == 0 {
			st.assets = append(st.assets, name)
		}
		st.writes[name]++
	}
	st.skipped = extracted.Skipped
	return st, nil
}

// applyStaged moves staged assets into the asset directory and writes the
// settings file. Every file is attempted; failures are collected.
func (m *BackupManager) applyStaged(st *staged, report *RestoreReport) error {
	report.SkippedAssets = st.skipped
	partial := &AssetRestoreError{}
	var errs []error

	if st.dir != "" {
		uploads := m.config.UploadsPath()
		if err := os.MkdirAll(uploads, 0o755); err != nil {
			partial.Failed = append(partial.Failed, st.assets...)
			errs = append(errs, fmt.Errorf("creating asset directory: %w", err))
		} else {
			for _, name := range st.assets {
				dest, err := safety.SafeJoinUnder(uploads, name)
				if err == nil {
					err = os.Rename(filepath.Join(st.dir, name), dest)
				}
				if err != nil {
					partial.Failed = append(partial.Failed, name)
					errs = append(errs, err)
					continue
				}
				report.AssetsRestored += st.writes[name]
			}
		}
	}

	if st.hasSet {
		path := m.config.SettingsPath()
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err == nil {
			err = writeFileAtomic(path, st.settings, 0o644)
		}
		if err != nil {
			partial.Settings = true
			errs = append(errs, fmt.Errorf("writing settings: %w", err))
		} else {
			report.SettingsRestored = true
		}
	}

	if len(partial.Failed) == 0 && !partial.Settings {
		return nil
	}
	partial.Err = errors.Join(errs...)
	return partial
}

// insertedCollections counts the collections a restore will insert into.
func insertedCollections(man *manifest.Manifest) int {
	n := 0
	for _, e := range store.InsertOrder() {
		if len(man.Data[e.Collection]) > 0 {
			n++
		}
	}
	return n
}

// skippedCollections names collections present in the manifest that no
// table receives.
func skippedCollections(man *manifest.Manifest) []string {
	skipped := make(map[string]bool)
	for _, name := range man.Undeclared {
		skipped[name] = true
	}
	for name := range man.Data {
		if _, ok := store.EntityFor(name); !ok {
			skipped[name] = true
		}
	}

	out := make([]string, 0, len(skipped))
	for name := range skipped {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func restoreMessage(assets int, settings bool) string {
	parts := []string{restoreSuccess}
	if assets > 0 {
		parts = append(parts, fmt.Sprintf("%d asset file(s) restored", assets))
	}
	if settings {
		parts = append(parts, "settings restored")
	}
	return strings.Join(parts, "; ")
}
