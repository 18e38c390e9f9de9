package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/clinicvault/internal/archive"
	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/store"
)

// BackupOptions configures a backup operation.
type BackupOptions struct {
	// Dest is the file to create. A .zip destination gets assets and
	// settings; a .json destination gets the manifest alone. Empty means a
	// timestamped archive in the configured output directory.
	Dest string
	Note string
}

// BackupReport summarizes a completed backup.
type BackupReport struct {
	OperationID   string
	Path          string
	Kind          SourceKind
	Size          int64
	Counts        map[string]int
	Assets        int
	SkippedAssets []string
	Settings      bool
	ExportedAt    time.Time
	Duration      time.Duration
}

type backupDetails struct {
	Path       string         `json:"path,omitempty"`
	ExportedAt time.Time      `json:"exportedAt"`
	Counts     map[string]int `json:"counts"`
	Assets     int            `json:"assets,omitempty"`
}

// Build snapshots every entity table into a manifest at the latest format
// version and records the snapshot in the audit log.
func (m *BackupManager) Build(ctx context.Context, note string) (*manifest.Manifest, error) {
	man, err := m.snapshot(ctx, note, nil)
	if err != nil {
		return nil, err
	}

	m.recordAudit(ctx, newOperationID(), store.AuditBackupCreated, backupDetails{
		ExportedAt: man.ExportedAt,
		Counts:     man.Counts(),
	})
	return man, nil
}

func (m *BackupManager) snapshot(ctx context.Context, note string, tr *OperationTracker) (*manifest.Manifest, error) {
	man := &manifest.Manifest{
		FormatVersion: manifest.LatestVersion,
		ExportedAt:    m.now(),
		ExportedBy:    m.actor(),
		Data:          make(map[string][]manifest.Record),
	}

	order := store.InsertOrder()
	tr.SetTotal(len(order))
	for _, e := range order {
		rows, err := m.data.ReadAll(ctx, e.Table)
		if err != nil {
			return nil, &StorageError{Op: "reading " + e.Collection, Err: err}
		}
		records := make([]manifest.Record, len(rows))
		for i, row := range rows {
			records[i] = manifest.Record(row)
		}
		man.Data[e.Collection] = records
		tr.CollectionDone(e.Collection, len(records))
	}

	md := manifest.Metadata{Counts: man.Counts(), Note: note}
	if md.Note == "" {
		md.Note = m.config.Backup.Note
	}
	if md.Note == "" {
		md.Note = summaryNote(md.Counts)
	}
	block, err := manifest.EncodeMetadata(md)
	if err != nil {
		return nil, err
	}
	man.Metadata = block
	return man, nil
}

// Backup snapshots the database and writes it to opts.Dest. The destination
// is only created once the whole file has been written.
func (m *BackupManager) Backup(ctx context.Context, opts BackupOptions) (*BackupReport, error) {
	opID := newOperationID()
	tr := m.track(opID, OperationBackup, opts.Dest)

	report, err := m.backup(ctx, opID, opts, tr)
	tr.Finish(err)
	return report, err
}

func (m *BackupManager) backup(ctx context.Context, opID string, opts BackupOptions, tr *OperationTracker) (*BackupReport, error) {
	startTime := time.Now()

	dest := opts.Dest
	if dest == "" {
		dest = filepath.Join(m.config.BackupOutputDir(),
			fmt.Sprintf("clinicvault-backup-%s.zip", m.now().Format("20060102-150405")))
	}
	kind, err := kindForPath(dest)
	if err != nil {
		return nil, err
	}

	m.logger.Info("backup starting", "operation_id", opID, "dest", dest, "kind", kind)

	man, err := m.snapshot(ctx, opts.Note, tr)
	if err != nil {
		return nil, err
	}
	tr.SetPhase(PhaseWriting)
	payload, err := man.Encode()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	report := &BackupReport{
		OperationID: opID,
		Path:        dest,
		Kind:        kind,
		Counts:      man.Counts(),
		ExportedAt:  man.ExportedAt,
	}

	switch kind {
	case SourceArchive:
		wr, err := archive.Write(dest, payload, archive.WriteOptions{
			AssetsDir:    m.config.UploadsPath(),
			SettingsPath: m.config.SettingsPath(),
			Method:       m.config.Backup.Compression,
			Modified:     man.ExportedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("writing archive: %w", err)
		}
		report.Size = wr.Size
		report.Assets = len(wr.Assets)
		report.SkippedAssets = wr.Skipped
		report.Settings = wr.Settings
	case SourceManifest:
		if err := writeFileAtomic(dest, payload, 0o644); err != nil {
			return nil, fmt.Errorf("writing manifest: %w", err)
		}
		report.Size = int64(len(payload))
	}

	report.Duration = time.Since(startTime)
	tr.SetMessage(fmt.Sprintf("Backup written to %s", dest))

	m.recordAudit(ctx, opID, store.AuditBackupCreated, backupDetails{
		Path:       dest,
		ExportedAt: man.ExportedAt,
		Counts:     man.Counts(),
		Assets:     report.Assets,
	})

	m.logger.Info("backup complete",
		"operation_id", opID,
		"path", dest,
		"size", report.Size,
		"assets", report.Assets,
		"settings", report.Settings,
		"duration", report.Duration,
	)
	if len(report.SkippedAssets) > 0 {
		m.logger.Warn("asset files left out of backup", "operation_id", opID, "files", report.SkippedAssets)
	}

	return report, nil
}

func summaryNote(counts map[string]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	return fmt.Sprintf("%d records across %d collections", total, len(counts))
}

// writeFileAtomic writes data to a temp file beside path and renames it
// over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
