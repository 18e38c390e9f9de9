package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BadgerOps/clinicvault/internal/archive"
	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/safety"
)

// maxManifestFile bounds how much of a bare manifest file is read.
const maxManifestFile = 512 << 20

// PreviewReport describes a backup without applying it. Metadata is the
// manifest's metadata block exactly as stored; Summary is the note and
// counts read out of it.
type PreviewReport struct {
	Source        Source
	FormatVersion string
	ExportedAt    time.Time
	ExportedBy    string
	Metadata      json.RawMessage
	Summary       manifest.Metadata
	HasAssets     bool
	AssetCount    int
	HasSettings   bool
}

// Preview validates a backup file and summarizes it. Nothing is written:
// not the database, not the filesystem, not the audit log. Asset counts are
// raw uploads entries; restore may later skip some of them.
func (m *BackupManager) Preview(ctx context.Context, path string) (*PreviewReport, error) {
	src, err := ClassifySource(path)
	if err != nil {
		return nil, err
	}

	report := &PreviewReport{Source: src}

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
		fillPreview(report, man)
		report.AssetCount = len(r.Assets())
		report.HasAssets = report.AssetCount > 0
		report.HasSettings = r.HasSettings()
	case SourceManifest:
		man, err := readManifestFile(src.Path)
		if err != nil {
			return nil, err
		}
		fillPreview(report, man)
	}

	m.logger.Debug("backup previewed",
		"path", src.Path,
		"version", report.FormatVersion,
		"assets", report.AssetCount,
		"settings", report.HasSettings,
	)
	return report, nil
}

func fillPreview(report *PreviewReport, man *manifest.Manifest) {
	report.FormatVersion = man.FormatVersion
	report.ExportedAt = man.ExportedAt
	report.ExportedBy = man.ExportedBy
	report.Metadata = man.Metadata
	report.Summary = man.Summary()
}

func readManifestFile(path string) (*manifest.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	payload, err := safety.ReadAllWithLimit(f, maxManifestFile)
	if err != nil {
		return nil, &manifest.FormatError{Reason: "unreadable manifest", Err: err}
	}
	return manifest.Parse(payload)
}
