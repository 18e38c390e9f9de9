package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BadgerOps/clinicvault/internal/engine"
	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/safety"
)

const maxRequestBody = 64 << 10

type backupRequest struct {
	Dest string `json:"dest"`
	Note string `json:"note"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type backupResponse struct {
	OperationID   string         `json:"operation_id"`
	Path          string         `json:"path"`
	Kind          string         `json:"kind"`
	Size          int64          `json:"size"`
	Counts        map[string]int `json:"counts"`
	Assets        int            `json:"assets"`
	SkippedAssets []string       `json:"skipped_assets,omitempty"`
	Settings      bool           `json:"settings"`
	ExportedAt    time.Time      `json:"exported_at"`
	DurationMS    int64          `json:"duration_ms"`
}

type previewResponse struct {
	Path          string          `json:"path"`
	Kind          string          `json:"kind"`
	FormatVersion string          `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	ExportedBy    string          `json:"exported_by"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	HasAssets     bool            `json:"has_assets"`
	AssetCount    int             `json:"asset_count"`
	HasSettings   bool            `json:"has_settings"`
}

type restoreResponse struct {
	OperationID        string         `json:"operation_id"`
	Message            string         `json:"message"`
	Counts             map[string]int `json:"counts"`
	ExportedAt         time.Time      `json:"exported_at"`
	RestoredAt         time.Time      `json:"restored_at"`
	AssetsRestored     int            `json:"assets_restored"`
	SkippedAssets      []string       `json:"skipped_assets,omitempty"`
	SettingsRestored   bool           `json:"settings_restored"`
	SkippedCollections []string       `json:"skipped_collections,omitempty"`
	Warning            string         `json:"warning,omitempty"`
}

// handleAPIBackup writes a new backup. A dest names a file relative to the
// configured backup directory; requests cannot write anywhere else.
func (s *Server) handleAPIBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	dest := ""
	if req.Dest != "" {
		var err error
		dest, err = safety.SafeJoinUnder(s.config.BackupOutputDir(), req.Dest)
		if err != nil {
			s.logger.Warn("backup rejected", "dest", req.Dest, "error", err)
			writeError(w, http.StatusBadRequest, "dest must be a relative path inside the backup directory")
			return
		}
	}
	if !s.opMu.TryLock() {
		writeError(w, http.StatusConflict, "another backup operation is in progress")
		return
	}
	defer s.opMu.Unlock()

	report, err := s.engine.Backup(r.Context(), engine.BackupOptions{Dest: dest, Note: req.Note})
	if err != nil {
		s.writeEngineError(w, "backup", err)
		return
	}

	writeJSON(w, http.StatusOK, backupResponse{
		OperationID:   report.OperationID,
		Path:          report.Path,
		Kind:          string(report.Kind),
		Size:          report.Size,
		Counts:        report.Counts,
		Assets:        report.Assets,
		SkippedAssets: report.SkippedAssets,
		Settings:      report.Settings,
		ExportedAt:    report.ExportedAt,
		DurationMS:    report.Duration.Milliseconds(),
	})
}

// handleAPIPreview summarizes a backup file without applying it.
func (s *Server) handleAPIPreview(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.opMu.TryLock() {
		writeError(w, http.StatusConflict, "another backup operation is in progress")
		return
	}
	defer s.opMu.Unlock()

	report, err := s.engine.Preview(r.Context(), req.Path)
	if err != nil {
		s.writeEngineError(w, "preview", err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Path:          report.Source.Path,
		Kind:          string(report.Source.Kind),
		FormatVersion: report.FormatVersion,
		ExportedAt:    report.ExportedAt,
		ExportedBy:    report.ExportedBy,
		Metadata:      report.Metadata,
		HasAssets:     report.HasAssets,
		AssetCount:    report.AssetCount,
		HasSettings:   report.HasSettings,
	})
}

// handleAPIRestore replaces the clinic state with a backup. A restore whose
// database step succeeded answers 200 even when asset or settings files
// could not be written; the failure is carried in "warning".
func (s *Server) handleAPIRestore(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.opMu.TryLock() {
		writeError(w, http.StatusConflict, "another backup operation is in progress")
		return
	}
	defer s.opMu.Unlock()

	report, err := s.engine.Restore(r.Context(), req.Path)
	if err != nil && (report == nil || !errors.Is(err, engine.ErrPartialRestore)) {
		s.writeEngineError(w, "restore", err)
		return
	}

	resp := restoreResponse{
		OperationID:        report.OperationID,
		Message:            report.Message,
		Counts:             report.Counts,
		ExportedAt:         report.ExportedAt,
		RestoredAt:         report.RestoredAt,
		AssetsRestored:     report.AssetsRestored,
		SkippedAssets:      report.SkippedAssets,
		SettingsRestored:   report.SettingsRestored,
		SkippedCollections: report.SkippedCollections,
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a bounded JSON body into v. It writes the error response
// itself and reports whether the handler should continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := safety.ReadAllWithLimit(r.Body, maxRequestBody)
	if err != nil {
		if errors.Is(err, safety.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInput):
		status = http.StatusBadRequest
	case errors.Is(err, manifest.ErrFormat):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Warn(op+" rejected", "error", err)
	}
	writeError(w, status, fmt.Sprintf("%s failed: %v", op, err))
}
