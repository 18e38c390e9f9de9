package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/clinicvault/internal/config"
	"github.com/BadgerOps/clinicvault/internal/store"
)

// DataStore is the data-access layer the engine snapshots and restores.
type DataStore interface {
	ReadAll(ctx context.Context, table string) ([]store.Record, error)
	InTx(ctx context.Context, fn func(*store.Tx) error) error
}

// AuditLog receives one entry per completed backup or restore.
type AuditLog interface {
	AppendAudit(ctx context.Context, e *store.AuditEntry) error
}

// BackupManager builds, previews and restores backups of the clinic state.
// Callers run one operation at a time; only the tracker pointer is locked.
type BackupManager struct {
	data   DataStore
	audit  AuditLog
	config *config.Config
	logger *slog.Logger
	now    func() time.Time

	trackerMu     sync.Mutex
	activeTracker *OperationTracker
}

// NewBackupManager creates a new BackupManager.
func NewBackupManager(data DataStore, audit AuditLog, cfg *config.Config, logger *slog.Logger) *BackupManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &BackupManager{
		data:   data,
		audit:  audit,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ActiveTracker returns the tracker of the running operation, or of the last
// one once it has finished. It is nil before the first backup or restore.
func (m *BackupManager) ActiveTracker() *OperationTracker {
	m.trackerMu.Lock()
	defer m.trackerMu.Unlock()
	return m.activeTracker
}

func (m *BackupManager) track(opID string, kind OperationKind, source string) *OperationTracker {
	t := NewOperationTracker(opID, kind, source)
	m.trackerMu.Lock()
	m.activeTracker = t
	m.trackerMu.Unlock()
	return t
}

func (m *BackupManager) actor() string {
	if m.config.Backup.Actor != "" {
		return m.config.Backup.Actor
	}
	return "system"
}

// recordAudit appends an audit entry. The operation it describes has already
// completed, so a failure here is logged rather than returned.
func (m *BackupManager) recordAudit(ctx context.Context, opID, action string, details any) {
	if m.audit == nil {
		return
	}

	payload, err := json.Marshal(details)
	if err != nil {
		m.logger.Warn("failed to encode audit details", "action", action, "error", err)
		return
	}

	entry := &store.AuditEntry{
		OperationID: opID,
		Action:      action,
		Actor:       m.actor(),
		Details:     string(payload),
		CreatedAt:   m.now(),
	}
	if err := m.audit.AppendAudit(ctx, entry); err != nil {
		m.logger.Warn("failed to record audit entry", "action", action, "operation_id", opID, "error", err)
	}
}

func newOperationID() string {
	return uuid.NewString()
}
