package store

import "time"

// Record is one table row keyed by column name.
type Record map[string]any

// Audit actions
const (
	AuditBackupCreated  = "backup.created"
	AuditBackupRestored = "backup.restored"
)

// AuditEntry records a backup or restore event
type AuditEntry struct {
	ID          int64
	OperationID string
	Action      string
	Actor       string
	Details     string // JSON document
	CreatedAt   time.Time
}
