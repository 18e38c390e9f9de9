package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the clinic entities and the
// audit log.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	columns map[string]map[string]bool
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps PRAGMAs and ":memory:" databases consistent, and
	// matches the single-writer model.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := s.loadColumns(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// loadColumns caches the column set of every entity table so inserts can
// reject fields the schema does not know.
func (s *Store) loadColumns() error {
	s.columns = make(map[string]map[string]bool, len(entities))
	for _, e := range entities {
		rows, err := s.db.Query("PRAGMA table_info(" + quoteIdent(e.Table) + ")")
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", e.Table, err)
		}

		cols := make(map[string]bool)
		for rows.Next() {
			var (
				cid     int
				name    string
				ctype   string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan column of %s: %w", e.Table, err)
			}
			cols[name] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating columns of %s: %w", e.Table, err)
		}
		rows.Close()

		if len(cols) == 0 {
			return fmt.Errorf("table %s does not exist", e.Table)
		}
		s.columns[e.Table] = cols
	}
	return nil
}

func (s *Store) checkTable(table string) error {
	if _, ok := s.columns[table]; !ok {
		return fmt.Errorf("unknown table: %s", table)
	}
	return nil
}

// ============================================================================
// Entity Record Operations
// ============================================================================

// ReadAll returns every row of an entity table in insertion order.
func (s *Store) ReadAll(ctx context.Context, table string) ([]Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return records, nil
}

// CountRows returns the number of rows in an entity table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if err := s.checkTable(table); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// Tx groups entity deletes and inserts into one all-or-nothing unit.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// InTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; any error, or a cancelled ctx, rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteAll removes every row of an entity table.
func (t *Tx) DeleteAll(ctx context.Context, table string) (int64, error) {
	if err := t.store.checkTable(table); err != nil {
		return 0, err
	}

	result, err := t.tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table))
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// BulkInsert inserts records into an entity table and returns how many were
// written. Every record field must name an existing column.
func (t *Tx) BulkInsert(ctx context.Context, table string, records []Record) (int, error) {
	if err := t.store.checkTable(table); err != nil {
		return 0, err
	}
	cols := t.store.columns[table]

	inserted := 0
	for i, rec := range records {
		if rec == nil {
			return inserted, fmt.Errorf("record %d for %s: not an object", i, table)
		}
		names := make([]string, 0, len(rec))
		for name := range rec {
			if !cols[name] {
				return inserted, fmt.Errorf("record %d for %s: unknown column %q", i, table, name)
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return inserted, fmt.Errorf("record %d for %s: no fields", i, table)
		}
		sort.Strings(names)

		quoted := make([]string, len(names))
		args := make([]any, len(names))
		for j, name := range names {
			quoted[j] = quoteIdent(name)
			v, err := bindValue(rec[name])
			if err != nil {
				return inserted, fmt.Errorf("record %d for %s: field %q: %w", i, table, name, err)
			}
			args[j] = v
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(table),
			strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "),
		)
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return inserted, fmt.Errorf("failed to insert record %d into %s: %w", i, table, err)
		}
		inserted++
	}
	return inserted, nil
}

// ============================================================================
// Audit Log Operations
// ============================================================================

// AppendAudit inserts an AuditEntry and sets its ID
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_logs (operation_id, action, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, e.OperationID, e.Action, e.Actor, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	e.ID = id
	return nil
}

// ListAudit retrieves audit entries, newest first
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	query := `
		SELECT id, operation_id, action, actor, details, created_at
		FROM audit_logs ORDER BY created_at DESC, id DESC
	`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		e := AuditEntry{}
		var actor, details sql.NullString
		if err := rows.Scan(&e.ID, &e.OperationID, &e.Action, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Actor = actor.String
		e.Details = details.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// ============================================================================
// Helpers
// ============================================================================

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col] = columnValue(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// columnValue converts a driver value into something that survives a JSON
// round trip unchanged.
func columnValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

// bindValue converts a decoded manifest value into a SQLite argument.
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return f, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case string, int, int64, float64:
		return val, nil
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
