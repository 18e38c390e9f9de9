package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get the current schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Info("Current schema version", "version", currentVersion)

	// Schema versions line up with backup format versions: 1 carries the
	// 1.0.0 collections, 2 and 3 add the collections introduced later.
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE audit_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					operation_id TEXT NOT NULL,
					action TEXT NOT NULL,
					actor TEXT,
					details TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE TABLE patients (
					id INTEGER PRIMARY KEY,
					first_name TEXT NOT NULL,
					last_name TEXT,
					birth_date TEXT,
					gender TEXT,
					phone TEXT,
					email TEXT,
					address TEXT,
					notes TEXT,
					created_at TEXT,
					updated_at TEXT
				);

				CREATE TABLE medical_histories (
					id INTEGER PRIMARY KEY,
					patient_id INTEGER NOT NULL,
					condition TEXT,
					medications TEXT,
					allergies TEXT,
					notes TEXT,
					recorded_at TEXT,
					FOREIGN KEY(patient_id) REFERENCES patients(id)
				);

				CREATE TABLE teeth (
					id INTEGER PRIMARY KEY,
					patient_id INTEGER NOT NULL,
					tooth_number INTEGER NOT NULL,
					status TEXT,
					notes TEXT,
					updated_at TEXT,
					FOREIGN KEY(patient_id) REFERENCES patients(id)
				);

				CREATE TABLE appointments (
					id INTEGER PRIMARY KEY,
					patient_id INTEGER NOT NULL,
					start_time TEXT NOT NULL,
					end_time TEXT,
					status TEXT DEFAULT 'scheduled',
					reason TEXT,
					notes TEXT,
					created_at TEXT,
					FOREIGN KEY(patient_id) REFERENCES patients(id)
				);

				CREATE TABLE treatments (
					id INTEGER PRIMARY KEY,
					patient_id INTEGER NOT NULL,
					appointment_id INTEGER,
					tooth_id INTEGER,
					description TEXT NOT NULL,
					cost REAL DEFAULT 0,
					status TEXT,
					performed_at TEXT,
					FOREIGN KEY(patient_id) REFERENCES patients(id),
					FOREIGN KEY(appointment_id) REFERENCES appointments(id),
					FOREIGN KEY(tooth_id) REFERENCES teeth(id)
				);

				CREATE TABLE invoices (
					id INTEGER PRIMARY KEY,
					patient_id INTEGER NOT NULL,
					invoice_number TEXT UNIQUE,
					issue_date TEXT,
					due_date TEXT,
					total REAL DEFAULT 0,
					status TEXT DEFAULT 'unpaid',
					notes TEXT,
					FOREIGN KEY(patient_id) REFERENCES patients(id)
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE tooth_condition_histories (
					id INTEGER PRIMARY KEY,
					tooth_id INTEGER NOT NULL,
					condition TEXT NOT NULL,
					notes TEXT,
					recorded_at TEXT,
					FOREIGN KEY(tooth_id) REFERENCES teeth(id)
				);

				CREATE TABLE invoice_items (
					id INTEGER PRIMARY KEY,
					invoice_id INTEGER NOT NULL,
					treatment_id INTEGER,
					description TEXT,
					quantity INTEGER DEFAULT 1,
					unit_price REAL DEFAULT 0,
					FOREIGN KEY(invoice_id) REFERENCES invoices(id),
					FOREIGN KEY(treatment_id) REFERENCES treatments(id)
				);

				CREATE TABLE payments (
					id INTEGER PRIMARY KEY,
					invoice_id INTEGER NOT NULL,
					amount REAL NOT NULL,
					method TEXT,
					reference TEXT,
					paid_at TEXT,
					FOREIGN KEY(invoice_id) REFERENCES invoices(id)
				);
			`,
		},
		{
			version: 3,
			sql: `
				CREATE TABLE inventory_items (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					sku TEXT,
					unit TEXT,
					quantity INTEGER DEFAULT 0,
					min_quantity INTEGER DEFAULT 0,
					unit_cost REAL DEFAULT 0
				);

				CREATE TABLE stock_transactions (
					id INTEGER PRIMARY KEY,
					item_id INTEGER NOT NULL,
					treatment_id INTEGER,
					quantity_change INTEGER NOT NULL,
					reason TEXT,
					created_at TEXT,
					FOREIGN KEY(item_id) REFERENCES inventory_items(id),
					FOREIGN KEY(treatment_id) REFERENCES treatments(id)
				);

				CREATE TABLE expenses (
					id INTEGER PRIMARY KEY,
					category TEXT,
					description TEXT,
					amount REAL NOT NULL,
					spent_at TEXT
				);
			`,
		},
	}

	// Run pending migrations
	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Execute the migration SQL
	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record the migration
	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
