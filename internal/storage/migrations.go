package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS fingerprints (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					patterns TEXT NOT NULL DEFAULT '[]',
					identity TEXT NOT NULL DEFAULT '[]',
					line_count INTEGER DEFAULT 0,
					line_density REAL DEFAULT 0,
					column_count INTEGER DEFAULT 0,
					head_line TEXT DEFAULT '',
					tail_line TEXT DEFAULT '',
					success_rate REAL DEFAULT 0,
					use_count INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					last_used DATETIME
				)`,
				`CREATE INDEX idx_fingerprints_signature ON fingerprints(signature)`,

				`CREATE TABLE IF NOT EXISTS templates (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					fingerprint_id TEXT NOT NULL,
					rules TEXT NOT NULL DEFAULT '[]',
					use_count INTEGER DEFAULT 0,
					success_rate REAL DEFAULT 0,
					avg_confidence REAL DEFAULT 0,
					active INTEGER DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (fingerprint_id) REFERENCES fingerprints(id)
				)`,
				`CREATE INDEX idx_templates_fingerprint ON templates(fingerprint_id)`,

				`CREATE TABLE IF NOT EXISTS calibrations (
					doc_type TEXT NOT NULL,
					method TEXT NOT NULL,
					factor REAL NOT NULL DEFAULT 1.0,
					correction_count INTEGER DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (doc_type, method)
				)`,

				`CREATE TABLE IF NOT EXISTS corrections (
					id TEXT PRIMARY KEY,
					request_id TEXT NOT NULL,
					doc_type TEXT DEFAULT '',
					method TEXT DEFAULT '',
					template_id TEXT DEFAULT '',
					outcome TEXT NOT NULL,
					reason TEXT DEFAULT '',
					original_total REAL,
					corrected_total REAL,
					original_confidence REAL DEFAULT 0,
					consumed INTEGER DEFAULT 0,
					submitted_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add suspect amounts derived from corrections",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS suspect_amounts (
					amount REAL PRIMARY KEY,
					derived_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Index corrections by consumed flag and templates by active flag",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_corrections_consumed ON corrections(consumed)`,
				`CREATE INDEX IF NOT EXISTS idx_templates_active ON templates(active)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate brings the database schema up to the expected version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		slog.Info("applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	final, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if final != ExpectedSchemaVersion {
		return fmt.Errorf("schema version %d after migration, expected %d", final, ExpectedSchemaVersion)
	}
	return nil
}

func (s *SQLiteStorage) schemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (s *SQLiteStorage) applyMigration(ctx context.Context, migration Migration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := migration.Up(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, description) VALUES (?, ?)
		`, migration.Version, migration.Description)
		return err
	})
}
