package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS incidents (
				id TEXT PRIMARY KEY,
				rule_id TEXT,
				title TEXT NOT NULL,
				description TEXT,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				type TEXT NOT NULL,
				escalated INTEGER NOT NULL DEFAULT 0,
				owner TEXT,
				acked_by TEXT,
				events_json TEXT NOT NULL DEFAULT '[]',
				root_cause_json TEXT,
				timeline_json TEXT NOT NULL DEFAULT '[]',
				attempts_json TEXT NOT NULL DEFAULT '[]',
				post_mortem_json TEXT,
				detected_at DATETIME NOT NULL,
				acknowledged_at DATETIME,
				contained_at DATETIME,
				mitigated_at DATETIME,
				resolved_at DATETIME,
				closed_at DATETIME
			);

			CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
			CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
			CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(type);
			CREATE INDEX IF NOT EXISTS idx_incidents_detected ON incidents(detected_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
