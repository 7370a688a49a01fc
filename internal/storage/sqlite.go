package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	path string
	db   *sql.DB

	incidents *sqliteIncidentRepo
}

// NewSQLiteStore creates a SQLite store for the given database path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Open initializes the database connection and applies migrations.
func (s *SQLiteStore) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	s.db = db
	s.incidents = &sqliteIncidentRepo{db: db}
	return nil
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Save upserts an incident snapshot.
func (s *SQLiteStore) Save(ctx context.Context, incident *models.Incident) error {
	return s.incidents.save(ctx, incident)
}

// Get returns an incident by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Incident, error) {
	return s.incidents.get(ctx, id)
}

// List returns incidents matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*models.Incident, error) {
	return s.incidents.list(ctx, filter)
}

// Delete removes an incident by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.incidents.delete(ctx, id)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
