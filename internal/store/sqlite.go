// ABOUTME: SQLite-backed durable store using modernc.org/sqlite
// ABOUTME: Provides audit log and tool usage persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit and usage records in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id   TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			env_id     TEXT NOT NULL,
			suborg_id  TEXT,
			session_id TEXT NOT NULL,
			action     TEXT NOT NULL,
			tool_name  TEXT,
			detail     TEXT,
			ts         TEXT NOT NULL,

			CHECK (action IN (
				'session_admitted',
				'session_rejected',
				'session_closed',
				'tool_called',
				'tool_denied'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log(org_id, env_id);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);

		CREATE TABLE IF NOT EXISTS tool_usage (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			org_id      TEXT NOT NULL,
			env_id      TEXT NOT NULL,
			tool_name   TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			is_error    INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_session ON tool_usage(session_id);
		CREATE INDEX IF NOT EXISTS idx_usage_tenant ON tool_usage(org_id, env_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_tool ON tool_usage(tool_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
