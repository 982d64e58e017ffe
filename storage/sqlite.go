package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections. Read and write pools are separate to
// leverage WAL mode's concurrent read capability: the write pool is limited to
// a single connection (WAL allows one writer), the read pool allows concurrent
// readers.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection applies the standard SQLite settings to a pool: WAL
// journal mode, foreign keys, and a busy timeout to avoid immediate
// SQLITE_BUSY errors.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases use journal mode "memory", not "wal".
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s)", journalMode)
	}
	return nil
}

// NewSQLite opens the database at path and runs migrations. The parent
// directory is created if missing.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	if err := configureConnection(writeDB, path); err != nil {
		writeDB.Close()
		return nil, err
	}

	// An in-memory database is private to its connection, so reads must share
	// the write pool.
	readDB := writeDB
	if path != ":memory:" {
		readDB, err = sql.Open("sqlite", path)
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to open SQLite read pool: %w", err)
		}
		readDB.SetMaxOpenConns(10)
		if err := configureConnection(readDB, path); err != nil {
			writeDB.Close()
			readDB.Close()
			return nil, err
		}
	}

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    path,
		Logger:  logger,
	}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Infow("SQLite initialized", "path", path)
	return s, nil
}

// migrate creates the schema if it does not exist.
func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS security_events (
			event_id           TEXT PRIMARY KEY,
			org_id             TEXT NOT NULL,
			user_id            TEXT DEFAULT '',
			session_id         TEXT DEFAULT '',
			event_type         TEXT NOT NULL,
			event_category     TEXT NOT NULL,
			risk_score         INTEGER NOT NULL DEFAULT 0,
			event_data         TEXT DEFAULT '{}',
			ip_address         TEXT DEFAULT '',
			user_agent         TEXT DEFAULT '',
			device_fingerprint TEXT DEFAULT '',
			location_data      TEXT DEFAULT '{}',
			detection_rules    TEXT DEFAULT '[]',
			false_positive     INTEGER NOT NULL DEFAULT 0,
			created_at         TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threat_rules (
			id                  TEXT PRIMARY KEY,
			org_id              TEXT NOT NULL,
			name                TEXT NOT NULL,
			rule_type           TEXT NOT NULL,
			config              TEXT DEFAULT '{}',
			description         TEXT DEFAULT '',
			severity            TEXT NOT NULL,
			is_active           INTEGER NOT NULL DEFAULT 1,
			false_positive_rate REAL NOT NULL DEFAULT 0,
			accuracy_score      REAL NOT NULL DEFAULT 0,
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if s.ReadDB != s.WriteDB {
		if err := s.ReadDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
