package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/quarry/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite database at baseDir/quarry.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.quarry.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// foreign_keys must be per-connection for ON DELETE CASCADE to fire.
	dbPath := filepath.Join(baseDir, "quarry.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: projects, sources, files
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS projects (
		  id                  TEXT PRIMARY KEY,
		  name                TEXT NOT NULL,
		  slug                TEXT NOT NULL,
		  private_dev_api_key TEXT NOT NULL UNIQUE,
		  public_api_key      TEXT NOT NULL UNIQUE,
		  onboarded_at        INTEGER,
		  created_at          INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sources (
		  id          TEXT PRIMARY KEY,
		  project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		  type        TEXT NOT NULL,
		  data_json   TEXT NOT NULL,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sources_project
		ON sources(project_id, created_at);

		CREATE TABLE IF NOT EXISTS files (
		  id           TEXT PRIMARY KEY,
		  project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		  source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		  path         TEXT NOT NULL,
		  title        TEXT,
		  checksum     TEXT NOT NULL,
		  content      TEXT NOT NULL,
		  token_count  INTEGER NOT NULL,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_files_source_path
		ON files(source_id, path);

		CREATE INDEX IF NOT EXISTS idx_files_project_path
		ON files(project_id, path);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: training run history
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS training_runs (
		  id              TEXT PRIMARY KEY,
		  project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		  status          TEXT NOT NULL,
		  sources_total   INTEGER NOT NULL DEFAULT 0,
		  files_processed INTEGER NOT NULL DEFAULT 0,
		  files_updated   INTEGER NOT NULL DEFAULT 0,
		  files_deleted   INTEGER NOT NULL DEFAULT 0,
		  error_count     INTEGER NOT NULL DEFAULT 0,
		  started_at      INTEGER NOT NULL,
		  finished_at     INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_training_runs_project
		ON training_runs(project_id, started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
