package store

import (
	"database/sql"
	"fmt"
)

// Migration is one schema step. Up statements run inside a transaction
// together with the version bookkeeping, so a migration is applied entirely
// or not at all.
type Migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
CREATE TABLE IF NOT EXISTS queue_items (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    artist TEXT,
    album TEXT,
    status TEXT NOT NULL,
    progress INTEGER DEFAULT 0,
    download_url TEXT,
    output_path TEXT,
    error_message TEXT,
    retry_count INTEGER DEFAULT 0,
    metadata_json TEXT,
    parent_id TEXT,
    total_tracks INTEGER DEFAULT 0,
    completed_tracks INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_created ON queue_items(created_at);
CREATE INDEX IF NOT EXISTS idx_queue_parent ON queue_items(parent_id);

CREATE TABLE IF NOT EXISTS download_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    track_id TEXT NOT NULL,
    title TEXT NOT NULL,
    artist TEXT,
    album TEXT,
    file_path TEXT,
    file_size INTEGER,
    quality TEXT,
    downloaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_track ON download_history(track_id);
CREATE INDEX IF NOT EXISTS idx_history_date ON download_history(downloaded_at);

CREATE TABLE IF NOT EXISTS config_cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		Version: 2,
		Name:    "add_resume_support",
		Up: `
ALTER TABLE queue_items ADD COLUMN partial_file_path TEXT;
ALTER TABLE queue_items ADD COLUMN bytes_downloaded INTEGER DEFAULT 0;
ALTER TABLE queue_items ADD COLUMN total_bytes INTEGER DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_queue_resumable ON queue_items(status, bytes_downloaded);
`,
	},
	{
		Version: 3,
		Name:    "pagination_indexes",
		Up: `
CREATE INDEX IF NOT EXISTS idx_queue_status_created ON queue_items(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_queue_updated ON queue_items(updated_at DESC);
`,
	},
	{
		Version: 4,
		Name:    "add_failed_tracks",
		Up: `
CREATE TABLE IF NOT EXISTS failed_tracks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id TEXT NOT NULL,
    track_id TEXT NOT NULL,
    track_title TEXT NOT NULL,
    track_artist TEXT,
    error_message TEXT NOT NULL,
    retry_count INTEGER DEFAULT 0,
    failed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (parent_id) REFERENCES queue_items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_failed_tracks_parent ON failed_tracks(parent_id);
CREATE INDEX IF NOT EXISTS idx_failed_tracks_date ON failed_tracks(failed_at DESC);
`,
	},
}

// Migrate applies every migration newer than the recorded schema version.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			m.Version, m.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
