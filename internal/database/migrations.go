// Package database handles database migrations.
package database

import (
	"fmt"
)

// migrate runs all database migrations.
func (db *DB) migrate() error {
	// Create migrations table if not exists
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Run migrations
	migrations := getAllMigrations()
	for _, m := range migrations {
		if m.version > currentVersion {
			if err := db.runMigration(m); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
	}

	return nil
}

type migration struct {
	version int
	sql     string
}

func (db *DB) runMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func getAllMigrations() []migration {
	return []migration{
		{
			version: 1,
			sql:     migration001InitialSchema,
		},
	}
}

const migration001InitialSchema = `
-- Events table
-- One row per synced calendar event, keyed by the provider-assigned id.
-- Times are stored as epoch milliseconds in UTC.
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,                    -- provider event id
    title TEXT NOT NULL,
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL,                -- exclusive for all-day events
    is_all_day INTEGER NOT NULL DEFAULT 0,
    is_command INTEGER NOT NULL DEFAULT 0,  -- configuration command event
    is_holiday INTEGER NOT NULL DEFAULT 0,  -- from the secondary source
    last_synced_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_ms);
CREATE INDEX IF NOT EXISTS idx_events_synced ON events(last_synced_ms);


-- Sync State table
-- One row per event source with its incremental sync cursor.
CREATE TABLE IF NOT EXISTS sync_state (
    source TEXT PRIMARY KEY,                -- 'primary' or 'holiday'
    calendar_id TEXT NOT NULL DEFAULT '',
    sync_token TEXT NOT NULL DEFAULT '',    -- empty = next sync must be full
    last_synced_ms INTEGER NOT NULL DEFAULT 0
);


-- OAuth Tokens table
-- Stores the encrypted Google OAuth refresh token.
CREATE TABLE IF NOT EXISTS oauth_tokens (
    id TEXT PRIMARY KEY DEFAULT 'primary',
    refresh_token_enc BLOB NOT NULL,        -- AES-256-GCM encrypted
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);


-- Settings table
-- Key-value store for command-derived settings and bookkeeping.
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,                    -- JSON
    updated_at TEXT DEFAULT (datetime('now'))
);
`
