package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"careclock/internal/database"
)

// Cursors persists per-source incremental sync state.
type Cursors struct {
	db *database.DB
}

// NewCursors creates a new cursor store.
func NewCursors(db *database.DB) *Cursors {
	return &Cursors{db: db}
}

// Get returns the sync state for a source. A missing row yields a zero
// state, which forces the next sync to be full.
func (c *Cursors) Get(ctx context.Context, source string) (database.SyncState, error) {
	state := database.SyncState{Source: source}

	var lastSyncedMs int64
	err := c.db.QueryRowContext(ctx, `
		SELECT calendar_id, sync_token, last_synced_ms
		FROM sync_state
		WHERE source = ?
	`, source).Scan(&state.CalendarID, &state.SyncToken, &lastSyncedMs)

	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to load sync state: %w", err)
	}

	if lastSyncedMs > 0 {
		state.LastSyncedAt = time.UnixMilli(lastSyncedMs).UTC()
	}
	return state, nil
}

// Save stores the sync state for a source.
func (c *Cursors) Save(ctx context.Context, state database.SyncState) error {
	var lastSyncedMs int64
	if !state.LastSyncedAt.IsZero() {
		lastSyncedMs = state.LastSyncedAt.UnixMilli()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_state (source, calendar_id, sync_token, last_synced_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			sync_token = excluded.sync_token,
			last_synced_ms = excluded.last_synced_ms
	`, state.Source, state.CalendarID, state.SyncToken, lastSyncedMs)
	return err
}

// ClearToken drops the cursor token for a source, forcing a full sync next
// time. Called when the selected calendar changes or the provider reports
// the token invalid.
func (c *Cursors) ClearToken(ctx context.Context, source string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE sync_state SET sync_token = '' WHERE source = ?`, source)
	return err
}
