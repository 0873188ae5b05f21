// Package cache provides the durable store of synchronized calendar events.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"careclock/internal/database"
)

// Repository persists synced events in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new event repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, title, start_ms, end_ms, is_all_day, is_command, is_holiday, last_synced_ms`

// EventsForDay returns display events whose start falls in [dayStart, dayEnd).
// Command events are never returned by display queries.
func (r *Repository) EventsForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]database.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE is_command = 0
		  AND start_ms >= ? AND start_ms < ?
		ORDER BY start_ms ASC
	`, toMillis(dayStart), toMillis(dayEnd))
	if err != nil {
		return nil, fmt.Errorf("failed to query events for day: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ActiveInWindow returns display events overlapping [windowStart, windowEnd):
// events starting inside the window plus events that started before it but
// whose exclusive end is still after it (ongoing multi-day events).
func (r *Repository) ActiveInWindow(ctx context.Context, windowStart, windowEnd time.Time, includeHolidays bool) ([]database.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_command = 0
		  AND start_ms < ?
		  AND (start_ms >= ? OR end_ms > ?)
	`
	if !includeHolidays {
		query += ` AND is_holiday = 0`
	}
	query += ` ORDER BY start_ms ASC`

	rows, err := r.db.QueryContext(ctx, query, toMillis(windowEnd), toMillis(windowStart), toMillis(windowStart))
	if err != nil {
		return nil, fmt.Errorf("failed to query window events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CommandEvents returns all command-flagged events, most recent start first.
func (r *Repository) CommandEvents(ctx context.Context) ([]database.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE is_command = 1
		ORDER BY start_ms DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query command events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Upsert writes a batch of events in a single transaction so a concurrent
// reader never observes a partially-applied batch.
func (r *Repository) Upsert(ctx context.Context, events []database.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, title, start_ms, end_ms, is_all_day, is_command, is_holiday, last_synced_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_ms = excluded.start_ms,
			end_ms = excluded.end_ms,
			is_all_day = excluded.is_all_day,
			is_command = excluded.is_command,
			is_holiday = excluded.is_holiday,
			last_synced_ms = excluded.last_synced_ms
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.Title,
			toMillis(ev.Start), toMillis(ev.End),
			boolToInt(ev.AllDay), boolToInt(ev.IsCommand), boolToInt(ev.IsHoliday),
			toMillis(ev.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteByID removes a single event.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

// DeleteByIDs removes events by provider id in one transaction.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// DeleteOlderThan evicts events whose last sync is older than cutoff.
// Returns the number of rows removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE last_synced_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale events: %w", err)
	}
	return result.RowsAffected()
}

// DeleteHolidayEvents removes all secondary-source events.
func (r *Repository) DeleteHolidayEvents(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE is_holiday = 1`)
	return err
}

// DeletePrimaryEvents removes all primary-source events.
func (r *Repository) DeletePrimaryEvents(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE is_holiday = 0`)
	return err
}

// Clear removes every cached event.
func (r *Repository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows rowScanner) ([]database.Event, error) {
	var events []database.Event
	for rows.Next() {
		var (
			ev                           database.Event
			startMs, endMs, syncedMs     int64
			allDay, isCommand, isHoliday int
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &startMs, &endMs, &allDay, &isCommand, &isHoliday, &syncedMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Start = fromMillis(startMs)
		ev.End = fromMillis(endMs)
		ev.AllDay = allDay == 1
		ev.IsCommand = isCommand == 1
		ev.IsHoliday = isHoliday == 1
		ev.LastSyncedAt = fromMillis(syncedMs)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
