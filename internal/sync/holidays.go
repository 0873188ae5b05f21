package sync

import (
	"context"
	"fmt"
	"time"

	"careclock/internal/database"
	"careclock/internal/google"
)

// SyncHolidays runs one pass against the secondary holiday source. The
// source is either a calendar, synced with the same cursor algorithm as the
// primary, or an ICS feed, refetched whole. Passes are throttled to the
// configured interval unless forced.
func (e *Engine) SyncHolidays(ctx context.Context, force bool) Result {
	if e.cfg.Holiday.CalendarID == "" && e.feed == nil {
		return Result{Status: StatusNoCalendarSelected}
	}

	if !e.holidayBusy.CompareAndSwap(false, true) {
		return Result{Status: StatusSkipped}
	}
	defer e.holidayBusy.Store(false)

	state, err := e.cursors.Get(ctx, database.SourceHoliday)
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}

	now := e.clk.Now()
	interval := time.Duration(e.cfg.Holiday.IntervalDays) * 24 * time.Hour
	if !force && !state.LastSyncedAt.IsZero() && now.Sub(state.LastSyncedAt) < interval {
		e.logger.Debug("Holiday sync not due yet", "last", state.LastSyncedAt.Format(time.RFC3339))
		return Result{Status: StatusSkipped}
	}

	if e.cfg.Holiday.CalendarID != "" {
		return e.syncHolidayCalendar(ctx, state, now)
	}
	return e.syncHolidayFeed(ctx, now)
}

func (e *Engine) syncHolidayCalendar(ctx context.Context, state database.SyncState, now time.Time) Result {
	calendarID := e.cfg.Holiday.CalendarID
	if !e.auth.HasToken(ctx) {
		return Result{Status: StatusNotAuthenticated}
	}

	if state.CalendarID != "" && state.CalendarID != calendarID {
		if err := e.repo.DeleteHolidayEvents(ctx); err != nil {
			return Result{Status: StatusError, Err: err}
		}
		state.SyncToken = ""
	}

	full := state.SyncToken == ""
	req := google.SyncRequest{CalendarID: calendarID}
	if full {
		req.TimeMin = now.AddDate(0, 0, -e.cfg.Sync.BackDays)
		req.TimeMax = now.AddDate(0, 0, e.cfg.Sync.AheadDays)
	} else {
		req.SyncToken = state.SyncToken
	}

	resp, err := e.fetchWithBackoff(ctx, req)
	if err != nil && google.IsSyncTokenInvalid(err) && !full {
		if cerr := e.repo.DeleteHolidayEvents(ctx); cerr != nil {
			return Result{Status: StatusError, Err: cerr}
		}
		req = google.SyncRequest{
			CalendarID: calendarID,
			TimeMin:    now.AddDate(0, 0, -e.cfg.Sync.BackDays),
			TimeMax:    now.AddDate(0, 0, e.cfg.Sync.AheadDays),
		}
		resp, err = e.fetchWithBackoff(ctx, req)
	}
	if err != nil {
		if google.IsAuthError(err) {
			return Result{Status: StatusNotAuthenticated, Err: err}
		}
		return Result{Status: StatusError, Err: err}
	}

	added, deleted, err := e.applyResponse(ctx, resp, now, true)
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}

	if err := e.cursors.Save(ctx, database.SyncState{
		Source:       database.SourceHoliday,
		CalendarID:   calendarID,
		SyncToken:    resp.NextSyncToken,
		LastSyncedAt: now,
	}); err != nil {
		return Result{Status: StatusError, Err: err}
	}

	e.logger.Info("Holiday sync completed", "added", added, "deleted", deleted)
	return Result{Status: StatusSuccess, Added: added, Deleted: deleted}
}

// syncHolidayFeed replaces the cached holidays with the feed contents for
// the sync window. ICS feeds have no change cursor, so each pass is a full
// refetch.
func (e *Engine) syncHolidayFeed(ctx context.Context, now time.Time) Result {
	start := now.AddDate(0, 0, -e.cfg.Sync.BackDays)
	end := now.AddDate(0, 0, e.cfg.Sync.AheadDays)

	holidays, err := e.feed.HolidaysBetween(ctx, start, end)
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("holiday feed fetch failed: %w", err)}
	}

	events := make([]database.Event, 0, len(holidays))
	for _, h := range holidays {
		events = append(events, database.Event{
			ID:           h.UID,
			Title:        h.Title,
			Start:        h.Start,
			End:          h.End,
			AllDay:       true,
			IsHoliday:    true,
			LastSyncedAt: now,
		})
	}

	if err := e.repo.DeleteHolidayEvents(ctx); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	if err := e.repo.Upsert(ctx, events); err != nil {
		return Result{Status: StatusError, Err: err}
	}

	if err := e.cursors.Save(ctx, database.SyncState{
		Source:       database.SourceHoliday,
		CalendarID:   e.cfg.Holiday.ICSURL,
		LastSyncedAt: now,
	}); err != nil {
		return Result{Status: StatusError, Err: err}
	}

	e.logger.Info("Holiday feed refreshed", "count", len(events))
	return Result{Status: StatusSuccess, Added: len(events)}
}
