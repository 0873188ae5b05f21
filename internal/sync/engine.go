// Package sync pulls events from the calendar provider into the local cache
// and applies any configuration commands found along the way.
package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/api/googleapi"

	"careclock/internal/cache"
	"careclock/internal/clock"
	"careclock/internal/command"
	"careclock/internal/config"
	"careclock/internal/database"
	"careclock/internal/google"
	"careclock/internal/ics"
	"careclock/internal/settings"
	"careclock/internal/util"
)

// Status is the outcome variant of one sync pass.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusNotAuthenticated
	StatusNoCalendarSelected
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusNotAuthenticated:
		return "not_authenticated"
	case StatusNoCalendarSelected:
		return "no_calendar_selected"
	default:
		return "skipped"
	}
}

// Result reports what one sync pass did.
type Result struct {
	Status          Status
	Added           int
	Deleted         int
	CommandsApplied int
	Err             error
}

// Provider abstracts the remote calendar API for the engine.
type Provider interface {
	SyncEvents(ctx context.Context, req google.SyncRequest) (*google.SyncResponse, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Authenticator exposes the credential operations the engine needs: a
// presence check and a way to force a refresh after an auth failure.
type Authenticator interface {
	HasToken(ctx context.Context) bool
	InvalidateCache()
}

// HolidayFeed fetches holiday instances for a window. Implemented by the
// ICS feed reader; nil when the secondary source is a calendar or unset.
type HolidayFeed interface {
	HolidaysBetween(ctx context.Context, start, end time.Time) ([]ics.Holiday, error)
}

// Engine runs the sync algorithm for the primary and holiday sources.
// At most one sync per source is in flight; overlapping requests are
// coalesced into a Skipped result.
type Engine struct {
	cfg      *config.Config
	provider Provider
	auth     Authenticator
	feed     HolidayFeed
	repo     *cache.Repository
	cursors  *cache.Cursors
	settings *settings.Resolver
	clk      clock.Clock
	logger   *util.Logger

	calendarID  atomic.Value // string; the selected primary calendar
	primaryBusy atomic.Bool
	holidayBusy atomic.Bool
}

// NewEngine creates a sync engine. feed may be nil when the holiday source
// is a calendar ID or disabled.
func NewEngine(cfg *config.Config, provider Provider, auth Authenticator, feed HolidayFeed,
	repo *cache.Repository, cursors *cache.Cursors, resolver *settings.Resolver,
	clk clock.Clock, logger *util.Logger) *Engine {

	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	e := &Engine{
		cfg:      cfg,
		provider: provider,
		auth:     auth,
		feed:     feed,
		repo:     repo,
		cursors:  cursors,
		settings: resolver,
		clk:      clk,
		logger:   logger,
	}
	e.calendarID.Store(cfg.Google.CalendarID)
	return e
}

// SetCalendarID switches the selected primary calendar. An in-flight sync
// against the old calendar discards its result when it completes.
func (e *Engine) SetCalendarID(id string) {
	e.calendarID.Store(id)
}

func (e *Engine) selectedCalendar() string {
	id, _ := e.calendarID.Load().(string)
	return id
}

// Sync runs one primary sync pass and, when due, a holiday pass.
func (e *Engine) Sync(ctx context.Context) Result {
	if !e.primaryBusy.CompareAndSwap(false, true) {
		e.logger.Debug("Sync already in flight, coalescing")
		return Result{Status: StatusSkipped}
	}
	defer e.primaryBusy.Store(false)

	result := e.syncPrimary(ctx)

	// The holiday pass is independent of the primary outcome: an ICS feed
	// needs no credentials or calendar selection, and the interval throttle
	// already bounds its cost. Holiday failures never fail the primary pass.
	if hr := e.SyncHolidays(ctx, false); hr.Status == StatusError {
		e.logger.Warn("Holiday sync failed", "error", hr.Err)
	}

	return result
}

func (e *Engine) syncPrimary(ctx context.Context) Result {
	calendarID := e.selectedCalendar()
	if calendarID == "" {
		return Result{Status: StatusNoCalendarSelected}
	}
	if !e.auth.HasToken(ctx) {
		return Result{Status: StatusNotAuthenticated}
	}

	state, err := e.cursors.Get(ctx, database.SourcePrimary)
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}

	// A calendar switch invalidates both the cursor and the cached events.
	if state.CalendarID != "" && state.CalendarID != calendarID {
		e.logger.Info("Selected calendar changed, forcing full sync",
			"previous", state.CalendarID, "current", calendarID)
		if err := e.repo.DeletePrimaryEvents(ctx); err != nil {
			return Result{Status: StatusError, Err: err}
		}
		state.SyncToken = ""
	}

	full := state.SyncToken == ""
	resp, full, err := e.fetch(ctx, calendarID, state.SyncToken, full)
	if err != nil {
		if google.IsAuthError(err) {
			return Result{Status: StatusNotAuthenticated, Err: err}
		}
		return Result{Status: StatusError, Err: err}
	}

	// The result is stale if the selected calendar changed mid-flight.
	if e.selectedCalendar() != calendarID {
		e.logger.Warn("Discarding sync result for deselected calendar", "calendar_id", calendarID)
		return Result{Status: StatusSkipped}
	}

	now := e.clk.Now()
	added, deleted, err := e.applyResponse(ctx, resp, now, false)
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}

	if err := e.cursors.Save(ctx, database.SyncState{
		Source:       database.SourcePrimary,
		CalendarID:   calendarID,
		SyncToken:    resp.NextSyncToken,
		LastSyncedAt: now,
	}); err != nil {
		return Result{Status: StatusError, Err: err}
	}

	// Age-based eviction only runs after full syncs to bound incremental cost.
	if full {
		cutoff := now.AddDate(0, 0, -e.cfg.Sync.RetentionDays)
		if evicted, err := e.repo.DeleteOlderThan(ctx, cutoff); err != nil {
			e.logger.Warn("Event eviction failed", "error", err)
		} else if evicted > 0 {
			e.logger.Info("Evicted stale events", "count", evicted)
		}
	}

	applied := e.consumeCommands(ctx, calendarID)

	e.logger.Info("Sync completed",
		"full", full,
		"added", added,
		"deleted", deleted,
		"commands_applied", applied,
	)

	return Result{Status: StatusSuccess, Added: added, Deleted: deleted, CommandsApplied: applied}
}

// fetch performs the provider request with the recovery ladder from the
// error taxonomy: transient errors back off and retry, an invalid cursor
// clears token and cache then retries once as a full sync, and an auth
// failure forces a credential refresh and retries once.
func (e *Engine) fetch(ctx context.Context, calendarID, token string, full bool) (*google.SyncResponse, bool, error) {
	req := e.buildRequest(calendarID, token, full)

	resp, err := e.fetchWithBackoff(ctx, req)
	if err == nil {
		return resp, full, nil
	}

	if google.IsSyncTokenInvalid(err) && !full {
		e.logger.Info("Sync cursor expired, clearing cache and retrying as full sync")
		if cerr := e.cursors.ClearToken(ctx, database.SourcePrimary); cerr != nil {
			return nil, full, cerr
		}
		if cerr := e.repo.DeletePrimaryEvents(ctx); cerr != nil {
			return nil, full, cerr
		}
		resp, err = e.fetchWithBackoff(ctx, e.buildRequest(calendarID, "", true))
		return resp, true, err
	}

	if google.IsAuthError(err) {
		e.logger.Warn("Auth failure during sync, refreshing credential and retrying once", "error", err)
		e.auth.InvalidateCache()
		resp, err = e.fetchWithBackoff(ctx, req)
		return resp, full, err
	}

	return nil, full, err
}

func (e *Engine) buildRequest(calendarID, token string, full bool) google.SyncRequest {
	req := google.SyncRequest{CalendarID: calendarID}
	if full {
		now := e.clk.Now()
		req.TimeMin = now.AddDate(0, 0, -e.cfg.Sync.BackDays)
		req.TimeMax = now.AddDate(0, 0, e.cfg.Sync.AheadDays)
	} else {
		req.SyncToken = token
	}
	return req
}

func (e *Engine) fetchWithBackoff(ctx context.Context, req google.SyncRequest) (*google.SyncResponse, error) {
	attempts := e.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := e.provider.SyncEvents(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !e.isRetryable(err) || attempt == attempts-1 {
			return nil, err
		}

		backoff := e.backoffDuration(attempt)
		e.logger.Warn("Sync request failed, backing off",
			"error", err,
			"attempt", attempt+1,
			"backoff", backoff.String(),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

func (e *Engine) isRetryable(err error) bool {
	if !e.cfg.Retry.Enabled {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func (e *Engine) backoffDuration(attempt int) time.Duration {
	seconds := e.cfg.Retry.BackoffSeconds
	if len(seconds) == 0 {
		return time.Second
	}
	if attempt >= len(seconds) {
		attempt = len(seconds) - 1
	}
	return time.Duration(seconds[attempt]) * time.Second
}

// applyResponse writes one sync response to the cache: upserts for live
// entries, deletions for cancelled ones. Holiday responses additionally
// keep only all-day non-command entries.
func (e *Engine) applyResponse(ctx context.Context, resp *google.SyncResponse, now time.Time, holiday bool) (added, deleted int, err error) {
	var upserts []database.Event
	var deletedIDs []string

	for _, ev := range resp.Events {
		if ev.Cancelled {
			deletedIDs = append(deletedIDs, ev.ID)
			continue
		}

		isCommand := command.IsCommand(ev.Title)
		if holiday && (!ev.AllDay || isCommand) {
			continue
		}

		upserts = append(upserts, database.Event{
			ID:           ev.ID,
			Title:        ev.Title,
			Start:        ev.Start,
			End:          ev.End,
			AllDay:       ev.AllDay,
			IsCommand:    !holiday && isCommand,
			IsHoliday:    holiday,
			LastSyncedAt: now,
		})
	}

	if err := e.repo.Upsert(ctx, upserts); err != nil {
		return 0, 0, fmt.Errorf("failed to cache events: %w", err)
	}
	if err := e.repo.DeleteByIDs(ctx, deletedIDs); err != nil {
		return 0, 0, fmt.Errorf("failed to remove cancelled events: %w", err)
	}

	return len(upserts), len(deletedIDs), nil
}
