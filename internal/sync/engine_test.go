package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"careclock/internal/cache"
	"careclock/internal/clock"
	"careclock/internal/config"
	"careclock/internal/database"
	"careclock/internal/google"
	"careclock/internal/ics"
	"careclock/internal/settings"
)

var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// fakeProvider serves scripted responses per call and records requests.
type fakeProvider struct {
	script  []func(req google.SyncRequest) (*google.SyncResponse, error)
	calls   []google.SyncRequest
	deleted []string
}

func (f *fakeProvider) SyncEvents(ctx context.Context, req google.SyncRequest) (*google.SyncResponse, error) {
	f.calls = append(f.calls, req)
	if len(f.script) == 0 {
		return &google.SyncResponse{NextSyncToken: "tok-end"}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step(req)
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

func respond(resp *google.SyncResponse) func(google.SyncRequest) (*google.SyncResponse, error) {
	return func(google.SyncRequest) (*google.SyncResponse, error) { return resp, nil }
}

func fail(err error) func(google.SyncRequest) (*google.SyncResponse, error) {
	return func(google.SyncRequest) (*google.SyncResponse, error) { return nil, err }
}

type fakeAuth struct {
	hasToken    bool
	invalidated int
}

func (f *fakeAuth) HasToken(ctx context.Context) bool { return f.hasToken }
func (f *fakeAuth) InvalidateCache()                  { f.invalidated++ }

type fakeSolar struct{}

func (fakeSolar) Sunrise(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	return fallback
}
func (fakeSolar) Sunset(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	return fallback
}

type fakeFeed struct {
	holidays []ics.Holiday
	err      error
	fetches  int
}

func (f *fakeFeed) HolidaysBetween(ctx context.Context, start, end time.Time) ([]ics.Holiday, error) {
	f.fetches++
	return f.holidays, f.err
}

type harness struct {
	engine   *Engine
	provider *fakeProvider
	auth     *fakeAuth
	feed     *fakeFeed
	repo     *cache.Repository
	cursors  *cache.Cursors
	settings *settings.Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		if strings.Contains(err.Error(), "requires cgo") || strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skipf("skipping sqlite-backed test: %v", err)
		}
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Google:  config.Google{CalendarID: "cal-1"},
		Holiday: config.Holiday{ICSURL: "https://example.com/holidays.ics", IntervalDays: 7},
		Sync:    config.Sync{BackDays: 7, AheadDays: 14, RetentionDays: 7},
		Retry:   config.Retry{Enabled: true, MaxAttempts: 3, BackoffSeconds: []int{0}},
	}

	provider := &fakeProvider{}
	auth := &fakeAuth{hasToken: true}
	feed := &fakeFeed{}
	repo := cache.NewRepository(db)
	cursors := cache.NewCursors(db)
	resolver := settings.NewResolver(settings.NewStore(db), fakeSolar{}, config.Overrides{}, nil)

	engine := NewEngine(cfg, provider, auth, feed, repo, cursors, resolver,
		clock.FixedClock{Instant: testNow}, nil)

	return &harness{
		engine:   engine,
		provider: provider,
		auth:     auth,
		feed:     feed,
		repo:     repo,
		cursors:  cursors,
		settings: resolver,
	}
}

func cachedIDs(t *testing.T, repo *cache.Repository) map[string]bool {
	t.Helper()
	events, err := repo.ActiveInWindow(context.Background(),
		testNow.AddDate(0, 0, -7), testNow.AddDate(0, 0, 15), true)
	if err != nil {
		t.Fatalf("window query failed: %v", err)
	}
	ids := map[string]bool{}
	for _, e := range events {
		ids[e.ID] = true
	}
	return ids
}

func TestSyncFullWhenNoCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "e1", Title: "Doctor Appointment", Start: testNow.Add(2 * time.Hour), End: testNow.Add(3 * time.Hour)},
			},
			NextSyncToken: "tok-1",
		}),
	}

	result := h.engine.Sync(ctx)
	if result.Status != StatusSuccess || result.Added != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	req := h.provider.calls[0]
	if req.SyncToken != "" || req.TimeMin.IsZero() || req.TimeMax.IsZero() {
		t.Fatalf("expected a bounded full-sync request, got %+v", req)
	}

	state, err := h.cursors.Get(ctx, database.SourcePrimary)
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	if state.SyncToken != "tok-1" || state.CalendarID != "cal-1" {
		t.Fatalf("cursor not saved: %+v", state)
	}
	if !cachedIDs(t, h.repo)["e1"] {
		t.Error("event not cached")
	}
}

func TestSyncIncrementalUsesTokenAndAppliesDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.repo.Upsert(ctx, []database.Event{
		{ID: "old", Title: "Old", Start: testNow, End: testNow.Add(time.Hour), LastSyncedAt: testNow},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := h.cursors.Save(ctx, database.SyncState{
		Source: database.SourcePrimary, CalendarID: "cal-1", SyncToken: "tok-1", LastSyncedAt: testNow,
	}); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "old", Cancelled: true},
				{ID: "new", Title: "New", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
			},
			NextSyncToken: "tok-2",
		}),
	}

	result := h.engine.Sync(ctx)
	if result.Status != StatusSuccess || result.Added != 1 || result.Deleted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if req := h.provider.calls[0]; req.SyncToken != "tok-1" {
		t.Fatalf("expected incremental request with token, got %+v", req)
	}

	ids := cachedIDs(t, h.repo)
	if ids["old"] || !ids["new"] {
		t.Fatalf("delete/upsert not applied: %v", ids)
	}
}

func TestSyncIncrementalReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.cursors.Save(ctx, database.SyncState{
		Source: database.SourcePrimary, CalendarID: "cal-1", SyncToken: "tok-1", LastSyncedAt: testNow,
	}); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	response := &google.SyncResponse{
		Events: []google.SyncedEvent{
			{ID: "e1", Title: "Lunch", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
		},
		NextSyncToken: "tok-1",
	}
	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(response), respond(response),
	}

	for i := 0; i < 2; i++ {
		if result := h.engine.Sync(ctx); result.Status != StatusSuccess {
			t.Fatalf("pass %d failed: %+v", i, result)
		}
	}

	events, err := h.repo.ActiveInWindow(ctx, testNow.AddDate(0, 0, -7), testNow.AddDate(0, 0, 15), true)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("replay must leave the cache identical, got %d events", len(events))
	}
}

func TestSyncExpiredCursorRetriesAsFullSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.repo.Upsert(ctx, []database.Event{
		{ID: "stale", Title: "Stale", Start: testNow, End: testNow.Add(time.Hour), LastSyncedAt: testNow},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := h.cursors.Save(ctx, database.SyncState{
		Source: database.SourcePrimary, CalendarID: "cal-1", SyncToken: "tok-expired", LastSyncedAt: testNow,
	}); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(&googleapi.Error{Code: 410}),
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "fresh", Title: "Fresh", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
			},
			NextSyncToken: "tok-new",
		}),
	}

	result := h.engine.Sync(ctx)
	if result.Status != StatusSuccess {
		t.Fatalf("expected the full-sync retry result, got %+v", result)
	}

	if len(h.provider.calls) != 2 {
		t.Fatalf("expected incremental then full, got %d calls", len(h.provider.calls))
	}
	if h.provider.calls[0].SyncToken != "tok-expired" || h.provider.calls[1].SyncToken != "" {
		t.Fatalf("wrong call shapes: %+v", h.provider.calls)
	}

	ids := cachedIDs(t, h.repo)
	if ids["stale"] || !ids["fresh"] {
		t.Fatalf("cache not rebuilt after cursor expiry: %v", ids)
	}

	state, _ := h.cursors.Get(ctx, database.SourcePrimary)
	if state.SyncToken != "tok-new" {
		t.Fatalf("new token not saved: %+v", state)
	}
}

func TestSyncAuthFailureRefreshesOnceThenSurfaces(t *testing.T) {
	h := newHarness(t)

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(&googleapi.Error{Code: 401}),
		fail(&googleapi.Error{Code: 401}),
	}

	result := h.engine.Sync(context.Background())
	if result.Status != StatusNotAuthenticated {
		t.Fatalf("expected not-authenticated, got %+v", result)
	}
	if h.auth.invalidated != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", h.auth.invalidated)
	}
	if len(h.provider.calls) != 2 {
		t.Fatalf("expected exactly one retry after refresh, got %d calls", len(h.provider.calls))
	}
}

func TestSyncAuthFailureRecoversAfterRefresh(t *testing.T) {
	h := newHarness(t)

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(&googleapi.Error{Code: 401}),
		respond(&google.SyncResponse{NextSyncToken: "tok-1"}),
	}

	result := h.engine.Sync(context.Background())
	if result.Status != StatusSuccess {
		t.Fatalf("expected success after refresh, got %+v", result)
	}
}

func TestSyncTransientErrorsBackOff(t *testing.T) {
	h := newHarness(t)

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(&googleapi.Error{Code: 503}),
		fail(&googleapi.Error{Code: 503}),
		respond(&google.SyncResponse{NextSyncToken: "tok-1"}),
	}

	result := h.engine.Sync(context.Background())
	if result.Status != StatusSuccess {
		t.Fatalf("expected success after retries, got %+v", result)
	}
	if len(h.provider.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(h.provider.calls))
	}
}

func TestSyncTransientErrorsExhaustAttempts(t *testing.T) {
	h := newHarness(t)

	transient := &googleapi.Error{Code: 503}
	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(transient), fail(transient), fail(transient),
	}

	result := h.engine.Sync(context.Background())
	if result.Status != StatusError {
		t.Fatalf("expected error after exhausting retries, got %+v", result)
	}
	if !errors.Is(result.Err, transient) {
		t.Fatalf("expected the provider error to surface, got %v", result.Err)
	}
}

func TestSyncPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.SetCalendarID("")
	if result := h.engine.Sync(ctx); result.Status != StatusNoCalendarSelected {
		t.Fatalf("expected no-calendar-selected, got %+v", result)
	}

	h.engine.SetCalendarID("cal-1")
	h.auth.hasToken = false
	if result := h.engine.Sync(ctx); result.Status != StatusNotAuthenticated {
		t.Fatalf("expected not-authenticated, got %+v", result)
	}
}

func TestSyncConsumesValidCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "cmd1", Title: "[CONFIG] BRIGHTNESS 90", Start: testNow.Add(-time.Hour), End: testNow},
				{ID: "bad", Title: "[CONFIG] BRIGHTNESS 150", Start: testNow.Add(-2 * time.Hour), End: testNow},
				{ID: "e1", Title: "Lunch", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
			},
			NextSyncToken: "tok-1",
		}),
	}

	result := h.engine.Sync(ctx)
	if result.Status != StatusSuccess || result.CommandsApplied != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The valid command was applied and its event retired locally and
	// remotely; the invalid one stays put as the caregiver's error signal.
	if snap := h.settings.Resolve(ctx); snap.Brightness != 90 {
		t.Errorf("brightness = %d, want 90", snap.Brightness)
	}
	if len(h.provider.deleted) != 1 || h.provider.deleted[0] != "cmd1" {
		t.Errorf("remote retirement calls: %v", h.provider.deleted)
	}

	remaining, err := h.repo.CommandEvents(ctx)
	if err != nil {
		t.Fatalf("command query failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "bad" {
		t.Fatalf("invalid command must remain cached: %+v", remaining)
	}
}

func TestSyncMostRecentCommandWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "older", Title: "[CONFIG] BRIGHTNESS 30", Start: testNow.Add(-2 * time.Hour), End: testNow.Add(-time.Hour)},
				{ID: "newer", Title: "[CONFIG] BRIGHTNESS 70", Start: testNow.Add(-time.Hour), End: testNow},
			},
			NextSyncToken: "tok-1",
		}),
	}

	if result := h.engine.Sync(ctx); result.Status != StatusSuccess {
		t.Fatalf("sync failed: %+v", result)
	}
	if snap := h.settings.Resolve(ctx); snap.Brightness != 70 {
		t.Errorf("brightness = %d, want the most recent 70", snap.Brightness)
	}
}

func TestHolidayFeedSyncAndThrottle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feed.holidays = []ics.Holiday{
		{UID: "hol_20260317", Title: "Public Holiday", Start: testNow.AddDate(0, 0, 7), End: testNow.AddDate(0, 0, 8)},
	}

	if result := h.engine.SyncHolidays(ctx, false); result.Status != StatusSuccess || result.Added != 1 {
		t.Fatalf("first holiday pass: %+v", result)
	}
	if result := h.engine.SyncHolidays(ctx, false); result.Status != StatusSkipped {
		t.Fatalf("second pass within the interval must be throttled: %+v", result)
	}
	if result := h.engine.SyncHolidays(ctx, true); result.Status != StatusSuccess {
		t.Fatalf("forced pass must run: %+v", result)
	}
	if h.feed.fetches != 2 {
		t.Fatalf("expected 2 feed fetches, got %d", h.feed.fetches)
	}

	events, err := h.repo.ActiveInWindow(ctx, testNow, testNow.AddDate(0, 0, 14), true)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 || !events[0].IsHoliday || !events[0].AllDay {
		t.Fatalf("holiday not cached as all-day secondary event: %+v", events)
	}
}

func TestHolidayCalendarKeepsOnlyAllDayNonCommand(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.Holiday = config.Holiday{CalendarID: "hol-cal", IntervalDays: 7}
	h.engine.feed = nil
	ctx := context.Background()

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{
			Events: []google.SyncedEvent{
				{ID: "h1", Title: "Public Holiday", Start: testNow.AddDate(0, 0, 3), End: testNow.AddDate(0, 0, 4), AllDay: true},
				{ID: "h2", Title: "Timed Entry", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
				{ID: "h3", Title: "[CONFIG] SLEEP 21:00", Start: testNow, End: testNow.Add(time.Hour), AllDay: true},
			},
			NextSyncToken: "tok-h",
		}),
	}

	result := h.engine.SyncHolidays(ctx, true)
	if result.Status != StatusSuccess || result.Added != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	ids := cachedIDs(t, h.repo)
	if !ids["h1"] || ids["h2"] || ids["h3"] {
		t.Fatalf("holiday filtering broken: %v", ids)
	}
}

func TestSyncRevokedGrantSurfacesAsNotAuthenticated(t *testing.T) {
	h := newHarness(t)

	// A 401 triggers the refresh-and-retry, but the refresh itself fails
	// because the grant was revoked. That failure arrives wrapped by the
	// client layers as *oauth2.RetrieveError, not *googleapi.Error, and
	// must still surface as not-authenticated so the daemon stops
	// hammering the token endpoint.
	revoked := fmt.Errorf("failed to get OAuth client: %w",
		fmt.Errorf("token refresh failed: %w", &oauth2.RetrieveError{
			Response:  &http.Response{StatusCode: http.StatusBadRequest},
			ErrorCode: "invalid_grant",
		}))
	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		fail(&googleapi.Error{Code: http.StatusUnauthorized}),
		fail(revoked),
	}

	result := h.engine.Sync(context.Background())
	if result.Status != StatusNotAuthenticated {
		t.Fatalf("expected not-authenticated for a revoked grant, got %+v", result)
	}
	if h.auth.invalidated != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", h.auth.invalidated)
	}
}

func TestEvictionRunsOnlyAfterFullSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := database.Event{
		ID: "stale", Title: "Stale",
		Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour),
		LastSyncedAt: testNow.AddDate(0, 0, -10),
	}
	if err := h.repo.Upsert(ctx, []database.Event{stale}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := h.cursors.Save(ctx, database.SyncState{
		Source: database.SourcePrimary, CalendarID: "cal-1", SyncToken: "tok-1", LastSyncedAt: testNow,
	}); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{NextSyncToken: "tok-1"}),
		respond(&google.SyncResponse{NextSyncToken: "tok-2"}),
	}

	// Incremental pass: the stale row outlives the retention cutoff.
	if result := h.engine.Sync(ctx); result.Status != StatusSuccess {
		t.Fatalf("incremental sync failed: %+v", result)
	}
	if !cachedIDs(t, h.repo)["stale"] {
		t.Fatal("incremental sync must not evict by age")
	}

	// Full pass: the same row is now past retention and gets evicted.
	if err := h.cursors.ClearToken(ctx, database.SourcePrimary); err != nil {
		t.Fatalf("cursor clear failed: %v", err)
	}
	if result := h.engine.Sync(ctx); result.Status != StatusSuccess {
		t.Fatalf("full sync failed: %+v", result)
	}
	if cachedIDs(t, h.repo)["stale"] {
		t.Fatal("full sync must evict rows older than the retention window")
	}
}

func TestHolidayFeedRefreshesWithoutPrimaryAuth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.auth.hasToken = false
	h.feed.holidays = []ics.Holiday{
		{UID: "hol_20260317", Title: "Public Holiday", Start: testNow.AddDate(0, 0, 7), End: testNow.AddDate(0, 0, 8)},
	}

	// The ICS feed needs no Google credentials, so the holiday pass runs
	// even when the primary source cannot.
	result := h.engine.Sync(ctx)
	if result.Status != StatusNotAuthenticated {
		t.Fatalf("expected not-authenticated for the primary source, got %+v", result)
	}
	if h.feed.fetches != 1 {
		t.Fatalf("expected the holiday feed to refresh, got %d fetches", h.feed.fetches)
	}
	if !cachedIDs(t, h.repo)["hol_20260317"] {
		t.Error("holiday not cached")
	}
}

func TestSyncCalendarChangeForcesFullSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.repo.Upsert(ctx, []database.Event{
		{ID: "from-old-cal", Title: "Old", Start: testNow, End: testNow.Add(time.Hour), LastSyncedAt: testNow},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := h.cursors.Save(ctx, database.SyncState{
		Source: database.SourcePrimary, CalendarID: "other-cal", SyncToken: "tok-other", LastSyncedAt: testNow,
	}); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	h.provider.script = []func(google.SyncRequest) (*google.SyncResponse, error){
		respond(&google.SyncResponse{NextSyncToken: "tok-1"}),
	}

	if result := h.engine.Sync(ctx); result.Status != StatusSuccess {
		t.Fatalf("sync failed: %+v", result)
	}
	if req := h.provider.calls[0]; req.SyncToken != "" {
		t.Fatalf("calendar change must force a full sync, got %+v", req)
	}
	if ids := cachedIDs(t, h.repo); ids["from-old-cal"] {
		t.Error("events from the previous calendar must be dropped")
	}
}
