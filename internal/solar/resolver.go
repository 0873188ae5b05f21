// Package solar resolves sunrise and sunset times for the display location.
package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"careclock/internal/clock"
	"careclock/internal/util"
)

// Resolver answers sunrise/sunset queries with a same-day cache. Lookups go
// to an HTTP service first and fall back to a local computation; if both
// fail, the caller-supplied fallback is returned and nothing is cached.
type Resolver struct {
	httpClient *http.Client
	baseURL    string
	lat, lon   float64
	loc        *time.Location
	clk        clock.Clock
	logger     *util.Logger

	mu       sync.Mutex
	cacheDay string // YYYY-MM-DD of the cached values
	sunrise  clock.TimeOfDay
	sunset   clock.TimeOfDay
}

// NewResolver creates a resolver for the given coordinates and timezone.
func NewResolver(baseURL string, lat, lon float64, loc *time.Location, clk clock.Clock, logger *util.Logger) *Resolver {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	return &Resolver{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		lat:        lat,
		lon:        lon,
		loc:        loc,
		clk:        clk,
		logger:     logger,
	}
}

// Sunrise returns today's sunrise, or fallback when it cannot be resolved.
func (r *Resolver) Sunrise(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	sunrise, _, ok := r.today(ctx)
	if !ok {
		return fallback
	}
	return sunrise
}

// Sunset returns today's sunset, or fallback when it cannot be resolved.
func (r *Resolver) Sunset(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	_, sunset, ok := r.today(ctx)
	if !ok {
		return fallback
	}
	return sunset
}

// ClearCache drops the cached values. The cache also self-invalidates when
// the local calendar date changes.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheDay = ""
}

func (r *Resolver) today(ctx context.Context) (sunrise, sunset clock.TimeOfDay, ok bool) {
	now := r.clk.Now().In(r.loc)
	day := now.Format("2006-01-02")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cacheDay == day {
		return r.sunrise, r.sunset, true
	}

	sunrise, sunset, err := r.lookup(ctx, day)
	if err != nil {
		r.logger.Warn("Solar lookup failed, trying local computation", "error", err)
		sunrise, sunset, err = r.compute(now)
		if err != nil {
			r.logger.Warn("Local solar computation failed", "error", err)
			return clock.TimeOfDay{}, clock.TimeOfDay{}, false
		}
	}

	r.cacheDay = day
	r.sunrise = sunrise
	r.sunset = sunset
	return sunrise, sunset, true
}

type lookupResponse struct {
	Results struct {
		Sunrise string `json:"sunrise"`
		Sunset  string `json:"sunset"`
	} `json:"results"`
	Status string `json:"status"`
}

func (r *Resolver) lookup(ctx context.Context, day string) (clock.TimeOfDay, clock.TimeOfDay, error) {
	var zero clock.TimeOfDay

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", r.lat))
	params.Set("lng", fmt.Sprintf("%f", r.lon))
	params.Set("date", day)
	params.Set("formatted", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return zero, zero, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return zero, zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return zero, zero, fmt.Errorf("solar service returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return zero, zero, fmt.Errorf("malformed solar response: %w", err)
	}
	if body.Status != "OK" {
		return zero, zero, fmt.Errorf("solar service status %q", body.Status)
	}

	sunriseAt, err := time.Parse(time.RFC3339, body.Results.Sunrise)
	if err != nil {
		return zero, zero, fmt.Errorf("malformed sunrise %q: %w", body.Results.Sunrise, err)
	}
	sunsetAt, err := time.Parse(time.RFC3339, body.Results.Sunset)
	if err != nil {
		return zero, zero, fmt.Errorf("malformed sunset %q: %w", body.Results.Sunset, err)
	}

	return clock.TimeOfDayOf(sunriseAt.In(r.loc)), clock.TimeOfDayOf(sunsetAt.In(r.loc)), nil
}

func (r *Resolver) compute(now time.Time) (clock.TimeOfDay, clock.TimeOfDay, error) {
	var zero clock.TimeOfDay
	day := clock.StartOfDay(now)

	sunriseAt, err := sunriseForDate(day, r.lat, r.lon, r.loc)
	if err != nil {
		return zero, zero, err
	}
	sunsetAt, err := sunsetForDate(day, r.lat, r.lon, r.loc)
	if err != nil {
		return zero, zero, err
	}

	return clock.TimeOfDayOf(sunriseAt), clock.TimeOfDayOf(sunsetAt), nil
}
