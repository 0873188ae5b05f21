// Package ics fetches holiday calendars published as ICS feeds and expands
// their recurrences into concrete all-day instances.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"careclock/internal/util"
)

// Caps a single event's recurrence expansion. Holiday rules are yearly, so
// anything near this is a malformed feed.
const maxInstancesPerEvent = 500

// Holiday is one expanded holiday instance. Holidays are all-day; End is the
// exclusive next-day boundary.
type Holiday struct {
	UID   string
	Title string
	Start time.Time
	End   time.Time
}

// Feed reads holidays from a single ICS subscription URL.
type Feed struct {
	client *http.Client
	url    string
	loc    *time.Location
	logger *util.Logger
}

// NewFeed creates a holiday feed reader. Dates in the feed are interpreted
// in loc.
func NewFeed(url string, loc *time.Location, logger *util.Logger) *Feed {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	return &Feed{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		loc:    loc,
		logger: logger,
	}
}

// HolidaysBetween fetches the feed and returns every holiday instance that
// overlaps [start, end). Recurring holidays are expanded per their RRULE.
func (f *Feed) HolidaysBetween(ctx context.Context, start, end time.Time) ([]Holiday, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse holiday feed: %w", err)
	}

	var holidays []Holiday
	for _, ve := range cal.Events() {
		expanded, err := f.expandEvent(ve, start, end)
		if err != nil {
			f.logger.Warn("Skipping malformed holiday entry", "error", err)
			continue
		}
		holidays = append(holidays, expanded...)
	}

	return holidays, nil
}

func (f *Feed) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holiday feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holiday feed returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (f *Feed) expandEvent(ve *ical.VEvent, rangeStart, rangeEnd time.Time) ([]Holiday, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	uid := uidProp.Value

	title := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = p.Value
	}

	start, end, err := f.eventBounds(ve)
	if err != nil {
		return nil, err
	}

	rawRule := ""
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rawRule = p.Value
	}

	if rawRule == "" {
		if start.Before(rangeEnd) && end.After(rangeStart) {
			return []Holiday{{UID: uid, Title: title, Start: start, End: end}}, nil
		}
		return nil, nil
	}

	rule, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, fmt.Errorf("invalid RRULE %q: %w", rawRule, err)
	}
	rule.DTStart(start)

	var set rrule.Set
	set.RRule(rule)

	duration := end.Sub(start)
	instances := set.Between(rangeStart.Add(-duration), rangeEnd, true)
	if len(instances) > maxInstancesPerEvent {
		instances = instances[:maxInstancesPerEvent]
		f.logger.Warn("Holiday recurrence expansion truncated", "uid", uid, "cap", maxInstancesPerEvent)
	}

	var holidays []Holiday
	for _, instStart := range instances {
		day := time.Date(instStart.Year(), instStart.Month(), instStart.Day(), 0, 0, 0, 0, f.loc)
		instEnd := day.Add(duration)
		if !day.Before(rangeEnd) || !instEnd.After(rangeStart) {
			continue
		}
		holidays = append(holidays, Holiday{
			UID:   fmt.Sprintf("%s_%s", uid, day.Format("20060102")),
			Title: title,
			Start: day,
			End:   instEnd,
		})
	}

	return holidays, nil
}

// eventBounds extracts DTSTART/DTEND as midnight-aligned times in the feed
// location. Holiday feeds publish date-only values; a date-time DTSTART is
// truncated to its day.
func (f *Feed) eventBounds(ve *ical.VEvent) (time.Time, time.Time, error) {
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return time.Time{}, time.Time{}, errors.New("missing DTSTART")
	}

	start, err := f.parseICSDate(startProp.Value)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid DTSTART %q: %w", startProp.Value, err)
	}

	end := start.Add(24 * time.Hour)
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && endProp.Value != "" {
		parsed, err := f.parseICSDate(endProp.Value)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid DTEND %q: %w", endProp.Value, err)
		}
		if parsed.After(start) {
			end = parsed
		}
	}

	return start, end, nil
}

func (f *Feed) parseICSDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)

	if strings.Contains(v, "T") {
		layout := "20060102T150405"
		loc := f.loc
		if strings.HasSuffix(v, "Z") {
			layout = "20060102T150405Z"
			loc = time.UTC
		}
		t, err := time.ParseInLocation(layout, v, loc)
		if err != nil {
			return time.Time{}, err
		}
		local := t.In(f.loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, f.loc), nil
	}

	return time.ParseInLocation("20060102", v, f.loc)
}
