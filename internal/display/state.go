package display

import (
	"time"

	"careclock/internal/clock"
	"careclock/internal/database"
	"careclock/internal/settings"
)

// StateKind identifies the display state variant.
type StateKind int

const (
	StateSleep StateKind = iota
	StateAwakeNoEvent
	StateAwakeWithEvent
)

func (k StateKind) String() string {
	switch k {
	case StateSleep:
		return "sleep"
	case StateAwakeNoEvent:
		return "awake_no_event"
	default:
		return "awake_with_event"
	}
}

// AllDayEntry is one all-day event prepared for rendering. StartDate is nil
// when the event is today or already ongoing, which the renderer shows as
// "now". EndDate is set only for multi-day events and holds the inclusive
// final day.
type AllDayEntry struct {
	Title     string
	StartDate *time.Time
	EndDate   *time.Time
}

// TimedEntry is the next timed event prepared for rendering. Date is nil
// when the event falls today.
type TimedEntry struct {
	Title string
	Start time.Time
	Date  *time.Time
}

// State is the computed display state. AllDay and Timed are populated for
// StateAwakeWithEvent, and for StateSleep when events are shown during
// sleep.
type State struct {
	Kind   StateKind
	AllDay []AllDayEntry
	Timed  *TimedEntry
}

// InSleepPeriod reports whether now falls in the sleep period. The normal
// nightly case (sleep > wake) wraps midnight; a sleep <= wake pair is a
// daytime nap window.
func InSleepPeriod(now, sleep, wake clock.TimeOfDay) bool {
	n, s, w := now.MinuteOfDay(), sleep.MinuteOfDay(), wake.MinuteOfDay()
	if s > w {
		return n >= s || n < w
	}
	return n >= s && n < w
}

// Compute derives the display state from the current time, the cached
// events, and the effective settings. It is total: missing or empty input
// maps to a no-event state, never an error.
func Compute(now time.Time, loc *time.Location, events []database.Event, snap settings.Snapshot) State {
	local := now.In(loc)
	today := clock.StartOfDay(local)

	if !snap.ShowHolidays {
		filtered := events[:0:0]
		for _, e := range events {
			if !e.IsHoliday {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	asleep := InSleepPeriod(clock.TimeOfDayOf(local), snap.SleepTime, snap.WakeTime)

	// Sleep delay: a timed event scheduled for today that has not ended yet
	// keeps the display awake so the event is not hidden mid-way.
	if asleep && hasUnfinishedTimedEventToday(now, today, loc, events) {
		asleep = false
	}

	if asleep && !snap.ShowEventsDuringSleep {
		return State{Kind: StateSleep}
	}

	sel := Select(now, loc, events)

	state := State{Kind: StateAwakeWithEvent}
	if asleep {
		state.Kind = StateSleep
	} else if len(sel.AllDay) == 0 && sel.Timed == nil {
		return State{Kind: StateAwakeNoEvent}
	}

	for _, e := range sel.AllDay {
		state.AllDay = append(state.AllDay, allDayEntry(e, today, loc))
	}
	if sel.Timed != nil {
		state.Timed = timedEntry(*sel.Timed, local, loc)
	}

	return state
}

func hasUnfinishedTimedEventToday(now, today time.Time, loc *time.Location, events []database.Event) bool {
	for _, e := range events {
		if e.AllDay || e.IsCommand {
			continue
		}
		if clock.SameDay(e.Start.In(loc), today) && e.End.After(now) {
			return true
		}
	}
	return false
}

func allDayEntry(e database.Event, today time.Time, loc *time.Location) AllDayEntry {
	entry := AllDayEntry{Title: e.Title}

	startDay := clock.StartOfDay(e.Start.In(loc))
	if startDay.After(today) {
		entry.StartDate = &startDay
	}

	endDay := clock.StartOfDay(e.End.In(loc))
	if endDay.Sub(startDay) > 24*time.Hour {
		// Exclusive end, so the inclusive "until" date is the day before.
		until := endDay.AddDate(0, 0, -1)
		entry.EndDate = &until
	}

	return entry
}

func timedEntry(e database.Event, local time.Time, loc *time.Location) *TimedEntry {
	entry := &TimedEntry{Title: e.Title, Start: e.Start.In(loc)}
	if !clock.SameDay(entry.Start, local) {
		day := clock.StartOfDay(entry.Start)
		entry.Date = &day
	}
	return entry
}
