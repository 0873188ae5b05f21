// Package display chooses what the clock face shows: the relevant all-day
// events, the next timed event, and the sleep/awake state.
package display

import (
	"sort"
	"time"

	"careclock/internal/clock"
	"careclock/internal/database"
)

// Lookahead windows for event selection, in days.
const (
	allDayLookaheadDays = 7
	timedLookaheadDays  = 14
)

// Selection is the selector output. Both parts are independent: all-day
// events never suppress a timed event and vice versa.
type Selection struct {
	AllDay []database.Event
	Timed  *database.Event
}

// Select picks the display-relevant events from the cache contents.
//
// All-day candidates are events that are ongoing today or start within the
// next 7 days (today inclusive, day 7 exclusive), ordered holidays first and
// then by start time. The timed candidate is the earliest event whose start
// is strictly after now and whose start date falls within the next 14 days;
// events that have already started are excluded even if still running.
func Select(now time.Time, loc *time.Location, events []database.Event) Selection {
	local := now.In(loc)
	today := clock.StartOfDay(local)
	allDayHorizon := today.AddDate(0, 0, allDayLookaheadDays)
	timedHorizon := today.AddDate(0, 0, timedLookaheadDays)

	var sel Selection
	for i := range events {
		e := events[i]
		if e.IsCommand {
			continue
		}

		startDay := clock.StartOfDay(e.Start.In(loc))

		if e.AllDay {
			ongoing := !startDay.After(today) && e.End.After(today)
			upcoming := !startDay.Before(today) && startDay.Before(allDayHorizon)
			if ongoing || upcoming {
				sel.AllDay = append(sel.AllDay, e)
			}
			continue
		}

		if !e.Start.After(now) || !startDay.Before(timedHorizon) {
			continue
		}
		if sel.Timed == nil || e.Start.Before(sel.Timed.Start) {
			ev := e
			sel.Timed = &ev
		}
	}

	sort.SliceStable(sel.AllDay, func(i, j int) bool {
		a, b := sel.AllDay[i], sel.AllDay[j]
		if a.IsHoliday != b.IsHoliday {
			return a.IsHoliday
		}
		return a.Start.Before(b.Start)
	})

	return sel
}
