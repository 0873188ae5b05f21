package display

import (
	"testing"
	"time"

	"careclock/internal/database"
)

var testLoc = time.UTC

// now is a Tuesday morning.
var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, testLoc)

func allDayEvent(id, title string, startDay time.Time, days int) database.Event {
	return database.Event{
		ID:     id,
		Title:  title,
		Start:  startDay,
		End:    startDay.AddDate(0, 0, days),
		AllDay: true,
	}
}

func timedEvent(id, title string, start time.Time, d time.Duration) database.Event {
	return database.Event{
		ID:    id,
		Title: title,
		Start: start,
		End:   start.Add(d),
	}
}

func day(offset int) time.Time {
	return time.Date(2026, 3, 10, 0, 0, 0, 0, testLoc).AddDate(0, 0, offset)
}

func TestSelectAllDayLookahead(t *testing.T) {
	events := []database.Event{
		allDayEvent("in6", "In Six Days", day(6), 1),
		allDayEvent("in7", "In Seven Days", day(7), 1),
		allDayEvent("ongoing", "Ongoing Trip", day(-1), 3), // since yesterday, ends tomorrow exclusive
		allDayEvent("past", "Last Week", day(-5), 1),
	}

	sel := Select(testNow, testLoc, events)

	got := map[string]bool{}
	for _, e := range sel.AllDay {
		got[e.ID] = true
	}

	if !got["in6"] {
		t.Error("event starting in 6 days should be included")
	}
	if got["in7"] {
		t.Error("event starting in exactly 7 days should be excluded")
	}
	if !got["ongoing"] {
		t.Error("ongoing multi-day event should be included")
	}
	if got["past"] {
		t.Error("finished event should be excluded")
	}
}

func TestSelectTimedLookahead(t *testing.T) {
	events := []database.Event{
		timedEvent("at14", "Too Far", day(14), time.Hour),
		timedEvent("at13", "In Range", day(13).Add(9*time.Hour), time.Hour),
		timedEvent("started", "Already Started", testNow, time.Hour),
	}

	sel := Select(testNow, testLoc, events)
	if sel.Timed == nil {
		t.Fatal("expected a timed event")
	}
	if sel.Timed.ID != "at13" {
		t.Errorf("selected %s, want at13", sel.Timed.ID)
	}
}

func TestSelectEarliestTimedWins(t *testing.T) {
	events := []database.Event{
		timedEvent("later", "Lunch", testNow.Add(4*time.Hour), time.Hour),
		timedEvent("sooner", "Doctor Appointment", testNow.Add(150*time.Minute), time.Hour),
	}

	sel := Select(testNow, testLoc, events)
	if sel.Timed == nil || sel.Timed.ID != "sooner" {
		t.Fatalf("expected the earliest upcoming event, got %+v", sel.Timed)
	}
}

func TestSelectPastTimedExcludedEvenIfRunning(t *testing.T) {
	events := []database.Event{
		timedEvent("running", "Long Meeting", testNow.Add(-time.Hour), 3*time.Hour),
	}

	sel := Select(testNow, testLoc, events)
	if sel.Timed != nil {
		t.Errorf("started events are never the next event, got %s", sel.Timed.ID)
	}
}

func TestSelectOrdersHolidaysFirst(t *testing.T) {
	birthday := allDayEvent("bday", "Mom's Birthday", day(0), 1)
	holiday := allDayEvent("hol", "Public Holiday", day(2), 1)
	holiday.IsHoliday = true

	sel := Select(testNow, testLoc, []database.Event{birthday, holiday})
	if len(sel.AllDay) != 2 {
		t.Fatalf("expected 2 all-day events, got %d", len(sel.AllDay))
	}
	if !sel.AllDay[0].IsHoliday {
		t.Error("holiday should sort first even with a later start")
	}
}

func TestSelectIgnoresCommandEvents(t *testing.T) {
	cmd := timedEvent("cmd", "[CONFIG] SLEEP 21:00", testNow.Add(time.Hour), time.Hour)
	cmd.IsCommand = true

	sel := Select(testNow, testLoc, []database.Event{cmd})
	if sel.Timed != nil || len(sel.AllDay) != 0 {
		t.Error("command events must never be selected for display")
	}
}

func TestSelectBothKindsReturnedTogether(t *testing.T) {
	events := []database.Event{
		allDayEvent("bday", "Mom's Birthday", day(0), 1),
		timedEvent("appt", "Doctor Appointment", testNow.Add(150*time.Minute), time.Hour),
	}

	sel := Select(testNow, testLoc, events)
	if len(sel.AllDay) != 1 || sel.Timed == nil {
		t.Fatalf("all-day and timed selection are independent: %+v", sel)
	}
}
