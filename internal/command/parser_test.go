package command

import (
	"testing"

	"careclock/internal/clock"
)

func TestIsCommand(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"[CONFIG] SLEEP 21:00", true},
		{"  [config] wake 7:00  ", true},
		{"[Config]BRIGHTNESS 50", true},
		{"Doctor Appointment", false},
		{"CONFIG SLEEP 21:00", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsCommand(tc.title); got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestParseTimeEquivalence(t *testing.T) {
	// 12-hour and 24-hour forms of the same time parse identically.
	a := Parse("[CONFIG] SLEEP 9:00 PM")
	b := Parse("[CONFIG] SLEEP 21:00")

	if a.Kind != KindSleepTime || b.Kind != KindSleepTime {
		t.Fatalf("expected sleep commands, got %v and %v", a.Kind, b.Kind)
	}
	if a.Time != b.Time {
		t.Fatalf("expected equal times, got %v and %v", a.Time, b.Time)
	}
	if want := (clock.TimeOfDay{Hour: 21}); a.Time != want {
		t.Fatalf("expected 21:00, got %v", a.Time)
	}
}

func TestParseAmbiguousHours(t *testing.T) {
	cases := []struct {
		title string
		kind  Kind
		want  clock.TimeOfDay
	}{
		// Ambiguous hours resolve by keyword: WAKE assumes AM, SLEEP PM.
		{"[CONFIG] WAKE 9:00", KindWakeTime, clock.TimeOfDay{Hour: 9}},
		{"[CONFIG] SLEEP 9:00", KindSleepTime, clock.TimeOfDay{Hour: 21}},
		{"[CONFIG] SLEEP 12", KindSleepTime, clock.TimeOfDay{Hour: 12}},
		{"[CONFIG] WAKE 12", KindWakeTime, clock.TimeOfDay{Hour: 0}},
		// Hour 0 and 13-23 are unambiguous 24-hour times.
		{"[CONFIG] SLEEP 0:30", KindSleepTime, clock.TimeOfDay{Hour: 0, Minute: 30}},
		{"[CONFIG] WAKE 13:15", KindWakeTime, clock.TimeOfDay{Hour: 13, Minute: 15}},
		// Explicit meridiem.
		{"[CONFIG] SLEEP 12 AM", KindSleepTime, clock.TimeOfDay{Hour: 0}},
		{"[CONFIG] SLEEP 12 PM", KindSleepTime, clock.TimeOfDay{Hour: 12}},
		{"[CONFIG] WAKE 6:30 AM", KindWakeTime, clock.TimeOfDay{Hour: 6, Minute: 30}},
		{"[CONFIG] SLEEP 8:45 PM", KindSleepTime, clock.TimeOfDay{Hour: 20, Minute: 45}},
	}

	for _, tc := range cases {
		cmd := Parse(tc.title)
		if cmd.Kind != tc.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v (%s)", tc.title, cmd.Kind, tc.kind, cmd.Reason)
			continue
		}
		if cmd.Time != tc.want {
			t.Errorf("Parse(%q).Time = %v, want %v", tc.title, cmd.Time, tc.want)
		}
	}
}

func TestParseTrailingTextIgnored(t *testing.T) {
	cmd := Parse("[CONFIG] SLEEP 9:00 PM starting tonight, love you Dad")
	if cmd.Kind != KindSleepTime {
		t.Fatalf("expected sleep command, got %v (%s)", cmd.Kind, cmd.Reason)
	}
	if want := (clock.TimeOfDay{Hour: 21}); cmd.Time != want {
		t.Fatalf("expected 21:00, got %v", cmd.Time)
	}
}

func TestParseSolarReferences(t *testing.T) {
	cases := []struct {
		title  string
		solar  SolarRef
		offset int
	}{
		{"[CONFIG] WAKE SUNRISE", SolarSunrise, 0},
		{"[CONFIG] SLEEP SUNSET+30", SolarSunset, 30},
		{"[CONFIG] WAKE SUNRISE-15", SolarSunrise, -15},
		{"[CONFIG] SLEEP sunset+90", SolarSunset, 90},
	}

	for _, tc := range cases {
		cmd := Parse(tc.title)
		if cmd.Kind == KindInvalid {
			t.Errorf("Parse(%q) invalid: %s", tc.title, cmd.Reason)
			continue
		}
		if cmd.Solar != tc.solar || cmd.OffsetMin != tc.offset {
			t.Errorf("Parse(%q) = solar %v offset %d, want %v %d",
				tc.title, cmd.Solar, cmd.OffsetMin, tc.solar, tc.offset)
		}
	}

	if cmd := Parse("[CONFIG] SLEEP SUNSET30"); cmd.Kind != KindInvalid {
		t.Errorf("expected invalid for missing offset sign, got %v", cmd.Kind)
	}
}

func TestParseNumericCommands(t *testing.T) {
	if cmd := Parse("[CONFIG] BRIGHTNESS 75"); cmd.Kind != KindBrightness || cmd.Value != 75 {
		t.Errorf("brightness parse failed: %+v", cmd)
	}
	if cmd := Parse("[CONFIG] BRIGHTNESS 150"); cmd.Kind != KindInvalid {
		t.Errorf("expected invalid for out-of-range brightness, got %v", cmd.Kind)
	}
	if cmd := Parse("[CONFIG] MESSAGE_SIZE 40"); cmd.Kind != KindMessageSize || cmd.Value != 40 {
		t.Errorf("message size parse failed: %+v", cmd)
	}
	if cmd := Parse("[CONFIG] MESSAGE_SIZE 10"); cmd.Kind != KindInvalid {
		t.Errorf("expected invalid for out-of-range message size, got %v", cmd.Kind)
	}
	if cmd := Parse("[CONFIG] TIME_FORMAT 24"); cmd.Kind != KindTimeFormat || cmd.Value != 24 {
		t.Errorf("time format parse failed: %+v", cmd)
	}
	if cmd := Parse("[CONFIG] TIME_FORMAT 13"); cmd.Kind != KindInvalid {
		t.Errorf("expected invalid time format, got %v", cmd.Kind)
	}
}

func TestParseToggles(t *testing.T) {
	cases := []struct {
		title string
		kind  Kind
		on    bool
	}{
		{"[CONFIG] SHOW_YEAR", KindShowYear, true},
		{"[CONFIG] HIDE_YEAR", KindShowYear, false},
		{"[CONFIG] SHOW_SLEEP_EVENTS", KindShowSleepEvents, true},
		{"[CONFIG] HIDE_SLEEP_EVENTS", KindShowSleepEvents, false},
		{"[CONFIG] SHOW_HOLIDAYS", KindShowHolidays, true},
		{"[CONFIG] HIDE_HOLIDAYS", KindShowHolidays, false},
	}

	for _, tc := range cases {
		cmd := Parse(tc.title)
		if cmd.Kind != tc.kind || cmd.On != tc.on {
			t.Errorf("Parse(%q) = %v/%v, want %v/%v", tc.title, cmd.Kind, cmd.On, tc.kind, tc.on)
		}
	}
}

func TestParseInvalidNeverPanics(t *testing.T) {
	titles := []string{
		"[CONFIG]",
		"[CONFIG] ",
		"[CONFIG] DANCE",
		"[CONFIG] SLEEP",
		"[CONFIG] SLEEP soon",
		"[CONFIG] SLEEP 25:00",
		"[CONFIG] SLEEP 9:75",
		"[CONFIG] BRIGHTNESS bright",
		"[CONFIG] WAKE 13 PM",
	}

	for _, title := range titles {
		cmd := Parse(title)
		if cmd.Kind != KindInvalid {
			t.Errorf("Parse(%q) = %v, want invalid", title, cmd.Kind)
		}
		if cmd.Reason == "" {
			t.Errorf("Parse(%q) missing reason", title)
		}
	}
}

func TestParseAll(t *testing.T) {
	titles := []string{
		"Doctor Appointment",
		"[CONFIG] BRIGHTNESS 150", // invalid, excluded
		"[CONFIG] WAKE 7:00",
		"Mom's Birthday",
		"[CONFIG] SLEEP 21:30",
	}

	commands := ParseAll(titles, nil)
	if len(commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(commands))
	}
	// Input order is preserved.
	if commands[0].Kind != KindWakeTime || commands[1].Kind != KindSleepTime {
		t.Fatalf("unexpected order: %v, %v", commands[0].Kind, commands[1].Kind)
	}
}
