// Package command parses caregiver configuration directives out of event
// titles. Parsing is pure: malformed input yields an Invalid command, never
// an error.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"careclock/internal/clock"
	"careclock/internal/util"
)

// Tag marks an event title as a configuration command. Matching is
// case-insensitive after trimming.
const Tag = "[CONFIG]"

// Kind identifies the command variant.
type Kind int

const (
	KindInvalid Kind = iota
	KindSleepTime
	KindWakeTime
	KindBrightness
	KindTimeFormat
	KindMessageSize
	KindShowYear
	KindShowSleepEvents
	KindShowHolidays
)

func (k Kind) String() string {
	switch k {
	case KindSleepTime:
		return "sleep_time"
	case KindWakeTime:
		return "wake_time"
	case KindBrightness:
		return "brightness"
	case KindTimeFormat:
		return "time_format"
	case KindMessageSize:
		return "message_size"
	case KindShowYear:
		return "show_year"
	case KindShowSleepEvents:
		return "show_sleep_events"
	case KindShowHolidays:
		return "show_holidays"
	default:
		return "invalid"
	}
}

// SolarRef identifies a dynamic time reference.
type SolarRef int

const (
	SolarNone SolarRef = iota
	SolarSunrise
	SolarSunset
)

// Command is one parsed configuration directive. Immutable once parsed.
type Command struct {
	Kind Kind

	// Sleep/wake payload: either a fixed time or a solar reference with a
	// minute offset.
	Time      clock.TimeOfDay
	Solar     SolarRef
	OffsetMin int

	// Brightness (0-100), message size (20-80) or time format (12/24).
	Value int

	// Show/hide toggle payload.
	On bool

	// Original text and, for Invalid, the reason.
	Raw    string
	Reason string
}

// IsCommand reports whether a title looks like a configuration command.
func IsCommand(title string) bool {
	trimmed := strings.TrimSpace(title)
	return len(trimmed) >= len(Tag) && strings.EqualFold(trimmed[:len(Tag)], Tag)
}

// Parse turns a raw title into a typed command. Input that carries the tag
// but fails the grammar yields Kind == KindInvalid with a reason.
func Parse(title string) Command {
	if !IsCommand(title) {
		return invalid(title, "missing command tag")
	}

	rest := strings.TrimSpace(strings.TrimSpace(title)[len(Tag):])
	if rest == "" {
		return invalid(title, "missing command keyword")
	}

	// First whitespace run separates the keyword from the value.
	keyword := rest
	value := ""
	if i := strings.IndexFunc(rest, isSpace); i >= 0 {
		keyword = rest[:i]
		value = strings.TrimSpace(rest[i:])
	}

	switch strings.ToUpper(keyword) {
	case "SLEEP":
		return parseTimeCommand(title, value, KindSleepTime)
	case "WAKE":
		return parseTimeCommand(title, value, KindWakeTime)
	case "BRIGHTNESS":
		return parseIntCommand(title, value, KindBrightness, 0, 100)
	case "MESSAGE_SIZE":
		return parseIntCommand(title, value, KindMessageSize, 20, 80)
	case "TIME_FORMAT":
		return parseTimeFormat(title, value)
	case "SHOW_YEAR":
		return Command{Kind: KindShowYear, On: true, Raw: title}
	case "HIDE_YEAR":
		return Command{Kind: KindShowYear, On: false, Raw: title}
	case "SHOW_SLEEP_EVENTS":
		return Command{Kind: KindShowSleepEvents, On: true, Raw: title}
	case "HIDE_SLEEP_EVENTS":
		return Command{Kind: KindShowSleepEvents, On: false, Raw: title}
	case "SHOW_HOLIDAYS":
		return Command{Kind: KindShowHolidays, On: true, Raw: title}
	case "HIDE_HOLIDAYS":
		return Command{Kind: KindShowHolidays, On: false, Raw: title}
	default:
		return invalid(title, fmt.Sprintf("unrecognized keyword %q", keyword))
	}
}

// ParseAll filters titles to command-looking ones, parses each, reports the
// invalid ones, and returns only the successfully parsed commands in input
// order.
func ParseAll(titles []string, logger *util.Logger) []Command {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}

	var commands []Command
	for _, title := range titles {
		if !IsCommand(title) {
			continue
		}
		cmd := Parse(title)
		if cmd.Kind == KindInvalid {
			logger.Warn("Ignoring invalid configuration command",
				"title", cmd.Raw,
				"reason", cmd.Reason,
			)
			continue
		}
		commands = append(commands, cmd)
	}
	return commands
}

func parseTimeCommand(title, value string, kind Kind) Command {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return invalid(title, "missing time value")
	}

	first := strings.ToUpper(fields[0])

	// Solar reference: SUNRISE / SUNSET with an optional attached offset
	// in minutes, e.g. SUNSET+30 or SUNRISE-15.
	ref := SolarNone
	prefix := ""
	switch {
	case strings.HasPrefix(first, "SUNRISE"):
		ref, prefix = SolarSunrise, "SUNRISE"
	case strings.HasPrefix(first, "SUNSET"):
		ref, prefix = SolarSunset, "SUNSET"
	}
	if ref != SolarNone {
		suffix := first[len(prefix):]
		offset := 0
		if suffix != "" {
			if suffix[0] != '+' && suffix[0] != '-' {
				return invalid(title, fmt.Sprintf("malformed solar offset %q", fields[0]))
			}
			n, err := strconv.Atoi(suffix)
			if err != nil {
				return invalid(title, fmt.Sprintf("malformed solar offset %q", fields[0]))
			}
			offset = n
		}
		return Command{Kind: kind, Solar: ref, OffsetMin: offset, Raw: title}
	}

	tod, reason := parseClockTime(fields, kind)
	if reason != "" {
		return invalid(title, reason)
	}
	return Command{Kind: kind, Time: tod, Raw: title}
}

// parseClockTime handles H, H:MM, and H[:MM] AM|PM tokens. Words after a
// recognized time token are ignored so free-text annotations do not break
// parsing. Ambiguous hours (1-12 without AM/PM) resolve by keyword: SLEEP
// assumes PM, WAKE assumes AM. Hour 0 is always 24-hour midnight.
func parseClockTime(fields []string, kind Kind) (clock.TimeOfDay, string) {
	var zero clock.TimeOfDay

	hourStr, minuteStr := fields[0], "0"
	if i := strings.IndexByte(fields[0], ':'); i >= 0 {
		hourStr, minuteStr = fields[0][:i], fields[0][i+1:]
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return zero, fmt.Sprintf("invalid hour %q", fields[0])
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return zero, fmt.Sprintf("invalid minute %q", fields[0])
	}

	meridiem := ""
	if len(fields) > 1 {
		switch strings.ToUpper(fields[1]) {
		case "AM", "PM":
			meridiem = strings.ToUpper(fields[1])
		}
	}

	switch {
	case meridiem != "":
		if hour < 1 || hour > 12 {
			return zero, fmt.Sprintf("hour %d cannot carry %s", hour, meridiem)
		}
		if meridiem == "AM" {
			if hour == 12 {
				hour = 0 // 12 AM is midnight
			}
		} else {
			if hour != 12 {
				hour += 12 // 12 PM is noon
			}
		}
	case hour == 0 || hour >= 13:
		// Unambiguous 24-hour time.
	case kind == KindSleepTime:
		if hour != 12 {
			hour += 12
		}
	default: // wake: assume AM
		if hour == 12 {
			hour = 0
		}
	}

	return clock.TimeOfDay{Hour: hour, Minute: minute}, ""
}

func parseIntCommand(title, value string, kind Kind, min, max int) Command {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return invalid(title, "missing numeric value")
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return invalid(title, fmt.Sprintf("value %q is not a number", fields[0]))
	}
	if n < min || n > max {
		return invalid(title, fmt.Sprintf("value %d out of range [%d,%d]", n, min, max))
	}

	return Command{Kind: kind, Value: n, Raw: title}
}

func parseTimeFormat(title, value string) Command {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return invalid(title, "missing time format value")
	}

	switch fields[0] {
	case "12", "24":
		n, _ := strconv.Atoi(fields[0])
		return Command{Kind: KindTimeFormat, Value: n, Raw: title}
	default:
		return invalid(title, fmt.Sprintf("time format must be 12 or 24, got %q", fields[0]))
	}
}

func invalid(title, reason string) Command {
	return Command{Kind: KindInvalid, Raw: title, Reason: reason}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}
