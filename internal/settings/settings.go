// Package settings resolves the effective display settings by merging
// manual overrides, command-derived values, and computed defaults.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"careclock/internal/clock"
	"careclock/internal/command"
	"careclock/internal/config"
	"careclock/internal/database"
	"careclock/internal/util"
)

// Static defaults for the non-time settings.
const (
	DefaultBrightness     = 80
	DefaultMessageAreaPct = 40
)

// Fallback bases when solar resolution is unavailable. Default wake is
// sunrise and default sleep is sunset + 30 minutes, so these bases yield
// the fixed 06:00 / 21:00 fallbacks.
var (
	fallbackSunrise = clock.TimeOfDay{Hour: 6, Minute: 0}
	fallbackSunset  = clock.TimeOfDay{Hour: 20, Minute: 30}
)

const defaultSleepOffsetMin = 30

// Snapshot is one fully-resolved, immutable settings value. Every field
// always carries a value; consumers never see a partial snapshot.
type Snapshot struct {
	SleepTime             clock.TimeOfDay
	WakeTime              clock.TimeOfDay
	TwelveHour            bool
	Brightness            int
	MessageAreaPct        int
	ShowYear              bool
	ShowEventsDuringSleep bool
	ShowHolidays          bool
}

// SolarSource resolves solar references; failures surface as the fallback.
type SolarSource interface {
	Sunrise(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay
	Sunset(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay
}

// TimeSpec is a persisted sleep/wake value: either a fixed time of day or a
// solar reference with a minute offset.
type TimeSpec struct {
	Fixed     *clock.TimeOfDay `json:"fixed,omitempty"`
	Solar     string           `json:"solar,omitempty"` // "sunrise" or "sunset"
	OffsetMin int              `json:"offset_min,omitempty"`
}

// CommandValues holds the settings layer derived from applied configuration
// commands. Nil fields fall through to defaults.
type CommandValues struct {
	Sleep                 *TimeSpec `json:"sleep,omitempty"`
	Wake                  *TimeSpec `json:"wake,omitempty"`
	TwelveHour            *bool     `json:"twelve_hour,omitempty"`
	Brightness            *int      `json:"brightness,omitempty"`
	MessageAreaPct        *int      `json:"message_area_pct,omitempty"`
	ShowYear              *bool     `json:"show_year,omitempty"`
	ShowEventsDuringSleep *bool     `json:"show_events_during_sleep,omitempty"`
	ShowHolidays          *bool     `json:"show_holidays,omitempty"`
}

const commandValuesKey = "command_settings"

// Store persists command-derived settings in the database.
type Store struct {
	db *database.DB
}

// NewStore creates a new command-settings store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Load retrieves the command-derived values. A missing row yields an empty
// value set.
func (s *Store) Load(ctx context.Context) (*CommandValues, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, commandValuesKey).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return &CommandValues{}, nil
		}
		return nil, err
	}

	if raw == "" {
		return &CommandValues{}, nil
	}

	var values CommandValues
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid command settings: %w", err)
	}

	return &values, nil
}

// Save stores the command-derived values.
func (s *Store) Save(ctx context.Context, values *CommandValues) error {
	if values == nil {
		return nil
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize command settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, commandValuesKey, string(data))
	return err
}

// Resolver merges the three settings layers into a Snapshot.
// Priority per field: manual override > command value > computed default.
type Resolver struct {
	store  *Store
	solar  SolarSource
	logger *util.Logger

	mu        sync.RWMutex
	overrides config.Overrides
}

// NewResolver creates a settings resolver.
func NewResolver(store *Store, solar SolarSource, overrides config.Overrides, logger *util.Logger) *Resolver {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	return &Resolver{
		store:     store,
		solar:     solar,
		overrides: overrides,
		logger:    logger,
	}
}

// SetOverrides replaces the manual override layer, e.g. after a config
// file edit.
func (r *Resolver) SetOverrides(o config.Overrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = o
}

// Resolve computes the effective settings. It is total: storage failures
// degrade to defaults rather than failing the caller, and calling it twice
// with unchanged inputs yields an identical snapshot.
func (r *Resolver) Resolve(ctx context.Context) Snapshot {
	values, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("Failed to load command settings, using defaults", "error", err)
		values = &CommandValues{}
	}

	r.mu.RLock()
	o := r.overrides
	r.mu.RUnlock()

	snap := Snapshot{
		TwelveHour:            true,
		Brightness:            DefaultBrightness,
		MessageAreaPct:        DefaultMessageAreaPct,
		ShowYear:              true,
		ShowEventsDuringSleep: false,
		ShowHolidays:          true,
	}

	// Wake: manual > command > sunrise.
	switch {
	case o.WakeTime != nil:
		snap.WakeTime = *o.WakeTime
	case values.Wake != nil:
		snap.WakeTime = r.resolveTimeSpec(ctx, values.Wake)
	default:
		snap.WakeTime = r.solar.Sunrise(ctx, fallbackSunrise)
	}

	// Sleep: manual > command > sunset + 30 minutes.
	switch {
	case o.SleepTime != nil:
		snap.SleepTime = *o.SleepTime
	case values.Sleep != nil:
		snap.SleepTime = r.resolveTimeSpec(ctx, values.Sleep)
	default:
		snap.SleepTime = r.solar.Sunset(ctx, fallbackSunset).AddMinutes(defaultSleepOffsetMin)
	}

	applyBool(&snap.TwelveHour, values.TwelveHour, o.TwelveHour)
	applyInt(&snap.Brightness, values.Brightness, o.Brightness)
	applyInt(&snap.MessageAreaPct, values.MessageAreaPct, o.MessageAreaPct)
	applyBool(&snap.ShowYear, values.ShowYear, o.ShowYear)
	applyBool(&snap.ShowEventsDuringSleep, values.ShowEventsDuringSleep, o.ShowEventsDuringSleep)
	applyBool(&snap.ShowHolidays, values.ShowHolidays, o.ShowHolidays)

	return snap
}

// resolveTimeSpec turns a persisted sleep/wake spec into a concrete time of
// day, resolving solar references with the same fallbacks the defaults use.
func (r *Resolver) resolveTimeSpec(ctx context.Context, spec *TimeSpec) clock.TimeOfDay {
	if spec.Fixed != nil {
		return *spec.Fixed
	}

	var base clock.TimeOfDay
	switch spec.Solar {
	case "sunset":
		base = r.solar.Sunset(ctx, fallbackSunset)
	default:
		base = r.solar.Sunrise(ctx, fallbackSunrise)
	}
	return base.AddMinutes(spec.OffsetMin)
}

// Apply folds parsed commands into the persisted command layer. Commands
// must be passed oldest first so the most recent one wins per setting.
func (r *Resolver) Apply(ctx context.Context, commands []command.Command) error {
	if len(commands) == 0 {
		return nil
	}

	values, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load command settings: %w", err)
	}

	for _, cmd := range commands {
		switch cmd.Kind {
		case command.KindSleepTime:
			values.Sleep = timeSpecFromCommand(cmd)
		case command.KindWakeTime:
			values.Wake = timeSpecFromCommand(cmd)
		case command.KindBrightness:
			v := cmd.Value
			values.Brightness = &v
		case command.KindTimeFormat:
			twelve := cmd.Value == 12
			values.TwelveHour = &twelve
		case command.KindMessageSize:
			v := cmd.Value
			values.MessageAreaPct = &v
		case command.KindShowYear:
			v := cmd.On
			values.ShowYear = &v
		case command.KindShowSleepEvents:
			v := cmd.On
			values.ShowEventsDuringSleep = &v
		case command.KindShowHolidays:
			v := cmd.On
			values.ShowHolidays = &v
		}
	}

	return r.store.Save(ctx, values)
}

func timeSpecFromCommand(cmd command.Command) *TimeSpec {
	switch cmd.Solar {
	case command.SolarSunrise:
		return &TimeSpec{Solar: "sunrise", OffsetMin: cmd.OffsetMin}
	case command.SolarSunset:
		return &TimeSpec{Solar: "sunset", OffsetMin: cmd.OffsetMin}
	default:
		t := cmd.Time
		return &TimeSpec{Fixed: &t}
	}
}

func applyInt(dst *int, cmd *int, manual *int) {
	if cmd != nil {
		*dst = *cmd
	}
	if manual != nil {
		*dst = *manual
	}
}

func applyBool(dst *bool, cmd *bool, manual *bool) {
	if cmd != nil {
		*dst = *cmd
	}
	if manual != nil {
		*dst = *manual
	}
}
