package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"careclock/internal/clock"
)

// fileTimeOfDay accepts "H:MM" / "HH:MM" strings in the YAML file.
type fileTimeOfDay clock.TimeOfDay

func (t *fileTimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid time of day %q: want HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid minute in %q", raw)
	}
	t.Hour = hour
	t.Minute = minute
	return nil
}

type ConfigFile struct {
	Database  *DatabaseFile  `yaml:"database"`
	Google    *GoogleFile    `yaml:"google"`
	Holiday   *HolidayFile   `yaml:"holiday"`
	Location  *LocationFile  `yaml:"location"`
	Sync      *SyncFile      `yaml:"sync"`
	Retry     *RetryFile     `yaml:"retry"`
	Logging   *LoggingFile   `yaml:"logging"`
	Overrides *OverridesFile `yaml:"overrides"`
}

type DatabaseFile struct {
	Path          *string `yaml:"path"`
	WALMode       *bool   `yaml:"wal_mode"`
	BusyTimeoutMs *int    `yaml:"busy_timeout_ms"`
}

type GoogleFile struct {
	ClientID     *string   `yaml:"client_id"`
	ClientSecret *string   `yaml:"client_secret"`
	RedirectURI  *string   `yaml:"redirect_uri"`
	Scopes       *[]string `yaml:"scopes"`
	CalendarID   *string   `yaml:"calendar_id"`
}

type HolidayFile struct {
	CalendarID   *string `yaml:"calendar_id"`
	ICSURL       *string `yaml:"ics_url"`
	IntervalDays *int    `yaml:"interval_days"`
}

type LocationFile struct {
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	Timezone  *string  `yaml:"timezone"`
}

type SyncFile struct {
	Cron          *string `yaml:"cron"`
	BackDays      *int    `yaml:"back_days"`
	AheadDays     *int    `yaml:"ahead_days"`
	RetentionDays *int    `yaml:"retention_days"`
}

type RetryFile struct {
	Enabled        *bool  `yaml:"enabled"`
	MaxAttempts    *int   `yaml:"max_attempts"`
	BackoffSeconds *[]int `yaml:"backoff_seconds"`
}

type LoggingFile struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type OverridesFile struct {
	SleepTime             *fileTimeOfDay `yaml:"sleep_time"`
	WakeTime              *fileTimeOfDay `yaml:"wake_time"`
	TwelveHour            *bool          `yaml:"twelve_hour"`
	Brightness            *int           `yaml:"brightness"`
	MessageAreaPct        *int           `yaml:"message_area_pct"`
	ShowYear              *bool          `yaml:"show_year"`
	ShowEventsDuringSleep *bool          `yaml:"show_events_during_sleep"`
	ShowHolidays          *bool          `yaml:"show_holidays"`
}

func loadConfigFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyConfigFile(cfg, &file)
	return nil
}

func applyConfigFile(cfg *Config, file *ConfigFile) {
	if cfg == nil || file == nil {
		return
	}

	if file.Database != nil {
		if file.Database.Path != nil {
			cfg.Database.Path = filepath.Clean(*file.Database.Path)
		}
		if file.Database.WALMode != nil {
			cfg.Database.WALMode = *file.Database.WALMode
		}
		if file.Database.BusyTimeoutMs != nil {
			cfg.Database.BusyTimeoutMs = *file.Database.BusyTimeoutMs
		}
	}

	if file.Google != nil {
		if file.Google.ClientID != nil {
			cfg.Google.ClientID = *file.Google.ClientID
		}
		if file.Google.ClientSecret != nil {
			cfg.Google.ClientSecret = *file.Google.ClientSecret
		}
		if file.Google.RedirectURI != nil {
			cfg.Google.RedirectURI = *file.Google.RedirectURI
		}
		if file.Google.Scopes != nil {
			cfg.Google.Scopes = *file.Google.Scopes
		}
		if file.Google.CalendarID != nil {
			cfg.Google.CalendarID = *file.Google.CalendarID
		}
	}

	if file.Holiday != nil {
		if file.Holiday.CalendarID != nil {
			cfg.Holiday.CalendarID = *file.Holiday.CalendarID
		}
		if file.Holiday.ICSURL != nil {
			cfg.Holiday.ICSURL = *file.Holiday.ICSURL
		}
		if file.Holiday.IntervalDays != nil {
			cfg.Holiday.IntervalDays = *file.Holiday.IntervalDays
		}
	}

	if file.Location != nil {
		if file.Location.Latitude != nil {
			cfg.Location.Latitude = *file.Location.Latitude
		}
		if file.Location.Longitude != nil {
			cfg.Location.Longitude = *file.Location.Longitude
		}
		if file.Location.Timezone != nil {
			cfg.Location.Timezone = *file.Location.Timezone
		}
	}

	if file.Sync != nil {
		if file.Sync.Cron != nil {
			cfg.Sync.Cron = *file.Sync.Cron
		}
		if file.Sync.BackDays != nil {
			cfg.Sync.BackDays = *file.Sync.BackDays
		}
		if file.Sync.AheadDays != nil {
			cfg.Sync.AheadDays = *file.Sync.AheadDays
		}
		if file.Sync.RetentionDays != nil {
			cfg.Sync.RetentionDays = *file.Sync.RetentionDays
		}
	}

	if file.Retry != nil {
		if file.Retry.Enabled != nil {
			cfg.Retry.Enabled = *file.Retry.Enabled
		}
		if file.Retry.MaxAttempts != nil {
			cfg.Retry.MaxAttempts = *file.Retry.MaxAttempts
		}
		if file.Retry.BackoffSeconds != nil {
			cfg.Retry.BackoffSeconds = *file.Retry.BackoffSeconds
		}
	}

	if file.Logging != nil {
		if file.Logging.Level != nil {
			cfg.Logging.Level = *file.Logging.Level
		}
		if file.Logging.Format != nil {
			cfg.Logging.Format = *file.Logging.Format
		}
	}

	if file.Overrides != nil {
		cfg.Overrides = overridesFromFile(file.Overrides)
	}
}

func overridesFromFile(f *OverridesFile) Overrides {
	var o Overrides
	if f.SleepTime != nil {
		t := clock.TimeOfDay(*f.SleepTime)
		o.SleepTime = &t
	}
	if f.WakeTime != nil {
		t := clock.TimeOfDay(*f.WakeTime)
		o.WakeTime = &t
	}
	o.TwelveHour = f.TwelveHour
	o.Brightness = f.Brightness
	o.MessageAreaPct = f.MessageAreaPct
	o.ShowYear = f.ShowYear
	o.ShowEventsDuringSleep = f.ShowEventsDuringSleep
	o.ShowHolidays = f.ShowHolidays
	return o
}

// ReloadOverrides re-reads only the overrides block from the config file.
// Used by the config watcher so a caregiver edit takes effect without a
// restart.
func ReloadOverrides(path string) (Overrides, error) {
	var o Overrides

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return o, fmt.Errorf("failed to parse config file: %w", err)
	}

	if file.Overrides != nil {
		o = overridesFromFile(file.Overrides)
	}
	return o, nil
}
