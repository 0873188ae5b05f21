// Package config handles configuration loading from environment variables and optional YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"careclock/internal/clock"
)

// Config holds all application configuration.
type Config struct {
	Database  Database
	Google    Google
	Holiday   Holiday
	Location  Location
	Sync      Sync
	Retry     Retry
	Security  Security
	Logging   Logging
	Overrides Overrides
}

// Database holds SQLite settings.
type Database struct {
	Path          string
	WALMode       bool
	BusyTimeoutMs int
}

// Google holds Google OAuth and calendar selection settings.
type Google struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	CalendarID   string
}

// Holiday holds the secondary event source settings. Exactly one of
// CalendarID or ICSURL should be set; both empty disables the source.
type Holiday struct {
	CalendarID   string
	ICSURL       string
	IntervalDays int
}

// Location holds the display location used for solar lookups and local time.
type Location struct {
	Latitude  float64
	Longitude float64
	Timezone  string
}

// Sync holds sync cadence and window settings.
type Sync struct {
	Cron          string
	BackDays      int
	AheadDays     int
	RetentionDays int
}

// Retry holds retry settings for provider calls.
type Retry struct {
	Enabled        bool
	MaxAttempts    int
	BackoffSeconds []int
}

// Security holds the secret used for at-rest token encryption. When empty,
// the OAuth client secret is used as the key material.
type Security struct {
	EncryptionKey string
}

// Logging holds logging settings.
type Logging struct {
	Level  string
	Format string
}

// Overrides holds caregiver-managed manual setting overrides. A nil field
// means "no override"; the value then comes from commands or defaults.
type Overrides struct {
	SleepTime             *clock.TimeOfDay
	WakeTime              *clock.TimeOfDay
	TwelveHour            *bool
	Brightness            *int
	MessageAreaPct        *int
	ShowYear              *bool
	ShowEventsDuringSleep *bool
	ShowHolidays          *bool
}

// Load reads configuration from environment variables, then overlays the
// optional YAML config file.
func Load() (*Config, error) {
	cfg := &Config{}

	dataDir := getEnv("CARECLOCK_DATA_DIR", DefaultDataDir)

	cfg.Database = Database{
		Path:          filepath.Join(dataDir, "careclock.db"),
		WALMode:       true,
		BusyTimeoutMs: DefaultBusyTimeoutMs,
	}

	cfg.Google = Google{
		ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "urn:ietf:wg:oauth:2.0:oob"),
		Scopes:       []string{"https://www.googleapis.com/auth/calendar.events"},
		CalendarID:   getEnv("CARECLOCK_CALENDAR_ID", ""),
	}

	cfg.Holiday = Holiday{
		CalendarID:   getEnv("CARECLOCK_HOLIDAY_CALENDAR_ID", ""),
		ICSURL:       getEnv("CARECLOCK_HOLIDAY_ICS_URL", ""),
		IntervalDays: getEnvInt("CARECLOCK_HOLIDAY_INTERVAL_DAYS", DefaultHolidayIntervalDays),
	}

	cfg.Location = Location{
		Latitude:  getEnvFloat("CARECLOCK_LATITUDE", DefaultLatitude),
		Longitude: getEnvFloat("CARECLOCK_LONGITUDE", DefaultLongitude),
		Timezone:  getEnv("CARECLOCK_TIMEZONE", DefaultTimezone),
	}

	cfg.Sync = Sync{
		Cron:          getEnv("CARECLOCK_SYNC_CRON", DefaultSyncCron),
		BackDays:      getEnvInt("CARECLOCK_SYNC_BACK_DAYS", DefaultFullSyncBackDays),
		AheadDays:     getEnvInt("CARECLOCK_SYNC_AHEAD_DAYS", DefaultFullSyncAheadDays),
		RetentionDays: getEnvInt("CARECLOCK_RETENTION_DAYS", DefaultRetentionDays),
	}

	cfg.Retry = Retry{
		Enabled:        true,
		MaxAttempts:    5,
		BackoffSeconds: []int{1, 2, 4, 8, 16},
	}

	cfg.Security = Security{
		EncryptionKey: getEnv("CARECLOCK_ENCRYPTION_KEY", ""),
	}

	cfg.Logging = Logging{
		Level:  getEnv("LOG_LEVEL", DefaultLogLevel),
		Format: getEnv("LOG_FORMAT", "json"),
	}

	if err := loadConfigFile(cfg, ConfigFilePath()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration fields are coherent.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Location.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Location.Timezone, err)
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", c.Location.Longitude)
	}
	if c.Holiday.CalendarID != "" && c.Holiday.ICSURL != "" {
		return fmt.Errorf("holiday source: set either calendar_id or ics_url, not both")
	}
	if c.Sync.BackDays < 0 || c.Sync.AheadDays <= 0 {
		return fmt.Errorf("sync window must cover at least one day ahead")
	}
	if c.Overrides.Brightness != nil {
		if v := *c.Overrides.Brightness; v < 0 || v > 100 {
			return fmt.Errorf("brightness override out of range: %d", v)
		}
	}
	if c.Overrides.MessageAreaPct != nil {
		if v := *c.Overrides.MessageAreaPct; v < 20 || v > 80 {
			return fmt.Errorf("message area override out of range: %d", v)
		}
	}
	return nil
}

// DisplayLocation resolves the configured timezone. Validate guarantees it
// loads; a fresh Config falls back to UTC.
func (c *Config) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Location.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConfigFilePath returns the path to the config file based on environment variables.
func ConfigFilePath() string {
	dataDir := getEnv("CARECLOCK_DATA_DIR", DefaultDataDir)
	return getEnv("CARECLOCK_CONFIG_FILE", filepath.Join(dataDir, "config.yaml"))
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
