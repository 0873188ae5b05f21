// Package config provides default values for configuration.
package config

// Database defaults
const (
	DefaultDataDir       = "/data"
	DefaultBusyTimeoutMs = 5000
)

// Sync defaults
const (
	DefaultSyncCron            = "*/5 * * * *"
	DefaultFullSyncBackDays    = 7
	DefaultFullSyncAheadDays   = 14
	DefaultRetentionDays       = 7
	DefaultHolidayIntervalDays = 7
)

// Solar defaults
const (
	DefaultSolarBaseURL = "https://api.sunrise-sunset.org/json"
	DefaultLatitude     = 40.7128
	DefaultLongitude    = -74.0060
)

// Logging defaults
const (
	DefaultLogLevel = "info"
)

// Display defaults
const (
	DefaultTimezone = "America/New_York"
)
