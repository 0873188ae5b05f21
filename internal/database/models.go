// Package database provides shared model structs used across the application.
package database

import (
	"time"
)

// Event represents a cached calendar event.
type Event struct {
	ID           string
	Title        string
	Start        time.Time
	End          time.Time // exclusive for all-day events
	AllDay       bool
	IsCommand    bool
	IsHoliday    bool
	LastSyncedAt time.Time
}

// SyncState represents the incremental sync cursor for one event source.
type SyncState struct {
	Source       string
	CalendarID   string
	SyncToken    string // empty means the next sync must be full
	LastSyncedAt time.Time
}

// Source constants
const (
	SourcePrimary = "primary"
	SourceHoliday = "holiday"
)
