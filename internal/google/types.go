package google

import "time"

// Calendar is a calendar visible to the authorized account.
type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary"`
}

// SyncedEvent is one event as returned by a sync request. Cancelled entries
// appear during incremental syncs and carry only an ID.
type SyncedEvent struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	AllDay    bool
	Cancelled bool
}

// SyncRequest describes one events fetch. A non-empty SyncToken selects an
// incremental sync; otherwise TimeMin/TimeMax bound a full window fetch.
type SyncRequest struct {
	CalendarID string
	SyncToken  string
	TimeMin    time.Time
	TimeMax    time.Time
}

// SyncResponse carries the fetched events and the cursor for the next
// incremental sync.
type SyncResponse struct {
	Events        []SyncedEvent
	NextSyncToken string
}
