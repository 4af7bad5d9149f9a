package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is one contiguous reading interval. Sessions are immutable once
// created; only the sync flags change afterwards.
//
// The Identifier is assigned once, when the session ends on the device that
// recorded it, and is the sole merge key across devices. It is never reused
// or regenerated, and sessions are never matched by timestamp or duration.
type Session struct {
	ID              int64
	ReadingID       int64
	RemoteReadingID int64

	Identifier string

	// Progress is the fraction of the book reached when the session ended.
	Progress float64
	// EndedOnPage is the page the session ended on, or -1 when the reading
	// is tracked by percent only.
	EndedOnPage     int64
	DurationSeconds int64
	OccurredAt      time.Time

	Synced bool
	// NeedsReconnect is set when the remote side rejected the session with
	// 404 or 401; the session is held back until the reading is reconnected.
	NeedsReconnect bool
}

// NewSessionIdentifier returns a fresh identifier for a session recorded on
// this device. The sync engine only ever reads identifiers; this is the
// recording-side API for whatever frontend writes sessions into the store.
func NewSessionIdentifier() string {
	return uuid.NewString()
}
