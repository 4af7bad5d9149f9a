// Package model defines the local record types shared between the sync engine,
// the storage layer, and the remote adapter.
package model

import (
	"math"
	"time"
)

// ReadingState is the lifecycle state a reading has on the remote service.
type ReadingState int

const (
	// StateUnknown is the zero value, used when the remote state could not
	// be parsed.
	StateUnknown ReadingState = iota
	// StateInteresting marks a book the user wants to read later. Readings
	// in this state are excluded from reconciliation.
	StateInteresting
	// StateReading is an active reading.
	StateReading
	// StateFinished is a reading closed as completed.
	StateFinished
	// StateAbandoned is a reading closed without finishing.
	StateAbandoned
)

// String returns the remote service's wire name for the state.
func (s ReadingState) String() string {
	switch s {
	case StateInteresting:
		return "interesting"
	case StateReading:
		return "reading"
	case StateFinished:
		return "finished"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Closed reports whether the state is a terminal one.
func (s ReadingState) Closed() bool {
	return s == StateFinished || s == StateAbandoned
}

// ParseReadingState maps a remote state string to a ReadingState.
// Unrecognised values map to StateUnknown.
func ParseReadingState(raw string) ReadingState {
	switch raw {
	case "interesting":
		return StateInteresting
	case "reading":
		return StateReading
	case "finished":
		return StateFinished
	case "abandoned":
		return StateAbandoned
	default:
		return StateUnknown
	}
}

// Reading is a locally stored reading of one book. It may, or may not, be
// connected to a resource on the remote reading service; a non-positive
// RemoteReadingID means not connected.
//
// Some fields (page numbers, started-at) exist only locally and are never
// overwritten by a pull.
type Reading struct {
	ID int64

	Title    string
	Author   string
	CoverURL string

	TotalPages  int64
	CurrentPage int64
	// Progress is the fraction of the book read, in [0, 1].
	Progress float64

	TimeSpentSeconds int64
	LastReadAt       time.Time
	StartedAt        time.Time

	// ClosedAt is set when the user closes the reading on this device and
	// the close has not yet been pushed. Nil otherwise.
	ClosedAt *time.Time

	// UpdatedAt is bumped on local edits (currently only the privacy flag)
	// and compared against the remote touched-at to decide push direction.
	UpdatedAt time.Time

	DeletedByUser bool
	Recommended   bool
	Private       bool

	State         ReadingState
	ClosingRemark string

	RemoteUserID    int64
	RemoteBookID    int64
	RemoteReadingID int64

	// RemoteTouchedAt is the remote touched-at timestamp as recorded at the
	// last successful pull. A differing value on the next listing means the
	// remote side changed.
	RemoteTouchedAt time.Time
}

// Connected reports whether the reading is linked to a remote resource.
func (r *Reading) Connected() bool {
	return r.RemoteReadingID > 0
}

// HasClosedAt reports whether the reading was closed locally and the close
// still awaits a push.
func (r *Reading) HasClosedAt() bool {
	return r.ClosedAt != nil
}

// RemoteChangedFrom reports whether the remote touched-at seen in a listing
// differs from the one recorded at the last pull.
func (r *Reading) RemoteChangedFrom(remoteTouchedAt time.Time) bool {
	return !r.RemoteTouchedAt.Equal(remoteTouchedAt)
}

// RecalculateFromSessions recomputes the aggregate time spent and the current
// position from the full session list. The most recent session wins the
// position: its ended-on-page when tracked per page, otherwise its progress
// fraction applied to the page count.
func (r *Reading) RecalculateFromSessions(sessions []*Session) {
	var totalSeconds int64
	var mostRecent *Session

	for _, s := range sessions {
		totalSeconds += s.DurationSeconds
		if mostRecent == nil || s.OccurredAt.After(mostRecent.OccurredAt) {
			mostRecent = s
		}
	}

	r.TimeSpentSeconds = totalSeconds

	if mostRecent == nil {
		return
	}
	r.Progress = mostRecent.Progress
	if mostRecent.EndedOnPage >= 0 {
		r.CurrentPage = mostRecent.EndedOnPage
	} else {
		r.CurrentPage = int64(math.Floor(mostRecent.Progress * float64(r.TotalPages)))
	}
}
