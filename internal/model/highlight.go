package model

import "time"

// Highlight is a user-authored excerpt tied to one reading. Once connected it
// is matched against the remote side by RemoteHighlightID only; content is
// never a matching key, so two highlights with identical text stay distinct.
type Highlight struct {
	ID              int64
	ReadingID       int64
	RemoteReadingID int64
	// RemoteHighlightID is non-positive until the highlight has been created
	// on the remote service.
	RemoteHighlightID int64

	Content  string
	Position float64

	HighlightedAt time.Time
	LikeCount     int64
	CommentCount  int64

	// EditedAt is set when the user edits an already-synced highlight and
	// cleared once the edit has been pushed.
	EditedAt *time.Time
	// SyncedAt is nil until the highlight has been pushed at least once.
	SyncedAt *time.Time

	DeletedByUser bool
}

// Connected reports whether the highlight exists on the remote service.
func (h *Highlight) Connected() bool {
	return h.RemoteHighlightID > 0
}
