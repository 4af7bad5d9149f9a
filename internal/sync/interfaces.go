// Package sync implements the bidirectional reconciliation engine between the
// local reading database and the remote reading service. It classifies
// (local, remote) reading pairs into disjoint action buckets, executes them in
// a fixed order, merges child records (sessions, highlights) by stable
// identifier, and uploads purely-local records.
//
// The package contains three main components:
//
//   - [Coordinator] owns one full sync pass for a user and enforces the
//     per-user single-flight discipline.
//   - [Reconciler] executes a [Classification] against the store and the
//     remote service.
//   - [Engine] runs Coordinator passes on a polling loop for daemon mode.
package sync

import (
	"context"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// RemoteClient is the remote reading service surface the engine consumes.
// Implemented by [readmill.Client].
type RemoteClient interface {
	ReadingsForUser(ctx context.Context, userID int64) ([]readmill.Reading, error)
	PeriodsForReading(ctx context.Context, readingID int64) ([]readmill.Period, error)
	HighlightsForReading(ctx context.Context, readingID int64) ([]readmill.Highlight, error)

	CreateBook(ctx context.Context, title, author string) (readmill.Book, error)
	CreateReading(ctx context.Context, bookID int64, isPublic bool, startedAt time.Time) (readmill.Reading, error)
	CloseReading(ctx context.Context, readingID int64, state model.ReadingState, remark string) error
	UpdateReadingPrivacy(ctx context.Context, readingID int64, private bool) error
	DeleteReading(ctx context.Context, readingID int64) error
	VerifyReadingMissing(ctx context.Context, readingID int64) (bool, error)

	CreateHighlight(ctx context.Context, h *model.Highlight) (readmill.Highlight, error)
	UpdateHighlight(ctx context.Context, highlightID int64, content string, position float64) error
	DeleteHighlight(ctx context.Context, highlightID int64) error

	CreatePing(ctx context.Context, identifier string, readingID int64, progress float64, durationSeconds int64, occurredAt time.Time) error
}

// LocalStore is the local database surface the engine consumes.
// Implemented by [storage.Store].
type LocalStore interface {
	CreateReading(ctx context.Context, r *model.Reading) error
	UpdateReading(ctx context.Context, r *model.Reading) error
	DeleteReading(ctx context.Context, id int64) error
	ConnectedReadingsForUser(ctx context.Context, userID int64) ([]*model.Reading, error)
	PendingReadings(ctx context.Context) ([]*model.Reading, error)

	CreateSession(ctx context.Context, s *model.Session) error
	UpdateSession(ctx context.Context, s *model.Session) error
	SessionsForReading(ctx context.Context, readingID int64) ([]*model.Session, error)
	UnsyncedSessions(ctx context.Context) ([]*model.Session, error)
	DisconnectedSessionsForReading(ctx context.Context, readingID int64) ([]*model.Session, error)

	CreateHighlight(ctx context.Context, h *model.Highlight) error
	UpdateHighlight(ctx context.Context, h *model.Highlight) error
	DeleteHighlight(ctx context.Context, id int64) error
	HighlightsForReading(ctx context.Context, readingID int64) ([]*model.Highlight, error)
	UnsyncedHighlights(ctx context.Context) ([]*model.Highlight, error)
	EditedConnectedHighlights(ctx context.Context) ([]*model.Highlight, error)
	FlaggedHighlights(ctx context.Context) ([]*model.Highlight, error)
	DisconnectedHighlightsForReading(ctx context.Context, readingID int64) ([]*model.Highlight, error)
}
