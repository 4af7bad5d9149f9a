// Package storage manages the SQLite database holding the local readings,
// sessions, and highlights.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/christoffer/readtracker-sub001/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    title              TEXT    NOT NULL DEFAULT '',
    author             TEXT    NOT NULL DEFAULT '',
    cover_url          TEXT    NOT NULL DEFAULT '',
    total_pages        INTEGER NOT NULL DEFAULT 0,
    current_page       INTEGER NOT NULL DEFAULT 0,
    progress           REAL    NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    last_read_at       TEXT    NOT NULL DEFAULT '',
    started_at         TEXT    NOT NULL DEFAULT '',
    closed_at          TEXT    NOT NULL DEFAULT '',
    updated_at         TEXT    NOT NULL DEFAULT '',
    user_deleted       INTEGER NOT NULL DEFAULT 0,
    recommended        INTEGER NOT NULL DEFAULT 0,
    private            INTEGER NOT NULL DEFAULT 0,
    state              INTEGER NOT NULL DEFAULT 0,
    closing_remark     TEXT    NOT NULL DEFAULT '',
    remote_user_id     INTEGER NOT NULL DEFAULT -1,
    remote_book_id     INTEGER NOT NULL DEFAULT -1,
    remote_reading_id  INTEGER NOT NULL DEFAULT -1,
    remote_touched_at  TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_readings_remote_id
    ON readings (remote_reading_id) WHERE remote_reading_id > 0;
CREATE INDEX IF NOT EXISTS idx_readings_remote_user ON readings (remote_user_id);

CREATE TABLE IF NOT EXISTS sessions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    reading_id        INTEGER NOT NULL,
    remote_reading_id INTEGER NOT NULL DEFAULT -1,
    identifier        TEXT    NOT NULL,
    progress          REAL    NOT NULL DEFAULT 0,
    ended_on_page     INTEGER NOT NULL DEFAULT -1,
    duration_seconds  INTEGER NOT NULL DEFAULT 0,
    occurred_at       TEXT    NOT NULL DEFAULT '',
    synced            INTEGER NOT NULL DEFAULT 0,
    needs_reconnect   INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_identifier ON sessions (identifier);
CREATE INDEX IF NOT EXISTS idx_sessions_reading ON sessions (reading_id);

CREATE TABLE IF NOT EXISTS highlights (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    reading_id          INTEGER NOT NULL,
    remote_reading_id   INTEGER NOT NULL DEFAULT -1,
    remote_highlight_id INTEGER NOT NULL DEFAULT -1,
    content             TEXT    NOT NULL DEFAULT '',
    position            REAL    NOT NULL DEFAULT 0,
    highlighted_at      TEXT    NOT NULL DEFAULT '',
    like_count          INTEGER NOT NULL DEFAULT 0,
    comment_count       INTEGER NOT NULL DEFAULT 0,
    edited_at           TEXT    NOT NULL DEFAULT '',
    synced_at           TEXT    NOT NULL DEFAULT '',
    user_deleted        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_highlights_reading ON highlights (reading_id);
CREATE INDEX IF NOT EXISTS idx_highlights_remote_reading ON highlights (remote_reading_id);
`

// Store is the SQLite-backed local store for readings and their children.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/readsync/readtracker.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "readsync", "readtracker.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- readings ----------------------------------------------------------------

const readingColumns = `
	id, title, author, cover_url, total_pages, current_page, progress,
	time_spent_seconds, last_read_at, started_at, closed_at, updated_at,
	user_deleted, recommended, private, state, closing_remark,
	remote_user_id, remote_book_id, remote_reading_id, remote_touched_at`

// CreateReading inserts a reading and assigns its ID.
func (s *Store) CreateReading(ctx context.Context, r *model.Reading) error {
	const q = `
		INSERT INTO readings
		    (title, author, cover_url, total_pages, current_page, progress,
		     time_spent_seconds, last_read_at, started_at, closed_at, updated_at,
		     user_deleted, recommended, private, state, closing_remark,
		     remote_user_id, remote_book_id, remote_reading_id, remote_touched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q, readingArgs(r)...)
	if err != nil {
		return fmt.Errorf("inserting reading %q: %w", r.Title, err)
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		r.ID = id
	}
	return nil
}

// UpdateReading writes all mutable reading fields back by ID.
func (s *Store) UpdateReading(ctx context.Context, r *model.Reading) error {
	const q = `
		UPDATE readings SET
		    title = ?, author = ?, cover_url = ?, total_pages = ?,
		    current_page = ?, progress = ?, time_spent_seconds = ?,
		    last_read_at = ?, started_at = ?, closed_at = ?, updated_at = ?,
		    user_deleted = ?, recommended = ?, private = ?, state = ?,
		    closing_remark = ?, remote_user_id = ?, remote_book_id = ?,
		    remote_reading_id = ?, remote_touched_at = ?
		WHERE id = ?`

	args := append(readingArgs(r), r.ID)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("updating reading id=%d: %w", r.ID, err)
	}
	return nil
}

// DeleteReading removes the reading with the given ID.
func (s *Store) DeleteReading(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting reading id=%d: %w", id, err)
	}
	return nil
}

// ConnectedReadingsForUser returns all readings owned by the given remote user
// that are linked to a remote reading.
func (s *Store) ConnectedReadingsForUser(ctx context.Context, userID int64) ([]*model.Reading, error) {
	q := `SELECT ` + readingColumns + `
		FROM readings WHERE remote_user_id = ? AND remote_reading_id > 0`
	return s.queryReadings(ctx, q, userID)
}

// PendingReadings returns readings that belong to a remote user but have not
// yet been connected to a remote reading.
func (s *Store) PendingReadings(ctx context.Context) ([]*model.Reading, error) {
	q := `SELECT ` + readingColumns + `
		FROM readings WHERE remote_reading_id <= 0 AND remote_user_id > 0`
	return s.queryReadings(ctx, q)
}

// ReadingByRemoteID returns the reading connected to the given remote reading
// id, or (nil, nil) when none exists.
func (s *Store) ReadingByRemoteID(ctx context.Context, remoteReadingID int64) (*model.Reading, error) {
	q := `SELECT ` + readingColumns + ` FROM readings WHERE remote_reading_id = ?`
	row := s.db.QueryRowContext(ctx, q, remoteReadingID)
	return scanReading(row)
}

func (s *Store) queryReadings(ctx context.Context, q string, args ...any) ([]*model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var readings []*model.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func readingArgs(r *model.Reading) []any {
	return []any{
		r.Title, r.Author, r.CoverURL, r.TotalPages, r.CurrentPage, r.Progress,
		r.TimeSpentSeconds, formatTime(r.LastReadAt), formatTime(r.StartedAt),
		formatTimePtr(r.ClosedAt), formatTime(r.UpdatedAt),
		r.DeletedByUser, r.Recommended, r.Private, int(r.State), r.ClosingRemark,
		r.RemoteUserID, r.RemoteBookID, r.RemoteReadingID, formatTime(r.RemoteTouchedAt),
	}
}

func scanReading(sc scanner) (*model.Reading, error) {
	var r model.Reading
	var lastReadAt, startedAt, closedAt, updatedAt, touchedAt string
	var state int

	err := sc.Scan(
		&r.ID, &r.Title, &r.Author, &r.CoverURL, &r.TotalPages, &r.CurrentPage,
		&r.Progress, &r.TimeSpentSeconds, &lastReadAt, &startedAt, &closedAt,
		&updatedAt, &r.DeletedByUser, &r.Recommended, &r.Private, &state,
		&r.ClosingRemark, &r.RemoteUserID, &r.RemoteBookID, &r.RemoteReadingID,
		&touchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reading row: %w", err)
	}

	r.State = model.ReadingState(state)
	r.LastReadAt, _ = parseTime(lastReadAt)
	r.StartedAt, _ = parseTime(startedAt)
	r.ClosedAt = parseTimePtr(closedAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	r.RemoteTouchedAt, _ = parseTime(touchedAt)

	return &r, nil
}

// --- sessions ----------------------------------------------------------------

const sessionColumns = `
	id, reading_id, remote_reading_id, identifier, progress, ended_on_page,
	duration_seconds, occurred_at, synced, needs_reconnect`

// CreateSession inserts a session and assigns its ID.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	const q = `
		INSERT INTO sessions
		    (reading_id, remote_reading_id, identifier, progress, ended_on_page,
		     duration_seconds, occurred_at, synced, needs_reconnect)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		sess.ReadingID, sess.RemoteReadingID, sess.Identifier, sess.Progress,
		sess.EndedOnPage, sess.DurationSeconds, formatTime(sess.OccurredAt),
		sess.Synced, sess.NeedsReconnect,
	)
	if err != nil {
		return fmt.Errorf("inserting session %q: %w", sess.Identifier, err)
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		sess.ID = id
	}
	return nil
}

// UpdateSession writes a session's sync bookkeeping back by ID. Content fields
// are immutable after creation and are deliberately not part of the update.
func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	const q = `
		UPDATE sessions SET remote_reading_id = ?, synced = ?, needs_reconnect = ?
		WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q,
		sess.RemoteReadingID, sess.Synced, sess.NeedsReconnect, sess.ID); err != nil {
		return fmt.Errorf("updating session id=%d: %w", sess.ID, err)
	}
	return nil
}

// SessionsForReading returns all sessions of the given local reading.
func (s *Store) SessionsForReading(ctx context.Context, readingID int64) ([]*model.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE reading_id = ?`
	return s.querySessions(ctx, q, readingID)
}

// UnsyncedSessions returns connected sessions not yet reported to the service.
func (s *Store) UnsyncedSessions(ctx context.Context) ([]*model.Session, error) {
	q := `SELECT ` + sessionColumns + `
		FROM sessions WHERE synced = 0 AND needs_reconnect = 0 AND remote_reading_id > 0`
	return s.querySessions(ctx, q)
}

// DisconnectedSessionsForReading returns the reading's sessions that still
// lack a remote reading id.
func (s *Store) DisconnectedSessionsForReading(ctx context.Context, readingID int64) ([]*model.Session, error) {
	q := `SELECT ` + sessionColumns + `
		FROM sessions WHERE reading_id = ? AND remote_reading_id < 1`
	return s.querySessions(ctx, q, readingID)
}

func (s *Store) querySessions(ctx context.Context, q string, args ...any) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(sc scanner) (*model.Session, error) {
	var sess model.Session
	var occurredAt string

	err := sc.Scan(
		&sess.ID, &sess.ReadingID, &sess.RemoteReadingID, &sess.Identifier,
		&sess.Progress, &sess.EndedOnPage, &sess.DurationSeconds, &occurredAt,
		&sess.Synced, &sess.NeedsReconnect,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	sess.OccurredAt, _ = parseTime(occurredAt)
	return &sess, nil
}

// --- highlights --------------------------------------------------------------

const highlightColumns = `
	id, reading_id, remote_reading_id, remote_highlight_id, content, position,
	highlighted_at, like_count, comment_count, edited_at, synced_at, user_deleted`

// CreateHighlight inserts a highlight and assigns its ID.
func (s *Store) CreateHighlight(ctx context.Context, h *model.Highlight) error {
	const q = `
		INSERT INTO highlights
		    (reading_id, remote_reading_id, remote_highlight_id, content, position,
		     highlighted_at, like_count, comment_count, edited_at, synced_at, user_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q, highlightArgs(h)...)
	if err != nil {
		return fmt.Errorf("inserting highlight for reading %d: %w", h.ReadingID, err)
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		h.ID = id
	}
	return nil
}

// UpdateHighlight writes all mutable highlight fields back by ID.
func (s *Store) UpdateHighlight(ctx context.Context, h *model.Highlight) error {
	const q = `
		UPDATE highlights SET
		    reading_id = ?, remote_reading_id = ?, remote_highlight_id = ?,
		    content = ?, position = ?, highlighted_at = ?, like_count = ?,
		    comment_count = ?, edited_at = ?, synced_at = ?, user_deleted = ?
		WHERE id = ?`

	args := append(highlightArgs(h), h.ID)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("updating highlight id=%d: %w", h.ID, err)
	}
	return nil
}

// DeleteHighlight removes the highlight with the given ID.
func (s *Store) DeleteHighlight(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting highlight id=%d: %w", id, err)
	}
	return nil
}

// HighlightsForReading returns all highlights of the given local reading.
func (s *Store) HighlightsForReading(ctx context.Context, readingID int64) ([]*model.Highlight, error) {
	q := `SELECT ` + highlightColumns + ` FROM highlights WHERE reading_id = ?`
	return s.queryHighlights(ctx, q, readingID)
}

// UnsyncedHighlights returns highlights that have never been pushed, are not
// flagged for deletion, and whose reading is connected.
func (s *Store) UnsyncedHighlights(ctx context.Context) ([]*model.Highlight, error) {
	q := `SELECT ` + highlightColumns + `
		FROM highlights
		WHERE synced_at = '' AND user_deleted = 0 AND remote_reading_id > 0`
	return s.queryHighlights(ctx, q)
}

// EditedConnectedHighlights returns connected highlights with unpushed edits.
func (s *Store) EditedConnectedHighlights(ctx context.Context) ([]*model.Highlight, error) {
	q := `SELECT ` + highlightColumns + `
		FROM highlights WHERE remote_highlight_id > 0 AND edited_at != ''`
	return s.queryHighlights(ctx, q)
}

// FlaggedHighlights returns connected highlights the user has flagged for
// deletion.
func (s *Store) FlaggedHighlights(ctx context.Context) ([]*model.Highlight, error) {
	q := `SELECT ` + highlightColumns + `
		FROM highlights WHERE remote_highlight_id > 0 AND user_deleted = 1`
	return s.queryHighlights(ctx, q)
}

// DisconnectedHighlightsForReading returns the reading's highlights that still
// lack a remote reading id.
func (s *Store) DisconnectedHighlightsForReading(ctx context.Context, readingID int64) ([]*model.Highlight, error) {
	q := `SELECT ` + highlightColumns + `
		FROM highlights WHERE reading_id = ? AND remote_reading_id < 1`
	return s.queryHighlights(ctx, q, readingID)
}

func (s *Store) queryHighlights(ctx context.Context, q string, args ...any) ([]*model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying highlights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var highlights []*model.Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

func highlightArgs(h *model.Highlight) []any {
	return []any{
		h.ReadingID, h.RemoteReadingID, h.RemoteHighlightID, h.Content,
		h.Position, formatTime(h.HighlightedAt), h.LikeCount, h.CommentCount,
		formatTimePtr(h.EditedAt), formatTimePtr(h.SyncedAt), h.DeletedByUser,
	}
}

func scanHighlight(sc scanner) (*model.Highlight, error) {
	var h model.Highlight
	var highlightedAt, editedAt, syncedAt string

	err := sc.Scan(
		&h.ID, &h.ReadingID, &h.RemoteReadingID, &h.RemoteHighlightID,
		&h.Content, &h.Position, &highlightedAt, &h.LikeCount, &h.CommentCount,
		&editedAt, &syncedAt, &h.DeletedByUser,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning highlight row: %w", err)
	}

	h.HighlightedAt, _ = parseTime(highlightedAt)
	h.EditedAt = parseTimePtr(editedAt)
	h.SyncedAt = parseTimePtr(syncedAt)
	return &h, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so the scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil
	}
	return &t
}
