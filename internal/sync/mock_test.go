package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- remote mock -------------------------------------------------------------

// mockRemote is an in-memory stand-in for the reading service. Error fields
// make the corresponding operation fail; the slices record mutations in call
// order.
type mockRemote struct {
	readings      []readmill.Reading
	periods       map[int64][]readmill.Period
	highlightSets map[int64][]readmill.Highlight
	missing       map[int64]bool

	listErr            error
	periodsErr         error
	highlightsErr      error
	createBookErr      error
	createReadingErr   error
	closeErr           error
	privacyErr         error
	deleteReadingErr   error
	verifyErr          error
	createHighlightErr error
	updateHighlightErr error
	deleteHighlightErr error
	pingErr            error

	nextID int64

	createdBooks      []string
	createdReadings   []int64
	closedReadings    []int64
	privacyUpdates    []int64
	deletedReadings   []int64
	verifyCalls       []int64
	createdHighlights []string
	updatedHighlights []int64
	deletedHighlights []int64
	pings             []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		periods:       make(map[int64][]readmill.Period),
		highlightSets: make(map[int64][]readmill.Highlight),
		missing:       make(map[int64]bool),
		nextID:        1000,
	}
}

// mutations counts all remote writes, for idempotence checks.
func (m *mockRemote) mutations() int {
	return len(m.createdBooks) + len(m.createdReadings) + len(m.closedReadings) +
		len(m.privacyUpdates) + len(m.deletedReadings) + len(m.createdHighlights) +
		len(m.updatedHighlights) + len(m.deletedHighlights) + len(m.pings)
}

func (m *mockRemote) ReadingsForUser(_ context.Context, _ int64) ([]readmill.Reading, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.readings, nil
}

func (m *mockRemote) PeriodsForReading(_ context.Context, readingID int64) ([]readmill.Period, error) {
	if m.periodsErr != nil {
		return nil, m.periodsErr
	}
	if m.periods[readingID] == nil {
		return []readmill.Period{}, nil
	}
	return m.periods[readingID], nil
}

func (m *mockRemote) HighlightsForReading(_ context.Context, readingID int64) ([]readmill.Highlight, error) {
	if m.highlightsErr != nil {
		return nil, m.highlightsErr
	}
	if m.highlightSets[readingID] == nil {
		return []readmill.Highlight{}, nil
	}
	return m.highlightSets[readingID], nil
}

func (m *mockRemote) CreateBook(_ context.Context, title, author string) (readmill.Book, error) {
	if m.createBookErr != nil {
		return readmill.Book{}, m.createBookErr
	}
	m.nextID++
	m.createdBooks = append(m.createdBooks, title)
	return readmill.Book{ID: m.nextID, Title: title, Author: author, CoverURL: readmill.DefaultCoverSentinel}, nil
}

func (m *mockRemote) CreateReading(_ context.Context, bookID int64, _ bool, _ time.Time) (readmill.Reading, error) {
	if m.createReadingErr != nil {
		return readmill.Reading{}, m.createReadingErr
	}
	m.nextID++
	m.createdReadings = append(m.createdReadings, bookID)
	return readmill.Reading{
		ID:        m.nextID,
		State:     "reading",
		TouchedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Book:      readmill.Book{ID: bookID, CoverURL: readmill.DefaultCoverSentinel},
	}, nil
}

func (m *mockRemote) CloseReading(_ context.Context, readingID int64, state model.ReadingState, _ string) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	if !state.Closed() {
		return fmt.Errorf("state %v is not a closed state", state)
	}
	m.closedReadings = append(m.closedReadings, readingID)
	return nil
}

func (m *mockRemote) UpdateReadingPrivacy(_ context.Context, readingID int64, _ bool) error {
	if m.privacyErr != nil {
		return m.privacyErr
	}
	m.privacyUpdates = append(m.privacyUpdates, readingID)
	return nil
}

func (m *mockRemote) DeleteReading(_ context.Context, readingID int64) error {
	if m.deleteReadingErr != nil {
		return m.deleteReadingErr
	}
	m.deletedReadings = append(m.deletedReadings, readingID)
	return nil
}

func (m *mockRemote) VerifyReadingMissing(_ context.Context, readingID int64) (bool, error) {
	m.verifyCalls = append(m.verifyCalls, readingID)
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return m.missing[readingID], nil
}

func (m *mockRemote) CreateHighlight(_ context.Context, h *model.Highlight) (readmill.Highlight, error) {
	if m.createHighlightErr != nil {
		return readmill.Highlight{}, m.createHighlightErr
	}
	m.nextID++
	m.createdHighlights = append(m.createdHighlights, h.Content)
	return readmill.Highlight{ID: m.nextID, Content: h.Content, Position: h.Position, HighlightedAt: h.HighlightedAt}, nil
}

func (m *mockRemote) UpdateHighlight(_ context.Context, highlightID int64, _ string, _ float64) error {
	if m.updateHighlightErr != nil {
		return m.updateHighlightErr
	}
	m.updatedHighlights = append(m.updatedHighlights, highlightID)
	return nil
}

func (m *mockRemote) DeleteHighlight(_ context.Context, highlightID int64) error {
	if m.deleteHighlightErr != nil {
		return m.deleteHighlightErr
	}
	m.deletedHighlights = append(m.deletedHighlights, highlightID)
	return nil
}

func (m *mockRemote) CreatePing(_ context.Context, identifier string, _ int64, _ float64, _ int64, _ time.Time) error {
	if m.pingErr != nil {
		return m.pingErr
	}
	m.pings = append(m.pings, identifier)
	return nil
}

// --- store mock --------------------------------------------------------------

// mockStore is an in-memory LocalStore. writes counts every mutation, for
// idempotence checks.
type mockStore struct {
	readings   []*model.Reading
	sessions   []*model.Session
	highlights []*model.Highlight

	nextID int64
	writes int

	createReadingErr error
	updateReadingErr error
}

func newMockStore() *mockStore {
	return &mockStore{nextID: 1}
}

func (s *mockStore) assignID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *mockStore) CreateReading(_ context.Context, r *model.Reading) error {
	if s.createReadingErr != nil {
		return s.createReadingErr
	}
	r.ID = s.assignID()
	s.readings = append(s.readings, r)
	s.writes++
	return nil
}

func (s *mockStore) UpdateReading(_ context.Context, r *model.Reading) error {
	if s.updateReadingErr != nil {
		return s.updateReadingErr
	}
	s.writes++
	return nil
}

func (s *mockStore) DeleteReading(_ context.Context, id int64) error {
	for i, r := range s.readings {
		if r.ID == id {
			s.readings = append(s.readings[:i], s.readings[i+1:]...)
			break
		}
	}
	s.writes++
	return nil
}

func (s *mockStore) ConnectedReadingsForUser(_ context.Context, userID int64) ([]*model.Reading, error) {
	var out []*model.Reading
	for _, r := range s.readings {
		if r.RemoteUserID == userID && r.Connected() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *mockStore) PendingReadings(_ context.Context) ([]*model.Reading, error) {
	var out []*model.Reading
	for _, r := range s.readings {
		if !r.Connected() && r.RemoteUserID > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *mockStore) CreateSession(_ context.Context, sess *model.Session) error {
	sess.ID = s.assignID()
	s.sessions = append(s.sessions, sess)
	s.writes++
	return nil
}

func (s *mockStore) UpdateSession(_ context.Context, _ *model.Session) error {
	s.writes++
	return nil
}

func (s *mockStore) SessionsForReading(_ context.Context, readingID int64) ([]*model.Session, error) {
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.ReadingID == readingID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *mockStore) UnsyncedSessions(_ context.Context) ([]*model.Session, error) {
	var out []*model.Session
	for _, sess := range s.sessions {
		if !sess.Synced && !sess.NeedsReconnect && sess.RemoteReadingID > 0 {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *mockStore) DisconnectedSessionsForReading(_ context.Context, readingID int64) ([]*model.Session, error) {
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.ReadingID == readingID && sess.RemoteReadingID < 1 {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *mockStore) CreateHighlight(_ context.Context, h *model.Highlight) error {
	h.ID = s.assignID()
	s.highlights = append(s.highlights, h)
	s.writes++
	return nil
}

func (s *mockStore) UpdateHighlight(_ context.Context, _ *model.Highlight) error {
	s.writes++
	return nil
}

func (s *mockStore) DeleteHighlight(_ context.Context, id int64) error {
	for i, h := range s.highlights {
		if h.ID == id {
			s.highlights = append(s.highlights[:i], s.highlights[i+1:]...)
			break
		}
	}
	s.writes++
	return nil
}

func (s *mockStore) HighlightsForReading(_ context.Context, readingID int64) ([]*model.Highlight, error) {
	var out []*model.Highlight
	for _, h := range s.highlights {
		if h.ReadingID == readingID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *mockStore) UnsyncedHighlights(_ context.Context) ([]*model.Highlight, error) {
	var out []*model.Highlight
	for _, h := range s.highlights {
		if h.SyncedAt == nil && !h.DeletedByUser && h.RemoteReadingID > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *mockStore) EditedConnectedHighlights(_ context.Context) ([]*model.Highlight, error) {
	var out []*model.Highlight
	for _, h := range s.highlights {
		if h.Connected() && h.EditedAt != nil {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *mockStore) FlaggedHighlights(_ context.Context) ([]*model.Highlight, error) {
	var out []*model.Highlight
	for _, h := range s.highlights {
		if h.Connected() && h.DeletedByUser {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *mockStore) DisconnectedHighlightsForReading(_ context.Context, readingID int64) ([]*model.Highlight, error) {
	var out []*model.Highlight
	for _, h := range s.highlights {
		if h.ReadingID == readingID && h.RemoteReadingID < 1 {
			out = append(out, h)
		}
	}
	return out, nil
}

// --- event helpers -----------------------------------------------------------

// drainEvents collects events produced during fn in order.
func drainEvents(t *testing.T, fn func(ch chan<- Event)) []Event {
	t.Helper()
	ch := make(chan Event, 256)
	fn(ch)
	close(ch)
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
