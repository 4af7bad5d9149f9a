package sync

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

func newTestUploader(remote *mockRemote, store *mockStore) *Uploader {
	return NewUploader(remote, store, testLogger(), &reporter{})
}

func pendingReading() *model.Reading {
	return &model.Reading{
		Title:           "X",
		Author:          "Someone",
		RemoteUserID:    7,
		RemoteReadingID: -1,
		StartedAt:       time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestUploadNewReadings_ConnectsAndBackfills(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()

	r := pendingReading()
	if err := store.CreateReading(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	s1 := &model.Session{ReadingID: r.ID, RemoteReadingID: -1, Identifier: "s1", Synced: false}
	s2 := &model.Session{ReadingID: r.ID, RemoteReadingID: -1, Identifier: "s2", NeedsReconnect: true}
	h1 := &model.Highlight{ReadingID: r.ID, RemoteReadingID: -1, RemoteHighlightID: -1, Content: "q"}
	store.sessions = append(store.sessions, s1, s2)
	store.highlights = append(store.highlights, h1)

	up := newTestUploader(remote, store)
	stats, err := up.UploadNewReadings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", stats.Uploaded)
	}

	if len(remote.createdBooks) != 1 || remote.createdBooks[0] != "X" {
		t.Errorf("createdBooks = %v, want [X]", remote.createdBooks)
	}
	if len(remote.createdReadings) != 1 {
		t.Fatalf("createdReadings = %v, want one entry", remote.createdReadings)
	}
	if !r.Connected() {
		t.Fatal("reading must carry a remote id after upload")
	}
	if s1.RemoteReadingID != r.RemoteReadingID || s2.RemoteReadingID != r.RemoteReadingID || h1.RemoteReadingID != r.RemoteReadingID {
		t.Error("all disconnected children must be backfilled with the new remote reading id")
	}
	// The backfill itself must not touch sync flags.
	if s1.Synced {
		t.Error("backfill must not mark sessions synced")
	}
	if !s2.NeedsReconnect {
		t.Error("backfill must not clear needs-reconnect")
	}
}

func TestUploadNewReadings_PreservesLocalClose(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()

	r := pendingReading()
	closedAt := time.Date(2026, 1, 20, 22, 0, 0, 0, time.UTC)
	r.ClosedAt = &closedAt
	r.State = model.StateFinished
	r.ClosingRemark = "superb"
	r.Recommended = true
	if err := store.CreateReading(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	up := newTestUploader(remote, store)
	if _, err := up.UploadNewReadings(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The service answers "reading" for a fresh resource; the local closed
	// intent must survive.
	if r.State != model.StateFinished || r.ClosingRemark != "superb" || !r.Recommended {
		t.Errorf("local close clobbered: %+v", r)
	}
}

func TestUploadNewReadings_PreservesLocalCover(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()

	r := pendingReading()
	r.CoverURL = "http://covers.example/mine.png"
	if err := store.CreateReading(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	up := newTestUploader(remote, store)
	if _, err := up.UploadNewReadings(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.CoverURL != "http://covers.example/mine.png" {
		t.Errorf("CoverURL = %q, local cover must be preserved", r.CoverURL)
	}
}

func TestUploadNewReadings_PerItemFailureSkips(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()

	a := pendingReading()
	b := pendingReading()
	b.Title = "Y"
	for _, r := range []*model.Reading{a, b} {
		if err := store.CreateReading(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	remote.createBookErr = errors.New("boom")

	up := newTestUploader(remote, store)
	stats, err := up.UploadNewReadings(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not end the stage: %v", err)
	}
	if stats.Errors != 2 || stats.Uploaded != 0 {
		t.Errorf("stats = %+v, want two skipped items", stats)
	}
}

func TestUploadNewSessions_Success(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	sess := &model.Session{ID: 1, ReadingID: 1, RemoteReadingID: 42, Identifier: "s1", DurationSeconds: 600}
	store.sessions = append(store.sessions, sess)

	up := newTestUploader(remote, store)
	stats, err := up.UploadNewSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remote.pings) != 1 || remote.pings[0] != "s1" {
		t.Errorf("pings = %v, want [s1]", remote.pings)
	}
	if !sess.Synced {
		t.Error("session must be marked synced on ping success")
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", stats.Uploaded)
	}
}

func TestUploadNewSessions_StatusBranches(t *testing.T) {
	cases := []struct {
		name               string
		code               int
		wantSynced         bool
		wantNeedsReconnect bool
	}{
		{"not found parks the session", http.StatusNotFound, false, true},
		{"unauthorized parks the session", http.StatusUnauthorized, false, true},
		{"unprocessable gives up", http.StatusUnprocessableEntity, true, false},
		{"server error leaves flags for retry", http.StatusInternalServerError, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			remote := newMockRemote()
			store := newMockStore()
			sess := &model.Session{ID: 1, ReadingID: 1, RemoteReadingID: 42, Identifier: "s1"}
			store.sessions = append(store.sessions, sess)
			remote.pingErr = &readmill.StatusError{Code: tc.code, Op: "POST /pings"}
			writesBefore := store.writes

			up := newTestUploader(remote, store)
			if _, err := up.UploadNewSessions(context.Background()); err != nil {
				t.Fatalf("ping failures must not end the stage: %v", err)
			}
			if sess.Synced != tc.wantSynced {
				t.Errorf("Synced = %v, want %v", sess.Synced, tc.wantSynced)
			}
			if sess.NeedsReconnect != tc.wantNeedsReconnect {
				t.Errorf("NeedsReconnect = %v, want %v", sess.NeedsReconnect, tc.wantNeedsReconnect)
			}
			if store.writes != writesBefore+1 {
				t.Error("the record must be persisted whichever branch ran")
			}
		})
	}
}

func TestUploadNewHighlights_StampsRemoteID(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: -1, Content: "q"}
	store.highlights = append(store.highlights, h)

	up := newTestUploader(remote, store)
	stats, err := up.UploadNewHighlights(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.RemoteHighlightID <= 0 {
		t.Error("highlight must carry the remote-assigned id")
	}
	if h.SyncedAt == nil {
		t.Error("highlight must carry a synced-at stamp")
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", stats.Uploaded)
	}
}

func TestUploadNewHighlights_FailureSkips(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: -1, Content: "q"}
	store.highlights = append(store.highlights, h)
	remote.createHighlightErr = errors.New("boom")

	up := newTestUploader(remote, store)
	stats, err := up.UploadNewHighlights(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not end the stage: %v", err)
	}
	if h.SyncedAt != nil {
		t.Error("failed highlight must stay unsynced")
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
}

func TestPushEditedHighlights_Success(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	editedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, Content: "new", EditedAt: &editedAt}
	store.highlights = append(store.highlights, h)

	up := newTestUploader(remote, store)
	stats, err := up.PushEditedHighlights(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remote.updatedHighlights) != 1 || remote.updatedHighlights[0] != 5 {
		t.Errorf("updatedHighlights = %v, want [5]", remote.updatedHighlights)
	}
	if h.EditedAt != nil {
		t.Error("edited-at must be cleared after a successful push")
	}
	if h.SyncedAt == nil {
		t.Error("synced-at must be stamped after a successful push")
	}
	if stats.Updated != 1 {
		t.Errorf("Updated = %d, want 1", stats.Updated)
	}
}

func TestPushEditedHighlights_404DeletesLocally(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	editedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, EditedAt: &editedAt}
	store.highlights = append(store.highlights, h)
	remote.updateHighlightErr = &readmill.StatusError{Code: http.StatusNotFound, Op: "PUT /highlights/*"}

	up := newTestUploader(remote, store)
	stats, err := up.PushEditedHighlights(context.Background())
	if err != nil {
		t.Fatalf("a 404 converts to a local delete, not an error: %v", err)
	}
	if len(store.highlights) != 0 {
		t.Error("upstream-removed highlight must be deleted locally")
	}
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}
}

func TestPushEditedHighlights_OtherErrorAborts(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	editedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, EditedAt: &editedAt}
	store.highlights = append(store.highlights, h)
	remote.updateHighlightErr = &readmill.StatusError{Code: http.StatusInternalServerError, Op: "PUT /highlights/*"}

	up := newTestUploader(remote, store)
	_, err := up.PushEditedHighlights(context.Background())
	if readmill.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500 to abort the stage", readmill.StatusCode(err))
	}
	if len(store.highlights) != 1 {
		t.Error("highlight must survive an aborting failure")
	}
}

func TestDeleteFlaggedHighlights_RemoteFirst(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, DeletedByUser: true}
	store.highlights = append(store.highlights, h)

	up := newTestUploader(remote, store)
	stats, err := up.DeleteFlaggedHighlights(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remote.deletedHighlights) != 1 || remote.deletedHighlights[0] != 5 {
		t.Errorf("deletedHighlights = %v, want [5]", remote.deletedHighlights)
	}
	if len(store.highlights) != 0 {
		t.Error("flagged highlight must be deleted locally after the remote delete")
	}
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}
}

func TestDeleteFlaggedHighlights_404ProceedsLocally(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, DeletedByUser: true}
	store.highlights = append(store.highlights, h)
	remote.deleteHighlightErr = &readmill.StatusError{Code: http.StatusNotFound, Op: "DELETE /highlights/*"}

	up := newTestUploader(remote, store)
	if _, err := up.DeleteFlaggedHighlights(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.highlights) != 0 {
		t.Error("a 404 means already gone; the local delete must proceed")
	}
}

func TestDeleteFlaggedHighlights_OtherErrorSkips(t *testing.T) {
	remote := newMockRemote()
	store := newMockStore()
	h := &model.Highlight{ID: 1, ReadingID: 1, RemoteReadingID: 42, RemoteHighlightID: 5, DeletedByUser: true}
	store.highlights = append(store.highlights, h)
	remote.deleteHighlightErr = &readmill.StatusError{Code: http.StatusInternalServerError, Op: "DELETE /highlights/*"}

	up := newTestUploader(remote, store)
	stats, err := up.DeleteFlaggedHighlights(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not end the stage: %v", err)
	}
	if len(store.highlights) != 1 || !store.highlights[0].DeletedByUser {
		t.Error("highlight must keep its flag for the next pass")
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
}
