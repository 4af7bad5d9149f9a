package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// Uploader pushes purely-local records to the remote service: new readings,
// queued session pings, new and edited highlights, and highlight deletions the
// user flagged. Each stage queries its own candidates and skips cleanly when
// there are none.
type Uploader struct {
	remote RemoteClient
	store  LocalStore
	log    *slog.Logger
	events *reporter
}

// NewUploader creates an Uploader.
func NewUploader(remote RemoteClient, store LocalStore, logger *slog.Logger, events *reporter) *Uploader {
	return &Uploader{remote: remote, store: store, log: logger, events: events}
}

// DeleteFlaggedHighlights removes highlights the user flagged for deletion,
// remote side first. A remote 404 counts as already gone; any other remote
// failure skips that highlight so one stuck deletion cannot stall the pass.
func (u *Uploader) DeleteFlaggedHighlights(ctx context.Context) (Stats, error) {
	var stats Stats

	flagged, err := u.store.FlaggedHighlights(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing flagged highlights: %w", err)
	}

	for _, h := range flagged {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := u.remote.DeleteHighlight(ctx, h.RemoteHighlightID); err != nil {
			if _, conv := resolve(opDeleteFlaggedHighlight, err); conv != convertAlreadyGone {
				u.log.Warn("remote highlight delete failed, keeping flag",
					"highlight_id", h.ID, "remote_highlight_id", h.RemoteHighlightID, "error", err)
				stats.Errors++
				continue
			}
			u.log.Debug("highlight already gone remotely", "remote_highlight_id", h.RemoteHighlightID)
		}

		if err := u.store.DeleteHighlight(ctx, h.ID); err != nil {
			u.log.Error("deleting local highlight", "highlight_id", h.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Deleted++
	}

	return stats, nil
}

// UploadNewReadings connects pending local readings to the service: it
// creates the remote book and reading, folds the assigned ids back into the
// local record, and backfills the new remote reading id onto the reading's
// disconnected sessions and highlights. Per-item failures are logged and
// skipped.
func (u *Uploader) UploadNewReadings(ctx context.Context) (Stats, error) {
	var stats Stats

	pending, err := u.store.PendingReadings(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing pending readings: %w", err)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	for i, r := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		u.events.progress(ctx, fmt.Sprintf("uploading %q", r.Title), float64(i)/float64(len(pending)))

		book, err := u.remote.CreateBook(ctx, r.Title, r.Author)
		if err != nil {
			u.log.Warn("creating remote book failed", "reading_id", r.ID, "title", r.Title, "error", err)
			stats.Errors++
			continue
		}

		startedAt := r.StartedAt
		if startedAt.IsZero() {
			startedAt = time.Now().UTC()
		}
		remote, err := u.remote.CreateReading(ctx, book.ID, !r.Private, startedAt)
		if err != nil {
			u.log.Warn("creating remote reading failed", "reading_id", r.ID, "book_id", book.ID, "error", err)
			stats.Errors++
			continue
		}

		r.RemoteBookID = book.ID
		r.RemoteReadingID = remote.ID
		r.RemoteTouchedAt = remote.TouchedAt
		if r.CoverURL == "" && remote.Book.CoverURL != readmill.DefaultCoverSentinel {
			r.CoverURL = remote.Book.CoverURL
		}
		// A reading closed locally before its first upload keeps its closed
		// state, remark, and recommendation; the service's fresh "reading"
		// state must not clobber that intent.
		if !r.HasClosedAt() {
			r.State = readingStateOf(remote)
		}

		if err := u.store.UpdateReading(ctx, r); err != nil {
			u.log.Error("persisting connected reading", "reading_id", r.ID, "error", err)
			stats.Errors++
			continue
		}
		u.backfillChildren(ctx, r.ID, r.RemoteReadingID, &stats)

		u.log.Info("reading connected",
			"reading_id", r.ID, "remote_reading_id", r.RemoteReadingID, "title", r.Title)
		stats.Uploaded++
	}

	return stats, nil
}

// backfillChildren stamps the new remote reading id onto every session and
// highlight of the reading that lacks one. Sync flags are untouched; the
// session and highlight upload stages pick the records up afterwards.
func (u *Uploader) backfillChildren(ctx context.Context, readingID, remoteReadingID int64, stats *Stats) {
	sessions, err := u.store.DisconnectedSessionsForReading(ctx, readingID)
	if err != nil {
		u.log.Error("listing disconnected sessions", "reading_id", readingID, "error", err)
		stats.Errors++
	}
	for _, s := range sessions {
		s.RemoteReadingID = remoteReadingID
		if err := u.store.UpdateSession(ctx, s); err != nil {
			u.log.Error("backfilling session", "session_id", s.ID, "error", err)
			stats.Errors++
		}
	}

	highlights, err := u.store.DisconnectedHighlightsForReading(ctx, readingID)
	if err != nil {
		u.log.Error("listing disconnected highlights", "reading_id", readingID, "error", err)
		stats.Errors++
	}
	for _, h := range highlights {
		h.RemoteReadingID = remoteReadingID
		if err := u.store.UpdateHighlight(ctx, h); err != nil {
			u.log.Error("backfilling highlight", "highlight_id", h.ID, "error", err)
			stats.Errors++
		}
	}
}

// UploadNewSessions reports unsynced sessions of connected readings as pings.
// 404 and 401 park the session behind the needs-reconnect flag, 422 marks it
// synced so a permanently rejected payload stops retrying, anything else
// leaves the flags alone for the next pass. The record is persisted whichever
// branch ran.
func (u *Uploader) UploadNewSessions(ctx context.Context) (Stats, error) {
	var stats Stats

	sessions, err := u.store.UnsyncedSessions(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing unsynced sessions: %w", err)
	}
	if len(sessions) == 0 {
		return stats, nil
	}

	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		u.events.progress(ctx, "uploading sessions", float64(i)/float64(len(sessions)))

		err := u.remote.CreatePing(ctx, s.Identifier, s.RemoteReadingID, s.Progress, s.DurationSeconds, s.OccurredAt)
		switch {
		case err == nil:
			s.Synced = true
			stats.Uploaded++
		default:
			_, conv := resolve(opUploadSession, err)
			switch conv {
			case convertNeedsReconnect:
				u.log.Warn("session needs reconnect", "session_id", s.ID, "error", err)
				s.NeedsReconnect = true
			case convertGiveUp:
				u.log.Warn("session permanently rejected, marking synced", "session_id", s.ID, "error", err)
				s.Synced = true
			default:
				u.log.Warn("session ping failed, will retry next pass", "session_id", s.ID, "error", err)
				stats.Errors++
			}
		}

		if err := u.store.UpdateSession(ctx, s); err != nil {
			u.log.Error("persisting session flags", "session_id", s.ID, "error", err)
			stats.Errors++
		}
	}

	return stats, nil
}

// UploadNewHighlights creates never-synced highlights of connected readings on
// the service and stamps them with the assigned remote id. Per-item failures
// are logged and skipped.
func (u *Uploader) UploadNewHighlights(ctx context.Context) (Stats, error) {
	var stats Stats

	highlights, err := u.store.UnsyncedHighlights(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing unsynced highlights: %w", err)
	}
	if len(highlights) == 0 {
		return stats, nil
	}

	now := time.Now().UTC()
	for i, h := range highlights {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		u.events.progress(ctx, "uploading highlights", float64(i)/float64(len(highlights)))

		remote, err := u.remote.CreateHighlight(ctx, h)
		if err != nil {
			u.log.Warn("creating remote highlight failed", "highlight_id", h.ID, "error", err)
			stats.Errors++
			continue
		}

		h.RemoteHighlightID = remote.ID
		h.LikeCount = remote.LikeCount
		h.CommentCount = remote.CommentCount
		syncedAt := now
		h.SyncedAt = &syncedAt
		if err := u.store.UpdateHighlight(ctx, h); err != nil {
			u.log.Error("persisting uploaded highlight", "highlight_id", h.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Uploaded++
	}

	return stats, nil
}

// PushEditedHighlights pushes local edits of already-synced highlights. A
// remote 404 means the highlight was removed upstream and deletes it locally;
// any other remote failure aborts the pass.
func (u *Uploader) PushEditedHighlights(ctx context.Context) (Stats, error) {
	var stats Stats

	edited, err := u.store.EditedConnectedHighlights(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing edited highlights: %w", err)
	}

	now := time.Now().UTC()
	for _, h := range edited {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := u.remote.UpdateHighlight(ctx, h.RemoteHighlightID, h.Content, h.Position); err != nil {
			policy, conv := resolve(opPushEditedHighlight, err)
			if conv == convertDeleteLocal {
				u.log.Info("highlight removed upstream, deleting locally",
					"highlight_id", h.ID, "remote_highlight_id", h.RemoteHighlightID)
				if derr := u.store.DeleteHighlight(ctx, h.ID); derr != nil {
					return stats, fmt.Errorf("deleting upstream-removed highlight %d: %w", h.ID, derr)
				}
				stats.Deleted++
				continue
			}
			if policy == policyAbort {
				return stats, fmt.Errorf("updating highlight %d: %w", h.RemoteHighlightID, err)
			}
			stats.Errors++
			continue
		}

		h.EditedAt = nil
		syncedAt := now
		h.SyncedAt = &syncedAt
		if err := u.store.UpdateHighlight(ctx, h); err != nil {
			return stats, fmt.Errorf("persisting pushed highlight %d: %w", h.ID, err)
		}
		stats.Updated++
	}

	return stats, nil
}

// readingStateOf parses the remote state, falling back to an active reading
// when the service sent something unrecognised.
func readingStateOf(remote readmill.Reading) model.ReadingState {
	if s := model.ParseReadingState(remote.State); s != model.StateUnknown {
		return s
	}
	return model.StateReading
}
