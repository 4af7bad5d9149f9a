package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// Merger reconciles the child records of one reading against the remote side.
// Matching uses stable identifiers only: the session identifier for sessions,
// the remote highlight id for highlights. Content is never a matching key, and
// the merge never deletes a local child.
type Merger struct {
	store LocalStore
	log   *slog.Logger
}

// NewMerger creates a Merger backed by the given store.
func NewMerger(store LocalStore, logger *slog.Logger) *Merger {
	return &Merger{store: store, log: logger}
}

// MergeSessions folds the remote periods of a reading into its local session
// list and returns the union. Remote-only periods become new local sessions,
// already synced. Matched sessions are left untouched; sessions are immutable
// once created, so existence alone settles the match. A nil remote list is a
// logged no-op returning the local list as-is.
func (m *Merger) MergeSessions(ctx context.Context, reading *model.Reading, remote []readmill.Period) ([]*model.Session, error) {
	locals, err := m.store.SessionsForReading(ctx, reading.ID)
	if err != nil {
		return nil, fmt.Errorf("loading sessions for reading %d: %w", reading.ID, err)
	}
	if remote == nil {
		m.log.Debug("no remote period list, skipping session merge", "reading_id", reading.ID)
		return locals, nil
	}

	byIdentifier := make(map[string]*model.Session, len(locals))
	for _, s := range locals {
		byIdentifier[s.Identifier] = s
	}

	all := locals
	for _, period := range remote {
		if _, ok := byIdentifier[period.Identifier]; ok {
			continue
		}

		s := &model.Session{
			ReadingID:       reading.ID,
			RemoteReadingID: reading.RemoteReadingID,
			Identifier:      period.Identifier,
			Progress:        period.Progress,
			EndedOnPage:     -1,
			DurationSeconds: period.DurationSeconds,
			OccurredAt:      period.StartedAt,
			Synced:          true,
		}
		if err := m.store.CreateSession(ctx, s); err != nil {
			return nil, fmt.Errorf("storing merged session %q: %w", period.Identifier, err)
		}
		m.log.Debug("session created from remote", "reading_id", reading.ID, "identifier", period.Identifier)
		byIdentifier[period.Identifier] = s
		all = append(all, s)
	}

	return all, nil
}

// MergeHighlights folds the remote highlights of a reading into its local
// highlight list and returns the union. Remote-only highlights become new
// local records; matched ones get their mutable fields overwritten from the
// remote version and a fresh synced-at stamp. Local-only highlights stay
// untouched. A nil remote list is a logged no-op returning the local list
// as-is.
func (m *Merger) MergeHighlights(ctx context.Context, reading *model.Reading, remote []readmill.Highlight) ([]*model.Highlight, error) {
	locals, err := m.store.HighlightsForReading(ctx, reading.ID)
	if err != nil {
		return nil, fmt.Errorf("loading highlights for reading %d: %w", reading.ID, err)
	}
	if remote == nil {
		m.log.Debug("no remote highlight list, skipping highlight merge", "reading_id", reading.ID)
		return locals, nil
	}

	byRemoteID := make(map[int64]*model.Highlight, len(locals))
	for _, h := range locals {
		if h.Connected() {
			byRemoteID[h.RemoteHighlightID] = h
		}
	}

	now := time.Now().UTC()
	all := locals
	for _, rh := range remote {
		local, ok := byRemoteID[rh.ID]
		if !ok {
			syncedAt := now
			h := &model.Highlight{
				ReadingID:         reading.ID,
				RemoteReadingID:   reading.RemoteReadingID,
				RemoteHighlightID: rh.ID,
				Content:           rh.Content,
				Position:          rh.Position,
				HighlightedAt:     rh.HighlightedAt,
				LikeCount:         rh.LikeCount,
				CommentCount:      rh.CommentCount,
				SyncedAt:          &syncedAt,
			}
			if err := m.store.CreateHighlight(ctx, h); err != nil {
				return nil, fmt.Errorf("storing merged highlight %d: %w", rh.ID, err)
			}
			m.log.Debug("highlight created from remote", "reading_id", reading.ID, "remote_highlight_id", rh.ID)
			byRemoteID[rh.ID] = h
			all = append(all, h)
			continue
		}

		local.Content = rh.Content
		local.Position = rh.Position
		local.LikeCount = rh.LikeCount
		local.CommentCount = rh.CommentCount
		syncedAt := now
		local.SyncedAt = &syncedAt
		if err := m.store.UpdateHighlight(ctx, local); err != nil {
			return nil, fmt.Errorf("updating merged highlight %d: %w", local.ID, err)
		}
	}

	return all, nil
}
