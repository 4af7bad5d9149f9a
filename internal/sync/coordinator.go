package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/google/uuid"

	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// ErrAlreadySyncing is returned when a Sync is requested for a user who
// already has one in flight.
var ErrAlreadySyncing = errors.New("sync already in flight for this user")

// Stats counts the mutations of one sync pass.
type Stats struct {
	Created  int
	Updated  int
	Deleted  int
	Uploaded int
	Errors   int
}

func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Uploaded += other.Uploaded
	s.Errors += other.Errors
}

// Coordinator owns the full sync lifecycle for a user: flagged-highlight
// deletion, the upload stages, the fetch of both reading sets, reconciliation,
// and the push of remaining highlight edits — in that order, on a single
// sequential worker. At most one pass per user may be in flight; a second
// concurrent call fails with [ErrAlreadySyncing].
type Coordinator struct {
	remote RemoteClient
	store  LocalStore
	log    *slog.Logger
	events *reporter

	mu       stdsync.Mutex
	inflight map[int64]string // user id → lease token
}

// NewCoordinator creates a Coordinator. events may be nil when no consumer
// wants progress notifications.
func NewCoordinator(remote RemoteClient, store LocalStore, logger *slog.Logger, events chan<- Event) *Coordinator {
	return &Coordinator{
		remote:   remote,
		store:    store,
		log:      logger,
		events:   &reporter{ch: events},
		inflight: make(map[int64]string),
	}
}

// acquire takes the per-user sync lease and returns its token.
func (c *Coordinator) acquire(userID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[userID]; busy {
		return "", fmt.Errorf("user %d: %w", userID, ErrAlreadySyncing)
	}
	token := uuid.NewString()
	c.inflight[userID] = token
	return token, nil
}

// release gives the lease back. The token guards against a stale release.
func (c *Coordinator) release(userID int64, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[userID] == token {
		delete(c.inflight, userID)
	}
}

// Sync runs one full pass for the user. With fullSync set, every connected
// reading is re-pulled regardless of change detection. The pass resolves to
// exactly one terminal event: EventDone, or EventFailed carrying the remote
// status code when the failure had one. Cancellation is cooperative, honored
// at iteration boundaries.
func (c *Coordinator) Sync(ctx context.Context, userID int64, fullSync bool) (Stats, error) {
	var stats Stats

	token, err := c.acquire(userID)
	if err != nil {
		return stats, err
	}
	defer c.release(userID, token)

	c.log.Info("sync started", "user_id", userID, "full", fullSync, "lease", token)
	c.events.emit(ctx, Event{Type: EventStarted})

	err = c.run(ctx, userID, fullSync, &stats)
	if err != nil {
		code := readmill.StatusCode(err)
		c.log.Error("sync failed", "user_id", userID, "status", code, "error", err)
		c.events.emit(ctx, Event{Type: EventFailed, Message: err.Error(), StatusCode: code})
		return stats, err
	}

	c.log.Info("sync complete",
		"user_id", userID,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"uploaded", stats.Uploaded,
		"errors", stats.Errors,
	)
	c.events.emit(ctx, Event{Type: EventDone})
	return stats, nil
}

func (c *Coordinator) run(ctx context.Context, userID int64, fullSync bool, stats *Stats) error {
	uploader := NewUploader(c.remote, c.store, c.log, c.events)
	merger := NewMerger(c.store, c.log)
	reconciler := NewReconciler(c.remote, c.store, merger, c.log, c.events)

	steps := []func(context.Context) (Stats, error){
		uploader.DeleteFlaggedHighlights,
		uploader.UploadNewReadings,
		uploader.UploadNewSessions,
		uploader.UploadNewHighlights,
	}
	for _, step := range steps {
		s, err := step(ctx)
		stats.add(s)
		if err != nil {
			return err
		}
	}

	locals, err := c.store.ConnectedReadingsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing connected readings: %w", err)
	}
	remotes, err := c.remote.ReadingsForUser(ctx, userID)
	if err != nil {
		return err
	}

	s, err := reconciler.Run(ctx, userID, Classify(locals, remotes, fullSync))
	stats.add(s)
	if err != nil {
		return err
	}

	s, err = uploader.PushEditedHighlights(ctx)
	stats.add(s)
	return err
}
