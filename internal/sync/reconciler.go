package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// Reconciler executes one [Classification] against the store and the remote
// service. The bucket order is fixed: orphan confirmation, deletions, privacy
// pushes, closed-state pushes, pulls, local creates. Deletions must be settled
// before any pull or create touches the same ids, and local pushes must land
// before remote state is treated as canonical for a pull.
type Reconciler struct {
	remote RemoteClient
	store  LocalStore
	merger *Merger
	log    *slog.Logger
	events *reporter
}

// NewReconciler creates a Reconciler.
func NewReconciler(remote RemoteClient, store LocalStore, merger *Merger, logger *slog.Logger, events *reporter) *Reconciler {
	return &Reconciler{remote: remote, store: store, merger: merger, log: logger, events: events}
}

// Run executes the classification buckets in order for the given remote user.
// Pull and create failures end the run; the push buckets are best-effort per
// item.
func (r *Reconciler) Run(ctx context.Context, userID int64, c Classification) (Stats, error) {
	var stats Stats

	if c.Empty() {
		r.log.Debug("nothing to reconcile")
		return stats, nil
	}

	if err := r.confirmOrphans(ctx, c.OrphanChecks, &stats); err != nil {
		return stats, err
	}
	if err := r.pushDeletions(ctx, c.ToDelete, &stats); err != nil {
		return stats, err
	}
	if err := r.pushPrivacy(ctx, c.ToPushPrivacy, &stats); err != nil {
		return stats, err
	}
	if err := r.pushClosedState(ctx, c.ToPushClosed, &stats); err != nil {
		return stats, err
	}
	if err := r.pullChanges(ctx, c.ToPull, &stats); err != nil {
		return stats, err
	}
	if err := r.createLocal(ctx, userID, c.ToCreate, &stats); err != nil {
		return stats, err
	}

	return stats, nil
}

// confirmOrphans deletes local readings whose remote counterpart is confirmed
// gone. A reading absent from the listing survives unless the point check
// affirms the absence; a failed check also keeps the reading.
func (r *Reconciler) confirmOrphans(ctx context.Context, orphans []*model.Reading, stats *Stats) error {
	for _, local := range orphans {
		if err := ctx.Err(); err != nil {
			return err
		}

		missing, err := r.remote.VerifyReadingMissing(ctx, local.RemoteReadingID)
		if err != nil {
			r.log.Warn("orphan check failed, keeping reading",
				"reading_id", local.ID, "remote_reading_id", local.RemoteReadingID, "error", err)
			stats.Errors++
			continue
		}
		if !missing {
			r.log.Debug("reading absent from listing but still exists remotely",
				"reading_id", local.ID, "remote_reading_id", local.RemoteReadingID)
			continue
		}

		if err := r.store.DeleteReading(ctx, local.ID); err != nil {
			return fmt.Errorf("deleting orphaned reading %d: %w", local.ID, err)
		}
		r.log.Info("orphaned reading deleted", "reading_id", local.ID, "title", local.Title)
		r.events.readingDeleted(ctx, local.ID)
		stats.Deleted++
	}
	return nil
}

// pushDeletions removes user-deleted readings, remote side first. A remote
// 404 counts as already gone; any other remote failure keeps the pair for the
// next pass.
func (r *Reconciler) pushDeletions(ctx context.Context, pairs []Pair, stats *Stats) error {
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.remote.DeleteReading(ctx, pair.Local.RemoteReadingID); err != nil {
			if _, conv := resolve(opDeleteReading, err); conv != convertAlreadyGone {
				r.log.Warn("remote reading delete failed, keeping reading",
					"reading_id", pair.Local.ID, "error", err)
				stats.Errors++
				continue
			}
			r.log.Debug("reading already gone remotely", "remote_reading_id", pair.Local.RemoteReadingID)
		}

		if err := r.store.DeleteReading(ctx, pair.Local.ID); err != nil {
			return fmt.Errorf("deleting reading %d: %w", pair.Local.ID, err)
		}
		r.log.Info("deleted reading pushed", "reading_id", pair.Local.ID, "title", pair.Local.Title)
		r.events.readingDeleted(ctx, pair.Local.ID)
		stats.Deleted++
	}
	return nil
}

// pushPrivacy uploads a locally changed privacy flag, then clears the local
// edit stamp so the flag does not read as still-newer on the next pass. The
// recorded remote touched-at is kept as it is; re-detecting the pair after a
// push is exactly what this step avoids.
func (r *Reconciler) pushPrivacy(ctx context.Context, pairs []Pair, stats *Stats) error {
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		local := pair.Local
		if err := r.remote.UpdateReadingPrivacy(ctx, local.RemoteReadingID, local.Private); err != nil {
			r.log.Warn("privacy push failed", "reading_id", local.ID, "error", err)
			stats.Errors++
			continue
		}

		local.UpdatedAt = time.Time{}
		if err := r.store.UpdateReading(ctx, local); err != nil {
			return fmt.Errorf("persisting privacy push for reading %d: %w", local.ID, err)
		}
		r.log.Debug("privacy pushed", "reading_id", local.ID, "private", local.Private)
		stats.Updated++
	}
	return nil
}

// pushClosedState uploads a locally closed state and remark. Best-effort: the
// local record is not touched, so a failed push simply recurs next pass.
func (r *Reconciler) pushClosedState(ctx context.Context, pairs []Pair, stats *Stats) error {
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		local := pair.Local
		if !local.State.Closed() {
			r.log.Warn("closed-at set but state is not terminal, skipping push",
				"reading_id", local.ID, "state", local.State)
			continue
		}
		if err := r.remote.CloseReading(ctx, local.RemoteReadingID, local.State, local.ClosingRemark); err != nil {
			r.log.Warn("closed-state push failed", "reading_id", local.ID, "error", err)
			stats.Errors++
			continue
		}
		r.log.Info("closed state pushed", "reading_id", local.ID, "state", local.State)
		stats.Updated++
	}
	return nil
}

// pullChanges overwrites each local reading from its remote counterpart,
// merges children, and recomputes the aggregates from the merged session
// list. Remote and store failures here end the pass.
func (r *Reconciler) pullChanges(ctx context.Context, pairs []Pair, stats *Stats) error {
	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.events.progress(ctx, fmt.Sprintf("updating %q", pair.Remote.Book.Title), float64(i)/float64(len(pairs)))

		if err := r.pullOne(ctx, pair.Local, pair.Remote); err != nil {
			return err
		}
		stats.Updated++
	}
	return nil
}

func (r *Reconciler) pullOne(ctx context.Context, local *model.Reading, remote readmill.Reading) error {
	applyRemote(local, remote)

	periods, err := r.remote.PeriodsForReading(ctx, remote.ID)
	if err != nil {
		return fmt.Errorf("pulling reading %d: %w", local.ID, err)
	}
	sessions, err := r.merger.MergeSessions(ctx, local, periods)
	if err != nil {
		return err
	}

	highlights, err := r.remote.HighlightsForReading(ctx, remote.ID)
	if err != nil {
		return fmt.Errorf("pulling reading %d: %w", local.ID, err)
	}
	if _, err := r.merger.MergeHighlights(ctx, local, highlights); err != nil {
		return err
	}

	local.RecalculateFromSessions(sessions)
	if err := r.store.UpdateReading(ctx, local); err != nil {
		return fmt.Errorf("persisting pulled reading %d: %w", local.ID, err)
	}

	r.log.Debug("reading pulled", "reading_id", local.ID, "title", local.Title)
	r.events.readingUpdated(ctx, local)
	return nil
}

// createLocal materialises remote-only readings locally and merges their
// children, which for an empty local child set creates everything.
func (r *Reconciler) createLocal(ctx context.Context, userID int64, remotes []readmill.Reading, stats *Stats) error {
	for i, remote := range remotes {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.events.progress(ctx, fmt.Sprintf("adding %q", remote.Book.Title), float64(i)/float64(len(remotes)))

		local := &model.Reading{
			RemoteUserID:    userID,
			RemoteBookID:    remote.Book.ID,
			RemoteReadingID: remote.ID,
			StartedAt:       remote.StartedAt,
		}
		applyRemote(local, remote)
		if err := r.store.CreateReading(ctx, local); err != nil {
			return fmt.Errorf("creating local reading for remote %d: %w", remote.ID, err)
		}

		if err := r.pullOne(ctx, local, remote); err != nil {
			return err
		}
		r.log.Info("reading created from remote", "reading_id", local.ID, "title", local.Title)
		stats.Created++
	}
	return nil
}

// applyRemote copies the remote-authoritative fields onto the local record.
// The local cover survives when the remote one is the service's default
// placeholder, and last-read-at only ever moves forward.
func applyRemote(local *model.Reading, remote readmill.Reading) {
	local.Title = remote.Book.Title
	local.Author = remote.Book.Author
	if remote.Book.CoverURL != readmill.DefaultCoverSentinel {
		local.CoverURL = remote.Book.CoverURL
	}
	local.State = model.ParseReadingState(remote.State)
	local.ClosingRemark = remote.ClosingRemark
	local.Private = remote.Private
	local.RemoteTouchedAt = remote.TouchedAt
	if remote.TouchedAt.After(local.LastReadAt) {
		local.LastReadAt = remote.TouchedAt
	}
}
