package sync

import (
	"github.com/christoffer/readtracker-sub001/internal/model"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
)

// Pair is one matched (local, remote) reading.
type Pair struct {
	Local  *model.Reading
	Remote readmill.Reading
}

// Classification is the immutable outcome of one classification pass. The
// buckets are disjoint per reading except that a pair may appear in several of
// the push/pull buckets at once; a deletion-flagged pair appears in ToDelete
// only.
type Classification struct {
	// ToCreate holds remote readings with no local counterpart.
	ToCreate []readmill.Reading
	// ToPull holds pairs whose remote side changed since the last pull, or
	// every pair when the pass is a full sync.
	ToPull []Pair
	// ToPushPrivacy holds pairs whose privacy flags differ and where the
	// local edit is newer than the remote touched-at.
	ToPushPrivacy []Pair
	// ToPushClosed holds pairs closed locally while the remote state is
	// still open.
	ToPushClosed []Pair
	// ToDelete holds pairs the user flagged for deletion.
	ToDelete []Pair
	// OrphanChecks holds connected local readings absent from the remote
	// listing. Absence alone never deletes; each entry gets an explicit
	// existence check first.
	OrphanChecks []*model.Reading
}

// Empty reports whether the classification calls for no work at all.
func (c Classification) Empty() bool {
	return len(c.ToCreate) == 0 && len(c.ToPull) == 0 && len(c.ToPushPrivacy) == 0 &&
		len(c.ToPushClosed) == 0 && len(c.ToDelete) == 0 && len(c.OrphanChecks) == 0
}

// Classify partitions the connected local readings and the remote listing into
// action buckets. It is a pure function: no store or network access, no
// mutation of its inputs.
func Classify(locals []*model.Reading, remotes []readmill.Reading, fullSync bool) Classification {
	var c Classification

	remoteIDs := make(map[int64]bool, len(remotes))
	for _, remote := range remotes {
		remoteIDs[remote.ID] = true
	}
	localByRemoteID := make(map[int64]*model.Reading, len(locals))
	for _, local := range locals {
		if !local.Connected() {
			continue
		}
		localByRemoteID[local.RemoteReadingID] = local
	}

	for _, local := range locals {
		if local.Connected() && !remoteIDs[local.RemoteReadingID] {
			c.OrphanChecks = append(c.OrphanChecks, local)
		}
	}

	for _, remote := range remotes {
		local, ok := localByRemoteID[remote.ID]
		if !ok {
			c.ToCreate = append(c.ToCreate, remote)
			continue
		}

		// A remote reading parked as "interesting" is neither pushed nor
		// pulled while a local counterpart exists.
		if model.ParseReadingState(remote.State) == model.StateInteresting {
			continue
		}

		pair := Pair{Local: local, Remote: remote}

		if local.DeletedByUser {
			c.ToDelete = append(c.ToDelete, pair)
			continue
		}

		if local.Private != remote.Private && local.UpdatedAt.After(remote.TouchedAt) {
			c.ToPushPrivacy = append(c.ToPushPrivacy, pair)
		}
		if local.HasClosedAt() && !model.ParseReadingState(remote.State).Closed() {
			c.ToPushClosed = append(c.ToPushClosed, pair)
		}
		if fullSync || local.RemoteChangedFrom(remote.TouchedAt) {
			c.ToPull = append(c.ToPull, pair)
		}
	}

	return c
}
