// Package replica keeps the search replica in step with auction events.
package replica

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

// Outcome describes what applying an event did to the replica.
type Outcome int

const (
	// OutcomeApplied means the snapshot was written.
	OutcomeApplied Outcome = iota + 1
	// OutcomeStale means a newer or equal version was already present and
	// the event was discarded.
	OutcomeStale
	// OutcomeDeleted means a live record was removed.
	OutcomeDeleted
	// OutcomeAbsent means a delete found nothing to remove.
	OutcomeAbsent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAbsent:
		return "absent"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Apply applies e to repo. It is idempotent and tolerates any delivery
// order: created and updated events write only when strictly newer than the
// stored record, and deletes tombstone the id so older snapshots cannot
// bring it back.
func Apply(ctx context.Context, repo store.ReplicaRepository, e event.Event) (Outcome, error) {
	switch e.Type {
	case event.AuctionCreated, event.AuctionUpdated:
		a, err := e.Snapshot()
		if err != nil {
			return 0, err
		}
		ok, err := repo.Upsert(ctx, store.RecordFromAuction(a))
		if err != nil {
			return 0, fmt.Errorf("upserting replica record %s: %w", e.AuctionID, err)
		}
		if !ok {
			return OutcomeStale, nil
		}
		return OutcomeApplied, nil

	case event.AuctionDeleted:
		removed, err := repo.Delete(ctx, e.AuctionID, e.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("deleting replica record %s: %w", e.AuctionID, err)
		}
		if !removed {
			return OutcomeAbsent, nil
		}
		return OutcomeDeleted, nil
	}
	return 0, fmt.Errorf("unknown event type %q", e.Type)
}
