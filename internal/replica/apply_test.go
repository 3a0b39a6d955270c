package replica_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/replica"
	"github.com/jensholdgaard/auctionsync/internal/store"
	"github.com/jensholdgaard/auctionsync/internal/store/memstore"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func version(t *testing.T, typ event.Type, id, color string, at time.Time) event.Event {
	t.Helper()
	a := store.Auction{
		ID:        id,
		Item:      store.Item{Make: "Ford", Model: "GT", Year: 2020, Color: color},
		Seller:    "bob",
		Status:    store.StatusLive,
		CreatedAt: t0,
		UpdatedAt: at,
	}
	var (
		e   event.Event
		err error
	)
	if typ == event.AuctionCreated {
		e, err = event.Created(a)
	} else {
		e, err = event.Updated(a)
	}
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func apply(t *testing.T, repo store.ReplicaRepository, e event.Event) replica.Outcome {
	t.Helper()
	o, err := replica.Apply(context.Background(), repo, e)
	if err != nil {
		t.Fatalf("Apply(%s): %v", e.Type, err)
	}
	return o
}

func TestApply_IdempotentUpsert(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	e := version(t, event.AuctionCreated, "a1", "White", t0)

	if o := apply(t, repo, e); o != replica.OutcomeApplied {
		t.Errorf("first apply = %s, want applied", o)
	}
	before, _ := repo.Get(context.Background(), "a1")
	if o := apply(t, repo, e); o != replica.OutcomeStale {
		t.Errorf("second apply = %s, want stale", o)
	}
	after, _ := repo.Get(context.Background(), "a1")
	if *before != *after {
		t.Errorf("record changed on duplicate: %+v -> %+v", before, after)
	}
}

func TestApply_OrderTolerance(t *testing.T) {
	events := []event.Event{
		version(t, event.AuctionCreated, "a1", "White", t0),
		version(t, event.AuctionUpdated, "a1", "Red", t0.Add(time.Millisecond)),
		version(t, event.AuctionUpdated, "a1", "Blue", t0.Add(2*time.Millisecond)),
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, order := range orders {
		repo := memstore.NewReplicaRepo()
		for _, i := range order {
			apply(t, repo, events[i])
		}
		got, err := repo.Get(context.Background(), "a1")
		if err != nil {
			t.Fatalf("order %v: %v", order, err)
		}
		if got.Color != "Blue" || !got.UpdatedAt.Equal(t0.Add(2*time.Millisecond)) {
			t.Errorf("order %v: final record = %+v, want Blue", order, got)
		}
	}
}

func TestApply_IdempotentDelete(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	apply(t, repo, version(t, event.AuctionCreated, "a1", "White", t0))

	del := event.Deleted("a1", t0.Add(time.Millisecond))
	if o := apply(t, repo, del); o != replica.OutcomeDeleted {
		t.Errorf("first delete = %s, want deleted", o)
	}
	if o := apply(t, repo, del); o != replica.OutcomeAbsent {
		t.Errorf("second delete = %s, want absent", o)
	}
	if o := apply(t, repo, event.Deleted("never-seen", t0)); o != replica.OutcomeAbsent {
		t.Errorf("delete of unknown id = %s, want absent", o)
	}
}

func TestApply_DeleteBeforeCreateDoesNotResurrect(t *testing.T) {
	repo := memstore.NewReplicaRepo()

	apply(t, repo, event.Deleted("a1", t0.Add(2*time.Millisecond)))
	if o := apply(t, repo, version(t, event.AuctionCreated, "a1", "White", t0)); o != replica.OutcomeStale {
		t.Errorf("late create = %s, want stale", o)
	}
	if o := apply(t, repo, version(t, event.AuctionUpdated, "a1", "Red", t0.Add(time.Millisecond))); o != replica.OutcomeStale {
		t.Errorf("late update = %s, want stale", o)
	}
	if _, err := repo.Get(context.Background(), "a1"); err == nil {
		t.Error("deleted auction was resurrected")
	}
}

func TestApply_EventualConvergence(t *testing.T) {
	// Full history for three auctions: one updated, one deleted, one untouched.
	history := []event.Event{
		version(t, event.AuctionCreated, "a", "White", t0),
		version(t, event.AuctionUpdated, "a", "Red", t0.Add(1*time.Millisecond)),
		version(t, event.AuctionUpdated, "a", "Green", t0.Add(2*time.Millisecond)),
		version(t, event.AuctionCreated, "b", "Black", t0),
		event.Deleted("b", t0.Add(3*time.Millisecond)),
		version(t, event.AuctionCreated, "c", "Silver", t0.Add(time.Millisecond)),
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		// Every event at least once, some duplicated, in random order.
		var deliveries []event.Event
		for _, e := range history {
			deliveries = append(deliveries, e)
			if rng.IntN(2) == 0 {
				deliveries = append(deliveries, e)
			}
		}
		rng.Shuffle(len(deliveries), func(i, j int) {
			deliveries[i], deliveries[j] = deliveries[j], deliveries[i]
		})

		repo := memstore.NewReplicaRepo()
		for _, e := range deliveries {
			apply(t, repo, e)
		}

		ctx := context.Background()
		if got, err := repo.Get(ctx, "a"); err != nil || got.Color != "Green" {
			t.Fatalf("trial %d: a = %+v, %v; want Green", trial, got, err)
		}
		if _, err := repo.Get(ctx, "b"); err == nil {
			t.Fatalf("trial %d: deleted auction b present", trial)
		}
		if got, err := repo.Get(ctx, "c"); err != nil || got.Color != "Silver" {
			t.Fatalf("trial %d: c = %+v, %v; want Silver", trial, got, err)
		}
	}
}

func TestApply_RejectsBadPayload(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	e := event.Event{ID: "x", Type: event.AuctionUpdated, AuctionID: "a1", UpdatedAt: t0, Payload: []byte(`{bad`)}
	if _, err := replica.Apply(context.Background(), repo, e); err == nil {
		t.Error("expected error for undecodable payload")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    replica.Outcome
		want string
	}{
		{replica.OutcomeApplied, "applied"},
		{replica.OutcomeStale, "stale"},
		{replica.OutcomeDeleted, "deleted"},
		{replica.OutcomeAbsent, "absent"},
		{replica.Outcome(42), "Outcome(42)"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
