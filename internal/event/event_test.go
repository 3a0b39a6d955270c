package event_test

import (
	"testing"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestUpdated_SnapshotRoundTrip(t *testing.T) {
	a := store.Auction{
		ID:        "a1",
		Item:      store.Item{Make: "Ford", Model: "GT", Year: 2020},
		Seller:    "bob",
		Status:    store.StatusLive,
		UpdatedAt: t0,
	}
	e, err := event.Updated(a)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}
	if e.ID == "" || e.Type != event.AuctionUpdated || e.AuctionID != "a1" || !e.UpdatedAt.Equal(t0) {
		t.Fatalf("envelope = %+v", e)
	}

	wire, err := event.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := event.Unmarshal(wire)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, err := decoded.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got.Item.Make != "Ford" || got.Seller != "bob" || !got.UpdatedAt.Equal(t0) {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestDeleted(t *testing.T) {
	e := event.Deleted("a1", t0)
	if e.Type != event.AuctionDeleted || len(e.Payload) != 0 {
		t.Errorf("Deleted = %+v", e)
	}
	if _, err := e.Snapshot(); err == nil {
		t.Error("expected error decoding snapshot of a deleted event")
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{not json`},
		{"unknown type", `{"id":"1","type":"auction.exploded","auctionId":"a"}`},
		{"missing auction id", `{"id":"1","type":"auction.deleted"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := event.Unmarshal([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
