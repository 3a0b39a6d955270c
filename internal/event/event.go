package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated Type = "auction.created"
	AuctionUpdated Type = "auction.updated"
	AuctionDeleted Type = "auction.deleted"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case AuctionCreated, AuctionUpdated, AuctionDeleted:
		return true
	}
	return false
}

// Event is the envelope published for every committed auction mutation.
// Payload holds the full auction snapshot for created and updated events
// and is empty for deleted events.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	AuctionID string          `json:"auctionId"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Created returns the event for a newly committed auction.
func Created(a store.Auction) (Event, error) { return snapshot(AuctionCreated, a) }

// Updated returns the event for a committed auction update.
func Updated(a store.Auction) (Event, error) { return snapshot(AuctionUpdated, a) }

// Deleted returns the event for an auction removed at the given stamp.
func Deleted(auctionID string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      AuctionDeleted,
		AuctionID: auctionID,
		UpdatedAt: at,
	}
}

func snapshot(t Type, a store.Auction) (Event, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling auction snapshot: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		AuctionID: a.ID,
		UpdatedAt: a.UpdatedAt,
		Payload:   data,
	}, nil
}

// Snapshot decodes the auction carried by a created or updated event. The
// envelope's id and stamp take precedence over the payload's.
func (e Event) Snapshot() (store.Auction, error) {
	if e.Type == AuctionDeleted {
		return store.Auction{}, fmt.Errorf("event %s: deleted events carry no snapshot", e.ID)
	}
	var a store.Auction
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		return store.Auction{}, fmt.Errorf("unmarshalling auction snapshot: %w", err)
	}
	a.ID = e.AuctionID
	a.UpdatedAt = e.UpdatedAt
	return a, nil
}

// Marshal encodes the envelope for the wire.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and checks a wire envelope.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshalling event: %w", err)
	}
	if !e.Type.Valid() {
		return Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.AuctionID == "" {
		return Event{}, fmt.Errorf("event %s has no auction id", e.ID)
	}
	return e, nil
}
