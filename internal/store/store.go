package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Errors returned by repositories.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusLive          Status = "Live"
	StatusReserveNotMet Status = "ReserveNotMet"
	StatusFinished      Status = "Finished"
	StatusSold          Status = "Sold"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusLive, StatusReserveNotMet, StatusFinished, StatusSold:
		return true
	}
	return false
}

// Item is the vehicle being auctioned. It is owned by exactly one Auction.
type Item struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	Color    string `json:"color"`
	Mileage  int    `json:"mileage"`
	ImageURL string `json:"imageUrl"`
}

// Auction is the authoritative auction aggregate. Its JSON form is the
// snapshot carried by events and returned by the pull endpoint.
type Auction struct {
	ID             string    `json:"id"`
	Item           Item      `json:"item"`
	ReservePrice   int       `json:"reservePrice"`
	Seller         string    `json:"seller"`
	Winner         *string   `json:"winner,omitempty"`
	CurrentHighBid *int      `json:"currentHighBid,omitempty"`
	SoldAmount     *int      `json:"soldAmount,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	AuctionEnd     time.Time `json:"auctionEnd"`
}

// Clone returns a deep copy of a.
func (a Auction) Clone() Auction {
	c := a
	c.Winner = cloneString(a.Winner)
	c.CurrentHighBid = cloneInt(a.CurrentHighBid)
	c.SoldAmount = cloneInt(a.SoldAmount)
	return c
}

// ReplicaRecord is the flattened, read-optimized projection of an Auction.
// UpdatedAt doubles as the record's idempotency token.
type ReplicaRecord struct {
	ID             string    `json:"id"`
	Make           string    `json:"make"`
	Model          string    `json:"model"`
	Year           int       `json:"year"`
	Color          string    `json:"color"`
	Mileage        int       `json:"mileage"`
	ImageURL       string    `json:"imageUrl"`
	ReservePrice   int       `json:"reservePrice"`
	Seller         string    `json:"seller"`
	Winner         *string   `json:"winner,omitempty"`
	CurrentHighBid *int      `json:"currentHighBid,omitempty"`
	SoldAmount     *int      `json:"soldAmount,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	AuctionEnd     time.Time `json:"auctionEnd"`
}

// RecordFromAuction flattens an auction snapshot into a replica record.
func RecordFromAuction(a Auction) ReplicaRecord {
	return ReplicaRecord{
		ID:             a.ID,
		Make:           a.Item.Make,
		Model:          a.Item.Model,
		Year:           a.Item.Year,
		Color:          a.Item.Color,
		Mileage:        a.Item.Mileage,
		ImageURL:       a.Item.ImageURL,
		ReservePrice:   a.ReservePrice,
		Seller:         a.Seller,
		Winner:         cloneString(a.Winner),
		CurrentHighBid: cloneInt(a.CurrentHighBid),
		SoldAmount:     cloneInt(a.SoldAmount),
		Status:         a.Status,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		AuctionEnd:     a.AuctionEnd,
	}
}

// Stamp returns the modification time for a mutation observed at now on an
// aggregate last modified at prev. The result is always strictly after prev
// and carries microsecond precision.
func Stamp(now, prev time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !t.After(prev) {
		t = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}

// Cursor is a resumable position in the (UpdatedAt, ID) ordering.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor positioned at a.
func CursorAfter(a Auction) Cursor {
	return Cursor{UpdatedAt: a.UpdatedAt, ID: a.ID}
}

// IsZero reports whether c is the start-of-stream cursor.
func (c Cursor) IsZero() bool { return c.ID == "" && c.UpdatedAt.IsZero() }

// Encode renders c as an opaque URL-safe token.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.UpdatedAt.UnixMicro(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode. The empty token
// decodes to the zero cursor.
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	micros, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor{UpdatedAt: time.UnixMicro(us).UTC(), ID: id}, nil
}

// Less reports whether a sorts before b in the (UpdatedAt, ID) ordering.
func Less(a, b Cursor) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// AuctionRepository defines the authoritative auction persistence operations.
// Mutations to a single id are serialized by the implementation.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	// Update loads the auction under a per-id lock, applies mutate, stamps
	// UpdatedAt and commits. It returns the committed snapshot.
	Update(ctx context.Context, id string, mutate func(*Auction) error) (*Auction, error)
	// Delete removes the auction and returns the deletion stamp.
	Delete(ctx context.Context, id string) (time.Time, error)
	// ListChangedSince returns up to limit auctions with UpdatedAt > since,
	// ordered by (UpdatedAt, ID). A non-zero cursor resumes strictly after it.
	ListChangedSince(ctx context.Context, since time.Time, cursor Cursor, limit int) ([]Auction, error)
}

// ReplicaRepository defines the search replica persistence operations.
// Upsert and Delete are atomic per record.
type ReplicaRepository interface {
	Get(ctx context.Context, id string) (*ReplicaRecord, error)
	// List returns live records newest first.
	List(ctx context.Context, offset, limit int) ([]ReplicaRecord, error)
	// Upsert writes rec only when its UpdatedAt is strictly greater than the
	// stored record's (or the id's tombstone). It reports whether it wrote.
	Upsert(ctx context.Context, rec ReplicaRecord) (bool, error)
	// Delete removes the record if present and tombstones the id at the
	// given stamp. It reports whether a live record was removed.
	Delete(ctx context.Context, id string, at time.Time) (bool, error)
	// Watermark returns the greatest UpdatedAt over live records, or the
	// zero time when the replica is empty.
	Watermark(ctx context.Context) (time.Time, error)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
