package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

func TestStamp(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		prev time.Time
		want time.Time
	}{
		{"first write uses now", base, time.Time{}, base},
		{"clock ahead uses now", base.Add(time.Second), base, base.Add(time.Second)},
		{"frozen clock bumps a microsecond", base, base, base.Add(time.Microsecond)},
		{"clock behind bumps past prev", base.Add(-time.Hour), base, base.Add(time.Microsecond)},
		{"nanoseconds truncated", base.Add(1500 * time.Nanosecond), time.Time{}, base.Add(time.Microsecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.Stamp(tt.now, tt.prev); !got.Equal(tt.want) {
				t.Errorf("Stamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCursor_EncodeDecode(t *testing.T) {
	c := store.Cursor{UpdatedAt: time.Date(2025, 6, 15, 12, 0, 0, 123000, time.UTC), ID: "a:b"}

	got, err := store.DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.UpdatedAt.Equal(c.UpdatedAt) || got.ID != c.ID {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}

	zero, err := store.DecodeCursor("")
	if err != nil || !zero.IsZero() {
		t.Errorf("DecodeCursor(\"\") = %+v, %v; want zero cursor", zero, err)
	}
	if (store.Cursor{}).Encode() != "" {
		t.Error("zero cursor should encode to empty token")
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, tok := range []string{"!!!", "bm9jb2xvbg", "eHg6aWQ"} {
		if _, err := store.DecodeCursor(tok); !errors.Is(err, store.ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", tok, err)
		}
	}
}

func TestRecordFromAuction(t *testing.T) {
	winner := "carol"
	bid := 100
	a := store.Auction{
		ID:             "a",
		Item:           store.Item{Make: "Ford", Model: "GT", Year: 2020, Color: "White", Mileage: 10, ImageURL: "u"},
		Seller:         "bob",
		Winner:         &winner,
		CurrentHighBid: &bid,
		Status:         store.StatusSold,
	}
	rec := store.RecordFromAuction(a)
	if rec.Make != "Ford" || rec.Mileage != 10 || rec.Seller != "bob" || rec.Status != store.StatusSold {
		t.Errorf("RecordFromAuction = %+v", rec)
	}

	// The projection must not alias the aggregate.
	*a.Winner = "mallory"
	if *rec.Winner != "carol" {
		t.Errorf("Winner aliased: %q", *rec.Winner)
	}
}
