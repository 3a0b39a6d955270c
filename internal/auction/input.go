package auction

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

// ValidationError reports a request that was rejected before any state
// change.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid auction: " + strings.Join(e.Problems, "; ")
}

// NotFoundError reports a mutation or read on an unknown auction id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("auction %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// notFound converts a repository ErrNotFound into a *NotFoundError.
func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	return err
}

// CreateInput carries the fields of a new auction.
type CreateInput struct {
	Item         store.Item
	ReservePrice int
	Seller       string
	AuctionEnd   time.Time
}

func (in CreateInput) validate() error {
	var problems []string
	if in.Item.Make == "" {
		problems = append(problems, "make is required")
	}
	if in.Item.Model == "" {
		problems = append(problems, "model is required")
	}
	if in.Item.Color == "" {
		problems = append(problems, "color is required")
	}
	if in.Item.ImageURL == "" {
		problems = append(problems, "image url is required")
	}
	if in.Item.Year <= 0 {
		problems = append(problems, "year must be positive")
	}
	if in.Item.Mileage < 0 {
		problems = append(problems, "mileage must not be negative")
	}
	if in.Seller == "" {
		problems = append(problems, "seller is required")
	}
	if in.AuctionEnd.IsZero() {
		problems = append(problems, "auction end is required")
	}
	if in.ReservePrice < 0 {
		problems = append(problems, "reserve price must not be negative")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// UpdateInput carries a partial update. Nil fields leave the stored value
// unchanged.
type UpdateInput struct {
	Make           *string
	Model          *string
	Year           *int
	Color          *string
	Mileage        *int
	ImageURL       *string
	ReservePrice   *int
	AuctionEnd     *time.Time
	Status         *store.Status
	Winner         *string
	CurrentHighBid *int
	SoldAmount     *int
}

func (in UpdateInput) validate() error {
	var problems []string
	if in.Status != nil && !in.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", *in.Status))
	}
	for name, v := range map[string]*int{
		"year":             in.Year,
		"mileage":          in.Mileage,
		"reserve price":    in.ReservePrice,
		"current high bid": in.CurrentHighBid,
		"sold amount":      in.SoldAmount,
	} {
		if v != nil && *v < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if len(problems) > 0 {
		// Map iteration order is random.
		slices.Sort(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

// apply merges the non-nil fields of in into a.
func (in UpdateInput) apply(a *store.Auction) {
	setIf(&a.Item.Make, in.Make)
	setIf(&a.Item.Model, in.Model)
	setIf(&a.Item.Year, in.Year)
	setIf(&a.Item.Color, in.Color)
	setIf(&a.Item.Mileage, in.Mileage)
	setIf(&a.Item.ImageURL, in.ImageURL)
	setIf(&a.ReservePrice, in.ReservePrice)
	if in.AuctionEnd != nil {
		a.AuctionEnd = in.AuctionEnd.UTC().Truncate(time.Microsecond)
	}
	setIf(&a.Status, in.Status)
	if in.Winner != nil {
		w := *in.Winner
		a.Winner = &w
	}
	if in.CurrentHighBid != nil {
		v := *in.CurrentHighBid
		a.CurrentHighBid = &v
	}
	if in.SoldAmount != nil {
		v := *in.SoldAmount
		a.SoldAmount = &v
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
