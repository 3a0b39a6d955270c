package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

// AuctionRepo implements store.AuctionRepository in memory.
type AuctionRepo struct {
	mu       sync.Mutex
	auctions map[string]store.Auction
	clock    clock.Clock
}

// NewAuctionRepo returns an empty AuctionRepo.
func NewAuctionRepo(clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{auctions: make(map[string]store.Auction), clock: clk}
}

func (r *AuctionRepo) Create(_ context.Context, a *store.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
	}
	c := a.Clone()
	return &c, nil
}

func (r *AuctionRepo) Update(_ context.Context, id string, mutate func(*store.Auction) error) (*store.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("updating auction %s: %w", id, store.ErrNotFound)
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = store.Stamp(r.clock.Now(), cur.UpdatedAt)
	r.auctions[id] = next
	out := next.Clone()
	return &out, nil
}

func (r *AuctionRepo) Delete(_ context.Context, id string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.auctions[id]
	if !ok {
		return time.Time{}, fmt.Errorf("deleting auction %s: %w", id, store.ErrNotFound)
	}
	delete(r.auctions, id)
	return store.Stamp(r.clock.Now(), cur.UpdatedAt), nil
}

func (r *AuctionRepo) ListChangedSince(_ context.Context, since time.Time, cursor store.Cursor, limit int) ([]store.Auction, error) {
	r.mu.Lock()
	matched := make([]store.Auction, 0)
	for _, a := range r.auctions {
		if !a.UpdatedAt.After(since) {
			continue
		}
		if !cursor.IsZero() && !store.Less(cursor, store.CursorAfter(a)) {
			continue
		}
		matched = append(matched, a.Clone())
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return store.Less(store.CursorAfter(matched[i]), store.CursorAfter(matched[j]))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
