package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

const auctionColumns = `id, reserve_price, seller, winner, current_high_bid, sold_amount, status,
	created_at, updated_at, auction_end, make, model, year, color, mileage, image_url`

// auctionRow is the flat table shape of store.Auction.
type auctionRow struct {
	ID             string    `db:"id"`
	ReservePrice   int       `db:"reserve_price"`
	Seller         string    `db:"seller"`
	Winner         *string   `db:"winner"`
	CurrentHighBid *int      `db:"current_high_bid"`
	SoldAmount     *int      `db:"sold_amount"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	AuctionEnd     time.Time `db:"auction_end"`
	Make           string    `db:"make"`
	Model          string    `db:"model"`
	Year           int       `db:"year"`
	Color          string    `db:"color"`
	Mileage        int       `db:"mileage"`
	ImageURL       string    `db:"image_url"`
}

func rowFromAuction(a store.Auction) auctionRow {
	return auctionRow{
		ID:             a.ID,
		ReservePrice:   a.ReservePrice,
		Seller:         a.Seller,
		Winner:         a.Winner,
		CurrentHighBid: a.CurrentHighBid,
		SoldAmount:     a.SoldAmount,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
		AuctionEnd:     a.AuctionEnd.UTC(),
		Make:           a.Item.Make,
		Model:          a.Item.Model,
		Year:           a.Item.Year,
		Color:          a.Item.Color,
		Mileage:        a.Item.Mileage,
		ImageURL:       a.Item.ImageURL,
	}
}

func (r auctionRow) toAuction() store.Auction {
	return store.Auction{
		ID: r.ID,
		Item: store.Item{
			Make:     r.Make,
			Model:    r.Model,
			Year:     r.Year,
			Color:    r.Color,
			Mileage:  r.Mileage,
			ImageURL: r.ImageURL,
		},
		ReservePrice:   r.ReservePrice,
		Seller:         r.Seller,
		Winner:         r.Winner,
		CurrentHighBid: r.CurrentHighBid,
		SoldAmount:     r.SoldAmount,
		Status:         store.Status(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		AuctionEnd:     r.AuctionEnd.UTC(),
	}
}

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO auctions (`+auctionColumns+`)
		 VALUES (:id, :reserve_price, :seller, :winner, :current_high_bid, :sold_amount, :status,
		         :created_at, :updated_at, :auction_end, :make, :model, :year, :color, :mileage, :image_url)`,
		rowFromAuction(*a),
	)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var row auctionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	a := row.toAuction()
	return &a, nil
}

// Update holds a row lock for the whole read-modify-write so concurrent
// writers to the same id queue behind each other.
func (r *AuctionRepo) Update(ctx context.Context, id string, mutate func(*store.Auction) error) (*store.Auction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row auctionRow
	err = tx.GetContext(ctx, &row, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("updating auction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("locking auction: %w", err)
	}

	cur := row.toAuction()
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = store.Stamp(r.clock.Now(), cur.UpdatedAt)

	_, err = tx.NamedExecContext(ctx,
		`UPDATE auctions SET reserve_price = :reserve_price, seller = :seller, winner = :winner,
		        current_high_bid = :current_high_bid, sold_amount = :sold_amount, status = :status,
		        updated_at = :updated_at, auction_end = :auction_end, make = :make, model = :model,
		        year = :year, color = :color, mileage = :mileage, image_url = :image_url
		 WHERE id = :id`,
		rowFromAuction(next),
	)
	if err != nil {
		return nil, fmt.Errorf("updating auction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing auction update: %w", err)
	}
	return &next, nil
}

func (r *AuctionRepo) Delete(ctx context.Context, id string) (time.Time, error) {
	var last time.Time
	err := r.db.QueryRowxContext(ctx,
		`DELETE FROM auctions WHERE id = $1 RETURNING updated_at`, id,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("deleting auction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("deleting auction: %w", err)
	}
	return store.Stamp(r.clock.Now(), last), nil
}

func (r *AuctionRepo) ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) ([]store.Auction, error) {
	// A NULL limit means no limit in Postgres.
	var lim any
	if limit > 0 {
		lim = limit
	}

	var rows []auctionRow
	var err error
	if cursor.IsZero() {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+auctionColumns+` FROM auctions
			 WHERE updated_at > $1
			 ORDER BY updated_at ASC, id ASC
			 LIMIT $2`,
			since.UTC(), lim)
	} else {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+auctionColumns+` FROM auctions
			 WHERE updated_at > $1 AND (updated_at, id) > ($2, $3)
			 ORDER BY updated_at ASC, id ASC
			 LIMIT $4`,
			since.UTC(), cursor.UpdatedAt.UTC(), cursor.ID, lim)
	}
	if err != nil {
		return nil, fmt.Errorf("listing changed auctions: %w", err)
	}

	out := make([]store.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAuction())
	}
	return out, nil
}
