// Package auction owns mutations of the authoritative auction store and the
// events they produce.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

const instrumentation = "github.com/jensholdgaard/auctionsync/internal/auction"

// Manager applies client mutations to the auction store and publishes one
// event per committed mutation.
type Manager struct {
	repo           store.AuctionRepository
	publisher      event.Publisher
	logger         *slog.Logger
	tracer         trace.Tracer
	clock          clock.Clock
	publishTimeout time.Duration

	published     metric.Int64Counter
	publishFailed metric.Int64Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublishTimeout bounds each publish call. Zero means no bound beyond
// the request context.
func WithPublishTimeout(d time.Duration) Option {
	return func(m *Manager) { m.publishTimeout = d }
}

// NewManager creates a new auction Manager.
func NewManager(
	repo store.AuctionRepository,
	publisher event.Publisher,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	clk clock.Clock,
	opts ...Option,
) (*Manager, error) {
	m := &Manager{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		tracer:    tp.Tracer(instrumentation),
		clock:     clk,
	}
	for _, o := range opts {
		o(m)
	}

	meter := mp.Meter(instrumentation)
	var err error
	if m.published, err = meter.Int64Counter("auction.events.published",
		metric.WithDescription("Auction events handed to the bus")); err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	if m.publishFailed, err = meter.Int64Counter("auction.events.publish_failed",
		metric.WithDescription("Auction events the bus did not accept")); err != nil {
		return nil, fmt.Errorf("creating publish failure counter: %w", err)
	}
	return m, nil
}

// Create validates in, persists a new live auction, and publishes
// auction.created.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(attribute.String("seller", in.Seller)),
	)
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}

	now := store.Stamp(m.clock.Now(), time.Time{})
	a := &store.Auction{
		ID:           uuid.NewString(),
		Item:         in.Item,
		ReservePrice: in.ReservePrice,
		Seller:       in.Seller,
		Status:       store.StatusLive,
		CreatedAt:    now,
		UpdatedAt:    now,
		AuctionEnd:   in.AuctionEnd.UTC().Truncate(time.Microsecond),
	}
	span.SetAttributes(attribute.String("auction_id", a.ID))

	if err := m.repo.Create(ctx, a); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	m.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("seller", a.Seller),
	)

	e, err := event.Created(*a)
	if err != nil {
		m.logger.ErrorContext(ctx, "building created event", slog.String("auction_id", a.ID), slog.Any("error", err))
	} else {
		m.publish(ctx, e)
	}
	return a, nil
}

// Update merges the non-nil fields of in into auction id and publishes
// auction.updated.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Update",
		trace.WithAttributes(attribute.String("auction_id", id)),
	)
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}

	a, err := m.repo.Update(ctx, id, func(a *store.Auction) error {
		in.apply(a)
		return nil
	})
	if err != nil {
		err = notFound(id, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("updating auction: %w", err)
	}

	m.logger.InfoContext(ctx, "auction updated",
		slog.String("auction_id", a.ID),
		slog.Time("updated_at", a.UpdatedAt),
	)

	e, err := event.Updated(*a)
	if err != nil {
		m.logger.ErrorContext(ctx, "building updated event", slog.String("auction_id", a.ID), slog.Any("error", err))
	} else {
		m.publish(ctx, e)
	}
	return a, nil
}

// Delete removes auction id and publishes auction.deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Delete",
		trace.WithAttributes(attribute.String("auction_id", id)),
	)
	defer span.End()

	at, err := m.repo.Delete(ctx, id)
	if err != nil {
		err = notFound(id, err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting auction: %w", err)
	}

	m.logger.InfoContext(ctx, "auction deleted", slog.String("auction_id", id))
	m.publish(ctx, event.Deleted(id, at))
	return nil
}

// Get returns auction id.
func (m *Manager) Get(ctx context.Context, id string) (*store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get",
		trace.WithAttributes(attribute.String("auction_id", id)),
	)
	defer span.End()

	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", notFound(id, err))
	}
	return a, nil
}

// ListChangedSince returns one page of auctions modified after since in
// (UpdatedAt, ID) order, and the cursor that resumes after it. The cursor is
// zero when the page is shorter than limit.
func (m *Manager) ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) ([]store.Auction, store.Cursor, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListChangedSince",
		trace.WithAttributes(
			attribute.String("since", since.Format(time.RFC3339Nano)),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	page, err := m.repo.ListChangedSince(ctx, since, cursor, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, store.Cursor{}, fmt.Errorf("listing changed auctions: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(page)))

	var next store.Cursor
	if limit > 0 && len(page) == limit {
		next = store.CursorAfter(page[len(page)-1])
	}
	return page, next, nil
}

// publish hands e to the bus after the mutation has committed. Failures are
// logged and counted; the catch-up path repairs the replica.
func (m *Manager) publish(ctx context.Context, e event.Event) {
	ctx, span := m.tracer.Start(ctx, "Manager.publish",
		trace.WithAttributes(
			attribute.String("event_id", e.ID),
			attribute.String("event_type", string(e.Type)),
		),
	)
	defer span.End()

	pubCtx := context.WithoutCancel(ctx)
	if m.publishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(pubCtx, m.publishTimeout)
		defer cancel()
	}

	typ := metric.WithAttributes(attribute.String("type", string(e.Type)))
	if err := m.publisher.Publish(pubCtx, e); err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.publishFailed.Add(ctx, 1, typ)
		m.logger.ErrorContext(ctx, "publishing auction event",
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
			slog.String("auction_id", e.AuctionID),
			slog.Any("error", err),
		)
		return
	}
	m.published.Add(ctx, 1, typ)
}
