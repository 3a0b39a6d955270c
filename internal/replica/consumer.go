package replica

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auctionsync/internal/catchup"
	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

const instrumentation = "github.com/jensholdgaard/auctionsync/internal/replica"

// Syncer is the catch-up pass run before consuming events.
type Syncer interface {
	Run(ctx context.Context) (catchup.Result, error)
}

type job struct {
	ctx  context.Context
	e    event.Event
	done chan error
}

// Consumer applies bus events to the replica store. Events for the same
// auction are handled by the same worker, in delivery order.
type Consumer struct {
	repo    store.ReplicaRepository
	sub     event.Subscriber
	syncer  Syncer
	workers int
	logger  *slog.Logger
	tracer  trace.Tracer

	processed metric.Int64Counter
}

// NewConsumer creates a Consumer with the given number of workers.
func NewConsumer(repo store.ReplicaRepository, sub event.Subscriber, syncer Syncer, workers int, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Consumer, error) {
	processed, err := mp.Meter(instrumentation).Int64Counter("replica.events.processed",
		metric.WithDescription("Auction events processed by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		repo:      repo,
		sub:       sub,
		syncer:    syncer,
		workers:   workers,
		logger:    logger,
		tracer:    tp.Tracer(instrumentation),
		processed: processed,
	}, nil
}

// Run performs a startup catch-up pass, then consumes events until ctx is
// done. A failed catch-up is logged and consumption starts anyway; the
// recurring catch-up retries it.
func (c *Consumer) Run(ctx context.Context) error {
	if c.syncer != nil {
		if res, err := c.syncer.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "startup catch-up failed, replica may be behind", slog.Any("error", err))
		} else {
			c.logger.InfoContext(ctx, "startup catch-up complete",
				slog.Int("applied", res.Applied),
				slog.Time("watermark", res.Watermark),
			)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shards := make([]chan job, c.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		ch := make(chan job)
		shards[i] = ch
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case j := <-ch:
					j.done <- c.Handle(j.ctx, j.e)
				}
			}
		})
	}

	g.Go(func() error {
		defer cancel()
		return c.sub.Subscribe(gctx, func(ctx context.Context, e event.Event) error {
			j := job{ctx: ctx, e: e, done: make(chan error, 1)}
			shard := shards[xxhash.Sum64String(e.AuctionID)%uint64(len(shards))]
			select {
			case shard <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case err := <-j.done:
				return err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("consuming auction events: %w", err)
	}
	return nil
}

// Handle applies a single event, recording its outcome. A returned error
// asks the bus to redeliver.
func (c *Consumer) Handle(ctx context.Context, e event.Event) error {
	ctx, span := c.tracer.Start(ctx, "Consumer.Handle",
		trace.WithAttributes(
			attribute.String("event_id", e.ID),
			attribute.String("event_type", string(e.Type)),
			attribute.String("auction_id", e.AuctionID),
		),
	)
	defer span.End()

	outcome, err := Apply(ctx, c.repo, e)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		c.logger.ErrorContext(ctx, "applying auction event",
			slog.String("event_id", e.ID),
			slog.String("auction_id", e.AuctionID),
			slog.Any("error", err),
		)
		return err
	}

	span.SetAttributes(attribute.String("outcome", outcome.String()))
	c.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	c.logger.DebugContext(ctx, "auction event processed",
		slog.String("event_id", e.ID),
		slog.String("auction_id", e.AuctionID),
		slog.String("outcome", outcome.String()),
	)
	return nil
}
