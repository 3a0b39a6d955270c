// Package catchup repairs the search replica by pulling auctions changed
// since the replica's watermark directly from the authoritative side.
package catchup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

const instrumentation = "github.com/jensholdgaard/auctionsync/internal/catchup"

// Result summarizes one catch-up pass.
type Result struct {
	Since     time.Time
	Pages     int
	Fetched   int
	Applied   int
	Watermark time.Time
}

// Syncer runs catch-up passes against a Source.
type Syncer struct {
	source Source
	repo   store.ReplicaRepository
	cfg    config.SyncConfig
	logger *slog.Logger
	tracer trace.Tracer

	passes  metric.Int64Counter
	applied metric.Int64Counter

	mu      sync.RWMutex
	lastErr error
}

// NewSyncer creates a Syncer writing into repo.
func NewSyncer(source Source, repo store.ReplicaRepository, cfg config.SyncConfig, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Syncer, error) {
	meter := mp.Meter(instrumentation)
	passes, err := meter.Int64Counter("catchup.passes",
		metric.WithDescription("Catch-up passes by result"))
	if err != nil {
		return nil, fmt.Errorf("creating passes counter: %w", err)
	}
	applied, err := meter.Int64Counter("catchup.records.applied",
		metric.WithDescription("Replica records written by catch-up"))
	if err != nil {
		return nil, fmt.Errorf("creating applied counter: %w", err)
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = config.Default().Sync.PageSize
	}
	return &Syncer{
		source:  source,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		tracer:  tp.Tracer(instrumentation),
		passes:  passes,
		applied: applied,
	}, nil
}

// Run performs one pass starting at the replica's watermark, less the
// configured lookback. An empty replica resyncs from the beginning.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	wm, err := s.repo.Watermark(ctx)
	if err != nil {
		err = fmt.Errorf("reading replica watermark: %w", err)
		s.record(ctx, err)
		return Result{}, err
	}
	since := wm
	if !since.IsZero() && s.cfg.WatermarkLookback > 0 {
		since = since.Add(-s.cfg.WatermarkLookback)
	}
	return s.RunFrom(ctx, since)
}

// RunFrom pages through every auction changed after since and upserts it
// with last-writer-wins. It stops when the source reports no next position. On cancellation the
// partial result is returned with the context error; upserts already made
// are kept and the next pass resumes from the new watermark.
func (s *Syncer) RunFrom(ctx context.Context, since time.Time) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Syncer.RunFrom",
		trace.WithAttributes(attribute.String("since", since.Format(time.RFC3339Nano))),
	)
	defer span.End()

	res := Result{Since: since, Watermark: since}
	var cursor store.Cursor
	for {
		page, err := s.fetch(ctx, since, cursor)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			s.record(ctx, err)
			return res, err
		}
		res.Pages++
		res.Fetched += len(page.Auctions)

		for _, a := range page.Auctions {
			ok, err := s.repo.Upsert(ctx, store.RecordFromAuction(a))
			if err != nil {
				err = fmt.Errorf("upserting replica record %s: %w", a.ID, err)
				span.SetStatus(codes.Error, err.Error())
				s.record(ctx, err)
				return res, err
			}
			if ok {
				res.Applied++
				s.applied.Add(ctx, 1)
			}
			if a.UpdatedAt.After(res.Watermark) {
				res.Watermark = a.UpdatedAt
			}
		}

		if page.Next.IsZero() || len(page.Auctions) == 0 {
			break
		}
		cursor = page.Next
	}

	span.SetAttributes(
		attribute.Int("pages", res.Pages),
		attribute.Int("fetched", res.Fetched),
		attribute.Int("applied", res.Applied),
	)
	s.record(ctx, nil)
	s.logger.InfoContext(ctx, "catch-up pass complete",
		slog.Time("since", since),
		slog.Int("pages", res.Pages),
		slog.Int("fetched", res.Fetched),
		slog.Int("applied", res.Applied),
		slog.Time("watermark", res.Watermark),
	)
	return res, nil
}

// fetch reads one page, retrying transient failures with exponential
// backoff.
func (s *Syncer) fetch(ctx context.Context, since time.Time, cursor store.Cursor) (Page, error) {
	b := backoff.NewExponentialBackOff()
	if s.cfg.InitialBackoff > 0 {
		b.InitialInterval = s.cfg.InitialBackoff
	}
	if s.cfg.MaxBackoff > 0 {
		b.MaxInterval = s.cfg.MaxBackoff
	}

	op := func() (Page, error) {
		reqCtx := ctx
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		page, err := s.source.ListChangedSince(reqCtx, since, cursor, s.cfg.PageSize)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return Page{}, backoff.Permanent(ctx.Err())
		}
		var te *TransientError
		if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
			return Page{}, err
		}
		return Page{}, backoff.Permanent(err)
	}

	page, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(s.cfg.MaxRetries, 0)+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.WarnContext(ctx, "catch-up fetch failed, retrying",
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		var te *TransientError
		if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
			return Page{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return Page{}, fmt.Errorf("fetching changed auctions: %w", err)
	}
	return page, nil
}

func (s *Syncer) record(ctx context.Context, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		result = "canceled"
	default:
		result = "failed"
	}
	s.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Healthy reports the outcome of the most recent completed pass. It is
// shaped for use as a readiness checker.
func (s *Syncer) Healthy(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		return fmt.Errorf("catch-up degraded: %w", s.lastErr)
	}
	return nil
}

// Loop runs a pass every interval until ctx is done. Failed passes are
// logged as degraded sync and surface through Healthy.
func (s *Syncer) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.Default().Sync.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "catch-up sync degraded", slog.Any("error", err))
			}
		}
	}
}
