// Package natsbus carries auction events over NATS JetStream.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jensholdgaard/auctionsync/internal/bus"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/event"
)

func init() {
	bus.Register("nats", open)
}

func open(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (*bus.Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("auctionsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	b, err := New(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &bus.Bus{
		Publisher:  b,
		Subscriber: b,
		Closer: bus.CloserFunc(func() error {
			return nc.Drain()
		}),
		Ping: b.Ping,
	}, nil
}

// Bus publishes to and consumes from a single JetStream stream.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    config.BusConfig
	logger *slog.Logger
}

// New ensures the stream exists and returns a Bus bound to it.
func New(ctx context.Context, nc *nats.Conn, cfg config.BusConfig, logger *slog.Logger) (*Bus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}

	return &Bus{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

// Subject returns the subject an event is published on,
// <prefix>.<created|updated|deleted>.<auction id>.
func Subject(prefix string, e event.Event) string {
	kind := strings.TrimPrefix(string(e.Type), "auction.")
	return prefix + "." + kind + "." + e.AuctionID
}

// Publish sends e and waits for the stream acknowledgement. The event id is
// used as the message id so retried publishes are de-duplicated.
func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	data, err := event.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(ctx, Subject(b.cfg.SubjectPrefix, e), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("publishing %s for auction %s: %w", e.Type, e.AuctionID, err)
	}
	return nil
}

// Subscribe consumes the stream through the configured durable consumer
// until ctx is done. Up to cfg.Workers handler calls run concurrently.
// Handler errors NAK the message for redelivery; undecodable messages are
// terminated.
func (b *Bus) Subscribe(ctx context.Context, h event.Handler) error {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       b.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		FilterSubject: b.cfg.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("creating consumer %s: %w", b.cfg.Durable, err)
	}

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			b.handle(ctx, msg, h)
		}()
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		b.logger.WarnContext(ctx, "consume error", slog.String("error", err.Error()))
	}))
	if err != nil {
		return fmt.Errorf("starting consumer %s: %w", b.cfg.Durable, err)
	}

	b.logger.InfoContext(ctx, "consuming auction events",
		slog.String("stream", b.cfg.Stream),
		slog.String("durable", b.cfg.Durable),
		slog.Int("workers", workers),
	)

	<-ctx.Done()
	cc.Stop()
	wg.Wait()
	return nil
}

func (b *Bus) handle(ctx context.Context, msg jetstream.Msg, h event.Handler) {
	e, err := event.Unmarshal(msg.Data())
	if err != nil {
		b.logger.ErrorContext(ctx, "dropping undecodable message",
			slog.String("subject", msg.Subject()),
			slog.String("error", err.Error()),
		)
		if err := msg.Term(); err != nil {
			b.logger.WarnContext(ctx, "terminating message", slog.String("error", err.Error()))
		}
		return
	}

	if err := h(ctx, e); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Shutting down; let the ack wait expire and redeliver.
			return
		}
		b.logger.WarnContext(ctx, "handler failed, requesting redelivery",
			slog.String("event_id", e.ID),
			slog.String("auction_id", e.AuctionID),
			slog.String("error", err.Error()),
		)
		if err := msg.Nak(); err != nil {
			b.logger.WarnContext(ctx, "nak failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		b.logger.WarnContext(ctx, "ack failed",
			slog.String("event_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Ping reports whether the connection is usable.
func (b *Bus) Ping(_ context.Context) error {
	if s := b.nc.Status(); s != nats.CONNECTED {
		return fmt.Errorf("nats connection status %s", s)
	}
	return nil
}
