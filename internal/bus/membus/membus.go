// Package membus is an in-process event bus with fault injection. Delivery
// is synchronous with Publish so tests can reason about ordering exactly.
package membus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jensholdgaard/auctionsync/internal/bus"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/event"
)

func init() {
	bus.Register("memory", func(_ context.Context, cfg config.BusConfig, logger *slog.Logger) (*bus.Bus, error) {
		b := New(logger, cfg.MaxDeliver)
		return &bus.Bus{
			Publisher:  b,
			Subscriber: b,
			Closer:     bus.CloserFunc(func() error { return nil }),
			Ping:       func(context.Context) error { return nil },
		}, nil
	})
}

// Bus implements event.Publisher and event.Subscriber in memory.
type Bus struct {
	logger     *slog.Logger
	maxDeliver int

	mu         sync.Mutex
	handler    event.Handler
	subscribed bool
	pending    []event.Event
	published  []event.Event
	dropNext   int
	duplicate  bool
	holding    bool
	held       []event.Event
	failed     []event.Event
}

// New returns an empty bus. A handler that keeps failing is retried up to
// maxDeliver times per delivery; zero or less means one attempt.
func New(logger *slog.Logger, maxDeliver int) *Bus {
	if maxDeliver <= 0 {
		maxDeliver = 1
	}
	return &Bus{logger: logger, maxDeliver: maxDeliver}
}

// DropNext silently discards the next n published events.
func (b *Bus) DropNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropNext = n
}

// Duplicate makes every subsequent delivery happen twice.
func (b *Bus) Duplicate(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duplicate = on
}

// Hold buffers published events until Release is called.
func (b *Bus) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding = true
}

// Release delivers held events newest first, reversing publish order.
func (b *Bus) Release(ctx context.Context) {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.holding = false
	b.mu.Unlock()

	for _, e := range slices.Backward(held) {
		b.deliver(ctx, e)
	}
}

// Redeliver delivers e again, as a bus would after a lost acknowledgement.
func (b *Bus) Redeliver(ctx context.Context, e event.Event) {
	b.deliver(ctx, e)
}

// Published returns every event handed to Publish, including dropped ones.
func (b *Bus) Published() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// Failed returns events whose handler still failed after maxDeliver attempts.
func (b *Bus) Failed() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.failed)
}

// Publish records e and delivers it to the subscriber, subject to the
// configured faults. Events published before anyone subscribes are retained
// and delivered on Subscribe.
func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", e.Type, err)
	}

	b.mu.Lock()
	b.published = append(b.published, e)
	switch {
	case b.dropNext > 0:
		b.dropNext--
		b.mu.Unlock()
		b.logger.DebugContext(ctx, "dropping event", slog.String("event_id", e.ID))
		return nil
	case b.holding:
		b.held = append(b.held, e)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.deliver(ctx, e)
	return nil
}

// Subscribe drains retained events into h, installs it, and blocks until
// ctx is done.
func (b *Bus) Subscribe(ctx context.Context, h event.Handler) error {
	b.mu.Lock()
	if b.subscribed {
		b.mu.Unlock()
		return fmt.Errorf("membus: already subscribed")
	}
	b.subscribed = true
	b.mu.Unlock()

	// Events published while draining land in pending, so loop until it is
	// empty before installing h.
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.handler = h
			b.mu.Unlock()
			break
		}
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, e := range pending {
			b.deliverTo(ctx, h, e)
		}
	}

	<-ctx.Done()

	b.mu.Lock()
	b.handler = nil
	b.subscribed = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) deliver(ctx context.Context, e event.Event) {
	b.mu.Lock()
	h := b.handler
	if h == nil {
		b.pending = append(b.pending, e)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.deliverTo(ctx, h, e)
}

func (b *Bus) deliverTo(ctx context.Context, h event.Handler, e event.Event) {
	b.mu.Lock()
	copies := 1
	if b.duplicate {
		copies = 2
	}
	b.mu.Unlock()

	for range copies {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h event.Handler, e event.Event) {
	var err error
	for attempt := 1; attempt <= b.maxDeliver; attempt++ {
		if err = h(ctx, e); err == nil {
			return
		}
		b.logger.DebugContext(ctx, "handler failed",
			slog.String("event_id", e.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	b.mu.Lock()
	b.failed = append(b.failed, e)
	b.mu.Unlock()
}
