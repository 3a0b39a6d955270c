package natsbus_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/jensholdgaard/auctionsync/internal/bus/natsbus"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/event"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		typ  event.Type
		want string
	}{
		{event.AuctionCreated, "auctions.created.a1"},
		{event.AuctionUpdated, "auctions.updated.a1"},
		{event.AuctionDeleted, "auctions.deleted.a1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got := natsbus.Subject("auctions", event.Event{Type: tt.typ, AuctionID: "a1"})
			if got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestBus(t *testing.T) (*natsbus.Bus, config.BusConfig) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcnats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		t.Fatalf("starting nats container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting to nats: %v", err)
	}
	t.Cleanup(nc.Close)

	cfg := config.Default().Bus
	cfg.URL = url
	cfg.AckWait = 2 * time.Second
	cfg.Workers = 2

	b, err := natsbus.New(ctx, nc, cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, cfg
}

func TestBus_PublishSubscribe(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := store.Auction{ID: "a1", Seller: "bob", Status: store.StatusLive, UpdatedAt: time.Now().UTC().Truncate(time.Microsecond)}
	created, err := event.Created(a)
	if err != nil {
		t.Fatal(err)
	}
	// Same message id twice: the stream keeps one copy.
	for range 2 {
		if err := b.Publish(ctx, created); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := b.Publish(ctx, event.Deleted("a1", a.UpdatedAt.Add(time.Microsecond))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var (
		mu       sync.Mutex
		received []event.Event
		failOnce = true
	)
	done := make(chan struct{})
	subCtx, stop := context.WithCancel(ctx)
	go func() {
		defer close(done)
		_ = b.Subscribe(subCtx, func(_ context.Context, e event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			if e.Type == event.AuctionDeleted && failOnce {
				failOnce = false
				return context.DeadlineExceeded
			}
			received = append(received, e)
			return nil
		})
	}()

	deadline := time.After(20 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d events, want 2", n)
		case <-time.After(100 * time.Millisecond):
		}
	}
	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d events, want 2 (duplicate publish should be de-duplicated)", len(received))
	}
	if failOnce {
		t.Error("expected the failed delete to be redelivered")
	}
}
