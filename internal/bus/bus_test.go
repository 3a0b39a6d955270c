package bus_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jensholdgaard/auctionsync/internal/bus"
	_ "github.com/jensholdgaard/auctionsync/internal/bus/membus"
	"github.com/jensholdgaard/auctionsync/internal/config"
)

func TestOpen_Memory(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Driver = "memory"

	b, err := bus.Open(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Closer.Close()

	if b.Publisher == nil || b.Subscriber == nil {
		t.Fatal("expected publisher and subscriber")
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Driver = "carrier-pigeon"

	if _, err := bus.Open(context.Background(), cfg, slog.Default()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestCloserFunc(t *testing.T) {
	called := false
	c := bus.CloserFunc(func() error { called = true; return nil })
	if err := c.Close(); err != nil || !called {
		t.Errorf("Close() = %v, called = %v", err, called)
	}
}
