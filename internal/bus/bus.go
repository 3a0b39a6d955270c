// Package bus selects the message transport carrying auction events from the
// auction service to the search replica.
package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/event"
)

// Bus groups the handles returned by a transport driver.
type Bus struct {
	Publisher  event.Publisher
	Subscriber event.Subscriber
	// Closer releases the underlying connection.
	Closer io.Closer
	// Ping checks the connection health.
	Ping func(ctx context.Context) error
}

// Driver opens a transport from its configuration.
type Driver func(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (*Bus, error)

var (
	mu       sync.RWMutex
	registry = map[string]Driver{}
)

// Register adds a named transport driver.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver.
func Open(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (*Bus, error) {
	mu.RLock()
	d, ok := registry[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown bus driver %q (registered: %v)", cfg.Driver, registered())
	}
	return d(ctx, cfg, logger)
}

func registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
