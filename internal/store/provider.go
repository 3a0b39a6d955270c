package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/config"
)

// Repositories groups the authoritative repositories returned by a driver.
type Repositories struct {
	Auctions AuctionRepository
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// ReplicaRepositories groups the replica repositories returned by a driver.
type ReplicaRepositories struct {
	Records ReplicaRepository
	Closer  io.Closer
	Ping    func(ctx context.Context) error
}

// Driver opens the authoritative store.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error)

// ReplicaDriver opens the replica store.
type ReplicaDriver func(ctx context.Context, cfg config.ReplicaConfig) (*ReplicaRepositories, error)

var (
	mu              sync.RWMutex
	registry        = map[string]Driver{}
	replicaRegistry = map[string]ReplicaDriver{}
)

// Register adds a named authoritative store driver.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = d
}

// RegisterReplica adds a named replica store driver.
func RegisterReplica(name string, d ReplicaDriver) {
	mu.Lock()
	defer mu.Unlock()
	replicaRegistry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error) {
	mu.RLock()
	d, ok := registry[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, names(registry))
	}
	return d(ctx, cfg, clk)
}

// OpenReplica selects the replica driver specified in cfg.Driver.
func OpenReplica(ctx context.Context, cfg config.ReplicaConfig) (*ReplicaRepositories, error) {
	mu.RLock()
	d, ok := replicaRegistry[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown replica driver %q (registered: %v)", cfg.Driver, names(replicaRegistry))
	}
	return d(ctx, cfg)
}

func names[T any](m map[string]T) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
