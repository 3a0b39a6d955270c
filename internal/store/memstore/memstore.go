// Package memstore provides in-process implementations of the authoritative
// and replica stores. It backs tests and single-binary development setups.
package memstore

import (
	"context"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

func init() {
	store.Register("memory", openAuctions)
	store.RegisterReplica("memory", openReplica)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func ping(context.Context) error { return nil }

func openAuctions(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return &store.Repositories{
		Auctions: NewAuctionRepo(clk),
		Closer:   nopCloser{},
		Ping:     ping,
	}, nil
}

func openReplica(_ context.Context, _ config.ReplicaConfig) (*store.ReplicaRepositories, error) {
	return &store.ReplicaRepositories{
		Records: NewReplicaRepo(),
		Closer:  nopCloser{},
		Ping:    ping,
	}, nil
}
