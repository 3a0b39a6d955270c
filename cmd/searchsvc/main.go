// Command searchsvc maintains the search replica from auction events and
// catch-up pulls, and serves read-only queries against it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auctionsync/internal/bus"
	"github.com/jensholdgaard/auctionsync/internal/catchup"
	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/health"
	"github.com/jensholdgaard/auctionsync/internal/httpapi"
	"github.com/jensholdgaard/auctionsync/internal/leader"
	"github.com/jensholdgaard/auctionsync/internal/replica"
	"github.com/jensholdgaard/auctionsync/internal/store"
	"github.com/jensholdgaard/auctionsync/internal/telemetry"

	// Register drivers so they are available via store.OpenReplica and bus.Open.
	_ "github.com/jensholdgaard/auctionsync/internal/bus/membus"
	_ "github.com/jensholdgaard/auctionsync/internal/bus/natsbus"
	_ "github.com/jensholdgaard/auctionsync/internal/store/memstore"
	_ "github.com/jensholdgaard/auctionsync/internal/store/redisstore"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Telemetry.ServiceVersion = version

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger.With(slog.String("component", "searchsvc"))
	clk := clock.Real{}

	repos, err := store.OpenReplica(ctx, cfg.Replica)
	if err != nil {
		return fmt.Errorf("opening replica store (driver=%s): %w", cfg.Replica.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to replica store", slog.String("driver", cfg.Replica.Driver))

	b, err := bus.Open(ctx, cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("opening bus (driver=%s): %w", cfg.Bus.Driver, err)
	}
	defer b.Closer.Close()

	source := catchup.NewHTTPSource(cfg.Sync.AuctionServiceURL, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	syncer, err := catchup.NewSyncer(source, repos.Records, cfg.Sync, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating catch-up syncer: %w", err)
	}

	consumer, err := replica.NewConsumer(repos.Records, b.Subscriber, syncer, cfg.Bus.Workers, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating replica consumer: %w", err)
	}

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "replica", Check: repos.Ping},
		health.Checker{Name: "bus", Check: b.Ping, Degradable: true},
		health.Checker{Name: "sync", Check: syncer.Healthy, Degradable: true},
	)

	router := httpapi.NewRouter(logger, healthHandler, httpapi.NewSearchHandler(repos.Records, logger))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "searchsvc"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", listenErr)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		healthHandler.SetReady(false)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", slog.Any("error", err))
		}
		return nil
	})

	// Startup catch-up runs inside the consumer on every instance.
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		if cfg.LeaderElection.Enabled {
			logger.InfoContext(gctx, "leader election enabled, recurring catch-up waits for leadership")
		}
		if err := leader.Gate(gctx, cfg.LeaderElection, logger, func(ctx context.Context) {
			syncer.Loop(ctx, cfg.Sync.Interval)
		}); err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		return nil
	})

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "searchsvc is running", slog.String("version", version))

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
