// Command auctionsvc serves the authoritative auction API and publishes an
// event for every committed mutation.
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

	"github.com/jensholdgaard/auctionsync/internal/auction"
	"github.com/jensholdgaard/auctionsync/internal/bus"
	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/health"
	"github.com/jensholdgaard/auctionsync/internal/httpapi"
	"github.com/jensholdgaard/auctionsync/internal/store"
	"github.com/jensholdgaard/auctionsync/internal/telemetry"

	// Register drivers so they are available via store.Open and bus.Open.
	_ "github.com/jensholdgaard/auctionsync/internal/bus/membus"
	_ "github.com/jensholdgaard/auctionsync/internal/bus/natsbus"
	_ "github.com/jensholdgaard/auctionsync/internal/store/memstore"
	_ "github.com/jensholdgaard/auctionsync/internal/store/postgres"
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

	logger := tp.Logger.With(slog.String("component", "auctionsvc"))
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	b, err := bus.Open(ctx, cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("opening bus (driver=%s): %w", cfg.Bus.Driver, err)
	}
	defer b.Closer.Close()
	logger.InfoContext(ctx, "connected to bus", slog.String("driver", cfg.Bus.Driver))

	mgr, err := auction.NewManager(repos.Auctions, b.Publisher, logger, tp.TracerProvider, tp.MeterProvider, clk,
		auction.WithPublishTimeout(cfg.Bus.PublishTimeout))
	if err != nil {
		return fmt.Errorf("creating auction manager: %w", err)
	}

	// The bus is degradable: mutations still commit while it is down and
	// the search service catches up later.
	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "bus", Check: b.Ping, Degradable: true},
	)

	router := httpapi.NewRouter(logger, healthHandler, httpapi.NewAuctionHandler(mgr, logger))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "auctionsvc"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serveErr <- listenErr
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctionsvc is running", slog.String("version", version))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
