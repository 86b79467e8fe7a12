package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/config"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/logging"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/replay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/sequence"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.Load(os.Getenv("WORKSHOP_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Int("ingestKeys", len(cfg.Server.IngestKeys)),
		zap.Float64("ingestRatePerSecond", cfg.Server.IngestRate),
		zap.Int("maxCachedItemsPerQuery", cfg.Relay.MaxCachedItemsPerQuery),
		zap.Int("sendBufferSize", cfg.Relay.SendBufferSize),
		zap.Bool("zmqEnabled", cfg.Feed.ZMQEnabled),
	)

	// Relay components
	var seq *sequence.Generator
	if cfg.Relay.InstanceID != "" {
		seq = sequence.NewWithInstance(cfg.Relay.InstanceID)
	} else {
		seq = sequence.New()
	}

	cache := replay.New(cfg.Relay.MaxCachedItemsPerQuery)
	hub := relay.NewHub(logger, relay.NewReloader(cache, seq), cfg.Relay.SendBufferSize)
	gate := relay.NewGate(hub, cache, seq, logger)

	srv := server.NewServer(hub, gate, cache, seq, &cfg.Server, logger)
	router := server.NewRouter(srv, logger)

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	if cfg.Feed.ZMQEnabled {
		bridge := feed.NewBridge(gate, cfg.Feed, logger)
		group.Go(func() error {
			return bridge.Run(groupCtx)
		})
	}

	group.Go(func() error {
		logger.Info("starting relay",
			zap.String("addr", httpServer.Addr),
			zap.String("instance", seq.Instance()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down relay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("relay stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("relay stopped")
	return 0
}
