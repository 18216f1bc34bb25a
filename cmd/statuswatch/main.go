// Package main wires together the status monitoring service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/api"
	"github.com/visibly-ai/statuswatch/internal/backend/memory"
	"github.com/visibly-ai/statuswatch/internal/backend/postgres"
	"github.com/visibly-ai/statuswatch/internal/clock/system"
	"github.com/visibly-ai/statuswatch/internal/config"
	"github.com/visibly-ai/statuswatch/internal/dispatch"
	"github.com/visibly-ai/statuswatch/internal/dispatch/sinks"
	"github.com/visibly-ai/statuswatch/internal/entity"
	pubsubfeed "github.com/visibly-ai/statuswatch/internal/feed/pubsub"
	"github.com/visibly-ai/statuswatch/internal/logging"
	"github.com/visibly-ai/statuswatch/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		backend entity.Backend
		store   sinks.TransitionStore
	)
	switch cfg.Backend.Provider {
	case "postgres":
		pg, err := postgres.NewBackend(ctx, postgres.Config{
			DSN:          cfg.Backend.DSN,
			StatusTable:  cfg.Backend.StatusTable,
			HistoryTable: cfg.Backend.HistoryTable,
			MaxConns:     cfg.Backend.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres backend: %w", err)
		}
		defer pg.Close()
		backend = pg
		store = pg
	default:
		backend = memory.NewBackend()
	}

	var feed entity.ChangeFeed
	switch cfg.Feed.Provider {
	case "pubsub":
		psFeed, err := pubsubfeed.New(ctx, cfg.Feed.ProjectID, cfg.Feed.SubscriptionID, logger.Named("feed"))
		if err != nil {
			return fmt.Errorf("init pubsub feed: %w", err)
		}
		defer func() {
			if closeErr := psFeed.Close(); closeErr != nil {
				logger.Warn("feed close failed", zap.Error(closeErr))
			}
		}()
		feed = psFeed
	case "memory":
		feed = memory.NewFeed()
	case "none":
		// Poll-only operation.
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(promReg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}

	sinkList := []dispatch.Sink{
		sinks.NewLogSink(logger.Named("transitions")),
		promSink,
	}
	if store != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(store, logger.Named("store")))
	}

	disp := dispatch.New(dispatch.Config{
		BufferSize: cfg.Dispatch.BufferSize,
		Logger:     logger.Named("dispatch"),
	}, sinkList...)

	registry := watch.NewRegistry(backend, feed, disp, system.New(), watch.Config{
		PollActiveInterval: cfg.Monitor.PollActiveInterval,
		PollQueuedInterval: cfg.Monitor.PollQueuedInterval,
		SweepInterval:      cfg.Monitor.SweepInterval,
		StalenessThreshold: cfg.Monitor.StalenessThreshold,
		FeedRetryBase:      cfg.Monitor.FeedRetryBase,
		FeedRetryCap:       cfg.Monitor.FeedRetryCap,
		MaxFeedAttempts:    cfg.Monitor.MaxFeedAttempts,
		QueryTimeout:       cfg.Monitor.QueryTimeout,
	}, logger.Named("watch"))

	readyCheck := func(ctx context.Context) error {
		_, err := backend.GetStatuses(ctx, nil)
		return err
	}
	apiServer := api.NewServer(registry, logger.Named("api"),
		api.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})),
		api.WithReadyCheck(readyCheck),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error("registry shutdown error", zap.Error(err))
	}
	if err := disp.Close(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
