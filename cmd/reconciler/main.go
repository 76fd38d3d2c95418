package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/api"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/cache"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/influxdb"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/ingest"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/instrumentation"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/store"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/topology"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/window"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reconciler_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	catalog, hierarchy, err := loadTopology(cfg.Topology, logger)
	if err != nil {
		return err
	}
	logger.Info("topology_loaded",
		"meters", catalog.Len(),
		"edges", len(hierarchy.Edges()),
		"roots", hierarchy.Roots(),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.NewMetrics(reg)

	readings := store.New(cfg.Window.Retention)
	pipeline := ingest.NewPipeline(catalog, readings, loc, logger, metrics)

	anchor, err := window.ParseAnchor(cfg.Window.Anchor)
	if err != nil {
		return err
	}
	engine := window.NewEngine(cfg.Window.Length, cfg.Window.Slack, anchor)

	var (
		sinks     []processor.Sink
		snapshots api.SnapshotCache
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.NewClient(ctx, cfg.InfluxDB, logger)
		if err != nil {
			return err
		}
		// closed after the scheduler has stopped publishing
		defer influxClient.Close()
		sinks = append(sinks, influxClient)
	}
	if cfg.Redis.Enabled {
		publisher, err := cache.NewRedisPublisher(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		snapshots = publisher
	}

	proc := processor.NewProcessor(processor.Deps{
		Pipeline:  pipeline,
		Store:     readings,
		Engine:    engine,
		Catalog:   catalog,
		Hierarchy: hierarchy,
		Sinks:     sinks,
		Metrics:   metrics,
		Logger:    logger,
	}, cfg.Processor)

	apiServer := api.NewServer(proc, hierarchy, catalog, reg, logger)
	if snapshots != nil {
		apiServer.WithCache(snapshots)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		logger.Info("starting_consumers", "count", cfg.Kafka.ConsumerCount, "topic", cfg.Kafka.Topic)
		for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
			consumer, err := kafka.NewConsumer(fmt.Sprintf("consumer-%d", i), cfg.Kafka, proc.ProcessMessages, logger)
			if err != nil {
				return fmt.Errorf("failed to create consumer %d: %w", i, err)
			}
			g.Go(func() error {
				defer consumer.Close()
				return consumer.Consume(gctx)
			})
		}
	}

	g.Go(func() error {
		if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("http_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown_timed_out")
		}
	}

	proc.Stop()
	return runErr
}

// loadTopology reads the catalog and hierarchy. Validation issues are logged
// and the service runs degraded; only unreadable sources are fatal.
func loadTopology(cfg config.TopologyConfig, logger *slog.Logger) (*topology.Catalog, *topology.Hierarchy, error) {
	var (
		catalog   *topology.Catalog
		hierarchy *topology.Hierarchy
		loadErr   error
	)
	if cfg.File != "" {
		catalog, hierarchy, loadErr = topology.LoadYAML(cfg.File)
	} else {
		var catErr, hierErr error
		catalog, catErr = topology.LoadCatalogCSV(cfg.CatalogFile)
		hierarchy, hierErr = topology.LoadHierarchyCSV(cfg.HierarchyFile)
		loadErr = errors.Join(catErr, hierErr)
	}
	if catalog == nil || hierarchy == nil {
		return nil, nil, loadErr
	}
	if loadErr != nil {
		logger.Warn("topology_validation", "error", loadErr)
	}
	if err := topology.Validate(catalog, hierarchy); err != nil {
		logger.Warn("topology_validation", "error", err)
	}
	return catalog, hierarchy, nil
}
