package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/aggregate"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/api"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/config"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/influxdb"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/kafka"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/obs"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/ocr"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/pipeline"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/postgres"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/processor"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

func main() {
	if err := run(); err != nil {
		obs.Logger.Error("startup_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.InitLogger(cfg.LogLevel)
	logger := obs.Logger

	// Broken fuel tables would silently drop prices, refuse to start instead
	if err := fuel.Validate(); err != nil {
		return fmt.Errorf("fuel taxonomy: %w", err)
	}

	// Create context that can be canceled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Station store
	var (
		st      store.Store
		closeDB = func() {}
	)
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return err
		}
		closeDB = pool.Close
		if cfg.Store.EnsureSchema {
			if err := postgres.EnsureSchema(ctx, pool, cfg.Store.EnableGeoIndex); err != nil {
				pool.Close()
				return err
			}
		}
		st = postgres.NewStationRepository(pool)
	default:
		logger.Warn("using_memory_store")
		st = store.NewMemory()
	}

	// Event transport
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		closeDB()
		return err
	}

	// Initialize InfluxDB client
	var (
		influxClient *influxdb.Client
		opts         = []pipeline.Option{pipeline.WithImagesDir(cfg.Pipeline.ImagesDir), pipeline.WithLogger(logger)}
		outcomes     processor.OutcomeWriter
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.NewClient(ctx, cfg.InfluxDB, logger)
		if err != nil {
			_ = producer.Close()
			closeDB()
			return err
		}
		opts = append(opts, pipeline.WithHistory(influxClient))
		outcomes = influxClient
	}

	var recognizer ocr.Recognizer = ocr.NewTesseract(cfg.OCR.Binary, cfg.OCR.Language)
	if cfg.OCR.Engine == "sidecar" {
		recognizer = ocr.Sidecar{}
	}

	pipe := pipeline.New(
		recognizer,
		aggregate.New(cfg.Pipeline.Location(), cfg.Pipeline.ParallelExtraction, logger),
		st,
		events.NewPublisher(producer),
		opts...,
	)

	// Initialize processor
	proc := processor.NewProcessor(pipe, outcomes, cfg.Processor, logger)

	// Handle termination signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	closeOutputs := func() {
		if err := producer.Close(); err != nil {
			logger.Error("producer_close_failed", "error", err)
		}
		if influxClient != nil {
			influxClient.Close()
		}
		closeDB()
	}

	// Initialize consumers
	logger.Info("starting_consumers", "count", cfg.Kafka.ConsumerCount, "topic", cfg.Kafka.Topic)

	stopConsumers, err := startConsumers(ctx, cfg.Kafka.ConsumerCount, func(id string) (groupConsumer, error) {
		return kafka.NewConsumer(id, cfg.Kafka, proc, logger)
	}, logger)
	if err != nil {
		proc.Stop()
		closeOutputs()
		return err
	}

	// HTTP submission API
	var app = api.NewApp(api.NewStationHandler(pipe, st, proc.Totals))
	if cfg.HTTP.Enabled {
		go func() {
			logger.Info("http_listening", "addr", cfg.HTTP.Addr)
			if err := app.Listen(cfg.HTTP.Addr); err != nil {
				logger.Error("http_server_failed", "error", err)
			}
		}()
	}

	// Wait for termination signal
	<-sigChan
	logger.Info("shutting_down")

	// Cancel context to stop consumers
	cancel()

	// Set a deadline for clean shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cfg.HTTP.Enabled {
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		stopConsumers()
		// Queued stations still finish before the outputs close
		proc.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("consumers_stopped")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown_timed_out")
	}

	closeOutputs()

	logger.Info("shutdown_complete")
	return nil
}

// groupConsumer is the part of kafka.Consumer the startup code drives.
type groupConsumer interface {
	Consume(ctx context.Context) error
	Close() error
}

// startConsumers runs n consumers until ctx ends. If one cannot be created
// the ones already running are stopped and closed before the error returns.
// The returned stop func does the same for a full set.
func startConsumers(ctx context.Context, n int, newConsumer func(id string) (groupConsumer, error), logger *slog.Logger) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var (
		wg        sync.WaitGroup
		consumers = make([]groupConsumer, 0, n)
	)
	stop := func() {
		cancel()
		wg.Wait()
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				logger.Error("consumer_close_failed", "error", err)
			}
		}
	}

	for i := 0; i < n; i++ {
		c, err := newConsumer(fmt.Sprintf("consumer-%d", i))
		if err != nil {
			stop()
			return nil, fmt.Errorf("create consumer %d: %w", i, err)
		}
		consumers = append(consumers, c)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := c.Consume(ctx); err != nil {
				logger.Error("consumer_stopped_with_error", "consumer", id, "error", err)
			}
		}(i)
	}
	return stop, nil
}
