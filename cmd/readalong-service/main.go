// main package for the readalong-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/access"
	"github.com/book-expert/readalong-service/internal/codec"
	"github.com/book-expert/readalong-service/internal/config"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/objectstore"
	"github.com/book-expert/readalong-service/internal/readalong"
	"github.com/book-expert/readalong-service/internal/store"
	"github.com/book-expert/readalong-service/internal/worker"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "readalong-service-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve wires the NATS transport, the stores and the engine, then runs the
// worker until a shutdown signal arrives.
func serve(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	objects, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	timingStore := store.NewTimingStore(objects, codec.New(log), log)
	textStore := store.NewTextStore(objects)

	service := readalong.New(timingStore, textStore, accessGate(cfg), log, engineOptions(cfg))

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Subjects{
		PageRequest:    cfg.NATS.PageRequestSubject,
		WordAtTime:     cfg.NATS.WordAtTimeSubject,
		TimeForWord:    cfg.NATS.TimeForWordSubject,
		PageInfo:       cfg.NATS.PageInfoSubject,
		Search:         cfg.NATS.SearchSubject,
		CacheStats:     cfg.NATS.CacheStatsSubject,
		TimingsCreated: cfg.NATS.TimingsCreatedSubject,
	}, service, timingStore, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.System("Readalong-Service initialized. Serving page requests on subject: %s",
		cfg.NATS.PageRequestSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	return nil
}

func accessGate(cfg *config.Config) core.AccessControl {
	if len(cfg.Access.AllowedTracks) == 0 {
		return access.AllowAll{}
	}

	return access.NewTrackAllowList(cfg.Access.AllowedTracks)
}

func engineOptions(cfg *config.Config) readalong.Options {
	return readalong.Options{
		DefaultPageSize:       cfg.Engine.DefaultPageSize,
		MaxConcurrentTextOps:  cfg.Engine.MaxConcurrentTextOps,
		CacheTTL:              time.Duration(cfg.Engine.CacheTTLSeconds) * time.Second,
		PageCacheSize:         cfg.Engine.PageCacheSize,
		TimingCacheSize:       cfg.Engine.TimingCacheSize,
		TextCacheSize:         cfg.Engine.TextCacheSize,
		PlanCacheSize:         cfg.Engine.PlanCacheSize,
		SpanCacheSize:         cfg.Engine.SpanCacheSize,
		SentenceMinWords:      cfg.Engine.SentenceMinWords,
		SentenceSearchForward: cfg.Engine.SentenceSearchForward,
		SentenceSearchBack:    cfg.Engine.SentenceSearchBack,
		MappingWarnRatio:      cfg.Engine.MappingWarnRatio,
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
