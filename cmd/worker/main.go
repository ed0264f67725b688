package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/database"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
	"github.com/earnsigma/go_earnsigma/internal/upload"
	"github.com/earnsigma/go_earnsigma/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Worker starting",
		"poll_interval", cfg.Worker.PollInterval,
		"concurrency", cfg.Worker.Concurrency,
		"max_retry_attempts", cfg.Retry.MaxAttempts,
		"upload_poll_timeout", cfg.Polling.Timeout)

	if cfg.Backend.ServiceToken == "" {
		logger.Warn(ctx, "EARNSIGMA_SERVICE_TOKEN is not set; status requests will be unauthenticated")
	}

	// Initialize database connection
	dbWrapper, err := database.InitFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbWrapper.Close()

	logger.Info(ctx, "Database connection established")

	// Initialize queue client
	jobQueue, err := queue.NewDBQueue(dbWrapper.DB)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	defer jobQueue.Close()

	// Initialize repositories
	uploadRepo := repository.NewTrackedUploadRepository(dbWrapper.DB)
	snapshotRepo := repository.NewStatusSnapshotRepository(dbWrapper.DB)

	api := client.NewClient(client.Config{
		BaseURL:     client.ResolveAPIBaseURL(cfg.Backend.URL, "", cfg.Backend.DeploymentHost),
		Timeout:     cfg.Backend.Timeout,
		TokenSource: client.StaticToken(cfg.Backend.ServiceToken),
	})

	backoffDelays := worker.BackoffDelays(cfg.Retry.BackoffBase, cfg.Retry.MaxAttempts)

	logger.Info(ctx, "Retry configuration",
		"max_attempts", cfg.Retry.MaxAttempts,
		"backoff_base", cfg.Retry.BackoffBase,
		"backoff_delays", backoffDelays)

	processor := worker.NewProcessor(worker.ProcessorConfig{
		Queue:        jobQueue,
		UploadRepo:   uploadRepo,
		SnapshotRepo: snapshotRepo,
		Recorder:     repository.NewObservationRecorder(uploadRepo, snapshotRepo),
		StatusSource: api,
		PollConfig: upload.PollConfig{
			InitialInterval: cfg.Polling.InitialInterval,
			MaxInterval:     cfg.Polling.MaxInterval,
			Timeout:         cfg.Polling.Timeout,
		},
		PollInterval:             cfg.Worker.PollInterval,
		Concurrency:              cfg.Worker.Concurrency,
		MaxAttempts:              cfg.Retry.MaxAttempts,
		ExponentialBackoffDelays: backoffDelays,
	})

	// Start worker in a goroutine
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- processor.Start(ctx)
	}()

	logger.Info(ctx, "Worker started successfully")

	select {
	case err := <-workerErrors:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "Worker error", "error", err.Error())
		}

	case <-ctx.Done():
		logger.Info(ctx, "Received shutdown signal")

		// Wait for in-flight jobs with a timeout
		shutdownTimeout := time.NewTimer(30 * time.Second)
		defer shutdownTimeout.Stop()

		select {
		case <-workerErrors:
			logger.Info(ctx, "Worker stopped gracefully")
		case <-shutdownTimeout.C:
			logger.Warn(ctx, "Worker shutdown timeout exceeded, forcing exit")
		}
	}

	logger.Info(ctx, "Worker shutdown complete")
}
