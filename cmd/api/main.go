package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/database"
	"github.com/earnsigma/go_earnsigma/internal/handlers"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	apiBaseURL := client.ResolveAPIBaseURL(cfg.Backend.URL, "", cfg.Backend.DeploymentHost)

	logger.Info(ctx, "Gateway starting",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"auth_enabled", cfg.Auth.Enabled,
		"api_base_url", apiBaseURL,
		"frontend_url", cfg.Frontend.URL)

	// Initialize database connection
	dbWrapper, err := database.InitFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbWrapper.Close()

	logger.Info(ctx, "Database connection established")

	// Run database migrations
	if err := database.RunMigrations(ctx, dbWrapper, os.Stdout); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	logger.Info(ctx, "Database migrations completed")

	// Initialize queue client
	jobQueue, err := queue.NewDBQueue(dbWrapper.DB)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	defer jobQueue.Close()

	// Initialize repositories
	uploadRepo := repository.NewTrackedUploadRepository(dbWrapper.DB)
	snapshotRepo := repository.NewStatusSnapshotRepository(dbWrapper.DB)

	// Backend client acting on behalf of the signed-in creator
	api := client.NewClient(client.Config{
		BaseURL:            apiBaseURL,
		Timeout:            cfg.Backend.Timeout,
		Store:              repository.NewCacheStore(dbWrapper.DB),
		EntitlementsTTL:    cfg.Entitlements.CacheTTL,
		CheckoutAttemptTTL: cfg.Entitlements.CheckoutAttemptTTL,
		AdminWhoAmITTL:     cfg.Entitlements.AdminWhoAmITTL,
	})

	router, err := handlers.NewRouter(handlers.RouterConfig{
		Config:  cfg,
		Uploads: handlers.NewUploadHandler(uploadRepo, snapshotRepo, jobQueue),
		Stats:   handlers.NewStatsHandler(uploadRepo, snapshotRepo, jobQueue),
		Billing: handlers.NewBillingHandler(api),
		Access:  api,
		Health:  []handlers.HealthChecker{dbWrapper, jobQueue},
	})
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", "address", addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}

	case sig := <-sigChan:
		logger.Info(ctx, "Received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "Server shutdown error", "error", err.Error())
			server.Close()
		}

		logger.Info(ctx, "Server shutdown complete")
	}
}
