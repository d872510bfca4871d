package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geofetch/geofetch/internal/api"
	"github.com/geofetch/geofetch/internal/evalscript"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/job"
	"github.com/geofetch/geofetch/internal/regions"
	"github.com/geofetch/geofetch/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve exposes job submission, collection and region listings, health and metrics over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting geofetch API",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	creds, err := hub.ReadCredentials(cfg.Auth.CredentialsFile)
	if err != nil {
		return fmt.Errorf("%w: %v", hub.ErrAuth, err)
	}

	client := hub.NewClient(ctx, creds, hub.Options{
		BaseURL:         cfg.API.BaseURL,
		TokenURL:        cfg.API.TokenURL,
		Timeout:         cfg.API.Timeout,
		RetryAttempts:   cfg.API.RetryAttempts,
		RetryBackoff:    cfg.API.RetryBackoff,
		RetryMaxBackoff: cfg.API.RetryMaxBackoff,
	}).WithLogger(logger)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	logger.Info("loaded collections", "count", registry.Count())

	regionStore := regions.NewStore()
	if cfg.Regions.Dir != "" {
		if err := regionStore.LoadDir(cfg.Regions.Dir); err != nil {
			return fmt.Errorf("failed to load regions: %w", err)
		}
	}
	logger.Info("loaded regions", "count", regionStore.Count())

	st, err := store.Open(ctx, cfg.Store.BucketURL)
	if err != nil {
		return fmt.Errorf("%w: %v", errStorage, err)
	}
	defer st.Close()

	runner := job.NewRunner(registry, evalscript.NewResolver().WithLogger(logger), client, st.WithLogger(logger), job.Options{
		Workers:     cfg.Download.Workers,
		RateLimit:   cfg.Download.RateLimit,
		MaxPixelDim: cfg.Download.MaxPixelDim,
		KeepTiles:   cfg.Download.KeepTiles,
		// The progress bar is terminal-only; serve mode logs instead.
		Progress: false,
	}).WithLogger(logger)

	handlers := api.NewHandlers(runner, registry, regionStore, logger)
	router := api.NewRouter(handlers, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
