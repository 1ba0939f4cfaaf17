package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailroom/internal/config"
	"mailroom/internal/database"
	"mailroom/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := cfg.SetupLogger()

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	logger.Info().Msg("Database connection established successfully")

	// Ensure tables and unique indexes exist
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.NewStore(db).Migrate(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("Database migration failed")
	}
	cancel()

	// Create and initialize server
	srv, err := server.New(cfg, db, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Server initialization failed")
	}
	srv.Initialize()

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	// Start server
	if err := srv.Start(); err != nil {
		logger.Info().Err(err).Msg("Server stopped")
	}
}
