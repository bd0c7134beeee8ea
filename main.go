package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-journal/config"
	"trading-journal/internal/app"
	"trading-journal/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		MaxSizeMB:   cfg.LoggingConfig.MaxSizeMB,
		MaxBackups:  cfg.LoggingConfig.MaxBackups,
		MaxAgeDays:  cfg.LoggingConfig.MaxAgeDays,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info().Msg("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	logger.Info().Msg("Database migrations completed")

	server := a.NewServer()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	logger.Info().
		Str("timezone", cfg.DisciplineConfig.DefaultTimezone).
		Str("late_cutoff", cfg.DisciplineConfig.LateCutoff).
		Bool("auth", cfg.AuthConfig.Enabled).
		Bool("redis", a.Cache != nil).
		Msg("Trading journal started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server error")
		}
	}

	timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down server")
	}
	cancel()

	logger.Info().Msg("Shutdown complete")
}
