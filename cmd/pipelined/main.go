package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mobilize-crm/pipeline-service/internal/adapters/cache/memory"
	contactdir "github.com/mobilize-crm/pipeline-service/internal/adapters/contacts/sqldb"
	"github.com/mobilize-crm/pipeline-service/internal/adapters/events/direct"
	"github.com/mobilize-crm/pipeline-service/internal/aggregate"
	"github.com/mobilize-crm/pipeline-service/internal/automation"
	"github.com/mobilize-crm/pipeline-service/internal/config"
	"github.com/mobilize-crm/pipeline-service/internal/engine"
	"github.com/mobilize-crm/pipeline-service/internal/guard"
	"github.com/mobilize-crm/pipeline-service/internal/registry"
	"github.com/mobilize-crm/pipeline-service/internal/server"
	"github.com/mobilize-crm/pipeline-service/internal/storage/sqldb"
	"github.com/mobilize-crm/pipeline-service/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("pipeline-service", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqldb.New(sqldb.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// The contact directory shares the store's connection.
	directory, err := contactdir.New(store.DB(), store.Dialect())
	if err != nil {
		log.Fatalf("Failed to open contact directory: %v", err)
	}

	cache := memory.New(memory.Config{
		EntriesPerTier: cfg.Cache.EntriesPerTier,
		Tiers:          []time.Duration{cfg.Cache.TTLShort, cfg.Cache.TTLMedium, cfg.Cache.TTLLong},
	})
	defer cache.Close()

	publisher, err := direct.NewPublisher(cache)
	if err != nil {
		log.Fatalf("Failed to create event publisher: %v", err)
	}
	defer publisher.Close()

	reg := registry.New(store, publisher, logger)
	eng := engine.New(store, directory, publisher, logger)
	views := aggregate.New(store, directory, cache, aggregate.TTLConfig{
		Short:  cfg.Cache.TTLShort,
		Medium: cfg.Cache.TTLMedium,
		Long:   cfg.Cache.TTLLong,
	}, logger)

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, logger)
	server.NewHandlers(reg, eng, views, guard.New(), logger).Mount(srv.Router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Automation.Enabled {
		sweeper := automation.New(store, eng, cfg.Automation.SweepInterval, logger)
		go sweeper.Run(ctx)
		logger.Info("automation sweep enabled",
			slog.Duration("interval", cfg.Automation.SweepInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	case <-sigChan:
	}

	logger.Info("Shutdown signal received, stopping server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}
