package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/KevinKickass/OpenWaterCore/internal/storage"
	"github.com/KevinKickass/OpenWaterCore/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	ctx := context.Background()

	// PostgreSQL nur für den Write-only Cache
	var db *storage.PostgresClient
	if cfg.Storage.Driver == "postgres" {
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		logger.Info("Database connected successfully")
	}

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(ctx, db, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize system", zap.Error(err))
	}

	// System starten
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Device.Timeout+5*time.Second)
	err = lifecycle.Start(connectCtx)
	cancel()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		lifecycle.Shutdown(shutdownCtx)
		cancel()
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenWaterCore started successfully")

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenWaterCore stopped successfully")
}
