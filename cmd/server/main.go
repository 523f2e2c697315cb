package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/storage"
	"github.com/KevinKickass/OpenPanelCore/internal/system"
	"github.com/docopt/docopt-go"
	"go.uber.org/zap"
)

const ServerVersion = "0.1.0"

func main() {
	usage := `OpenPanelCore server.

Usage:
    server [--config=<path>]

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    Configuration file [default: configs/config.yaml].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ServerVersion)
	if err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}
	configPath, _ := opts.String("--config")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", configPath))

	store, err := storage.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open project store", zap.Error(err))
	}
	defer store.Close()

	logger.Info("Project store opened", zap.String("driver", cfg.Database.Driver))

	lifecycle, err := system.NewLifecycleManager(store, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create system", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenPanelCore started successfully")

	// Graceful shutdown on signal or on a shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("OpenPanelCore stopped via API")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenPanelCore stopped successfully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
