package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/logger"
	"tulip-market-sim/internal/viewer"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger, "ui")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := viewer.NewClient(&cfg.Viewer, log)
	log.Info("Watching simulator", zap.String("base_url", cfg.Viewer.BaseURL))

	if err := viewer.New(client, &cfg.Viewer, log).Run(ctx); err != nil {
		log.Fatal("Viewer failed", zap.Error(err))
	}
}
