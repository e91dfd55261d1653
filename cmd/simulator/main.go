package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tulip-market-sim/internal/api"
	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/database"
	"tulip-market-sim/internal/engine"
	"tulip-market-sim/internal/logger"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger, "simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Configuration loaded", zap.String("market", cfg.Market.Name))

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := engine.NewEngine(log, &cfg, db)
	if err := sim.Initialize(ctx); err != nil {
		log.Fatal("Failed to initialize market", zap.Error(err))
	}

	snap, err := sim.Snapshot(ctx)
	if err != nil {
		log.Fatal("Failed to read market state", zap.Error(err))
	}
	if len(snap.Agents) == 0 {
		if err := sim.SeedRoster(ctx, cfg.Agents); err != nil {
			log.Fatal("Failed to register agents", zap.Error(err))
		}
		log.Info("Registered configured agents", zap.Int("count", len(cfg.Agents)))
	}

	server := api.NewServer(sim, &cfg, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		if err := sim.Run(gctx); err != nil {
			return err
		}
		// Keep serving the final state until shutdown is requested.
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Simulator stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Simulator has been shut down.")
}
