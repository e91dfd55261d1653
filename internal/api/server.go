// Package api serves the simulation state over HTTP as JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/engine"
	"tulip-market-sim/internal/models"
)

// Simulation is the part of the engine the API reads from.
type Simulation interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error)
	Trades(ctx context.Context, limit int) ([]models.Trade, error)
	AgentTrades(ctx context.Context, id uint) ([]models.Trade, error)
	Statistics(ctx context.Context) (engine.Statistics, error)
	Reset(ctx context.Context) error
	SeedRoster(ctx context.Context, seeds []config.AgentSeed) error
	SessionID() string
	StartTime() time.Time
	EndTime() time.Time
	Policy() string
}

// Server provides an HTTP interface for the simulation.
type Server struct {
	server *http.Server
	sim    Simulation
	cfg    *config.Config
	logger *zap.Logger
}

// NewServer creates a new Server listening on the configured port.
func NewServer(sim Simulation, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		sim:    sim,
		cfg:    cfg,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/prices", s.pricesHandler)
	mux.HandleFunc("GET /api/agents", s.agentsHandler)
	mux.HandleFunc("GET /api/agents/{id}/trades", s.agentTradesHandler)
	mux.HandleFunc("GET /api/trades", s.tradesHandler)
	mux.HandleFunc("GET /api/statistics", s.statisticsHandler)
	mux.HandleFunc("GET /api/end_time", s.endTimeHandler)
	mux.HandleFunc("POST /api/reset", s.resetHandler)
	return mux
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}
