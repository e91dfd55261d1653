package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tulip-market-sim/internal/engine"
	"tulip-market-sim/internal/registry"
	"tulip-market-sim/internal/strategy"
)

// moneyPlaces is the precision funds and asset values are reported with.
const moneyPlaces = 2

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Session       string  `json:"session"`
	Market        string  `json:"market"`
	Policy        string  `json:"policy"`
	K             float64 `json:"k"`
	Volume        int64   `json:"volume"`
	Price         float64 `json:"price"`
	PreviousPrice float64 `json:"previous_price"`
	Turns         int64   `json:"turns"`
	StartTime     string  `json:"start_time"`
	Uptime        string  `json:"uptime"`
}

// AgentEntry is one row of the leaderboard served by /api/agents.
type AgentEntry struct {
	Rank        int             `json:"rank"`
	ID          uint            `json:"id"`
	Name        string          `json:"name"`
	Strategy    strategy.Kind   `json:"strategy"`
	Funds       decimal.Decimal `json:"funds"`
	Holdings    int64           `json:"holdings"`
	TotalAssets decimal.Decimal `json:"total_assets"`
}

// EndTimeResponse is the body of /api/end_time. EndTime is null for open-ended runs.
type EndTimeResponse struct {
	EndTime *time.Time `json:"end_time"`
}

// ResetResponse is the body of /api/reset.
type ResetResponse struct {
	Session string `json:"session"`
	Agents  int    `json:"agents"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(moneyPlaces)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "Failed to read market state", err)
		return
	}

	start := s.sim.StartTime()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Session:       s.sim.SessionID(),
		Market:        s.cfg.Market.Name,
		Policy:        s.sim.Policy(),
		K:             snap.K,
		Volume:        snap.Volume,
		Price:         snap.Price,
		PreviousPrice: snap.PreviousPrice,
		Turns:         snap.Turns,
		StartTime:     start.Format(time.RFC3339),
		Uptime:        time.Since(start).Round(time.Second).String(),
	})
}

// pricesHandler returns the latest price observations, oldest first.
func (s *Server) pricesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	history, err := s.sim.PriceHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to read price history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

// agentsHandler returns every agent ranked by total assets.
func (s *Server) agentsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "Failed to read agents", err)
		return
	}

	board := snap.Leaderboard()
	entries := make([]AgentEntry, 0, len(board))
	for i, a := range board {
		entries = append(entries, AgentEntry{
			Rank:        i + 1,
			ID:          a.ID,
			Name:        a.Name,
			Strategy:    a.Strategy,
			Funds:       money(a.Funds),
			Holdings:    a.Holdings,
			TotalAssets: money(a.TotalAssets),
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// tradesHandler returns recent trades, newest first.
func (s *Server) tradesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, s.cfg.Market.RecentTrades)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	trades, err := s.sim.Trades(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to get trades", err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// agentTradesHandler returns one agent's full trade history, oldest first.
func (s *Server) agentTradesHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("agent id %q must be a non-negative integer", raw)})
		return
	}
	trades, err := s.sim.AgentTrades(r.Context(), uint(id))
	if errors.Is(err, registry.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("agent %d not found", id)})
		return
	}
	if err != nil {
		s.fail(w, "Failed to get agent trades", err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sim.Statistics(r.Context())
	if err != nil {
		s.fail(w, "Failed to calculate statistics", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) endTimeHandler(w http.ResponseWriter, r *http.Request) {
	var resp EndTimeResponse
	if end := s.sim.EndTime(); !end.IsZero() {
		resp.EndTime = &end
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// resetHandler wipes the market and re-registers the configured roster.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.sim.Reset(ctx); err != nil {
		s.fail(w, "Failed to reset market", err)
		return
	}
	if err := s.sim.SeedRoster(ctx, s.cfg.Agents); err != nil {
		s.fail(w, "Failed to register agents", err)
		return
	}

	session := s.sim.SessionID()
	s.logger.Info("Market reset over API",
		zap.String("session", session),
		zap.Int("agents", len(s.cfg.Agents)))
	s.writeJSON(w, http.StatusOK, ResetResponse{Session: session, Agents: len(s.cfg.Agents)})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, engine.ErrNotInitialized) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error(msg, zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit %q must be a non-negative integer", raw)
	}
	return n, nil
}
