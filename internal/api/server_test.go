package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/database"
	"tulip-market-sim/internal/engine"
	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/registry"
	"tulip-market-sim/internal/strategy"
)

// MockSimulation is a mock implementation of Simulation.
type MockSimulation struct {
	mock.Mock
}

func (m *MockSimulation) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.Snapshot), args.Error(1)
}

func (m *MockSimulation) PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.PriceObservation), args.Error(1)
}

func (m *MockSimulation) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Trade), args.Error(1)
}

func (m *MockSimulation) AgentTrades(ctx context.Context, id uint) ([]models.Trade, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]models.Trade), args.Error(1)
}

func (m *MockSimulation) Statistics(ctx context.Context) (engine.Statistics, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.Statistics), args.Error(1)
}

func (m *MockSimulation) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSimulation) SeedRoster(ctx context.Context, seeds []config.AgentSeed) error {
	return m.Called(ctx, seeds).Error(0)
}

func (m *MockSimulation) SessionID() string {
	return m.Called().String(0)
}

func (m *MockSimulation) StartTime() time.Time {
	return m.Called().Get(0).(time.Time)
}

func (m *MockSimulation) EndTime() time.Time {
	return m.Called().Get(0).(time.Time)
}

func (m *MockSimulation) Policy() string {
	return m.Called().String(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.Market{Name: "Tulip Coin", InitialVolume: 100000, InitialPrice: 0.1, RecentTrades: 25},
		Scheduler: config.Scheduler{
			Policy:       "round-robin",
			TickInterval: time.Millisecond,
		},
		Agents: []config.AgentSeed{
			{Name: "Whale", Funds: 20000, Strategy: "momentum-ramp"},
			{Name: "Jacob", Funds: 1000, Strategy: "reversal"},
		},
	}
}

func setupTest() (*Server, *MockSimulation) {
	sim := new(MockSimulation)
	return NewServer(sim, testConfig(), zap.NewNop()), sim
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := setupTest()

	rec := do(s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestStatus(t *testing.T) {
	// Arrange
	s, sim := setupTest()
	sim.On("Snapshot", mock.Anything).Return(engine.Snapshot{
		K: 10000, Volume: 99000, Price: 10000.0 / 99000, PreviousPrice: 0.1, Turns: 1,
	}, nil)
	sim.On("SessionID").Return("abc")
	sim.On("Policy").Return("random")
	sim.On("StartTime").Return(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))

	// Act
	rec := do(s, http.MethodGet, "/api/status")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.Session)
	assert.Equal(t, "Tulip Coin", resp.Market)
	assert.Equal(t, "random", resp.Policy)
	assert.Equal(t, int64(99000), resp.Volume)
	assert.InDelta(t, 0.1, resp.PreviousPrice, 1e-12)
	assert.Equal(t, "2026-10-15T09:00:00Z", resp.StartTime)
	sim.AssertExpectations(t)
}

func TestStatus_NotInitialized(t *testing.T) {
	s, sim := setupTest()
	sim.On("Snapshot", mock.Anything).Return(engine.Snapshot{}, engine.ErrNotInitialized)

	rec := do(s, http.MethodGet, "/api/status")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to read market state")
}

func TestAgents_Leaderboard(t *testing.T) {
	s, sim := setupTest()
	sim.On("Snapshot", mock.Anything).Return(engine.Snapshot{
		Price: 0.1,
		Agents: []engine.AgentView{
			{ID: 1, Name: "Jacob", Strategy: strategy.Reversal, Funds: 1000, TotalAssets: 1000},
			{ID: 2, Name: "Whale", Strategy: strategy.MomentumRamp, Funds: 19900, Holdings: 1000, TotalAssets: 20001.0101},
		},
	}, nil)

	rec := do(s, http.MethodGet, "/api/agents")

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []AgentEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Whale", entries[0].Name)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "20001.01", entries[0].TotalAssets.String())
	assert.Equal(t, "19900", entries[0].Funds.String())
	assert.Equal(t, "Jacob", entries[1].Name)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Contains(t, rec.Body.String(), `"total_assets":"20001.01"`)
}

func TestPrices(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		limit  int
	}{
		{"AllByDefault", "/api/prices", 0},
		{"Limited", "/api/prices?limit=5", 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, sim := setupTest()
			sim.On("PriceHistory", mock.Anything, tc.limit).Return([]models.PriceObservation{
				{ID: 1, Price: 0.1},
				{ID: 2, Price: 0.2},
			}, nil)

			rec := do(s, http.MethodGet, tc.target)

			require.Equal(t, http.StatusOK, rec.Code)
			var history []models.PriceObservation
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
			assert.Len(t, history, 2)
			sim.AssertExpectations(t)
		})
	}
}

func TestPrices_BadLimit(t *testing.T) {
	for _, target := range []string{"/api/prices?limit=abc", "/api/prices?limit=-1"} {
		s, sim := setupTest()

		rec := do(s, http.MethodGet, target)

		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		sim.AssertNotCalled(t, "PriceHistory", mock.Anything, mock.Anything)
	}
}

func TestTrades_DefaultLimit(t *testing.T) {
	s, sim := setupTest()
	sim.On("Trades", mock.Anything, 25).Return([]models.Trade{{AgentName: "Whale", Direction: strategy.Buy, Units: 10}}, nil)

	rec := do(s, http.MethodGet, "/api/trades")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Whale")
	sim.AssertExpectations(t)
}

func TestTrades_StoreError(t *testing.T) {
	s, sim := setupTest()
	sim.On("Trades", mock.Anything, 25).Return([]models.Trade(nil), errors.New("disk I/O error"))

	rec := do(s, http.MethodGet, "/api/trades")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk")
}

func TestAgentTrades(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		s, sim := setupTest()
		sim.On("AgentTrades", mock.Anything, uint(7)).Return([]models.Trade{
			{AgentID: 7, AgentName: "Jacob", Direction: strategy.Sell, Units: 5},
			{AgentID: 7, AgentName: "Jacob", Direction: strategy.Hold},
		}, nil)

		rec := do(s, http.MethodGet, "/api/agents/7/trades")

		require.Equal(t, http.StatusOK, rec.Code)
		var trades []models.Trade
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
		assert.Len(t, trades, 2)
		sim.AssertExpectations(t)
	})

	t.Run("UnknownAgent", func(t *testing.T) {
		s, sim := setupTest()
		sim.On("AgentTrades", mock.Anything, uint(99)).Return([]models.Trade(nil), fmt.Errorf("%w: id 99", registry.ErrNotFound))

		rec := do(s, http.MethodGet, "/api/agents/99/trades")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "agent 99 not found")
	})

	t.Run("BadID", func(t *testing.T) {
		s, sim := setupTest()

		for _, target := range []string{"/api/agents/abc/trades", "/api/agents/-1/trades"} {
			rec := do(s, http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
		sim.AssertNotCalled(t, "AgentTrades", mock.Anything, mock.Anything)
	})
}

func TestEndTime(t *testing.T) {
	t.Run("OpenEnded", func(t *testing.T) {
		s, sim := setupTest()
		sim.On("EndTime").Return(time.Time{})

		rec := do(s, http.MethodGet, "/api/end_time")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"end_time":null}`, rec.Body.String())
	})

	t.Run("Configured", func(t *testing.T) {
		s, sim := setupTest()
		sim.On("EndTime").Return(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))

		rec := do(s, http.MethodGet, "/api/end_time")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"end_time":"2026-10-16T00:00:00Z"}`, rec.Body.String())
	})
}

func TestReset_SeedsConfiguredRoster(t *testing.T) {
	s, sim := setupTest()
	sim.On("Reset", mock.Anything).Return(nil).Once()
	sim.On("SeedRoster", mock.Anything, testConfig().Agents).Return(nil).Once()
	sim.On("SessionID").Return("fresh")

	rec := do(s, http.MethodPost, "/api/reset")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session":"fresh","agents":2}`, rec.Body.String())
	sim.AssertExpectations(t)
}

func TestReset_FailureSkipsRoster(t *testing.T) {
	s, sim := setupTest()
	sim.On("Reset", mock.Anything).Return(errors.New("locked"))

	rec := do(s, http.MethodPost, "/api/reset")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	sim.AssertNotCalled(t, "SeedRoster", mock.Anything, mock.Anything)
}

func TestMethodNotAllowed(t *testing.T) {
	testCases := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/api/agents"},
		{http.MethodPut, "/api/trades"},
		{http.MethodGet, "/api/reset"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+strings.ReplaceAll(tc.target, "/", "_"), func(t *testing.T) {
			s, _ := setupTest()
			rec := do(s, tc.method, tc.target)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

// TestServer_WithEngine drives the handlers against a real engine.
func TestServer_WithEngine(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	db, err := database.NewDatabase(config.Database{DSN: "file::memory:"})
	require.NoError(t, err)

	e := engine.NewEngine(zap.NewNop(), cfg, db)
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.SeedRoster(ctx, cfg.Agents))
	for i := 0; i < 4; i++ {
		_, err := e.Step(ctx)
		require.NoError(t, err)
	}
	s := NewServer(e, cfg, zap.NewNop())

	rec := do(s, http.MethodGet, "/api/prices")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.PriceObservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 5)

	rec = do(s, http.MethodGet, "/api/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats engine.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.Turns)
	assert.Equal(t, int64(2), stats.Agents)

	rec = do(s, http.MethodGet, "/api/agents/1/trades")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "Whale", trades[0].AgentName)
	assert.Less(t, trades[0].ID, trades[1].ID)

	rec = do(s, http.MethodGet, "/api/agents/99/trades")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodPost, "/api/reset")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/api/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []AgentEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Whale", entries[0].Name)
	assert.Equal(t, "20000", entries[0].Funds.String())

	rec = do(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(0), status.Turns)
	assert.Equal(t, int64(100000), status.Volume)
}
