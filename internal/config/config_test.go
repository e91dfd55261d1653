package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o644))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	// No config.yml in the directory: defaults apply.
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(100000), cfg.Market.InitialVolume)
	assert.InDelta(t, 0.1, cfg.Market.InitialPrice, 1e-12)
	assert.InDelta(t, 10000.0, cfg.Market.K(), 1e-9)
	assert.Equal(t, "random", cfg.Scheduler.Policy)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Empty(t, cfg.Agents)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := writeConfig(t, `
market:
  initial_volume: 500
  initial_price: 2
scheduler:
  policy: round-robin
  tick_interval: 250ms
  end_time: 2026-10-15T06:30:00Z
agents:
  - name: Whale
    funds: 20000
    strategy: momentum-ramp
  - name: Gwyn
    funds: 1000
    strategy: strategy_3
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Market.InitialVolume)
	assert.Equal(t, "round-robin", cfg.Scheduler.Policy)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Date(2026, 10, 15, 6, 30, 0, 0, time.UTC), cfg.Scheduler.EndTime.UTC())
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "Gwyn", cfg.Agents[1].Name)
	assert.Equal(t, "strategy_3", cfg.Agents[1].Strategy)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "market:\n  initial_price: 0.1\n")
	t.Setenv("TULIP_MARKET_INITIAL_PRICE", "0.25")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Market.InitialPrice, 1e-12)
	assert.True(t, cfg.Scheduler.EndTime.IsZero())
}

func TestLoadConfig_EnvEndTime(t *testing.T) {
	// The file has no scheduler section, so only the environment sets end_time.
	dir := writeConfig(t, "market:\n  initial_price: 0.1\n")
	t.Setenv("TULIP_SCHEDULER_END_TIME", "2026-10-16T18:00:00Z")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC), cfg.Scheduler.EndTime.UTC())
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := writeConfig(t, `
market:
  initial_volume: 0
  initial_price: -1
scheduler:
  policy: fifo
`)

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.initial_volume must be positive")
	assert.Contains(t, err.Error(), "market.initial_price must be positive")
	assert.Contains(t, err.Error(), `scheduler.policy "fifo"`)
}

func TestValidate_Agents(t *testing.T) {
	cfg := Config{
		Market:    Market{InitialVolume: 10, InitialPrice: 1},
		Scheduler: Scheduler{Policy: "random", TickInterval: time.Second},
		Database:  Database{DSN: "file::memory:"},
		Agents: []AgentSeed{
			{Name: "", Funds: 10, Strategy: "reversal"},
			{Name: "Jacob", Funds: -1, Strategy: ""},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents[0].name must not be empty")
	assert.Contains(t, err.Error(), "agents[1].funds must not be negative")
	assert.Contains(t, err.Error(), "agents[1].strategy must not be empty")
}
