package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tulip-market-sim/internal/api"
	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/models"
)

const (
	defaultRefresh = 5 * time.Second
	recentTrades   = 5
	priceWindow    = 50
	pricePlaces    = 6
)

// Viewer polls the API and logs the market and leaderboard until the
// simulation's end time.
type Viewer struct {
	client ClientInterface
	cfg    *config.Viewer
	logger *zap.Logger
	clock  func() time.Time
}

// New creates a Viewer reading through client.
func New(client ClientInterface, cfg *config.Viewer, logger *zap.Logger) *Viewer {
	return &Viewer{
		client: client,
		cfg:    cfg,
		logger: logger.Named("viewer"),
		clock:  time.Now,
	}
}

// Run refreshes on every interval until ctx is done or the end time passes.
func (v *Viewer) Run(ctx context.Context) error {
	end, err := v.client.EndTime(ctx)
	if err != nil {
		return err
	}
	if !end.IsZero() {
		v.logger.Info("Simulation end time", zap.Time("end_time", end))
	}

	interval := v.cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefresh
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := v.Refresh(ctx); err != nil {
			v.logger.Error("Failed to refresh", zap.Error(err))
		}
		if !end.IsZero() && v.clock().After(end) {
			v.logger.Info("Simulation has ended")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh fetches the current state once and logs it.
func (v *Viewer) Refresh(ctx context.Context) error {
	status, err := v.client.Status(ctx)
	if err != nil {
		return err
	}
	agents, err := v.client.Agents(ctx)
	if err != nil {
		return err
	}

	price := decimal.NewFromFloat(status.Price)
	change := price.Sub(decimal.NewFromFloat(status.PreviousPrice))
	v.logger.Info("Market",
		zap.String("market", status.Market),
		zap.String("price", price.StringFixed(pricePlaces)),
		zap.String("change", change.StringFixed(pricePlaces)),
		zap.Int64("volume", status.Volume),
		zap.Int64("turns", status.Turns))

	history, err := v.client.PriceHistory(ctx, priceWindow)
	if err != nil {
		return err
	}
	if path, ok := SummarizePrices(history); ok {
		v.logger.Info("Price path",
			zap.Int("points", path.Points),
			zap.String("first", path.First.StringFixed(pricePlaces)),
			zap.String("last", path.Last.StringFixed(pricePlaces)),
			zap.String("min", path.Min.StringFixed(pricePlaces)),
			zap.String("max", path.Max.StringFixed(pricePlaces)))
	}

	stats, err := v.client.Statistics(ctx)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Int64("agents", stats.Agents),
		zap.Int64("turns", stats.Turns),
		zap.Int64("refused", stats.Rejected),
	}
	for _, c := range stats.ByDirection {
		fields = append(fields, zap.Int64(c.Direction, c.Count))
	}
	v.logger.Info("Activity", fields...)

	for _, line := range FormatLeaderboard(agents, v.cfg.Leaderboard) {
		v.logger.Info(line)
	}
	v.logger.Info(Summary(agents))

	trades, err := v.client.Trades(ctx, recentTrades)
	if err != nil {
		return err
	}
	for i := range trades {
		t := &trades[i]
		v.logger.Info("Trade",
			zap.String("agent", t.AgentName),
			zap.String("direction", string(t.Direction)),
			zap.Int64("units", t.Units),
			zap.String("value", decimal.NewFromFloat(t.Value()).StringFixed(2)),
			zap.String("reason", t.Reason))
	}
	return nil
}

// FormatLeaderboard renders the top n entries, one line each. A non-positive n
// renders every entry.
func FormatLeaderboard(entries []api.AgentEntry, n int) []string {
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	lines := make([]string, 0, n)
	for _, e := range entries[:n] {
		lines = append(lines, fmt.Sprintf("%2d. %-12s %-20s %12s %10d %14s",
			e.Rank,
			e.Name,
			e.Strategy,
			e.Funds.StringFixed(2),
			e.Holdings,
			e.TotalAssets.StringFixed(2)))
	}
	return lines
}

// PricePath is the shape of a window of price observations.
type PricePath struct {
	Points int
	First  decimal.Decimal
	Last   decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
}

// SummarizePrices reduces history, oldest first, to its endpoints and range.
// It reports false for an empty history.
func SummarizePrices(history []models.PriceObservation) (PricePath, bool) {
	if len(history) == 0 {
		return PricePath{}, false
	}
	first := decimal.NewFromFloat(history[0].Price)
	path := PricePath{Points: len(history), First: first, Last: first, Min: first, Max: first}
	for _, obs := range history[1:] {
		p := decimal.NewFromFloat(obs.Price)
		path.Min = decimal.Min(path.Min, p)
		path.Max = decimal.Max(path.Max, p)
		path.Last = p
	}
	return path, true
}

// Total sums the total assets across entries.
func Total(entries []api.AgentEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.TotalAssets)
	}
	return sum
}

// Summary is a one-line description of the leaderboard leader.
func Summary(entries []api.AgentEntry) string {
	if len(entries) == 0 {
		return "no agents"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s leads with %s", entries[0].Name, entries[0].TotalAssets.StringFixed(2))
	fmt.Fprintf(&b, " of %s total", Total(entries).StringFixed(2))
	return b.String()
}
