package engine

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"tulip-market-sim/internal/ledger"
	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/strategy"
)

// AgentView is an agent's portfolio valued at the current price.
type AgentView struct {
	ID          uint          `json:"id"`
	Name        string        `json:"name"`
	Strategy    strategy.Kind `json:"strategy"`
	Funds       float64       `json:"funds"`
	Holdings    int64         `json:"holdings"`
	TotalAssets float64       `json:"total_assets"`
	LastActedAt time.Time     `json:"last_acted_at"`
}

// Snapshot is a consistent view of the whole simulation.
type Snapshot struct {
	K             float64        `json:"k"`
	Volume        int64          `json:"volume"`
	Price         float64        `json:"price"`
	PreviousPrice float64        `json:"previous_price"`
	Turns         int64          `json:"turns"`
	Agents        []AgentView    `json:"agents"`
	RecentTrades  []models.Trade `json:"recent_trades"`
}

// Statistics summarizes the trade history.
type Statistics struct {
	Agents      int64                   `json:"agents"`
	Turns       int64                   `json:"turns"`
	Rejected    int64                   `json:"rejected"`
	ByDirection []ledger.DirectionCount `json:"by_direction"`
}

// Snapshot reads the coin state, every agent and the most recent trades in one
// transaction.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Snapshot{}, ErrNotInitialized
	}

	var snap Snapshot
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := ledger.New(tx)

		quote, err := e.market.WithTx(tx).Quote(ctx)
		if err != nil {
			return err
		}
		n, err := l.Len(ctx)
		if err != nil {
			return err
		}
		agents, err := e.registry.WithTx(tx).List(ctx)
		if err != nil {
			return err
		}
		trades, err := l.RecentTrades(ctx, e.cfg.Market.RecentTrades)
		if err != nil {
			return err
		}

		snap = Snapshot{
			K:             e.market.K(),
			Volume:        quote.Volume,
			Price:         quote.Price,
			PreviousPrice: quote.PreviousPrice,
			Turns:         n - 1,
			Agents:        make([]AgentView, 0, len(agents)),
			RecentTrades:  trades,
		}
		for i := range agents {
			a := &agents[i]
			snap.Agents = append(snap.Agents, AgentView{
				ID:          a.ID,
				Name:        a.Name,
				Strategy:    a.Strategy,
				Funds:       a.Funds,
				Holdings:    a.Holdings,
				TotalAssets: a.TotalAssets(quote.Price),
				LastActedAt: a.LastActedAt,
			})
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Leaderboard returns the agents ordered by total assets, richest first.
func (s Snapshot) Leaderboard() []AgentView {
	board := make([]AgentView, len(s.Agents))
	copy(board, s.Agents)
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].TotalAssets > board[j].TotalAssets
	})
	return board
}

// PriceHistory returns the latest limit observations in chronological order.
// A non-positive limit returns the whole history.
func (e *Engine) PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return ledger.New(e.db).PriceHistory(ctx, limit)
}

// Trades returns the latest limit trades, newest first.
func (e *Engine) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return ledger.New(e.db).RecentTrades(ctx, limit)
}

// AgentTrades returns every trade one agent has made, oldest first. Unknown ids
// report registry.ErrNotFound.
func (e *Engine) AgentTrades(ctx context.Context, id uint) ([]models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}

	var trades []models.Trade
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := e.registry.WithTx(tx).Get(ctx, id); err != nil {
			return err
		}
		var err error
		trades, err = ledger.New(tx).TradesByAgent(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Statistics counts turns by direction along with how many were refused.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Statistics{}, ErrNotInitialized
	}

	var stats Statistics
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := ledger.New(tx)
		counts, err := l.CountByDirection(ctx)
		if err != nil {
			return err
		}
		rejected, err := l.CountRejected(ctx)
		if err != nil {
			return err
		}
		agents, err := e.registry.WithTx(tx).Count(ctx)
		if err != nil {
			return err
		}
		stats.Agents = agents
		stats.ByDirection = counts
		stats.Rejected = rejected
		for _, c := range counts {
			stats.Turns += c.Count
		}
		return nil
	})
	if err != nil {
		return Statistics{}, err
	}
	return stats, nil
}
