// Package ledger is the append-only history of prices, asset states and trades.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tulip-market-sim/internal/models"
)

// ErrEmpty is returned when no asset status has been recorded yet.
var ErrEmpty = errors.New("ledger is empty")

// Ledger reads and appends history rows. Bind it to a transaction with New(tx)
// to make appends part of a larger unit of work.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger over db, which may be a transaction.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// AppendPrice records a price observation and returns it with its sequence id.
func (l *Ledger) AppendPrice(ctx context.Context, price float64, at time.Time) (*models.PriceObservation, error) {
	obs := &models.PriceObservation{Timestamp: at, Price: price}
	if err := l.db.WithContext(ctx).Create(obs).Error; err != nil {
		return nil, fmt.Errorf("failed to append price observation: %w", err)
	}
	return obs, nil
}

// AppendStatus records a new asset state.
func (l *Ledger) AppendStatus(ctx context.Context, status *models.AssetStatus) error {
	if err := l.db.WithContext(ctx).Create(status).Error; err != nil {
		return fmt.Errorf("failed to append asset status: %w", err)
	}
	return nil
}

// AppendTrade records a trade outcome.
func (l *Ledger) AppendTrade(ctx context.Context, trade *models.Trade) error {
	if err := l.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

// LatestStatus returns the current asset state.
func (l *Ledger) LatestStatus(ctx context.Context) (*models.AssetStatus, error) {
	var status models.AssetStatus
	err := l.db.WithContext(ctx).Order("id desc").Limit(1).Find(&status).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read asset status: %w", err)
	}
	if status.ID == 0 {
		return nil, ErrEmpty
	}
	return &status, nil
}

// Prices returns every observed price, oldest first.
func (l *Ledger) Prices(ctx context.Context) ([]float64, error) {
	var prices []float64
	if err := l.db.WithContext(ctx).Model(&models.PriceObservation{}).Order("id asc").Pluck("price", &prices).Error; err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}
	return prices, nil
}

// PriceHistory returns the latest limit observations in chronological order.
// A limit of zero or less returns the whole history.
func (l *Ledger) PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error) {
	var rows []models.PriceObservation
	q := l.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Len returns the number of price observations.
func (l *Ledger) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.PriceObservation{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count price history: %w", err)
	}
	return n, nil
}

// RecentTrades returns up to limit trades, newest first.
func (l *Ledger) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := l.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

// TradesByAgent returns an agent's trades, oldest first.
func (l *Ledger) TradesByAgent(ctx context.Context, agentID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := l.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to read trades for agent %d: %w", agentID, err)
	}
	return trades, nil
}

// DirectionCount is the number of trades recorded per direction.
type DirectionCount struct {
	Direction string `json:"direction"`
	Count     int64  `json:"count"`
	Units     int64  `json:"units"`
}

// CountByDirection aggregates trades by direction.
func (l *Ledger) CountByDirection(ctx context.Context) ([]DirectionCount, error) {
	var counts []DirectionCount
	err := l.db.WithContext(ctx).Model(&models.Trade{}).
		Select("direction, count(*) as count, coalesce(sum(units), 0) as units").
		Group("direction").
		Order("direction").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trades: %w", err)
	}
	return counts, nil
}

// CountRejected returns the number of turns that degraded to hold because a trade was refused.
func (l *Ledger) CountRejected(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.Trade{}).Where("reason <> ''").Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count rejected trades: %w", err)
	}
	return n, nil
}
