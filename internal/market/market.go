// Package market prices the coin on a constant-product curve and applies trades.
package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tulip-market-sim/internal/ledger"
	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/registry"
	"tulip-market-sim/internal/strategy"
)

// Trade rejections. A turn that hits one of these degrades to a hold.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInsufficientVolume   = errors.New("insufficient volume")
	ErrInvalidUnits         = errors.New("units must not be negative")
	ErrUnknownDirection     = errors.New("unknown direction")
)

// fundsEpsilon absorbs float rounding when an agent spends its whole balance.
const fundsEpsilon = 1e-9

// IsRejection reports whether err is a trade precondition failure rather than
// a storage problem.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrInsufficientVolume) ||
		errors.Is(err, ErrInvalidUnits) ||
		errors.Is(err, ErrUnknownDirection)
}

// PriceFor returns the curve price for the remaining volume. Volume is clamped
// to a minimum of 1 so an exhausted pool prices at k instead of diverging.
func PriceFor(k float64, volume int64) float64 {
	if volume < 1 {
		volume = 1
	}
	return k / float64(volume)
}

// Quote is a snapshot of the coin's state.
type Quote struct {
	Volume        int64   `json:"volume"`
	Price         float64 `json:"price"`
	PreviousPrice float64 `json:"previous_price"`
}

// Outcome describes one executed turn.
type Outcome struct {
	AgentID   uint               `json:"agent_id"`
	AgentName string             `json:"agent_name"`
	Direction strategy.Direction `json:"direction"`
	Units     int64              `json:"units"`
	Price     float64            `json:"price"`
	NewPrice  float64            `json:"new_price"`
	Volume    int64              `json:"volume"`
	Funds     float64            `json:"funds"`
	Holdings  int64              `json:"holdings"`
	Sequence  uint               `json:"sequence"`
	Reason    string             `json:"reason,omitempty"`
}

// Market applies trades against the curve. Each Execute runs in its own
// transaction, or as a savepoint when the Market is bound to an outer one.
type Market struct {
	k        float64
	db       *gorm.DB
	ledger   *ledger.Ledger
	registry *registry.Registry
	logger   *zap.Logger
}

// New creates a Market with constant product k.
func New(db *gorm.DB, k float64, r *registry.Registry, logger *zap.Logger) *Market {
	return &Market{k: k, db: db, ledger: ledger.New(db), registry: r, logger: logger}
}

// WithTx returns a Market whose reads and writes go through tx.
func (m *Market) WithTx(tx *gorm.DB) *Market {
	return &Market{k: m.k, db: tx, ledger: ledger.New(tx), registry: m.registry.WithTx(tx), logger: m.logger}
}

// K returns the constant product.
func (m *Market) K() float64 {
	return m.k
}

// Seed writes the initial asset state and first price observation.
func (m *Market) Seed(ctx context.Context, volume int64, price float64, at time.Time) error {
	if err := m.ledger.AppendStatus(ctx, &models.AssetStatus{
		Volume:        volume,
		Price:         price,
		PreviousPrice: price,
		CreatedAt:     at,
	}); err != nil {
		return err
	}
	_, err := m.ledger.AppendPrice(ctx, price, at)
	return err
}

// Quote returns the current coin state.
func (m *Market) Quote(ctx context.Context) (Quote, error) {
	status, err := m.ledger.LatestStatus(ctx)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Volume: status.Volume, Price: status.Price, PreviousPrice: status.PreviousPrice}, nil
}

// Execute applies one buy, sell or hold for agent. Every precondition is checked
// before anything is written, and agent is only updated once the trade commits.
func (m *Market) Execute(ctx context.Context, agent *models.Agent, direction strategy.Direction, units int64, at time.Time) (Outcome, error) {
	return m.run(ctx, agent, direction, units, at, "")
}

// Reject records a hold for agent whose intended trade was refused, keeping the
// reason in the trade record.
func (m *Market) Reject(ctx context.Context, agent *models.Agent, reason error, at time.Time) (Outcome, error) {
	return m.run(ctx, agent, strategy.Hold, 0, at, reason.Error())
}

func (m *Market) run(ctx context.Context, agent *models.Agent, direction strategy.Direction, units int64, at time.Time, reason string) (Outcome, error) {
	updated := *agent
	var out Outcome
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = m.WithTx(tx).apply(ctx, &updated, direction, units, at, reason)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	*agent = updated

	// Inside an outer transaction this was only a savepoint; the owner of that
	// transaction reports the trade once it commits.
	if !m.nested() {
		m.logger.Debug("Trade executed",
			zap.Uint("agent_id", out.AgentID),
			zap.String("direction", string(out.Direction)),
			zap.Int64("units", out.Units),
			zap.Float64("price", out.Price),
			zap.Float64("new_price", out.NewPrice),
			zap.Int64("volume", out.Volume),
		)
	}
	return out, nil
}

// nested reports whether the Market is bound to an open transaction.
func (m *Market) nested() bool {
	_, ok := m.db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

func (m *Market) apply(ctx context.Context, agent *models.Agent, direction strategy.Direction, units int64, at time.Time, reason string) (Outcome, error) {
	if units < 0 {
		return Outcome{}, fmt.Errorf("%w: got %d", ErrInvalidUnits, units)
	}

	// The registry row is authoritative; the caller's copy may be stale.
	current, err := m.registry.Get(ctx, agent.ID)
	if err != nil {
		return Outcome{}, err
	}
	*agent = *current

	q, err := m.Quote(ctx)
	if err != nil {
		return Outcome{}, err
	}

	funds, holdings, volume := agent.Funds, agent.Holdings, q.Volume
	cost := float64(units) * q.Price

	switch direction {
	case strategy.Buy:
		if units > volume {
			return Outcome{}, fmt.Errorf("%w: want %d, pool has %d", ErrInsufficientVolume, units, volume)
		}
		if cost > funds+fundsEpsilon {
			return Outcome{}, fmt.Errorf("%w: cost %.6f exceeds funds %.6f", ErrInsufficientFunds, cost, funds)
		}
		funds = math.Max(funds-cost, 0)
		holdings += units
		volume -= units
	case strategy.Sell:
		if units > holdings {
			return Outcome{}, fmt.Errorf("%w: want %d, holds %d", ErrInsufficientHoldings, units, holdings)
		}
		funds += cost
		holdings -= units
		volume += units
	case strategy.Hold:
		units = 0
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownDirection, direction)
	}

	newPrice := q.Price
	if direction != strategy.Hold {
		newPrice = PriceFor(m.k, volume)
		if err := m.ledger.AppendStatus(ctx, &models.AssetStatus{
			Volume:        volume,
			Price:         newPrice,
			PreviousPrice: q.Price,
			CreatedAt:     at,
		}); err != nil {
			return Outcome{}, err
		}
		agent.Funds, agent.Holdings = funds, holdings
		if err := m.registry.UpdatePortfolio(ctx, agent); err != nil {
			return Outcome{}, err
		}
	}

	obs, err := m.ledger.AppendPrice(ctx, newPrice, at)
	if err != nil {
		return Outcome{}, err
	}
	if err := m.ledger.AppendTrade(ctx, &models.Trade{
		AgentID:           agent.ID,
		AgentName:         agent.Name,
		Direction:         direction,
		Units:             units,
		Price:             q.Price,
		NewPrice:          newPrice,
		ResultingFunds:    agent.Funds,
		ResultingHoldings: agent.Holdings,
		Timestamp:         at,
		Reason:            reason,
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Direction: direction,
		Units:     units,
		Price:     q.Price,
		NewPrice:  newPrice,
		Volume:    volume,
		Funds:     agent.Funds,
		Holdings:  agent.Holdings,
		Sequence:  obs.ID,
		Reason:    reason,
	}, nil
}
