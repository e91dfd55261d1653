package models

import (
	"time"

	"gorm.io/gorm"

	"tulip-market-sim/internal/strategy"
)

// Trade records the outcome of one turn, including holds.
type Trade struct {
	gorm.Model
	AgentID           uint               `gorm:"index;not null" json:"agent_id"`
	AgentName         string             `json:"agent_name"`
	Direction         strategy.Direction `gorm:"not null" json:"direction"`
	Units             int64              `json:"units"`
	Price             float64            `json:"price"` // execution price, before the trade moved the curve
	NewPrice          float64            `json:"new_price"`
	ResultingFunds    float64            `json:"resulting_funds"`
	ResultingHoldings int64              `json:"resulting_holdings"`
	Timestamp         time.Time          `gorm:"index" json:"timestamp"`
	Reason            string             `json:"reason,omitempty"`
}

// Value is the cash that changed hands.
func (t *Trade) Value() float64 {
	return float64(t.Units) * t.Price
}
