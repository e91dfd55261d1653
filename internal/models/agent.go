package models

import (
	"time"

	"gorm.io/gorm"

	"tulip-market-sim/internal/strategy"
)

// Agent is a trading participant with its own portfolio and strategy.
type Agent struct {
	gorm.Model
	Name        string        `gorm:"index;not null" json:"name"`
	Funds       float64       `gorm:"not null" json:"funds"`
	Holdings    int64         `gorm:"not null" json:"holdings"`
	Strategy    strategy.Kind `gorm:"not null" json:"strategy"`
	LastActedAt time.Time     `gorm:"index" json:"last_acted_at"`
}

// TotalAssets values the agent's portfolio at the given price.
func (a *Agent) TotalAssets(price float64) float64 {
	return a.Funds + float64(a.Holdings)*price
}
