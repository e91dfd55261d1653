package models

import "time"

// PriceObservation is one entry of the market-wide price history.
// ID is the sequence number; ordering by ID is chronological order.
type PriceObservation struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	Price     float64   `gorm:"not null" json:"price"`
}

// AssetStatus is one row of the coin's state history. The latest row is the current state.
type AssetStatus struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Volume        int64     `gorm:"not null" json:"volume"`
	Price         float64   `gorm:"not null" json:"price"`
	PreviousPrice float64   `gorm:"not null" json:"previous_price"`
	CreatedAt     time.Time `json:"created_at"`
}
