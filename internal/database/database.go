package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/models"
)

// tables lists every persisted model. Order matters for DropTable.
var tables = []interface{}{
	&models.Trade{},
	&models.Agent{},
	&models.PriceObservation{},
	&models.AssetStatus{},
}

// NewDatabase opens the sqlite database and migrates the schema.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// An in-memory database lives and dies with its connection, so it must be shared.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 || strings.Contains(cfg.DSN, ":memory:") {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Truncate removes every row from every table. Callers run it inside a
// transaction so the store is never observed half-cleared.
func Truncate(tx *gorm.DB) error {
	for _, model := range tables {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
			return fmt.Errorf("failed to clear %T: %w", model, err)
		}
	}
	return nil
}
