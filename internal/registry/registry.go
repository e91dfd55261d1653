// Package registry owns the agents taking part in the simulation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/strategy"
)

var (
	ErrNotFound      = errors.New("agent not found")
	ErrDuplicateName = errors.New("agent name already registered")
	ErrInvalidAgent  = errors.New("invalid agent")
)

// Options controls registration rules.
type Options struct {
	UniqueNames     bool
	InitialHoldings int64
}

// Registry stores agents. Like the ledger it can be bound to a transaction.
type Registry struct {
	db   *gorm.DB
	opts Options
}

// New creates a Registry over db.
func New(db *gorm.DB, opts Options) *Registry {
	return &Registry{db: db, opts: opts}
}

// WithTx returns a copy of the registry bound to tx.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	return &Registry{db: tx, opts: r.opts}
}

// Register creates an agent holding the configured initial coins.
func (r *Registry) Register(ctx context.Context, name string, funds float64, kind strategy.Kind, at time.Time) (*models.Agent, error) {
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidAgent)
	case funds < 0:
		return nil, fmt.Errorf("%w: funds must not be negative", ErrInvalidAgent)
	case !kind.Valid():
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidAgent, kind)
	}

	db := r.db.WithContext(ctx)
	if r.opts.UniqueNames {
		var n int64
		if err := db.Model(&models.Agent{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to check agent name: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}

	agent := &models.Agent{
		Name:        name,
		Funds:       funds,
		Holdings:    r.opts.InitialHoldings,
		Strategy:    kind,
		LastActedAt: at.UTC(),
	}
	agent.CreatedAt = at.UTC()
	if err := db.Create(agent).Error; err != nil {
		return nil, fmt.Errorf("failed to register agent %q: %w", name, err)
	}
	return agent, nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(ctx context.Context, id uint) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %d: %w", id, err)
	}
	return &agent, nil
}

// List returns every agent in registration order.
func (r *Registry) List(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := r.db.WithContext(ctx).Order("id asc").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// Count returns the number of registered agents.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Agent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return n, nil
}

// LeastRecentlyActed returns the agent that has waited longest for a turn.
// Ties go to the earliest registration.
func (r *Registry) LeastRecentlyActed(ctx context.Context) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Order("last_acted_at asc").Order("id asc").First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find next agent: %w", err)
	}
	return &agent, nil
}

// UpdatePortfolio persists an agent's funds and holdings.
func (r *Registry) UpdatePortfolio(ctx context.Context, agent *models.Agent) error {
	if agent.Funds < 0 || agent.Holdings < 0 {
		return fmt.Errorf("%w: portfolio of agent %d would go negative", ErrInvalidAgent, agent.ID)
	}
	err := r.db.WithContext(ctx).Model(agent).Updates(map[string]interface{}{
		"funds":    agent.Funds,
		"holdings": agent.Holdings,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update agent %d: %w", agent.ID, err)
	}
	return nil
}

// Touch marks the agent as having just acted. Times are stored in UTC so that
// their text form sorts chronologically.
func (r *Registry) Touch(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).Update("last_acted_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to touch agent %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}
