// Package scheduler decides which agent acts next and turns a strategy
// decision into a concrete order size.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/registry"
	"tulip-market-sim/internal/strategy"
)

// Policy selects how agents take turns.
type Policy string

const (
	// Random picks any agent uniformly each turn.
	Random Policy = "random"
	// RoundRobin picks the agent that has waited longest, so everyone acts
	// once before anyone acts twice.
	RoundRobin Policy = "round-robin"
)

var (
	ErrNoAgents      = errors.New("no agents registered")
	ErrUnknownPolicy = errors.New("unknown scheduling policy")
)

// ParsePolicy resolves a configured policy name.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(name); p {
	case Random, RoundRobin:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Scheduler picks the next agent according to its policy.
type Scheduler struct {
	policy Policy
	rng    *rand.Rand
}

// New creates a Scheduler. rng is only used by the random policy.
func New(policy Policy, rng *rand.Rand) *Scheduler {
	return &Scheduler{policy: policy, rng: rng}
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Next returns the agent whose turn it is.
func (s *Scheduler) Next(ctx context.Context, reg *registry.Registry) (*models.Agent, error) {
	switch s.policy {
	case RoundRobin:
		agent, err := reg.LeastRecentlyActed(ctx)
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNoAgents
		}
		return agent, err
	case Random:
		agents, err := reg.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(agents) == 0 {
			return nil, ErrNoAgents
		}
		return &agents[s.rng.Intn(len(agents))], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, s.policy)
}

// Size converts a decision into whole units: a fraction of funds at the current
// price for buys, a fraction of holdings for sells. A zero-unit order is a hold.
func Size(d strategy.Decision, agent *models.Agent, price float64) (strategy.Direction, int64) {
	var units int64
	switch d.Direction {
	case strategy.Buy:
		if price > 0 {
			units = int64(math.Floor(d.Proportion * agent.Funds / price))
		}
	case strategy.Sell:
		units = int64(math.Floor(d.Proportion * float64(agent.Holdings)))
	}
	if units <= 0 {
		return strategy.Hold, 0
	}
	return d.Direction, units
}
