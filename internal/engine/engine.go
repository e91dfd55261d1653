package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/database"
	"tulip-market-sim/internal/ledger"
	"tulip-market-sim/internal/market"
	"tulip-market-sim/internal/models"
	"tulip-market-sim/internal/registry"
	"tulip-market-sim/internal/scheduler"
	"tulip-market-sim/internal/strategy"
)

// Engine lifecycle errors. ErrInvalidConfiguration is fatal and reported before
// anything is written.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrAlreadyInitialized   = errors.New("engine already initialized")
	ErrNotInitialized       = errors.New("engine not initialized")
)

// Engine owns the market, the agents and the scheduler, and advances the
// simulation one turn at a time. All state changes are serialized through it.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config
	db     *gorm.DB
	clock  func() time.Time
	rng    *rand.Rand

	mu          sync.Mutex
	initialized bool
	sessionID   uuid.UUID
	startTime   time.Time
	registry    *registry.Registry
	market      *market.Market
	scheduler   *scheduler.Scheduler
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used to timestamp turns.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRand sets the random source used by the random scheduling policy.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// NewEngine creates an engine. Call Initialize before stepping it.
func NewEngine(logger *zap.Logger, cfg *config.Config, db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		db:     db,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := cfg.Scheduler.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		e.rng = rand.New(rand.NewSource(seed))
	}
	return e
}

// Initialize validates the market parameters and seeds the store with the
// initial coin state. A store that already holds a matching history is resumed.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}

	mcfg := e.cfg.Market
	if mcfg.InitialVolume <= 0 || mcfg.InitialPrice <= 0 || math.IsInf(mcfg.InitialPrice, 0) || math.IsNaN(mcfg.InitialPrice) {
		return fmt.Errorf("%w: initial volume %d and price %v must be positive", ErrInvalidConfiguration, mcfg.InitialVolume, mcfg.InitialPrice)
	}
	policy, err := scheduler.ParsePolicy(e.cfg.Scheduler.Policy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	reg := registry.New(e.db, registry.Options{
		UniqueNames:     e.cfg.Registry.UniqueNames,
		InitialHoldings: e.cfg.Registry.InitialHoldings,
	})
	mkt := market.New(e.db, mcfg.K(), reg, e.logger.Named("market"))

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status, err := ledger.New(tx).LatestStatus(ctx)
		if errors.Is(err, ledger.ErrEmpty) {
			e.logger.Info("Seeding market",
				zap.Int64("volume", mcfg.InitialVolume),
				zap.Float64("price", mcfg.InitialPrice),
				zap.Float64("k", mcfg.K()))
			return mkt.WithTx(tx).Seed(ctx, mcfg.InitialVolume, mcfg.InitialPrice, e.clock())
		}
		if err != nil {
			return err
		}

		product := status.Price * math.Max(float64(status.Volume), 1)
		if math.Abs(product-mcfg.K()) > 1e-9*mcfg.K() {
			return fmt.Errorf("%w: stored market has k=%v, configuration gives k=%v", ErrInvalidConfiguration, product, mcfg.K())
		}
		e.logger.Info("Resuming market from store",
			zap.Int64("volume", status.Volume),
			zap.Float64("price", status.Price))
		return nil
	})
	if err != nil {
		return err
	}

	e.registry = reg
	e.market = mkt
	e.scheduler = scheduler.New(policy, e.rng)
	e.sessionID = uuid.New()
	e.startTime = e.clock()
	e.initialized = true

	e.logger.Info("Engine initialized",
		zap.String("session", e.sessionID.String()),
		zap.String("policy", string(policy)))
	return nil
}

// Reset clears every agent and all history, then re-seeds the initial coin
// state. It happens in one transaction, so readers see either the old state
// or the fresh one.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}

	mcfg := e.cfg.Market
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.Truncate(tx); err != nil {
			return err
		}
		return e.market.WithTx(tx).Seed(ctx, mcfg.InitialVolume, mcfg.InitialPrice, e.clock())
	})
	if err != nil {
		return fmt.Errorf("failed to reset market: %w", err)
	}

	e.sessionID = uuid.New()
	e.startTime = e.clock()
	e.logger.Info("Market has been reset", zap.String("session", e.sessionID.String()))
	return nil
}

// Register adds an agent using the named strategy.
func (e *Engine) Register(ctx context.Context, name string, funds float64, strategyName string) (*models.Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.register(ctx, e.registry, name, funds, strategyName)
}

// SeedRoster registers every configured agent in one transaction.
func (e *Engine) SeedRoster(ctx context.Context, seeds []config.AgentSeed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := e.registry.WithTx(tx)
		for _, s := range seeds {
			if _, err := e.register(ctx, reg, s.Name, s.Funds, s.Strategy); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) register(ctx context.Context, reg *registry.Registry, name string, funds float64, strategyName string) (*models.Agent, error) {
	kind, err := strategy.ParseKind(strategyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrInvalidAgent, err)
	}
	agent, err := reg.Register(ctx, name, funds, kind, e.clock())
	if err != nil {
		return nil, err
	}
	e.logger.Info("Agent registered",
		zap.Uint("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.Float64("funds", agent.Funds),
		zap.String("strategy", agent.Strategy.String()))
	return agent, nil
}

// Step advances the simulation by exactly one turn: the scheduled agent's
// strategy is evaluated against the full price history and the resulting order
// is executed. Refused trades become holds and are not returned as errors.
func (e *Engine) Step(ctx context.Context) (market.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return market.Outcome{}, ErrNotInitialized
	}

	now := e.clock()
	var (
		out      market.Outcome
		decision strategy.Decision
		intended strategy.Direction
		sized    int64
		refused  error
		history  int
		strat    strategy.Kind
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := e.registry.WithTx(tx)
		mkt := e.market.WithTx(tx)

		agent, err := e.scheduler.Next(ctx, reg)
		if err != nil {
			return err
		}
		prices, err := ledger.New(tx).Prices(ctx)
		if err != nil {
			return err
		}
		quote, err := mkt.Quote(ctx)
		if err != nil {
			return err
		}
		history, strat = len(prices), agent.Strategy

		decision = strategy.Evaluate(agent.Strategy, prices)
		if err := decision.Validate(); err != nil {
			return fmt.Errorf("strategy %s: %w", agent.Strategy, err)
		}
		intended, sized = scheduler.Size(decision, agent, quote.Price)

		out, err = mkt.Execute(ctx, agent, intended, sized, now)
		if market.IsRejection(err) {
			refused = err
			out, err = mkt.Reject(ctx, agent, err, now)
		}
		if err != nil {
			return err
		}
		return reg.Touch(ctx, agent.ID, now)
	})
	if err != nil {
		return market.Outcome{}, err
	}

	// Only committed turns are reported.
	l := e.logger.With(
		zap.Uint("agent_id", out.AgentID),
		zap.String("agent", out.AgentName),
		zap.String("strategy", strat.String()),
		zap.Int("history", history),
	)
	if refused != nil {
		l.Info("Trade refused, holding instead",
			zap.String("direction", string(intended)),
			zap.Int64("units", sized),
			zap.Error(refused))
	}
	l.Info("Turn complete",
		zap.String("decision", string(decision.Direction)),
		zap.Float64("proportion", decision.Proportion),
		zap.String("direction", string(out.Direction)),
		zap.Int64("units", out.Units),
		zap.Float64("price", out.Price),
		zap.Float64("new_price", out.NewPrice),
		zap.Int64("volume", out.Volume))
	return out, nil
}

// Run drives Step on the configured tick interval until ctx is cancelled, the
// end time passes or the turn limit is reached.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	initialized := e.initialized
	e.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	sched := e.cfg.Scheduler
	if sched.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval %v must be positive", ErrInvalidConfiguration, sched.TickInterval)
	}
	ticker := time.NewTicker(sched.TickInterval)
	defer ticker.Stop()

	e.logger.Info("Starting turn loop",
		zap.Duration("interval", sched.TickInterval),
		zap.Int("max_turns", sched.MaxTurns),
		zap.Time("end_time", sched.EndTime))

	turns := 0
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping turn loop", zap.Int("turns", turns))
			return nil
		case <-ticker.C:
			if !sched.EndTime.IsZero() && e.clock().After(sched.EndTime) {
				e.logger.Info("End time reached", zap.Int("turns", turns))
				return nil
			}

			_, err := e.Step(ctx)
			switch {
			case errors.Is(err, scheduler.ErrNoAgents):
				e.logger.Warn("No agents registered, skipping turn")
				continue
			case err != nil:
				e.logger.Error("Turn failed", zap.Error(err))
				continue
			}

			turns++
			if sched.MaxTurns > 0 && turns >= sched.MaxTurns {
				e.logger.Info("Turn limit reached", zap.Int("turns", turns))
				return nil
			}
		}
	}
}

// SessionID identifies the current run; it changes on every reset.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID.String()
}

// StartTime is when the current run began.
func (e *Engine) StartTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

// EndTime is the configured end of the simulation, zero when open-ended.
func (e *Engine) EndTime() time.Time {
	return e.cfg.Scheduler.EndTime
}

// Policy reports the active scheduling policy.
func (e *Engine) Policy() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduler == nil {
		return e.cfg.Scheduler.Policy
	}
	return string(e.scheduler.Policy())
}
