// Package strategy holds the closed set of agent decision rules. Every rule is a
// pure function of the price history, oldest observation first.
package strategy

import (
	"errors"
	"fmt"
)

// Direction is what an agent wants to do on its turn.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Kind identifies one of the built-in strategies.
type Kind string

const (
	MomentumRamp       Kind = "momentum-ramp"
	Reversal           Kind = "reversal"
	RangeBreakout      Kind = "range-breakout"
	DelayedAccumulator Kind = "delayed-accumulator"
)

// Kinds lists every strategy in a stable order.
var Kinds = []Kind{MomentumRamp, Reversal, RangeBreakout, DelayedAccumulator}

// ErrUnknownKind is returned by ParseKind for names outside the built-in set.
var ErrUnknownKind = errors.New("unknown strategy")

// ErrInvalidProportion is returned for proportions outside [0, 1].
var ErrInvalidProportion = errors.New("proportion must be within [0, 1]")

// legacy names used by older rosters.
var aliases = map[string]Kind{
	"strategy_1": MomentumRamp,
	"strategy_2": Reversal,
	"strategy_3": RangeBreakout,
	"strategy_4": DelayedAccumulator,
}

// ParseKind resolves a strategy name, accepting the strategy_N aliases.
func ParseKind(name string) (Kind, error) {
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	k := Kind(name)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Valid reports whether k is one of the built-in strategies.
func (k Kind) Valid() bool {
	switch k {
	case MomentumRamp, Reversal, RangeBreakout, DelayedAccumulator:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Decision is the output of a strategy: which way to trade and what fraction of
// the agent's funds (buy) or holdings (sell) to commit.
type Decision struct {
	Direction  Direction `json:"direction"`
	Proportion float64   `json:"proportion"`
}

// Validate checks that the proportion is usable.
func (d Decision) Validate() error {
	if d.Proportion < 0 || d.Proportion > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidProportion, d.Proportion)
	}
	return nil
}

func hold() Decision {
	return Decision{Direction: Hold}
}

// Evaluate runs strategy k against the price history.
// Unknown kinds hold.
func Evaluate(k Kind, history []float64) Decision {
	switch k {
	case MomentumRamp:
		return momentumRamp(history)
	case Reversal:
		return reversal(history)
	case RangeBreakout:
		return rangeBreakout(history)
	case DelayedAccumulator:
		return delayedAccumulator(history)
	}
	return hold()
}
