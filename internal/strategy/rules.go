package strategy

const (
	breakoutWindow    = 5
	reversalThreshold = 0.02
	accumulatorWarmup = 10
	rampEarlyTurns    = 5
	rampLateTurns     = 20
)

// momentumRamp buys heavily early, tapers, then dumps everything.
func momentumRamp(history []float64) Decision {
	switch n := len(history); {
	case n < rampEarlyTurns:
		return Decision{Direction: Buy, Proportion: 0.5}
	case n <= rampLateTurns:
		return Decision{Direction: Buy, Proportion: 0.2}
	default:
		return Decision{Direction: Sell, Proportion: 1}
	}
}

// reversal sells into sharp rises and buys dips.
func reversal(history []float64) Decision {
	n := len(history)
	if n < 2 {
		return Decision{Direction: Buy, Proportion: 0.2}
	}
	last, prev := history[n-1], history[n-2]
	if prev == 0 {
		return hold()
	}

	change := (last - prev) / prev
	switch {
	case change > reversalThreshold:
		return Decision{Direction: Sell, Proportion: 0.5}
	case change < 0:
		return Decision{Direction: Buy, Proportion: 0.5}
	default:
		return Decision{Direction: Sell, Proportion: 0.4}
	}
}

// rangeBreakout trades the edges of the trailing window.
func rangeBreakout(history []float64) Decision {
	n := len(history)
	if n < breakoutWindow {
		return Decision{Direction: Buy, Proportion: 0.1}
	}

	window := history[n-breakoutWindow:]
	last := window[len(window)-1]
	lo, hi := window[0], window[0]
	for _, p := range window[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}

	switch last {
	case hi:
		return Decision{Direction: Sell, Proportion: 0.5}
	case lo:
		return Decision{Direction: Buy, Proportion: 0.5}
	}
	return hold()
}

// delayedAccumulator waits out the opening turns, then keeps buying.
func delayedAccumulator(history []float64) Decision {
	if len(history) > accumulatorWarmup {
		return Decision{Direction: Buy, Proportion: 0.5}
	}
	return hold()
}
