// Package signals maps indicator state to a directional decision.
package signals

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/market"
)

// Signal is the decision produced for one bar.
type Signal int

const (
	None Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "none"
}

// Side converts an actionable signal to the side of the entry it asks for.
func (s Signal) Side() (market.Side, bool) {
	switch s {
	case Buy:
		return market.Buy, true
	case Sell:
		return market.Sell, true
	}
	return 0, false
}

// Policy is a pure function of the indicator series.
type Policy interface {
	Name() string
	Evaluate(series indicators.Series) Signal
}

// TrendState signals the side the fast average currently sits on.
type TrendState struct{}

func (TrendState) Name() string { return "trend" }

func (TrendState) Evaluate(series indicators.Series) Signal {
	last, ok := series.Latest()
	if !ok {
		return None
	}
	switch {
	case last.Fast > last.Slow:
		return Buy
	case last.Fast < last.Slow:
		return Sell
	}
	return None
}

// Crossover signals only on the bar where the fast average crosses the slow
// one:
//   - Buy: fast goes from <= slow to > slow
//   - Sell: fast goes from >= slow to < slow
type Crossover struct{}

func (Crossover) Name() string { return "crossover" }

func (Crossover) Evaluate(series indicators.Series) Signal {
	last, ok := series.Latest()
	if !ok {
		return None
	}
	prev, ok := series.Prior()
	if !ok {
		return None
	}

	diff := last.Fast - last.Slow
	prevDiff := prev.Fast - prev.Slow

	switch {
	case diff > 0 && prevDiff <= 0:
		return Buy
	case diff < 0 && prevDiff >= 0:
		return Sell
	}
	return None
}

// PolicyByName resolves the configured policy.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trend", "trend-state", "trend_state":
		return TrendState{}, nil
	case "crossover", "cross", "ema-cross":
		return Crossover{}, nil
	default:
		return nil, fmt.Errorf("unknown signal policy %q (supported: trend, crossover)", name)
	}
}
