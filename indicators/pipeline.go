package indicators

import (
	"fmt"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// Config holds the indicator spans and periods.
type Config struct {
	FastSpan  int `json:"fast_span" yaml:"fast_span"`
	SlowSpan  int `json:"slow_span" yaml:"slow_span"`
	ATRPeriod int `json:"atr_period" yaml:"atr_period"`
}

func DefaultConfig() Config {
	return Config{FastSpan: 20, SlowSpan: 50, ATRPeriod: 14}
}

func (c Config) Validate() error {
	if c.FastSpan <= 0 || c.SlowSpan <= 0 || c.ATRPeriod <= 0 {
		return fmt.Errorf("indicator spans must be positive (fast=%d slow=%d atr=%d)",
			c.FastSpan, c.SlowSpan, c.ATRPeriod)
	}
	if c.FastSpan >= c.SlowSpan {
		return fmt.Errorf("fast span %d must be shorter than slow span %d", c.FastSpan, c.SlowSpan)
	}
	return nil
}

// Warmup is the number of bars needed before any state is produced.
func (c Config) Warmup() int {
	return max(c.SlowSpan, c.ATRPeriod)
}

// State is the indicator values at one bar.
type State struct {
	Time  time.Time
	Close float64
	Fast  float64
	Slow  float64
	ATR   float64
}

// Series holds one State per bar from the first warmed-up bar onwards,
// oldest first.
type Series []State

func (s Series) Latest() (State, bool) {
	if len(s) == 0 {
		return State{}, false
	}
	return s[len(s)-1], true
}

func (s Series) Prior() (State, bool) {
	if len(s) < 2 {
		return State{}, false
	}
	return s[len(s)-2], true
}

// Compute derives the indicator series from a bar window. It keeps no state
// between calls. A window shorter than the warm-up yields an empty series
// and no error.
func Compute(bars []market.Bar, cfg Config) (Series, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	warm := cfg.Warmup()
	if len(bars) < warm {
		return nil, nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	fast, err := EWM(closes, cfg.FastSpan)
	if err != nil {
		return nil, err
	}
	slow, err := EWM(closes, cfg.SlowSpan)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(bars, cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	out := make(Series, 0, len(bars)-warm+1)
	for i := warm - 1; i < len(bars); i++ {
		out = append(out, State{
			Time:  bars[i].Time,
			Close: closes[i],
			Fast:  fast[i],
			Slow:  slow[i],
			ATR:   atr[i],
		})
	}
	return out, nil
}
