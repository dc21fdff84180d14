package lifecycle

import (
	"fmt"
	"strings"
)

// Preset names accepted by Config.ApplyPreset.
const (
	PresetBreakevenOnly            = "breakeven-only"
	PresetBreakevenPartialTrailing = "breakeven-partial-trailing"
	PresetFull                     = "full"
)

// Config enables the individual lifecycle steps. Distances are expressed in
// R, the stop distance reported by the risk policy on the current cycle,
// unless TrailDistance gives the trail in price units.
type Config struct {
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	Breakeven       bool    `json:"breakeven" yaml:"breakeven"`
	BreakevenBuffer float64 `json:"breakeven_buffer" yaml:"breakeven_buffer"` // price units beyond entry

	PartialClose      bool    `json:"partial_close" yaml:"partial_close"`
	PartialCloseRatio float64 `json:"partial_close_ratio" yaml:"partial_close_ratio"`

	Trailing       bool    `json:"trailing" yaml:"trailing"`
	TrailStartR    float64 `json:"trail_start_r" yaml:"trail_start_r"`
	TrailDistanceR float64 `json:"trail_distance_r" yaml:"trail_distance_r"`
	TrailDistance  float64 `json:"trail_distance,omitempty" yaml:"trail_distance,omitempty"` // price units, wins over TrailDistanceR

	// DynamicR re-reads the stop distance every cycle. When false the
	// distance seen on a ticket's first cycle is kept for its lifetime.
	DynamicR bool `json:"dynamic_r" yaml:"dynamic_r"`

	// InitialStop replaces placeholder protective levels with the real
	// stop and target once, on the first cycle a ticket is seen. Set by the
	// engine for pending stop entries.
	InitialStop      bool    `json:"-" yaml:"-"`
	TargetMultiplier float64 `json:"-" yaml:"-"`
}

// DefaultConfig enables every step with dynamic R. The preset name is left
// empty so that a file overriding individual flags is not reset by it.
func DefaultConfig() Config {
	c := Config{}
	_ = c.ApplyPreset(PresetFull)
	c.Preset = ""
	return c
}

// ApplyPreset switches steps on and fills unset distances.
func (c *Config) ApplyPreset(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return nil
	case PresetBreakevenOnly:
		c.Breakeven = true
		c.PartialClose = false
		c.Trailing = false
	case PresetBreakevenPartialTrailing:
		c.Breakeven = true
		c.PartialClose = true
		c.Trailing = true
		c.DynamicR = false
	case PresetFull:
		c.Breakeven = true
		c.PartialClose = true
		c.Trailing = true
		c.DynamicR = true
	default:
		return fmt.Errorf("unknown lifecycle preset %q (supported: %s, %s, %s)",
			name, PresetBreakevenOnly, PresetBreakevenPartialTrailing, PresetFull)
	}
	c.Preset = name
	if c.BreakevenBuffer == 0 {
		c.BreakevenBuffer = 0.10
	}
	if c.PartialClose && c.PartialCloseRatio == 0 {
		c.PartialCloseRatio = 0.5
	}
	if c.Trailing {
		if c.TrailStartR == 0 {
			c.TrailStartR = 1.5
		}
		if c.TrailDistanceR == 0 && c.TrailDistance == 0 {
			c.TrailDistanceR = 0.5
		}
	}
	return nil
}

func (c Config) Validate() error {
	if c.BreakevenBuffer < 0 {
		return fmt.Errorf("breakeven_buffer must not be negative")
	}
	if c.PartialClose && (c.PartialCloseRatio <= 0 || c.PartialCloseRatio >= 1) {
		return fmt.Errorf("partial_close_ratio must be between 0 and 1 exclusive")
	}
	if c.Trailing {
		if c.TrailStartR <= 0 {
			return fmt.Errorf("trail_start_r must be positive")
		}
		if c.TrailDistance < 0 {
			return fmt.Errorf("trail_distance must not be negative")
		}
		if c.TrailDistance == 0 && c.TrailDistanceR <= 0 {
			return fmt.Errorf("trail_distance_r must be positive")
		}
	}
	return nil
}

// trailDistance is the gap kept between price and a trailing stop.
func (c Config) trailDistance(r float64) float64 {
	if c.TrailDistance > 0 {
		return c.TrailDistance
	}
	return c.TrailDistanceR * r
}
