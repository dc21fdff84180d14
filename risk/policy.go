package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/scalper/market"
)

// ErrInvalidRiskPlan is returned when a plan would have a non-positive
// distance or volume.
var ErrInvalidRiskPlan = errors.New("invalid risk plan")

// Sizing selects how the entry volume is chosen.
type Sizing string

const (
	SizingFixed       Sizing = "fixed"
	SizingRiskPercent Sizing = "risk_percent"
)

func ParseSizing(s string) (Sizing, error) {
	switch Sizing(strings.ToLower(strings.TrimSpace(s))) {
	case SizingFixed:
		return SizingFixed, nil
	case SizingRiskPercent, "risk-percent", "percent":
		return SizingRiskPercent, nil
	}
	return "", fmt.Errorf("unknown sizing mode %q (supported: fixed, risk_percent)", s)
}

// Policy converts volatility and account state into a Plan.
type Policy struct {
	StopMultiplier   float64 `json:"stop_multiplier" yaml:"stop_multiplier"`
	TargetMultiplier float64 `json:"target_multiplier" yaml:"target_multiplier"`
	SafetyBuffer     float64 `json:"safety_buffer" yaml:"safety_buffer"` // price units over the venue minimum stop distance

	Sizing       Sizing  `json:"sizing" yaml:"sizing"`
	FixedVolume  float64 `json:"fixed_volume" yaml:"fixed_volume"`
	RiskFraction float64 `json:"risk_fraction" yaml:"risk_fraction"` // 0.01 == 1% of balance
}

func DefaultPolicy() Policy {
	return Policy{
		StopMultiplier:   1.5,
		TargetMultiplier: 2.0,
		SafetyBuffer:     0.1,
		Sizing:           SizingRiskPercent,
		FixedVolume:      0.01,
		RiskFraction:     0.01,
	}
}

func (p Policy) Validate() error {
	if p.StopMultiplier <= 0 {
		return fmt.Errorf("stop_multiplier must be positive")
	}
	if p.TargetMultiplier <= 0 {
		return fmt.Errorf("target_multiplier must be positive")
	}
	if p.SafetyBuffer < 0 {
		return fmt.Errorf("safety_buffer must not be negative")
	}
	switch p.Sizing {
	case SizingFixed:
		if p.FixedVolume <= 0 {
			return fmt.Errorf("fixed_volume must be positive for fixed sizing")
		}
	case SizingRiskPercent:
		if p.RiskFraction <= 0 || p.RiskFraction > 1 {
			return fmt.Errorf("risk_fraction must be between 0 and 1")
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", p.Sizing)
	}
	return nil
}

// Plan is the stop distance, target distance and volume for one entry.
type Plan struct {
	StopDistance   float64
	TargetDistance float64
	Volume         float64
}

// StopDistance is max(atr*StopMultiplier, meta.MinStopDistance+SafetyBuffer).
// The floor keeps stops outside the venue's minimum distance.
func (p Policy) StopDistance(atr float64, meta market.InstrumentMeta) (float64, error) {
	if !positive(atr) {
		return 0, fmt.Errorf("%w: atr %v", ErrInvalidRiskPlan, atr)
	}
	d := math.Max(atr*p.StopMultiplier, meta.MinStopDistance+p.SafetyBuffer)
	if !positive(d) {
		return 0, fmt.Errorf("%w: stop distance %v", ErrInvalidRiskPlan, d)
	}
	return d, nil
}

// TargetDistance is the stop distance scaled by the reward multiple.
func (p Policy) TargetDistance(stopDistance float64) float64 {
	return stopDistance * p.TargetMultiplier
}

// Volume sizes the entry. Fixed sizing returns the configured volume;
// risk-percent sizing risks RiskFraction of balance over stopDistance. Both
// are normalised to the venue's volume step and minimum, and both refuse a
// non-positive balance.
func (p Policy) Volume(balance, stopDistance float64, meta market.InstrumentMeta) (float64, error) {
	if !positive(balance) {
		return 0, fmt.Errorf("%w: balance %v", ErrInvalidRiskPlan, balance)
	}
	var v float64
	switch p.Sizing {
	case SizingFixed:
		v = p.FixedVolume
	case SizingRiskPercent:
		if !positive(stopDistance) {
			return 0, fmt.Errorf("%w: stop distance %v", ErrInvalidRiskPlan, stopDistance)
		}
		perUnit := meta.ValuePerUnit()
		if !positive(perUnit) {
			return 0, fmt.Errorf("%w: tick value %v / tick size %v", ErrInvalidRiskPlan, meta.TickValue, meta.EffectiveTickSize())
		}
		v = balance * p.RiskFraction / (stopDistance * perUnit)
	default:
		return 0, fmt.Errorf("%w: unknown sizing mode %q", ErrInvalidRiskPlan, p.Sizing)
	}

	v = meta.NormalizeVolume(v)
	if !positive(v) {
		return 0, fmt.Errorf("%w: volume %v", ErrInvalidRiskPlan, v)
	}
	return v, nil
}

// Build computes the full plan for one entry decision.
func (p Policy) Build(atr, balance float64, meta market.InstrumentMeta) (Plan, error) {
	stop, err := p.StopDistance(atr, meta)
	if err != nil {
		return Plan{}, err
	}
	target := p.TargetDistance(stop)
	if !positive(target) {
		return Plan{}, fmt.Errorf("%w: target distance %v", ErrInvalidRiskPlan, target)
	}
	vol, err := p.Volume(balance, stop, meta)
	if err != nil {
		return Plan{}, err
	}
	return Plan{StopDistance: stop, TargetDistance: target, Volume: vol}, nil
}

// Levels places the stop and target around price in the loss and profit
// directions for side.
func (pl Plan) Levels(side market.Side, price float64) (stop, target float64) {
	d := side.Dir()
	return price - d*pl.StopDistance, price + d*pl.TargetDistance
}

func positive(x float64) bool {
	return x > 0 && !math.IsNaN(x) && !math.IsInf(x, 0)
}
