package risk

import (
	"math"
	"testing"

	"github.com/rustyeddy/scalper/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gold() market.InstrumentMeta {
	return market.DefaultMeta("XAUUSD")
}

func TestStopDistanceFloor(t *testing.T) {
	t.Parallel()

	p := Policy{StopMultiplier: 1.5, TargetMultiplier: 2, SafetyBuffer: 1}
	meta := market.InstrumentMeta{MinStopDistance: 5}

	tests := []struct {
		name string
		atr  float64
		want float64
	}{
		{"boundary equal", 4, 6},
		{"atr dominates", 10, 15},
		{"floor dominates", 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.StopDistance(tt.atr, meta)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestStopDistanceRejectsBadATR(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	for _, atr := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := p.StopDistance(atr, gold())
		assert.ErrorIs(t, err, ErrInvalidRiskPlan, "atr=%v", atr)
	}
}

func TestTargetDistance(t *testing.T) {
	t.Parallel()

	p := Policy{TargetMultiplier: 2}
	assert.Equal(t, 20.0, p.TargetDistance(10))

	plan := Plan{StopDistance: 10, TargetDistance: p.TargetDistance(10)}
	_, buyTarget := plan.Levels(market.Buy, 100)
	_, sellTarget := plan.Levels(market.Sell, 100)
	assert.Equal(t, 20.0, buyTarget-100)
	assert.Equal(t, 20.0, 100-sellTarget)
}

func TestVolume(t *testing.T) {
	t.Parallel()

	meta := gold()

	fixed := Policy{Sizing: SizingFixed, FixedVolume: 0.05}
	v, err := fixed.Volume(10_000, 6, meta)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, v, 1e-12)

	pct := Policy{Sizing: SizingRiskPercent, RiskFraction: 0.01}
	// 1% of 10,000 = 100 at risk; 6.0 of price is worth 600 per lot
	v, err = pct.Volume(10_000, 6, meta)
	require.NoError(t, err)
	assert.InDelta(t, 0.17, v, 1e-12)

	// tiny account floors at the venue minimum
	v, err = pct.Volume(10, 6, meta)
	require.NoError(t, err)
	assert.InDelta(t, meta.MinVolume, v, 1e-12)

	_, err = pct.Volume(0, 6, meta)
	assert.ErrorIs(t, err, ErrInvalidRiskPlan)
	_, err = pct.Volume(10_000, 0, meta)
	assert.ErrorIs(t, err, ErrInvalidRiskPlan)
	_, err = pct.Volume(10_000, 6, market.InstrumentMeta{VolumeStep: 0.01, MinVolume: 0.01})
	assert.ErrorIs(t, err, ErrInvalidRiskPlan)
}

func TestBuildAndLevels(t *testing.T) {
	t.Parallel()

	p := Policy{
		StopMultiplier:   1.5,
		TargetMultiplier: 2,
		SafetyBuffer:     0.1,
		Sizing:           SizingFixed,
		FixedVolume:      0.1,
	}
	plan, err := p.Build(4, 10_000, gold())
	require.NoError(t, err)
	assert.InDelta(t, 6.0, plan.StopDistance, 1e-12)
	assert.InDelta(t, 12.0, plan.TargetDistance, 1e-12)
	assert.InDelta(t, 0.1, plan.Volume, 1e-12)

	stop, target := plan.Levels(market.Buy, 2000)
	assert.InDelta(t, 1994.0, stop, 1e-9)
	assert.InDelta(t, 2012.0, target, 1e-9)

	stop, target = plan.Levels(market.Sell, 2000)
	assert.InDelta(t, 2006.0, stop, 1e-9)
	assert.InDelta(t, 1988.0, target, 1e-9)

	_, err = p.Build(0, 10_000, gold())
	assert.ErrorIs(t, err, ErrInvalidRiskPlan)
}

func TestBuildRejectsNonPositiveBalance(t *testing.T) {
	t.Parallel()

	for _, sizing := range []Sizing{SizingFixed, SizingRiskPercent} {
		p := DefaultPolicy()
		p.Sizing = sizing
		p.FixedVolume = 0.1
		for _, bal := range []float64{0, -500, math.NaN()} {
			_, err := p.Build(4, bal, gold())
			assert.ErrorIs(t, err, ErrInvalidRiskPlan, "sizing=%s balance=%v", sizing, bal)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Sizing = SizingFixed
	p.FixedVolume = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.RiskFraction = 2
	assert.Error(t, p.Validate())

	_, err := ParseSizing("kelly")
	assert.Error(t, err)
	s, err := ParseSizing("risk-percent")
	require.NoError(t, err)
	assert.Equal(t, SizingRiskPercent, s)
}

func TestCalcHelpers(t *testing.T) {
	t.Parallel()

	meta := gold()
	assert.InDelta(t, 60.0, PlannedRisk(0.1, 6, meta), 1e-9)
	assert.InDelta(t, 2.0, RR(2000, 1994, 2012), 1e-12)
	assert.Equal(t, 0.0, RR(2000, 2000, 2012))
	assert.InDelta(t, 0.006, RiskPct(60, 10_000), 1e-12)
	assert.True(t, math.IsInf(RiskPct(60, 0), 1))
	assert.InDelta(t, 1.5, RMultiple(market.Sell, 2000, 1991, 6), 1e-12)
}
