package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstrumentMeta is the venue's trading metadata for one symbol.
type InstrumentMeta struct {
	Name   string
	Digits int32

	PointSize float64 // smallest price increment, used for spreads and deviation
	TickSize  float64 // price move that changes P/L by TickValue per 1.0 volume
	TickValue float64 // account-currency value of one TickSize move per 1.0 volume

	MinStopDistance float64 // closest a stop may be placed to price, in price units

	MinVolume  float64
	MaxVolume  float64 // zero means no cap
	VolumeStep float64
}

func (m InstrumentMeta) Validate() error {
	if m.PointSize <= 0 {
		return fmt.Errorf("%s: point size must be positive", m.Name)
	}
	if m.TickValue <= 0 {
		return fmt.Errorf("%s: tick value must be positive", m.Name)
	}
	if m.MinVolume <= 0 || m.VolumeStep <= 0 {
		return fmt.Errorf("%s: min volume and volume step must be positive", m.Name)
	}
	if m.MinStopDistance < 0 {
		return fmt.Errorf("%s: min stop distance must not be negative", m.Name)
	}
	return nil
}

// EffectiveTickSize falls back to the point size when the venue does not
// report a separate tick size.
func (m InstrumentMeta) EffectiveTickSize() float64 {
	if m.TickSize > 0 {
		return m.TickSize
	}
	return m.PointSize
}

// ValuePerUnit is the account-currency P/L of a 1.0 price move on 1.0 volume.
func (m InstrumentMeta) ValuePerUnit() float64 {
	ts := m.EffectiveTickSize()
	if ts <= 0 {
		return 0
	}
	return m.TickValue / ts
}

// NormalizePrice rounds p to the instrument's digits.
func (m InstrumentMeta) NormalizePrice(p float64) float64 {
	if m.Digits <= 0 {
		return p
	}
	v, _ := decimal.NewFromFloat(p).Round(m.Digits).Float64()
	return v
}

// NormalizeVolume rounds v to the nearest volume step, floors it at the
// minimum tradable size and caps it at the maximum when one is set.
func (m InstrumentMeta) NormalizeVolume(v float64) float64 {
	if m.VolumeStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(m.VolumeStep)
	d := decimal.NewFromFloat(v).Div(step).Round(0).Mul(step)
	if lo := decimal.NewFromFloat(m.MinVolume); d.LessThan(lo) {
		d = lo
	}
	if m.MaxVolume > 0 {
		if hi := decimal.NewFromFloat(m.MaxVolume); d.GreaterThan(hi) {
			d = hi
		}
	}
	out, _ := d.Float64()
	return out
}

// FloorVolume rounds v down to the volume step without applying the
// minimum. Used when splitting an existing position.
func (m InstrumentMeta) FloorVolume(v float64) float64 {
	if m.VolumeStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(m.VolumeStep)
	out, _ := decimal.NewFromFloat(v).Div(step).Floor().Mul(step).Float64()
	return out
}

// DefaultMeta is used by the simulated venue when the config does not
// override it. It describes spot gold quoted to two decimals.
func DefaultMeta(name string) InstrumentMeta {
	return InstrumentMeta{
		Name:            name,
		Digits:          2,
		PointSize:       0.01,
		TickSize:        0.01,
		TickValue:       1,
		MinStopDistance: 0.5,
		MinVolume:       0.01,
		MaxVolume:       100,
		VolumeStep:      0.01,
	}
}
