package market

import "time"

// Tick is the current top of book for one instrument.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// SpreadPoints is the spread expressed in instrument points.
func (t Tick) SpreadPoints(meta InstrumentMeta) float64 {
	if meta.PointSize <= 0 {
		return 0
	}
	return t.Spread() / meta.PointSize
}

// EntryPrice is the price a new position on side would be filled at.
func (t Tick) EntryPrice(side Side) float64 {
	if side == Sell {
		return t.Bid
	}
	return t.Ask
}

// ExitPrice is the price an open position on side would be closed at.
// Longs close on the bid, shorts on the ask.
func (t Tick) ExitPrice(side Side) float64 {
	if side == Sell {
		return t.Ask
	}
	return t.Bid
}

// Valid reports whether both sides are quoted and not crossed.
func (t Tick) Valid() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Ask >= t.Bid
}
