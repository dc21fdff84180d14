package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/scalper/market"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). The first
// bar of a window has no previous close and uses high-low alone.
func TrueRange(cur market.Bar, prev *market.Bar) float64 {
	hl := cur.High - cur.Low
	if prev == nil {
		return hl
	}
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// TrueRanges returns the true range of every bar in the window.
func TrueRanges(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		var prev *market.Bar
		if i > 0 {
			prev = &bars[i-1]
		}
		out[i] = TrueRange(bars[i], prev)
	}
	return out
}

// ATR returns the simple moving average of the true range over period bars
// for every bar in the window. Entries before the first full period are NaN.
func ATR(bars []market.Bar, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}

	tr := TrueRanges(bars)
	out := make([]float64, len(bars))
	for i := range tr {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		v, err := MA(tr[:i+1], period)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
