package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// WalkConfig shapes a synthetic bar series.
type WalkConfig struct {
	Seed     int64
	Bars     int
	Start    float64       // first open
	Step     float64       // standard deviation of one bar's close-to-close move
	Drift    float64       // mean close-to-close move
	Interval time.Duration // bar length
	From     time.Time     // first bar time
	Digits   int32
}

// RandomWalk generates a reproducible Gaussian random walk of OHLC bars.
func RandomWalk(cfg WalkConfig) []market.Bar {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.From.IsZero() {
		cfg.From = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	meta := market.InstrumentMeta{Digits: cfg.Digits}

	bars := make([]market.Bar, 0, cfg.Bars)
	prev := cfg.Start
	for i := 0; i < cfg.Bars; i++ {
		open := prev
		closeP := open + cfg.Drift + rng.NormFloat64()*cfg.Step
		if closeP <= 0 {
			closeP = open / 2
		}
		high := math.Max(open, closeP) + math.Abs(rng.NormFloat64())*cfg.Step/2
		low := math.Min(open, closeP) - math.Abs(rng.NormFloat64())*cfg.Step/2
		if low <= 0 {
			low = math.Min(open, closeP) / 2
		}

		bars = append(bars, market.Bar{
			Time:  cfg.From.Add(time.Duration(i) * cfg.Interval),
			Open:  meta.NormalizePrice(open),
			High:  meta.NormalizePrice(high),
			Low:   meta.NormalizePrice(low),
			Close: meta.NormalizePrice(closeP),
		})
		prev = closeP
	}
	return bars
}
