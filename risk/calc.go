package risk

import (
	"math"

	"github.com/rustyeddy/scalper/market"
)

// PlannedRisk is the account-currency loss if a position of volume is
// stopped out stopDistance away from entry.
func PlannedRisk(volume, stopDistance float64, meta market.InstrumentMeta) float64 {
	return volume * math.Abs(stopDistance) * meta.ValuePerUnit()
}

// RR is the reward to risk ratio of a set of levels.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// RiskPct is the planned loss as a fraction of balance.
func RiskPct(plannedRisk, balance float64) float64 {
	if balance <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / balance
}

// RMultiple expresses a favourable price move in units of the stop distance.
func RMultiple(side market.Side, entry, price, stopDistance float64) float64 {
	if stopDistance <= 0 {
		return 0
	}
	return side.Dir() * (price - entry) / stopDistance
}
