package market

// Side is the direction of a position or entry.
type Side int

const (
	Buy Side = iota + 1
	Sell
)

// Dir is +1 for Buy and -1 for Sell. Profit in price units is
// Dir() * (price - entry).
func (s Side) Dir() float64 {
	switch s {
	case Buy:
		return 1
	case Sell:
		return -1
	}
	return 0
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}
