package market

import (
	"fmt"
	"strings"
	"time"
)

// Bar is one OHLC sample for a fixed interval. Bars are ordered oldest first
// and are never mutated once produced.
type Bar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Timeframe is a bar interval in the venue's notation ("M1", "H4", ...).
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D"
)

var timeframes = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// ParseTimeframe accepts the names above, case-insensitively.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if tf == "D1" {
		tf = D1
	}
	if _, ok := timeframes[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the length of one bar, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframes[tf]
}

func (tf Timeframe) String() string {
	return string(tf)
}

// Latest returns the most recent bar of a window.
func Latest(bars []Bar) (Bar, bool) {
	if len(bars) == 0 {
		return Bar{}, false
	}
	return bars[len(bars)-1], true
}
