package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/scalper/market"
)

var (
	// ErrDataUnavailable means bars or a tick could not be read this cycle.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrAdapterFault is a connectivity or authentication failure talking to
	// the venue.
	ErrAdapterFault = errors.New("adapter fault")

	// ErrOrderRejected means the venue declined a request in every fill mode
	// that was tried.
	ErrOrderRejected = errors.New("order rejected")
)

// Venue is the capability set the engine needs from a trading venue. Calls
// are synchronous; timeouts are the adapter's business.
type Venue interface {
	Bars(ctx context.Context, instrument string, tf market.Timeframe, count int) ([]market.Bar, error)
	Tick(ctx context.Context, instrument string) (market.Tick, error)
	AccountBalance(ctx context.Context) (float64, error)
	OpenPositions(ctx context.Context, instrument string) ([]Position, error)
	Submit(ctx context.Context, req OrderRequest) (Result, error)
	InstrumentMeta(ctx context.Context, instrument string) (market.InstrumentMeta, error)
}

// PendingLister is implemented by venues that can report resting entry
// orders that have not filled yet.
type PendingLister interface {
	PendingOrders(ctx context.Context, instrument string) ([]OrderRequest, error)
}

// Position is the engine's read-only mirror of one open venue position.
type Position struct {
	Ticket     string
	Instrument string
	Side       market.Side
	EntryPrice float64
	Volume     float64
	Stop       float64 // zero means no protective stop
	Target     float64 // zero means no target
	OpenTime   time.Time
	Magic      int64
}

// HasStop reports whether a protective stop is set.
func (p Position) HasStop() bool {
	return p.Stop > 0
}

// Profit is the favourable price move from entry at price.
func (p Position) Profit(price float64) float64 {
	return p.Side.Dir() * (price - p.EntryPrice)
}

// Result is the venue's answer to one request.
type Result struct {
	Accepted bool
	Code     int
	Message  string

	Ticket string  // ticket of the position or order the venue created or touched
	Price  float64 // fill price when known
}
