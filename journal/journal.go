// Package journal records what the engine sent to the venue and which
// trades closed. It is an audit trail, not a state store: nothing is read
// back to rebuild engine state.
package journal

import (
	"fmt"
	"time"
)

// OrderRecord is one request sent to the venue and its answer.
type OrderRecord struct {
	Time       time.Time
	Instrument string
	Kind       string // open_market, modify_protective, ...
	Reason     string // entry, initial_stop, breakeven, partial_close, trailing
	Ticket     string
	Side       string
	Volume     float64
	Price      float64
	Stop       float64
	Target     float64
	FillMode   string
	Accepted   bool
	Code       int
	Message    string
}

// TradeRecord is a fully or partially closed position.
type TradeRecord struct {
	Ticket     string
	Instrument string
	Side       string
	Volume     float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string // StopLoss, TakeProfit, PartialClose
}

type Journal interface {
	RecordOrder(OrderRecord) error
	RecordTrade(TradeRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordOrder(OrderRecord) error { return nil }
func (Nop) RecordTrade(TradeRecord) error { return nil }
func (Nop) Close() error                  { return nil }

// Open builds the journal named by typ ("none", "sqlite" or "csv").
func Open(typ, dbPath, ordersPath, tradesPath string) (Journal, error) {
	switch typ {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return NewSQLite(dbPath)
	case "csv":
		return NewCSV(ordersPath, tradesPath)
	}
	return nil, fmt.Errorf("unknown journal type %q (supported: none, sqlite, csv)", typ)
}
