package broker

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/scalper/market"
)

// OrderKind tags which variant an OrderRequest describes.
type OrderKind int

const (
	OpenMarket OrderKind = iota + 1
	OpenPendingStop
	ModifyProtective
	ReduceVolume
)

func (k OrderKind) String() string {
	switch k {
	case OpenMarket:
		return "open_market"
	case OpenPendingStop:
		return "open_pending_stop"
	case ModifyProtective:
		return "modify_protective"
	case ReduceVolume:
		return "reduce_volume"
	}
	return "unknown"
}

// UsesFillMode reports whether the venue executes the request as a deal and
// therefore needs a fill mode.
func (k OrderKind) UsesFillMode() bool {
	return k == OpenMarket || k == OpenPendingStop || k == ReduceVolume
}

// FillMode is the execution semantics requested for a deal.
type FillMode string

const (
	FillOrKill        FillMode = "fok"
	ImmediateOrCancel FillMode = "ioc"
	FillReturn        FillMode = "return"
)

func ParseFillMode(s string) (FillMode, error) {
	switch FillMode(strings.ToLower(strings.TrimSpace(s))) {
	case FillOrKill, "fill_or_kill":
		return FillOrKill, nil
	case ImmediateOrCancel, "immediate_or_cancel":
		return ImmediateOrCancel, nil
	case FillReturn:
		return FillReturn, nil
	}
	return "", fmt.Errorf("unknown fill mode %q (supported: fok, ioc, return)", s)
}

// DefaultFillModes is the order modes are tried in.
func DefaultFillModes() []FillMode {
	return []FillMode{FillOrKill, ImmediateOrCancel, FillReturn}
}

// OrderRequest is a single-use description of one venue request. Kind
// selects which fields are meaningful:
//
//	OpenMarket       Side, Volume, Price, Stop, Target
//	OpenPendingStop  Side, Volume, Price (trigger), Stop, Target
//	ModifyProtective Ticket, Stop, Target
//	ReduceVolume     Ticket, Side (of the closing deal), Volume, Price
type OrderRequest struct {
	Kind       OrderKind
	Instrument string
	Ticket     string
	Side       market.Side
	Volume     float64
	Price      float64
	Stop       float64
	Target     float64
	FillMode   FillMode

	Deviation int // max slippage in points
	Magic     int64
	Comment   string
	Reason    string // engine-side label, e.g. "entry", "breakeven"
}

// Header carries the fields every request from one strategy shares.
type Header struct {
	Instrument string
	Deviation  int
	Magic      int64
	Comment    string
}

func NewMarketOrder(h Header, side market.Side, volume, price, stop, target float64) OrderRequest {
	return OrderRequest{
		Kind:       OpenMarket,
		Instrument: h.Instrument,
		Side:       side,
		Volume:     volume,
		Price:      price,
		Stop:       stop,
		Target:     target,
		Deviation:  h.Deviation,
		Magic:      h.Magic,
		Comment:    h.Comment,
		Reason:     "entry",
	}
}

func NewPendingStop(h Header, side market.Side, volume, trigger, stop, target float64) OrderRequest {
	req := NewMarketOrder(h, side, volume, trigger, stop, target)
	req.Kind = OpenPendingStop
	return req
}

func NewModify(h Header, ticket string, stop, target float64, reason string) OrderRequest {
	return OrderRequest{
		Kind:       ModifyProtective,
		Instrument: h.Instrument,
		Ticket:     ticket,
		Stop:       stop,
		Target:     target,
		Magic:      h.Magic,
		Comment:    h.Comment,
		Reason:     reason,
	}
}

// NewReduce closes volume of the position identified by ticket with an
// opposite-side deal at price.
func NewReduce(h Header, pos Position, volume, price float64, reason string) OrderRequest {
	return OrderRequest{
		Kind:       ReduceVolume,
		Instrument: h.Instrument,
		Ticket:     pos.Ticket,
		Side:       pos.Side.Opposite(),
		Volume:     volume,
		Price:      price,
		Deviation:  h.Deviation,
		Magic:      h.Magic,
		Comment:    h.Comment,
		Reason:     reason,
	}
}

// WithFillMode returns a copy of r tagged with mode.
func (r OrderRequest) WithFillMode(mode FillMode) OrderRequest {
	r.FillMode = mode
	return r
}

func (r OrderRequest) String() string {
	switch r.Kind {
	case ModifyProtective:
		return fmt.Sprintf("%s %s ticket=%s stop=%.5f target=%.5f", r.Kind, r.Instrument, r.Ticket, r.Stop, r.Target)
	case ReduceVolume:
		return fmt.Sprintf("%s %s ticket=%s %s volume=%.2f price=%.5f", r.Kind, r.Instrument, r.Ticket, r.Side, r.Volume, r.Price)
	}
	return fmt.Sprintf("%s %s %s volume=%.2f price=%.5f stop=%.5f target=%.5f",
		r.Kind, r.Instrument, r.Side, r.Volume, r.Price, r.Stop, r.Target)
}
