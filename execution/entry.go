package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/risk"
)

// EntryMode selects how a new position is opened.
type EntryMode string

const (
	EntryMarket      EntryMode = "market"
	EntryPendingStop EntryMode = "pending_stop"
)

func ParseEntryMode(s string) (EntryMode, error) {
	switch EntryMode(strings.ToLower(strings.TrimSpace(s))) {
	case EntryMarket:
		return EntryMarket, nil
	case EntryPendingStop, "pending-stop", "stop":
		return EntryPendingStop, nil
	}
	return "", fmt.Errorf("unknown entry mode %q (supported: market, pending_stop)", s)
}

// Skip reasons reported when a gate blocks an entry.
const (
	SkipSpread       = "spread_above_limit"
	SkipPositionOpen = "position_open"
)

type EntryConfig struct {
	Mode           EntryMode
	SpreadLimit    float64 // points
	SinglePosition bool

	// Pending stop entries only.
	PendingOffset         float64 // price units beyond the current quote
	PlaceholderMultiplier float64 // placeholder stop/target distance in multiples of the stop distance
}

// EntryReport describes one entry attempt.
type EntryReport struct {
	Side    market.Side
	Skipped string // non-empty when a gate blocked the entry
	Spread  float64
	Balance float64
	Plan    risk.Plan
	Request broker.OrderRequest
	Result  broker.Result
}

// Submitted reports whether a request reached the venue and was accepted.
func (r EntryReport) Submitted() bool {
	return r.Result.Accepted
}

// Entry runs the entry gates and submits new positions.
type Entry struct {
	cfg    EntryConfig
	policy risk.Policy
	header broker.Header
	venue  broker.Venue
	sub    *Submitter
	log    *slog.Logger
}

func NewEntry(cfg EntryConfig, policy risk.Policy, h broker.Header, v broker.Venue, sub *Submitter, log *slog.Logger) *Entry {
	if cfg.Mode == "" {
		cfg.Mode = EntryMarket
	}
	if cfg.PlaceholderMultiplier <= 0 {
		cfg.PlaceholderMultiplier = 5
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Entry{cfg: cfg, policy: policy, header: h, venue: v, sub: sub, log: log}
}

// Attempt checks, in order, the spread gate, the open-position gate, builds
// the risk plan and submits the entry. Gate blocks are not errors; they are
// reported through EntryReport.Skipped. The quote is read here, at
// submission time, not when the signal was detected.
func (e *Entry) Attempt(ctx context.Context, side market.Side, atr float64, meta market.InstrumentMeta, open []broker.Position) (EntryReport, error) {
	rep := EntryReport{Side: side}

	tick, err := e.venue.Tick(ctx, e.header.Instrument)
	if err != nil {
		return rep, dataUnavailable("entry tick", err)
	}
	if !tick.Valid() {
		return rep, fmt.Errorf("entry tick: %w: invalid quote bid=%v ask=%v", broker.ErrDataUnavailable, tick.Bid, tick.Ask)
	}

	rep.Spread = tick.SpreadPoints(meta)
	if rep.Spread > e.cfg.SpreadLimit {
		rep.Skipped = SkipSpread
		e.log.Info("spread too high, skipping entry", "side", side.String(), "spread", rep.Spread, "limit", e.cfg.SpreadLimit)
		return rep, nil
	}

	if e.cfg.SinglePosition {
		busy, err := e.hasExposure(ctx, open)
		if err != nil {
			return rep, err
		}
		if busy {
			rep.Skipped = SkipPositionOpen
			e.log.Info("position already open, skipping entry", "side", side.String(), "open", len(open))
			return rep, nil
		}
	}

	balance, err := e.venue.AccountBalance(ctx)
	if err != nil {
		return rep, adapterFault("entry balance", err)
	}
	rep.Balance = balance

	plan, err := e.policy.Build(atr, balance, meta)
	if err != nil {
		return rep, fmt.Errorf("entry plan: %w", err)
	}
	rep.Plan = plan

	rep.Request = e.buildRequest(side, tick, plan, meta)

	planned := risk.PlannedRisk(plan.Volume, plan.StopDistance, meta)
	e.log.Info("submitting entry",
		"side", side.String(),
		"kind", rep.Request.Kind.String(),
		"price", rep.Request.Price,
		"stop", rep.Request.Stop,
		"target", rep.Request.Target,
		"volume", plan.Volume,
		"risk", planned,
		"risk_pct", risk.RiskPct(planned, balance),
		"rr", risk.RR(rep.Request.Price, rep.Request.Stop, rep.Request.Target),
	)

	res, err := e.sub.Submit(ctx, rep.Request)
	rep.Result = res
	if err != nil {
		return rep, err
	}
	e.log.Info("entry accepted", "side", side.String(), "ticket", res.Ticket, "price", res.Price, "fill_mode", string(rep.Request.FillMode))
	return rep, nil
}

func (e *Entry) buildRequest(side market.Side, tick market.Tick, plan risk.Plan, meta market.InstrumentMeta) broker.OrderRequest {
	price := tick.EntryPrice(side)

	if e.cfg.Mode == EntryPendingStop {
		trigger := meta.NormalizePrice(price + side.Dir()*e.cfg.PendingOffset)
		wide := risk.Plan{
			StopDistance:   plan.StopDistance * e.cfg.PlaceholderMultiplier,
			TargetDistance: plan.TargetDistance * e.cfg.PlaceholderMultiplier,
		}
		stop, target := wide.Levels(side, trigger)
		return broker.NewPendingStop(e.header, side, plan.Volume, trigger,
			meta.NormalizePrice(stop), meta.NormalizePrice(target))
	}

	stop, target := plan.Levels(side, price)
	return broker.NewMarketOrder(e.header, side, plan.Volume, price,
		meta.NormalizePrice(stop), meta.NormalizePrice(target))
}

// hasExposure reports whether a position or, when the venue can list them,
// a resting entry order already exists.
func (e *Entry) hasExposure(ctx context.Context, open []broker.Position) (bool, error) {
	if len(open) > 0 {
		return true, nil
	}
	pl, ok := e.venue.(broker.PendingLister)
	if !ok {
		return false, nil
	}
	pending, err := pl.PendingOrders(ctx, e.header.Instrument)
	if err != nil {
		return false, adapterFault("pending orders", err)
	}
	for _, o := range pending {
		if e.header.Magic == 0 || o.Magic == 0 || o.Magic == e.header.Magic {
			return true, nil
		}
	}
	return false, nil
}

func dataUnavailable(op string, err error) error {
	if errors.Is(err, broker.ErrDataUnavailable) || errors.Is(err, broker.ErrAdapterFault) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, broker.ErrDataUnavailable, err)
}
