package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
)

// Venue return codes, loosely modelled on MT5 trade server codes.
const (
	CodeDone            = 10009
	CodeInvalidStops    = 10016
	CodeInvalidVolume   = 10014
	CodeMarketClosed    = 10018
	CodeInvalidFill     = 10030
	CodePositionMissing = 10036
	CodeRejected        = 10006
)

// Fault injection points.
const (
	OpBars      = "bars"
	OpTick      = "tick"
	OpBalance   = "balance"
	OpPositions = "positions"
	OpSubmit    = "submit"
	OpMeta      = "meta"
)

type Config struct {
	Instrument string
	Meta       market.InstrumentMeta
	Balance    float64
	Spread     float64 // ask - bid in price units
	Seed       int64   // ticket ids repeat for the same non-zero seed

	// RejectFillModes are answered with CodeInvalidFill.
	RejectFillModes []broker.FillMode
}

type pendingOrder struct {
	ticket string
	req    broker.OrderRequest
	placed time.Time
}

// Venue is an in-memory broker.Venue driven by a bar series or by explicit
// ticks. Stops and targets are honoured on every price update.
type Venue struct {
	mu sync.Mutex

	cfg     Config
	log     *slog.Logger
	journal journal.Journal

	bars   []market.Bar
	cursor int

	tick    market.Tick
	hasTick bool

	balance   float64
	positions map[string]*broker.Position
	pending   []pendingOrder
	closed    []journal.TradeRecord
	requests  []broker.OrderRequest

	rejectModes  map[broker.FillMode]bool
	rejectModify int
	faults       map[string]error
	ids          *id.Generator
}

func New(cfg Config, j journal.Journal, log *slog.Logger) *Venue {
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.Meta.Name == "" {
		cfg.Meta = market.DefaultMeta(cfg.Instrument)
	}
	v := &Venue{
		cfg:         cfg,
		log:         log.With("component", "sim"),
		journal:     j,
		cursor:      -1,
		balance:     cfg.Balance,
		positions:   make(map[string]*broker.Position),
		rejectModes: make(map[broker.FillMode]bool),
		faults:      make(map[string]error),
		ids:         id.NewGenerator(cfg.Seed),
	}
	for _, m := range cfg.RejectFillModes {
		v.rejectModes[m] = true
	}
	return v
}

// Load replaces the bar series and rewinds the cursor.
func (v *Venue) Load(bars []market.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.bars = append([]market.Bar(nil), bars...)
	v.cursor = -1
}

// Seek positions the cursor on bar i without triggering stops, so a run can
// start with a warmed-up window.
func (v *Venue) Seek(i int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if i < 0 || i >= len(v.bars) {
		return fmt.Errorf("seek %d: out of range [0,%d)", i, len(v.bars))
	}
	v.cursor = i
	v.setTickLocked(v.bars[i].Time, v.bars[i].Close)
	return nil
}

// Advance moves to the next bar, fills triggered pending orders and closes
// positions whose stop or target was crossed within the bar. The stop is
// assumed to be hit first when a bar spans both. It returns false once the
// series is exhausted.
func (v *Venue) Advance() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cursor+1 >= len(v.bars) {
		return false
	}
	v.cursor++
	b := v.bars[v.cursor]

	v.triggerPendingLocked(b.High, b.Low, v.cfg.Spread, b.Time)
	v.sweepLocked(b.High, b.Low, v.cfg.Spread, b.Time)
	v.setTickLocked(b.Time, b.Close)
	return true
}

// SetTick overrides the current quote and applies stops and targets to it.
// Longs are tested against the bid and shorts against the ask of t.
func (v *Venue) SetTick(t market.Tick) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tick = t
	v.hasTick = true
	spread := max(t.Ask-t.Bid, 0)
	v.triggerPendingLocked(t.Bid, t.Bid, spread, t.Time)
	v.sweepLocked(t.Bid, t.Bid, spread, t.Time)
}

// RejectFillMode toggles rejection of one fill mode.
func (v *Venue) RejectFillMode(m broker.FillMode, reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectModes[m] = reject
}

// RejectNextModifies makes the next n ModifyProtective requests fail.
func (v *Venue) RejectNextModifies(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectModify = n
}

// Fail makes every call to op return err until Fail(op, nil) is called.
func (v *Venue) Fail(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.faults, op)
		return
	}
	v.faults[op] = err
}

// Requests returns every request submitted so far, in order.
func (v *Venue) Requests() []broker.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]broker.OrderRequest(nil), v.requests...)
}

// ClosedTrades returns realised closes, including partial ones.
func (v *Venue) ClosedTrades() []journal.TradeRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]journal.TradeRecord(nil), v.closed...)
}

// Open inserts a position directly, bypassing order validation.
func (v *Venue) Open(p broker.Position) broker.Position {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.Ticket == "" {
		p.Ticket = v.ids.At(v.nowLocked())
	}
	if p.Instrument == "" {
		p.Instrument = v.cfg.Instrument
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = v.nowLocked()
	}
	v.positions[p.Ticket] = &p
	return p
}

// Position returns the current state of one open position.
func (v *Venue) Position(ticket string) (broker.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.positions[ticket]
	if !ok {
		return broker.Position{}, false
	}
	return *p, true
}

func (v *Venue) Bars(ctx context.Context, instrument string, tf market.Timeframe, count int) ([]market.Bar, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpBars); err != nil {
		return nil, err
	}
	if instrument != v.cfg.Instrument {
		return nil, fmt.Errorf("bars %s: %w: unknown instrument", instrument, broker.ErrDataUnavailable)
	}
	if v.cursor < 0 {
		return nil, fmt.Errorf("bars %s: %w: no bars yet", instrument, broker.ErrDataUnavailable)
	}
	start := max(0, v.cursor+1-count)
	return append([]market.Bar(nil), v.bars[start:v.cursor+1]...), nil
}

func (v *Venue) Tick(ctx context.Context, instrument string) (market.Tick, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpTick); err != nil {
		return market.Tick{}, err
	}
	if !v.hasTick || instrument != v.cfg.Instrument {
		return market.Tick{}, fmt.Errorf("tick %s: %w", instrument, broker.ErrDataUnavailable)
	}
	return v.tick, nil
}

func (v *Venue) AccountBalance(ctx context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpBalance); err != nil {
		return 0, err
	}
	return v.balance, nil
}

func (v *Venue) OpenPositions(ctx context.Context, instrument string) ([]broker.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpPositions); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(v.positions))
	for _, p := range v.positions {
		if p.Instrument == instrument {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (v *Venue) PendingOrders(ctx context.Context, instrument string) ([]broker.OrderRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpPositions); err != nil {
		return nil, err
	}
	var out []broker.OrderRequest
	for _, po := range v.pending {
		if po.req.Instrument == instrument {
			req := po.req
			req.Ticket = po.ticket
			out = append(out, req)
		}
	}
	return out, nil
}

func (v *Venue) InstrumentMeta(ctx context.Context, instrument string) (market.InstrumentMeta, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpMeta); err != nil {
		return market.InstrumentMeta{}, err
	}
	if instrument != v.cfg.Instrument {
		return market.InstrumentMeta{}, fmt.Errorf("instrument %q: %w", instrument, broker.ErrAdapterFault)
	}
	return v.cfg.Meta, nil
}

func (v *Venue) Submit(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.faultLocked(OpSubmit); err != nil {
		return broker.Result{}, err
	}
	v.requests = append(v.requests, req)

	if req.Kind.UsesFillMode() && v.rejectModes[req.FillMode] {
		return reject(CodeInvalidFill, "unsupported filling mode %q", req.FillMode), nil
	}
	if !v.hasTick {
		return reject(CodeMarketClosed, "no quote"), nil
	}

	switch req.Kind {
	case broker.OpenMarket:
		return v.openMarketLocked(req), nil
	case broker.OpenPendingStop:
		return v.placePendingLocked(req), nil
	case broker.ModifyProtective:
		return v.modifyLocked(req), nil
	case broker.ReduceVolume:
		return v.reduceLocked(req), nil
	}
	return reject(CodeRejected, "unknown request kind %d", req.Kind), nil
}

func (v *Venue) openMarketLocked(req broker.OrderRequest) broker.Result {
	if req.Volume < v.cfg.Meta.MinVolume || req.Volume <= 0 {
		return reject(CodeInvalidVolume, "volume %.4f below minimum %.4f", req.Volume, v.cfg.Meta.MinVolume)
	}
	price := v.tick.EntryPrice(req.Side)
	if !v.stopsValid(req.Side, price, req.Stop, req.Target) {
		return reject(CodeInvalidStops, "invalid stops sl=%.5f tp=%.5f at %.5f", req.Stop, req.Target, price)
	}

	p := &broker.Position{
		Ticket:     v.ids.At(v.nowLocked()),
		Instrument: req.Instrument,
		Side:       req.Side,
		EntryPrice: price,
		Volume:     req.Volume,
		Stop:       req.Stop,
		Target:     req.Target,
		OpenTime:   v.nowLocked(),
		Magic:      req.Magic,
	}
	v.positions[p.Ticket] = p
	v.log.Debug("position opened", "ticket", p.Ticket, "side", p.Side, "price", price, "volume", p.Volume)
	return broker.Result{Accepted: true, Code: CodeDone, Message: "done", Ticket: p.Ticket, Price: price}
}

func (v *Venue) placePendingLocked(req broker.OrderRequest) broker.Result {
	if req.Volume < v.cfg.Meta.MinVolume || req.Volume <= 0 {
		return reject(CodeInvalidVolume, "volume %.4f below minimum %.4f", req.Volume, v.cfg.Meta.MinVolume)
	}
	price := v.tick.EntryPrice(req.Side)
	if req.Side.Dir()*(req.Price-price) <= 0 {
		return reject(CodeInvalidStops, "stop entry %.5f on wrong side of %.5f", req.Price, price)
	}
	t := v.ids.At(v.nowLocked())
	v.pending = append(v.pending, pendingOrder{ticket: t, req: req, placed: v.nowLocked()})
	return broker.Result{Accepted: true, Code: CodeDone, Message: "placed", Ticket: t, Price: req.Price}
}

func (v *Venue) modifyLocked(req broker.OrderRequest) broker.Result {
	p, ok := v.positions[req.Ticket]
	if !ok {
		return reject(CodePositionMissing, "position %s not found", req.Ticket)
	}
	if v.rejectModify > 0 {
		v.rejectModify--
		return reject(CodeRejected, "modification rejected")
	}
	if !v.stopsValid(p.Side, v.tick.ExitPrice(p.Side), req.Stop, req.Target) {
		return reject(CodeInvalidStops, "invalid stops sl=%.5f tp=%.5f", req.Stop, req.Target)
	}
	p.Stop = req.Stop
	p.Target = req.Target
	return broker.Result{Accepted: true, Code: CodeDone, Message: "modified", Ticket: p.Ticket}
}

func (v *Venue) reduceLocked(req broker.OrderRequest) broker.Result {
	p, ok := v.positions[req.Ticket]
	if !ok {
		return reject(CodePositionMissing, "position %s not found", req.Ticket)
	}
	if req.Side != p.Side.Opposite() {
		return reject(CodeRejected, "reduce must be opposite to position side")
	}
	if req.Volume <= 0 || req.Volume > p.Volume+1e-9 {
		return reject(CodeInvalidVolume, "volume %.4f outside (0, %.4f]", req.Volume, p.Volume)
	}

	price := v.tick.ExitPrice(p.Side)
	v.realizeLocked(p, req.Volume, price, v.nowLocked(), "PartialClose")
	return broker.Result{Accepted: true, Code: CodeDone, Message: "done", Ticket: p.Ticket, Price: price}
}

// stopsValid checks that stop and target sit on the loss and profit sides of
// price respectively, no closer than the minimum stop distance.
func (v *Venue) stopsValid(side market.Side, price, stop, target float64) bool {
	d := side.Dir()
	minDist := v.cfg.Meta.MinStopDistance
	if stop > 0 && d*(price-stop) < minDist {
		return false
	}
	if target > 0 && d*(target-price) < minDist {
		return false
	}
	return true
}

// triggerPendingLocked fills buy stops reached by the ask and sell stops
// reached by the bid. high and low are bid prices.
func (v *Venue) triggerPendingLocked(high, low, spread float64, now time.Time) {
	kept := v.pending[:0]
	for _, po := range v.pending {
		req := po.req
		hit := (req.Side == market.Buy && high+spread >= req.Price) ||
			(req.Side == market.Sell && low <= req.Price)
		if !hit {
			kept = append(kept, po)
			continue
		}
		p := &broker.Position{
			Ticket:     po.ticket,
			Instrument: req.Instrument,
			Side:       req.Side,
			EntryPrice: req.Price,
			Volume:     req.Volume,
			Stop:       req.Stop,
			Target:     req.Target,
			OpenTime:   now,
			Magic:      req.Magic,
		}
		v.positions[p.Ticket] = p
		v.log.Debug("pending order filled", "ticket", p.Ticket, "side", p.Side, "price", p.EntryPrice)
	}
	v.pending = kept
}

// sweepLocked closes positions whose stop or target lies within [low, high]
// of the bid, shifted by spread for shorts.
func (v *Venue) sweepLocked(high, low, spread float64, now time.Time) {
	tickets := make([]string, 0, len(v.positions))
	for t := range v.positions {
		tickets = append(tickets, t)
	}
	sort.Strings(tickets)

	for _, t := range tickets {
		p := v.positions[t]
		// shorts exit on the ask
		hi, lo := high, low
		if p.Side == market.Sell {
			hi += spread
			lo += spread
		}

		switch {
		case p.Side == market.Buy && p.Stop > 0 && lo <= p.Stop:
			v.realizeLocked(p, p.Volume, p.Stop, now, "StopLoss")
		case p.Side == market.Sell && p.Stop > 0 && hi >= p.Stop:
			v.realizeLocked(p, p.Volume, p.Stop, now, "StopLoss")
		case p.Side == market.Buy && p.Target > 0 && hi >= p.Target:
			v.realizeLocked(p, p.Volume, p.Target, now, "TakeProfit")
		case p.Side == market.Sell && p.Target > 0 && lo <= p.Target:
			v.realizeLocked(p, p.Volume, p.Target, now, "TakeProfit")
		}
	}
}

func (v *Venue) realizeLocked(p *broker.Position, volume, price float64, now time.Time, reason string) {
	pl := volume * p.Profit(price) * v.cfg.Meta.ValuePerUnit()
	v.balance += pl

	rec := journal.TradeRecord{
		Ticket:     p.Ticket,
		Instrument: p.Instrument,
		Side:       p.Side.String(),
		Volume:     volume,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		OpenTime:   p.OpenTime,
		CloseTime:  now,
		RealizedPL: pl,
		Reason:     reason,
	}
	v.closed = append(v.closed, rec)
	if err := v.journal.RecordTrade(rec); err != nil {
		v.log.Warn("journal trade", "ticket", p.Ticket, "err", err)
	}

	p.Volume = v.cfg.Meta.FloorVolume(p.Volume - volume + 1e-9)
	if p.Volume < 1e-6 {
		delete(v.positions, p.Ticket)
	}
	v.log.Debug("position closed", "ticket", p.Ticket, "reason", reason, "price", price, "pl", pl)
}

func (v *Venue) setTickLocked(t time.Time, close float64) {
	v.tick = market.Tick{
		Instrument: v.cfg.Instrument,
		Time:       t,
		Bid:        close,
		Ask:        v.cfg.Meta.NormalizePrice(close + v.cfg.Spread),
	}
	v.hasTick = true
}

func (v *Venue) nowLocked() time.Time {
	if v.hasTick && !v.tick.Time.IsZero() {
		return v.tick.Time
	}
	return time.Now().UTC()
}

func (v *Venue) faultLocked(op string) error {
	if err, ok := v.faults[op]; ok {
		return fmt.Errorf("sim %s: %w", op, err)
	}
	return nil
}

func reject(code int, format string, args ...any) broker.Result {
	return broker.Result{Accepted: false, Code: code, Message: fmt.Sprintf(format, args...)}
}
