// Package engine sequences one trading cycle: read bars and the quote,
// manage open positions, then on a new bar evaluate the signal and attempt
// an entry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/execution"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/lifecycle"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/metrics"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/signals"
)

type Options struct {
	Instrument string
	Timeframe  market.Timeframe
	Bars       int
	Interval   time.Duration

	Indicators indicators.Config
	Signal     signals.Policy
	Risk       risk.Policy
	Entry      execution.EntryConfig
	FillModes  []broker.FillMode
	Lifecycle  lifecycle.Config

	Deviation int
	Magic     int64
	Comment   string

	StartupAttempts int
	StartupDelay    time.Duration
}

func (o Options) header() broker.Header {
	return broker.Header{
		Instrument: o.Instrument,
		Deviation:  o.Deviation,
		Magic:      o.Magic,
		Comment:    o.Comment,
	}
}

// Outcome reports what one cycle did.
type Outcome struct {
	BarTime   time.Time
	NewBar    bool
	Evaluated bool
	Signal    signals.Signal
	Positions int
	Actions   []lifecycle.Action
	Entry     *execution.EntryReport
}

// Entered reports whether the cycle opened or placed an entry.
func (o Outcome) Entered() bool {
	return o.Entry != nil && o.Entry.Submitted()
}

type Engine struct {
	opts    Options
	venue   broker.Venue
	journal journal.Journal
	log     *slog.Logger

	sub   *execution.Submitter
	entry *execution.Entry
	mgr   *lifecycle.Manager
	store *lifecycle.Store

	meta    market.InstrumentMeta
	started bool
	lastBar time.Time
}

func New(opts Options, v broker.Venue, j journal.Journal, log *slog.Logger) (*Engine, error) {
	if v == nil {
		return nil, errors.New("engine: nil venue")
	}
	if opts.Instrument == "" {
		return nil, errors.New("engine: instrument is required")
	}
	if opts.Bars <= 0 {
		opts.Bars = 200
	}
	if opts.Signal == nil {
		opts.Signal = signals.TrendState{}
	}
	if opts.StartupAttempts <= 0 {
		opts.StartupAttempts = 1
	}
	if err := opts.Indicators.Validate(); err != nil {
		return nil, fmt.Errorf("engine: indicators: %w", err)
	}
	if err := opts.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("engine: risk: %w", err)
	}
	if opts.Bars < opts.Indicators.Warmup()+1 {
		return nil, fmt.Errorf("engine: bars %d must exceed the indicator warm-up %d", opts.Bars, opts.Indicators.Warmup())
	}
	if opts.Entry.Mode == execution.EntryPendingStop {
		opts.Lifecycle.InitialStop = true
		opts.Lifecycle.TargetMultiplier = opts.Risk.TargetMultiplier
	}
	if err := opts.Lifecycle.Validate(); err != nil {
		return nil, fmt.Errorf("engine: lifecycle: %w", err)
	}
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("instrument", opts.Instrument)

	h := opts.header()
	sub := execution.NewSubmitter(v, opts.FillModes, j, log)
	return &Engine{
		opts:    opts,
		venue:   v,
		journal: j,
		log:     log,
		sub:     sub,
		entry:   execution.NewEntry(opts.Entry, opts.Risk, h, v, sub, log),
		mgr:     lifecycle.NewManager(opts.Lifecycle, h, sub, log),
		store:   lifecycle.NewStore(),
	}, nil
}

// Store exposes the lifecycle flags for inspection.
func (e *Engine) Store() *lifecycle.Store {
	return e.store
}

func (e *Engine) Meta() market.InstrumentMeta {
	return e.meta
}

// Start performs the venue handshake: the account balance and instrument
// metadata must both be readable. Failures are retried StartupAttempts times
// StartupDelay apart before giving up with ErrStartupFailed.
func (e *Engine) Start(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= e.opts.StartupAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, e.opts.StartupDelay); err != nil {
				return fmt.Errorf("%w: %w", ErrStartupFailed, err)
			}
		}
		last = e.handshake(ctx)
		if last == nil {
			e.started = true
			return nil
		}
		e.log.Warn("startup handshake failed", "attempt", attempt, "of", e.opts.StartupAttempts, "err", last)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrStartupFailed, e.opts.StartupAttempts, last)
}

func (e *Engine) handshake(ctx context.Context) error {
	balance, err := e.venue.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("account balance: %w", err)
	}
	meta, err := e.venue.InstrumentMeta(ctx, e.opts.Instrument)
	if err != nil {
		return fmt.Errorf("instrument meta: %w", err)
	}
	if meta.Name == "" {
		meta.Name = e.opts.Instrument
	}
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("instrument meta: %w", err)
	}
	e.meta = meta
	metrics.Balance.Set(balance)
	e.log.Info("connected",
		"balance", balance,
		"point", meta.PointSize,
		"min_stop", meta.MinStopDistance,
		"min_volume", meta.MinVolume,
		"volume_step", meta.VolumeStep,
		"fill_modes", e.sub.Modes(),
	)
	return nil
}

// RunCycle runs one cycle. A non-nil error is always a *CycleError; the
// returned Outcome holds whatever the cycle completed before failing.
func (e *Engine) RunCycle(ctx context.Context) (Outcome, error) {
	out, cerr := e.cycle(ctx)
	if cerr != nil {
		metrics.Cycles.WithLabelValues(cerr.Kind.String()).Inc()
		return out, cerr
	}
	metrics.Cycles.WithLabelValues("ok").Inc()
	return out, nil
}

func (e *Engine) cycle(ctx context.Context) (out Outcome, _ *CycleError) {
	if !e.started {
		return out, &CycleError{Kind: KindAdapterFault, Op: "cycle", Err: errNotStarted}
	}
	o := e.opts

	bars, err := e.venue.Bars(ctx, o.Instrument, o.Timeframe, o.Bars)
	if err != nil {
		return out, dataError("bars", err)
	}
	last, ok := market.Latest(bars)
	if !ok {
		return out, dataError("bars", fmt.Errorf("%w: empty window", broker.ErrDataUnavailable))
	}
	out.BarTime = last.Time

	series, err := indicators.Compute(bars, o.Indicators)
	if err != nil {
		return out, dataError("indicators", fmt.Errorf("%w: %w", broker.ErrDataUnavailable, err))
	}

	tick, err := e.venue.Tick(ctx, o.Instrument)
	if err != nil {
		return out, dataError("tick", err)
	}
	if !tick.Valid() {
		return out, dataError("tick", fmt.Errorf("%w: invalid quote bid=%v ask=%v", broker.ErrDataUnavailable, tick.Bid, tick.Ask))
	}

	positions, err := e.openPositions(ctx)
	if err != nil {
		return out, cycleError("positions", err)
	}
	out.Positions = len(positions)
	metrics.OpenPositions.Set(float64(len(positions)))

	state, warm := series.Latest()
	var stopDistance float64
	if warm {
		if d, err := o.Risk.StopDistance(state.ATR, e.meta); err == nil {
			stopDistance = d
		}
	}

	actions, merr := e.mgr.Manage(ctx, e.store, positions, tick, stopDistance, e.meta)
	out.Actions = actions
	metrics.TrackedTickets.Set(float64(e.store.Len()))
	var manageErr *CycleError
	if merr != nil {
		manageErr = cycleError("lifecycle", merr)
		if manageErr.Kind != KindOrderRejected {
			return out, manageErr
		}
		e.log.Warn("lifecycle request rejected", "kind", manageErr.Kind.String(), "op", manageErr.Op, "err", merr)
	}

	if !last.Time.After(e.lastBar) {
		return out, manageErr
	}
	e.lastBar = last.Time
	out.NewBar = true
	out.Evaluated = true

	out.Signal = o.Signal.Evaluate(series)
	metrics.Signals.WithLabelValues(out.Signal.String()).Inc()
	side, act := out.Signal.Side()
	if !act {
		return out, manageErr
	}
	e.log.Info("signal", "signal", out.Signal.String(), "policy", o.Signal.Name(), "bar", last.Time, "fast", state.Fast, "slow", state.Slow, "atr", state.ATR)

	rep, err := e.entry.Attempt(ctx, side, state.ATR, e.meta, positions)
	out.Entry = &rep
	if rep.Balance > 0 {
		metrics.Balance.Set(rep.Balance)
	}
	if err != nil {
		return out, cycleError("entry", err)
	}
	return out, manageErr
}

// openPositions reads open positions and keeps those belonging to this
// strategy. Positions without a magic number are assumed to be ours.
func (e *Engine) openPositions(ctx context.Context) ([]broker.Position, error) {
	all, err := e.venue.OpenPositions(ctx, e.opts.Instrument)
	if err != nil {
		return nil, err
	}
	if e.opts.Magic == 0 {
		return all, nil
	}
	out := all[:0:0]
	for _, p := range all {
		if p.Magic == 0 || p.Magic == e.opts.Magic {
			out = append(out, p)
		}
	}
	return out, nil
}

// Run performs the startup handshake and then runs cycles Interval apart
// until ctx is cancelled. Cycle errors are logged; only a non-retriable one
// ends the loop.
func (e *Engine) Run(ctx context.Context) error {
	return e.RunStepped(ctx, nil)
}

// RunStepped is Run with next called after every cycle, before the interval
// wait, so a replayed feed moves only between cycles. The loop ends once
// next reports false.
func (e *Engine) RunStepped(ctx context.Context, next func() bool) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.log.Info("engine started", "timeframe", e.opts.Timeframe.String(), "interval", e.opts.Interval, "policy", e.opts.Signal.Name())

	for {
		out, err := e.RunCycle(ctx)
		if err != nil {
			var ce *CycleError
			if errors.As(err, &ce) {
				e.log.Error("cycle failed", "kind", ce.Kind.String(), "op", ce.Op, "err", ce.Err)
				if !ce.Retriable() {
					return err
				}
			}
		} else if out.Entered() {
			e.log.Info("entry placed", "ticket", out.Entry.Result.Ticket, "side", out.Entry.Side.String())
		}

		if next != nil && !next() {
			e.log.Info("engine stopped", "reason", "feed exhausted")
			return nil
		}

		if err := sleep(ctx, e.opts.Interval); err != nil {
			e.log.Info("engine stopped")
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
