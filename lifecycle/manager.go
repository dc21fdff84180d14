// Package lifecycle drives open positions through initial stop assignment,
// breakeven, partial close and trailing stop updates. One-time steps are
// guarded by per-ticket flags in a Store owned by the caller.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/execution"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/metrics"
	"github.com/rustyeddy/scalper/risk"
)

type ActionKind string

const (
	ActionInitialStop  ActionKind = "initial_stop"
	ActionBreakeven    ActionKind = "breakeven"
	ActionPartialClose ActionKind = "partial_close"
	ActionTrailing     ActionKind = "trailing"
)

// Action is one request the manager sent for a position.
type Action struct {
	Ticket   string
	Kind     ActionKind
	OldStop  float64
	NewStop  float64
	Volume   float64 // closed volume for partial closes
	Accepted bool
	Code     int
	Message  string
}

type Manager struct {
	cfg    Config
	header broker.Header
	sub    *execution.Submitter
	log    *slog.Logger
}

func NewManager(cfg Config, h broker.Header, sub *execution.Submitter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{cfg: cfg, header: h, sub: sub, log: log}
}

// Manage prunes tickets that are no longer open, then runs the enabled
// steps for every position in ticket order. stopDistance is the current
// 1R; it may be zero when indicators are not ready, in which case only
// tickets with a remembered R are managed.
//
// Rejected requests are returned joined in the error and the remaining
// steps still run. An adapter fault stops the pass immediately.
func (m *Manager) Manage(ctx context.Context, store *Store, positions []broker.Position, tick market.Tick, stopDistance float64, meta market.InstrumentMeta) ([]Action, error) {
	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Ticket] = true
	}
	for _, t := range store.Prune(open) {
		m.log.Info("position closed, dropping lifecycle state", "ticket", t)
	}

	sorted := append([]broker.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ticket < sorted[j].Ticket })

	var (
		actions []Action
		errs    []error
	)
	for _, p := range sorted {
		e := store.track(p.Ticket, validR(stopDistance))
		r := e.r
		if m.cfg.DynamicR && validR(stopDistance) > 0 {
			r = stopDistance
		}
		if r <= 0 {
			m.log.Debug("no stop distance yet, skipping position", "ticket", p.Ticket)
			continue
		}

		acts, err := m.managePosition(ctx, e, p, tick, r, meta)
		actions = append(actions, acts...)
		if err != nil {
			errs = append(errs, err)
			if fault(err) {
				break
			}
		}
	}
	return actions, errors.Join(errs...)
}

func (m *Manager) managePosition(ctx context.Context, e *entry, p broker.Position, tick market.Tick, r float64, meta market.InstrumentMeta) ([]Action, error) {
	var (
		acts []Action
		errs []error
	)
	dir := p.Side.Dir()
	price := tick.ExitPrice(p.Side)
	moved := risk.RMultiple(p.Side, p.EntryPrice, price, r)

	// The placeholder check is the flag alone. Whether a stop is still a
	// placeholder cannot be told from its price.
	if m.cfg.InitialStop && !e.flags.InitialStopApplied {
		stop := meta.NormalizePrice(p.EntryPrice - dir*r)
		target := p.Target
		if m.cfg.TargetMultiplier > 0 {
			target = meta.NormalizePrice(p.EntryPrice + dir*r*m.cfg.TargetMultiplier)
		}
		a, err := m.modify(ctx, p, ActionInitialStop, stop, target)
		acts = append(acts, a)
		if fault(err) {
			return acts, errors.Join(append(errs, err)...)
		}
		e.flags.InitialStopApplied = true
		if a.Accepted {
			p.Stop, p.Target = stop, target
		} else {
			errs = append(errs, err)
		}
	}

	if m.cfg.Breakeven && !e.flags.BreakevenApplied && moved >= 1 {
		be := meta.NormalizePrice(p.EntryPrice + dir*m.cfg.BreakevenBuffer)
		switch {
		case !tightens(p, be):
			e.flags.BreakevenApplied = true
			m.log.Debug("stop already at or past breakeven", "ticket", p.Ticket, "stop", p.Stop, "breakeven", be)
		case dir*(price-be) <= 0:
			m.log.Debug("breakeven level not behind price", "ticket", p.Ticket, "price", price, "breakeven", be)
		default:
			a, err := m.modify(ctx, p, ActionBreakeven, be, p.Target)
			acts = append(acts, a)
			if fault(err) {
				return acts, errors.Join(append(errs, err)...)
			}
			if a.Accepted {
				e.flags.BreakevenApplied = true
				p.Stop = be
			} else {
				errs = append(errs, err)
			}
		}
	}

	if m.cfg.PartialClose && !e.flags.PartialClosed && moved >= 1 {
		vol := meta.FloorVolume(p.Volume * m.cfg.PartialCloseRatio)
		if vol <= 0 || vol < meta.MinVolume || p.Volume-vol < meta.MinVolume-1e-9 {
			e.flags.PartialClosed = true
			m.log.Info("position too small to split, skipping partial close", "ticket", p.Ticket, "volume", p.Volume)
		} else {
			req := broker.NewReduce(m.header, p, vol, meta.NormalizePrice(price), string(ActionPartialClose))
			res, err := m.sub.Submit(ctx, req)
			a := m.record(p, ActionPartialClose, p.Stop, res, err)
			a.Volume = vol
			acts = append(acts, a)
			if fault(err) {
				// the venue may have closed the volume, never risk a second cut
				e.flags.PartialClosed = true
				return acts, errors.Join(append(errs, err)...)
			}
			if a.Accepted {
				e.flags.PartialClosed = true
				p.Volume -= vol
			} else {
				errs = append(errs, err)
			}
		}
	}

	if m.cfg.Trailing && moved >= m.cfg.TrailStartR {
		cand := meta.NormalizePrice(price - dir*m.cfg.trailDistance(r))
		if tightens(p, cand) && dir*(price-cand) > 0 {
			a, err := m.modify(ctx, p, ActionTrailing, cand, p.Target)
			acts = append(acts, a)
			if fault(err) {
				return acts, errors.Join(append(errs, err)...)
			}
			if a.Accepted {
				p.Stop = cand
			} else {
				errs = append(errs, err)
			}
		}
	}

	return acts, errors.Join(errs...)
}

func (m *Manager) modify(ctx context.Context, p broker.Position, kind ActionKind, stop, target float64) (Action, error) {
	req := broker.NewModify(m.header, p.Ticket, stop, target, string(kind))
	res, err := m.sub.Submit(ctx, req)
	return m.record(p, kind, stop, res, err), err
}

func (m *Manager) record(p broker.Position, kind ActionKind, newStop float64, res broker.Result, err error) Action {
	a := Action{
		Ticket:   p.Ticket,
		Kind:     kind,
		OldStop:  p.Stop,
		NewStop:  newStop,
		Accepted: err == nil && res.Accepted,
		Code:     res.Code,
		Message:  res.Message,
	}
	if a.Accepted {
		metrics.LifecycleActions.WithLabelValues(string(kind)).Inc()
		m.log.Info("lifecycle action applied", "ticket", p.Ticket, "action", string(kind), "old_stop", p.Stop, "new_stop", newStop)
		return a
	}
	if err != nil && a.Message == "" {
		a.Message = err.Error()
	}
	m.log.Warn("lifecycle action failed", "ticket", p.Ticket, "action", string(kind), "code", a.Code, "message", a.Message)
	return a
}

// tightens reports whether moving the stop to proposed reduces risk. A
// missing stop is always tightened.
func tightens(p broker.Position, proposed float64) bool {
	if !p.HasStop() {
		return true
	}
	return p.Side.Dir()*(proposed-p.Stop) > 0
}

// fault reports whether err left the venue state unknown.
func fault(err error) bool {
	return errors.Is(err, broker.ErrAdapterFault) || errors.Is(err, broker.ErrDataUnavailable)
}

func validR(r float64) float64 {
	if r > 0 && !math.IsNaN(r) && !math.IsInf(r, 0) {
		return r
	}
	return 0
}
