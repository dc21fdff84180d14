package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/broker/sim"
	"github.com/rustyeddy/scalper/execution"
	"github.com/rustyeddy/scalper/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sym = "XAUUSD"

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	v     *sim.Venue
	mgr   *Manager
	store *Store
	meta  market.InstrumentMeta
	n     int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	v := sim.New(sim.Config{Instrument: sym, Balance: 10_000}, nil, nil)
	v.SetTick(market.Tick{Instrument: sym, Time: t0, Bid: 2000, Ask: 2000.05})
	h := broker.Header{Instrument: sym, Deviation: 20, Magic: 10001}
	return &harness{
		t:     t,
		v:     v,
		mgr:   NewManager(cfg, h, execution.NewSubmitter(v, nil, nil, nil), nil),
		store: NewStore(),
		meta:  market.DefaultMeta(sym),
	}
}

// at moves the bid to price and runs one management pass with stop
// distance r.
func (h *harness) at(price, r float64) ([]Action, error) {
	h.n++
	tick := market.Tick{Instrument: sym, Time: t0.Add(time.Duration(h.n) * time.Minute), Bid: price, Ask: price + 0.05}
	h.v.SetTick(tick)
	open, err := h.v.OpenPositions(context.Background(), sym)
	require.NoError(h.t, err)
	return h.mgr.Manage(context.Background(), h.store, open, tick, r, h.meta)
}

func fullConfig() Config {
	return Config{
		Breakeven:         true,
		BreakevenBuffer:   0.10,
		PartialClose:      true,
		PartialCloseRatio: 0.5,
		Trailing:          true,
		TrailStartR:       1.5,
		TrailDistanceR:    0.5,
	}
}

func kinds(acts []Action) []ActionKind {
	var out []ActionKind
	for _, a := range acts {
		out = append(out, a.Kind)
	}
	return out
}

func TestBuyLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t, fullConfig())
	pos := h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994, Target: 2012})

	acts, err := h.at(2003, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)

	acts, err = h.at(2007, 6)
	require.NoError(t, err)
	assert.Equal(t, []ActionKind{ActionBreakeven, ActionPartialClose}, kinds(acts))
	assert.True(t, acts[0].Accepted)
	assert.Equal(t, 1994.0, acts[0].OldStop)
	assert.Equal(t, 2000.10, acts[0].NewStop)
	assert.Equal(t, 0.05, acts[1].Volume)

	got, ok := h.v.Position(pos.Ticket)
	require.True(t, ok)
	assert.Equal(t, 2000.10, got.Stop)
	assert.InDelta(t, 0.05, got.Volume, 1e-9)

	flags, ok := h.store.Get(pos.Ticket)
	require.True(t, ok)
	assert.True(t, flags.BreakevenApplied)
	assert.True(t, flags.PartialClosed)

	// profit dips under 1R and comes back: nothing fires twice
	acts, err = h.at(2003, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
	acts, err = h.at(2007, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)

	acts, err = h.at(2010, 6)
	require.NoError(t, err)
	require.Equal(t, []ActionKind{ActionTrailing}, kinds(acts))
	assert.Equal(t, 2007.0, acts[0].NewStop)

	// a pullback above trail start proposes a looser stop, which is ignored
	acts, err = h.at(2009.5, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)

	acts, err = h.at(2011, 6)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, 2008.0, acts[0].NewStop)

	got, _ = h.v.Position(pos.Ticket)
	assert.Equal(t, 2008.0, got.Stop)
	assert.Equal(t, 2012.0, got.Target)
	assert.Len(t, h.v.ClosedTrades(), 1)
}

func TestGapPastOneRFiresAllStepsInOrder(t *testing.T) {
	h := newHarness(t, fullConfig())
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994, Target: 2020})

	acts, err := h.at(2010, 6)
	require.NoError(t, err)
	assert.Equal(t, []ActionKind{ActionBreakeven, ActionPartialClose, ActionTrailing}, kinds(acts))
	assert.Equal(t, 2007.0, acts[2].NewStop)
	assert.Equal(t, 2000.10, acts[2].OldStop)
}

func TestSellTrailingIsMonotonic(t *testing.T) {
	cfg := fullConfig()
	cfg.PartialClose = false
	h := newHarness(t, cfg)
	h.v.Open(broker.Position{Ticket: "S1", Side: market.Sell, EntryPrice: 2000, Volume: 0.1, Stop: 2006})

	rng := rand.New(rand.NewSource(7))
	price := 2000.0
	last := 2006.0
	for i := 0; i < 300; i++ {
		price += (rng.Float64() - 0.7) * 2
		acts, err := h.at(price, 6)
		require.NoError(t, err)
		for _, a := range acts {
			require.True(t, a.Accepted)
			assert.Less(t, a.NewStop, last, "stop loosened at step %d", i)
			last = a.NewStop
		}
		if _, ok := h.v.Position("S1"); !ok {
			break
		}
	}
	assert.Less(t, last, 2000.0)
}

func TestBuyTrailingIsMonotonic(t *testing.T) {
	cfg := fullConfig()
	cfg.PartialClose = false
	h := newHarness(t, cfg)
	h.v.Open(broker.Position{Ticket: "B1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})

	rng := rand.New(rand.NewSource(11))
	price := 2000.0
	last := 1994.0
	for i := 0; i < 300; i++ {
		price += (rng.Float64() - 0.3) * 2
		acts, err := h.at(price, 6)
		require.NoError(t, err)
		for _, a := range acts {
			require.True(t, a.Accepted)
			assert.Greater(t, a.NewStop, last, "stop loosened at step %d", i)
			last = a.NewStop
		}
		if _, ok := h.v.Position("B1"); !ok {
			break
		}
	}
	assert.Greater(t, last, 2000.0)
}

func TestSellBreakevenAndPartialClose(t *testing.T) {
	h := newHarness(t, Config{Breakeven: true, BreakevenBuffer: 0.1, PartialClose: true, PartialCloseRatio: 0.5})
	h.v.Open(broker.Position{Ticket: "S1", Side: market.Sell, EntryPrice: 2000, Volume: 0.1, Stop: 2006, Target: 1988})

	// the ask is 1996.05, under 1R
	acts, err := h.at(1996, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)

	// the ask is 1993.95, past 1R
	acts, err = h.at(1993.9, 6)
	require.NoError(t, err)
	require.Equal(t, []ActionKind{ActionBreakeven, ActionPartialClose}, kinds(acts))
	assert.Equal(t, 2006.0, acts[0].OldStop)
	assert.Equal(t, 1999.9, acts[0].NewStop)
	assert.Equal(t, 0.05, acts[1].Volume)

	reqs := h.v.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, broker.ModifyProtective, reqs[0].Kind)
	assert.Equal(t, 1999.9, reqs[0].Stop)
	assert.Equal(t, broker.ReduceVolume, reqs[1].Kind)
	assert.Equal(t, market.Buy, reqs[1].Side)
	assert.Equal(t, "S1", reqs[1].Ticket)

	got, ok := h.v.Position("S1")
	require.True(t, ok)
	assert.Equal(t, 1999.9, got.Stop)
	assert.InDelta(t, 0.05, got.Volume, 1e-9)
	trades := h.v.ClosedTrades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 1993.95, trades[0].ExitPrice, 1e-9)
	assert.Positive(t, trades[0].RealizedPL)
}

func TestAbsoluteTrailDistance(t *testing.T) {
	for _, tc := range []struct {
		name string
		abs  float64
		want float64
	}{
		{"multiple of R", 0, 2007},
		{"price units", 2, 2008},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Trailing: true, TrailStartR: 1.5, TrailDistanceR: 0.5, TrailDistance: tc.abs}
			h := newHarness(t, cfg)
			h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})

			acts, err := h.at(2008, 6)
			require.NoError(t, err)
			assert.Empty(t, acts, "below trail start")

			acts, err = h.at(2010, 6)
			require.NoError(t, err)
			require.Equal(t, []ActionKind{ActionTrailing}, kinds(acts))
			assert.Equal(t, tc.want, acts[0].NewStop)
		})
	}
}

func TestBreakevenSkippedWhenStopAlreadyPast(t *testing.T) {
	h := newHarness(t, Config{Breakeven: true, BreakevenBuffer: 0.1})
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 2001, Target: 2020})

	acts, err := h.at(2007, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
	flags, _ := h.store.Get("T1")
	assert.True(t, flags.BreakevenApplied)
	assert.Empty(t, h.v.Requests())
}

func TestMissingStopIsTightened(t *testing.T) {
	h := newHarness(t, Config{Breakeven: true, BreakevenBuffer: 0.1})
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1})

	acts, err := h.at(2007, 6)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, 0.0, acts[0].OldStop)
	assert.Equal(t, 2000.10, acts[0].NewStop)
}

func TestRejectedBreakevenRetriesNextCycle(t *testing.T) {
	h := newHarness(t, Config{Breakeven: true, BreakevenBuffer: 0.1})
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})
	h.v.RejectNextModifies(1)

	acts, err := h.at(2007, 6)
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	require.Len(t, acts, 1)
	assert.False(t, acts[0].Accepted)
	flags, _ := h.store.Get("T1")
	assert.False(t, flags.BreakevenApplied)

	acts, err = h.at(2007, 6)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.True(t, acts[0].Accepted)
}

func TestAdapterFaultStopsPass(t *testing.T) {
	h := newHarness(t, fullConfig())
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})
	h.v.Fail(sim.OpSubmit, errors.New("broken pipe"))

	acts, err := h.at(2007, 6)
	assert.ErrorIs(t, err, broker.ErrAdapterFault)
	assert.Equal(t, []ActionKind{ActionBreakeven}, kinds(acts))
	flags, _ := h.store.Get("T1")
	assert.False(t, flags.BreakevenApplied)
	assert.False(t, flags.PartialClosed)

	h.v.Fail(sim.OpSubmit, nil)
	acts, err = h.at(2007, 6)
	require.NoError(t, err)
	assert.Equal(t, []ActionKind{ActionBreakeven, ActionPartialClose}, kinds(acts))
}

func TestPartialCloseFaultIsNotRepeated(t *testing.T) {
	h := newHarness(t, Config{PartialClose: true, PartialCloseRatio: 0.5})
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})
	h.v.Fail(sim.OpSubmit, errors.New("timeout"))

	_, err := h.at(2007, 6)
	assert.ErrorIs(t, err, broker.ErrAdapterFault)
	flags, _ := h.store.Get("T1")
	assert.True(t, flags.PartialClosed)

	h.v.Fail(sim.OpSubmit, nil)
	acts, err := h.at(2007, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestPartialCloseTooSmallToSplit(t *testing.T) {
	h := newHarness(t, Config{PartialClose: true, PartialCloseRatio: 0.5})
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.01, Stop: 1994})

	acts, err := h.at(2007, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
	flags, _ := h.store.Get("T1")
	assert.True(t, flags.PartialClosed)
}

func TestInitialStopReplacesPlaceholdersOnce(t *testing.T) {
	cfg := Config{InitialStop: true, TargetMultiplier: 2}
	h := newHarness(t, cfg)
	h.v.Open(broker.Position{Ticket: "P1", Side: market.Buy, EntryPrice: 2000.5, Volume: 0.1, Stop: 1970.5, Target: 2060.5})

	acts, err := h.at(2001, 6)
	require.NoError(t, err)
	require.Equal(t, []ActionKind{ActionInitialStop}, kinds(acts))
	got, _ := h.v.Position("P1")
	assert.Equal(t, 1994.5, got.Stop)
	assert.Equal(t, 2012.5, got.Target)

	acts, err = h.at(2001, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestInitialStopRejectedIsNotRetried(t *testing.T) {
	h := newHarness(t, Config{InitialStop: true, TargetMultiplier: 2})
	h.v.Open(broker.Position{Ticket: "P1", Side: market.Sell, EntryPrice: 1999.5, Volume: 0.1, Stop: 2029.5, Target: 1939.5})
	h.v.RejectNextModifies(1)

	_, err := h.at(1999, 6)
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	flags, _ := h.store.Get("P1")
	assert.True(t, flags.InitialStopApplied)

	acts, err := h.at(1999, 6)
	require.NoError(t, err)
	assert.Empty(t, acts)
	got, _ := h.v.Position("P1")
	assert.Equal(t, 2029.5, got.Stop)
}

func TestFrozenAndDynamicR(t *testing.T) {
	for _, tc := range []struct {
		name    string
		dynamic bool
		fires   bool
	}{
		{"frozen", false, true},
		{"dynamic", true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{Breakeven: true, BreakevenBuffer: 0.1, DynamicR: tc.dynamic})
			h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})

			_, err := h.at(2001, 6)
			require.NoError(t, err)
			acts, err := h.at(2007, 20)
			require.NoError(t, err)
			assert.Equal(t, tc.fires, len(acts) == 1)
		})
	}
}

func TestNoStopDistanceSkipsNewTickets(t *testing.T) {
	h := newHarness(t, fullConfig())
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})

	acts, err := h.at(2010, 0)
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Equal(t, 1, h.store.Len())
}

func TestClosedTicketsArePruned(t *testing.T) {
	h := newHarness(t, fullConfig())
	h.v.Open(broker.Position{Ticket: "T1", Side: market.Buy, EntryPrice: 2000, Volume: 0.1, Stop: 1994})

	_, err := h.at(2001, 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, h.store.Tickets())

	// the stop is hit on this tick
	_, err = h.at(1993, 6)
	require.NoError(t, err)
	assert.Zero(t, h.store.Len())
	_, ok := h.store.Get("T1")
	assert.False(t, ok)
}

func TestStorePrune(t *testing.T) {
	s := NewStore()
	s.track("a", 1)
	s.track("b", 1)
	s.track("c", 0)
	s.track("c", 2)

	gone := s.Prune(map[string]bool{"b": true, "c": true})
	assert.Equal(t, []string{"a"}, gone)
	assert.Equal(t, []string{"b", "c"}, s.Tickets())
	assert.Equal(t, 2.0, s.entries["c"].r)
}

func TestPresets(t *testing.T) {
	var c Config
	require.NoError(t, c.ApplyPreset("breakeven-only"))
	assert.True(t, c.Breakeven)
	assert.False(t, c.PartialClose)
	assert.False(t, c.Trailing)
	assert.Equal(t, 0.10, c.BreakevenBuffer)
	require.NoError(t, c.Validate())

	c = Config{}
	require.NoError(t, c.ApplyPreset("breakeven-partial-trailing"))
	assert.True(t, c.PartialClose && c.Trailing)
	assert.False(t, c.DynamicR)
	assert.Equal(t, 0.5, c.PartialCloseRatio)
	assert.Equal(t, 1.5, c.TrailStartR)

	d := DefaultConfig()
	assert.Empty(t, d.Preset)
	assert.True(t, d.Breakeven && d.PartialClose && d.Trailing && d.DynamicR)
	require.NoError(t, d.Validate())

	assert.Error(t, c.ApplyPreset("yolo"))

	bad := fullConfig()
	bad.PartialCloseRatio = 1
	assert.Error(t, bad.Validate())

	abs := fullConfig()
	abs.TrailDistanceR = 0
	abs.TrailDistance = 3
	assert.NoError(t, abs.Validate())
	abs.TrailDistance = -1
	assert.Error(t, abs.Validate())

	// an absolute trail is not overridden by the preset default
	c = Config{TrailDistance: 3}
	require.NoError(t, c.ApplyPreset(PresetFull))
	assert.Zero(t, c.TrailDistanceR)
	assert.Equal(t, 3.0, c.trailDistance(6))
}
