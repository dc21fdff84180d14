package execution

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/broker/sim"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockVenue answers Submit from a script and records every request.
type mockVenue struct {
	tick    market.Tick
	balance float64
	answers []broker.Result
	err     error
	reqs    []broker.OrderRequest
}

func (m *mockVenue) Bars(context.Context, string, market.Timeframe, int) ([]market.Bar, error) {
	return nil, nil
}
func (m *mockVenue) Tick(context.Context, string) (market.Tick, error) { return m.tick, nil }
func (m *mockVenue) AccountBalance(context.Context) (float64, error)   { return m.balance, nil }
func (m *mockVenue) OpenPositions(context.Context, string) ([]broker.Position, error) {
	return nil, nil
}
func (m *mockVenue) InstrumentMeta(context.Context, string) (market.InstrumentMeta, error) {
	return market.DefaultMeta("XAUUSD"), nil
}
func (m *mockVenue) Submit(_ context.Context, req broker.OrderRequest) (broker.Result, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return broker.Result{}, m.err
	}
	if len(m.answers) == 0 {
		return broker.Result{Accepted: true}, nil
	}
	res := m.answers[0]
	m.answers = m.answers[1:]
	return res, nil
}

type recordingJournal struct {
	orders []journal.OrderRecord
}

func (j *recordingJournal) RecordOrder(o journal.OrderRecord) error {
	j.orders = append(j.orders, o)
	return nil
}
func (j *recordingJournal) RecordTrade(journal.TradeRecord) error { return nil }
func (j *recordingJournal) Close() error                          { return nil }

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

func header() broker.Header {
	return broker.Header{Instrument: "XAUUSD", Deviation: 20, Magic: 10001, Comment: "XAUUSD Scalper"}
}

func policy() risk.Policy {
	return risk.Policy{
		StopMultiplier:   1.5,
		TargetMultiplier: 2,
		SafetyBuffer:     0.1,
		Sizing:           risk.SizingFixed,
		FixedVolume:      0.1,
	}
}

func newSimEntry(t *testing.T, cfg EntryConfig) (*Entry, *sim.Venue) {
	t.Helper()
	v := sim.New(sim.Config{Instrument: "XAUUSD", Balance: 10_000, Spread: 0.05}, nil, nil)
	v.SetTick(market.Tick{Instrument: "XAUUSD", Time: t0, Bid: 1999.95, Ask: 2000})
	sub := NewSubmitter(v, nil, nil, nil)
	return NewEntry(cfg, policy(), header(), v, sub, nil), v
}

func TestSubmitFallsThroughFillModes(t *testing.T) {
	ctx := context.Background()
	m := &mockVenue{answers: []broker.Result{
		{Accepted: false, Code: 10030, Message: "unsupported filling mode"},
		{Accepted: false, Code: 10030, Message: "unsupported filling mode"},
		{Accepted: true, Code: 10009, Ticket: "T1"},
	}}
	j := &recordingJournal{}
	sub := NewSubmitter(m, nil, j, nil)

	req := broker.NewMarketOrder(header(), market.Buy, 0.1, 2000, 1994, 2012)
	res, err := sub.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Ticket)

	require.Len(t, m.reqs, 3)
	assert.Equal(t, broker.FillOrKill, m.reqs[0].FillMode)
	assert.Equal(t, broker.ImmediateOrCancel, m.reqs[1].FillMode)
	assert.Equal(t, broker.FillReturn, m.reqs[2].FillMode)
	for _, r := range m.reqs {
		assert.Equal(t, req, r.WithFillMode(""))
	}

	require.Len(t, j.orders, 3)
	assert.False(t, j.orders[0].Accepted)
	assert.True(t, j.orders[2].Accepted)
	assert.Equal(t, "T1", j.orders[2].Ticket)
}

func TestSubmitAllModesRejected(t *testing.T) {
	ctx := context.Background()
	reject := broker.Result{Accepted: false, Code: 10030, Message: "unsupported filling mode"}
	m := &mockVenue{answers: []broker.Result{reject, reject}}
	sub := NewSubmitter(m, []broker.FillMode{broker.FillOrKill, broker.ImmediateOrCancel}, nil, nil)
	assert.Equal(t, []broker.FillMode{broker.FillOrKill, broker.ImmediateOrCancel}, sub.Modes())
	assert.Equal(t, broker.DefaultFillModes(), NewSubmitter(m, nil, nil, nil).Modes())

	res, err := sub.Submit(ctx, broker.NewMarketOrder(header(), market.Buy, 0.1, 2000, 1994, 2012))
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.False(t, res.Accepted)
	assert.Len(t, m.reqs, 2)
}

func TestSubmitAdapterErrorStopsWalk(t *testing.T) {
	ctx := context.Background()
	m := &mockVenue{err: errors.New("connection reset")}
	sub := NewSubmitter(m, nil, nil, nil)

	_, err := sub.Submit(ctx, broker.NewMarketOrder(header(), market.Buy, 0.1, 2000, 1994, 2012))
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrAdapterFault)
	assert.Len(t, m.reqs, 1)
}

func TestSubmitModifyIsSingleAttempt(t *testing.T) {
	ctx := context.Background()
	m := &mockVenue{answers: []broker.Result{{Accepted: false, Code: 10016, Message: "invalid stops"}}}
	sub := NewSubmitter(m, nil, nil, nil)

	_, err := sub.Submit(ctx, broker.NewModify(header(), "T1", 2000.1, 2012, "breakeven"))
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	require.Len(t, m.reqs, 1)
	assert.Equal(t, broker.FillMode(""), m.reqs[0].FillMode)
}

func TestEntryMarketBuy(t *testing.T) {
	ctx := context.Background()
	e, v := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10, SinglePosition: true})

	rep, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)
	require.True(t, rep.Submitted())
	assert.Empty(t, rep.Skipped)

	assert.InDelta(t, 6.0, rep.Plan.StopDistance, 1e-9)
	assert.Equal(t, 2000.0, rep.Request.Price)
	assert.Equal(t, 1994.0, rep.Request.Stop)
	assert.Equal(t, 2012.0, rep.Request.Target)
	assert.Equal(t, int64(10001), rep.Request.Magic)

	pos, ok := v.Position(rep.Result.Ticket)
	require.True(t, ok)
	assert.Equal(t, market.Buy, pos.Side)
	assert.Equal(t, 2000.0, pos.EntryPrice)
}

func TestEntryLogsRiskFigures(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	v := sim.New(sim.Config{Instrument: "XAUUSD", Balance: 10_000, Spread: 0.05}, nil, nil)
	v.SetTick(market.Tick{Instrument: "XAUUSD", Time: t0, Bid: 1999.95, Ask: 2000})
	e := NewEntry(EntryConfig{Mode: EntryMarket, SpreadLimit: 10}, policy(), header(), v, NewSubmitter(v, nil, nil, nil), log)

	_, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)

	var rec map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		if m["msg"] == "submitting entry" {
			rec = m
		}
	}
	require.NotNil(t, rec)
	// 0.1 lot over 6.0 of price is 60 at risk
	assert.InDelta(t, 60.0, rec["risk"], 1e-6)
	assert.InDelta(t, 0.006, rec["risk_pct"], 1e-9)
	assert.InDelta(t, 2.0, rec["rr"], 1e-9)
}

func TestEntryMarketSell(t *testing.T) {
	ctx := context.Background()
	e, _ := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10})

	rep, err := e.Attempt(ctx, market.Sell, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1999.95, rep.Request.Price)
	assert.Equal(t, 2005.95, rep.Request.Stop)
	assert.Equal(t, 1987.95, rep.Request.Target)
}

func TestEntrySpreadGate(t *testing.T) {
	ctx := context.Background()
	e, v := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10, SinglePosition: true})
	v.SetTick(market.Tick{Instrument: "XAUUSD", Time: t0, Bid: 2000, Ask: 2000.12})

	rep, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)
	assert.Equal(t, SkipSpread, rep.Skipped)
	assert.InDelta(t, 12.0, rep.Spread, 1e-6)
	assert.Equal(t, broker.OrderKind(0), rep.Request.Kind)
	assert.Empty(t, v.Requests())
}

func TestEntryPositionGate(t *testing.T) {
	ctx := context.Background()
	e, v := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10, SinglePosition: true})

	open := []broker.Position{{Ticket: "T1", Side: market.Buy}}
	rep, err := e.Attempt(ctx, market.Sell, 4, market.DefaultMeta("XAUUSD"), open)
	require.NoError(t, err)
	assert.Equal(t, SkipPositionOpen, rep.Skipped)
	assert.Empty(t, v.Requests())

	// multi-position configurations skip the gate
	e2 := NewEntry(EntryConfig{Mode: EntryMarket, SpreadLimit: 10}, policy(), header(), v, NewSubmitter(v, nil, nil, nil), nil)
	rep, err = e2.Attempt(ctx, market.Sell, 4, market.DefaultMeta("XAUUSD"), open)
	require.NoError(t, err)
	assert.True(t, rep.Submitted())
}

func TestEntryPendingOrderCountsAsExposure(t *testing.T) {
	ctx := context.Background()
	cfg := EntryConfig{Mode: EntryPendingStop, SpreadLimit: 10, SinglePosition: true, PendingOffset: 0.5, PlaceholderMultiplier: 5}
	e, v := newSimEntry(t, cfg)

	rep, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)
	require.True(t, rep.Submitted())
	assert.Equal(t, broker.OpenPendingStop, rep.Request.Kind)
	assert.Equal(t, 2000.5, rep.Request.Price)
	assert.Equal(t, 1970.5, rep.Request.Stop)
	assert.Equal(t, 2060.5, rep.Request.Target)

	rep, err = e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	require.NoError(t, err)
	assert.Equal(t, SkipPositionOpen, rep.Skipped)
	assert.Len(t, v.Requests(), 1)
}

func TestEntryInvalidRiskPlan(t *testing.T) {
	ctx := context.Background()
	e, v := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10})

	_, err := e.Attempt(ctx, market.Buy, 0, market.DefaultMeta("XAUUSD"), nil)
	assert.ErrorIs(t, err, risk.ErrInvalidRiskPlan)
	assert.Empty(t, v.Requests())
}

func TestEntryEmptyAccountSubmitsNothing(t *testing.T) {
	ctx := context.Background()
	for _, bal := range []float64{0, -500} {
		v := sim.New(sim.Config{Instrument: "XAUUSD", Balance: bal, Spread: 0.05}, nil, nil)
		v.SetTick(market.Tick{Instrument: "XAUUSD", Time: t0, Bid: 1999.95, Ask: 2000})
		e := NewEntry(EntryConfig{Mode: EntryMarket, SpreadLimit: 10}, policy(), header(), v, NewSubmitter(v, nil, nil, nil), nil)

		rep, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
		assert.ErrorIs(t, err, risk.ErrInvalidRiskPlan, "balance=%v", bal)
		assert.False(t, rep.Submitted())
		assert.Empty(t, v.Requests())
	}
}

func TestEntryAllModesRejected(t *testing.T) {
	ctx := context.Background()
	v := sim.New(sim.Config{
		Instrument:      "XAUUSD",
		Balance:         10_000,
		RejectFillModes: []broker.FillMode{broker.FillOrKill, broker.ImmediateOrCancel, broker.FillReturn},
	}, nil, nil)
	v.SetTick(market.Tick{Instrument: "XAUUSD", Time: t0, Bid: 1999.95, Ask: 2000})
	e := NewEntry(EntryConfig{Mode: EntryMarket, SpreadLimit: 10}, policy(), header(), v, NewSubmitter(v, nil, nil, nil), nil)

	rep, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.False(t, rep.Submitted())
	assert.Len(t, v.Requests(), 3)

	pos, err := v.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestEntryTickUnavailable(t *testing.T) {
	ctx := context.Background()
	e, v := newSimEntry(t, EntryConfig{Mode: EntryMarket, SpreadLimit: 10})
	v.Fail(sim.OpTick, errors.New("timeout"))

	_, err := e.Attempt(ctx, market.Buy, 4, market.DefaultMeta("XAUUSD"), nil)
	assert.ErrorIs(t, err, broker.ErrDataUnavailable)
}

func TestParseEntryMode(t *testing.T) {
	m, err := ParseEntryMode("pending-stop")
	require.NoError(t, err)
	assert.Equal(t, EntryPendingStop, m)
	_, err = ParseEntryMode("limit")
	assert.Error(t, err)
}
