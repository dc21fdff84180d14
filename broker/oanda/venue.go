package oanda

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

// Result codes for answers produced without an HTTP call or a status.
const (
	CodeUnsupportedFill = 1
	CodeCancelled       = 2
)

var _ broker.Venue = (*Client)(nil)
var _ broker.PendingLister = (*Client)(nil)

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Bars returns up to count complete mid candles, oldest first.
func (c *Client) Bars(ctx context.Context, instrument string, tf market.Timeframe, count int) ([]market.Bar, error) {
	if count <= 0 || count > 5000 {
		return nil, fmt.Errorf("candles %s: count %d outside 1..5000", instrument, count)
	}
	q := url.Values{}
	q.Set("price", "M")
	q.Set("granularity", string(tf))
	// one extra for the candle still forming
	q.Set("count", strconv.Itoa(min(count+1, 5000)))

	var resp candlesResponse
	path := "/v3/instruments/" + url.PathEscape(instrument) + "/candles"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, classify("candles "+instrument, err, broker.ErrDataUnavailable)
	}

	bars := make([]market.Bar, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		// Skip incomplete candles
		if !ac.Complete {
			continue
		}
		b, err := ac.bar()
		if err != nil {
			return nil, fmt.Errorf("candles %s: %w: %w", instrument, broker.ErrDataUnavailable, err)
		}
		bars = append(bars, b)
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (ac apiCandle) bar() (market.Bar, error) {
	t, err := time.Parse(time.RFC3339, ac.Time)
	if err != nil {
		return market.Bar{}, fmt.Errorf("parse time %s: %w", ac.Time, err)
	}
	var v [4]float64
	for i, s := range []string{ac.Mid.O, ac.Mid.H, ac.Mid.L, ac.Mid.C} {
		if v[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Bar{}, fmt.Errorf("parse price %q: %w", s, err)
		}
	}
	return market.Bar{Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3]}, nil
}

type pricingResponse struct {
	Prices []struct {
		Instrument string `json:"instrument"`
		Time       string `json:"time"`
		Tradeable  bool   `json:"tradeable"`
		Bids       []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	} `json:"prices"`
}

func (c *Client) Tick(ctx context.Context, instrument string) (market.Tick, error) {
	q := url.Values{}
	q.Set("instruments", instrument)

	var resp pricingResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("pricing"), q, nil, &resp); err != nil {
		return market.Tick{}, classify("pricing "+instrument, err, broker.ErrDataUnavailable)
	}
	for _, p := range resp.Prices {
		if p.Instrument != instrument {
			continue
		}
		if !p.Tradeable || len(p.Bids) == 0 || len(p.Asks) == 0 {
			return market.Tick{}, fmt.Errorf("pricing %s: %w: not tradeable", instrument, broker.ErrDataUnavailable)
		}
		bid, err := strconv.ParseFloat(p.Bids[0].Price, 64)
		if err != nil {
			return market.Tick{}, fmt.Errorf("pricing %s: %w: %w", instrument, broker.ErrDataUnavailable, err)
		}
		ask, err := strconv.ParseFloat(p.Asks[0].Price, 64)
		if err != nil {
			return market.Tick{}, fmt.Errorf("pricing %s: %w: %w", instrument, broker.ErrDataUnavailable, err)
		}
		t, _ := time.Parse(time.RFC3339, p.Time)
		return market.Tick{Instrument: instrument, Time: t, Bid: bid, Ask: ask}, nil
	}
	return market.Tick{}, fmt.Errorf("pricing %s: %w: no price", instrument, broker.ErrDataUnavailable)
}

func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	var resp struct {
		Account struct {
			Balance string `json:"balance"`
		} `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("summary"), nil, nil, &resp); err != nil {
		return 0, classify("account summary", err, broker.ErrAdapterFault)
	}
	bal, err := parseFloat(resp.Account.Balance)
	if err != nil {
		return 0, fmt.Errorf("account summary: %w: balance %q", broker.ErrAdapterFault, resp.Account.Balance)
	}
	return bal, nil
}

type clientExtensions struct {
	ID      string `json:"id,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type priceDetails struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce,omitempty"`
}

type apiTrade struct {
	ID               string            `json:"id"`
	Instrument       string            `json:"instrument"`
	Price            string            `json:"price"`
	OpenTime         string            `json:"openTime"`
	CurrentUnits     string            `json:"currentUnits"`
	StopLossOrder    *priceDetails     `json:"stopLossOrder"`
	TakeProfitOrder  *priceDetails     `json:"takeProfitOrder"`
	ClientExtensions *clientExtensions `json:"clientExtensions"`
}

// OpenPositions maps open trades to positions; OANDA trades carry the
// per-entry stop and target the engine manages.
func (c *Client) OpenPositions(ctx context.Context, instrument string) ([]broker.Position, error) {
	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("openTrades"), nil, nil, &resp); err != nil {
		return nil, classify("open trades", err, broker.ErrAdapterFault)
	}

	var out []broker.Position
	for _, t := range resp.Trades {
		if t.Instrument != instrument {
			continue
		}
		p, err := t.position()
		if err != nil {
			return nil, fmt.Errorf("open trades: %w: trade %s: %w", broker.ErrAdapterFault, t.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (t apiTrade) position() (broker.Position, error) {
	units, err := parseFloat(t.CurrentUnits)
	if err != nil {
		return broker.Position{}, err
	}
	price, err := parseFloat(t.Price)
	if err != nil {
		return broker.Position{}, err
	}
	p := broker.Position{
		Ticket:     t.ID,
		Instrument: t.Instrument,
		Side:       market.Buy,
		EntryPrice: price,
		Volume:     math.Abs(units),
	}
	if units < 0 {
		p.Side = market.Sell
	}
	if t.StopLossOrder != nil {
		if p.Stop, err = parseFloat(t.StopLossOrder.Price); err != nil {
			return broker.Position{}, err
		}
	}
	if t.TakeProfitOrder != nil {
		if p.Target, err = parseFloat(t.TakeProfitOrder.Price); err != nil {
			return broker.Position{}, err
		}
	}
	p.OpenTime, _ = time.Parse(time.RFC3339, t.OpenTime)
	if t.ClientExtensions != nil {
		p.Magic = parseMagic(t.ClientExtensions.Tag)
	}
	return p, nil
}

// PendingOrders lists resting STOP entry orders for instrument.
func (c *Client) PendingOrders(ctx context.Context, instrument string) ([]broker.OrderRequest, error) {
	var resp struct {
		Orders []struct {
			ID               string            `json:"id"`
			Type             string            `json:"type"`
			Instrument       string            `json:"instrument"`
			Units            string            `json:"units"`
			Price            string            `json:"price"`
			ClientExtensions *clientExtensions `json:"clientExtensions"`
		} `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("pendingOrders"), nil, nil, &resp); err != nil {
		return nil, classify("pending orders", err, broker.ErrAdapterFault)
	}

	var out []broker.OrderRequest
	for _, o := range resp.Orders {
		if o.Instrument != instrument || o.Type != "STOP" {
			continue
		}
		units, _ := parseFloat(o.Units)
		price, _ := parseFloat(o.Price)
		req := broker.OrderRequest{
			Kind:       broker.OpenPendingStop,
			Instrument: o.Instrument,
			Ticket:     o.ID,
			Side:       market.Buy,
			Volume:     math.Abs(units),
			Price:      price,
		}
		if units < 0 {
			req.Side = market.Sell
		}
		if o.ClientExtensions != nil {
			req.Magic = parseMagic(o.ClientExtensions.Tag)
			req.Comment = o.ClientExtensions.Comment
		}
		out = append(out, req)
	}
	return out, nil
}

// InstrumentMeta converts OANDA instrument details. OANDA quotes P/L in the
// instrument's quote currency; the account is assumed to be denominated in
// it, so one unit moving one price unit is worth one account unit. OANDA
// enforces no minimum stop distance.
func (c *Client) InstrumentMeta(ctx context.Context, instrument string) (market.InstrumentMeta, error) {
	q := url.Values{}
	q.Set("instruments", instrument)

	var resp struct {
		Instruments []struct {
			Name                string `json:"name"`
			PipLocation         int    `json:"pipLocation"`
			DisplayPrecision    int32  `json:"displayPrecision"`
			TradeUnitsPrecision int    `json:"tradeUnitsPrecision"`
			MinimumTradeSize    string `json:"minimumTradeSize"`
			MaximumOrderUnits   string `json:"maximumOrderUnits"`
		} `json:"instruments"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("instruments"), q, nil, &resp); err != nil {
		return market.InstrumentMeta{}, classify("instruments "+instrument, err, broker.ErrAdapterFault)
	}

	for _, in := range resp.Instruments {
		if in.Name != instrument {
			continue
		}
		point := math.Pow10(-int(in.DisplayPrecision))
		minSize, err := parseFloat(in.MinimumTradeSize)
		if err != nil {
			return market.InstrumentMeta{}, fmt.Errorf("instruments %s: %w: %w", instrument, broker.ErrAdapterFault, err)
		}
		maxUnits, _ := parseFloat(in.MaximumOrderUnits)
		meta := market.InstrumentMeta{
			Name:       in.Name,
			Digits:     in.DisplayPrecision,
			PointSize:  point,
			TickSize:   point,
			TickValue:  point,
			MinVolume:  minSize,
			MaxVolume:  maxUnits,
			VolumeStep: math.Pow10(-in.TradeUnitsPrecision),
		}
		c.mu.Lock()
		c.meta[instrument] = meta
		c.mu.Unlock()
		return meta, nil
	}
	return market.InstrumentMeta{}, fmt.Errorf("instruments %s: %w: not found", instrument, broker.ErrAdapterFault)
}

func (c *Client) digits(instrument string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta[instrument].Digits
}

func (c *Client) pointSize(instrument string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta[instrument].PointSize
}

func magicTag(m int64) string {
	if m == 0 {
		return ""
	}
	return "magic:" + strconv.FormatInt(m, 10)
}

func parseMagic(tag string) int64 {
	s, ok := strings.CutPrefix(tag, "magic:")
	if !ok {
		return 0
	}
	m, _ := strconv.ParseInt(s, 10, 64)
	return m
}

// orderReject turns an API error on an order endpoint into a declined
// Result. Server and auth errors stay adapter faults since the order may
// or may not exist.
func orderReject(op string, err error) (broker.Result, error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 &&
		apiErr.Status != http.StatusUnauthorized && apiErr.Status != http.StatusForbidden {
		msg := apiErr.Message
		if apiErr.RejectReason != "" {
			msg = apiErr.RejectReason + ": " + msg
		}
		return broker.Result{Accepted: false, Code: apiErr.Status, Message: msg}, nil
	}
	return broker.Result{}, classify(op, err, broker.ErrAdapterFault)
}
