package oanda

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rustyeddy/scalper/broker"
)

type orderBody struct {
	Type                  string            `json:"type"`
	Instrument            string            `json:"instrument"`
	Units                 string            `json:"units"`
	Price                 string            `json:"price,omitempty"`
	PriceBound            string            `json:"priceBound,omitempty"`
	TimeInForce           string            `json:"timeInForce"`
	PositionFill          string            `json:"positionFill"`
	StopLossOnFill        *priceDetails     `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill      *priceDetails     `json:"takeProfitOnFill,omitempty"`
	ClientExtensions      *clientExtensions `json:"clientExtensions,omitempty"`
	TradeClientExtensions *clientExtensions `json:"tradeClientExtensions,omitempty"`
}

type orderResponse struct {
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
	OrderFillTransaction *struct {
		ID          string `json:"id"`
		Price       string `json:"price"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// Submit maps the request onto the matching endpoint. Fill-or-kill and
// immediate-or-cancel become the order's timeInForce; OANDA has no
// "return" execution, so that mode is declined without a call.
func (c *Client) Submit(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	if req.Kind.UsesFillMode() && req.FillMode == broker.FillReturn {
		return broker.Result{
			Accepted: false,
			Code:     CodeUnsupportedFill,
			Message:  "fill mode return is not supported",
		}, nil
	}

	switch req.Kind {
	case broker.OpenMarket:
		return c.placeOrder(ctx, req, c.marketBody(req))
	case broker.OpenPendingStop:
		return c.placeOrder(ctx, req, c.stopBody(req))
	case broker.ModifyProtective:
		return c.replaceProtective(ctx, req)
	case broker.ReduceVolume:
		return c.closeUnits(ctx, req)
	}
	return broker.Result{Accepted: false, Code: CodeUnsupportedFill, Message: "unsupported request " + req.Kind.String()}, nil
}

func (c *Client) protective(req broker.OrderRequest) (sl, tp *priceDetails) {
	d := c.digits(req.Instrument)
	if req.Stop > 0 {
		sl = &priceDetails{Price: formatPrice(req.Stop, d), TimeInForce: "GTC"}
	}
	if req.Target > 0 {
		tp = &priceDetails{Price: formatPrice(req.Target, d), TimeInForce: "GTC"}
	}
	return sl, tp
}

func extensions(req broker.OrderRequest) *clientExtensions {
	tag := magicTag(req.Magic)
	if tag == "" && req.Comment == "" {
		return nil
	}
	return &clientExtensions{Tag: tag, Comment: req.Comment}
}

func (c *Client) marketBody(req broker.OrderRequest) orderBody {
	tif := "FOK"
	if req.FillMode == broker.ImmediateOrCancel {
		tif = "IOC"
	}
	sl, tp := c.protective(req)
	ext := extensions(req)
	b := orderBody{
		Type:                  "MARKET",
		Instrument:            req.Instrument,
		Units:                 formatUnits(req.Side.Dir() * req.Volume),
		TimeInForce:           tif,
		PositionFill:          "DEFAULT",
		StopLossOnFill:        sl,
		TakeProfitOnFill:      tp,
		ClientExtensions:      ext,
		TradeClientExtensions: ext,
	}
	// deviation caps slippage the same way priceBound does
	if pt := c.pointSize(req.Instrument); req.Deviation > 0 && req.Price > 0 && pt > 0 {
		bound := req.Price + req.Side.Dir()*float64(req.Deviation)*pt
		b.PriceBound = formatPrice(bound, c.digits(req.Instrument))
	}
	return b
}

func (c *Client) stopBody(req broker.OrderRequest) orderBody {
	sl, tp := c.protective(req)
	ext := extensions(req)
	return orderBody{
		Type:                  "STOP",
		Instrument:            req.Instrument,
		Units:                 formatUnits(req.Side.Dir() * req.Volume),
		Price:                 formatPrice(req.Price, c.digits(req.Instrument)),
		TimeInForce:           "GTC",
		PositionFill:          "DEFAULT",
		StopLossOnFill:        sl,
		TakeProfitOnFill:      tp,
		ClientExtensions:      ext,
		TradeClientExtensions: ext,
	}
}

func (c *Client) placeOrder(ctx context.Context, req broker.OrderRequest, body orderBody) (broker.Result, error) {
	var resp orderResponse
	err := c.do(ctx, http.MethodPost, c.accountPath("orders"), nil, map[string]any{"order": body}, &resp)
	if err != nil {
		return orderReject("orders", err)
	}

	if resp.OrderCancelTransaction != nil {
		return broker.Result{Accepted: false, Code: CodeCancelled, Message: resp.OrderCancelTransaction.Reason}, nil
	}
	if f := resp.OrderFillTransaction; f != nil {
		res := broker.Result{Accepted: true, Code: http.StatusCreated, Message: "filled", Ticket: f.ID}
		if f.TradeOpened != nil {
			res.Ticket = f.TradeOpened.TradeID
		}
		res.Price, _ = parseFloat(f.Price)
		return res, nil
	}
	c.log.Debug("order created", "id", resp.OrderCreateTransaction.ID, "kind", req.Kind.String())
	return broker.Result{
		Accepted: true,
		Code:     http.StatusCreated,
		Message:  "created",
		Ticket:   resp.OrderCreateTransaction.ID,
		Price:    req.Price,
	}, nil
}

func (c *Client) replaceProtective(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	sl, tp := c.protective(req)
	body := map[string]any{}
	if sl != nil {
		body["stopLoss"] = sl
	}
	if tp != nil {
		body["takeProfit"] = tp
	}
	path := c.accountPath("trades", url.PathEscape(req.Ticket), "orders")
	if err := c.do(ctx, http.MethodPut, path, nil, body, nil); err != nil {
		return orderReject("trade orders", err)
	}
	return broker.Result{Accepted: true, Code: http.StatusOK, Message: "replaced", Ticket: req.Ticket}, nil
}

func (c *Client) closeUnits(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	var resp orderResponse
	path := c.accountPath("trades", url.PathEscape(req.Ticket), "close")
	body := map[string]string{"units": formatUnits(req.Volume)}
	if err := c.do(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		return orderReject("trade close", err)
	}
	if resp.OrderCancelTransaction != nil {
		return broker.Result{Accepted: false, Code: CodeCancelled, Message: resp.OrderCancelTransaction.Reason}, nil
	}
	res := broker.Result{Accepted: true, Code: http.StatusOK, Message: "closed", Ticket: req.Ticket}
	if resp.OrderFillTransaction != nil {
		res.Price, _ = parseFloat(resp.OrderFillTransaction.Price)
	}
	return res, nil
}
