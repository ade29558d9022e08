package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rustyeddy/breakout/broker"
)

type priceDetails struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce,omitempty"`
}

type marketOrder struct {
	Type             string        `json:"type"`
	Instrument       string        `json:"instrument"`
	Units            string        `json:"units"`
	TimeInForce      string        `json:"timeInForce"`
	PositionFill     string        `json:"positionFill"`
	PriceBound       string        `json:"priceBound,omitempty"`
	StopLossOnFill   *priceDetails `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDetails `json:"takeProfitOnFill,omitempty"`
}

type orderRequest struct {
	Order marketOrder `json:"order"`
}

type tradeOpened struct {
	TradeID string `json:"tradeID"`
	Units   string `json:"units"`
	Price   string `json:"price"`
}

type fillTransaction struct {
	ID          string       `json:"id"`
	Time        string       `json:"time"`
	Price       string       `json:"price"`
	PL          string       `json:"pl"`
	TradeOpened *tradeOpened `json:"tradeOpened"`
}

type rejectTransaction struct {
	RejectReason string `json:"rejectReason"`
}

type cancelTransaction struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	OrderFillTransaction   *fillTransaction   `json:"orderFillTransaction"`
	OrderCancelTransaction *cancelTransaction `json:"orderCancelTransaction"`
	OrderRejectTransaction *rejectTransaction `json:"orderRejectTransaction"`
	ErrorCode              string             `json:"errorCode"`
	ErrorMessage           string             `json:"errorMessage"`
}

// SubmitOrder places a fill-or-kill market order. Venue rejections and
// cancellations come back as OrderResult{Success: false}.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if req.Units == 0 {
		return broker.OrderResult{}, fmt.Errorf("order units must be non-zero")
	}

	o := marketOrder{
		Type:         "MARKET",
		Instrument:   req.Instrument,
		Units:        formatUnits(req.Instrument, req.Units),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if req.PriceBound > 0 {
		o.PriceBound = formatPrice(req.Instrument, req.PriceBound)
	}
	if req.StopLoss != nil {
		o.StopLossOnFill = &priceDetails{Price: formatPrice(req.Instrument, *req.StopLoss), TimeInForce: "GTC"}
	}
	if req.TakeProfit != nil {
		o.TakeProfitOnFill = &priceDetails{Price: formatPrice(req.Instrument, *req.TakeProfit), TimeInForce: "GTC"}
	}

	var resp orderResponse
	err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), nil, orderRequest{Order: o}, &resp)
	if err != nil {
		// A rejected order is a 400 carrying the reject transaction.
		var apiErr *APIError
		if !errors.As(err, &apiErr) || json.Unmarshal(apiErr.Body, &resp) != nil || resp.reason() == "" {
			return broker.OrderResult{}, fmt.Errorf("submit order: %w", err)
		}
	}

	if resp.OrderFillTransaction == nil || resp.OrderFillTransaction.TradeOpened == nil {
		reason := resp.reason()
		if reason == "" {
			reason = "NO_FILL"
		}
		c.log.Warn().Str("instrument", req.Instrument).Str("reason", reason).Msg("order not filled")
		return broker.OrderResult{Success: false, Reason: reason}, nil
	}

	fill := resp.OrderFillTransaction
	price, err := parsePrice(fill.TradeOpened.Price)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if price == 0 {
		if price, err = parsePrice(fill.Price); err != nil {
			return broker.OrderResult{}, err
		}
	}
	units, err := parsePrice(fill.TradeOpened.Units)
	if err != nil {
		return broker.OrderResult{}, err
	}
	t, _ := time.Parse(time.RFC3339, fill.Time)
	c.instruments.Store(fill.TradeOpened.TradeID, req.Instrument)

	return broker.OrderResult{
		Success:   true,
		TradeID:   fill.TradeOpened.TradeID,
		FillPrice: price,
		Units:     units,
		Time:      t,
	}, nil
}

func (r orderResponse) reason() string {
	switch {
	case r.OrderRejectTransaction != nil && r.OrderRejectTransaction.RejectReason != "":
		return r.OrderRejectTransaction.RejectReason
	case r.OrderCancelTransaction != nil && r.OrderCancelTransaction.Reason != "":
		return r.OrderCancelTransaction.Reason
	case r.ErrorCode != "":
		return r.ErrorCode
	}
	return ""
}

type tradeOrdersRequest struct {
	StopLoss   *priceDetails `json:"stopLoss,omitempty"`
	TakeProfit *priceDetails `json:"takeProfit,omitempty"`
}

// ModifyTrade replaces the trade's dependent stop-loss and/or
// take-profit. A nil level is left untouched.
func (c *Client) ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error {
	if stopLoss == nil && takeProfit == nil {
		return nil
	}
	instrument, err := c.tradeInstrument(ctx, tradeID)
	if err != nil {
		return err
	}
	var body tradeOrdersRequest
	if stopLoss != nil {
		body.StopLoss = &priceDetails{Price: formatPrice(instrument, *stopLoss), TimeInForce: "GTC"}
	}
	if takeProfit != nil {
		body.TakeProfit = &priceDetails{Price: formatPrice(instrument, *takeProfit), TimeInForce: "GTC"}
	}
	if err := c.do(ctx, http.MethodPut, c.accountPath("/trades/%s/orders", tradeID), nil, body, nil); err != nil {
		return fmt.Errorf("modify trade %s: %w", tradeID, notFound(err))
	}
	return nil
}

type closeRequest struct {
	Units string `json:"units"`
}

// ClosePartial closes units of a trade and returns the realized P&L.
func (c *Client) ClosePartial(ctx context.Context, tradeID string, units float64) (float64, error) {
	instrument, err := c.tradeInstrument(ctx, tradeID)
	if err != nil {
		return 0, err
	}
	body := closeRequest{Units: formatUnits(instrument, math.Abs(units))}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPut, c.accountPath("/trades/%s/close", tradeID), nil, body, &resp); err != nil {
		return 0, fmt.Errorf("close trade %s: %w", tradeID, notFound(err))
	}
	if resp.OrderFillTransaction == nil {
		return 0, fmt.Errorf("close trade %s: not filled: %s", tradeID, resp.reason())
	}
	return parsePrice(resp.OrderFillTransaction.PL)
}

// notFound maps a 404 to broker.ErrTradeNotFound.
func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %v", broker.ErrTradeNotFound, err)
	}
	return err
}
