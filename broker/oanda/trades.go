package oanda

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rustyeddy/breakout/broker"
)

type dependentOrder struct {
	Price string `json:"price"`
	State string `json:"state"`
}

type apiTrade struct {
	ID                string          `json:"id"`
	Instrument        string          `json:"instrument"`
	Price             string          `json:"price"`
	OpenTime          string          `json:"openTime"`
	State             string          `json:"state"`
	InitialUnits      string          `json:"initialUnits"`
	CurrentUnits      string          `json:"currentUnits"`
	RealizedPL        string          `json:"realizedPL"`
	UnrealizedPL      string          `json:"unrealizedPL"`
	AverageClosePrice string          `json:"averageClosePrice"`
	CloseTime         string          `json:"closeTime"`
	StopLossOrder     *dependentOrder `json:"stopLossOrder"`
	TakeProfitOrder   *dependentOrder `json:"takeProfitOrder"`
}

type openTradesResponse struct {
	Trades []apiTrade `json:"trades"`
}

type tradeResponse struct {
	Trade apiTrade `json:"trade"`
}

// OpenTrades lists every open trade on the account.
func (c *Client) OpenTrades(ctx context.Context) ([]broker.OpenTrade, error) {
	var resp openTradesResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/openTrades"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}

	out := make([]broker.OpenTrade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		ot := broker.OpenTrade{
			TradeID:    t.ID,
			Instrument: t.Instrument,
		}
		var err error
		if ot.Units, err = parsePrice(t.CurrentUnits); err != nil {
			return nil, err
		}
		if ot.Price, err = parsePrice(t.Price); err != nil {
			return nil, err
		}
		if ot.UnrealizedPL, err = parsePrice(t.UnrealizedPL); err != nil {
			return nil, err
		}
		ot.StopLoss = orderPrice(t.StopLossOrder)
		ot.TakeProfit = orderPrice(t.TakeProfitOrder)
		ot.OpenTime, _ = time.Parse(time.RFC3339, t.OpenTime)
		c.instruments.Store(t.ID, t.Instrument)
		out = append(out, ot)
	}
	return out, nil
}

// TradeDetail fetches one trade, open or closed.
func (c *Client) TradeDetail(ctx context.Context, tradeID string) (broker.TradeDetail, error) {
	var resp tradeResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/trades/%s", tradeID), nil, nil, &resp); err != nil {
		return broker.TradeDetail{}, fmt.Errorf("trade %s: %w", tradeID, notFound(err))
	}
	t := resp.Trade
	c.instruments.Store(t.ID, t.Instrument)

	d := broker.TradeDetail{
		TradeID:    t.ID,
		Instrument: t.Instrument,
		State:      t.State,
		Reason:     closeReason(t),
	}
	var err error
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&d.InitialUnits, t.InitialUnits},
		{&d.CurrentUnits, t.CurrentUnits},
		{&d.Price, t.Price},
		{&d.ExitPrice, t.AverageClosePrice},
		{&d.RealizedPL, t.RealizedPL},
	} {
		if *f.dst, err = parsePrice(f.src); err != nil {
			return broker.TradeDetail{}, fmt.Errorf("trade %s: %w", tradeID, err)
		}
	}
	d.OpenTime, _ = time.Parse(time.RFC3339, t.OpenTime)
	if t.CloseTime != "" {
		d.CloseTime, _ = time.Parse(time.RFC3339, t.CloseTime)
	}
	return d, nil
}

func (c *Client) tradeInstrument(ctx context.Context, tradeID string) (string, error) {
	if v, ok := c.instruments.Load(tradeID); ok {
		return v.(string), nil
	}
	d, err := c.TradeDetail(ctx, tradeID)
	if err != nil {
		return "", err
	}
	return d.Instrument, nil
}

func closeReason(t apiTrade) string {
	if t.State != "CLOSED" {
		return ""
	}
	switch {
	case t.StopLossOrder != nil && t.StopLossOrder.State == "FILLED":
		return broker.CloseStopLoss
	case t.TakeProfitOrder != nil && t.TakeProfitOrder.State == "FILLED":
		return broker.CloseTakeProfit
	}
	return broker.CloseMarket
}

func orderPrice(o *dependentOrder) *float64 {
	if o == nil || o.Price == "" {
		return nil
	}
	p, err := parsePrice(o.Price)
	if err != nil {
		return nil
	}
	return &p
}

type apiAccount struct {
	ID              string `json:"id"`
	Currency        string `json:"currency"`
	Balance         string `json:"balance"`
	NAV             string `json:"NAV"`
	UnrealizedPL    string `json:"unrealizedPL"`
	MarginUsed      string `json:"marginUsed"`
	MarginAvailable string `json:"marginAvailable"`
	OpenTradeCount  int    `json:"openTradeCount"`
}

type accountResponse struct {
	Account apiAccount `json:"account"`
}

// Account returns the account summary.
func (c *Client) Account(ctx context.Context) (broker.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/summary"), nil, nil, &resp); err != nil {
		return broker.Account{}, fmt.Errorf("account summary: %w", err)
	}
	a := resp.Account
	acct := broker.Account{ID: a.ID, Currency: a.Currency, OpenTrades: a.OpenTradeCount}
	var err error
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&acct.Balance, a.Balance},
		{&acct.NAV, a.NAV},
		{&acct.UnrealizedPL, a.UnrealizedPL},
		{&acct.MarginUsed, a.MarginUsed},
		{&acct.MarginFree, a.MarginAvailable},
	} {
		if *f.dst, err = parsePrice(f.src); err != nil {
			return broker.Account{}, fmt.Errorf("account summary: %w", err)
		}
	}
	return acct, nil
}

var _ broker.Broker = (*Client)(nil)
