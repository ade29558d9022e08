// Package sim is an in-memory execution venue. It fills market orders
// against the last quote it was given and triggers stop-loss and
// take-profit orders as quotes arrive.
package sim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/internal/id"
	"github.com/rustyeddy/breakout/market"
)

// Reject reasons, named like the live venue's.
const (
	RejectNoPrice          = "NO_PRICE"
	RejectBoundsViolation  = "BOUNDS_VIOLATION"
	RejectStopDistance     = "STOP_LOSS_ON_FILL_PRICE_DISTANCE_MINIMUM_NOT_MET"
	RejectStopLoss         = "STOP_LOSS_ON_FILL_LOSS"
	RejectTakeProfitLoss   = "TAKE_PROFIT_ON_FILL_LOSS"
	RejectInsufficientFund = "INSUFFICIENT_MARGIN"
)

type Engine struct {
	mu      sync.Mutex
	acct    broker.Account
	quotes  map[string]broker.Quote
	candles map[string][]market.Candle // instrument/granularity
	trades  map[string]*Trade

	// minStopDistance rejects stop-loss-on-fill orders closer than this
	// to the fill price. Zero disables the check.
	minStopDistance float64
}

func NewEngine(acct broker.Account) *Engine {
	if acct.NAV == 0 {
		acct.NAV = acct.Balance
	}
	acct.MarginFree = acct.NAV
	return &Engine{
		acct:    acct,
		quotes:  make(map[string]broker.Quote),
		candles: make(map[string][]market.Candle),
		trades:  make(map[string]*Trade),
	}
}

func (e *Engine) SetMinStopDistance(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minStopDistance = d
}

// SetCandles replaces the candle history served for instrument and
// granularity.
func (e *Engine) SetCandles(instrument, granularity string, candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[instrument+"/"+granularity] = append([]market.Candle(nil), candles...)
}

func (e *Engine) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.candles[instrument+"/"+granularity]
	if !ok {
		return nil, fmt.Errorf("sim: no %s candles for %s", granularity, instrument)
	}
	if count > 0 && len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	return append([]market.Candle(nil), cs...), nil
}

func (e *Engine) Price(ctx context.Context, instrument string) (broker.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[instrument]
	if !ok {
		return broker.Quote{}, fmt.Errorf("sim: no price for %s", instrument)
	}
	return q, nil
}

func (e *Engine) Account(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

// SetQuote records a new quote and closes any trade whose stop-loss or
// take-profit it crosses. Longs are marked on the bid, shorts on the ask.
func (e *Engine) SetQuote(q broker.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q.Time.IsZero() {
		q.Time = time.Now()
	}
	e.quotes[q.Instrument] = q

	for _, t := range e.trades {
		if !t.Open || t.Instrument != q.Instrument {
			continue
		}
		mark := markPrice(q, t.Units)
		switch {
		case t.hitStopLoss(mark):
			e.closeLocked(t, math.Abs(t.Units), *t.StopLoss, q.Time, broker.CloseStopLoss)
		case t.hitTakeProfit(mark):
			e.closeLocked(t, math.Abs(t.Units), *t.TakeProfit, q.Time, broker.CloseTakeProfit)
		}
	}
	e.revalueLocked()
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if req.Units == 0 {
		return broker.OrderResult{}, fmt.Errorf("order units must be non-zero")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.quotes[req.Instrument]
	if !ok {
		return broker.OrderResult{Reason: RejectNoPrice}, nil
	}
	fill := q.Ask
	if req.Units < 0 {
		fill = q.Bid
	}
	dir := market.DirectionOf(req.Units)

	// The bound is the worst acceptable price.
	if req.PriceBound > 0 && dir.Favorable(req.PriceBound, fill) > 0 {
		return broker.OrderResult{Reason: RejectBoundsViolation}, nil
	}
	if req.StopLoss != nil {
		dist := dir.Favorable(*req.StopLoss, fill)
		if dist <= 0 {
			return broker.OrderResult{Reason: RejectStopLoss}, nil
		}
		if e.minStopDistance > 0 && dist < e.minStopDistance {
			return broker.OrderResult{Reason: RejectStopDistance}, nil
		}
	}
	if req.TakeProfit != nil && dir.Favorable(fill, *req.TakeProfit) <= 0 {
		return broker.OrderResult{Reason: RejectTakeProfitLoss}, nil
	}

	meta := market.Lookup(req.Instrument)
	rate, err := market.QuoteToAccountRate(req.Instrument, e.acct.Currency, q.Mid())
	if err != nil {
		rate = 1
	}
	if need := TradeMargin(req.Units, q.Mid(), meta.MarginRate, rate); meta.MarginRate > 0 && need > e.acct.MarginFree {
		return broker.OrderResult{Reason: RejectInsufficientFund}, nil
	}

	t := &Trade{
		ID:           id.NewAt(q.Time),
		Instrument:   req.Instrument,
		InitialUnits: req.Units,
		Units:        req.Units,
		EntryPrice:   fill,
		OpenTime:     q.Time,
		StopLoss:     copyPrice(req.StopLoss),
		TakeProfit:   copyPrice(req.TakeProfit),
		Open:         true,
	}
	e.trades[t.ID] = t
	e.revalueLocked()

	return broker.OrderResult{
		Success:   true,
		TradeID:   t.ID,
		FillPrice: fill,
		Units:     req.Units,
		Time:      q.Time,
	}, nil
}

func (e *Engine) ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok || !t.Open {
		return fmt.Errorf("modify %s: %w", tradeID, broker.ErrTradeNotFound)
	}
	if stopLoss != nil {
		t.StopLoss = copyPrice(stopLoss)
	}
	if takeProfit != nil {
		t.TakeProfit = copyPrice(takeProfit)
	}
	return nil
}

func (e *Engine) OpenTrades(ctx context.Context) ([]broker.OpenTrade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.OpenTrade, 0, len(e.trades))
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		ot := broker.OpenTrade{
			TradeID:    t.ID,
			Instrument: t.Instrument,
			Units:      t.Units,
			Price:      t.EntryPrice,
			StopLoss:   copyPrice(t.StopLoss),
			TakeProfit: copyPrice(t.TakeProfit),
			OpenTime:   t.OpenTime,
		}
		if q, ok := e.quotes[t.Instrument]; ok {
			rate, _ := market.QuoteToAccountRate(t.Instrument, e.acct.Currency, q.Mid())
			ot.UnrealizedPL = UnrealizedPL(t.EntryPrice, t.Units, markPrice(q, t.Units), rate)
		}
		out = append(out, ot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (e *Engine) TradeDetail(ctx context.Context, tradeID string) (broker.TradeDetail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok {
		return broker.TradeDetail{}, fmt.Errorf("trade %s: %w", tradeID, broker.ErrTradeNotFound)
	}
	state := "OPEN"
	if !t.Open {
		state = "CLOSED"
	}
	return broker.TradeDetail{
		TradeID:      t.ID,
		Instrument:   t.Instrument,
		State:        state,
		InitialUnits: t.InitialUnits,
		CurrentUnits: t.Units,
		Price:        t.EntryPrice,
		ExitPrice:    t.ClosePrice,
		RealizedPL:   t.RealizedPL,
		OpenTime:     t.OpenTime,
		CloseTime:    t.CloseTime,
		Reason:       t.Reason,
	}, nil
}

// ClosePartial closes units of an open trade at the current mark. Closing
// all remaining units closes the trade.
func (e *Engine) ClosePartial(ctx context.Context, tradeID string, units float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok || !t.Open {
		return 0, fmt.Errorf("close %s: %w", tradeID, broker.ErrTradeNotFound)
	}
	q, ok := e.quotes[t.Instrument]
	if !ok {
		return 0, fmt.Errorf("close %s: no price for %s", tradeID, t.Instrument)
	}
	units = math.Min(math.Abs(units), math.Abs(t.Units))
	pl := e.closeLocked(t, units, markPrice(q, t.Units), q.Time, broker.CloseMarket)
	e.revalueLocked()
	return pl, nil
}

// CloseTrade closes the whole trade at the current mark.
func (e *Engine) CloseTrade(ctx context.Context, tradeID string) (float64, error) {
	e.mu.Lock()
	t, ok := e.trades[tradeID]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("close %s: %w", tradeID, broker.ErrTradeNotFound)
	}
	return e.ClosePartial(ctx, tradeID, t.InitialUnits)
}

// closeLocked realizes units (unsigned) of t at price and returns the
// realized P&L of that portion.
func (e *Engine) closeLocked(t *Trade, units, price float64, at time.Time, reason string) float64 {
	signed := math.Copysign(units, t.Units)
	rate, err := market.QuoteToAccountRate(t.Instrument, e.acct.Currency, price)
	if err != nil {
		rate = 1
	}
	pl := UnrealizedPL(t.EntryPrice, signed, price, rate)

	t.Units -= signed
	t.RealizedPL += pl
	e.acct.Balance += pl

	if math.Abs(t.Units) < 1e-9 {
		t.Units = 0
		t.Open = false
		t.ClosePrice = price
		t.CloseTime = at
		t.Reason = reason
	}
	return pl
}

func (e *Engine) revalueLocked() {
	nav := e.acct.Balance
	var upl, used float64
	open := 0
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		open++
		q, ok := e.quotes[t.Instrument]
		if !ok {
			continue
		}
		rate, err := market.QuoteToAccountRate(t.Instrument, e.acct.Currency, q.Mid())
		if err != nil {
			rate = 1
		}
		upl += UnrealizedPL(t.EntryPrice, t.Units, markPrice(q, t.Units), rate)
		used += TradeMargin(t.Units, q.Mid(), market.Lookup(t.Instrument).MarginRate, rate)
	}
	e.acct.UnrealizedPL = upl
	e.acct.NAV = nav + upl
	e.acct.MarginUsed = used
	e.acct.MarginFree = e.acct.NAV - used
	e.acct.OpenTrades = open
}

func markPrice(q broker.Quote, units float64) float64 {
	if units < 0 {
		return q.Ask
	}
	return q.Bid
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ broker.Broker = (*Engine)(nil)
