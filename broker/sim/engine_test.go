package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
)

const gold = "XAU_USD"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, balance float64) *Engine {
	t.Helper()
	return NewEngine(broker.Account{ID: "acct-1", Currency: "USD", Balance: balance})
}

func setQuote(e *Engine, bid, ask float64, tm time.Time) {
	e.SetQuote(broker.Quote{Instrument: gold, Bid: bid, Ask: ask, Time: tm, Tradeable: true})
}

func ptr(v float64) *float64 { return &v }

func openMarket(t *testing.T, e *Engine, units float64, sl, tp *float64) broker.OrderResult {
	t.Helper()
	res, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		Instrument: gold,
		Units:      units,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Reason)
	return res
}

func TestSubmitOrder_FillsOnCorrectSide(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100_000)
	setQuote(e, 2000.0, 2000.5, t0)

	long := openMarket(t, e, 10, nil, nil)
	assert.Equal(t, 2000.5, long.FillPrice)

	short := openMarket(t, e, -10, nil, nil)
	assert.Equal(t, 2000.0, short.FillPrice)

	trades, err := e.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestSubmitOrder_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    broker.OrderRequest
		minSL  float64
		reason string
	}{
		{"no price", broker.OrderRequest{Instrument: "EUR_USD", Units: 10}, 0, RejectNoPrice},
		{"bound violated long", broker.OrderRequest{Instrument: gold, Units: 10, PriceBound: 2000.2}, 0, RejectBoundsViolation},
		{"bound violated short", broker.OrderRequest{Instrument: gold, Units: -10, PriceBound: 2000.3}, 0, RejectBoundsViolation},
		{"stop on wrong side", broker.OrderRequest{Instrument: gold, Units: 10, StopLoss: ptr(2001)}, 0, RejectStopLoss},
		{"stop too close", broker.OrderRequest{Instrument: gold, Units: 10, StopLoss: ptr(1999.5)}, 2, RejectStopDistance},
		{"losing take profit", broker.OrderRequest{Instrument: gold, Units: -10, TakeProfit: ptr(2005)}, 0, RejectTakeProfitLoss},
		{"margin", broker.OrderRequest{Instrument: gold, Units: 100_000}, 0, RejectInsufficientFund},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, 100_000)
			e.SetMinStopDistance(tt.minSL)
			setQuote(e, 2000.0, 2000.5, t0)

			res, err := e.SubmitOrder(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestSubmitOrder_RetriableReasons(t *testing.T) {
	t.Parallel()

	assert.True(t, broker.IsRetriableReject(RejectStopDistance))
	assert.True(t, broker.IsRetriableReject(RejectStopLoss))
	assert.False(t, broker.IsRetriableReject(RejectBoundsViolation))
}

func TestSetQuote_TriggersStopLoss(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100_000)
	setQuote(e, 2000.0, 2000.5, t0)
	res := openMarket(t, e, 10, ptr(1995), ptr(2010))

	setQuote(e, 1996.0, 1996.5, t0.Add(time.Minute))
	trades, _ := e.OpenTrades(context.Background())
	require.Len(t, trades, 1)

	setQuote(e, 1994.8, 1995.3, t0.Add(2*time.Minute))
	trades, _ = e.OpenTrades(context.Background())
	assert.Empty(t, trades)

	d, err := e.TradeDetail(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", d.State)
	assert.Equal(t, broker.CloseStopLoss, d.Reason)
	assert.Equal(t, 1995.0, d.ExitPrice)
	assert.InDelta(t, -55.0, d.RealizedPL, 1e-9)

	acct, _ := e.Account(context.Background())
	assert.InDelta(t, 100_000-55.0, acct.Balance, 1e-9)
	assert.Equal(t, 0, acct.OpenTrades)
}

func TestSetQuote_TriggersTakeProfitShort(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100_000)
	setQuote(e, 2000.0, 2000.5, t0)
	res := openMarket(t, e, -10, ptr(2005), ptr(1990))

	setQuote(e, 1989.5, 1990.0, t0.Add(time.Minute))

	d, err := e.TradeDetail(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, broker.CloseTakeProfit, d.Reason)
	assert.InDelta(t, 100.0, d.RealizedPL, 1e-9)
}

func TestClosePartialAndModify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(t, 100_000)
	setQuote(e, 2000.0, 2000.5, t0)
	res := openMarket(t, e, 10, ptr(1995), ptr(2010))

	setQuote(e, 2005.5, 2006.0, t0.Add(time.Minute))
	pl, err := e.ClosePartial(ctx, res.TradeID, 5)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, pl, 1e-9)

	require.NoError(t, e.ModifyTrade(ctx, res.TradeID, ptr(2000.5), nil))
	trades, _ := e.OpenTrades(ctx)
	require.Len(t, trades, 1)
	assert.Equal(t, 5.0, trades[0].Units)
	assert.Equal(t, 2000.5, *trades[0].StopLoss)
	assert.Equal(t, 2010.0, *trades[0].TakeProfit)

	// Breakeven stop is hit on the way back down.
	setQuote(e, 2000.0, 2000.5, t0.Add(2*time.Minute))
	d, err := e.TradeDetail(ctx, res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", d.State)
	assert.InDelta(t, 25.0, d.RealizedPL, 1e-9)

	_, err = e.ClosePartial(ctx, res.TradeID, 1)
	assert.ErrorIs(t, err, broker.ErrTradeNotFound)
	assert.ErrorIs(t, e.ModifyTrade(ctx, res.TradeID, ptr(1), nil), broker.ErrTradeNotFound)
}

func TestCandles(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 1000)
	cs := []market.Candle{{Time: t0, Close: 1, Complete: true}, {Time: t0.Add(time.Hour), Close: 2, Complete: true}}
	e.SetCandles(gold, "H1", cs)

	got, err := e.Candles(context.Background(), gold, "H1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Close)

	_, err = e.Candles(context.Background(), gold, "M5", 10)
	assert.Error(t, err)
}

type staticFeed struct {
	quote broker.Quote
}

func (f *staticFeed) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	return []market.Candle{{Time: t0, Close: f.quote.Mid(), Complete: true}}, nil
}

func (f *staticFeed) Price(ctx context.Context, instrument string) (broker.Quote, error) {
	return f.quote, nil
}

func TestPaper_FeedsEngine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feed := &staticFeed{quote: broker.Quote{Instrument: gold, Bid: 2000, Ask: 2000.5, Time: t0}}
	p := NewPaper(feed, broker.Account{Currency: "USD", Balance: 50_000})

	_, err := p.Price(ctx, gold)
	require.NoError(t, err)
	res, err := p.SubmitOrder(ctx, broker.OrderRequest{Instrument: gold, Units: 1, StopLoss: ptr(1998)})
	require.NoError(t, err)
	require.True(t, res.Success)

	feed.quote = broker.Quote{Instrument: gold, Bid: 1997, Ask: 1997.5, Time: t0.Add(time.Minute)}
	_, err = p.Price(ctx, gold)
	require.NoError(t, err)

	trades, err := p.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)

	cs, err := p.Candles(ctx, gold, "H1", 10)
	require.NoError(t, err)
	assert.Len(t, cs, 1)
}
