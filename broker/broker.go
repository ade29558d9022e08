package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/market"
)

// ErrTradeNotFound is returned when the venue has no record of a trade.
var ErrTradeNotFound = errors.New("trade not found")

// MarketData is the read-only half of a broker.
type MarketData interface {
	Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error)
	Price(ctx context.Context, instrument string) (Quote, error)
}

// Broker is the execution venue used by the bot.
type Broker interface {
	MarketData

	Account(ctx context.Context) (Account, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error
	OpenTrades(ctx context.Context) ([]OpenTrade, error)
	TradeDetail(ctx context.Context, tradeID string) (TradeDetail, error)
	// ClosePartial closes units of a trade (unsigned) and returns the
	// realized P&L of the closed portion.
	ClosePartial(ctx context.Context, tradeID string, units float64) (float64, error)
}

type Account struct {
	ID           string  `json:"id"`
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance"`
	NAV          float64 `json:"nav"`
	UnrealizedPL float64 `json:"unrealized_pl"`
	MarginUsed   float64 `json:"margin_used"`
	MarginFree   float64 `json:"margin_free"`
	OpenTrades   int     `json:"open_trades"`
}

type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
	Tradeable  bool      `json:"tradeable"`
}

func (q Quote) Mid() float64    { return (q.Bid + q.Ask) / 2 }
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// OrderRequest is a market order. Units are signed: positive buys,
// negative sells. PriceBound, when non-zero, is the worst acceptable
// fill price.
type OrderRequest struct {
	Instrument string
	Units      float64
	StopLoss   *float64
	TakeProfit *float64
	PriceBound float64
}

// OrderResult reports a fill or a rejection. A rejection is not an
// error; Reason carries the venue's reject/cancel reason.
type OrderResult struct {
	Success   bool
	TradeID   string
	FillPrice float64
	Units     float64
	Reason    string
	Time      time.Time
}

type OpenTrade struct {
	TradeID      string    `json:"trade_id"`
	Instrument   string    `json:"instrument"`
	Units        float64   `json:"units"`
	Price        float64   `json:"price"`
	UnrealizedPL float64   `json:"unrealized_pl"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	TakeProfit   *float64  `json:"take_profit,omitempty"`
	OpenTime     time.Time `json:"open_time"`
}

// TradeDetail describes a trade, typically one that has just closed.
type TradeDetail struct {
	TradeID      string    `json:"trade_id"`
	Instrument   string    `json:"instrument"`
	State        string    `json:"state"`
	InitialUnits float64   `json:"initial_units"`
	CurrentUnits float64   `json:"current_units"`
	Price        float64   `json:"price"`
	ExitPrice    float64   `json:"exit_price"`
	RealizedPL   float64   `json:"realized_pl"`
	OpenTime     time.Time `json:"open_time"`
	CloseTime    time.Time `json:"close_time"`
	Reason       string    `json:"reason"`
}

// Close reasons reported in TradeDetail.Reason.
const (
	CloseStopLoss   = "STOP_LOSS"
	CloseTakeProfit = "TAKE_PROFIT"
	CloseMarket     = "MARKET"
	CloseUnknown    = "UNKNOWN"
)

// retriableRejects are rejection reasons caused by protective order
// placement rather than by the order itself.
var retriableRejects = []string{
	"STOP_LOSS_ON_FILL_PRICE_DISTANCE",
	"STOP_LOSS_ON_FILL_LOSS",
	"STOP_LOSS_ON_FILL_GUARANTEED",
	"TAKE_PROFIT_ON_FILL_LOSS",
	"TAKE_PROFIT_ON_FILL_PRICE_DISTANCE",
	"TRAILING_STOP_LOSS_ON_FILL_PRICE_DISTANCE",
	"LOSING_TAKE_PROFIT",
}

// IsRetriableReject reports whether an order rejected for reason may
// succeed with wider or deferred protective orders.
func IsRetriableReject(reason string) bool {
	r := strings.ToUpper(reason)
	for _, s := range retriableRejects {
		if strings.Contains(r, s) {
			return true
		}
	}
	return false
}
