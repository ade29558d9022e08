package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
)

// candleData represents the OHLC data in the API response
type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Candles fetches the most recent count mid candles. The forming candle
// is returned with Complete=false; callers filter.
func (c *Client) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	if instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	if count <= 0 || count > 5000 {
		return nil, fmt.Errorf("count must be in 1..5000, got %d", count)
	}

	params := url.Values{}
	params.Set("price", "M")
	params.Set("granularity", granularity)
	params.Set("count", strconv.Itoa(count))

	var resp candlesResponse
	if err := c.do(ctx, http.MethodGet, "/v3/instruments/"+url.PathEscape(instrument)+"/candles", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", instrument, granularity, err)
	}

	candles := make([]market.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		t, err := time.Parse(time.RFC3339, ac.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time %s: %w", ac.Time, err)
		}
		var ohlc [4]float64
		for i, s := range []string{ac.Mid.O, ac.Mid.H, ac.Mid.L, ac.Mid.C} {
			if ohlc[i], err = parsePrice(s); err != nil {
				return nil, fmt.Errorf("candle %s: %w", ac.Time, err)
			}
		}
		candles = append(candles, market.Candle{
			Time:     t,
			Open:     ohlc[0],
			High:     ohlc[1],
			Low:      ohlc[2],
			Close:    ohlc[3],
			Volume:   float64(ac.Volume),
			Complete: ac.Complete,
		})
	}
	return candles, nil
}

type priceBucket struct {
	Price string `json:"price"`
}

type apiPrice struct {
	Instrument string        `json:"instrument"`
	Time       string        `json:"time"`
	Tradeable  bool          `json:"tradeable"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

type pricingResponse struct {
	Prices []apiPrice `json:"prices"`
}

// Price returns the top-of-book quote for instrument.
func (c *Client) Price(ctx context.Context, instrument string) (broker.Quote, error) {
	params := url.Values{}
	params.Set("instruments", instrument)

	var resp pricingResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/pricing"), params, nil, &resp); err != nil {
		return broker.Quote{}, fmt.Errorf("pricing %s: %w", instrument, err)
	}
	for _, p := range resp.Prices {
		if p.Instrument != instrument || len(p.Bids) == 0 || len(p.Asks) == 0 {
			continue
		}
		bid, err := parsePrice(p.Bids[0].Price)
		if err != nil {
			return broker.Quote{}, err
		}
		ask, err := parsePrice(p.Asks[0].Price)
		if err != nil {
			return broker.Quote{}, err
		}
		t, _ := time.Parse(time.RFC3339, p.Time)
		return broker.Quote{Instrument: instrument, Bid: bid, Ask: ask, Time: t, Tradeable: p.Tradeable}, nil
	}
	return broker.Quote{}, fmt.Errorf("pricing %s: no quote in response", instrument)
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

func formatPrice(instrument string, p float64) string {
	return decimal.NewFromFloat(p).StringFixed(market.Lookup(instrument).DisplayPrecision)
}

func formatUnits(instrument string, u float64) string {
	return decimal.NewFromFloat(u).StringFixed(market.Lookup(instrument).TradeUnitsPrecision)
}
