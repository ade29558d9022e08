package sim

import (
	"context"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
)

// Paper trades against live market data. Candles and quotes come from
// the upstream feed; every quote fetched is also fed to the engine so
// simulated stops and targets trigger on real prices.
type Paper struct {
	*Engine
	feed broker.MarketData
}

func NewPaper(feed broker.MarketData, acct broker.Account) *Paper {
	return &Paper{Engine: NewEngine(acct), feed: feed}
}

func (p *Paper) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	return p.feed.Candles(ctx, instrument, granularity, count)
}

func (p *Paper) Price(ctx context.Context, instrument string) (broker.Quote, error) {
	q, err := p.feed.Price(ctx, instrument)
	if err != nil {
		return broker.Quote{}, err
	}
	p.Engine.SetQuote(q)
	return q, nil
}

var _ broker.Broker = (*Paper)(nil)
