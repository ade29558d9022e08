package bot

import (
	"sync"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
	"github.com/rustyeddy/breakout/notify"
	"github.com/rustyeddy/breakout/strategy"
)

const gold = "XAU_USD"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Candle {
	return market.Candle{
		Time:     t0.Add(time.Duration(i) * time.Hour),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Complete: true,
	}
}

// rangeBars builds n completed bars oscillating inside [low, high].
func rangeBars(n int, low, high float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	mid := (low + high) / 2
	for i := 0; i < n; i++ {
		o, c := mid-1, mid+1
		if i%2 == 1 {
			o, c = c, o
		}
		out = append(out, bar(i, o, high, low, c))
	}
	return out
}

// breakoutBar closes a long break of the 2000-2010 range at 2015.
func breakoutBar(i int) market.Candle {
	return bar(i, 2009, 2015.5, 2008, 2015)
}

func trending(adx, ema float64) indicators.Analysis {
	return indicators.Analysis{ADX: adx, PlusDI: 28, MinusDI: 14, RSI: 60, EMA: ema}
}

func testDetector() strategy.DetectorConfig {
	cfg := strategy.DefaultDetectorConfig()
	cfg.Lookback = 10
	cfg.MinADX = 20
	cfg.StrongTrendADX = 40
	cfg.MaxBreakoutDistance = 10
	return cfg
}

func testCoreConfig(refine bool) CoreConfig {
	return CoreConfig{
		Detector:           testDetector(),
		Realtime:           strategy.RealtimeConfig{Enabled: true, ConfirmWindow: time.Minute},
		PullbackEnabled:    refine,
		BarPullback:        strategy.BarPullback{MaxBars: 3, MinPullback: 1, MinBounce: 0.5, ChaseTolerance: 1},
		ContinuousPullback: strategy.ContinuousPullback{MaxWait: 15 * time.Minute, MinPullback: 1, MinBounce: 0.75, ChaseTolerance: 0.5},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}
