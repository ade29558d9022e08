package strategy

import (
	"fmt"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
)

// ContinuationConfig enables the pullback-to-average continuation entry.
type ContinuationConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	MinADX      float64 `json:"min_adx" yaml:"min_adx"`
	MATolerance float64 `json:"ma_tolerance" yaml:"ma_tolerance"`
}

// DetectorConfig holds the candle-close thresholds. Distances are in
// price units, MinClosePosition is a fraction of the bar range.
type DetectorConfig struct {
	Lookback            int                `json:"lookback" yaml:"lookback"`
	MinADX              float64            `json:"min_adx" yaml:"min_adx"`
	StrongTrendADX      float64            `json:"strong_trend_adx" yaml:"strong_trend_adx"`
	RSIOverbought       float64            `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold         float64            `json:"rsi_oversold" yaml:"rsi_oversold"`
	MaxBreakoutDistance float64            `json:"max_breakout_distance" yaml:"max_breakout_distance"`
	MinClosePosition    float64            `json:"min_close_position" yaml:"min_close_position"`
	Continuation        ContinuationConfig `json:"continuation" yaml:"continuation"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Lookback:            20,
		MinADX:              20,
		StrongTrendADX:      35,
		RSIOverbought:       75,
		RSIOversold:         25,
		MaxBreakoutDistance: 5,
		MinClosePosition:    0.5,
		Continuation: ContinuationConfig{
			Enabled:     false,
			MinADX:      25,
			MATolerance: 1,
		},
	}
}

func (c DetectorConfig) Validate() error {
	if c.Lookback < 1 {
		return fmt.Errorf("lookback must be >= 1")
	}
	if c.MinADX < 0 {
		return fmt.Errorf("min_adx must be >= 0")
	}
	if c.StrongTrendADX <= c.MinADX {
		return fmt.Errorf("strong_trend_adx (%.1f) must be greater than min_adx (%.1f)", c.StrongTrendADX, c.MinADX)
	}
	if c.RSIOversold < 0 || c.RSIOverbought > 100 || c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("rsi bounds must satisfy 0 <= oversold < overbought <= 100")
	}
	if c.MaxBreakoutDistance < 0 {
		return fmt.Errorf("max_breakout_distance must be >= 0")
	}
	if c.MinClosePosition < 0 || c.MinClosePosition > 1 {
		return fmt.Errorf("min_close_position must be in [0,1]")
	}
	if c.Continuation.Enabled && c.Continuation.MATolerance < 0 {
		return fmt.Errorf("continuation.ma_tolerance must be >= 0")
	}
	return nil
}

// Filter names, reported in Result.Filter when a candidate is vetoed.
const (
	FilterADX           = "adx"
	FilterBody          = "body"
	FilterRSI           = "rsi"
	FilterDistance      = "distance"
	FilterClosePosition = "close_position"
)

const (
	baseConfidence         = 50
	continuationConfidence = 35
)

// Detector is the candle-close breakout detector. It is stateless; all
// state lives in the Memory passed to Evaluate.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}


// Evaluate compares the newest completed bar to the channel remembered
// from the previous bar and returns the result plus the memory to
// persist. Re-evaluating a bar already seen returns mem unchanged.
func (d *Detector) Evaluate(mem Memory, a indicators.Analysis, candles []market.Candle) (Result, Memory) {
	completed := market.CompleteOnly(candles)
	ch, ok := ComputeChannel(completed, d.cfg.Lookback)
	if !ok {
		return noSignal(fmt.Sprintf("insufficient data: have %d completed bars, need %d", len(completed), d.cfg.Lookback+1)), mem
	}
	bar := completed[len(completed)-1]
	if !mem.LastBarTime.IsZero() && bar.Time.Equal(mem.LastBarTime) {
		return noSignal("no new candle"), mem
	}

	next := mem
	next.PrevChannel = &ch
	next.LastBarTime = bar.Time
	analysis := a
	next.Indicators = &analysis

	if mem.PrevChannel == nil {
		return noSignal(fmt.Sprintf("channel initialized: high=%.5f low=%.5f", ch.High, ch.Low)), next
	}

	prev := *mem.PrevChannel
	dir, level := prev.Breach(bar.Close)
	if dir == market.Flat {
		res := d.continuation(mem, a, bar)
		if res.IsSignal() {
			next.LastDirection = res.Direction
		}
		return res, next
	}

	res := d.breakout(dir, level, a, bar)
	if res.IsSignal() {
		next.LastDirection = dir
	}
	return res, next
}

func (d *Detector) breakout(dir market.Direction, level float64, a indicators.Analysis, bar market.Candle) Result {
	reasons := []string{fmt.Sprintf("%s breakout: close %.5f beyond %.5f", dir, bar.Close, level)}

	if a.ADX < d.cfg.MinADX {
		reasons = append(reasons, fmt.Sprintf("ranging market: ADX %.1f < %.1f", a.ADX, d.cfg.MinADX))
		return rejected(dir, FilterADX, reasons)
	}
	strong := a.ADX > d.cfg.StrongTrendADX

	if !strong && !bodyAgrees(dir, bar) {
		reasons = append(reasons, fmt.Sprintf("candle body disagrees with %s", dir))
		return rejected(dir, FilterBody, reasons)
	}

	if !strong {
		if r, ok := d.rsiExhausted(dir, a.RSI); ok {
			reasons = append(reasons, r)
			return rejected(dir, FilterRSI, reasons)
		}
	}

	dist := dir.Favorable(level, bar.Close)
	if d.cfg.MaxBreakoutDistance > 0 && dist > d.cfg.MaxBreakoutDistance {
		reasons = append(reasons, fmt.Sprintf("overextended: %.5f past level (max %.5f)", dist, d.cfg.MaxBreakoutDistance))
		return rejected(dir, FilterDistance, reasons)
	}

	pos := closePosition(dir, bar)
	if pos < d.cfg.MinClosePosition {
		reasons = append(reasons, fmt.Sprintf("weak close: %.2f of range (min %.2f)", pos, d.cfg.MinClosePosition))
		return rejected(dir, FilterClosePosition, reasons)
	}

	conf := baseConfidence
	if strong {
		conf += 20
		reasons = append(reasons, fmt.Sprintf("strong trend ADX %.1f", a.ADX))
	} else {
		conf += 10
	}
	if trendAgrees(dir, a) {
		conf += 10
	}
	if pos >= 0.8 {
		conf += 10
	}
	if bodyAgrees(dir, bar) {
		conf += 5
	}

	return Result{
		Kind:       Signal,
		Direction:  dir,
		Price:      bar.Close,
		Level:      level,
		Confidence: min(conf, 100),
		Source:     SourceBreakout,
		Reason:     reasons[0],
		Reasons:    reasons,
	}
}

// continuation looks for a bar that dipped to the anchor average and
// closed back beyond it in the remembered trend direction.
func (d *Detector) continuation(mem Memory, a indicators.Analysis, bar market.Candle) Result {
	cc := d.cfg.Continuation
	if !cc.Enabled || mem.LastDirection == market.Flat {
		return noSignal("no breakout")
	}
	dir := mem.LastDirection
	if a.ADX < cc.MinADX {
		return noSignal(fmt.Sprintf("no breakout; continuation needs ADX >= %.1f (have %.1f)", cc.MinADX, a.ADX))
	}
	if a.EMA <= 0 {
		return noSignal("no breakout; no moving average")
	}

	// The bar's adverse extreme must reach the average (within tolerance)
	// and its close must be back on the trend side of it.
	extreme := bar.Low
	if dir == market.Short {
		extreme = bar.High
	}
	touched := dir.Favorable(a.EMA, extreme) <= cc.MATolerance
	reclaimed := dir.Favorable(a.EMA, bar.Close) > 0
	if !touched || !reclaimed || !bodyAgrees(dir, bar) {
		return noSignal("no breakout; no continuation setup")
	}
	if r, ok := d.rsiExhausted(dir, a.RSI); ok {
		return rejected(dir, FilterRSI, []string{"continuation " + dir.String(), r})
	}

	conf := continuationConfidence
	if a.ADX > d.cfg.StrongTrendADX {
		conf += 15
	}
	if trendAgrees(dir, a) {
		conf += 10
	}

	return Result{
		Kind:       Signal,
		Direction:  dir,
		Price:      bar.Close,
		Level:      a.EMA,
		Confidence: min(conf, 100),
		Source:     SourceContinuation,
		Reason:     fmt.Sprintf("%s continuation off EMA %.5f", dir, a.EMA),
	}
}

func (d *Detector) rsiExhausted(dir market.Direction, rsi float64) (string, bool) {
	return rsiExhausted(d.cfg, dir, rsi)
}

func rsiExhausted(cfg DetectorConfig, dir market.Direction, rsi float64) (string, bool) {
	switch {
	case dir == market.Long && rsi >= cfg.RSIOverbought:
		return fmt.Sprintf("exhausted: RSI %.1f >= %.1f", rsi, cfg.RSIOverbought), true
	case dir == market.Short && rsi <= cfg.RSIOversold:
		return fmt.Sprintf("exhausted: RSI %.1f <= %.1f", rsi, cfg.RSIOversold), true
	}
	return "", false
}

func bodyAgrees(dir market.Direction, c market.Candle) bool {
	switch dir {
	case market.Long:
		return c.Bullish()
	case market.Short:
		return c.Bearish()
	}
	return false
}

func trendAgrees(dir market.Direction, a indicators.Analysis) bool {
	if dir == market.Long {
		return a.PlusDI > a.MinusDI
	}
	return a.MinusDI > a.PlusDI
}

// closePosition is where the close sits in the bar's range, 1 being the
// favorable extreme. A zero-range bar counts as fully favorable.
func closePosition(dir market.Direction, c market.Candle) float64 {
	r := c.Range()
	if r <= 0 {
		return 1
	}
	if dir == market.Short {
		return (c.High - c.Close) / r
	}
	return (c.Close - c.Low) / r
}
