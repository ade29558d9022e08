package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
)

func testDetectorConfig() DetectorConfig {
	cfg := DefaultDetectorConfig()
	cfg.Lookback = 10
	cfg.MinADX = 20
	cfg.StrongTrendADX = 40
	cfg.MaxBreakoutDistance = 10
	cfg.MinClosePosition = 0.5
	return cfg
}

func trending(adx float64) indicators.Analysis {
	return indicators.Analysis{ADX: adx, PlusDI: 28, MinusDI: 14, RSI: 60, EMA: 2005}
}

// armed returns a detector memory that has already seen the 11-bar range
// history, along with that history.
func armed(t *testing.T, d *Detector) (Memory, []market.Candle) {
	t.Helper()
	history := rangeBars(11, 2000, 2010)
	res, mem := d.Evaluate(Memory{}, trending(30), history)
	require.Equal(t, NoSignal, res.Kind)
	require.True(t, mem.Armed())
	return mem, history
}

func TestDetector_FirstCallInitializesChannel(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	res, mem := d.Evaluate(Memory{}, trending(30), rangeBars(11, 2000, 2010))

	assert.Equal(t, NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "initialized")
	require.NotNil(t, mem.PrevChannel)
	assert.Equal(t, 2010.0, mem.PrevChannel.High)
	assert.Equal(t, t0.Add(10*time.Hour), mem.LastBarTime)
	require.NotNil(t, mem.Indicators)
	assert.Equal(t, 30.0, mem.Indicators.ADX)
}

func TestDetector_InsufficientData(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	res, mem := d.Evaluate(Memory{}, trending(30), rangeBars(10, 2000, 2010))

	assert.Equal(t, NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "insufficient data")
	assert.Equal(t, Memory{}, mem)
}

func TestDetector_LongBreakout(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	mem, history := armed(t, d)

	candles := append(history, bar(11, 2009, 2015.5, 2008, 2015))
	res, next := d.Evaluate(mem, trending(30), candles)

	require.Equal(t, Signal, res.Kind, res.String())
	assert.Equal(t, market.Long, res.Direction)
	assert.Equal(t, 2015.0, res.Price)
	assert.Equal(t, 2010.0, res.Level)
	assert.Equal(t, SourceBreakout, res.Source)
	assert.GreaterOrEqual(t, res.Confidence, baseConfidence)
	assert.LessOrEqual(t, res.Confidence, 100)

	assert.Equal(t, market.Long, next.LastDirection)
	assert.Equal(t, candles[11].Time, next.LastBarTime)
	// The channel now includes the breakout's predecessor window.
	require.NotNil(t, next.PrevChannel)
	assert.Equal(t, 2010.0, next.PrevChannel.High)
}

func TestDetector_RangingMarketRejected(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	mem, history := armed(t, d)

	candles := append(history, bar(11, 2009, 2015.5, 2008, 2015))
	res, next := d.Evaluate(mem, trending(15), candles)

	assert.Equal(t, NoSignal, res.Kind)
	assert.Equal(t, FilterADX, res.Filter)
	assert.Contains(t, res.Reason, "ranging market")
	assert.Equal(t, market.Flat, next.LastDirection)
	// Memory still advances on a rejected bar.
	assert.Equal(t, candles[11].Time, next.LastBarTime)
}

func TestDetector_SameBarIsNoop(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	mem, history := armed(t, d)
	candles := append(history, bar(11, 2009, 2015.5, 2008, 2015))

	_, first := d.Evaluate(mem, trending(30), candles)
	res, second := d.Evaluate(first, trending(30), candles)

	assert.Equal(t, NoSignal, res.Kind)
	assert.Equal(t, "no new candle", res.Reason)
	assert.Equal(t, first, second)
}

func TestDetector_FilterChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bar      market.Candle
		analysis indicators.Analysis
		filter   string
		signal   bool
	}{
		{
			name:     "bearish body",
			bar:      bar(11, 2016, 2016.5, 2011, 2015),
			analysis: trending(30),
			filter:   FilterBody,
		},
		{
			name:     "bearish body bypassed by strong trend",
			bar:      bar(11, 2015.2, 2015.5, 2011, 2015),
			analysis: trending(45),
			signal:   true,
		},
		{
			name:     "overbought",
			bar:      bar(11, 2009, 2015.5, 2008, 2015),
			analysis: indicators.Analysis{ADX: 30, RSI: 80},
			filter:   FilterRSI,
		},
		{
			name:     "overbought bypassed by strong trend",
			bar:      bar(11, 2009, 2015.5, 2008, 2015),
			analysis: indicators.Analysis{ADX: 45, RSI: 80},
			signal:   true,
		},
		{
			name:     "overextended",
			bar:      bar(11, 2009, 2025, 2008, 2024),
			analysis: trending(30),
			filter:   FilterDistance,
		},
		{
			name:     "weak close",
			bar:      bar(11, 2009, 2030, 2008, 2012),
			analysis: trending(30),
			filter:   FilterClosePosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewDetector(testDetectorConfig())
			mem, history := armed(t, d)

			res, _ := d.Evaluate(mem, tt.analysis, append(history, tt.bar))
			if tt.signal {
				assert.Equal(t, Signal, res.Kind, res.String())
				return
			}
			assert.Equal(t, NoSignal, res.Kind)
			assert.Equal(t, tt.filter, res.Filter)
			assert.GreaterOrEqual(t, len(res.Reasons), 2)
		})
	}
}

func TestDetector_ShortBreakout(t *testing.T) {
	t.Parallel()

	d := NewDetector(testDetectorConfig())
	mem, history := armed(t, d)

	a := indicators.Analysis{ADX: 30, PlusDI: 12, MinusDI: 30, RSI: 40}
	res, next := d.Evaluate(mem, a, append(history, bar(11, 2001, 2002, 1995.5, 1996)))

	require.Equal(t, Signal, res.Kind, res.String())
	assert.Equal(t, market.Short, res.Direction)
	assert.Equal(t, 2000.0, res.Level)
	assert.Equal(t, market.Short, next.LastDirection)
}

func TestDetector_Continuation(t *testing.T) {
	t.Parallel()

	cfg := testDetectorConfig()
	cfg.Continuation = ContinuationConfig{Enabled: true, MinADX: 25, MATolerance: 0.5}
	d := NewDetector(cfg)
	mem, history := armed(t, d)
	mem.LastDirection = market.Long

	// Dips to the 2005 average and closes back above it inside the channel.
	a := indicators.Analysis{ADX: 30, PlusDI: 25, MinusDI: 15, RSI: 55, EMA: 2005}
	res, next := d.Evaluate(mem, a, append(history, bar(11, 2005.2, 2007, 2004.8, 2006.5)))

	require.Equal(t, Signal, res.Kind, res.String())
	assert.Equal(t, SourceContinuation, res.Source)
	assert.Equal(t, market.Long, res.Direction)
	assert.Less(t, res.Confidence, baseConfidence+10)
	assert.Equal(t, market.Long, next.LastDirection)

	// Without a remembered direction nothing fires.
	mem.LastDirection = market.Flat
	res, _ = d.Evaluate(mem, a, append(history, bar(11, 2005.2, 2007, 2004.8, 2006.5)))
	assert.Equal(t, NoSignal, res.Kind)
}

func TestDetectorConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultDetectorConfig().Validate())

	cfg := DefaultDetectorConfig()
	cfg.StrongTrendADX = cfg.MinADX
	assert.Error(t, cfg.Validate())

	cfg = DefaultDetectorConfig()
	cfg.Lookback = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultDetectorConfig()
	cfg.RSIOversold = 80
	assert.Error(t, cfg.Validate())
}
