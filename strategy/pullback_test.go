package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/market"
)

func m5(i int, o, h, l, c float64) market.Candle {
	b := bar(0, o, h, l, c)
	b.Time = t0.Add(time.Duration(i) * 5 * time.Minute)
	return b
}

func longEntry() *PendingEntry {
	return NewPendingEntry(Result{
		Kind:       Signal,
		Direction:  market.Long,
		Price:      2015,
		Confidence: 70,
		Source:     SourceBreakout,
	}, 2010, t0)
}

func TestBarPullback_EntersOnConfirmingBar(t *testing.T) {
	t.Parallel()

	p := BarPullback{MaxBars: 6, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1}
	pe := longEntry()

	bars := []market.Candle{
		m5(0, 2014, 2014.5, 2008, 2009), // dips to 2008, bearish
	}
	res, pe := p.Check(pe, bars, t0)
	require.Equal(t, Pending, res.Kind, res.String())
	require.NotNil(t, pe)
	assert.Equal(t, 2008.0, pe.BestPullback)
	assert.Equal(t, 1, pe.BarsUsed)

	bars = append(bars, m5(1, 2009, 2011.5, 2008.5, 2011))
	res, pe = p.Check(pe, bars, t0)
	require.Equal(t, Signal, res.Kind, res.String())
	assert.Nil(t, pe)
	assert.Equal(t, market.Long, res.Direction)
	assert.Equal(t, 2011.0, res.Price)
	assert.InDelta(t, 4.0, res.Improvement, 1e-9)
	assert.Equal(t, SourceBreakout, res.Source)
	assert.Equal(t, 70, res.Confidence)
}

func TestBarPullback_CountsEachBarOnce(t *testing.T) {
	t.Parallel()

	p := BarPullback{MaxBars: 6, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1}
	pe := longEntry()
	bars := []market.Candle{m5(0, 2015, 2016, 2014, 2015.5)}

	_, pe = p.Check(pe, bars, t0)
	_, pe = p.Check(pe, bars, t0)
	require.NotNil(t, pe)
	assert.Equal(t, 1, pe.BarsUsed)
}

func TestBarPullback_Timeout(t *testing.T) {
	t.Parallel()

	p := BarPullback{MaxBars: 3, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1}
	pe := longEntry()
	bars := []market.Candle{
		m5(0, 2015, 2016, 2014, 2015.5),
		m5(1, 2015.5, 2016, 2014, 2015),
		m5(2, 2015, 2016, 2013.5, 2014),
	}

	res, next := p.Check(pe, bars, t0)
	assert.Equal(t, NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "timeout")
	assert.Nil(t, next)
}

func TestBarPullback_IgnoresBarsBeforeStart(t *testing.T) {
	t.Parallel()

	p := BarPullback{MaxBars: 3, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1}
	pe := longEntry()
	res, next := p.Check(pe, []market.Candle{m5(-1, 2014, 2014.5, 2000, 2013)}, t0)

	assert.Equal(t, Pending, res.Kind)
	require.NotNil(t, next)
	assert.Equal(t, 0, next.BarsUsed)
	assert.Equal(t, 2015.0, next.BestPullback)
}

func TestBarPullback_ChaseGuardPreservesState(t *testing.T) {
	t.Parallel()

	p := BarPullback{MaxBars: 6, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1}
	pe := longEntry()

	// Dips to 2009 and closes bullish at 2017, 2 past the breakout.
	bars := []market.Candle{m5(0, 2014, 2017.5, 2009, 2017)}
	res, next := p.Check(pe, bars, t0.Add(5*time.Minute))
	require.Equal(t, Pending, res.Kind, res.String())
	assert.Contains(t, res.Reason, "not chasing")
	require.NotNil(t, next)
	assert.Equal(t, 2009.0, next.BestPullback)
	assert.Equal(t, 1, next.BarsUsed)

	bars = append(bars, m5(1, 2016, 2016.5, 2012, 2015.5))
	res, next = p.Check(next, bars, t0.Add(10*time.Minute))
	require.Equal(t, Signal, res.Kind, res.String())
	assert.Nil(t, next)
	assert.Equal(t, 2015.5, res.Price)
	assert.InDelta(t, -0.5, res.Improvement, 1e-9)
}

func TestBarPullback_WallClockTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		timeframe time.Duration
		at        time.Duration
		want      Kind
	}{
		{name: "within budget", timeframe: 5 * time.Minute, at: 20 * time.Minute, want: Pending},
		{name: "past budget", timeframe: 5 * time.Minute, at: 21 * time.Minute, want: NoSignal},
		{name: "no timeframe", timeframe: 0, at: 24 * time.Hour, want: Pending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := BarPullback{MaxBars: 3, MinPullback: 1, MinBounce: 5, ChaseTolerance: 1, Timeframe: tt.timeframe}

			res, next := p.Check(longEntry(), nil, t0.Add(tt.at))

			assert.Equal(t, tt.want, res.Kind, res.String())
			if tt.want == NoSignal {
				assert.Contains(t, res.Reason, "timeout")
				assert.Nil(t, next)
			} else {
				assert.NotNil(t, next)
			}
		})
	}
}

func TestContinuousPullback_ChaseGuardPreservesState(t *testing.T) {
	t.Parallel()

	p := ContinuousPullback{MaxWait: 10 * time.Minute, MinPullback: 1, MinBounce: 0.5, ChaseTolerance: 0.5}
	pe := NewPendingEntry(Result{Kind: Signal, Direction: market.Long, Price: 2015, Source: SourceRealtime}, 2014.5, t0)

	res, pe := p.Check(pe, 2013, t0.Add(time.Minute))
	require.Equal(t, Pending, res.Kind)
	require.NotNil(t, pe)

	// Price jumps well past the breakout price: pending, never rejected.
	res, next := p.Check(pe, 2017, t0.Add(2*time.Minute))
	assert.Equal(t, Pending, res.Kind)
	assert.Contains(t, res.Reason, "not chasing")
	require.NotNil(t, next)
	assert.Equal(t, 2013.0, next.BestPullback)

	res, next = p.Check(next, 2014, t0.Add(3*time.Minute))
	require.Equal(t, Signal, res.Kind, res.String())
	assert.Equal(t, 2014.0, res.Price)
	assert.InDelta(t, 1.0, res.Improvement, 1e-9)
	assert.Equal(t, SourceRealtime, res.Source)
	assert.Nil(t, next)
}

func TestContinuousPullback_Timeout(t *testing.T) {
	t.Parallel()

	p := ContinuousPullback{MaxWait: 10 * time.Minute, MinPullback: 1, MinBounce: 0.5, ChaseTolerance: 0.5}
	pe := NewPendingEntry(Result{Kind: Signal, Direction: market.Short, Price: 1995, Source: SourceRealtime}, 1996, t0)

	res, next := p.Check(pe, 1995.5, t0.Add(11*time.Minute))
	assert.Equal(t, NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "timeout")
	assert.Nil(t, next)
}

func TestContinuousPullback_Short(t *testing.T) {
	t.Parallel()

	p := ContinuousPullback{MaxWait: 10 * time.Minute, MinPullback: 1, MinBounce: 0.5, ChaseTolerance: 0.5}
	pe := NewPendingEntry(Result{Kind: Signal, Direction: market.Short, Price: 1995, Source: SourceRealtime}, 1996, t0)

	res, pe := p.Check(pe, 1996.5, t0.Add(time.Minute))
	require.Equal(t, Pending, res.Kind)
	require.NotNil(t, pe)
	assert.Equal(t, 1996.5, pe.BestPullback)

	res, pe = p.Check(pe, 1995.8, t0.Add(2*time.Minute))
	require.Equal(t, Signal, res.Kind, res.String())
	assert.Nil(t, pe)
	assert.Equal(t, market.Short, res.Direction)
	assert.InDelta(t, 0.8, res.Improvement, 1e-9)
}

func TestLevels_Compute(t *testing.T) {
	t.Parallel()

	cfg := LevelsConfig{StopDistance: 5, TP1Distance: 5, TP2Distance: 10}

	long := ComputeEntryLevels(cfg, Result{Direction: market.Long, Price: 2015}, 2011)
	assert.Equal(t, Levels{Entry: 2011, StopLoss: 2006, TP1: 2016, TP2: 2021}, long)

	short := ComputeEntryLevels(cfg, Result{Direction: market.Short, Price: 1995}, 0)
	assert.Equal(t, Levels{Entry: 1995, StopLoss: 2000, TP1: 1990, TP2: 1985}, short)

	wide := cfg.WithStopDistance(7.5).Compute(market.Long, 2000)
	assert.Equal(t, 1992.5, wide.StopLoss)
	assert.Equal(t, 5.0, cfg.StopDistance)
}
