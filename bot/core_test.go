package bot

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/state"
	"github.com/rustyeddy/breakout/strategy"
)

// armedCore returns a core and a snapshot whose detector has seen the
// 2000-2010 range, plus the history it saw.
func armedCore(t *testing.T, refine bool, gate Gate) (*Core, *state.Snapshot, []market.Candle) {
	t.Helper()
	c := NewCore(testCoreConfig(refine), gate)
	snap := &state.Snapshot{}
	history := rangeBars(11, 2000, 2010)

	res := c.EvaluateCandleClose(snap, trending(30, 2013), history, nil, t0.Add(11*time.Hour))
	require.Equal(t, strategy.NoSignal, res.Kind)
	require.True(t, snap.Memory.Armed())
	return c, snap, history
}

func TestCore_BreakoutStartsPendingEntry(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, true, nil)
	now := t0.Add(12 * time.Hour)
	candles := append(history, breakoutBar(11))

	res := c.EvaluateCandleClose(snap, trending(30, 2013), candles, nil, now)

	require.Equal(t, strategy.Pending, res.Kind, res.String())
	assert.Equal(t, market.Long, res.Direction)
	assert.NotEmpty(t, res.SignalID)
	require.NotNil(t, snap.Entry)
	assert.Equal(t, res.SignalID, snap.Entry.SignalID)
	assert.Equal(t, strategy.SourceBreakout, snap.Entry.Source)
	assert.Equal(t, 2015.0, snap.Entry.BreakoutPrice)
	assert.Equal(t, 2013.0, snap.Entry.AnchorPrice)
	assert.Equal(t, now, snap.Entry.StartedAt)
	assert.NoError(t, snap.Check())
}

func TestCore_BreakoutWithoutRefinementSignalsImmediately(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, false, nil)
	res := c.EvaluateCandleClose(snap, trending(30, 2013), append(history, breakoutBar(11)), nil, t0.Add(12*time.Hour))

	require.Equal(t, strategy.Signal, res.Kind, res.String())
	assert.Equal(t, 2015.0, res.Price)
	assert.NotEmpty(t, res.SignalID)
	assert.Nil(t, snap.Entry)
}

func TestCore_BarPullbackCompletesOnLowerTimeframe(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, true, nil)
	now := t0.Add(12 * time.Hour)
	candles := append(history, breakoutBar(11))
	pendingRes := c.EvaluateCandleClose(snap, trending(30, 2013), candles, nil, now)
	require.Equal(t, strategy.Pending, pendingRes.Kind)

	lower := []market.Candle{{
		Time:     now.Add(5 * time.Minute),
		Open:     2014,
		High:     2014.5,
		Low:      2012.5,
		Close:    2014.2,
		Complete: true,
	}}
	res := c.EvaluateCandleClose(snap, trending(30, 2013), candles, lower, now.Add(10*time.Minute))

	require.Equal(t, strategy.Signal, res.Kind, res.String())
	assert.Equal(t, 2014.2, res.Price)
	assert.Equal(t, strategy.SourceBreakout, res.Source)
	assert.Equal(t, pendingRes.SignalID, res.SignalID)
	assert.InDelta(t, 0.8, res.Improvement, 1e-9)
	assert.Nil(t, snap.Entry)
}

func TestCore_PositionOpenIgnoresSignalsButAdvancesMemory(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, true, nil)
	snap.Position = &state.Position{TradeID: "T1", Direction: market.Short}
	candles := append(history, breakoutBar(11))

	res := c.EvaluateCandleClose(snap, trending(30, 2013), candles, nil, t0.Add(12*time.Hour))

	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "ignored")
	assert.Contains(t, res.Reason, "T1")
	assert.Equal(t, candles[11].Time, snap.Memory.LastBarTime)
	assert.Nil(t, snap.Entry)
	assert.NoError(t, snap.Check())
}

func TestCore_GateVetoesSignal(t *testing.T) {
	t.Parallel()

	gate := func(state.Snapshot, time.Time) (bool, string) { return false, "cooldown active, 10m0s remaining" }
	c, snap, history := armedCore(t, true, gate)

	res := c.EvaluateCandleClose(snap, trending(30, 2013), append(history, breakoutBar(11)), nil, t0.Add(12*time.Hour))

	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "cooldown")
	assert.Nil(t, snap.Entry)
	assert.Nil(t, snap.Breakout)
}

func TestCore_RealtimeBreakUsesRememberedChannel(t *testing.T) {
	t.Parallel()

	c := NewCore(testCoreConfig(true), nil)
	ind := trending(30, 2006)
	snap := &state.Snapshot{Memory: strategy.Memory{
		PrevChannel: &strategy.Channel{High: 2010, Low: 2000},
		Indicators:  &ind,
	}}

	res := c.CheckRealTime(snap, 2012, 30, 60, t0)
	require.Equal(t, strategy.Pending, res.Kind)
	require.NotNil(t, snap.Breakout)

	res = c.CheckRealTime(snap, 2012.5, 30, 60, t0.Add(61*time.Second))
	require.Equal(t, strategy.Pending, res.Kind, res.String())
	assert.Contains(t, res.Reason, "waiting for pullback")
	assert.Nil(t, snap.Breakout, "confirmation hands over to the pending entry")
	require.NotNil(t, snap.Entry)
	assert.Equal(t, strategy.SourceRealtime, snap.Entry.Source)
	assert.Equal(t, 2006.0, snap.Entry.AnchorPrice)
	assert.NoError(t, snap.Check())
}

func TestCore_RealtimeGuards(t *testing.T) {
	t.Parallel()

	channel := &strategy.Channel{High: 2010, Low: 2000}
	tests := []struct {
		name   string
		cfg    func(*CoreConfig)
		snap   state.Snapshot
		reason string
	}{
		{
			name:   "disabled",
			cfg:    func(c *CoreConfig) { c.Realtime.Enabled = false },
			snap:   state.Snapshot{Memory: strategy.Memory{PrevChannel: channel}},
			reason: "disabled",
		},
		{
			name: "position open",
			snap: state.Snapshot{
				Memory:   strategy.Memory{PrevChannel: channel},
				Position: &state.Position{TradeID: "T1"},
			},
			reason: "position open",
		},
		{
			name: "pending entry",
			snap: state.Snapshot{
				Memory:   strategy.Memory{PrevChannel: channel},
				Entry:    &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceBreakout},
				Breakout: &strategy.PendingBreakout{Direction: market.Long},
			},
			reason: "pending entry active",
		},
		{
			name:   "not armed",
			snap:   state.Snapshot{},
			reason: "not initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testCoreConfig(true)
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			c := NewCore(cfg, nil)
			snap := tt.snap.Clone()

			res := c.CheckRealTime(&snap, 2012, 30, 60, t0)

			assert.Equal(t, strategy.NoSignal, res.Kind)
			assert.Contains(t, res.Reason, tt.reason)
			if tt.name != "disabled" && tt.name != "not armed" {
				assert.Nil(t, snap.Breakout)
			}
		})
	}
}

func TestCore_RealtimeEntryBlocksCandleCloseSignals(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, true, nil)
	snap.Entry = &strategy.PendingEntry{Direction: market.Short, Source: strategy.SourceRealtime, StartedAt: t0}

	res := c.EvaluateCandleClose(snap, trending(30, 2013), append(history, breakoutBar(11)), nil, t0.Add(12*time.Hour))

	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "real-time entry refining")
	require.NotNil(t, snap.Entry)
	assert.Equal(t, market.Short, snap.Entry.Direction)
}

func TestCore_CheckPullbackOnlyDrivesRealtimeEntries(t *testing.T) {
	t.Parallel()

	c := NewCore(testCoreConfig(true), nil)
	barEntry := &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceBreakout, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0}
	snap := &state.Snapshot{Entry: barEntry}

	res := c.CheckPullback(snap, 2012, t0.Add(time.Minute))
	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Same(t, barEntry, snap.Entry)

	snap.Entry = &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceRealtime, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0, SignalID: "sig"}
	res = c.CheckPullback(snap, 2012.5, t0.Add(time.Minute))
	require.Equal(t, strategy.Pending, res.Kind, res.String())

	res = c.CheckPullback(snap, 2014, t0.Add(2*time.Minute))
	require.Equal(t, strategy.Signal, res.Kind, res.String())
	assert.Equal(t, "sig", res.SignalID)
	assert.Equal(t, strategy.SourceRealtime, res.Source)
	assert.Nil(t, snap.Entry)

	// Timeout drops the entry.
	snap.Entry = &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceRealtime, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0}
	res = c.CheckPullback(snap, 2014, t0.Add(16*time.Minute))
	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "timeout")
	assert.Nil(t, snap.Entry)
}

// A random mix of candle closes, live prices and fills never leaves a
// position next to a pending breakout or entry.
func TestCore_ExclusivityHoldsUnderRandomInput(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	c := NewCore(testCoreConfig(true), nil)
	snap := &state.Snapshot{}
	candles := rangeBars(11, 2000, 2010)
	now := t0.Add(11 * time.Hour)
	price := 2005.0

	for i := 0; i < 2000; i++ {
		now = now.Add(20 * time.Second)
		price += rng.Float64()*4 - 2

		switch op := rng.Intn(10); {
		case op < 1:
			o := price
			price += rng.Float64()*12 - 6
			hi, lo := max(o, price)+rng.Float64(), min(o, price)-rng.Float64()
			candles = append(candles, market.Candle{Time: candles[len(candles)-1].Time.Add(time.Hour), Open: o, High: hi, Low: lo, Close: price, Complete: true})
			c.EvaluateCandleClose(snap, trending(20+rng.Float64()*30, price-2), candles, nil, now)
		case op < 5:
			c.CheckRealTime(snap, price, 30, 50, now)
		case op < 8:
			c.CheckPullback(snap, price, now)
		case op < 9:
			// A fill always clears pending work.
			snap.ClearPending()
			snap.Position = &state.Position{TradeID: "T", Direction: market.Long}
		default:
			snap.Position = nil
		}
		require.NoError(t, snap.Check(), "step %d", i)
	}
}

func TestCore_DisabledRefinementDropsPersistedEntry(t *testing.T) {
	t.Parallel()

	c, snap, history := armedCore(t, false, nil)
	snap.Entry = &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceBreakout, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0}

	res := c.EvaluateCandleClose(snap, trending(30, 2013), append(history, breakoutBar(11)), nil, t0.Add(12*time.Hour))

	assert.Nil(t, snap.Entry)
	assert.Equal(t, strategy.Signal, res.Kind, res.String())

	snap.Entry = &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceRealtime, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0}
	res = c.CheckPullback(snap, 2012, t0.Add(time.Minute))
	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "disabled")
	assert.Nil(t, snap.Entry)
}

func TestCore_BarEntryTimesOutWithoutLowerBars(t *testing.T) {
	t.Parallel()

	cfg := testCoreConfig(true)
	cfg.BarPullback.Timeframe = 5 * time.Minute
	c := NewCore(cfg, nil)
	snap := &state.Snapshot{Entry: &strategy.PendingEntry{Direction: market.Long, Source: strategy.SourceBreakout, BreakoutPrice: 2015, AnchorPrice: 2013, BestPullback: 2015, StartedAt: t0}}
	history := rangeBars(11, 2000, 2010)

	res := c.EvaluateCandleClose(snap, trending(30, 2013), history, nil, t0.Add(15*time.Minute))
	require.Equal(t, strategy.Pending, res.Kind, res.String())
	require.NotNil(t, snap.Entry)

	res = c.EvaluateCandleClose(snap, trending(30, 2013), history, nil, t0.Add(time.Hour))
	assert.Equal(t, strategy.NoSignal, res.Kind)
	assert.Contains(t, res.Reason, "timeout")
	assert.Nil(t, snap.Entry)
}
