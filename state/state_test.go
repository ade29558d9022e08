package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
	"github.com/rustyeddy/breakout/strategy"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fullSnapshot() Snapshot {
	return Snapshot{
		Memory: strategy.Memory{
			PrevChannel:   &strategy.Channel{High: 2010, Low: 2000},
			LastBarTime:   t0,
			LastDirection: market.Long,
			Indicators:    &indicators.Analysis{Time: t0, ADX: 31, RSI: 58, EMA: 2004},
		},
		Entry: &strategy.PendingEntry{
			Direction:     market.Long,
			BreakoutPrice: 2015,
			AnchorPrice:   2010,
			StartedAt:     t0,
			BestPullback:  2012,
			BarsUsed:      2,
			Source:        strategy.SourceBreakout,
			Confidence:    75,
		},
		Cooldown: Cooldown{LastClose: t0.Add(-time.Hour)},
	}
}

func TestCooldown(t *testing.T) {
	t.Parallel()

	var c Cooldown
	assert.Equal(t, time.Duration(0), c.Remaining(t0, time.Hour))

	c.Extend(t0)
	assert.Equal(t, time.Hour, c.Remaining(t0, time.Hour))
	assert.Equal(t, 30*time.Minute, c.Remaining(t0.Add(30*time.Minute), time.Hour))
	assert.Equal(t, time.Duration(0), c.Remaining(t0.Add(2*time.Hour), time.Hour))

	// Only extends.
	c.Extend(t0.Add(-time.Minute))
	assert.Equal(t, t0, c.LastClose)
	c.Extend(t0.Add(time.Minute))
	assert.Equal(t, t0.Add(time.Minute), c.LastClose)
}

func TestSnapshot_Check(t *testing.T) {
	t.Parallel()

	s := fullSnapshot()
	assert.NoError(t, s.Check())

	s.Position = &Position{TradeID: "1"}
	assert.Error(t, s.Check())

	s.ClearPending()
	assert.NoError(t, s.Check())

	s.Breakout = &strategy.PendingBreakout{Direction: market.Short}
	assert.Error(t, s.Check())
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := fullSnapshot()
	c := s.Clone()
	c.Entry.BestPullback = 1
	c.Memory.PrevChannel.High = 1
	assert.Equal(t, 2012.0, s.Entry.BestPullback)
	assert.Equal(t, 2010.0, s.Memory.PrevChannel.High)
}

func TestFileStore_EmptyDir(t *testing.T) {
	t.Parallel()

	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoState)
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	want := fullSnapshot()
	require.NoError(t, fs.Save(ctx, want))

	for _, name := range entities {
		_, err := os.Stat(filepath.Join(dir, name+".json"))
		assert.NoError(t, err, name)
	}

	// A fresh store sees what the first one wrote.
	fs2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := fs2.Load(ctx)
	require.NoError(t, err)

	assert.Nil(t, got.Position)
	assert.Nil(t, got.Breakout)
	require.NotNil(t, got.Entry)
	assert.Equal(t, *want.Entry, *got.Entry)
	require.NotNil(t, got.Memory.PrevChannel)
	assert.Equal(t, *want.Memory.PrevChannel, *got.Memory.PrevChannel)
	assert.Equal(t, market.Long, got.Memory.LastDirection)
	assert.True(t, got.Memory.LastBarTime.Equal(t0))
	require.NotNil(t, got.Memory.Indicators)
	assert.Equal(t, 31.0, got.Memory.Indicators.ADX)
	assert.True(t, got.Cooldown.LastClose.Equal(want.Cooldown.LastClose))
}

func TestFileStore_SkipsUnchangedEntities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	s := fullSnapshot()
	require.NoError(t, fs.Save(ctx, s))

	memPath := filepath.Join(dir, EntityMemory+".json")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(memPath, old, old))

	// Only the pending entry changes.
	s.Entry.BarsUsed++
	require.NoError(t, fs.Save(ctx, s))

	st, err := os.Stat(memPath)
	require.NoError(t, err)
	assert.WithinDuration(t, old, st.ModTime(), time.Second)
}

func TestFileStore_PositionReplacesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	s := fullSnapshot()
	require.NoError(t, fs.Save(ctx, s))

	s.ClearPending()
	s.Position = &Position{
		TradeID:     "42",
		Instrument:  "XAU_USD",
		Direction:   market.Long,
		Source:      strategy.SourceBreakout,
		EntryPrice:  2011,
		StopLoss:    2006,
		CurrentStop: 2006,
		Units:       10,
		Protected:   true,
		OpenedAt:    t0,
	}
	require.NoError(t, fs.Save(ctx, s))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.NoError(t, got.Check())
	assert.Nil(t, got.Entry)
	require.NotNil(t, got.Position)
	assert.Equal(t, "42", got.Position.TradeID)
	assert.Equal(t, 10.0, got.Position.SignedUnits())
}

func TestFileStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Save(ctx, fullSnapshot()))
	require.NoError(t, fs.Reset(ctx))

	_, err = fs.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	// Saving after a reset rewrites everything.
	require.NoError(t, fs.Save(ctx, fullSnapshot()))
	_, err = fs.Load(ctx)
	assert.NoError(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	rs, err := NewRedisStore(ctx, addr, "", 0, "breakout-test", "XAU_USD")
	require.NoError(t, err)
	defer rs.Close()
	require.NoError(t, rs.Reset(ctx))

	other, err := NewRedisStore(ctx, addr, "", 0, "breakout-test", "EUR_USD")
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Reset(ctx))

	_, err = rs.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	want := fullSnapshot()
	require.NoError(t, rs.Save(ctx, want))
	got, err := rs.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Entry)
	assert.Equal(t, want.Entry.BreakoutPrice, got.Entry.BreakoutPrice)

	_, err = other.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState, "instruments must not share keys")

	require.NoError(t, rs.Reset(ctx))
}

func TestRedisStore_KeysIncludeInstrument(t *testing.T) {
	t.Parallel()

	rs := &RedisStore{prefix: "breakout", instrument: "XAU_USD"}
	assert.Equal(t, "breakout:XAU_USD:position", rs.key(EntityPosition))
	assert.NotEqual(t, rs.key(EntityMemory), (&RedisStore{prefix: "breakout", instrument: "EUR_USD"}).key(EntityMemory))
}

func TestFileStore_InterruptedClosureKeepsCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	s := Snapshot{Position: &Position{TradeID: "42", Instrument: "XAU_USD", Direction: market.Long, Units: 10}}
	require.NoError(t, fs.Save(ctx, s))

	// A directory in place of position.json makes that write fail, as
	// a crash right before it would.
	posPath := filepath.Join(dir, EntityPosition+".json")
	require.NoError(t, os.Remove(posPath))
	require.NoError(t, os.MkdirAll(filepath.Join(posPath, "x"), 0o755))

	s.Position = nil
	s.Cooldown.Extend(t0)
	err = fs.Save(ctx, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save position")

	b, err := os.ReadFile(filepath.Join(dir, EntityCooldown+".json"))
	require.NoError(t, err)
	var got Cooldown
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, got.LastClose.Equal(t0))
}
