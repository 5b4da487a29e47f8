package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/gateway/exchange"
)

func TestAnchorStopResolutionOrder(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100, Quantity: 1,
	}

	// Live venue stop wins over everything.
	a := s.GetOrCreate(pos, 97.5, 2)
	assert.Equal(t, 97.5, a.InitialStop)

	// No live stop: ATR multiple.
	s.Remove("BTCUSDT")
	a = s.GetOrCreate(pos, 0, 2)
	assert.InDelta(t, 100-2*1.2, a.InitialStop, 1e-9)

	// No live stop, no ATR: percentage fallback.
	s.Remove("BTCUSDT")
	a = s.GetOrCreate(pos, 0, 0)
	assert.InDelta(t, 100*(1-0.04), a.InitialStop, 1e-9)
}

func TestAnchorShortStopsAboveEntry(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "ETHUSDT", Side: exchange.Short,
		EntryPrice: 200, MarkPrice: 200, Quantity: 1,
	}
	a := s.GetOrCreate(pos, 0, 3)
	assert.InDelta(t, 200+3*1.2, a.InitialStop, 1e-9)
}

func TestAnchorReusedWithinGapTolerance(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100, Quantity: 1,
	}
	s.GetOrCreate(pos, 98, 0)
	s.MarkBreakeven("BTCUSDT")
	s.MarkPartialTP("BTCUSDT")

	// 0.05% drift is inside the 0.1% tolerance: same anchor, flags intact.
	pos.EntryPrice = 100.05
	a := s.GetOrCreate(pos, 98, 0)
	assert.Equal(t, 100.0, a.EntryPrice)
	assert.True(t, a.BreakevenReached)
	assert.True(t, a.PartialTPTaken)
}

func TestAnchorRebuiltOnEntryDrift(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100, Quantity: 1,
	}
	s.GetOrCreate(pos, 98, 0)
	s.MarkPartialTP("BTCUSDT")

	// A new fill moved the average entry: fresh anchor, fresh flags.
	pos.EntryPrice = 101
	a := s.GetOrCreate(pos, 99, 0)
	assert.Equal(t, 101.0, a.EntryPrice)
	assert.Equal(t, 99.0, a.InitialStop)
	assert.False(t, a.PartialTPTaken)
}

func TestAnchorRebuiltOnSideFlip(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100, Quantity: 1,
	}
	s.GetOrCreate(pos, 98, 0)

	pos.Side = exchange.Short
	a := s.GetOrCreate(pos, 102, 0)
	assert.Equal(t, "short", a.Side)
	assert.Equal(t, 102.0, a.InitialStop)
}

func TestAnchorSeedAndRemove(t *testing.T) {
	s := NewAnchorStore(Config{})
	s.Seed(Anchor{Symbol: "sol/usdt", Side: "long", EntryPrice: 150, InitialStop: 144})

	a, ok := s.Get("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, "SOLUSDT", a.Symbol)
	assert.False(t, a.OpenedAt.IsZero())

	s.Remove("SOLUSDT")
	_, ok = s.Get("SOLUSDT")
	assert.False(t, ok)
}

func TestAnchorRMath(t *testing.T) {
	a := Anchor{EntryPrice: 100, InitialStop: 98}
	assert.Equal(t, 2.0, a.RiskDistance())
	assert.Equal(t, 1.5, a.RMultiple(3))

	degenerate := Anchor{EntryPrice: 100, InitialStop: 100}
	assert.Equal(t, 0.0, degenerate.RMultiple(3))
}

func TestAnchorRecordsInitialATRPct(t *testing.T) {
	s := NewAnchorStore(Config{})
	pos := exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100, Quantity: 1,
	}
	a := s.GetOrCreate(pos, 98, 1.5)
	assert.InDelta(t, 0.015, a.InitialATRPct, 1e-9)
}
