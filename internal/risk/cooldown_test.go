package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/gateway/exchange"
)

// memKV is an in-memory KV with an injectable read error.
type memKV struct {
	mu      sync.Mutex
	data    map[string]int64
	readErr error
}

func newMemKV() *memKV { return &memKV{data: make(map[string]int64)} }

func (m *memKV) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) CompareAndSwap(_ context.Context, key string, old, value int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[key]
	if !ok {
		cur = 0
	}
	if cur != old {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func newTestGate(kv KV) *Gate {
	return NewGate(kv, CooldownConfig{
		Window:     60 * time.Minute,
		LossWindow: 120 * time.Minute,
		Reverse:    30 * time.Minute,
	})
}

func TestCooldownBlocksSameDirection(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	require.NoError(t, g.RecordClose(ctx, "BTCUSDT", exchange.Long, false))

	ok, remaining := g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.False(t, ok)
	assert.Greater(t, remaining, 59*time.Minute)

	// The opposite direction is untouched by a plain close.
	ok, _ = g.CanOpen(ctx, "BTCUSDT", exchange.Short)
	assert.True(t, ok)

	// Other symbols are untouched.
	ok, _ = g.CanOpen(ctx, "ETHUSDT", exchange.Long)
	assert.True(t, ok)
}

func TestCooldownLossExtendsWindow(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	base := time.Now()
	g.SetNowFunc(func() time.Time { return base })
	require.NoError(t, g.RecordClose(ctx, "BTCUSDT", exchange.Long, true))

	// 90 minutes later: past the 60m base window, inside the loss window.
	g.SetNowFunc(func() time.Time { return base.Add(90 * time.Minute) })
	ok, remaining := g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.False(t, ok)
	assert.InDelta(t, float64(90*time.Minute), float64(remaining), float64(time.Second))

	// 181 minutes later: both windows elapsed.
	g.SetNowFunc(func() time.Time { return base.Add(181 * time.Minute) })
	ok, _ = g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.True(t, ok)
}

func TestCooldownExpires(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	base := time.Now()
	g.SetNowFunc(func() time.Time { return base })
	require.NoError(t, g.RecordClose(ctx, "BTCUSDT", exchange.Long, false))

	g.SetNowFunc(func() time.Time { return base.Add(61 * time.Minute) })
	ok, _ := g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.True(t, ok)
}

func TestCooldownFailsOpenOnReadError(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	require.NoError(t, g.RecordClose(ctx, "BTCUSDT", exchange.Long, false))
	kv.readErr = errors.New("disk gone")

	ok, _ := g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.True(t, ok)
}

func TestBlockSymbolCoversBothSides(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	require.NoError(t, g.BlockSymbol(ctx, "btc/usdt"))

	ok, _ := g.CanOpen(ctx, "BTCUSDT", exchange.Long)
	assert.False(t, ok)
	ok, _ = g.CanOpen(ctx, "BTCUSDT", exchange.Short)
	assert.False(t, ok)
}

func TestRecordCloseAtNeverRewindsTimestamps(t *testing.T) {
	kv := newMemKV()
	g := newTestGate(kv)
	ctx := context.Background()

	newer := time.Now()
	older := newer.Add(-2 * time.Hour)

	require.NoError(t, g.RecordCloseAt(ctx, "BTCUSDT", exchange.Long, newer, false))
	require.NoError(t, g.RecordCloseAt(ctx, "BTCUSDT", exchange.Long, older, false))

	ts, ok, err := kv.Get(ctx, "BTCUSDT_long")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer.Unix(), ts)

	// A genuinely newer close does advance the record.
	newest := newer.Add(10 * time.Minute)
	require.NoError(t, g.RecordCloseAt(ctx, "BTCUSDT", exchange.Long, newest, true))
	ts, _, _ = kv.Get(ctx, "BTCUSDT_long")
	assert.Equal(t, newest.Unix(), ts)
	ts, ok, _ = kv.Get(ctx, "BTCUSDT_long_loss")
	require.True(t, ok)
	assert.Equal(t, newest.Unix(), ts)
}

func TestReverseTrackerSpacesAttempts(t *testing.T) {
	g := newTestGate(newMemKV())

	base := time.Now()
	g.SetNowFunc(func() time.Time { return base })

	ok, _ := g.ReverseAllowed("BTCUSDT")
	assert.True(t, ok)

	g.RecordReverseAttempt("BTCUSDT")
	ok, remaining := g.ReverseAllowed("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Minute, remaining)

	g.SetNowFunc(func() time.Time { return base.Add(31 * time.Minute) })
	ok, _ = g.ReverseAllowed("BTCUSDT")
	assert.True(t, ok)
}
