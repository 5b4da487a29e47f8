package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	snap, err := parseSnapshot(`{
		"atr": 1.5, "price": 60000, "trend": "Bullish",
		"rsi": 58.2, "macd_hist": 0.4,
		"ema_fast": 59900, "ema_slow": 59500,
		"momentum_exit_long": true,
		"structure_break_short": true,
		"swing_level": 59000,
		"volume_ratio": 2.3, "spread_pct": 0.0001
	}`, "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 1.5, snap.ATR)
	assert.Equal(t, 60000.0, snap.Price)
	assert.Equal(t, "bullish", snap.Trend)
	assert.True(t, snap.MomentumExitLong)
	assert.False(t, snap.MomentumExitShort)
	assert.True(t, snap.StructureBreakShort)
	assert.Equal(t, 59000.0, snap.SwingLevel)
	assert.True(t, snap.Present)
}

func TestParseSnapshotMissingFieldsStayZero(t *testing.T) {
	snap, err := parseSnapshot(`{"price": 100}`, "BTCUSDT")
	require.NoError(t, err)
	assert.Zero(t, snap.ATR)
	assert.Empty(t, snap.Trend)
	assert.True(t, snap.Present)
}

func TestParseSnapshotErrorField(t *testing.T) {
	_, err := parseSnapshot(`{"error": "symbol not tracked"}`, "DOGEUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol not tracked")
}

func TestParseSnapshotInvalidJSON(t *testing.T) {
	_, err := parseSnapshot("<html>oops</html>", "BTCUSDT")
	assert.Error(t, err)
}

func TestSnapshotRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/market/snapshot", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "15m", r.URL.Query().Get("timeframe"))
		w.Write([]byte(`{"atr": 1.2, "price": 60000}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	snap, err := c.Snapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.2, snap.ATR)
}

func TestSnapshotHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Snapshot(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
