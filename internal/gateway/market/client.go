// Package market fetches per-symbol volatility and momentum readings from the
// market data service and shapes them into risk snapshots.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"guardian/internal/risk"
)

type Config struct {
	BaseURL     string
	Timeframe   string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeframe == "" {
		c.Timeframe = "15m"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Client reads indicator snapshots over HTTP. A field the service omits
// stays zero and simply removes that signal from the exit rules instead of
// failing the whole tick.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.BaseURL == "" {
		return nil, fmt.Errorf("market: base url required")
	}
	return &Client{
		cfg:  final,
		http: &http.Client{Timeout: final.HTTPTimeout},
	}, nil
}

func (c *Client) Snapshot(ctx context.Context, symbol string) (risk.Snapshot, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/api/market/snapshot")
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("market: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("timeframe", c.cfg.Timeframe)
	u.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("market snapshot %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return risk.Snapshot{}, fmt.Errorf("market snapshot %s: status %d", symbol, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("market snapshot %s: read body: %w", symbol, err)
	}
	return parseSnapshot(string(raw), symbol)
}

func parseSnapshot(raw, symbol string) (risk.Snapshot, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return risk.Snapshot{}, fmt.Errorf("market snapshot %s: invalid json", symbol)
	}
	doc := gjson.Parse(raw)
	if doc.Get("error").Exists() {
		return risk.Snapshot{}, fmt.Errorf("market snapshot %s: %s", symbol, doc.Get("error").String())
	}
	snap := risk.Snapshot{
		ATR:                 doc.Get("atr").Float(),
		Price:               doc.Get("price").Float(),
		Trend:               strings.ToLower(strings.TrimSpace(doc.Get("trend").String())),
		RSI:                 doc.Get("rsi").Float(),
		MACDHist:            doc.Get("macd_hist").Float(),
		EMAFast:             doc.Get("ema_fast").Float(),
		EMASlow:             doc.Get("ema_slow").Float(),
		MomentumExitLong:    doc.Get("momentum_exit_long").Bool(),
		MomentumExitShort:   doc.Get("momentum_exit_short").Bool(),
		StructureBreakLong:  doc.Get("structure_break_long").Bool(),
		StructureBreakShort: doc.Get("structure_break_short").Bool(),
		SwingLevel:          doc.Get("swing_level").Float(),
		VolumeRatio:         doc.Get("volume_ratio").Float(),
		SpreadPct:           doc.Get("spread_pct").Float(),
		Present:             true,
	}
	return snap, nil
}
