package exchange

import (
	"context"
	"strings"
	"time"
)

// Gateway is the order gateway consumed by the risk manager. Every call is
// fallible and treated as fire-and-observe: a failed call is logged and the
// same decision is re-derived on the next tick, never retried in a loop.
type Gateway interface {
	Name() string

	ListOpenPositions(ctx context.Context) ([]Position, error)

	OpenPosition(ctx context.Context, req OpenRequest) (*OrderResult, error)

	// ReduceOnlyClose submits a market order that can only shrink the
	// position. quantity <= 0 closes the full remaining size.
	ReduceOnlyClose(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error)

	// SetStopLoss replaces the protective stop for the open position.
	SetStopLoss(ctx context.Context, symbol string, side Side, price float64) error

	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	GetBalance(ctx context.Context) (Balance, error)

	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)

	// SymbolFilters returns lot constraints used by the quantity sizer.
	SymbolFilters(ctx context.Context, symbol string) (LotFilters, error)

	// ListRecentCloses returns positions settled within the window, newest
	// first, for cooldown reconciliation.
	ListRecentCloses(ctx context.Context, window time.Duration) ([]ClosedTrade, error)
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeSymbol uppercases and strips separators so "btc/usdt" and
// "BTCUSDT" key the same position.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}

// SymbolBase extracts the base asset ("BTC" from "BTCUSDT" or "BTC/USDT").
func SymbolBase(raw string) string {
	s := NormalizeSymbol(raw)
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)]
		}
	}
	return s
}
