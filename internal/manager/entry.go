package manager

import (
	"context"
	"fmt"
	"math"
	"time"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
	"guardian/internal/risk"
)

// Entry statuses reported to callers.
const (
	StatusOpened          = "opened"
	StatusSkippedExisting = "skipped_existing"
	StatusBlockedFlip     = "blocked_direct_flip"
	StatusCooldown        = "cooldown_active"
	StatusBelowNotional   = "rejected_below_notional"
	StatusClosed          = "closed"
)

// OpenParams describes a requested entry. Zero SizePct/Leverage fall back to
// the configured defaults.
type OpenParams struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	SizePct  float64 `json:"size_pct,omitempty"`
	Leverage float64 `json:"leverage,omitempty"`
	StopLoss float64 `json:"stop_loss,omitempty"`
}

// OpenResult reports what the entry path did.
type OpenResult struct {
	Status      string  `json:"status"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	EntryPrice  float64 `json:"entry_price,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	MinutesLeft int     `json:"cooldown_minutes_left,omitempty"`
	Detail      string  `json:"detail,omitempty"`
}

// OpenPosition runs the guarded entry path: duplicate and direct-flip checks,
// the cooldown gate, then sizing and the order itself. A direct flip is never
// executed; the reverse flow owns direction changes.
func (m *Manager) OpenPosition(ctx context.Context, params OpenParams) (OpenResult, error) {
	symbol := exchange.NormalizeSymbol(params.Symbol)
	side, ok := exchange.ParseSide(params.Side)
	if !ok {
		return OpenResult{}, fmt.Errorf("open %s: unknown side %q", symbol, params.Side)
	}
	result := OpenResult{Symbol: symbol, Side: string(side)}

	positions, err := m.gw.ListOpenPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("open %s: list positions: %w", symbol, err)
	}
	for _, pos := range positions {
		if exchange.NormalizeSymbol(pos.Symbol) != symbol {
			continue
		}
		if pos.Side == side {
			result.Status = StatusSkippedExisting
			result.Detail = "position already open in this direction"
			return result, nil
		}
		// Opposite direction already open: reject and arm the symbol-wide
		// cooldown so a follow-up request does not slip through either.
		if err := m.gate.BlockSymbol(ctx, symbol); err != nil {
			logger.Errorf("block symbol %s failed: %v", symbol, err)
		}
		result.Status = StatusBlockedFlip
		result.Detail = fmt.Sprintf("opposite %s position open, direct flip rejected", pos.Side)
		return result, nil
	}

	if ok, remaining := m.gate.CanOpen(ctx, symbol, side); !ok {
		result.Status = StatusCooldown
		result.MinutesLeft = int(math.Ceil(remaining.Minutes()))
		return result, nil
	}

	sizePct := params.SizePct
	if sizePct <= 0 {
		sizePct = m.cfg.DefaultSizePct
	}
	leverage := params.Leverage
	if leverage <= 0 {
		leverage = m.cfg.DefaultLeverage
	}

	if err := m.gw.SetLeverage(ctx, symbol, leverage); err != nil {
		logger.Warnf("set leverage %s x%.0f failed, venue default applies: %v", symbol, leverage, err)
	}
	balance, err := m.gw.GetBalance(ctx)
	if err != nil {
		return result, fmt.Errorf("open %s: balance: %w", symbol, err)
	}
	quote, err := m.gw.GetPrice(ctx, symbol)
	if err != nil {
		return result, fmt.Errorf("open %s: price: %w", symbol, err)
	}
	filters, err := m.gw.SymbolFilters(ctx, symbol)
	if err != nil {
		return result, fmt.Errorf("open %s: filters: %w", symbol, err)
	}
	qty, err := risk.Size(balance.Available, sizePct, leverage, quote.Last, filters.StepSize, filters.MinQty)
	if err != nil {
		return result, fmt.Errorf("open %s: sizing: %w", symbol, err)
	}
	if notional := qty * quote.Last; notional < m.cfg.MinNotionalUSD {
		result.Status = StatusBelowNotional
		result.Detail = fmt.Sprintf("notional %.2f below minimum %.2f", notional, m.cfg.MinNotionalUSD)
		return result, nil
	}

	stop := params.StopLoss
	if stop <= 0 {
		atr := 0.0
		if snap, err := m.snapshots.Snapshot(ctx, symbol); err == nil {
			atr = snap.ATR
		}
		stop = risk.InitialStopPrice(quote.Last, side, atr, m.riskCfg)
	}

	req := exchange.OpenRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		StopLoss: stop,
	}
	if m.cfg.EntryOrderType == "limit" {
		req.Price = quote.Last
	}
	order, err := m.gw.OpenPosition(ctx, req)
	if err != nil {
		return result, fmt.Errorf("open %s: %w", symbol, err)
	}

	m.anchors.Seed(risk.Anchor{
		Symbol:      symbol,
		Side:        string(side),
		EntryPrice:  quote.Last,
		InitialStop: stop,
		OpenedAt:    m.nowFn(),
		SizePct:     sizePct,
		Leverage:    leverage,
	})

	result.Status = StatusOpened
	result.Quantity = qty
	result.EntryPrice = quote.Last
	result.StopLoss = stop
	result.OrderID = order.OrderID
	logger.Infof("opened %s %s qty=%.8g stop=%.8g lev=%.0f", symbol, side, qty, stop, leverage)
	return result, nil
}

// ClosePosition flattens one open position at market and records the
// cooldown the same way a rule-driven close would.
func (m *Manager) ClosePosition(ctx context.Context, symbol string) (OpenResult, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	result := OpenResult{Symbol: symbol}

	positions, err := m.gw.ListOpenPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("close %s: list positions: %w", symbol, err)
	}
	var target *exchange.Position
	for i := range positions {
		if exchange.NormalizeSymbol(positions[i].Symbol) == symbol {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		return result, fmt.Errorf("close %s: no open position", symbol)
	}

	if _, err := m.gw.ReduceOnlyClose(ctx, target.Symbol, target.Side, 0); err != nil {
		return result, fmt.Errorf("close %s: %w", symbol, err)
	}
	pct := target.LeveragedROI() * 100
	if abs(pct) >= m.cfg.PnLThresholdPct {
		if err := m.gate.RecordClose(ctx, symbol, target.Side, pct < 0); err != nil {
			logger.Errorf("cooldown record for %s failed: %v", symbol, err)
		}
	}
	m.anchors.Remove(symbol)

	result.Status = StatusClosed
	result.Side = string(target.Side)
	result.Quantity = target.Quantity
	logger.Infof("closed %s %s manually (roi=%.2f%%)", symbol, target.Side, pct)
	return result, nil
}

// CooldownStatus reports the remaining wait for a symbol/side pair.
func (m *Manager) CooldownStatus(ctx context.Context, symbol, rawSide string) (bool, time.Duration, error) {
	side, ok := exchange.ParseSide(rawSide)
	if !ok {
		return false, 0, fmt.Errorf("unknown side %q", rawSide)
	}
	allowed, remaining := m.gate.CanOpen(ctx, exchange.NormalizeSymbol(symbol), side)
	return allowed, remaining, nil
}
