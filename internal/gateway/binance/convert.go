package binance

import (
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"guardian/internal/gateway/exchange"
)

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func binanceSide(side string) futures.SideType {
	if strings.EqualFold(side, "sell") {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func positionFromRisk(r *futures.PositionRisk, amt float64, now time.Time) exchange.Position {
	side := exchange.Long
	qty := amt
	if amt < 0 {
		side = exchange.Short
		qty = -amt
	}
	lev := parseFloat(r.Leverage)
	if lev < 1 {
		lev = 1
	}
	return exchange.Position{
		Symbol:        r.Symbol,
		Side:          side,
		EntryPrice:    parseFloat(r.EntryPrice),
		MarkPrice:     parseFloat(r.MarkPrice),
		Quantity:      qty,
		Leverage:      lev,
		UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		UpdatedAt:     now,
	}
}

// closedTradeFromFill recovers a full closed trade from one realized-pnl
// income record and its closing fill. A SELL fill closes a long, a BUY fill
// closes a short; for linear contracts pnl = (exit-entry)*qty on longs and
// the negation on shorts, so the entry price falls out of the arithmetic.
func closedTradeFromFill(symbol string, pnl float64, fill *futures.AccountTrade, lev float64, closedAt time.Time) (exchange.ClosedTrade, bool) {
	qty := parseFloat(fill.Quantity)
	exit := parseFloat(fill.Price)
	if qty <= 0 || exit <= 0 {
		return exchange.ClosedTrade{}, false
	}
	side := exchange.Short
	entry := exit + pnl/qty
	if fill.Side == futures.SideTypeSell {
		side = exchange.Long
		entry = exit - pnl/qty
	}
	if lev < 1 {
		lev = 1
	}
	return exchange.ClosedTrade{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		ExitPrice:  exit,
		Quantity:   qty,
		RealizedPn: pnl,
		Leverage:   lev,
		ClosedAt:   closedAt,
	}, true
}

// matchClosingFill pairs a realized-pnl income record with the account trade
// that produced it. Income records carry the fill's trade id as a string.
func matchClosingFill(trades []*futures.AccountTrade, tradeID string) *futures.AccountTrade {
	id, err := strconv.ParseInt(strings.TrimSpace(tradeID), 10, 64)
	if err != nil {
		return nil
	}
	for _, t := range trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}
