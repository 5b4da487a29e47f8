// Package exchange defines a common abstraction for derivatives trading venues.
// The risk engine only sees this boundary, so the backing venue (Binance
// futures, a paper broker in tests, ...) is swappable without touching the
// core management logic.
package exchange

import "time"

// Side is a position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the reversed direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// OrderSide maps a position direction to the venue order side used to open it.
func (s Side) OrderSide() string {
	if s == Long {
		return "BUY"
	}
	return "SELL"
}

// CloseOrderSide maps a position direction to the order side that reduces it.
func (s Side) CloseOrderSide() string {
	if s == Long {
		return "SELL"
	}
	return "BUY"
}

// Valid reports whether s is one of the two known directions.
func (s Side) Valid() bool { return s == Long || s == Short }

// ParseSide normalizes venue spellings ("buy"/"sell"/"LONG"/...) to a Side.
func ParseSide(raw string) (Side, bool) {
	switch normalize(raw) {
	case "long", "buy":
		return Long, true
	case "short", "sell":
		return Short, true
	}
	return "", false
}

// Position mirrors an open venue position. It is read-only from the risk
// manager's point of view: the venue owns it, we observe it each tick.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Quantity      float64   `json:"quantity"`
	Leverage      float64   `json:"leverage"`
	StopLoss      float64   `json:"stop_loss"` // 0 when no stop is set on the venue
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Actionable reports whether the position carries enough data to manage.
func (p Position) Actionable() bool {
	return p.Quantity > 0 && p.EntryPrice > 0 && p.MarkPrice > 0 && p.Side.Valid()
}

// LeveragedROI is the position's mark-to-market return as a fraction,
// scaled by leverage and sign-flipped for shorts.
func (p Position) LeveragedROI() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	raw := (p.MarkPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == Short {
		raw = -raw
	}
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	return raw * lev
}

// ProfitDistance is the favorable price move since entry (negative when the
// position is under water).
func (p Position) ProfitDistance() float64 {
	if p.Side == Short {
		return p.EntryPrice - p.MarkPrice
	}
	return p.MarkPrice - p.EntryPrice
}

// Balance is the account's stake-currency balance.
type Balance struct {
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceQuote is the latest traded price for a symbol.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LotFilters carries the venue's order-size constraints for a symbol.
type LotFilters struct {
	StepSize float64 // quantity step
	MinQty   float64 // minimum order quantity
	TickSize float64 // price step, 0 when unknown
}

// OpenRequest asks the venue to open a position.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64 // limit price; 0 sends a market order
	StopLoss   float64 // attached protective stop, 0 to skip
	TakeProfit float64 // attached take profit, 0 to skip
}

// OrderResult is the immediate acknowledgement of an order request. The
// venue may still reject or partially fill it afterwards; callers observe
// the outcome on the next tick rather than polling.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	ExecutedQty   float64
}

// ClosedTrade is a recently settled position, used to reconcile cooldowns.
type ClosedTrade struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   float64
	RealizedPn float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// LeveragedPnLPct is the realized return of the closed trade in percent,
// leverage applied. Returns 0 when the trade lacks pricing data.
func (t ClosedTrade) LeveragedPnLPct() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	raw := (t.ExitPrice - t.EntryPrice) / t.EntryPrice
	if t.Side == Short {
		raw = -raw
	}
	lev := t.Leverage
	if lev < 1 {
		lev = 1
	}
	return raw * lev * 100
}
