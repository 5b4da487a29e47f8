package risk

import "strings"

// Snapshot is the market-risk view of one symbol as served by the external
// technical analyzer. Any field may be absent (zero); consumers degrade to
// fallback behavior instead of failing the tick.
type Snapshot struct {
	ATR      float64 `json:"atr"`
	Price    float64 `json:"price"`
	Trend    string  `json:"trend"` // "bullish" | "bearish" | "neutral" | ""
	RSI      float64 `json:"rsi"`
	MACDHist float64 `json:"macd_hist"`

	EMAFast float64 `json:"ema_fast"`
	EMASlow float64 `json:"ema_slow"`

	MomentumExitLong  bool `json:"momentum_exit_long"`
	MomentumExitShort bool `json:"momentum_exit_short"`

	StructureBreakLong  bool `json:"structure_break_long"`
	StructureBreakShort bool `json:"structure_break_short"`

	// SwingLevel is the nearest favorable swing low (long) / high (short),
	// when the analyzer reports one.
	SwingLevel float64 `json:"swing_level"`

	VolumeRatio float64 `json:"volume_ratio"`
	SpreadPct   float64 `json:"spread_pct"`

	// present distinguishes "analyzer unreachable" from an all-zero report.
	Present bool `json:"-"`
}

// ATRPct is ATR relative to price, 0 when either is unknown.
func (s Snapshot) ATRPct() float64 {
	if s.ATR <= 0 || s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price
}

// MomentumExitFor reports whether the analyzer votes to exit positions in
// the given direction.
func (s Snapshot) MomentumExitFor(side string) bool {
	if side == "short" {
		return s.MomentumExitShort
	}
	return s.MomentumExitLong
}

// StructureBreakFor reports a structure break in the trade's favor.
func (s Snapshot) StructureBreakFor(side string) bool {
	if side == "short" {
		return s.StructureBreakShort
	}
	return s.StructureBreakLong
}

// TrendLabel returns the normalized trend string.
func (s Snapshot) TrendLabel() string {
	return strings.ToLower(strings.TrimSpace(s.Trend))
}
