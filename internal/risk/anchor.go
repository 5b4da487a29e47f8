package risk

import (
	"math"
	"sync"
	"time"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
)

// Anchor is the per-symbol risk record frozen at position open. The initial
// stop never moves; only the live venue stop does. All "1R" math derives
// from this record.
type Anchor struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	InitialStop float64   `json:"initial_stop"`
	OpenedAt    time.Time `json:"opened_at"`

	BreakevenReached bool `json:"breakeven_reached"`
	PartialTPTaken   bool `json:"partial_tp_taken"`

	InitialATRPct float64 `json:"initial_atr_pct,omitempty"` // ATR/price at open, 0 when unknown

	// Echo of the parameters used to open the position, for audit.
	SizePct      float64 `json:"size_pct,omitempty"`
	Leverage     float64 `json:"leverage,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

// RiskDistance is the absolute 1R distance. Fixed for the anchor's life.
func (a Anchor) RiskDistance() float64 {
	return math.Abs(a.EntryPrice - a.InitialStop)
}

// RMultiple expresses a profit distance as a multiple of 1R.
func (a Anchor) RMultiple(profitDistance float64) float64 {
	rd := a.RiskDistance()
	if rd <= 0 {
		return 0
	}
	return profitDistance / rd
}

// AnchorStore owns the in-memory anchor map. Memory-only is acceptable: a
// restart rebuilds anchors heuristically from the live venue stop on the
// next tick.
type AnchorStore struct {
	mu      sync.Mutex
	anchors map[string]*Anchor
	cfg     Config
	nowFn   func() time.Time
}

func NewAnchorStore(cfg Config) *AnchorStore {
	return &AnchorStore{
		anchors: make(map[string]*Anchor),
		cfg:     cfg.WithDefaults(),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (s *AnchorStore) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// GetOrCreate returns the anchor for the observed position, creating or
// rebuilding it when none exists or the entry price has drifted past the
// gap tolerance (a new fill on the same symbol).
//
// Initial stop resolution order: the live venue stop when set, else an
// ATR-multiple stop, else the default percentage stop.
func (s *AnchorStore) GetOrCreate(pos exchange.Position, liveStop, atr float64) Anchor {
	key := exchange.NormalizeSymbol(pos.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.anchors[key]; ok {
		drift := math.Abs(a.EntryPrice-pos.EntryPrice) / pos.EntryPrice
		if a.Side == string(pos.Side) && drift <= s.cfg.EntryGapTolerance {
			return *a
		}
		logger.Infof("risk anchor rebuilt for %s: entry %.8g -> %.8g (side %s -> %s)",
			key, a.EntryPrice, pos.EntryPrice, a.Side, pos.Side)
	}

	a := &Anchor{
		Symbol:      key,
		Side:        string(pos.Side),
		EntryPrice:  pos.EntryPrice,
		InitialStop: s.resolveInitialStop(pos, liveStop, atr),
		OpenedAt:    s.nowFn(),
		Leverage:    pos.Leverage,
	}
	if atr > 0 && pos.EntryPrice > 0 {
		a.InitialATRPct = atr / pos.EntryPrice
	}
	s.anchors[key] = a
	return *a
}

func (s *AnchorStore) resolveInitialStop(pos exchange.Position, liveStop, atr float64) float64 {
	if liveStop > 0 {
		return liveStop
	}
	entry := pos.EntryPrice
	var dist float64
	if atr > 0 {
		dist = atr * s.cfg.StopATRMultiplier
	} else {
		dist = entry * s.cfg.DefaultStopPct
	}
	if pos.Side == exchange.Short {
		return entry + dist
	}
	return entry - dist
}

// Seed installs a fresh anchor right after an open order is acknowledged so
// the first management tick starts from the intended stop, not a heuristic.
func (s *AnchorStore) Seed(a Anchor) {
	a.Symbol = exchange.NormalizeSymbol(a.Symbol)
	if a.OpenedAt.IsZero() {
		a.OpenedAt = s.nowFn()
	}
	s.mu.Lock()
	s.anchors[a.Symbol] = &a
	s.mu.Unlock()
}

// Get returns a copy of the anchor for symbol.
func (s *AnchorStore) Get(symbol string) (Anchor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[exchange.NormalizeSymbol(symbol)]
	if !ok {
		return Anchor{}, false
	}
	return *a, true
}

// Remove drops the anchor once the position is confirmed closed.
func (s *AnchorStore) Remove(symbol string) {
	s.mu.Lock()
	delete(s.anchors, exchange.NormalizeSymbol(symbol))
	s.mu.Unlock()
}

// Symbols lists the symbols currently anchored.
func (s *AnchorStore) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.anchors))
	for k := range s.anchors {
		out = append(out, k)
	}
	return out
}

// MarkBreakeven flips the breakeven flag. Called only after the venue
// accepted the stop update, so a failed call retries naturally next tick.
func (s *AnchorStore) MarkBreakeven(symbol string) {
	s.mu.Lock()
	if a, ok := s.anchors[exchange.NormalizeSymbol(symbol)]; ok {
		a.BreakevenReached = true
	}
	s.mu.Unlock()
}

// MarkPartialTP flips the partial take-profit flag after a confirmed fill.
func (s *AnchorStore) MarkPartialTP(symbol string) {
	s.mu.Lock()
	if a, ok := s.anchors[exchange.NormalizeSymbol(symbol)]; ok {
		a.PartialTPTaken = true
	}
	s.mu.Unlock()
}
