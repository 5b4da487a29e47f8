package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
)

// Rule identifiers reported in TickAction and logs.
const (
	RuleMomentumExit = "momentum_exit"
	RuleTimeStop     = "time_stop"
	RulePartialTP    = "partial_tp"
	RuleBreakeven    = "breakeven_lock"
	RuleTrailing     = "trailing"
)

// TickAction summarizes what the engine did for one position in one tick.
type TickAction struct {
	Symbol      string  `json:"symbol"`
	ClosedFull  bool    `json:"closed_full"`
	CloseReason string  `json:"close_reason,omitempty"`
	PartialQty  float64 `json:"partial_qty,omitempty"`
	StopUpdated bool    `json:"stop_updated"`
	NewStop     float64 `json:"new_stop,omitempty"`
	EstPnLPct   float64 `json:"est_pnl_pct,omitempty"` // leveraged, at close time
}

// Engine evaluates the ordered exit/adjustment rules for one open position
// per tick: momentum exit, time stop, partial take-profit, breakeven lock,
// trailing. The first close rule that fires wins; stops only ever tighten.
type Engine struct {
	cfg      Config
	gw       exchange.Gateway
	anchors  *AnchorStore
	profiles ProfileResolver
	nowFn    func() time.Time
}

func NewEngine(cfg Config, gw exchange.Gateway, anchors *AnchorStore, profiles ProfileResolver) *Engine {
	if profiles == nil {
		profiles = NoProfiles{}
	}
	return &Engine{
		cfg:      cfg.WithDefaults(),
		gw:       gw,
		anchors:  anchors,
		profiles: profiles,
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Anchors exposes the backing store (shared with the entry path).
func (e *Engine) Anchors() *AnchorStore { return e.anchors }

// Manage runs the rule chain for one position. Anchor milestone flags are
// only mutated after the corresponding gateway call succeeded, so a failed
// call naturally retries on the next tick with identical inputs.
func (e *Engine) Manage(ctx context.Context, pos exchange.Position, snap Snapshot) (TickAction, error) {
	action := TickAction{Symbol: exchange.NormalizeSymbol(pos.Symbol)}
	if !pos.Actionable() {
		return action, nil
	}

	side := string(pos.Side)
	anchor := e.anchors.GetOrCreate(pos, pos.StopLoss, snap.ATR)
	riskDistance := anchor.RiskDistance()
	profitDistance := pos.ProfitDistance()
	rMultiple := anchor.RMultiple(profitDistance)

	// Rule 1: momentum exit, only once the position is protected. Closing
	// on a momentum flicker before any cushion exists just donates fees.
	if snap.MomentumExitFor(side) && (anchor.BreakevenReached || rMultiple >= e.cfg.ProtectedR) {
		return e.closeFull(ctx, pos, action, RuleMomentumExit)
	}

	// Rule 2: time stop. The thesis had its window; if the trade is still
	// flat and volatility dried up, free the margin.
	if e.cfg.TimeStop > 0 && e.nowFn().Sub(anchor.OpenedAt) >= e.cfg.TimeStop &&
		rMultiple < e.cfg.TimeStopMinProfitR &&
		e.volatilityStalled(anchor, snap) {
		return e.closeFull(ctx, pos, action, RuleTimeStop)
	}

	// Rule 3: partial take-profit. Never flattens the position.
	if riskDistance > 0 && !anchor.PartialTPTaken &&
		profitDistance >= riskDistance*e.cfg.PartialTPR {
		if qty, err := e.takePartial(ctx, pos); err != nil {
			logger.Warnf("partial TP for %s failed, retrying next tick: %v", action.Symbol, err)
		} else if qty > 0 {
			action.PartialQty = qty
		}
	}

	// Rules 4-5 produce at most one tighten-only stop update.
	profile, _ := e.profiles.Resolve(exchange.SymbolBase(pos.Symbol))
	beTarget := e.breakevenCandidate(pos, anchor, snap, riskDistance, profitDistance)
	trailTarget := e.trailingCandidate(pos, anchor, snap, profile)

	newStop := pickTighter(side, pos.StopLoss, beTarget, trailTarget)
	if newStop <= 0 {
		return action, nil
	}
	if err := e.gw.SetStopLoss(ctx, pos.Symbol, pos.Side, newStop); err != nil {
		return action, fmt.Errorf("set stop for %s: %w", action.Symbol, err)
	}
	action.StopUpdated = true
	action.NewStop = newStop
	logger.Infof("stop update %s %s: %.8g -> %.8g (be=%.8g trail=%.8g)",
		action.Symbol, side, pos.StopLoss, newStop, beTarget, trailTarget)
	if beTarget > 0 && !anchor.BreakevenReached && stopCovers(side, newStop, beTarget) {
		e.anchors.MarkBreakeven(pos.Symbol)
	}
	return action, nil
}

func (e *Engine) closeFull(ctx context.Context, pos exchange.Position, action TickAction, reason string) (TickAction, error) {
	if _, err := e.gw.ReduceOnlyClose(ctx, pos.Symbol, pos.Side, 0); err != nil {
		return action, fmt.Errorf("%s close for %s: %w", reason, action.Symbol, err)
	}
	action.ClosedFull = true
	action.CloseReason = reason
	action.EstPnLPct = pos.LeveragedROI() * 100
	logger.Infof("%s closed %s %s (roi=%.2f%%)", reason, action.Symbol, pos.Side, action.EstPnLPct)
	return action, nil
}

// volatilityStalled compares current ATR% against the anchor's open-time
// ATR%. An analyzer outage never counts as stalled: closing a flat trade on
// absent data would turn every outage into forced exits. A live report with
// no ATR reading does degrade to "stalled", so the time stop behaves like a
// plain clock for symbols the analyzer cannot measure.
func (e *Engine) volatilityStalled(anchor Anchor, snap Snapshot) bool {
	if !snap.Present {
		return false
	}
	cur := snap.ATRPct()
	if cur <= 0 || anchor.InitialATRPct <= 0 {
		return true
	}
	return cur < anchor.InitialATRPct*e.cfg.TimeStopATRDecay
}

func (e *Engine) takePartial(ctx context.Context, pos exchange.Position) (float64, error) {
	filters, err := e.gw.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return 0, fmt.Errorf("lot filters: %w", err)
	}
	qty := floorToStep(pos.Quantity*e.cfg.PartialTPFraction, filters.StepSize)
	if filters.MinQty > 0 && qty < filters.MinQty {
		qty = filters.MinQty
	}
	if qty <= 0 || qty >= pos.Quantity {
		// remaining size too small to split; leave the position whole
		return 0, nil
	}
	if _, err := e.gw.ReduceOnlyClose(ctx, pos.Symbol, pos.Side, qty); err != nil {
		return 0, err
	}
	e.anchors.MarkPartialTP(pos.Symbol)
	logger.Infof("partial TP %s %s: closed %.8g of %.8g", exchange.NormalizeSymbol(pos.Symbol), pos.Side, qty, pos.Quantity)
	return qty, nil
}

// breakevenCandidate returns the entry±fee stop target when the breakeven
// lock conditions hold, 0 otherwise.
func (e *Engine) breakevenCandidate(pos exchange.Position, anchor Anchor, snap Snapshot, riskDistance, profitDistance float64) float64 {
	if profitDistance <= 0 {
		return 0
	}
	feeBuffer := pos.EntryPrice * e.cfg.FeeBufferPct
	required := math.Max(riskDistance*e.cfg.BreakEvenR, feeBuffer)
	if profitDistance < required {
		return 0
	}

	side := string(pos.Side)
	beyondEMA := snap.EMASlow > 0 &&
		((side == "long" && pos.MarkPrice > snap.EMASlow) ||
			(side == "short" && pos.MarkPrice < snap.EMASlow))
	volumeSpike := snap.VolumeRatio >= e.cfg.VolumeSpikeRatio
	fullR := riskDistance > 0 && profitDistance >= riskDistance
	if !beyondEMA && !snap.StructureBreakFor(side) && !volumeSpike && !fullR {
		return 0
	}

	if pos.Side == exchange.Short {
		return pos.EntryPrice - feeBuffer
	}
	return pos.EntryPrice + feeBuffer
}

// trailingCandidate returns the best trailing stop once breakeven has been
// locked (or the venue stop already sits at entry). Up to three candidates
// compete: an ATR multiple behind mark, the nearest favorable swing level,
// and an EMA-offset level. Without ATR a fixed percentage distance applies.
func (e *Engine) trailingCandidate(pos exchange.Position, anchor Anchor, snap Snapshot, profile Profile) float64 {
	if !anchor.BreakevenReached && !stopAtEntry(pos, e.cfg.FeeBufferPct) {
		return 0
	}

	trailMult := e.cfg.TrailATRMultiplier
	if profile.TrailATRMultiplier > 0 {
		trailMult = profile.TrailATRMultiplier
	}
	fallbackPct := e.cfg.TrailFallbackPct
	if profile.TrailFallbackPct > 0 {
		fallbackPct = profile.TrailFallbackPct
	}

	long := pos.Side == exchange.Long
	var candidates []float64
	if snap.ATR > 0 {
		if long {
			candidates = append(candidates, pos.MarkPrice-snap.ATR*trailMult)
		} else {
			candidates = append(candidates, pos.MarkPrice+snap.ATR*trailMult)
		}
		if snap.EMAFast > 0 {
			offset := snap.ATR * e.cfg.StructureATROffset
			if long {
				candidates = append(candidates, snap.EMAFast-offset)
			} else {
				candidates = append(candidates, snap.EMAFast+offset)
			}
		}
	} else {
		if long {
			candidates = append(candidates, pos.MarkPrice*(1-fallbackPct))
		} else {
			candidates = append(candidates, pos.MarkPrice*(1+fallbackPct))
		}
	}
	if snap.SwingLevel > 0 {
		candidates = append(candidates, snap.SwingLevel)
	}

	best := 0.0
	for _, c := range candidates {
		if c <= 0 || !beforeMark(string(pos.Side), c, pos.MarkPrice) {
			continue
		}
		if best == 0 || (long && c > best) || (!long && c < best) {
			best = c
		}
	}
	return best
}

// pickTighter folds stop candidates into the single most favorable update
// that still tightens the current stop. Returns 0 when nothing improves.
func pickTighter(side string, current float64, candidates ...float64) float64 {
	best := 0.0
	for _, c := range candidates {
		if !tightens(side, c, current) {
			continue
		}
		if best == 0 || tightens(side, c, best) {
			best = c
		}
	}
	return best
}

// stopCovers reports whether the accepted stop reaches the breakeven target.
func stopCovers(side string, stop, target float64) bool {
	if side == "short" {
		return stop <= target
	}
	return stop >= target
}

// beforeMark rejects stop candidates that would sit on the wrong side of
// the mark price and be rejected (or instantly filled) by the venue.
func beforeMark(side string, candidate, mark float64) bool {
	if side == "short" {
		return candidate > mark
	}
	return candidate < mark
}

func stopAtEntry(pos exchange.Position, feeBufferPct float64) bool {
	if pos.StopLoss <= 0 || pos.EntryPrice <= 0 {
		return false
	}
	return math.Abs(pos.StopLoss-pos.EntryPrice) <= pos.EntryPrice*feeBufferPct
}
