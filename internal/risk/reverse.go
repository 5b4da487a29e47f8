package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
)

// ReviewAction is the advisor's recommendation for a distressed position.
type ReviewAction string

const (
	ActionHold    ReviewAction = "HOLD"
	ActionClose   ReviewAction = "CLOSE"
	ActionReverse ReviewAction = "REVERSE"
)

// ParseReviewAction normalizes an advisor action string; anything unknown
// degrades to HOLD so a malformed response can never trigger an order.
func ParseReviewAction(raw string) ReviewAction {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ActionClose):
		return ActionClose
	case string(ActionReverse):
		return ActionReverse
	default:
		return ActionHold
	}
}

// Review is the advisor's answer for one distressed position.
type Review struct {
	Action          ReviewAction `json:"action"`
	Confidence      float64      `json:"confidence"` // 0..100
	Rationale       string       `json:"rationale"`
	RecoverySizePct float64      `json:"recovery_size_pct"` // 0..1, advisor-proposed
}

// PositionSummary is the distressed-position context sent to the advisor.
type PositionSummary struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	Quantity      float64 `json:"size"`
	Leverage      float64 `json:"leverage"`
	ROI           float64 `json:"roi_pct"` // leveraged fraction, negative
	UnrealizedPnL float64 `json:"pnl_dollars"`
	WalletBalance float64 `json:"wallet_balance"`
}

// Advisor is the external oracle consulted before any reversal. Calls are
// bounded by the client's timeout; a nil review or error means HOLD.
type Advisor interface {
	Review(ctx context.Context, summary PositionSummary) (*Review, error)
}

// DecisionRecord is one advisor consultation persisted for audit.
type DecisionRecord struct {
	Symbol     string
	Stage      string // "ai_review" | "reverse_trigger"
	Action     string
	Confidence float64
	Rationale  string
	ROIPct     float64
	Leverage   float64
	SizePct    float64 // recovery size when a reversal executed
	CreatedAt  time.Time
}

// Journal persists advisor consultations. Failures are logged, never fatal.
type Journal interface {
	Record(ctx context.Context, rec DecisionRecord) error
}

// Notifier pushes operator-facing alerts. May be nil.
type Notifier interface {
	SendText(text string) error
}

// LadderState names the escalation tier a position sits in.
type LadderState string

const (
	StateNormal   LadderState = "normal"
	StateWarning  LadderState = "warning"
	StateAIReview LadderState = "ai_review"
	StateReverse  LadderState = "reverse_trigger"
	StateHardStop LadderState = "hard_stop"
)

// ReverseOutcome reports what the ladder did for one position.
type ReverseOutcome struct {
	Symbol   string      `json:"symbol"`
	State    LadderState `json:"state"`
	Executed string      `json:"executed,omitempty"` // "close" | "reverse" | ""
	ROI      float64     `json:"roi"`
}

// Flow is the escalating reverse-decision ladder over losing positions.
// Only the reverse tier may change direction, and only behind the advisor
// confidence bar plus an independent market-context check.
type Flow struct {
	cfg      ReverseConfig
	risk     Config
	gw       exchange.Gateway
	advisor  Advisor
	gate     *Gate
	anchors  *AnchorStore
	journal  Journal
	notifier Notifier
	nowFn    func() time.Time

	warnedMu sync.Mutex
	warned   map[string]bool // symbols already alerted at the warning tier
}

func NewFlow(cfg ReverseConfig, riskCfg Config, gw exchange.Gateway, advisor Advisor, gate *Gate, anchors *AnchorStore, journal Journal, notifier Notifier) *Flow {
	return &Flow{
		cfg:      cfg.WithDefaults(),
		risk:     riskCfg.WithDefaults(),
		gw:       gw,
		advisor:  advisor,
		gate:     gate,
		anchors:  anchors,
		journal:  journal,
		notifier: notifier,
		nowFn:    time.Now,
		warned:   make(map[string]bool),
	}
}

// SetNowFunc overrides the clock for tests.
func (f *Flow) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		f.nowFn = fn
	}
}

// Classify maps a leveraged ROI onto the ladder.
func (f *Flow) Classify(roi float64) LadderState {
	switch {
	case roi <= f.cfg.HardStopThreshold:
		return StateHardStop
	case roi <= f.cfg.ReverseThreshold:
		return StateReverse
	case roi <= f.cfg.AIReviewThreshold:
		return StateAIReview
	case roi <= f.cfg.WarningThreshold:
		return StateWarning
	default:
		return StateNormal
	}
}

// Evaluate runs the ladder for one open position.
func (f *Flow) Evaluate(ctx context.Context, pos exchange.Position, snap Snapshot, balance exchange.Balance) (ReverseOutcome, error) {
	out := ReverseOutcome{Symbol: exchange.NormalizeSymbol(pos.Symbol), ROI: pos.LeveragedROI()}
	out.State = f.Classify(out.ROI)

	switch out.State {
	case StateHardStop:
		// Unconditional: no advisor, no context check, no cooldown gating.
		logger.Warnf("HARD STOP %s %s roi=%.2f%%, closing now", out.Symbol, pos.Side, out.ROI*100)
		if _, err := f.gw.ReduceOnlyClose(ctx, pos.Symbol, pos.Side, 0); err != nil {
			return out, fmt.Errorf("hard stop close %s: %w", out.Symbol, err)
		}
		out.Executed = "close"
		f.recordClose(ctx, pos, true)
		f.notify("🛑 hard stop %s %s roi=%.2f%%", out.Symbol, pos.Side, out.ROI*100)
		return out, nil

	case StateReverse:
		return f.evaluateReverseTier(ctx, pos, snap, balance, out)

	case StateAIReview:
		f.consultForReview(ctx, pos, balance, out)
		return out, nil

	case StateWarning:
		logger.Warnf("loss warning %s %s roi=%.2f%%", out.Symbol, pos.Side, out.ROI*100)
		if f.markWarned(out.Symbol) {
			f.notify("⚠️ loss warning %s %s roi=%.2f%%", out.Symbol, pos.Side, out.ROI*100)
		}
		return out, nil

	case StateNormal:
		f.clearWarned(out.Symbol)
	}
	return out, nil
}

// markWarned reports whether this is the symbol's first tick at the warning
// tier since it last recovered.
func (f *Flow) markWarned(symbol string) bool {
	f.warnedMu.Lock()
	defer f.warnedMu.Unlock()
	if f.warned[symbol] {
		return false
	}
	f.warned[symbol] = true
	return true
}

func (f *Flow) clearWarned(symbol string) {
	f.warnedMu.Lock()
	delete(f.warned, symbol)
	f.warnedMu.Unlock()
}

func (f *Flow) evaluateReverseTier(ctx context.Context, pos exchange.Position, snap Snapshot, balance exchange.Balance, out ReverseOutcome) (ReverseOutcome, error) {
	if ok, remaining := f.gate.ReverseAllowed(pos.Symbol); !ok {
		logger.Infof("reverse cooldown active for %s, %s remaining", out.Symbol, remaining.Truncate(time.Second))
		return out, nil
	}

	review := f.consult(ctx, pos, balance)
	if review == nil {
		// Advisor unreachable or malformed: hold, never act blind.
		logger.Warnf("advisor unavailable for %s at reverse tier, holding", out.Symbol)
		return out, nil
	}

	recoveryPct := f.cfg.ClampRecovery(review.RecoverySizePct)
	f.journalRecord(ctx, pos, string(StateReverse), review, recoveryPct)

	action := review.Action
	if action == ActionReverse {
		votes := f.contextVotes(pos, snap)
		if review.Confidence < f.cfg.MinConfidence || votes < f.cfg.ContextVotes {
			logger.Infof("reverse vetoed for %s (confidence=%.0f votes=%d/3), closing instead",
				out.Symbol, review.Confidence, votes)
			action = ActionClose
		}
	}

	switch action {
	case ActionReverse:
		if err := f.executeReverse(ctx, pos, recoveryPct); err != nil {
			return out, err
		}
		out.Executed = "reverse"
		f.notify("🔄 reversed %s %s→%s size=%.0f%% conf=%.0f", out.Symbol, pos.Side, pos.Side.Opposite(), recoveryPct*100, review.Confidence)
	case ActionClose:
		if _, err := f.gw.ReduceOnlyClose(ctx, pos.Symbol, pos.Side, 0); err != nil {
			return out, fmt.Errorf("reverse-tier close %s: %w", out.Symbol, err)
		}
		out.Executed = "close"
		f.recordClose(ctx, pos, true)
		// The advisor just declined to take the other side of this trade, so
		// block manual entries in both directions too, and space the next
		// reverse attempt out to avoid flip-flopping after a deep-loss close.
		if err := f.gate.BlockSymbol(ctx, pos.Symbol); err != nil {
			logger.Errorf("blocking %s after reverse-tier close failed: %v", out.Symbol, err)
		}
		f.gate.RecordReverseAttempt(pos.Symbol)
	default:
		logger.Infof("advisor holds %s at reverse tier (confidence=%.0f)", out.Symbol, review.Confidence)
	}
	return out, nil
}

func (f *Flow) consultForReview(ctx context.Context, pos exchange.Position, balance exchange.Balance, out ReverseOutcome) {
	review := f.consult(ctx, pos, balance)
	if review == nil {
		logger.Warnf("advisor unavailable for %s at review tier", out.Symbol)
		return
	}
	logger.Infof("advisor review %s: %s (confidence=%.0f) %s", out.Symbol, review.Action, review.Confidence, review.Rationale)
	f.journalRecord(ctx, pos, string(StateAIReview), review, 0)
}

func (f *Flow) consult(ctx context.Context, pos exchange.Position, balance exchange.Balance) *Review {
	if f.advisor == nil {
		return nil
	}
	summary := PositionSummary{
		Symbol:        exchange.NormalizeSymbol(pos.Symbol),
		Side:          string(pos.Side),
		EntryPrice:    pos.EntryPrice,
		MarkPrice:     pos.MarkPrice,
		Quantity:      pos.Quantity,
		Leverage:      pos.Leverage,
		ROI:           pos.LeveragedROI(),
		UnrealizedPnL: pos.UnrealizedPnL,
		WalletBalance: balance.Total,
	}
	review, err := f.advisor.Review(ctx, summary)
	if err != nil {
		logger.Warnf("advisor review failed for %s: %v", summary.Symbol, err)
		return nil
	}
	return review
}

// contextVotes independently re-validates a REVERSE recommendation against
// the market snapshot: trend flip, momentum alignment, RSI alignment.
// Absent fields simply do not vote.
func (f *Flow) contextVotes(pos exchange.Position, snap Snapshot) int {
	long := pos.Side == exchange.Long
	votes := 0

	switch snap.TrendLabel() {
	case "bearish":
		if long {
			votes++
		}
	case "bullish":
		if !long {
			votes++
		}
	}
	if snap.MACDHist != 0 {
		if (long && snap.MACDHist < 0) || (!long && snap.MACDHist > 0) {
			votes++
		}
	}
	if snap.RSI > 0 {
		if (long && snap.RSI < 45) || (!long && snap.RSI > 55) {
			votes++
		}
	}
	return votes
}

func (f *Flow) executeReverse(ctx context.Context, pos exchange.Position, recoveryPct float64) error {
	symbol := exchange.NormalizeSymbol(pos.Symbol)
	if _, err := f.gw.ReduceOnlyClose(ctx, pos.Symbol, pos.Side, 0); err != nil {
		return fmt.Errorf("reverse close %s: %w", symbol, err)
	}
	f.recordClose(ctx, pos, true)
	f.gate.RecordReverseAttempt(pos.Symbol)

	newSide := pos.Side.Opposite()
	balance, err := f.gw.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("reverse balance %s: %w", symbol, err)
	}
	quote, err := f.gw.GetPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("reverse price %s: %w", symbol, err)
	}
	if quote.Last <= 0 {
		return fmt.Errorf("reverse price %s: %w", symbol, ErrInvalidPrice)
	}
	filters, err := f.gw.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("reverse filters %s: %w", symbol, err)
	}
	qty, err := Size(balance.Available, recoveryPct, f.cfg.Leverage, quote.Last, filters.StepSize, filters.MinQty)
	if err != nil {
		return fmt.Errorf("reverse sizing %s: %w", symbol, err)
	}
	if err := f.gw.SetLeverage(ctx, pos.Symbol, f.cfg.Leverage); err != nil {
		logger.Warnf("set leverage for %s reverse failed: %v", symbol, err)
	}

	stop := InitialStopPrice(quote.Last, newSide, 0, f.risk)
	if _, err := f.gw.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:   pos.Symbol,
		Side:     newSide,
		Quantity: qty,
		StopLoss: stop,
	}); err != nil {
		return fmt.Errorf("reverse open %s: %w", symbol, err)
	}

	f.anchors.Seed(Anchor{
		Symbol:      symbol,
		Side:        string(newSide),
		EntryPrice:  quote.Last,
		InitialStop: stop,
		OpenedAt:    f.nowFn(),
		SizePct:     recoveryPct,
		Leverage:    f.cfg.Leverage,
	})
	logger.Infof("reverse executed %s: %s -> %s qty=%.8g stop=%.8g", symbol, pos.Side, newSide, qty, stop)
	return nil
}

func (f *Flow) recordClose(ctx context.Context, pos exchange.Position, isLoss bool) {
	if err := f.gate.RecordClose(ctx, pos.Symbol, pos.Side, isLoss); err != nil {
		logger.Errorf("recording close cooldown for %s failed: %v", exchange.NormalizeSymbol(pos.Symbol), err)
	}
}

func (f *Flow) journalRecord(ctx context.Context, pos exchange.Position, stage string, review *Review, sizePct float64) {
	if f.journal == nil {
		return
	}
	rec := DecisionRecord{
		Symbol:     exchange.NormalizeSymbol(pos.Symbol),
		Stage:      stage,
		Action:     string(review.Action),
		Confidence: review.Confidence,
		Rationale:  review.Rationale,
		ROIPct:     pos.LeveragedROI() * 100,
		Leverage:   pos.Leverage,
		SizePct:    sizePct,
		CreatedAt:  f.nowFn(),
	}
	if err := f.journal.Record(ctx, rec); err != nil {
		logger.Warnf("decision journal write failed for %s: %v", rec.Symbol, err)
	}
}

func (f *Flow) notify(format string, v ...any) {
	if f.notifier == nil {
		return
	}
	if err := f.notifier.SendText(fmt.Sprintf(format, v...)); err != nil {
		logger.Warnf("notify failed: %v", err)
	}
}

// InitialStopPrice derives a protective stop for a fresh position: an ATR
// multiple when ATR is known, else the default percentage distance.
func InitialStopPrice(price float64, side exchange.Side, atr float64, cfg Config) float64 {
	var dist float64
	if atr > 0 {
		dist = atr * cfg.StopATRMultiplier
	} else {
		dist = price * cfg.DefaultStopPct
	}
	if side == exchange.Short {
		return price + dist
	}
	return price - dist
}
