// Package manager orchestrates the per-tick management of every open
// position: loss-ladder evaluation, exit rules, cooldown reconciliation and
// the guarded entry path.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
	"guardian/internal/risk"
)

// ErrTickInProgress is returned when a tick is requested while the previous
// one is still running. Ticks never overlap.
var ErrTickInProgress = errors.New("manage tick already in progress")

// SnapshotSource provides the per-symbol market risk snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (risk.Snapshot, error)
}

// Config tunes the orchestration loop, not the rules themselves.
type Config struct {
	MaxConcurrency  int
	ReconcileWindow time.Duration // closed-trade lookback for cooldown backfill
	PnLThresholdPct float64       // |leveraged pnl %| below this records no cooldown
	DefaultSizePct  float64
	DefaultLeverage float64
	MinNotionalUSD  float64       // entries below this notional are rejected
	EntryOrderType  string        // "market" or "limit" at the last quote
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = 10 * time.Minute
	}
	if c.PnLThresholdPct <= 0 {
		c.PnLThresholdPct = 5
	}
	if c.DefaultSizePct <= 0 {
		c.DefaultSizePct = 0.05
	}
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 5
	}
	if c.MinNotionalUSD <= 0 {
		c.MinNotionalUSD = 10
	}
	if c.EntryOrderType == "" {
		c.EntryOrderType = "market"
	}
	return c
}

// SymbolResult is the per-position outcome of one tick.
type SymbolResult struct {
	Symbol string           `json:"symbol"`
	State  risk.LadderState `json:"state"`
	Ladder string           `json:"ladder_executed,omitempty"`
	Action risk.TickAction  `json:"action"`
	Err    string           `json:"error,omitempty"`
}

// TickReport summarizes one full management pass.
type TickReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Positions int            `json:"positions"`
	Results   []SymbolResult `json:"results"`
}

// Manager drives the tick loop and the entry/exit surface around it.
type Manager struct {
	cfg       Config
	gw        exchange.Gateway
	snapshots SnapshotSource
	engine    *risk.Engine
	flow      *risk.Flow
	gate      *risk.Gate
	anchors   *risk.AnchorStore
	riskCfg   risk.Config
	equity    *EquityHistory

	tickMu sync.Mutex
	nowFn  func() time.Time
}

func New(cfg Config, gw exchange.Gateway, snapshots SnapshotSource, engine *risk.Engine, flow *risk.Flow, gate *risk.Gate, riskCfg risk.Config, equity *EquityHistory) *Manager {
	if equity == nil {
		equity = NewEquityHistory(0)
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		gw:        gw,
		snapshots: snapshots,
		engine:    engine,
		flow:      flow,
		gate:      gate,
		anchors:   engine.Anchors(),
		riskCfg:   riskCfg.WithDefaults(),
		equity:    equity,
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// Equity exposes the balance history for the HTTP surface.
func (m *Manager) Equity() *EquityHistory { return m.equity }

// ManageTick runs one management pass over all open positions. A tick that
// finds the previous one still running returns ErrTickInProgress and does
// nothing; the per-interval cadence is the scheduler's job.
func (m *Manager) ManageTick(ctx context.Context) (TickReport, error) {
	if !m.tickMu.TryLock() {
		return TickReport{}, ErrTickInProgress
	}
	defer m.tickMu.Unlock()

	started := m.nowFn()
	report := TickReport{StartedAt: started}

	balance, err := m.gw.GetBalance(ctx)
	if err != nil {
		return report, fmt.Errorf("tick balance: %w", err)
	}
	m.equity.Record(started, balance.Total)

	positions, err := m.gw.ListOpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("tick positions: %w", err)
	}
	report.Positions = len(positions)

	m.reconcileClosed(ctx, positions)

	results := make([]SymbolResult, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrency)
	for i, pos := range positions {
		i, pos := i, pos
		g.Go(func() error {
			results[i] = m.manageSymbol(gctx, pos, balance)
			return nil
		})
	}
	// Workers never return errors; per-symbol failures land in the result
	// so one bad symbol cannot starve the rest of the book.
	_ = g.Wait()

	report.Results = results
	report.Duration = m.nowFn().Sub(started)
	logger.Infof("tick done: %d positions in %s", report.Positions, report.Duration.Truncate(time.Millisecond))
	return report, nil
}

func (m *Manager) manageSymbol(ctx context.Context, pos exchange.Position, balance exchange.Balance) (result SymbolResult) {
	result.Symbol = exchange.NormalizeSymbol(pos.Symbol)
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Sprintf("panic: %v", r)
			logger.Errorf("manage %s panicked: %v", result.Symbol, r)
		}
	}()

	snap, err := m.snapshots.Snapshot(ctx, pos.Symbol)
	if err != nil {
		// Rules that need market context sit out this tick; the hard
		// stop and breakeven math work from position data alone.
		logger.Warnf("snapshot for %s unavailable: %v", result.Symbol, err)
		snap = risk.Snapshot{}
	}

	outcome, err := m.flow.Evaluate(ctx, pos, snap, balance)
	result.State = outcome.State
	result.Ladder = outcome.Executed
	if err != nil {
		result.Err = err.Error()
		return result
	}
	if outcome.Executed != "" {
		m.anchors.Remove(pos.Symbol)
		return result
	}

	action, err := m.engine.Manage(ctx, pos, snap)
	result.Action = action
	if err != nil {
		result.Err = err.Error()
	}
	if action.ClosedFull {
		m.recordManagedClose(ctx, pos, action)
		m.anchors.Remove(pos.Symbol)
	}
	return result
}

// recordManagedClose arms the re-entry cooldown after a rule-driven close.
// Closes with negligible pnl pass silently, matching reconciliation.
func (m *Manager) recordManagedClose(ctx context.Context, pos exchange.Position, action risk.TickAction) {
	pct := action.EstPnLPct
	if abs(pct) < m.cfg.PnLThresholdPct {
		return
	}
	if err := m.gate.RecordClose(ctx, pos.Symbol, pos.Side, pct < 0); err != nil {
		logger.Errorf("cooldown record for %s failed: %v", exchange.NormalizeSymbol(pos.Symbol), err)
	}
}

// reconcileClosed backfills cooldowns from positions that settled outside
// our own order path (manual closes, venue stop fills) and drops anchors of
// symbols no longer open.
func (m *Manager) reconcileClosed(ctx context.Context, open []exchange.Position) {
	trades, err := m.gw.ListRecentCloses(ctx, m.cfg.ReconcileWindow)
	if err != nil {
		logger.Warnf("closed-trade reconciliation failed: %v", err)
	}
	for _, t := range trades {
		pct := t.LeveragedPnLPct()
		if abs(pct) < m.cfg.PnLThresholdPct {
			continue
		}
		if err := m.gate.RecordCloseAt(ctx, t.Symbol, t.Side, t.ClosedAt, pct < 0); err != nil {
			logger.Errorf("cooldown backfill for %s failed: %v", exchange.NormalizeSymbol(t.Symbol), err)
		}
	}

	openSet := make(map[string]bool, len(open))
	for _, p := range open {
		openSet[exchange.NormalizeSymbol(p.Symbol)] = true
	}
	for _, sym := range m.anchors.Symbols() {
		if !openSet[sym] {
			m.anchors.Remove(sym)
		}
	}
}

// Positions lists the open book, sorted by symbol for a stable API surface.
func (m *Manager) Positions(ctx context.Context) ([]exchange.Position, error) {
	positions, err := m.gw.ListOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
