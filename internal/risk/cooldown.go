package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
)

// KV is the narrow durable store behind the cooldown gate. Keys map to unix
// seconds. Implementations must persist writes before returning so an active
// cooldown survives a process restart.
type KV interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Put(ctx context.Context, key string, value int64) error
	// CompareAndSwap writes value only when the stored value still equals
	// old (old=0 matches a missing key). Reports whether the write happened.
	CompareAndSwap(ctx context.Context, key string, old, value int64) (bool, error)
}

// CooldownConfig tunes the re-entry gate.
type CooldownConfig struct {
	Window     time.Duration // base window after any recorded close
	LossWindow time.Duration // additional window after losing closes
	Reverse    time.Duration // reverse attempt spacing, also floors the base window
}

func (c CooldownConfig) WithDefaults() CooldownConfig {
	if c.Window <= 0 {
		c.Window = 60 * time.Minute
	}
	if c.LossWindow <= 0 {
		c.LossWindow = 2 * c.Window
	}
	if c.Reverse <= 0 {
		c.Reverse = 30 * time.Minute
	}
	return c
}

// Gate blocks re-entries after closes. Close records are durable; the
// reverse tracker is in-memory only (losing it on restart delays the next
// reversal, it never allows an extra one within a live process).
type Gate struct {
	kv  KV
	cfg CooldownConfig

	mu          sync.Mutex
	lastReverse map[string]time.Time

	nowFn func() time.Time
}

func NewGate(kv KV, cfg CooldownConfig) *Gate {
	return &Gate{
		kv:          kv,
		cfg:         cfg.WithDefaults(),
		lastReverse: make(map[string]time.Time),
		nowFn:       time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (g *Gate) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		g.nowFn = fn
	}
}

func directionKey(symbol string, side exchange.Side) string {
	return fmt.Sprintf("%s_%s", exchange.NormalizeSymbol(symbol), side)
}

func lossKey(symbol string, side exchange.Side) string {
	return directionKey(symbol, side) + "_loss"
}

// CanOpen reports whether a new position in this direction is allowed and,
// when blocked, how long remains. Fails open: with no record (or a store
// read error, which is logged) the entry proceeds.
func (g *Gate) CanOpen(ctx context.Context, symbol string, side exchange.Side) (bool, time.Duration) {
	now := g.nowFn()
	window := g.cfg.Window
	if g.cfg.Reverse > window {
		window = g.cfg.Reverse
	}

	var blocked time.Duration
	check := func(key string, w time.Duration) {
		ts, ok, err := g.kv.Get(ctx, key)
		if err != nil {
			logger.Warnf("cooldown read %s failed, allowing entry: %v", key, err)
			return
		}
		if !ok {
			return
		}
		remaining := w - now.Sub(time.Unix(ts, 0))
		if remaining > blocked {
			blocked = remaining
		}
	}

	check(exchange.NormalizeSymbol(symbol), window)
	check(directionKey(symbol, side), window)
	check(lossKey(symbol, side), window+g.cfg.LossWindow)

	if blocked > 0 {
		return false, blocked
	}
	return true, 0
}

// RecordClose stamps the direction cooldown, extending it when the close
// realized a material loss. Persisted before returning.
func (g *Gate) RecordClose(ctx context.Context, symbol string, side exchange.Side, isLoss bool) error {
	now := g.nowFn().Unix()
	if err := g.kv.Put(ctx, directionKey(symbol, side), now); err != nil {
		return fmt.Errorf("record close cooldown: %w", err)
	}
	if isLoss {
		if err := g.kv.Put(ctx, lossKey(symbol, side), now); err != nil {
			return fmt.Errorf("record loss cooldown: %w", err)
		}
	}
	return nil
}

// RecordCloseAt is RecordClose with an explicit close timestamp, used when
// reconciling venue-reported closes. Older timestamps never overwrite newer
// ones (compare-and-swap per key).
func (g *Gate) RecordCloseAt(ctx context.Context, symbol string, side exchange.Side, closedAt time.Time, isLoss bool) error {
	ts := closedAt.Unix()
	keys := []string{directionKey(symbol, side)}
	if isLoss {
		keys = append(keys, lossKey(symbol, side))
	}
	for _, key := range keys {
		prev, ok, err := g.kv.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok && prev >= ts {
			continue
		}
		if !ok {
			prev = 0
		}
		if _, err := g.kv.CompareAndSwap(ctx, key, prev, ts); err != nil {
			return err
		}
	}
	return nil
}

// BlockSymbol stamps a direction-agnostic cooldown covering both sides,
// used after reversals and rejected direct flips.
func (g *Gate) BlockSymbol(ctx context.Context, symbol string) error {
	now := g.nowFn().Unix()
	sym := exchange.NormalizeSymbol(symbol)
	for _, key := range []string{sym, directionKey(symbol, exchange.Long), directionKey(symbol, exchange.Short)} {
		if err := g.kv.Put(ctx, key, now); err != nil {
			return fmt.Errorf("block symbol cooldown: %w", err)
		}
	}
	return nil
}

// RecordReverseAttempt stamps the in-memory reverse tracker for symbol.
func (g *Gate) RecordReverseAttempt(symbol string) {
	g.mu.Lock()
	g.lastReverse[exchange.NormalizeSymbol(symbol)] = g.nowFn()
	g.mu.Unlock()
}

// ReverseAllowed reports whether a reversal may be attempted on symbol and,
// when blocked, how long remains.
func (g *Gate) ReverseAllowed(symbol string) (bool, time.Duration) {
	g.mu.Lock()
	last, ok := g.lastReverse[exchange.NormalizeSymbol(symbol)]
	g.mu.Unlock()
	if !ok {
		return true, 0
	}
	remaining := g.cfg.Reverse - g.nowFn().Sub(last)
	if remaining > 0 {
		return false, remaining
	}
	return true, 0
}
