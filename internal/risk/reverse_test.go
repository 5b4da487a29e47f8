package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/gateway/exchange"
)

type fakeAdvisor struct {
	review *Review
	err    error
	calls  int
}

func (f *fakeAdvisor) Review(context.Context, PositionSummary) (*Review, error) {
	f.calls++
	return f.review, f.err
}

type fakeJournal struct {
	records []DecisionRecord
}

func (f *fakeJournal) Record(_ context.Context, rec DecisionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) SendText(text string) error {
	f.msgs = append(f.msgs, text)
	return nil
}

// leveragedLong builds a 5x long whose leveraged ROI hits the given value.
func leveragedLong(roi float64) exchange.Position {
	return exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.Long,
		EntryPrice: 100, MarkPrice: 100 * (1 + roi/5),
		Quantity: 1, Leverage: 5,
	}
}

func bearishSnapshot() Snapshot {
	return Snapshot{Trend: "bearish", MACDHist: -0.5, RSI: 30, Present: true}
}

func TestLadderClassification(t *testing.T) {
	f := NewFlow(ReverseConfig{}, Config{}, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, StateNormal, f.Classify(-0.05))
	assert.Equal(t, StateWarning, f.Classify(-0.08))
	assert.Equal(t, StateAIReview, f.Classify(-0.12))
	assert.Equal(t, StateReverse, f.Classify(-0.15))
	assert.Equal(t, StateHardStop, f.Classify(-0.20))
	assert.Equal(t, StateHardStop, f.Classify(-0.35))
}

func TestHardStopClosesWithoutAdvisor(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	notifier := &fakeNotifier{}
	f := NewFlow(ReverseConfig{}, Config{}, gw, nil, gate, NewAnchorStore(Config{}), nil, notifier)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.22), Snapshot{}, exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Equal(t, StateHardStop, out.State)
	assert.Equal(t, "close", out.Executed)
	require.Len(t, gw.closes, 1)
	assert.Zero(t, gw.closes[0].Qty)

	// Loss cooldown stamped for the closed direction.
	ok, _ := gate.CanOpen(context.Background(), "BTCUSDT", exchange.Long)
	assert.False(t, ok)

	require.Len(t, notifier.msgs, 1)
	assert.Contains(t, notifier.msgs[0], "hard stop")
}

func TestReverseExecutesBehindConfidenceAndContext(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{
		Action: ActionReverse, Confidence: 85, RecoverySizePct: 0.10,
	}}
	journal := &fakeJournal{}
	anchors := NewAnchorStore(Config{})
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, anchors, journal, nil)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Equal(t, "reverse", out.Executed)
	require.Len(t, gw.closes, 1)
	require.Len(t, gw.opens, 1)
	open := gw.opens[0]
	assert.Equal(t, exchange.Short, open.Side)
	// 10000 available * 0.10 * 5x / price 100 = 50
	assert.InDelta(t, 50, open.Quantity, 1e-9)
	// No ATR at hand: 4% stop above the short's entry.
	assert.InDelta(t, 104, open.StopLoss, 1e-9)
	assert.Equal(t, 5.0, gw.leverages["BTCUSDT"])

	a, ok := anchors.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "short", a.Side)
	assert.Equal(t, 0.10, a.SizePct)

	// The attempt tracker spaces out the next reversal.
	allowed, _ := gate.ReverseAllowed("BTCUSDT")
	assert.False(t, allowed)

	require.Len(t, journal.records, 1)
	assert.Equal(t, "reverse_trigger", journal.records[0].Stage)
}

func TestReverseVetoedOnLowConfidence(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{Action: ActionReverse, Confidence: 60, RecoverySizePct: 0.10}}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)

	// Demoted to a plain close: position flattened, nothing reopened.
	assert.Equal(t, "close", out.Executed)
	assert.Len(t, gw.closes, 1)
	assert.Empty(t, gw.opens)

	// The advisor declined the flip, so manual entries in either direction
	// stay blocked until the cooldown clears.
	ctx := context.Background()
	longOK, _ := gate.CanOpen(ctx, "BTCUSDT", exchange.Long)
	shortOK, _ := gate.CanOpen(ctx, "BTCUSDT", exchange.Short)
	assert.False(t, longOK)
	assert.False(t, shortOK)
}

func TestWarningTierNotifiesOncePerEpisode(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	notifier := &fakeNotifier{}
	f := NewFlow(ReverseConfig{}, Config{}, gw, nil, gate, NewAnchorStore(Config{}), nil, notifier)

	ctx := context.Background()
	bal := exchange.Balance{Total: 10000}

	// Two straight warning ticks push one alert.
	_, err := f.Evaluate(ctx, leveragedLong(-0.09), Snapshot{}, bal)
	require.NoError(t, err)
	_, err = f.Evaluate(ctx, leveragedLong(-0.10), Snapshot{}, bal)
	require.NoError(t, err)
	require.Len(t, notifier.msgs, 1)
	assert.Contains(t, notifier.msgs[0], "loss warning")

	// Recovery resets the episode; the next dip alerts again.
	_, err = f.Evaluate(ctx, leveragedLong(-0.03), Snapshot{}, bal)
	require.NoError(t, err)
	_, err = f.Evaluate(ctx, leveragedLong(-0.09), Snapshot{}, bal)
	require.NoError(t, err)
	assert.Len(t, notifier.msgs, 2)

	// No orders and no cooldowns at this tier.
	assert.Empty(t, gw.closes)
	assert.Empty(t, gw.opens)
}

func TestReverseVetoedWithoutContextVotes(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{Action: ActionReverse, Confidence: 95, RecoverySizePct: 0.10}}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	// Bullish context contradicts reversing a long: zero votes of three.
	snap := Snapshot{Trend: "bullish", MACDHist: 0.5, RSI: 60, Present: true}
	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), snap, exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Equal(t, "close", out.Executed)
	assert.Empty(t, gw.opens)
}

func TestReverseTierHoldActionLeavesEverythingAlone(t *testing.T) {
	gw := newFakeGateway()
	kv := newMemKV()
	gate := newTestGate(kv)
	advisor := &fakeAdvisor{review: &Review{Action: ActionHold, Confidence: 90}}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	short := exchange.Position{
		Symbol: "ETHUSDT", Side: exchange.Short,
		EntryPrice: 100, MarkPrice: 103,
		Quantity: 1, Leverage: 5,
	}
	out, err := f.Evaluate(context.Background(), short, Snapshot{Trend: "bullish", MACDHist: 0.5, RSI: 60, Present: true}, exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Equal(t, StateReverse, out.State)
	assert.Empty(t, out.Executed)
	assert.Empty(t, gw.closes)
	assert.Empty(t, gw.opens)

	// No cooldown key of any flavor was written.
	assert.Empty(t, kv.data)
}

func TestReverseTierHoldsOnAdvisorFailure(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{err: errors.New("timeout")}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Empty(t, out.Executed)
	assert.Empty(t, gw.closes)
	assert.Empty(t, gw.opens)
}

func TestReverseTierHoldsWithNilAdvisor(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	f := NewFlow(ReverseConfig{}, Config{}, gw, nil, gate, NewAnchorStore(Config{}), nil, nil)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)
	assert.Empty(t, out.Executed)
	assert.Empty(t, gw.closes)
}

func TestReverseTierRespectsAttemptSpacing(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{Action: ActionReverse, Confidence: 95, RecoverySizePct: 0.10}}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	gate.RecordReverseAttempt("BTCUSDT")
	out, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Empty(t, out.Executed)
	assert.Zero(t, advisor.calls)
	assert.Empty(t, gw.opens)
}

func TestRecoverySizeClamped(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{Action: ActionReverse, Confidence: 95, RecoverySizePct: 0.9}}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), nil, nil)

	_, err := f.Evaluate(context.Background(), leveragedLong(-0.16), bearishSnapshot(), exchange.Balance{Total: 10000})
	require.NoError(t, err)

	// Clamped to the 25% ceiling: 10000 * 0.25 * 5 / 100 = 125
	require.Len(t, gw.opens, 1)
	assert.InDelta(t, 125, gw.opens[0].Quantity, 1e-9)
}

func TestAIReviewTierJournalsWithoutActing(t *testing.T) {
	gw := newFakeGateway()
	gate := newTestGate(newMemKV())
	advisor := &fakeAdvisor{review: &Review{Action: ActionClose, Confidence: 70, Rationale: "trend broken"}}
	journal := &fakeJournal{}
	f := NewFlow(ReverseConfig{}, Config{}, gw, advisor, gate, NewAnchorStore(Config{}), journal, nil)

	out, err := f.Evaluate(context.Background(), leveragedLong(-0.13), Snapshot{}, exchange.Balance{Total: 10000})
	require.NoError(t, err)

	assert.Equal(t, StateAIReview, out.State)
	assert.Empty(t, out.Executed)
	assert.Empty(t, gw.closes)
	require.Len(t, journal.records, 1)
	assert.Equal(t, "ai_review", journal.records[0].Stage)
}

func TestParseReviewActionDegradesToHold(t *testing.T) {
	assert.Equal(t, ActionClose, ParseReviewAction(" close "))
	assert.Equal(t, ActionReverse, ParseReviewAction("Reverse"))
	assert.Equal(t, ActionHold, ParseReviewAction("PANIC"))
	assert.Equal(t, ActionHold, ParseReviewAction(""))
}

func TestInitialStopPrice(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.InDelta(t, 100-1.5*1.2, InitialStopPrice(100, exchange.Long, 1.5, cfg), 1e-9)
	assert.InDelta(t, 100+1.5*1.2, InitialStopPrice(100, exchange.Short, 1.5, cfg), 1e-9)
	assert.InDelta(t, 96, InitialStopPrice(100, exchange.Long, 0, cfg), 1e-9)
	assert.InDelta(t, 104, InitialStopPrice(100, exchange.Short, 0, cfg), 1e-9)
}

func TestReverseOutcomeAgeIndependent(t *testing.T) {
	// Classification is pure: a stale clock must not shift the ladder tier.
	f := NewFlow(ReverseConfig{}, Config{}, nil, nil, nil, nil, nil, nil)
	f.SetNowFunc(func() time.Time { return time.Unix(0, 0) })
	assert.Equal(t, StateReverse, f.Classify(-0.16))
}

func TestLadderThresholdBoundaries(t *testing.T) {
	f := NewFlow(ReverseConfig{}, Config{}, nil, nil, nil, nil, nil, nil)
	// Boundaries are inclusive toward the worse tier.
	for _, tc := range []struct {
		roi  float64
		want LadderState
	}{
		{-0.0799, StateNormal},
		{-0.0800, StateWarning},
		{-0.1200, StateAIReview},
		{-0.1500, StateReverse},
		{-0.1999, StateReverse},
		{-0.2000, StateHardStop},
	} {
		assert.Equal(t, tc.want, f.Classify(tc.roi), "roi %v", tc.roi)
	}
}
