package advisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/risk"
)

func TestParseReview(t *testing.T) {
	review, err := ParseReview(`{"action":"REVERSE","confidence":85,"rationale":"trend flipped","recovery_size_pct":0.1}`)
	require.NoError(t, err)
	assert.Equal(t, risk.ActionReverse, review.Action)
	assert.Equal(t, 85.0, review.Confidence)
	assert.Equal(t, "trend flipped", review.Rationale)
	assert.Equal(t, 0.1, review.RecoverySizePct)
}

func TestParseReviewCoercesQuotedNumbers(t *testing.T) {
	review, err := ParseReview(`{"action":"close","confidence":"72.5","recovery_size_pct":"0.2"}`)
	require.NoError(t, err)
	assert.Equal(t, risk.ActionClose, review.Action)
	assert.Equal(t, 72.5, review.Confidence)
	assert.Equal(t, 0.2, review.RecoverySizePct)
}

func TestParseReviewUnknownActionIsHold(t *testing.T) {
	review, err := ParseReview(`{"action":"DOUBLE_DOWN","confidence":99}`)
	require.NoError(t, err)
	assert.Equal(t, risk.ActionHold, review.Action)
}

func TestParseReviewRejectsGarbage(t *testing.T) {
	// A missing action and out-of-range numerics must fail schema validation.
	for _, raw := range []string{
		"",
		"not json",
		`[1,2,3]`,
		`{"confidence":85}`,
		`{"action":"CLOSE","confidence":150}`,
		`{"action":"CLOSE","recovery_size_pct":2}`,
	} {
		_, err := ParseReview(raw)
		assert.Error(t, err, "raw %q", raw)
	}
}

func TestReviewPostsSummaryWithAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"action":"HOLD","confidence":50}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, AuthToken: "secret"})
	require.NoError(t, err)

	review, err := c.Review(context.Background(), risk.PositionSummary{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, risk.ActionHold, review.Action)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestReviewRetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"action":"CLOSE","confidence":70}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)

	review, err := c.Review(context.Background(), risk.PositionSummary{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, risk.ActionClose, review.Action)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReviewDoesNotRetryMalformedAnswers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`this is not json`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)

	_, err = c.Review(context.Background(), risk.PositionSummary{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
