package notifier

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tg := NewTelegram("test-token", "12345")
	tg.apiBase = srv.URL
	tg.sleep = func(time.Duration) {}
	return tg
}

func TestSendTextPostsChatAndText(t *testing.T) {
	var gotPath string
	var gotBody sendMessageReq
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, tg.SendText("hard stop BTCUSDT long roi=-21.00%"))
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotBody.ChatID)
	assert.Contains(t, gotBody.Text, "hard stop")
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, tg.SendText("reversed ETHUSDT"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	})

	err := tg.SendText("warning SOLUSDT")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Unauthorized", apiErr.Description)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTextRequiresCredentials(t *testing.T) {
	tg := NewTelegram("", "")
	assert.Error(t, tg.SendText("anything"))
}
