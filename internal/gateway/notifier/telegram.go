// Package notifier pushes operator alerts for ladder events: hard stops,
// reversals and cooldown blocks.
package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram delivers alert text to a single chat through the Bot API.
// The zero value is unusable; construct with NewTelegram.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	sleep   func(time.Duration)
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		token:   botToken,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
		sleep:   time.Sleep,
	}
}

type sendMessageReq struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// APIError carries the status and description Telegram returned for a
// rejected sendMessage call.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram status=%d", e.Status)
	}
	return fmt.Sprintf("telegram status=%d: %s", e.Status, e.Description)
}

// SendText posts one message, retrying transient failures twice with a
// short backoff. A 4xx response is returned immediately: bad tokens and
// bad chat ids do not heal on retry.
func (t *Telegram) SendText(text string) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram notifier missing token or chat id")
	}
	body, err := json.Marshal(sendMessageReq{ChatID: t.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("encode telegram payload: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			t.sleep(time.Duration(attempt) * 2 * time.Second)
		}
		lastErr = t.post(url, body)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.Status/100 == 4 {
			return lastErr
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}

func (t *Telegram) post(url string, body []byte) error {
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &APIError{
		Status:      resp.StatusCode,
		Description: gjson.GetBytes(raw, "description").String(),
	}
}
