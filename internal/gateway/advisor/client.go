// Package advisor calls the external review oracle consulted before any
// reversal. A malformed or unreachable oracle is reported as an error; the
// ladder treats that as HOLD.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"guardian/internal/risk"
)

const reviewSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "rationale": {"type": "string"},
    "recovery_size_pct": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var reviewSchema = jsonschema.MustCompileString("review.json", reviewSchemaJSON)

type Config struct {
	URL         string
	AuthToken   string
	HTTPTimeout time.Duration
	MaxRetries  int
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimSpace(c.URL)
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

type Client struct {
	cfg  Config
	http *http.Client
}

var _ risk.Advisor = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.URL == "" {
		return nil, fmt.Errorf("advisor: url required")
	}
	return &Client{
		cfg:  final,
		http: &http.Client{Timeout: final.HTTPTimeout},
	}, nil
}

func (c *Client) Review(ctx context.Context, summary risk.PositionSummary) (*risk.Review, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("advisor: encode summary: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		raw, err := c.post(ctx, payload)
		if err != nil {
			lastErr = err
			continue
		}
		review, err := ParseReview(raw)
		if err != nil {
			// A syntactically broken answer will not improve on retry.
			return nil, err
		}
		return review, nil
	}
	return nil, fmt.Errorf("advisor: %w", lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// ParseReview validates and decodes an oracle response. Numeric fields the
// oracle returns as strings are coerced before schema validation.
func ParseReview(raw string) (*risk.Review, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil, fmt.Errorf("advisor: invalid json response")
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("advisor: response is not an object")
	}
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("advisor: decode response: %w", err)
	}
	if err := reviewSchema.Validate(coerceNumbers(generic)); err != nil {
		return nil, fmt.Errorf("advisor: response schema: %w", err)
	}
	review := &risk.Review{
		Action:          risk.ParseReviewAction(doc.Get("action").String()),
		Confidence:      doc.Get("confidence").Float(),
		Rationale:       strings.TrimSpace(doc.Get("rationale").String()),
		RecoverySizePct: doc.Get("recovery_size_pct").Float(),
	}
	return review, nil
}

// coerceNumbers rewrites string-typed numerics so schema validation accepts
// oracles that quote their numbers.
func coerceNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = coerceNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = coerceNumbers(child)
		}
		return out
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return val
		}
		if f, ok := parseNumeric(trimmed); ok {
			return f
		}
		return val
	default:
		return v
	}
}

func parseNumeric(s string) (float64, bool) {
	r := gjson.Parse(s)
	if r.Type == gjson.Number {
		return r.Float(), true
	}
	return 0, false
}
