package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dexgate/dexgate/internal/pkg/logger"
)

// Neutral is the confidence used whenever the sentiment service is
// unavailable or returns garbage. Sizing with it leaves the notional
// unchanged, so a dead sentiment feed degrades to plain tier sizing.
const Neutral = 0.5

// Client fetches a 0..1 confidence score per token. Failures are absorbed,
// never propagated: sentiment is advisory, not load-bearing.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type scoreResponse struct {
	TokenID    string  `json:"token_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Score returns the confidence for tokenID, or Neutral on any failure.
func (c *Client) Score(ctx context.Context, tokenID string) float64 {
	if c == nil || c.baseURL == "" {
		return Neutral
	}

	u := fmt.Sprintf("%s/score?token_id=%s", c.baseURL, url.QueryEscape(tokenID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Neutral
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("sentiment fetch failed, using neutral", "token", tokenID, "error", err)
		return Neutral
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("sentiment fetch non-200, using neutral", "token", tokenID, "status", resp.StatusCode)
		return Neutral
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Neutral
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Neutral
	}
	logger.Debug("sentiment score", "token", tokenID, "confidence", out.Confidence, "rationale", out.Rationale)
	return out.Confidence
}
