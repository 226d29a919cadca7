package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
)

// Client speaks JSON-RPC 2.0 to whichever provider the caller hands it.
// Provider selection, retries and circuit breaking live in the reliable
// layer; this client performs exactly one attempt per call.
type Client struct {
	httpClient *http.Client
	requestID  atomic.Uint64
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, p model.Provider, method string, params []any, result any) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransient("http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransient("read response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewTransient("rate limited (429)", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewTransient(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return apperrors.NewTransient("unmarshal response failed", err)
	}
	if rpcResp.Error != nil {
		// Classification of node errors happens upstream; pass the message.
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// GetSlot retrieves the current slot; used as the cheap health probe.
func (c *Client) GetSlot(ctx context.Context, p model.Provider) (uint64, error) {
	var result uint64
	if err := c.call(ctx, p, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// GetLatestBlockhash fetches a fresh blockhash for transaction building.
func (c *Client) GetLatestBlockhash(ctx context.Context, p model.Provider) (Blockhash, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": "confirmed"}}
	if err := c.call(ctx, p, "getLatestBlockhash", params, &result); err != nil {
		return Blockhash{}, err
	}
	return Blockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// SimulateTransaction dry-runs a signed transaction. A non-nil error carries
// the node's failure message for classification.
func (c *Client) SimulateTransaction(ctx context.Context, p model.Provider, signedTxB64 string) error {
	var result struct {
		Value struct {
			Err  any      `json:"err"`
			Logs []string `json:"logs"`
		} `json:"value"`
	}
	params := []any{
		signedTxB64,
		map[string]any{"encoding": "base64", "commitment": "processed"},
	}
	if err := c.call(ctx, p, "simulateTransaction", params, &result); err != nil {
		return err
	}
	if result.Value.Err != nil {
		msg := fmt.Sprintf("%v", result.Value.Err)
		if n := len(result.Value.Logs); n > 0 {
			msg = fmt.Sprintf("%s: %s", msg, result.Value.Logs[n-1])
		}
		return fmt.Errorf("simulation failed: %s", msg)
	}
	return nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, p model.Provider, signedTxB64 string) (SubmitResult, error) {
	var signature string
	params := []any{
		signedTxB64,
		map[string]any{"encoding": "base64", "skipPreflight": true, "maxRetries": 0},
	}
	if err := c.call(ctx, p, "sendTransaction", params, &signature); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Signature: signature}, nil
}

// GetPriorityFee samples recent prioritization fees and returns a suggested
// per-compute-unit price for the next submission attempt.
func (c *Client) GetPriorityFee(ctx context.Context, p model.Provider) (uint64, error) {
	var result []struct {
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := c.call(ctx, p, "getRecentPrioritizationFees", []any{[]string{}}, &result); err != nil {
		return 0, err
	}
	var max uint64
	for _, r := range result {
		if r.PrioritizationFee > max {
			max = r.PrioritizationFee
		}
	}
	return max, nil
}

// GetQuote fetches a DEX aggregator quote from the provider's quote
// endpoint. Falls back to the RPC endpoint host when no dedicated quote URL
// is configured.
func (c *Client) GetQuote(ctx context.Context, p model.Provider, req QuoteRequest) (Quote, error) {
	base := p.QuoteURL
	if base == "" {
		base = p.EndpointURL + "/quote"
	}

	q := url.Values{}
	q.Set("token_id", req.TokenID)
	q.Set("side", req.Side)
	q.Set("amount", req.Notional.String())
	if req.SlippageBps > 0 {
		q.Set("slippage_bps", fmt.Sprintf("%d", req.SlippageBps))
	}
	if req.PriorityFee > 0 {
		q.Set("priority_fee", fmt.Sprintf("%d", req.PriorityFee))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create quote request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Quote{}, apperrors.NewTransient("quote request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Quote{}, apperrors.NewTransient("rate limited (429)", nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Quote{}, apperrors.NewTransient(fmt.Sprintf("quote status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return Quote{}, apperrors.NewTransient("decode quote failed", err)
	}
	if quote.TokenID == "" {
		quote.TokenID = req.TokenID
	}
	return quote, nil
}
