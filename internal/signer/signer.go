package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dexgate/dexgate/internal/pkg/apperrors"
)

// Signer turns an unsigned base64 transaction into a signed one. Key
// material never enters this process; signing is delegated to a sidecar
// that holds the wallet.
type Signer interface {
	Sign(ctx context.Context, unsignedTxB64 string) (string, error)
}

// Remote is the HTTP sidecar client.
type Remote struct {
	baseURL string
	http    *http.Client
}

func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	Transaction string `json:"transaction"`
}

type signResponse struct {
	SignedTransaction string `json:"signed_transaction"`
	Error             string `json:"error,omitempty"`
}

func (r *Remote) Sign(ctx context.Context, unsignedTxB64 string) (string, error) {
	body, err := json.Marshal(signRequest{Transaction: unsignedTxB64})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", apperrors.NewTransient(fmt.Sprintf("signer unreachable: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewTransient(fmt.Sprintf("signer returned status %d", resp.StatusCode), nil)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.NewTransient("signer response decode failed", err)
	}
	if out.Error != "" {
		// The sidecar refusing to sign is not retryable.
		return "", apperrors.NewPermanent("signer rejected transaction: "+out.Error, nil)
	}
	if out.SignedTransaction == "" {
		return "", apperrors.NewPermanent("signer returned empty transaction", nil)
	}
	return out.SignedTransaction, nil
}

// Static signs nothing and echoes the input. Used in paper trading and
// tests where no real wallet exists.
type Static struct{}

func (Static) Sign(ctx context.Context, unsignedTxB64 string) (string, error) {
	return unsignedTxB64, nil
}
