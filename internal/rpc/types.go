package rpc

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Blockhash is the recent-blockhash handle a transaction must be rebuilt
// against when it expires.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// VolumeBucket is one observed trade-volume sub-window, used by the VWAP
// scheduler to weight slices toward high-volume windows.
type VolumeBucket struct {
	StartUnix int64           `json:"start_unix"`
	Volume    decimal.Decimal `json:"volume"`
}

// Quote is a DEX aggregator quote for one token. Pool liquidity and recent
// volume ride on the quote so execution-style selection needs no extra call.
type Quote struct {
	TokenID        string          `json:"token_id"`
	Price          decimal.Decimal `json:"price"`
	PoolLiquidity  decimal.Decimal `json:"pool_liquidity"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	PriceImpactPct decimal.Decimal `json:"price_impact_pct"`
	VolumeBuckets []VolumeBucket  `json:"volume_buckets,omitempty"`
	// SwapTransaction is the unsigned transaction for this quote, base64.
	SwapTransaction string `json:"swap_transaction,omitempty"`
}

// QuoteRequest parameterizes a quote fetch. PriorityFee, when non-zero, is
// the per-compute-unit price the returned swap transaction should carry.
type QuoteRequest struct {
	TokenID     string
	Side        string // BUY or SELL
	Notional    decimal.Decimal
	SlippageBps int
	PriorityFee uint64
}

// SubmitResult is the outcome of a sendTransaction call.
type SubmitResult struct {
	Signature string
	Slot      uint64
}

// ValidateAddress checks that s is valid base58 of plausible key length.
func ValidateAddress(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid base58 address: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("invalid address length %d", len(raw))
	}
	return nil
}
