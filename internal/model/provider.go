package model

import "time"

// Provider is a static RPC endpoint definition loaded from configuration.
// Never mutated after startup; removed only by redeploy.
type Provider struct {
	ID          string `json:"id" mapstructure:"id"`
	EndpointURL string `json:"endpoint_url" mapstructure:"endpoint_url"`
	WSEndpoint  string `json:"ws_endpoint,omitempty" mapstructure:"ws_endpoint"`
	QuoteURL    string `json:"quote_url,omitempty" mapstructure:"quote_url"`
	Tier        int    `json:"tier" mapstructure:"tier"` // 1=primary 2=secondary 3=fallback
	TimeoutMs   int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

func (p Provider) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// ProviderHealth is a point-in-time snapshot of one provider's rolling
// stats. Snapshots are passed by value; the registry owns the mutable state.
type ProviderHealth struct {
	ProviderID    string    `json:"provider_id"`
	LatencyMs     float64   `json:"latency_ms"`
	SuccessRate   float64   `json:"success_rate"` // EWMA, 0.0-1.0
	LastError     string    `json:"last_error,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	BlockHeight   uint64    `json:"block_height,omitempty"`
	Healthy       bool      `json:"healthy"`
	Score         float64   `json:"score"` // lower is better
}
