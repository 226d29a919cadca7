package model

// OrderRequest represents the incoming JSON body for order placement.
type OrderRequest struct {
	TokenID     string  `json:"token_id" binding:"required"`
	Side        string  `json:"side" binding:"required,oneof=BUY SELL"`
	Notional    float64 `json:"notional_amount" binding:"required,gt=0"` // quote-currency notional
	SlippageBps int     `json:"slippage_bps,omitempty"`
	Style       string  `json:"execution_style,omitempty"` // AUTO/MARKET/TWAP/VWAP/ICEBERG

	// Optional exit overrides; tier defaults apply when omitted.
	StopLossPct   *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *float64 `json:"take_profit_pct,omitempty"`
	TrailingPct   *float64 `json:"trailing_stop_pct,omitempty"`
}

// AuditEvent is the fire-and-forget telemetry payload for Emit.
type AuditEvent struct {
	Kind      string         `json:"kind"`
	OrderID   string         `json:"order_id,omitempty"`
	Position  string         `json:"position_id,omitempty"`
	TokenID   string         `json:"token_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp int64          `json:"ts"`
}
