package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

type RiskTier string

const (
	TierEstablished RiskTier = "ESTABLISHED"
	TierMid         RiskTier = "MID"
	TierMicro       RiskTier = "MICRO"
	TierShitcoin    RiskTier = "SHITCOIN"
)

// Position is the net result of filled orders for one token. Status leaves
// OPEN only through the store's compare-and-swap, which is what guarantees a
// single exit order even when the monitor and a manual close race.
type Position struct {
	ID            string          `json:"position_id" db:"id"`
	TokenID       string          `json:"token_id" db:"token_id"`
	EntryPrice    decimal.Decimal `json:"entry_price" db:"entry_price"`
	SizeRemaining decimal.Decimal `json:"size_remaining" db:"size_remaining"`
	RiskTier      RiskTier        `json:"risk_tier" db:"risk_tier"`

	StopLossPrice   decimal.Decimal `json:"stop_loss_price" db:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price" db:"take_profit_price"`
	TrailingActive  bool            `json:"trailing_stop_active" db:"trailing_active"`
	TrailingPct     decimal.Decimal `json:"trailing_stop_pct" db:"trailing_pct"`
	PeakPrice       decimal.Decimal `json:"peak_price" db:"peak_price"`

	Status    PositionStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
}

// ExitCheckResult is produced per monitor tick per open position and
// consumed immediately, never persisted.
type ExitCheckResult int

const (
	NoAction ExitCheckResult = iota
	TriggerTrailingStop
	TriggerStopLoss
	TriggerTakeProfit
)

func (r ExitCheckResult) String() string {
	switch r {
	case TriggerTrailingStop:
		return "trailing_stop"
	case TriggerStopLoss:
		return "stop_loss"
	case TriggerTakeProfit:
		return "take_profit"
	default:
		return "no_action"
	}
}

type PositionEventType string

const (
	EventPositionCreated PositionEventType = "CREATED"
	EventFill            PositionEventType = "FILL"
	EventExitTrigger     PositionEventType = "EXIT_TRIGGER"
	EventExitFailed      PositionEventType = "EXIT_FAILED"
	EventPositionClosed  PositionEventType = "CLOSED"
)

// PositionEvent rows form the append-only log that is the source of truth
// for reconstructing position state after a restart.
type PositionEvent struct {
	ID         string            `json:"event_id" db:"id"`
	PositionID string            `json:"position_id" db:"position_id"`
	Type       PositionEventType `json:"type" db:"type"`
	Payload    string            `json:"payload" db:"payload"` // JSON blob
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
