package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderRouting         OrderStatus = "ROUTING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderFailed          OrderStatus = "FAILED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status can never change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderPartiallyFilled, OrderFilled, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

type ExecutionStyle string

const (
	StyleAuto    ExecutionStyle = "AUTO"
	StyleMarket  ExecutionStyle = "MARKET"
	StyleTWAP    ExecutionStyle = "TWAP"
	StyleVWAP    ExecutionStyle = "VWAP"
	StyleIceberg ExecutionStyle = "ICEBERG"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a caller intent. The execution router is the only writer after
// creation; once a terminal status is reached the record is immutable.
type Order struct {
	ID          string          `json:"order_id" db:"id"`
	TokenID     string          `json:"token_id" db:"token_id"`
	Side        Side            `json:"side" db:"side"`
	Notional    decimal.Decimal `json:"notional_amount" db:"notional"`
	SlippageBps int             `json:"slippage_bps" db:"slippage_bps"`
	Style       ExecutionStyle  `json:"execution_style" db:"style"`
	Status      OrderStatus     `json:"status" db:"status"`

	// PositionID links an exit order to the position it closes; empty for
	// entry orders.
	PositionID string `json:"position_id,omitempty" db:"position_id"`

	FilledNotional decimal.Decimal `json:"filled_notional" db:"filled_notional"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	FailReason     string          `json:"fail_reason,omitempty" db:"fail_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Fill is one executed slice of an Order.
type Fill struct {
	OrderID   string          `json:"order_id"`
	SliceNum  int             `json:"slice_num"`
	Notional  decimal.Decimal `json:"notional"`
	Price     decimal.Decimal `json:"price"`
	TxSig     string          `json:"tx_signature"`
	FilledAt  time.Time       `json:"filled_at"`
}
