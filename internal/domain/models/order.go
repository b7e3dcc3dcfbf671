package models

import (
	"math"
	"time"
)

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s OrderSide) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

type OrderKind string

const (
	Limit  OrderKind = "LIMIT"
	Market OrderKind = "MARKET"
)

// OrderRequest is one order sent to the broker.
type OrderRequest struct {
	Instrument OptionRef `json:"instrument"`
	Side       OrderSide `json:"side"`
	Quantity   int       `json:"quantity"`
	Kind       OrderKind `json:"kind"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	Tag        string    `json:"tag,omitempty"`
}

type ExecutionStatus string

const (
	Filled          ExecutionStatus = "FILLED"
	PartiallyFilled ExecutionStatus = "PARTIALLY_FILLED"
	Failed          ExecutionStatus = "FAILED"
)

// OrderResult is the outcome of a complete execution of one intent.
type OrderResult struct {
	Status    ExecutionStatus `json:"status"`
	FilledQty int             `json:"filled_qty"`
	AvgPrice  float64         `json:"avg_price"`
	Reason    string          `json:"reason,omitempty"`
	Critical  bool            `json:"critical"`
	OrderIDs  []string        `json:"order_ids,omitempty"`
}

// RoundToTick snaps a price to the tick grid and to paise, so prices
// computed on either side of the broker compare equal.
func RoundToTick(p, tick float64) float64 {
	if tick <= 0 {
		return Round2(p)
	}
	return Round2(math.Round(p/tick) * tick)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// BrokerOrderState is the broker's view of a single order.
type BrokerOrderState string

const (
	OrderOpen      BrokerOrderState = "OPEN"
	OrderComplete  BrokerOrderState = "COMPLETE"
	OrderCancelled BrokerOrderState = "CANCELLED"
	OrderRejected  BrokerOrderState = "REJECTED"
)

// Terminal reports whether the order can no longer fill.
func (s BrokerOrderState) Terminal() bool {
	return s == OrderComplete || s == OrderCancelled || s == OrderRejected
}

type BrokerOrderStatus struct {
	OrderID   string           `json:"order_id"`
	State     BrokerOrderState `json:"state"`
	FilledQty int              `json:"filled_qty"`
	AvgPrice  float64          `json:"avg_price"`
	Message   string           `json:"message,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type BrokerPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

type Margins struct {
	AvailableCash float64 `json:"available_cash"`
}
