package models

import "time"

type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a persistent operator warning. Critical alerts imply possible
// unmanaged exposure and stay visible until acknowledged.
type Alert struct {
	ID        string       `json:"id"`
	Level     AlertLevel   `json:"level"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Record    *TradeRecord `json:"record,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Acked     bool         `json:"acked"`
	AckedAt   *time.Time   `json:"acked_at,omitempty"`
}

type EventType string

const (
	EventTradeOpened EventType = "trade_opened"
	EventTradeClosed EventType = "trade_closed"
	EventPartialExit EventType = "partial_exit"
	EventTrend       EventType = "trend"
	EventWarning     EventType = "warning"
	EventAlert       EventType = "alert"
)

// Event is a discrete push notification for the UI and downstream consumers.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Message string      `json:"message"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// StatusSnapshot is the periodic engine status pushed to observers.
type StatusSnapshot struct {
	Connection     string        `json:"connection"`
	Mode           string        `json:"mode"`
	Underlying     string        `json:"underlying"`
	IndexPrice     float64       `json:"index_price"`
	Trend          TrendState    `json:"trend"`
	State          PositionState `json:"state"`
	Position       *Position     `json:"position,omitempty"`
	LastPrice      float64       `json:"last_price,omitempty"`
	Daily          DailyStats    `json:"daily"`
	TradingEnabled bool          `json:"trading_enabled"`
	At             time.Time     `json:"at"`
}
