package models

import "time"

// TradeRecord is the write-once fact of a completed (or partially
// completed) trade.
type TradeRecord struct {
	TradeID       string     `json:"trade_id"`
	Instrument    string     `json:"instrument"`
	Direction     OptionSide `json:"direction"`
	TriggerReason string     `json:"trigger_reason"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      time.Time  `json:"exit_time"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     float64    `json:"exit_price"`
	Quantity      int        `json:"quantity"`
	GrossPnL      float64    `json:"gross_pnl"`
	Charges       float64    `json:"charges"`
	NetPnL        float64    `json:"net_pnl"`
	ExitReason    string     `json:"exit_reason"`
	TrendAtExit   TrendState `json:"trend_at_exit"`
	Partial       bool       `json:"partial"`
}
