package models

import "time"

type PositionState string

const (
	StateFlat           PositionState = "FLAT"
	StateEntering       PositionState = "ENTERING"
	StateOpen           PositionState = "OPEN"
	StatePartialExiting PositionState = "PARTIAL_EXITING"
	StateClosing        PositionState = "CLOSING"
	StateHalted         PositionState = "HALTED"
)

// Position is the single open long option position.
type Position struct {
	Instrument         OptionRef  `json:"instrument"`
	Direction          OptionSide `json:"direction"`
	EntryPrice         float64    `json:"entry_price"`
	Quantity           int        `json:"quantity"`
	LotSize            int        `json:"lot_size"`
	InitialStop        float64    `json:"initial_stop"`
	TrailingStop       float64    `json:"trailing_stop"`
	RunningHigh        float64    `json:"running_high"`
	EntryTime          time.Time  `json:"entry_time"`
	TriggerReason      string     `json:"trigger_reason"`
	RealizedPartialQty int        `json:"realized_partial_qty"`
	BreakevenActive    bool       `json:"breakeven_active"`
	PartialLevel       int        `json:"partial_level"`
	// PendingExit holds the reason of a full close that left units held.
	PendingExit string `json:"pending_exit,omitempty"`
}

// Unrealized returns the open P&L at ltp.
func (p Position) Unrealized(ltp float64) float64 {
	return (ltp - p.EntryPrice) * float64(p.Quantity)
}

// ProfitPct returns the move from entry in percent.
func (p Position) ProfitPct(ltp float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (ltp - p.EntryPrice) / p.EntryPrice * 100
}

// DailyStats accumulates realized results for one trading day.
type DailyStats struct {
	Day         string  `json:"day"`
	NetPnL      float64 `json:"net_pnl"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
	Charges     float64 `json:"charges"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	LimitHit    bool    `json:"limit_hit"`
}
