package models

import "time"

// Reading is an indicator value that may be undefined when the series is
// too short. An undefined reading must never be treated as zero.
type Reading struct {
	Value float64 `json:"value"`
	OK    bool    `json:"ok"`
}

// Defined wraps a computed value.
func Defined(v float64) Reading { return Reading{Value: v, OK: true} }

// SqueezeState reports whether volatility is compressed.
type SqueezeState int

const (
	SqueezeUnknown SqueezeState = iota
	SqueezeOn
	SqueezeOff
)

// IndicatorSnapshot holds the indicators for one closed candle.
type IndicatorSnapshot struct {
	OpenTime  time.Time    `json:"open_time"`
	Close     float64      `json:"close"`
	SMA       Reading      `json:"sma"`
	WMA       Reading      `json:"wma"`
	RSI       Reading      `json:"rsi"`
	RSISignal Reading      `json:"rsi_signal"`
	ATR       Reading      `json:"atr"`
	Band      Reading      `json:"band"`
	BandUp    bool         `json:"band_up"`
	Squeeze   SqueezeState `json:"squeeze"`
}

type TrendState string

const (
	TrendUnknown TrendState = "UNKNOWN"
	TrendBullish TrendState = "BULLISH"
	TrendBearish TrendState = "BEARISH"
)

// Favors returns the option side a trend points to.
func (t TrendState) Favors() (OptionSide, bool) {
	switch t {
	case TrendBullish:
		return Call, true
	case TrendBearish:
		return Put, true
	}
	return "", false
}

// TrendEvent is emitted when the derived trend state changes.
type TrendEvent struct {
	From  TrendState `json:"from"`
	To    TrendState `json:"to"`
	At    time.Time  `json:"at"`
	Close float64    `json:"close"`
}
