package models

import (
	"math"
	"time"
)

// OptionSide is the option type traded: a call (CE) or a put (PE).
type OptionSide string

const (
	Call OptionSide = "CE"
	Put  OptionSide = "PE"
)

// Opposite returns the other side of the chain.
func (s OptionSide) Opposite() OptionSide {
	if s == Call {
		return Put
	}
	return Call
}

// Tick is a single last-traded-price update. Ticks are never stored.
type Tick struct {
	InstrumentID string    `json:"instrument_id"`
	Price        float64   `json:"price"`
	Timestamp    time.Time `json:"timestamp"`
}

// Candle is a one-minute OHLC bucket.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
}

// NewCandle opens a candle at price.
func NewCandle(openTime time.Time, price float64) Candle {
	return Candle{OpenTime: openTime, Open: price, High: price, Low: price, Close: price}
}

// Update folds a price into a live candle.
func (c *Candle) Update(price float64) {
	c.High = math.Max(c.High, price)
	c.Low = math.Min(c.Low, price)
	c.Close = price
}

func (c Candle) IsBullish() bool { return c.Close > c.Open }
func (c Candle) IsBearish() bool { return c.Close < c.Open }
func (c Candle) Body() float64   { return math.Abs(c.Close - c.Open) }
func (c Candle) Range() float64  { return c.High - c.Low }
func (c Candle) IsZero() bool    { return c.OpenTime.IsZero() }

// Quote is the top of the order book.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// OptionRef identifies a tradable option contract.
type OptionRef struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Exchange   string     `json:"exchange"`
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"`
	Side       OptionSide `json:"side"`
	Expiry     time.Time  `json:"expiry"`
	LotSize    int        `json:"lot_size"`
	TickSize   float64    `json:"tick_size"`
}

func (o OptionRef) IsZero() bool { return o.ID == "" && o.Symbol == "" }
