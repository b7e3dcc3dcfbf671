package signal

import (
	"time"

	"OptionPilot/internal/domain/models"
)

// MarketView is the read-only market state a strategy evaluates against.
type MarketView interface {
	Now() time.Time
	IndexID() string
	IndexPrice() float64
	Trend() models.TrendState
	TrendAge() int
	CandleCount() int
	// Snapshots and Candles return the newest n closed index entries,
	// oldest first.
	Snapshots(n int) []models.IndicatorSnapshot
	Candles(n int) []models.Candle
	LiveCandle(id string) (models.Candle, bool)
	PrevCandle(id string) (models.Candle, bool)
	SessionOpen(id string) (float64, bool)
	// Ticks returns up to n most recent prices for an instrument, oldest
	// first.
	Ticks(id string, n int) []float64
	LastPrice(id string) (float64, bool)
	ATMOption(side models.OptionSide) (models.OptionRef, bool)
}

// Candidate is a strategy's proposal before validation.
type Candidate struct {
	Side   models.OptionSide
	Reason string
	Kind   models.SignalKind
}

// Strategy detects one entry setup.
type Strategy interface {
	Name() string
	Evaluate(v MarketView) (Candidate, bool)
}

// consumer is implemented by strategies holding one-shot state that must be
// cleared once their candidate turns into a signal.
type consumer interface {
	Consume()
}

func sideSuffix(s models.OptionSide) string {
	return string(s)
}
