package risk

import (
	"fmt"
	"math"

	"OptionPilot/internal/domain/models"
)

// Config holds account and stop parameters for sizing.
type Config struct {
	Capital      float64
	RiskPercent  float64 // percent of capital risked per trade
	StopPoints   float64
	StopPercent  float64 // fraction, 0.10 = 10%
	TrailPoints  float64
	TrailPercent float64 // fraction
	MinPrice     float64
}

// Rejection is returned when a trade cannot be sized. It is an expected
// outcome, not a failure.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "rejected: " + r.Reason }

func rejected(format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Sizing is the output of SizeTrade.
type Sizing struct {
	Quantity     int
	Lots         int
	InitialStop  float64
	RiskPerShare float64
}

// Sizer computes order quantities and protective stops.
type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Config() Config { return s.cfg }

// InitialStop is the looser of the fixed-point and percentage stops.
func (s *Sizer) InitialStop(price float64) float64 {
	byPoints := price - s.cfg.StopPoints
	byPct := price * (1 - s.cfg.StopPercent)
	return round1(math.Min(byPoints, byPct))
}

// SizeTrade returns the quantity to buy at price. availableCapital caps the
// account capital when positive.
func (s *Sizer) SizeTrade(price float64, lotSize int, availableCapital float64) (Sizing, error) {
	if price <= 0 || lotSize <= 0 {
		return Sizing{}, rejected("invalid price %.2f or lot size %d", price, lotSize)
	}
	if s.cfg.MinPrice > 0 && price < s.cfg.MinPrice {
		return Sizing{}, rejected("premium %.2f below minimum %.2f", price, s.cfg.MinPrice)
	}

	capital := s.cfg.Capital
	if availableCapital > 0 && (capital <= 0 || availableCapital < capital) {
		capital = availableCapital
	}

	stop := s.InitialStop(price)
	riskPerShare := price - stop
	if riskPerShare <= 0 {
		return Sizing{}, rejected("non-positive risk per share")
	}

	lot := float64(lotSize)
	lotsByCapital := int(math.Floor(capital / (price * lot)))
	if lotsByCapital < 1 {
		return Sizing{}, rejected("insufficient capital")
	}
	riskAmount := capital * s.cfg.RiskPercent / 100
	lotsByRisk := int(math.Floor(riskAmount / (riskPerShare * lot)))

	lots := min(lotsByRisk, lotsByCapital)
	if lots < 1 {
		lots = 1
	}
	return Sizing{
		Quantity:     lots * lotSize,
		Lots:         lots,
		InitialStop:  stop,
		RiskPerShare: riskPerShare,
	}, nil
}

// IsDailyLimitHit reports whether the day's net P&L breached the stop loss
// (given as a positive amount) or reached the profit target. Zero disables
// a limit.
func IsDailyLimitHit(netPnL, stopLoss, profitTarget float64) bool {
	if stopLoss > 0 && netPnL <= -stopLoss {
		return true
	}
	return profitTarget > 0 && netPnL >= profitTarget
}

// UpdateTrailing ratchets the running high and returns the new stop. The
// stop never moves down.
func (s *Sizer) UpdateTrailing(p models.Position, ltp float64) (stop, high float64) {
	high = math.Max(p.RunningHigh, ltp)
	candidate := math.Max(high-s.cfg.TrailPoints, high*(1-s.cfg.TrailPercent))
	stop = math.Max(p.TrailingStop, round1(candidate))
	return stop, high
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
