package indicator

import "OptionPilot/internal/domain/models"

// BullishEngulfing: a red candle followed by a green body that covers it.
func BullishEngulfing(prev, last models.Candle) bool {
	if prev.IsZero() || last.IsZero() {
		return false
	}
	return prev.IsBearish() && last.IsBullish() &&
		last.Close > prev.Open && last.Open < prev.Close &&
		last.Body() > prev.Body()*0.8
}

// BearishEngulfing mirrors BullishEngulfing.
func BearishEngulfing(prev, last models.Candle) bool {
	if prev.IsZero() || last.IsZero() {
		return false
	}
	return prev.IsBullish() && last.IsBearish() &&
		last.Open > prev.Close && last.Close < prev.Open &&
		last.Body() > prev.Body()*0.8
}

// Hammer has a long lower wick and little upper wick.
func Hammer(c models.Candle) bool {
	body := c.Body()
	if c.IsZero() || body == 0 {
		return false
	}
	lower := min(c.Open, c.Close) - c.Low
	upper := c.High - max(c.Open, c.Close)
	return lower > body*2.5 && upper < body*0.5 && lower > c.Range()*0.6
}

// ShootingStar has a long upper wick and little lower wick.
func ShootingStar(c models.Candle) bool {
	body := c.Body()
	if c.IsZero() || body == 0 {
		return false
	}
	lower := min(c.Open, c.Close) - c.Low
	upper := c.High - max(c.Open, c.Close)
	return upper > body*2.5 && lower < body*0.5 && upper > c.Range()*0.6
}

// Doji has a body under tol of its range.
func Doji(c models.Candle, tol float64) bool {
	rng := c.Range()
	if c.IsZero() || rng == 0 {
		return false
	}
	return c.Body()/rng < tol
}

// ReversalAgainst reports whether the last candles form a reversal pattern
// against a position or trend favoring side. The returned name is empty
// when nothing matched.
func ReversalAgainst(side models.OptionSide, prev, last models.Candle) string {
	switch side {
	case models.Call:
		if BearishEngulfing(prev, last) {
			return "Bearish_Engulfing"
		}
		if ShootingStar(last) {
			return "Shooting_Star"
		}
	case models.Put:
		if BullishEngulfing(prev, last) {
			return "Bullish_Engulfing"
		}
		if Hammer(last) {
			return "Hammer"
		}
	}
	return ""
}
