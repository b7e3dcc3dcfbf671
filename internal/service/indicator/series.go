package indicator

import (
	"math"

	"OptionPilot/internal/domain/models"
)

// Params are the lookback settings for the indicator set.
type Params struct {
	SMAPeriod         int
	WMAPeriod         int
	RSIPeriod         int
	RSISignalPeriod   int
	ATRPeriod         int
	BandPeriod        int
	BandMultiplier    float64
	SqueezePeriod     int
	SqueezeMultiplier float64
}

func DefaultParams() Params {
	return Params{
		SMAPeriod:         9,
		WMAPeriod:         9,
		RSIPeriod:         9,
		RSISignalPeriod:   3,
		ATRPeriod:         14,
		BandPeriod:        5,
		BandMultiplier:    0.7,
		SqueezePeriod:     20,
		SqueezeMultiplier: 1.5,
	}
}

// Compute derives one snapshot per candle. It is a pure function of the
// candle series, so recomputing the same window always yields the same
// trend transitions.
func Compute(candles []models.Candle, p Params) []models.IndicatorSnapshot {
	n := len(candles)
	out := make([]models.IndicatorSnapshot, n)
	if n == 0 {
		return out
	}

	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}

	sma := SMA(closes, p.SMAPeriod)
	wma := WMA(closes, p.WMAPeriod)
	rsi := RSI(closes, p.RSIPeriod)
	rsiSig := SMAOfReadings(rsi, p.RSISignalPeriod)
	atr := ATR(candles, p.ATRPeriod)
	band, up := Supertrend(candles, p.BandPeriod, p.BandMultiplier)
	squeeze := Squeeze(candles, p.SqueezePeriod, p.SqueezeMultiplier)

	for i, c := range candles {
		out[i] = models.IndicatorSnapshot{
			OpenTime:  c.OpenTime,
			Close:     c.Close,
			SMA:       sma[i],
			WMA:       wma[i],
			RSI:       rsi[i],
			RSISignal: rsiSig[i],
			ATR:       atr[i],
			Band:      band[i],
			BandUp:    up[i],
			Squeeze:   squeeze[i],
		}
	}
	return out
}

// SMA is the simple moving average; defined from index period-1.
func SMA(values []float64, period int) []models.Reading {
	out := make([]models.Reading, len(values))
	if period < 1 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = models.Defined(sum / float64(period))
		}
	}
	return out
}

// SMAOfReadings averages a derived series; a window containing any
// undefined reading stays undefined.
func SMAOfReadings(values []models.Reading, period int) []models.Reading {
	out := make([]models.Reading, len(values))
	if period < 1 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		var sum float64
		ok := true
		for _, r := range values[i-period+1 : i+1] {
			if !r.OK {
				ok = false
				break
			}
			sum += r.Value
		}
		if ok {
			out[i] = models.Defined(sum / float64(period))
		}
	}
	return out
}

// WMA weights the most recent value highest (1..period).
func WMA(values []float64, period int) []models.Reading {
	out := make([]models.Reading, len(values))
	if period < 1 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		var acc float64
		for k := 0; k < period; k++ {
			acc += values[i-period+1+k] * float64(k+1)
		}
		out[i] = models.Defined(acc / denom)
	}
	return out
}

// RSI uses exponential smoothing with alpha=1/period seeded from the first
// value. A zero average loss is replaced by 1e-10. Values before index
// period are warm-up and reported undefined.
func RSI(values []float64, period int) []models.Reading {
	out := make([]models.Reading, len(values))
	if period < 1 || len(values) < period {
		return out
	}
	alpha := 1 / float64(period)
	var gain, loss float64
	for i := range values {
		var g, l float64
		if i > 0 {
			d := values[i] - values[i-1]
			if d > 0 {
				g = d
			} else {
				l = -d
			}
		}
		if i == 0 {
			gain, loss = g, l
		} else {
			gain = (1-alpha)*gain + alpha*g
			loss = (1-alpha)*loss + alpha*l
		}
		if i < period {
			continue
		}
		den := loss
		if den == 0 {
			den = 1e-10
		}
		out[i] = models.Defined(100 - 100/(1+gain/den))
	}
	return out
}

// TrueRange returns the per-candle true range; the first candle uses its
// high-low range.
func TrueRange(candles []models.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		r := c.High - c.Low
		if i > 0 {
			pc := candles[i-1].Close
			r = math.Max(r, math.Max(math.Abs(c.High-pc), math.Abs(c.Low-pc)))
		}
		tr[i] = r
	}
	return tr
}

// ATR is the rolling mean of the true range.
func ATR(candles []models.Candle, period int) []models.Reading {
	return SMA(TrueRange(candles), period)
}

// Supertrend returns the trend band and its direction. Bands ratchet toward
// price and only reset when price closes through them.
func Supertrend(candles []models.Candle, period int, mult float64) ([]models.Reading, []bool) {
	n := len(candles)
	band := make([]models.Reading, n)
	up := make([]bool, n)
	if n == 0 || period < 1 || n < period {
		return band, up
	}

	atr := ATR(candles, period)
	nan := math.NaN()
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i, c := range candles {
		if !atr[i].OK {
			upper[i], lower[i] = nan, nan
			continue
		}
		hl2 := (c.High + c.Low) / 2
		upper[i] = hl2 + mult*atr[i].Value
		lower[i] = hl2 - mult*atr[i].Value
	}

	fu := make([]float64, n)
	fl := make([]float64, n)
	fu[0], fl[0] = upper[0], lower[0]
	for i := 1; i < n; i++ {
		prevClose := candles[i-1].Close
		switch {
		case math.IsNaN(upper[i]) || math.IsNaN(fu[i-1]):
			fu[i] = upper[i]
		case upper[i] < fu[i-1] || prevClose > fu[i-1]:
			fu[i] = upper[i]
		default:
			fu[i] = fu[i-1]
		}
		switch {
		case math.IsNaN(lower[i]) || math.IsNaN(fl[i-1]):
			fl[i] = lower[i]
		case lower[i] > fl[i-1] || prevClose < fl[i-1]:
			fl[i] = lower[i]
		default:
			fl[i] = fl[i-1]
		}
	}

	st := make([]float64, n)
	st[0] = fl[0]
	up[0] = true
	for i := 1; i < n; i++ {
		c := candles[i].Close
		switch {
		case up[i-1] && c <= fl[i]:
			up[i], st[i] = false, fu[i]
		case !up[i-1] && c >= fu[i]:
			up[i], st[i] = true, fl[i]
		default:
			up[i] = up[i-1]
			if up[i] {
				st[i] = fl[i]
			} else {
				st[i] = fu[i]
			}
		}
	}
	for i := range st {
		if !math.IsNaN(st[i]) {
			band[i] = models.Defined(st[i])
		}
	}
	return band, up
}

// Squeeze reports whether the Bollinger band (period, mult sigma) sits
// inside the Keltner channel (SMA ± mult*ATR).
func Squeeze(candles []models.Candle, period int, mult float64) []models.SqueezeState {
	n := len(candles)
	out := make([]models.SqueezeState, n)
	if period < 2 || n < period {
		return out
	}
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}
	mid := SMA(closes, period)
	atr := ATR(candles, period)
	for i := period - 1; i < n; i++ {
		if !mid[i].OK || !atr[i].OK {
			continue
		}
		var ss float64
		for _, v := range closes[i-period+1 : i+1] {
			d := v - mid[i].Value
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(period))
		bbUpper, bbLower := mid[i].Value+mult*sd, mid[i].Value-mult*sd
		kcUpper, kcLower := mid[i].Value+mult*atr[i].Value, mid[i].Value-mult*atr[i].Value
		if bbUpper < kcUpper && bbLower > kcLower {
			out[i] = models.SqueezeOn
		} else {
			out[i] = models.SqueezeOff
		}
	}
	return out
}
