package signal

import (
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/service/indicator"
)

// SqueezeBreakout fires when a volatility squeeze releases on the last
// closed candle and spot breaks that candle's range.
type SqueezeBreakout struct{}

func (SqueezeBreakout) Name() string { return "squeeze_breakout" }

func (SqueezeBreakout) Evaluate(v MarketView) (Candidate, bool) {
	snaps := v.Snapshots(2)
	candles := v.Candles(1)
	if len(snaps) < 2 || len(candles) < 1 {
		return Candidate{}, false
	}
	if snaps[0].Squeeze != models.SqueezeOn || snaps[1].Squeeze != models.SqueezeOff {
		return Candidate{}, false
	}
	last, spot := candles[0], v.IndexPrice()
	switch {
	case spot > last.High:
		return Candidate{Side: models.Call, Reason: "Squeeze_Breakout_CE", Kind: models.TrendFollowing}, true
	case spot < last.Low:
		return Candidate{Side: models.Put, Reason: "Squeeze_Breakout_PE", Kind: models.TrendFollowing}, true
	}
	return Candidate{}, false
}

// TrendBandFlip is armed by a trend flip and fires while it is fresh once
// spot confirms beyond the flip candle's close.
type TrendBandFlip struct {
	mu  sync.Mutex
	ttl time.Duration
	ev  *models.TrendEvent
}

func NewTrendBandFlip(ttl time.Duration) *TrendBandFlip {
	return &TrendBandFlip{ttl: ttl}
}

func (*TrendBandFlip) Name() string { return "band_flip" }

// Arm records a flip. Transitions out of the unknown state are ignored.
func (s *TrendBandFlip) Arm(ev models.TrendEvent) {
	if ev.From == models.TrendUnknown || ev.To == models.TrendUnknown {
		return
	}
	s.mu.Lock()
	s.ev = &ev
	s.mu.Unlock()
}

func (s *TrendBandFlip) Consume() {
	s.mu.Lock()
	s.ev = nil
	s.mu.Unlock()
}

func (s *TrendBandFlip) Evaluate(v MarketView) (Candidate, bool) {
	s.mu.Lock()
	ev := s.ev
	if ev != nil && v.Now().Sub(ev.At.Add(time.Minute)) > s.ttl {
		s.ev, ev = nil, nil
	}
	s.mu.Unlock()
	if ev == nil || v.Trend() != ev.To {
		return Candidate{}, false
	}
	spot := v.IndexPrice()
	switch {
	case ev.To == models.TrendBullish && spot > ev.Close:
		return Candidate{Side: models.Call, Reason: "Band_Flip_CE", Kind: models.TrendFollowing}, true
	case ev.To == models.TrendBearish && spot < ev.Close:
		return Candidate{Side: models.Put, Reason: "Band_Flip_PE", Kind: models.TrendFollowing}, true
	}
	return Candidate{}, false
}

// TrendContinuation trades a break of the previous candle in the trend's
// direction when RSI agrees with its signal line.
type TrendContinuation struct{}

func (TrendContinuation) Name() string { return "trend_continuation" }

func (TrendContinuation) Evaluate(v MarketView) (Candidate, bool) {
	snaps := v.Snapshots(1)
	candles := v.Candles(1)
	if len(snaps) < 1 || len(candles) < 1 {
		return Candidate{}, false
	}
	s := snaps[0]
	if !s.RSI.OK || !s.RSISignal.OK {
		return Candidate{}, false
	}
	prev, spot := candles[0], v.IndexPrice()
	switch v.Trend() {
	case models.TrendBullish:
		if spot > prev.High && s.RSI.Value > s.RSISignal.Value {
			return Candidate{Side: models.Call, Reason: "Trend_Continuation_CE_Breakout", Kind: models.TrendFollowing}, true
		}
	case models.TrendBearish:
		if spot < prev.Low && s.RSI.Value < s.RSISignal.Value {
			return Candidate{Side: models.Put, Reason: "Trend_Continuation_PE_Breakout", Kind: models.TrendFollowing}, true
		}
	}
	return Candidate{}, false
}

// CounterTrend waits for a reversal pattern after an established trend and
// enters against it once the live minute breaks the pattern's extreme.
type CounterTrend struct {
	MinTrendAge int
	DojiTol     float64
}

func (CounterTrend) Name() string { return "counter_trend" }

func (s CounterTrend) Evaluate(v MarketView) (Candidate, bool) {
	favored, ok := v.Trend().Favors()
	if !ok || v.TrendAge() < s.MinTrendAge {
		return Candidate{}, false
	}
	candles := v.Candles(2)
	if len(candles) < 2 {
		return Candidate{}, false
	}
	prev, last := candles[0], candles[1]
	pattern := indicator.ReversalAgainst(favored, prev, last)
	if pattern == "" && indicator.Doji(last, s.DojiTol) {
		pattern = "Doji"
	}
	if pattern == "" {
		return Candidate{}, false
	}

	spot := v.IndexPrice()
	side := favored.Opposite()
	if side == models.Put && spot >= last.Low {
		return Candidate{}, false
	}
	if side == models.Call && spot <= last.High {
		return Candidate{}, false
	}
	return Candidate{Side: side, Reason: "Reversal_" + pattern + "_" + sideSuffix(side), Kind: models.Reversal}, true
}
