package signal

import (
	"strings"
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/metrics"
)

type fakeView struct {
	now      time.Time
	spot     float64
	trend    models.TrendState
	trendAge int
	snaps    []models.IndicatorSnapshot
	candles  []models.Candle
	live     map[string]models.Candle
	prev     map[string]models.Candle
	open     map[string]float64
	ticks    map[string][]float64
	options  map[models.OptionSide]models.OptionRef
}

func (f *fakeView) Now() time.Time           { return f.now }
func (f *fakeView) IndexID() string          { return "IDX" }
func (f *fakeView) IndexPrice() float64      { return f.spot }
func (f *fakeView) Trend() models.TrendState { return f.trend }
func (f *fakeView) TrendAge() int            { return f.trendAge }
func (f *fakeView) CandleCount() int         { return len(f.candles) }

func (f *fakeView) Snapshots(n int) []models.IndicatorSnapshot {
	if n > len(f.snaps) {
		n = len(f.snaps)
	}
	return f.snaps[len(f.snaps)-n:]
}

func (f *fakeView) Candles(n int) []models.Candle {
	if n > len(f.candles) {
		n = len(f.candles)
	}
	return f.candles[len(f.candles)-n:]
}

func (f *fakeView) LiveCandle(id string) (models.Candle, bool) {
	c, ok := f.live[id]
	return c, ok
}

func (f *fakeView) PrevCandle(id string) (models.Candle, bool) {
	c, ok := f.prev[id]
	return c, ok
}

func (f *fakeView) SessionOpen(id string) (float64, bool) {
	v, ok := f.open[id]
	return v, ok
}

func (f *fakeView) Ticks(id string, n int) []float64 {
	t := f.ticks[id]
	if n > len(t) {
		n = len(t)
	}
	return t[len(t)-n:]
}

func (f *fakeView) LastPrice(id string) (float64, bool) {
	t := f.ticks[id]
	if len(t) == 0 {
		return 0, false
	}
	return t[len(t)-1], true
}

func (f *fakeView) ATMOption(side models.OptionSide) (models.OptionRef, bool) {
	o, ok := f.options[side]
	return o, ok
}

var (
	testCall = models.OptionRef{ID: "CE1", Symbol: "NIFTY25000CE", Strike: 25000, Side: models.Call, LotSize: 75}
	testPut  = models.OptionRef{ID: "PE1", Symbol: "NIFTY25000PE", Strike: 25000, Side: models.Put, LotSize: 75}
)

func testGauntletConfig() GauntletConfig {
	return GauntletConfig{
		RSLookback:        6,
		RSStrictPct:       0.5,
		RSLoosePct:        0.2,
		MaxChasePct:       15,
		MomentumWindow:    5,
		MinRisingFraction: 0.6,
	}
}

// passingView: the ATM call trades 2% above its open, above its prior high,
// with the last three ticks strictly rising and accelerating.
func passingView() *fakeView {
	base := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	return &fakeView{
		now:   base.Add(30 * time.Second),
		spot:  25010,
		trend: models.TrendBullish,
		live:  map[string]models.Candle{"CE1": {OpenTime: base, Open: 100, High: 102, Low: 99.5, Close: 102}},
		prev:  map[string]models.Candle{"CE1": {OpenTime: base.Add(-time.Minute), Open: 99, High: 101, Low: 98.5, Close: 100}},
		open:  map[string]float64{"CE1": 100, "PE1": 90},
		ticks: map[string][]float64{
			"CE1": {99.8, 100, 100.3, 100.7, 101.2, 102},
			"PE1": {90, 89.8, 89.6, 89.5, 89.3, 89.1},
		},
		options: map[models.OptionSide]models.OptionRef{models.Call: testCall, models.Put: testPut},
	}
}

func TestGauntletPasses(t *testing.T) {
	g := NewGauntlet(testGauntletConfig())
	vd := g.Check(passingView(), Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall)
	if !vd.Pass {
		t.Fatalf("expected pass, got %+v", vd)
	}
}

func TestGauntletFailsWhenOnlyTwoOfThreeTicksRise(t *testing.T) {
	v := passingView()
	v.ticks["CE1"] = []float64{99.8, 100, 100.3, 100.2, 101.2, 102}
	g := NewGauntlet(testGauntletConfig())
	vd := g.Check(v, Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall)
	if vd.Pass || vd.Layer != LayerMomentum {
		t.Fatalf("expected momentum failure, got %+v", vd)
	}
}

func TestGauntletRelativeStrengthUsesLooseThresholdForReversals(t *testing.T) {
	v := passingView()
	// call +0.3% vs flat put
	v.ticks["CE1"] = []float64{100, 100.05, 100.1, 100.12, 100.18, 100.3}
	v.ticks["PE1"] = []float64{90, 90, 90, 90, 90, 90}
	g := NewGauntlet(testGauntletConfig())
	if vd := g.relativeStrength(v, Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall); vd.Pass {
		t.Fatalf("strict threshold should reject")
	}
	if vd := g.relativeStrength(v, Candidate{Side: models.Call, Kind: models.Reversal}, testCall); !vd.Pass {
		t.Fatalf("loose threshold should accept, got %+v", vd)
	}
}

func TestGauntletNotesMissingOppositeTicks(t *testing.T) {
	g := NewGauntlet(testGauntletConfig())
	if vd := g.Check(passingView(), Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall); vd.Note != "" {
		t.Fatalf("complete data should carry no note, got %q", vd.Note)
	}

	v := passingView()
	v.ticks["PE1"] = []float64{90}
	vd := g.Check(v, Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall)
	if !vd.Pass || !strings.Contains(vd.Note, testPut.Symbol) {
		t.Fatalf("thin opposite side should pass with a note, got %+v", vd)
	}

	delete(v.options, models.Put)
	if vd := g.relativeStrength(v, Candidate{Side: models.Call, Kind: models.TrendFollowing}, testCall); !vd.Pass || vd.Note == "" {
		t.Fatalf("missing opposite option should be noted, got %+v", vd)
	}
}

func TestGauntletStructureRejectsChase(t *testing.T) {
	v := passingView()
	v.ticks["CE1"] = append(v.ticks["CE1"], 120)
	g := NewGauntlet(testGauntletConfig())
	vd := g.structure(v, testCall)
	if vd.Pass {
		t.Fatalf("expected chase rejection")
	}
}

func coordinatorView() *fakeView {
	v := passingView()
	base := v.now.Truncate(time.Minute)
	for i := 0; i < 25; i++ {
		p := 24900 + float64(i)*4
		c := models.Candle{OpenTime: base.Add(time.Duration(i-25) * time.Minute), Open: p, High: p + 6, Low: p - 2, Close: p + 4}
		v.candles = append(v.candles, c)
		v.snaps = append(v.snaps, models.IndicatorSnapshot{
			OpenTime:  c.OpenTime,
			Close:     c.Close,
			ATR:       models.Defined(8),
			RSI:       models.Defined(65),
			RSISignal: models.Defined(60),
			Band:      models.Defined(c.Close - 10),
			Squeeze:   models.SqueezeOff,
		})
	}
	v.spot = v.candles[len(v.candles)-1].High + 5
	return v
}

func newTestCoordinator(strategies ...Strategy) *Coordinator {
	return NewCoordinator(Config{MinCandles: 20, MinATR: 4, Gauntlet: testGauntletConfig()}, strategies, logger.NewNop(), metrics.Nop{}, nil)
}

func TestCoordinatorProducesTrendContinuationSignal(t *testing.T) {
	c := newTestCoordinator(SqueezeBreakout{}, NewTrendBandFlip(3*time.Minute), TrendContinuation{}, CounterTrend{MinTrendAge: 5, DojiTol: 0.05})
	sig, ok := c.Evaluate(coordinatorView())
	if !ok {
		t.Fatalf("expected a signal")
	}
	if sig.Strategy != "trend_continuation" || sig.Side != models.Call || sig.Instrument.ID != "CE1" {
		t.Fatalf("unexpected signal %+v", sig)
	}
}

func TestCoordinatorPrechecks(t *testing.T) {
	c := newTestCoordinator(TrendContinuation{})
	v := coordinatorView()
	v.candles = v.candles[:10]
	if _, ok := c.Evaluate(v); ok {
		t.Fatalf("expected no signal with too few candles")
	}
	v = coordinatorView()
	v.snaps[len(v.snaps)-1].ATR = models.Defined(2)
	if _, ok := c.Evaluate(v); ok {
		t.Fatalf("expected no signal in a quiet market")
	}
	v = coordinatorView()
	v.snaps[len(v.snaps)-1].ATR = models.Reading{}
	if _, ok := c.Evaluate(v); ok {
		t.Fatalf("undefined atr must not be read as a value")
	}
}

func TestCoordinatorFallsThroughToNextStrategy(t *testing.T) {
	flip := NewTrendBandFlip(3 * time.Minute)
	v := coordinatorView()
	flip.Arm(models.TrendEvent{From: models.TrendBearish, To: models.TrendBullish, At: v.now.Add(-time.Minute), Close: v.spot + 100})
	c := newTestCoordinator(flip, TrendContinuation{})
	sig, ok := c.Evaluate(v)
	if !ok || sig.Strategy != "trend_continuation" {
		t.Fatalf("expected continuation after unconfirmed flip, got %+v ok=%v", sig, ok)
	}
}

func TestBandFlipConsumedAfterSignal(t *testing.T) {
	flip := NewTrendBandFlip(3 * time.Minute)
	v := coordinatorView()
	flip.Arm(models.TrendEvent{From: models.TrendBearish, To: models.TrendBullish, At: v.now.Add(-time.Minute), Close: v.spot - 20})
	c := newTestCoordinator(flip)
	if sig, ok := c.Evaluate(v); !ok || sig.Reason != "Band_Flip_CE" {
		t.Fatalf("expected flip signal, got %+v ok=%v", sig, ok)
	}
	if _, ok := flip.Evaluate(v); ok {
		t.Fatalf("flip must be single use")
	}
}

func TestBandFlipExpires(t *testing.T) {
	flip := NewTrendBandFlip(time.Minute)
	v := coordinatorView()
	flip.Arm(models.TrendEvent{From: models.TrendBearish, To: models.TrendBullish, At: v.now.Add(-5 * time.Minute), Close: v.spot - 20})
	if _, ok := flip.Evaluate(v); ok {
		t.Fatalf("stale flip must not fire")
	}
}

func TestSqueezeBreakout(t *testing.T) {
	v := coordinatorView()
	v.snaps[len(v.snaps)-2].Squeeze = models.SqueezeOn
	cand, ok := SqueezeBreakout{}.Evaluate(v)
	if !ok || cand.Side != models.Call {
		t.Fatalf("expected call breakout, got %+v ok=%v", cand, ok)
	}
}

func TestCounterTrendNeedsBreakOfPatternExtreme(t *testing.T) {
	v := coordinatorView()
	v.trendAge = 6
	n := len(v.candles)
	v.candles[n-2] = models.Candle{OpenTime: v.candles[n-2].OpenTime, Open: 25000, High: 25012, Low: 24998, Close: 25010}
	v.candles[n-1] = models.Candle{OpenTime: v.candles[n-1].OpenTime, Open: 25012, High: 25014, Low: 24990, Close: 24994}
	s := CounterTrend{MinTrendAge: 5, DojiTol: 0.05}

	v.spot = 24995
	if _, ok := s.Evaluate(v); ok {
		t.Fatalf("pattern without break must not fire")
	}
	v.spot = 24985
	cand, ok := s.Evaluate(v)
	if !ok || cand.Side != models.Put || cand.Kind != models.Reversal || cand.Reason != "Reversal_Bearish_Engulfing_PE" {
		t.Fatalf("unexpected candidate %+v ok=%v", cand, ok)
	}
	v.trendAge = 2
	if _, ok := s.Evaluate(v); ok {
		t.Fatalf("young trend must not produce reversal")
	}
}
