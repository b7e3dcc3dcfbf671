package indicator

import (
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
)

// TrendListener is called after a closed candle changes the trend state.
type TrendListener func(models.TrendEvent)

// Option configures Engine.
type Option func(*Engine)

// WithParams overrides the indicator lookbacks.
func WithParams(p Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithWindow bounds the number of closed candles kept.
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithLocation sets the exchange timezone used to detect a new session.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// Engine folds ticks into minute candles and keeps the indicator set for
// the index. It also tracks live and previous candles plus the session
// open for every other instrument it sees.
type Engine struct {
	mu     sync.RWMutex
	params Params
	window int
	loc    *time.Location
	index  string

	candles []models.Candle
	snaps   []models.IndicatorSnapshot

	live        map[string]*models.Candle
	prev        map[string]models.Candle
	sessionOpen map[string]float64
	sessionDay  string

	trend     models.TrendState
	trendAge  int
	listeners []TrendListener
}

func NewEngine(indexID string, opts ...Option) *Engine {
	e := &Engine{
		params:      DefaultParams(),
		window:      700,
		loc:         time.UTC,
		index:       indexID,
		live:        make(map[string]*models.Candle),
		prev:        make(map[string]models.Candle),
		sessionOpen: make(map[string]float64),
		trend:       models.TrendUnknown,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) IndexID() string { return e.index }

// OnTrendChange registers a listener. Listeners run on the goroutine that
// calls OnMinuteClose.
func (e *Engine) OnTrendChange(fn TrendListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// OnTick folds a price into the instrument's live candle. When the tick
// opens a new minute the just-closed candle is returned with boundary=true.
// Ticks older than the live minute are ignored.
func (e *Engine) OnTick(instrument string, price float64, ts time.Time) (models.Candle, bool) {
	minute := ts.Truncate(time.Minute)

	e.mu.Lock()
	defer e.mu.Unlock()

	if day := ts.In(e.loc).Format(time.DateOnly); day != e.sessionDay {
		e.sessionDay = day
		e.sessionOpen = make(map[string]float64)
	}
	if _, ok := e.sessionOpen[instrument]; !ok {
		e.sessionOpen[instrument] = price
	}

	live, ok := e.live[instrument]
	if !ok {
		c := models.NewCandle(minute, price)
		e.live[instrument] = &c
		return models.Candle{}, false
	}
	switch {
	case minute.After(live.OpenTime):
		closed := *live
		e.prev[instrument] = closed
		next := models.NewCandle(minute, price)
		e.live[instrument] = &next
		return closed, true
	case minute.Equal(live.OpenTime):
		live.Update(price)
	}
	return models.Candle{}, false
}

// OnMinuteClose appends a closed index candle, recomputes the whole window
// and re-derives the trend. It returns the newest snapshot.
func (e *Engine) OnMinuteClose(c models.Candle) models.IndicatorSnapshot {
	e.mu.Lock()
	if n := len(e.candles); n > 0 && !c.OpenTime.After(e.candles[n-1].OpenTime) {
		last := e.snaps[len(e.snaps)-1]
		e.mu.Unlock()
		return last
	}
	e.candles = append(e.candles, c)
	if over := len(e.candles) - e.window; over > 0 {
		e.candles = append(e.candles[:0:0], e.candles[over:]...)
	}
	e.snaps = Compute(e.candles, e.params)
	latest := e.snaps[len(e.snaps)-1]
	ev, changed := e.updateTrend(latest)
	listeners := append([]TrendListener(nil), e.listeners...)
	e.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(ev)
		}
	}
	return latest
}

// Bootstrap seeds the window with historical candles. No trend events are
// emitted for the seed.
func (e *Engine) Bootstrap(candles []models.Candle) {
	if len(candles) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if over := len(candles) - e.window; over > 0 {
		candles = candles[over:]
	}
	e.candles = append([]models.Candle(nil), candles...)
	e.snaps = Compute(e.candles, e.params)
	e.trend, e.trendAge = models.TrendUnknown, 0
	for _, s := range e.snaps {
		e.updateTrend(s)
	}
}

func (e *Engine) updateTrend(s models.IndicatorSnapshot) (models.TrendEvent, bool) {
	if !s.Band.OK {
		if e.trend != models.TrendUnknown {
			e.trendAge++
		}
		return models.TrendEvent{}, false
	}
	next := models.TrendBearish
	if s.Close > s.Band.Value {
		next = models.TrendBullish
	}
	if next == e.trend {
		e.trendAge++
		return models.TrendEvent{}, false
	}
	ev := models.TrendEvent{From: e.trend, To: next, At: s.OpenTime, Close: s.Close}
	e.trend, e.trendAge = next, 1
	return ev, true
}

func (e *Engine) Trend() models.TrendState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trend
}

// TrendAge is the number of closed candles the current trend has held.
func (e *Engine) TrendAge() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trendAge
}

func (e *Engine) CandleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.candles)
}

// LastCandles returns up to n most recent closed index candles, oldest first.
func (e *Engine) LastCandles(n int) []models.Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.candles) || n <= 0 {
		n = len(e.candles)
	}
	return append([]models.Candle(nil), e.candles[len(e.candles)-n:]...)
}

// LastSnapshots returns up to n most recent snapshots, oldest first.
func (e *Engine) LastSnapshots(n int) []models.IndicatorSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.snaps) || n <= 0 {
		n = len(e.snaps)
	}
	return append([]models.IndicatorSnapshot(nil), e.snaps[len(e.snaps)-n:]...)
}

func (e *Engine) Latest() (models.IndicatorSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.snaps) == 0 {
		return models.IndicatorSnapshot{}, false
	}
	return e.snaps[len(e.snaps)-1], true
}

func (e *Engine) LiveCandle(instrument string) (models.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.live[instrument]
	if !ok {
		return models.Candle{}, false
	}
	return *c, true
}

// PrevCandle is the last closed candle seen for an instrument.
func (e *Engine) PrevCandle(instrument string) (models.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.prev[instrument]
	return c, ok
}

func (e *Engine) SessionOpen(instrument string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.sessionOpen[instrument]
	return v, ok
}
