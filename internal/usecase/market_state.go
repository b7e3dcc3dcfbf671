package usecase

import (
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/service/indicator"
	"OptionPilot/internal/service/signal"
)

// MarketState is the engine's view of the market: last prices, a short
// tick history per instrument, and the indicator engine's candles.
// The router writes it; strategies, the paper broker and the API read it.
type MarketState struct {
	engine *indicator.Engine
	chain  *OptionChain
	depth  int
	now    func() time.Time

	mu    sync.RWMutex
	last  map[string]float64
	ticks map[string][]float64
	at    map[string]time.Time
}

func NewMarketState(engine *indicator.Engine, chain *OptionChain, depth int) *MarketState {
	if depth <= 0 {
		depth = 64
	}
	return &MarketState{
		engine: engine,
		chain:  chain,
		depth:  depth,
		now:    time.Now,
		last:   make(map[string]float64),
		ticks:  make(map[string][]float64),
		at:     make(map[string]time.Time),
	}
}

// Record stores a tick's price.
func (s *MarketState) Record(t models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[t.InstrumentID] = t.Price
	s.at[t.InstrumentID] = t.Timestamp
	buf := s.ticks[t.InstrumentID]
	if len(buf) == s.depth {
		copy(buf, buf[1:])
		buf[len(buf)-1] = t.Price
	} else {
		buf = append(buf, t.Price)
	}
	s.ticks[t.InstrumentID] = buf
}

func (s *MarketState) Now() time.Time { return s.now() }

func (s *MarketState) IndexID() string { return s.engine.IndexID() }

func (s *MarketState) IndexPrice() float64 {
	p, _ := s.LastPrice(s.engine.IndexID())
	return p
}

func (s *MarketState) Trend() models.TrendState { return s.engine.Trend() }

func (s *MarketState) TrendAge() int { return s.engine.TrendAge() }

func (s *MarketState) CandleCount() int { return s.engine.CandleCount() }

func (s *MarketState) Snapshots(n int) []models.IndicatorSnapshot { return s.engine.LastSnapshots(n) }

func (s *MarketState) Candles(n int) []models.Candle { return s.engine.LastCandles(n) }

func (s *MarketState) LiveCandle(id string) (models.Candle, bool) { return s.engine.LiveCandle(id) }

func (s *MarketState) PrevCandle(id string) (models.Candle, bool) { return s.engine.PrevCandle(id) }

func (s *MarketState) SessionOpen(id string) (float64, bool) { return s.engine.SessionOpen(id) }

func (s *MarketState) Ticks(id string, n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[id]
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]float64, n)
	copy(out, buf[len(buf)-n:])
	return out
}

func (s *MarketState) LastPrice(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.last[id]
	return p, ok
}

// LastTickAt is the exchange timestamp of the instrument's latest tick.
func (s *MarketState) LastTickAt(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.at[id]
	return t, ok
}

func (s *MarketState) ATMOption(side models.OptionSide) (models.OptionRef, bool) {
	if s.chain == nil {
		return models.OptionRef{}, false
	}
	return s.chain.ATM(side, s.IndexPrice())
}

var _ signal.MarketView = (*MarketState)(nil)
