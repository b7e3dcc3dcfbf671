package middleware

import (
	"fmt"
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	domrepo "OptionPilot/internal/domain/repository"
)

// Sink accepts ticks without blocking. It reports false when the tick was
// dropped.
type Sink interface {
	Enqueue(t models.Tick) bool
}

// TickPipeline sits between tick sources (websocket feed, Kafka) and the
// engine. It validates, drops out-of-order ticks and throttles each
// instrument before handing ticks to the sink.
type TickPipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	maxRPS  int
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-instrument last accepted arrival
	lastTS   map[string]time.Time // per-instrument last accepted exchange time
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per second per instrument. Zero disables
// the throttle.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *TickPipeline) { p.now = now }
}

func NewTickPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   50,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
		lastTS:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, orders and throttles a tick, then forwards it.
// Throttled ticks are dropped silently; invalid ones return an error.
func (p *TickPipeline) Process(t models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	p.mu.Lock()
	if last, ok := p.lastTS[t.InstrumentID]; ok && t.Timestamp.Before(last) {
		p.mu.Unlock()
		p.metrics.RecordTickDropped("out_of_order")
		return nil
	}
	if !p.allow(t.InstrumentID, p.now()) {
		p.mu.Unlock()
		p.metrics.RecordTickDropped("throttle")
		return nil
	}
	p.lastTS[t.InstrumentID] = t.Timestamp
	p.mu.Unlock()

	p.metrics.RecordTick(t.InstrumentID, t.Price)
	if !p.sink.Enqueue(t) {
		return fmt.Errorf("pipeline downstream full")
	}
	return nil
}

func validateTick(t models.Tick) error {
	if t.InstrumentID == "" {
		return fmt.Errorf("instrument empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if t.Price <= 0 {
		return fmt.Errorf("non-positive price %v", t.Price)
	}
	return nil
}

func (p *TickPipeline) allow(id string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	last := p.lastSeen[id]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[id] = now
	return true
}
