package middleware

import (
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/pkg/metrics"
)

type sliceSink struct {
	got  []models.Tick
	full bool
}

func (s *sliceSink) Enqueue(t models.Tick) bool {
	if s.full {
		return false
	}
	s.got = append(s.got, t)
	return true
}

func TestTickPipelineValidatesAndOrders(t *testing.T) {
	sink := &sliceSink{}
	p := NewTickPipeline(sink, metrics.Nop{}, WithMaxRPS(0))
	base := time.Date(2024, 10, 10, 4, 0, 0, 0, time.UTC)

	if err := p.Process(models.Tick{InstrumentID: "", Price: 1, Timestamp: base}); err == nil {
		t.Fatalf("expected error for empty instrument")
	}
	if err := p.Process(models.Tick{InstrumentID: "1", Price: 0, Timestamp: base}); err == nil {
		t.Fatalf("expected error for zero price")
	}
	if err := p.Process(models.Tick{InstrumentID: "1", Price: 10}); err == nil {
		t.Fatalf("expected error for missing timestamp")
	}

	_ = p.Process(models.Tick{InstrumentID: "1", Price: 10, Timestamp: base.Add(time.Second)})
	_ = p.Process(models.Tick{InstrumentID: "1", Price: 11, Timestamp: base}) // older, dropped
	_ = p.Process(models.Tick{InstrumentID: "1", Price: 12, Timestamp: base.Add(time.Second)})
	_ = p.Process(models.Tick{InstrumentID: "2", Price: 5, Timestamp: base})

	if len(sink.got) != 3 || sink.got[1].Price != 12 || sink.got[2].InstrumentID != "2" {
		t.Fatalf("unexpected forwarded ticks %+v", sink.got)
	}
}

func TestTickPipelineThrottlesPerInstrument(t *testing.T) {
	sink := &sliceSink{}
	now := time.Date(2024, 10, 10, 4, 0, 0, 0, time.UTC)
	p := NewTickPipeline(sink, metrics.Nop{}, WithMaxRPS(10), WithClock(func() time.Time { return now }))

	for i := 0; i < 5; i++ {
		_ = p.Process(models.Tick{InstrumentID: "1", Price: 10, Timestamp: now})
		_ = p.Process(models.Tick{InstrumentID: "2", Price: 10, Timestamp: now})
	}
	if len(sink.got) != 2 {
		t.Fatalf("expected one tick per instrument, got %d", len(sink.got))
	}
	now = now.Add(100 * time.Millisecond)
	_ = p.Process(models.Tick{InstrumentID: "1", Price: 10, Timestamp: now})
	if len(sink.got) != 3 {
		t.Fatalf("expected tick after interval, got %d", len(sink.got))
	}

	sink.full = true
	now = now.Add(time.Second)
	if err := p.Process(models.Tick{InstrumentID: "1", Price: 10, Timestamp: now}); err == nil {
		t.Fatalf("expected downstream error")
	}
}
