package indicator

import (
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
)

func TestOnTickCandleInvariant(t *testing.T) {
	e := NewEngine("IDX")
	base := time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)
	prices := []float64{100, 103, 98, 101}
	for i, p := range prices {
		if _, boundary := e.OnTick("IDX", p, base.Add(time.Duration(i)*time.Second)); boundary {
			t.Fatalf("unexpected boundary inside the minute")
		}
	}
	live, ok := e.LiveCandle("IDX")
	if !ok {
		t.Fatalf("expected live candle")
	}
	if live.Open != 100 || live.High != 103 || live.Low != 98 || live.Close != 101 {
		t.Fatalf("unexpected candle %+v", live)
	}

	closed, boundary := e.OnTick("IDX", 102, base.Add(time.Minute+time.Second))
	if !boundary {
		t.Fatalf("expected boundary on next minute")
	}
	if closed.High < closed.Open || closed.High < closed.Close || closed.Low > closed.Open || closed.Low > closed.Close {
		t.Fatalf("candle invariant broken: %+v", closed)
	}
	if prev, _ := e.PrevCandle("IDX"); prev != closed {
		t.Fatalf("prev candle not tracked")
	}
}

func TestOnTickIgnoresLateTicks(t *testing.T) {
	e := NewEngine("IDX")
	base := time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)
	e.OnTick("IDX", 100, base.Add(time.Minute))
	if _, boundary := e.OnTick("IDX", 50, base); boundary {
		t.Fatalf("late tick must not close a candle")
	}
	live, _ := e.LiveCandle("IDX")
	if live.Low != 100 {
		t.Fatalf("late tick leaked into live candle: %+v", live)
	}
}

func TestSessionOpenResetsOnNewDay(t *testing.T) {
	e := NewEngine("IDX")
	day1 := time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)
	e.OnTick("OPT", 80, day1)
	e.OnTick("OPT", 90, day1.Add(time.Minute))
	if v, _ := e.SessionOpen("OPT"); v != 80 {
		t.Fatalf("session open=%v", v)
	}
	e.OnTick("OPT", 70, day1.Add(24*time.Hour))
	if v, _ := e.SessionOpen("OPT"); v != 70 {
		t.Fatalf("session open not reset, got %v", v)
	}
}

func TestTrendChangesAndEmitsEvent(t *testing.T) {
	e := NewEngine("IDX", WithWindow(50))
	var events []models.TrendEvent
	e.OnTrendChange(func(ev models.TrendEvent) { events = append(events, ev) })

	i := 0
	for ; i < 15; i++ {
		p := 100 + float64(i)
		e.OnMinuteClose(candleAt(i, p, p+1, p-0.5, p+0.8))
	}
	if e.Trend() != models.TrendBullish {
		t.Fatalf("expected bullish, got %s", e.Trend())
	}
	if len(events) != 1 || events[0].From != models.TrendUnknown {
		t.Fatalf("expected one event from unknown, got %+v", events)
	}
	for ; i < 30; i++ {
		p := 115 - float64(i-15)*3
		e.OnMinuteClose(candleAt(i, p, p+0.5, p-1, p-0.8))
	}
	if e.Trend() != models.TrendBearish {
		t.Fatalf("expected bearish, got %s", e.Trend())
	}
	if events[len(events)-1].To != models.TrendBearish {
		t.Fatalf("expected bearish event, got %+v", events)
	}
	if e.CandleCount() != 30 {
		t.Fatalf("candle count=%d", e.CandleCount())
	}
}

func TestTrendHeldWhileBandUndefined(t *testing.T) {
	e := NewEngine("IDX")
	for i := 0; i < 3; i++ {
		e.OnMinuteClose(candleAt(i, 100, 101, 99, 100))
	}
	if e.Trend() != models.TrendUnknown || e.TrendAge() != 0 {
		t.Fatalf("expected unknown trend during warm-up, got %s/%d", e.Trend(), e.TrendAge())
	}
}

func TestWindowIsBounded(t *testing.T) {
	e := NewEngine("IDX", WithWindow(10))
	for i := 0; i < 25; i++ {
		e.OnMinuteClose(candleAt(i, 100, 101, 99, 100))
	}
	if e.CandleCount() != 10 {
		t.Fatalf("window not trimmed: %d", e.CandleCount())
	}
	if got := e.LastCandles(3); len(got) != 3 || !got[2].OpenTime.Equal(candleAt(24, 0, 0, 0, 0).OpenTime) {
		t.Fatalf("unexpected tail %+v", got)
	}
}

func TestBootstrapEmitsNoEvents(t *testing.T) {
	e := NewEngine("IDX")
	fired := false
	e.OnTrendChange(func(models.TrendEvent) { fired = true })
	var seed []models.Candle
	for i := 0; i < 20; i++ {
		p := 100 + float64(i)
		seed = append(seed, candleAt(i, p, p+1, p-0.5, p+0.8))
	}
	e.Bootstrap(seed)
	if fired {
		t.Fatalf("bootstrap must not emit trend events")
	}
	if e.Trend() != models.TrendBullish {
		t.Fatalf("expected bullish after seed, got %s", e.Trend())
	}
}
