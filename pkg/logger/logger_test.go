package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestFieldsAreWrittenAsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")
	l.Info("order placed",
		String("symbol", "NIFTY24O1025000CE"),
		Int("qty", 75),
		Float64("price", 101.05),
		Bool("paper", true),
		Duration("took", 80*time.Millisecond),
		Error(errors.New("boom")))

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got["symbol"] != "NIFTY24O1025000CE" || got["qty"] != float64(75) || got["paper"] != true || got["error"] != "boom" {
		t.Fatalf("fields: %v", got)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")
	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output: %s", buf.String())
	}
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 5; i++ {
		l.Error("journal write failed", String("sink", "clickhouse"))
	}
	l.Warn("feed reconnecting")
	l.Info("not collected")
	l.RemoveCollector()

	if len(pub.batches) != 1 || pub.topic != "logs" {
		t.Fatalf("batches=%d topic=%q", len(pub.batches), pub.topic)
	}
	batch := pub.batches[0]
	if len(batch) != 2 {
		t.Fatalf("want 2 distinct entries, got %+v", batch)
	}
	if batch[0].Message != "journal write failed" || batch[0].Count != 5 || batch[0].Level != "error" {
		t.Fatalf("first entry: %+v", batch[0])
	}
	if !strings.Contains(batch[0].Caller, "logger_test.go") {
		t.Fatalf("caller: %q", batch[0].Caller)
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.Add("error", "a", nil, "x.go:1")
	c.Add("error", "b", nil, "x.go:2")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.batches)
		pub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("threshold did not trigger a flush")
}
