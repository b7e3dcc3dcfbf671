package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OptionPilot/internal/domain/models"
	domrepo "OptionPilot/internal/domain/repository"
	pkgkafka "OptionPilot/pkg/kafka"
	"OptionPilot/pkg/util"
)

// TickIngester accepts ticks into the engine.
type TickIngester interface {
	Ingest(t models.Tick) error
}

// KafkaTicksHandler consumes ticks published to Kafka by an upstream
// market-data gateway and feeds them to the engine.
type KafkaTicksHandler struct {
	topic   string
	sink    TickIngester
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, sink TickIngester, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {instrument_id, price, ts}; ts is unix ms,
// unix seconds or RFC3339.
func (h *KafkaTicksHandler) Handle(_ context.Context, b []byte) error {
	var m struct {
		InstrumentID json.RawMessage `json:"instrument_id"`
		Price        float64         `json:"price"`
		TS           json.RawMessage `json:"ts"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	id := rawString(m.InstrumentID)
	ts, ok := util.ParseTime(rawString(m.TS))
	if !ok {
		h.metrics.RecordError("consumer_timestamp")
		return fmt.Errorf("tick %s: bad timestamp %s", id, m.TS)
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	return h.sink.Ingest(models.Tick{
		InstrumentID: id,
		Price:        m.Price,
		Timestamp:    ts,
	})
}

// rawString accepts both quoted and bare JSON scalars.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
