package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	applogger "OptionPilot/pkg/logger"
)

// KafkaEventPublisher forwards engine events to Kafka for downstream
// consumers. It also carries aggregated error logs for the log collector.
type KafkaEventPublisher struct {
	producer    MessagePublisher
	eventTopic  string
	statusTopic string
	timeout     time.Duration
	l           *applogger.Logger
}

func NewKafkaEventPublisher(producer MessagePublisher, eventTopic, statusTopic string, l *applogger.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer:    producer,
		eventTopic:  eventTopic,
		statusTopic: statusTopic,
		timeout:     2 * time.Second,
		l:           l,
	}
}

func (p *KafkaEventPublisher) PublishEvent(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.producer.Publish(ctx, p.eventTopic, []byte(e.Type), e); err != nil {
		p.l.Warn("publish event failed",
			applogger.String("type", string(e.Type)),
			applogger.Error(err))
	}
}

// PublishStatus is a no-op unless a status topic is configured.
func (p *KafkaEventPublisher) PublishStatus(s models.StatusSnapshot) {
	if p.statusTopic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.producer.Publish(ctx, p.statusTopic, []byte(s.Underlying), s); err != nil {
		p.l.Debug("publish status failed", applogger.Error(err))
	}
}

// PublishMessage implements logger.Publisher.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

var (
	_ repository.Notifier = (*KafkaEventPublisher)(nil)
	_ applogger.Publisher = (*KafkaEventPublisher)(nil)
)
