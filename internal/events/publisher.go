// Package events publishes period summary notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventSummaryUpdated is emitted after a summary row is durably written.
const EventSummaryUpdated = "period_summary.updated"

// Envelope is the JSON message body.
type Envelope struct {
	EventID    string                `json:"event_id"`
	EventType  string                `json:"event_type"`
	OccurredAt time.Time             `json:"occurred_at"`
	Data       *models.PeriodSummary `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes summary updates keyed by summary key, so every
// update of one period lands on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string, m *metrics.Metrics, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		topic = EventSummaryUpdated
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return newKafkaPublisher(w, topic, m, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, m *metrics.Metrics, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, topic: topic, metrics: m, logger: logger, now: time.Now}
}

func (p *KafkaPublisher) PublishSummaryUpdated(ctx context.Context, s *models.PeriodSummary) error {
	payload, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventSummaryUpdated,
		OccurredAt: p.now().UTC(),
		Data:       s,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal summary event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.Key().String()),
		Value: payload,
		Time:  p.now().UTC(),
	})
	if p.metrics != nil {
		p.metrics.RecordEventPublished(err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish summary event: %w", err)
	}
	p.logger.Debug("published summary event",
		zap.String("topic", p.topic),
		zap.String("key", s.Key().String()),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishSummaryUpdated(ctx context.Context, s *models.PeriodSummary) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
