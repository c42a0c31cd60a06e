package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func summary() *models.PeriodSummary {
	return &models.PeriodSummary{
		ClientID:    "hotel-sol",
		Platform:    models.PlatformMeta,
		SummaryType: models.SummaryMonthly,
		SummaryDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		TotalSpend:  812.4,
	}
}

func TestPublishSummaryUpdated(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, EventSummaryUpdated, nil, zap.NewNop())
	fixed := time.Date(2026, 10, 1, 3, 45, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.PublishSummaryUpdated(context.Background(), summary()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "hotel-sol:meta:monthly:2026-09-01", string(msg.Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, EventSummaryUpdated, env.EventType)
	assert.Equal(t, fixed, env.OccurredAt)
	assert.Equal(t, 812.4, env.Data.TotalSpend)
	_, err := uuid.Parse(env.EventID)
	assert.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishSummaryUpdatedWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := newKafkaPublisher(&fakeWriter{err: boom}, EventSummaryUpdated, nil, nil)
	err := p.PublishSummaryUpdated(context.Background(), summary())
	require.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "", nil, nil)
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishSummaryUpdated(context.Background(), summary()))
}
