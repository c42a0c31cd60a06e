package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/models"
	"go.uber.org/zap"
)

// Gateway is the summary store boundary used by the router and the
// collector: it rounds currency at persistence, retries a conflicting write
// once and publishes an update after every durable write.
type Gateway struct {
	store     SummaryStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewGateway wraps store. publisher and m may be nil.
func NewGateway(store SummaryStore, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the stored summary or models.ErrNotFound. It never reaches an
// ad platform.
func (g *Gateway) Get(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	return g.store.Get(ctx, key)
}

// Upsert persists s (rounded) as a full-row replacement and returns the row
// exactly as written.
func (g *Gateway) Upsert(ctx context.Context, s *models.PeriodSummary) (*models.PeriodSummary, error) {
	row := s.Rounded()
	if row.LastUpdated.IsZero() {
		row.LastUpdated = g.now().UTC()
	}

	err := g.store.Upsert(ctx, row)
	if errors.Is(err, models.ErrWriteConflict) {
		g.logger.Warn("summary write conflict, retrying",
			zap.String("key", row.Key().String()),
			zap.Error(err),
		)
		g.record("retry")
		err = g.store.Upsert(ctx, row)
	}
	if err != nil {
		g.record("error")
		return row, err
	}
	g.record("ok")

	if g.publisher != nil {
		if perr := g.publisher.PublishSummaryUpdated(ctx, row); perr != nil {
			g.logger.Warn("failed to publish summary update",
				zap.String("key", row.Key().String()),
				zap.Error(perr),
			)
		}
	}
	return row, nil
}

func (g *Gateway) record(status string) {
	if g.metrics != nil {
		g.metrics.RecordSummaryWrite(status)
	}
}
