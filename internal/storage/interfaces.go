package storage

import (
	"context"

	"github.com/radiusdt/insights-cache/internal/models"
)

// =============================================
// SUMMARY STORE
// =============================================

// SummaryStore persists period summaries, one row per models.SummaryKey.
type SummaryStore interface {
	// Get returns models.ErrNotFound when no summary exists for key.
	Get(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error)

	// Upsert writes the full row, replacing any existing one with the same key.
	// Concurrent-write failures wrap models.ErrWriteConflict.
	Upsert(ctx context.Context, s *models.PeriodSummary) error
}

// =============================================
// EVENT PUBLISHING
// =============================================

// Publisher is notified after a summary has been durably written.
type Publisher interface {
	PublishSummaryUpdated(ctx context.Context, s *models.PeriodSummary) error
}
