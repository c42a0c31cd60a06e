package storage

import (
	"context"
	"sync"

	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
)

// InMemorySummaryStore stores summaries in memory. Values are copied on the
// way in and out so callers never share campaign slices with the store.
type InMemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[models.SummaryKey]*models.PeriodSummary
}

func NewInMemorySummaryStore() *InMemorySummaryStore {
	return &InMemorySummaryStore{
		summaries: make(map[models.SummaryKey]*models.PeriodSummary),
	}
}

func (r *InMemorySummaryStore) Get(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.summaries[normalizeKey(key)]; ok {
		return s.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (r *InMemorySummaryStore) Upsert(ctx context.Context, s *models.PeriodSummary) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[normalizeKey(s.Key())] = s.Clone()
	return nil
}

// Len returns the number of stored summaries.
func (r *InMemorySummaryStore) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.summaries)
}

// normalizeKey strips location and monotonic data so equal dates map to one key.
func normalizeKey(k models.SummaryKey) models.SummaryKey {
	k.SummaryDate = period.Day(k.SummaryDate)
	return k
}
