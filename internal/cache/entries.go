package cache

import (
	"context"
	"sync"

	"github.com/radiusdt/insights-cache/internal/models"
)

// EntryStore holds cache entries for still-open periods, keyed by
// models.SummaryKey.String().
type EntryStore interface {
	// Get returns models.ErrNotFound when no entry exists.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)

	// Commit stores e unless an entry from a later fetch is already present.
	// It reports whether e was written.
	Commit(ctx context.Context, key string, e *models.CacheEntry) (bool, error)

	// Prune deletes every entry for which keep returns false and reports how
	// many were removed.
	Prune(ctx context.Context, keep func(*models.CacheEntry) bool) (int, error)
}

// supersedes reports whether existing came from a later fetch than e.
func supersedes(existing, e *models.CacheEntry) bool {
	if existing == nil {
		return false
	}
	if existing.StartedAt.Equal(e.StartedAt) {
		return existing.Attempt > e.Attempt
	}
	return existing.StartedAt.After(e.StartedAt)
}

// MemoryEntryStore is an EntryStore local to the process.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]*models.CacheEntry)}
}

func (s *MemoryEntryStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemoryEntryStore) Commit(ctx context.Context, key string, e *models.CacheEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if supersedes(s.entries[key], e) {
		return false, nil
	}
	s.entries[key] = cloneEntry(e)
	return true, nil
}

func (s *MemoryEntryStore) Prune(ctx context.Context, keep func(*models.CacheEntry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !keep(e) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries.
func (s *MemoryEntryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneEntry(e *models.CacheEntry) *models.CacheEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Data = *e.Data.Clone()
	return &cp
}
