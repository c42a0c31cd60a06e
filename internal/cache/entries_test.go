package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(spend float64, attempt uint64, started time.Time) *models.CacheEntry {
	return &models.CacheEntry{
		ClientID:    "acme",
		Platform:    models.PlatformMeta,
		PeriodID:    "weekly:2026-10-12",
		Data:        models.PeriodSummary{TotalSpend: spend},
		LastUpdated: started.Add(time.Second),
		Attempt:     attempt,
		StartedAt:   started,
	}
}

func testEntryStore(t *testing.T, s EntryStore, key string) {
	ctx := context.Background()
	t0 := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, models.ErrNotFound)

	ok, err := s.Commit(ctx, key, entry(1, 1, t0))
	require.NoError(t, err)
	assert.True(t, ok)

	// a later fetch wins
	ok, err = s.Commit(ctx, key, entry(2, 2, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)

	// a slower, earlier fetch committing late is rejected
	ok, err = s.Commit(ctx, key, entry(3, 1, t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Data.TotalSpend)
	assert.Equal(t, uint64(2), got.Attempt)

	n, err := s.Prune(ctx, func(e *models.CacheEntry) bool { return e.PeriodID != "weekly:2026-10-12" })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryEntryStore(t *testing.T) {
	testEntryStore(t, NewMemoryEntryStore(), "acme:meta:weekly:2026-10-12")
}

func TestMemoryEntryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntryStore()
	e := entry(1, 1, time.Now())
	e.Data.CampaignData = []models.CampaignInsight{{CampaignID: "c1"}}
	_, err := s.Commit(ctx, "k", e)
	require.NoError(t, err)

	e.Data.CampaignData[0].CampaignID = "mutated"
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Data.CampaignData[0].CampaignID)
}

func TestSupersedes(t *testing.T) {
	t0 := time.Now()
	assert.False(t, supersedes(nil, entry(0, 1, t0)))
	assert.True(t, supersedes(entry(0, 1, t0.Add(time.Second)), entry(0, 2, t0)))
	assert.True(t, supersedes(entry(0, 3, t0), entry(0, 2, t0)))
	assert.False(t, supersedes(entry(0, 2, t0), entry(0, 2, t0)))
}

func redisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("INSIGHTS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INSIGHTS_TEST_REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, c.Ping(context.Background()).Err())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisEntryStore(t *testing.T) {
	c := redisClient(t)
	key := "test-" + time.Now().Format("150405.000000") + ":meta:weekly:2026-10-12"
	t.Cleanup(func() { c.Del(context.Background(), entryPrefix+key) })

	testEntryStore(t, NewRedisEntryStore(c, time.Hour), key)
}

func TestRedisClaimer(t *testing.T) {
	c := redisClient(t)
	ctx := context.Background()
	cl := NewRedisClaimer(c)
	key := "test-claim-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { c.Del(ctx, claimPrefix+key) })

	token, ok, err := cl.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cl.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign token does not release the claim
	require.NoError(t, cl.Release(ctx, key, "someone-else"))
	_, ok, err = cl.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cl.Release(ctx, key, token))
	_, ok, err = cl.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
