package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	entryPrefix = "insights:cache:"
	claimPrefix = "insights:claim:"

	// commitRetries bounds optimistic-lock retries when another replica
	// writes the same key between WATCH and EXEC.
	commitRetries = 3
)

// RedisEntryStore shares cache entries between replicas.
type RedisEntryStore struct {
	client redis.UniversalClient
	expiry time.Duration
}

// NewRedisEntryStore stores entries with the given expiry; orphaned periods
// age out even when pruning never runs.
func NewRedisEntryStore(client redis.UniversalClient, expiry time.Duration) *RedisEntryStore {
	return &RedisEntryStore{client: client, expiry: expiry}
}

func (s *RedisEntryStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, entryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}

// Commit writes e in a WATCH transaction so a slower fetch never overwrites
// the result of one that started later.
func (s *RedisEntryStore) Commit(ctx context.Context, key string, e *models.CacheEntry) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	k := entryPrefix + key

	for i := 0; i < commitRetries; i++ {
		written := false
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, k).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var existing models.CacheEntry
				if json.Unmarshal(cur, &existing) == nil && supersedes(&existing, e) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, payload, s.expiry)
				return nil
			})
			if err == nil {
				written = true
			}
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to commit cache entry: %w", err)
		}
		return written, nil
	}
	return false, fmt.Errorf("failed to commit cache entry: %w", models.ErrWriteConflict)
}

func (s *RedisEntryStore) Prune(ctx context.Context, keep func(*models.CacheEntry) bool) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, entryPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read cache entry %s: %w", k, err)
		}
		var e models.CacheEntry
		if json.Unmarshal(data, &e) == nil && keep(&e) {
			continue
		}
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry %s: %w", k, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache entries: %w", err)
	}
	return removed, nil
}

// Claimer arbitrates which replica refreshes a key.
type Claimer interface {
	// Claim reports ok=false when another holder owns key. The token must be
	// passed back to Release.
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// LocalClaimer always grants the claim. It is used for single-replica
// deployments where the router's in-process state already serializes fetches.
type LocalClaimer struct{}

func (LocalClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", true, nil
}

func (LocalClaimer) Release(ctx context.Context, key, token string) error { return nil }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer implements Claimer with SET NX PX and a compare-and-delete release.
type RedisClaimer struct {
	client redis.UniversalClient
}

func NewRedisClaimer(client redis.UniversalClient) *RedisClaimer {
	return &RedisClaimer{client: client}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, claimPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return token, ok, nil
}

// Release deletes the claim only if it still holds token, so an expired
// claim re-acquired by another replica is left alone.
func (c *RedisClaimer) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{claimPrefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release claim %s: %w", key, err)
	}
	return nil
}
