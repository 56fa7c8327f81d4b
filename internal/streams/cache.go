package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura-webinar/collab/internal/models"
)

const cacheKeyPrefix = "yt:status:"

// Cache stores the last fetched signal per video id. Writes are
// last-writer-wins.
type Cache interface {
	Get(ctx context.Context, videoID string) (models.StreamSignal, bool, error)
	Set(ctx context.Context, videoID string, s models.StreamSignal) error
}

// RedisCache keeps signals in Redis so every API and worker instance shares them.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisCache creates a Redis-backed cache. Entries expire after retention.
func NewRedisCache(client *redis.Client, retention time.Duration) *RedisCache {
	return &RedisCache{client: client, retention: retention}
}

// Get returns the cached signal for videoID.
func (c *RedisCache) Get(ctx context.Context, videoID string) (models.StreamSignal, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+videoID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.StreamSignal{}, false, nil
	}
	if err != nil {
		return models.StreamSignal{}, false, fmt.Errorf("redis get: %w", err)
	}
	var s models.StreamSignal
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.StreamSignal{}, false, fmt.Errorf("decode cached signal: %w", err)
	}
	return s, true, nil
}

// Set stores s for videoID.
func (c *RedisCache) Set(ctx context.Context, videoID string, s models.StreamSignal) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+videoID, raw, c.retention).Err()
}

// MemoryCache is an in-process Cache for single-instance deployments and tests.
type MemoryCache struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	retention time.Duration
	now       func() time.Time
}

type memoryEntry struct {
	signal   models.StreamSignal
	storedAt time.Time
}

// NewMemoryCache creates an in-process cache. Entries older than retention are
// dropped on write.
func NewMemoryCache(retention time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), retention: retention, now: time.Now}
}

// Get returns the cached signal for videoID.
func (c *MemoryCache) Get(_ context.Context, videoID string) (models.StreamSignal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[videoID]
	if !ok || (c.retention > 0 && c.now().Sub(e.storedAt) > c.retention) {
		return models.StreamSignal{}, false, nil
	}
	return e.signal, true, nil
}

// Set stores s for videoID and prunes expired entries.
func (c *MemoryCache) Set(_ context.Context, videoID string, s models.StreamSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.retention > 0 {
		for id, e := range c.entries {
			if now.Sub(e.storedAt) > c.retention {
				delete(c.entries, id)
			}
		}
	}
	c.entries[videoID] = memoryEntry{signal: s, storedAt: now}
	return nil
}
