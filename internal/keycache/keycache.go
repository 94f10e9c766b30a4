package keycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached provider credential may live before
// the sweep reclaims it regardless of use.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned when no credential is cached for a task.
var ErrNotFound = errors.New("credential not cached")

// Cache holds agent-supplied provider credentials keyed by provider task
// id, solely so post-processing can be auto-started when the generation
// callback lands. Entries are single-use and expire on their own; nothing
// here is a general secrets store.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a credential cache with the default TTL.
func New(redisClient *redis.Client) *Cache {
	return &Cache{redis: redisClient, ttl: DefaultTTL}
}

func (c *Cache) key(taskID string) string {
	return fmt.Sprintf("provkey:task:%s", taskID)
}

// Put caches a credential for one task. The TTL is the safety sweep: even
// an unconsumed credential disappears after it.
func (c *Cache) Put(ctx context.Context, taskID, apiKey string) error {
	if err := c.redis.Set(ctx, c.key(taskID), apiKey, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache provider credential: %w", err)
	}
	return nil
}

// Take returns the cached credential and deletes it in the same call.
// Single use is part of the contract, not an optimization.
func (c *Cache) Take(ctx context.Context, taskID string) (string, error) {
	val, err := c.redis.GetDel(ctx, c.key(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("take provider credential: %w", err)
	}
	return val, nil
}
