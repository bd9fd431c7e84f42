package interpreter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

const cacheKeyPrefix = "velund:interpret:"

// Cache stores interpreted queries keyed by their normalized text.
type Cache interface {
	Get(ctx context.Context, key string) (domain.ParsedQuery, bool, error)
	Set(ctx context.Context, key string, q domain.ParsedQuery, ttl time.Duration) error
}

// CacheKey returns the cache key of a query. Queries with the same token
// sequence share a key; symbols such as < and ₽ are part of it because they
// change the interpretation.
func CacheKey(text string) string {
	tokens := Tokenize(text)
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, t.Norm)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, " ")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed interpretation cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached ParsedQuery for key.
func (c *RedisCache) Get(ctx context.Context, key string) (domain.ParsedQuery, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ParsedQuery{}, false, nil
		}
		return domain.ParsedQuery{}, false, fmt.Errorf("redis get interpretation: %w", err)
	}

	var q domain.ParsedQuery
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.ParsedQuery{}, false, fmt.Errorf("unmarshal interpretation: %w", err)
	}
	return q, true, nil
}

// Set stores q under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, q domain.ParsedQuery, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal interpretation: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set interpretation: %w", err)
	}
	return nil
}
