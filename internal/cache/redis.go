package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/pkg/types"
)

// RedisCache implements Provider on top of Redis. It backs the orchestrator's
// full-result cache in server mode, so values are serialized Reports.
type RedisCache struct {
	client     redis.UniversalClient
	defaultTTL time.Duration
}

// NewRedisCache creates a Redis-backed cache with a 5 minute default TTL
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, defaultTTL: 5 * time.Minute}
}

// Get retrieves a cached Report by key.
// Returns (value, true) on success or (nil, false) for missing/invalid entries.
func (r *RedisCache) Get(key string) (interface{}, bool) {
	ctx := context.Background()
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	var report types.Report
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false
	}
	return report, true
}

// Has reports key presence without deserializing the value
func (r *RedisCache) Has(key string) bool {
	n, err := r.client.Exists(context.Background(), key).Result()
	return err == nil && n > 0
}

// Set stores a value with JSON serialization and the given TTL.
// Best-effort: marshaling/insertion errors are ignored.
func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	data, _ := json.Marshal(value)
	r.client.Set(context.Background(), key, data, ttl)
}

// Delete removes a key, returning true if it existed
func (r *RedisCache) Delete(key string) bool {
	n, err := r.client.Del(context.Background(), key).Result()
	return err == nil && n > 0
}

// Clear flushes the whole database backing this cache
func (r *RedisCache) Clear() {
	logger.Log("Flushing Redis cache")
	r.client.FlushDB(context.Background())
}

// Size returns the number of keys in the database
func (r *RedisCache) Size() int {
	size, _ := r.client.DBSize(context.Background()).Result()
	return int(size)
}
