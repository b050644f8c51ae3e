// Package auth validates API keys against PostgreSQL with a Redis
// read-through cache and enforces per-key check quotas.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/mailward/email-verifier/internal/lock"
	"github.com/mailward/email-verifier/internal/logger"
)

// KeyType distinguishes billing models for API keys
type KeyType string

const (
	KeyTypePayAsYouGo KeyType = "pay_as_you_go"
	KeyTypeMonthly    KeyType = "monthly"

	keyCacheTTL = 5 * time.Minute
)

// APIKey holds authentication details and usage counters for one key
type APIKey struct {
	Key           string
	Type          KeyType
	UsedChecks    int
	Remaining     int
	ExpiresAt     time.Time
	InitialChecks int
}

// Service authenticates API keys and tracks quota consumption
type Service struct {
	db          *sqlx.DB
	redis       redis.UniversalClient
	clusterMode bool
}

// NewService creates an authentication service over the given stores
func NewService(db *sqlx.DB, redisClient redis.UniversalClient, clusterMode bool) *Service {
	return &Service{
		db:          db,
		redis:       redisClient,
		clusterMode: clusterMode,
	}
}

// ValidateKey verifies the key exists, has not expired and still has quota.
// Cache hits skip the database entirely.
func (s *Service) ValidateKey(ctx context.Context, apiKey string) (*APIKey, error) {
	if cached, err := s.getFromCache(ctx, apiKey); err == nil && cached != nil {
		return cached, nil
	}

	key, err := s.getFromDB(ctx, apiKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invalid api key")
		}
		return nil, fmt.Errorf("database error: %v", err)
	}

	if time.Now().After(key.ExpiresAt) {
		return nil, fmt.Errorf("api key expired")
	}
	if key.Remaining <= 0 {
		return nil, fmt.Errorf("quota exhausted")
	}

	if err := s.cacheKey(ctx, key); err != nil {
		logger.Logf("[Auth] Failed to cache key: %v", err)
	}
	return key, nil
}

// DecrementQuota consumes count checks from the key's remaining quota
func (s *Service) DecrementQuota(ctx context.Context, apiKey string, count int) error {
	if s.clusterMode {
		return s.decrementWithLock(ctx, apiKey, count)
	}
	return s.decrementInTransaction(ctx, apiKey, count)
}

// decrementInTransaction updates quota atomically in a local transaction
func (s *Service) decrementInTransaction(ctx context.Context, apiKey string, count int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var newRemaining int
	err = tx.QueryRowContext(ctx, `
        UPDATE api_keys
        SET used_checks = used_checks + $1,
            remaining_checks = remaining_checks - $1
        WHERE api_key = $2
        RETURNING remaining_checks`,
		count, apiKey,
	).Scan(&newRemaining)
	if err != nil {
		return fmt.Errorf("update failed: %v", err)
	}

	if newRemaining < 0 {
		return fmt.Errorf("quota exceeded")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %v", err)
	}

	// Keep the cache fresh so the next ValidateKey sees the new balance
	if key, err := s.getFromDB(ctx, apiKey); err == nil {
		_ = s.cacheKey(ctx, key)
	}
	return nil
}

// decrementWithLock serializes cluster-wide updates through a distributed
// lock, applies the decrement in Redis atomically and syncs PostgreSQL after.
func (s *Service) decrementWithLock(ctx context.Context, apiKey string, count int) error {
	keyLock := lock.NewLock(s.redis, "lock:apikey:"+apiKey, 10*time.Second, true)
	if !keyLock.Acquire(ctx) {
		return fmt.Errorf("failed to acquire lock")
	}
	defer keyLock.Release(ctx)

	script := `
        local key = KEYS[1]
        local count = tonumber(ARGV[1])
        local remaining = tonumber(redis.call('HGET', key, 'remaining'))

        if not remaining or remaining < count then
            return {err='not enough quota'}
        end

        redis.call('HINCRBY', key, 'used_checks', count)
        redis.call('HINCRBY', key, 'remaining', -count)
        redis.call('EXPIRE', key, ARGV[2])
        return redis.call('HGETALL', key)
    `
	if _, err := s.redis.Eval(ctx, script, []string{"apikey:" + apiKey}, count, int(keyCacheTTL.Seconds())).Result(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
        UPDATE api_keys
        SET used_checks = used_checks + $1,
            remaining_checks = remaining_checks - $1
        WHERE api_key = $2`,
		count, apiKey,
	)
	return err
}

// getFromCache reads key details from the Redis hash. Without Redis every
// lookup falls through to PostgreSQL.
func (s *Service) getFromCache(ctx context.Context, key string) (*APIKey, error) {
	if s.redis == nil {
		return nil, nil
	}
	data, err := s.redis.HGetAll(ctx, "apikey:"+key).Result()
	if err != nil || len(data) == 0 {
		return nil, err
	}

	expiresAt, _ := time.Parse(time.RFC3339, data["expires_at"])
	return &APIKey{
		Key:           key,
		Type:          KeyType(data["type"]),
		UsedChecks:    parseInt(data["used_checks"]),
		Remaining:     parseInt(data["remaining"]),
		ExpiresAt:     expiresAt,
		InitialChecks: parseInt(data["initial_checks"]),
	}, nil
}

// cacheKey stores key details as a Redis hash with a short TTL. No-op
// without Redis.
func (s *Service) cacheKey(ctx context.Context, key *APIKey) error {
	if s.redis == nil {
		return nil
	}
	fields := map[string]interface{}{
		"type":           string(key.Type),
		"used_checks":    key.UsedChecks,
		"remaining":      key.Remaining,
		"expires_at":     key.ExpiresAt.Format(time.RFC3339),
		"initial_checks": key.InitialChecks,
	}
	if err := s.redis.HSet(ctx, "apikey:"+key.Key, fields).Err(); err != nil {
		return err
	}
	return s.redis.Expire(ctx, "apikey:"+key.Key, keyCacheTTL).Err()
}

// getFromDB loads key details from PostgreSQL
func (s *Service) getFromDB(ctx context.Context, apiKey string) (*APIKey, error) {
	var row struct {
		Key           string    `db:"api_key"`
		Type          string    `db:"key_type"`
		UsedChecks    int       `db:"used_checks"`
		Remaining     int       `db:"remaining_checks"`
		ExpiresAt     time.Time `db:"expires_at"`
		InitialChecks int       `db:"initial_checks"`
	}

	err := s.db.GetContext(ctx, &row, `
		SELECT api_key, key_type, used_checks, remaining_checks, expires_at, initial_checks
		FROM api_keys
		WHERE api_key = $1`, apiKey)
	if err != nil {
		return nil, err
	}

	return &APIKey{
		Key:           row.Key,
		Type:          KeyType(row.Type),
		UsedChecks:    row.UsedChecks,
		Remaining:     row.Remaining,
		ExpiresAt:     row.ExpiresAt,
		InitialChecks: row.InitialChecks,
	}, nil
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
