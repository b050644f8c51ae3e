package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedLock provides Redis-based distributed locking. In standalone
// mode it degrades to a no-op so single-instance deployments pay nothing.
type DistributedLock struct {
	client      redis.UniversalClient
	key         string
	token       string
	ttl         time.Duration
	clusterMode bool
}

// NewLock creates a lock instance with a unique ownership token
func NewLock(client redis.UniversalClient, key string, ttl time.Duration, clusterMode bool) *DistributedLock {
	return &DistributedLock{
		client:      client,
		key:         key,
		ttl:         ttl,
		token:       generateToken(),
		clusterMode: clusterMode,
	}
}

// Acquire attempts to take the lock. Always succeeds in standalone mode.
func (dl *DistributedLock) Acquire(ctx context.Context) bool {
	if !dl.clusterMode {
		return true
	}
	return dl.client.SetNX(ctx, dl.key, dl.token, dl.ttl).Val()
}

// Release frees the lock atomically, only if this instance still owns it
func (dl *DistributedLock) Release(ctx context.Context) {
	if !dl.clusterMode {
		return
	}
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	dl.client.Eval(ctx, script, []string{dl.key}, dl.token)
}

// Refresh extends the lock expiration if still held
func (dl *DistributedLock) Refresh(ctx context.Context) bool {
	if !dl.clusterMode {
		return true
	}
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`
	res, err := dl.client.Eval(ctx, script, []string{dl.key}, dl.token, dl.ttl.Milliseconds()).Int()
	return err == nil && res == 1
}

// generateToken returns a random ownership token
func generateToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
