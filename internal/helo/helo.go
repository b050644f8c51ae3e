// Package helo manages domain rotation for SMTP HELO commands so repeated
// probes do not present a single static identity.
package helo

import (
	"context"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
)

// Counter produces a monotonically increasing sequence
type Counter interface {
	Next() (uint64, error)
}

// MemoryCounter is an atomic in-process counter
type MemoryCounter struct {
	value uint64
}

// Next atomically increments and returns the counter value
func (c *MemoryCounter) Next() (uint64, error) {
	return atomic.AddUint64(&c.value, 1), nil
}

// RedisCounter coordinates rotation across clustered instances
type RedisCounter struct {
	client redis.UniversalClient
	key    string
}

// Next increments the shared Redis counter atomically
func (c *RedisCounter) Next() (uint64, error) {
	return c.client.Incr(context.Background(), c.key).Uint64()
}

// Rotation hands out HELO domains round-robin
type Rotation struct {
	domains []string
	counter Counter
}

// Default HELO domains used when the caller configures none
var defaultDomains = []string{
	"rover.info",
	"mailto.plus",
	"fexpost.com",
	"chitthi.in",
	"fextemp.com",
	"any.pink",
	"merepost.com",
}

// NewRotation builds a rotation. In cluster mode with a Redis client the
// counter is shared; otherwise it is process-local.
func NewRotation(domains []string, clusterMode bool, redisClient redis.UniversalClient) *Rotation {
	if len(domains) == 0 {
		domains = defaultDomains
	}
	var counter Counter
	if clusterMode && redisClient != nil {
		counter = &RedisCounter{client: redisClient, key: "helo_domain_counter"}
	} else {
		counter = &MemoryCounter{}
	}
	return &Rotation{domains: domains, counter: counter}
}

// Next returns the next rotated domain using modulo distribution
func (r *Rotation) Next() (string, error) {
	n, err := r.counter.Next()
	if err != nil {
		return "", err
	}
	return r.domains[n%uint64(len(r.domains))], nil
}
