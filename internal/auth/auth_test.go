package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A server wired with PostgreSQL but no Redis must authenticate straight
// against the database instead of crashing on the cache path.
func TestCacheLookupWithoutRedis(t *testing.T) {
	svc := NewService(nil, nil, false)

	var cached *APIKey
	var err error
	require.NotPanics(t, func() {
		cached, err = svc.getFromCache(context.Background(), "some-key")
	})
	assert.NoError(t, err)
	assert.Nil(t, cached, "no Redis means no cache hit")
}

func TestCacheWriteWithoutRedis(t *testing.T) {
	svc := NewService(nil, nil, false)

	key := &APIKey{
		Key:           "some-key",
		Type:          KeyTypePayAsYouGo,
		Remaining:     100,
		InitialChecks: 100,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	require.NotPanics(t, func() {
		assert.NoError(t, svc.cacheKey(context.Background(), key))
	})
}
