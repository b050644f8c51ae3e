package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/pkg/types"
)

func newMemoryStore(t *testing.T) *MemoryStorage {
	t.Helper()
	provider := cache.NewInMemoryCache()
	t.Cleanup(provider.Close)
	return NewMemoryStorage(provider)
}

func TestSaveAndGetTask(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "t1", Status: "pending", Emails: []string{"a@x.com"}, CreatedAt: time.Now()}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = store.GetTask(ctx, "missing")
	assert.Error(t, err)
}

func TestUpdateTask(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "t1", Status: "pending"}
	require.NoError(t, store.SaveTask(ctx, task))

	task.Status = "completed"
	task.Results = []types.Report{{Email: "a@x.com", Valid: true}}
	require.NoError(t, store.UpdateTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Len(t, got.Results, 1)
}

func TestQueueFIFO(t *testing.T) {
	store := newMemoryStore(t)

	require.NoError(t, store.EnqueueTask(&types.Task{ID: "first"}))
	require.NoError(t, store.EnqueueTask(&types.Task{ID: "second"}))

	task, err := store.DequeueTask()
	require.NoError(t, err)
	assert.Equal(t, "first", task.ID)

	task, err = store.DequeueTask()
	require.NoError(t, err)
	assert.Equal(t, "second", task.ID)

	_, err = store.DequeueTask()
	assert.Error(t, err, "an empty queue reports an error instead of blocking")
}

func TestGetCacheProvider(t *testing.T) {
	provider := cache.NewInMemoryCache()
	defer provider.Close()
	store := NewMemoryStorage(provider)
	assert.Equal(t, provider, store.GetCacheProvider())
}
