package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/pkg/types"
)

// Redis key for the shared task queue
const taskQueueKey = "email_verifier:tasks"

// RedisStorage implements Storage on Redis for clustered deployments
type RedisStorage struct {
	client redis.UniversalClient
	cache  cache.Provider
}

// NewRedisStorage creates a Redis-backed store with a Redis result cache
func NewRedisStorage(client redis.UniversalClient) *RedisStorage {
	return &RedisStorage{
		client: client,
		cache:  cache.NewRedisCache(client),
	}
}

// GetCacheProvider returns the Redis cache backing this storage
func (r *RedisStorage) GetCacheProvider() cache.Provider {
	return r.cache
}

// EnqueueTask adds a task to the shared processing queue (LPUSH)
func (r *RedisStorage) EnqueueTask(task *types.Task) error {
	data, _ := json.Marshal(task)
	return r.client.LPush(context.Background(), taskQueueKey, data).Err()
}

// DequeueTask blocks until a task is available (BRPOP)
func (r *RedisStorage) DequeueTask() (*types.Task, error) {
	result, err := r.client.BRPop(context.Background(), 0, taskQueueKey).Result()
	if err != nil {
		return nil, err
	}

	var task types.Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SaveTask stores a task with a 24-hour expiration
func (r *RedisStorage) SaveTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "task:"+task.ID, data, 24*time.Hour).Err()
}

// GetTask retrieves a task by ID
func (r *RedisStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	data, err := r.client.Get(ctx, "task:"+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("task not found")
	} else if err != nil {
		return nil, err
	}

	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask overwrites an existing task
func (r *RedisStorage) UpdateTask(ctx context.Context, task *types.Task) error {
	return r.SaveTask(ctx, task)
}
