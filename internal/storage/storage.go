package storage

import (
	"context"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/pkg/types"
)

// Storage defines persistence for asynchronous validation tasks
type Storage interface {
	// SaveTask stores a task, overwriting any existing one with the same ID
	SaveTask(ctx context.Context, task *types.Task) error

	// GetTask retrieves a task by its unique identifier
	GetTask(ctx context.Context, id string) (*types.Task, error)

	// UpdateTask overwrites an existing task
	UpdateTask(ctx context.Context, task *types.Task) error

	// GetCacheProvider exposes the cache layer backing this storage
	GetCacheProvider() cache.Provider

	// EnqueueTask adds a task to the processing queue
	EnqueueTask(task *types.Task) error

	// DequeueTask retrieves and removes the next queued task
	DequeueTask() (*types.Task, error)
}
