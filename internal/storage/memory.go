package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/pkg/types"
)

// MemoryStorage is the in-process Storage used in standalone mode
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
	queue []*types.Task
	cache cache.Provider
}

// NewMemoryStorage creates an empty in-memory store around the given cache
func NewMemoryStorage(provider cache.Provider) *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[string]*types.Task),
		cache: provider,
	}
}

// GetCacheProvider returns the cache backing this storage
func (m *MemoryStorage) GetCacheProvider() cache.Provider {
	return m.cache
}

// SaveTask stores a task, overwriting any existing task with the same ID
func (m *MemoryStorage) SaveTask(_ context.Context, task *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

// GetTask retrieves a task by ID
func (m *MemoryStorage) GetTask(_ context.Context, id string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, exists := m.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task not found")
	}
	return task, nil
}

// UpdateTask overwrites an existing task
func (m *MemoryStorage) UpdateTask(ctx context.Context, task *types.Task) error {
	return m.SaveTask(ctx, task)
}

// EnqueueTask appends a task to the in-memory queue
func (m *MemoryStorage) EnqueueTask(task *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, task)
	return nil
}

// DequeueTask removes and returns the first queued task
func (m *MemoryStorage) DequeueTask() (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, fmt.Errorf("no tasks in queue")
	}
	task := m.queue[0]
	m.queue = m.queue[1:]
	return task, nil
}
