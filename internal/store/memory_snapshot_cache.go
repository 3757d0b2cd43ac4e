package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// InMemorySnapshotCache implements SnapshotCache using an in-memory map.
// Snapshots are cloned on the way in and out so callers never share state.
type InMemorySnapshotCache struct {
	data    map[string]*cacheItem
	mu      sync.RWMutex
	maxSize int
	logger  *zap.Logger
	stop    chan struct{}
	once    sync.Once
}

type cacheItem struct {
	snapshot  *model.CVRSnapshot
	expiresAt time.Time
}

// NewInMemorySnapshotCache creates a new in-memory snapshot cache
func NewInMemorySnapshotCache(maxSize int, logger *zap.Logger) *InMemorySnapshotCache {
	cache := &InMemorySnapshotCache{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		logger:  logger,
		stop:    make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// Get retrieves a snapshot from cache
func (c *InMemorySnapshotCache) Get(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[groupID]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	return item.snapshot.Clone(), nil
}

// Set stores a snapshot in cache with TTL
func (c *InMemorySnapshotCache) Set(ctx context.Context, snapshot *model.CVRSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[snapshot.ID]; !exists && len(c.data) >= c.maxSize {
		c.evictLocked()
	}

	c.data[snapshot.ID] = &cacheItem{
		snapshot:  snapshot.Clone(),
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// evictLocked removes an expired entry, or the entry closest to expiry
func (c *InMemorySnapshotCache) evictLocked() {
	now := time.Now()
	var (
		victim   string
		earliest time.Time
	)
	for groupID, item := range c.data {
		if now.After(item.expiresAt) {
			delete(c.data, groupID)
			return
		}
		if victim == "" || item.expiresAt.Before(earliest) {
			victim, earliest = groupID, item.expiresAt
		}
	}
	if victim != "" {
		delete(c.data, victim)
	}
}

// Delete removes a snapshot from cache
func (c *InMemorySnapshotCache) Delete(ctx context.Context, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, groupID)
	return nil
}

// Size returns the number of entries in cache
func (c *InMemorySnapshotCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Ping always succeeds
func (c *InMemorySnapshotCache) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine
func (c *InMemorySnapshotCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// cleanup periodically removes expired entries
func (c *InMemorySnapshotCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			removed := 0
			for groupID, item := range c.data {
				if now.After(item.expiresAt) {
					delete(c.data, groupID)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("Removed expired snapshots", zap.Int("count", removed))
			}
		}
	}
}
