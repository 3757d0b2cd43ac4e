package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// RedisSnapshotCache implements SnapshotCache for Redis, letting the
// processes that take over a client group reuse each other's snapshots.
type RedisSnapshotCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSnapshotCache creates a new Redis snapshot cache
func NewRedisSnapshotCache(host string, port int, password string, db int, logger *zap.Logger) (*RedisSnapshotCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSnapshotCache{
		client: client,
		prefix: "cvr:snapshot:",
		logger: logger,
	}, nil
}

// Get retrieves a cached snapshot
func (c *RedisSnapshotCache) Get(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	data, err := c.client.Get(ctx, c.prefix+groupID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snapshot model.CVRSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	normalizeSnapshot(&snapshot)
	return &snapshot, nil
}

// Set stores a snapshot with TTL
func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *model.CVRSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return c.client.Set(ctx, c.prefix+snapshot.ID, data, ttl).Err()
}

// Delete removes a cached snapshot
func (c *RedisSnapshotCache) Delete(ctx context.Context, groupID string) error {
	return c.client.Del(ctx, c.prefix+groupID).Err()
}

// Ping checks the Redis connection
func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

// normalizeSnapshot restores the invariants JSON decoding does not guarantee:
// maps and desired query lists are never nil.
func normalizeSnapshot(s *model.CVRSnapshot) {
	if s.Clients == nil {
		s.Clients = make(map[string]*model.ClientRecord)
	}
	if s.Queries == nil {
		s.Queries = make(map[string]*model.QueryRecord)
	}
	for _, client := range s.Clients {
		if client.DesiredQueryIDs == nil {
			client.DesiredQueryIDs = []string{}
		}
	}
	for _, query := range s.Queries {
		if query.DesiredBy == nil {
			query.DesiredBy = make(map[string]model.CVRVersion)
		}
	}
}
