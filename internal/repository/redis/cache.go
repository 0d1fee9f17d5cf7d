// Package redis caches session snapshots and mirrors phase deadlines so
// external tooling can watch live games without hitting the durable store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/concertlabs/concert/internal/session"
)

func snapshotKey(gameID string) string { return "concert:game:" + gameID + ":snapshot" }
func deadlineKey(gameID string) string { return "concert:game:" + gameID + ":deadline" }

const gameIndexKey = "concert:games"

// deadlineGrace keeps the mirrored deadline key alive slightly past the
// real deadline so watchers see the expiry rather than racing it.
const deadlineGrace = 5 * time.Second

// Cache wraps a Redis client with the keyspace used for live game data.
type Cache struct {
	rdb *redis.Client
}

// NewCache connects to Redis from a connection URL and verifies the link.
func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// NewCacheFromClient wraps an existing client, mainly for tests.
func NewCacheFromClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// StoreSnapshot caches a snapshot and registers the game in the index set.
func (c *Cache) StoreSnapshot(ctx context.Context, snap *session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, snapshotKey(snap.GameID), data, 0)
	pipe.SAdd(ctx, gameIndexKey, snap.GameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached snapshot, or nil on a miss.
func (c *Cache) LoadSnapshot(ctx context.Context, gameID string) (*session.Snapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// GameIDs returns the games present in the cache index.
func (c *Cache) GameIDs(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, gameIndexKey).Result()
}

// DropGame removes every cached key for a game.
func (c *Cache) DropGame(ctx context.Context, gameID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, snapshotKey(gameID), deadlineKey(gameID))
	pipe.SRem(ctx, gameIndexKey, gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("drop game: %w", err)
	}
	return nil
}

// MirrorDeadline publishes the current phase deadline as a TTL key. The key
// expires shortly after the deadline passes, so keyspace notifications can
// drive external watchers.
func (c *Cache) MirrorDeadline(ctx context.Context, gameID string, deadline time.Time) error {
	ttl := time.Until(deadline) + deadlineGrace
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, deadlineKey(gameID), deadline.Unix(), ttl).Err()
}

// ClearDeadline removes the mirrored deadline, for paused or resolved phases.
func (c *Cache) ClearDeadline(ctx context.Context, gameID string) error {
	return c.rdb.Del(ctx, deadlineKey(gameID)).Err()
}
