package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vinzhub-gamestate/internal/logger"

	"github.com/redis/go-redis/v9"
)

// markStaleScript raises the user's queue priority, records the mark and, for
// immediate urgency, drops a snapshot that carries no pending work.
//
// KEYS: snapshot hash, stale zset, stale meta hash.
// ARGV: user id, priority, meta json, "1" when immediate.
var markStaleScript = redis.NewScript(`
	local cur = redis.call("ZSCORE", KEYS[2], ARGV[1])
	if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
		redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
	end
	redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])
	if ARGV[4] == "1" and redis.call("HGET", KEYS[1], "pending") ~= "1" then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisSnapshotCache stores snapshots in Redis hashes and keeps the stale queue
// in a sorted set scored by priority.
type RedisSnapshotCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *logger.Logger
}

// RedisSnapshotConfig holds configuration for the Redis snapshot cache.
type RedisSnapshotConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL applies to snapshots without pending work; zero keeps them forever.
	TTL time.Duration
}

// NewRedisSnapshotCache connects to Redis and verifies the connection.
func NewRedisSnapshotCache(cfg RedisSnapshotConfig) (*RedisSnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	c := NewRedisSnapshotCacheWithClient(client, cfg.KeyPrefix, cfg.TTL)
	c.logger.Infof("Connected - DB:%d, prefix:%s, ttl:%v", cfg.DB, c.keyPrefix, cfg.TTL)
	return c, nil
}

// NewRedisSnapshotCacheWithClient wraps an existing client.
func NewRedisSnapshotCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisSnapshotCache {
	if keyPrefix == "" {
		keyPrefix = "vinzhub:gamestate"
	}
	return &RedisSnapshotCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.NewLogger("RedisSnapshotCache"),
	}
}

func (c *RedisSnapshotCache) snapshotKey(userID int64) string {
	return c.keyPrefix + ":snapshot:" + strconv.FormatInt(userID, 10)
}

func (c *RedisSnapshotCache) staleKey() string {
	return c.keyPrefix + ":stale"
}

func (c *RedisSnapshotCache) staleMetaKey() string {
	return c.keyPrefix + ":stale:meta"
}

// StoreSnapshot writes the snapshot and clears the stale mark in one transaction.
func (c *RedisSnapshotCache) StoreSnapshot(ctx context.Context, userID int64, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	pending := "0"
	if snap.HasPending() {
		pending = "1"
	}
	member := strconv.FormatInt(userID, 10)
	key := c.snapshotKey(userID)

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "data", data, "pending", pending)
		if c.ttl > 0 && pending == "0" {
			pipe.Expire(ctx, key, c.ttl)
		} else {
			pipe.Persist(ctx, key)
		}
		pipe.ZRem(ctx, c.staleKey(), member)
		pipe.HDel(ctx, c.staleMetaKey(), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the user's snapshot.
func (c *RedisSnapshotCache) LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	data, err := c.client.HGet(ctx, c.snapshotKey(userID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkStale queues the user for refresh.
func (c *RedisSnapshotCache) MarkStale(ctx context.Context, userID int64, urgency Urgency, priority Priority) error {
	meta, err := json.Marshal(StaleEntry{UserID: userID, Urgency: urgency, Priority: priority, MarkedAt: time.Now()})
	if err != nil {
		return err
	}
	immediate := "0"
	if urgency == UrgencyImmediate {
		immediate = "1"
	}
	member := strconv.FormatInt(userID, 10)

	dropped, err := markStaleScript.Run(ctx, c.client,
		[]string{c.snapshotKey(userID), c.staleKey(), c.staleMetaKey()},
		member, int(priority), string(meta), immediate).Int()
	if err != nil {
		return fmt.Errorf("failed to mark snapshot stale: %w", err)
	}
	if dropped > 0 {
		c.logger.Debugf("Dropped stale snapshot of user %d", userID)
	}
	return nil
}

// IsStale reports whether the user is in the stale queue.
func (c *RedisSnapshotCache) IsStale(ctx context.Context, userID int64) (bool, error) {
	err := c.client.ZScore(ctx, c.staleKey(), strconv.FormatInt(userID, 10)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check stale mark: %w", err)
	}
	return true, nil
}

// StaleQueue lists up to limit stale users, highest priority first.
func (c *RedisSnapshotCache) StaleQueue(ctx context.Context, limit int) ([]StaleEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := c.client.ZRevRangeWithScores(ctx, c.staleKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stale queue: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	fields := make([]string, len(members))
	for i, m := range members {
		fields[i] = fmt.Sprint(m.Member)
	}
	metas, err := c.client.HMGet(ctx, c.staleMetaKey(), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stale metadata: %w", err)
	}

	out := make([]StaleEntry, 0, len(members))
	for i, m := range members {
		userID, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			c.logger.Warnf("Skipping malformed stale member %q", fields[i])
			continue
		}
		entry := StaleEntry{UserID: userID}
		if raw, ok := metas[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				c.logger.Warnf("Malformed stale metadata for user %d: %v", userID, err)
			}
		}
		entry.Priority = Priority(m.Score)
		out = append(out, entry)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

// Ensure RedisSnapshotCache implements SnapshotCache
var _ SnapshotCache = (*RedisSnapshotCache)(nil)
