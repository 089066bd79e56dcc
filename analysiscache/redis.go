package analysiscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache with one Redis key per section, named
// prefix:course:section, each expiring on its own TTL. Invalidation scans for
// the keys of a course.
type RedisCache struct {
	client *redis.Client
	config Config
	prefix string
}

// NewRedisCache creates a cache backed by the Redis server at addr.
func NewRedisCache(addr, password string, db int, config Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, config)
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, config Config) *RedisCache {
	return &RedisCache{client: client, config: config, prefix: "courseaudit:analysis"}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(courseID, sectionID int64) string {
	return fmt.Sprintf("%s:%d:%d", c.prefix, courseID, sectionID)
}

func (c *RedisCache) Get(ctx context.Context, courseID, sectionID int64) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.key(courseID, sectionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read analysis for section %d: %w", sectionID, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, courseID, sectionID int64, value []byte) error {
	if err := c.client.Set(ctx, c.key(courseID, sectionID), value, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store analysis for section %d: %w", sectionID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, courseID int64) error {
	if err := c.deleteMatching(ctx, fmt.Sprintf("%s:%d:*", c.prefix, courseID)); err != nil {
		return fmt.Errorf("failed to invalidate analysis for course %d: %w", courseID, err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.deleteMatching(ctx, c.prefix+":*"); err != nil {
		return fmt.Errorf("failed to invalidate analyses: %w", err)
	}
	return nil
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
