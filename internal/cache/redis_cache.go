package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"spinmill/backend/internal/domain"
)

const inwardEntriesKey = "mill:inward-entries:v1"

type RedisInwardCache struct {
	client *redis.Client
}

func NewRedisInwardCache(addr string, password string, db int) *RedisInwardCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInwardCache{client: client}
}

// Client is shared with the distributed lock so both use one pool.
func (c *RedisInwardCache) Client() *redis.Client {
	return c.client
}

func (c *RedisInwardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInwardCache) Close() error {
	return c.client.Close()
}

func (c *RedisInwardCache) GetInwardEntries(ctx context.Context) ([]domain.InwardEntry, bool, error) {
	val, err := c.client.Get(ctx, inwardEntriesKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entries []domain.InwardEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (c *RedisInwardCache) SetInwardEntries(ctx context.Context, entries []domain.InwardEntry, ttl time.Duration) error {
	if entries == nil {
		return nil
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, inwardEntriesKey, payload, ttl).Err()
}

func (c *RedisInwardCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, inwardEntriesKey).Err()
}
