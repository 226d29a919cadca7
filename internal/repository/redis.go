package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// usage keys roll daily and expire after two days so stale counters never
// need cleanup.
const usageTTL = 48 * time.Hour

// RedisClient backs the risk engine's daily usage counters with redis so
// limits survive restarts and cover multiple instances.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Redis exposes the underlying client for components that share the
// connection, like the audit emitter.
func (c *RedisClient) Redis() *redis.Client { return c.rdb }

func dayKey(kind string) string {
	return fmt.Sprintf("dexgate:usage:%s:%s", time.Now().Format("2006-01-02"), kind)
}

func (c *RedisClient) GetDailyUsage(ctx context.Context) (int, float64, error) {
	orders, err := c.rdb.Get(ctx, dayKey("orders")).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	volume, err := c.rdb.Get(ctx, dayKey("volume")).Float64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return orders, volume, nil
}

func (c *RedisClient) AddDailyUsage(ctx context.Context, orders int, volume float64) error {
	pipe := c.rdb.Pipeline()
	ok := dayKey("orders")
	vk := dayKey("volume")
	pipe.IncrBy(ctx, ok, int64(orders))
	pipe.IncrByFloat(ctx, vk, volume)
	pipe.Expire(ctx, ok, usageTTL)
	pipe.Expire(ctx, vk, usageTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisClient) GetDailyPnL(ctx context.Context) (float64, error) {
	pnl, err := c.rdb.Get(ctx, dayKey("pnl")).Float64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return pnl, nil
}

func (c *RedisClient) AddDailyPnL(ctx context.Context, delta float64) error {
	pipe := c.rdb.Pipeline()
	k := dayKey("pnl")
	pipe.IncrByFloat(ctx, k, delta)
	pipe.Expire(ctx, k, usageTTL)
	_, err := pipe.Exec(ctx)
	return err
}
