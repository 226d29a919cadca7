package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dexgate/dexgate/internal/middleware"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const idemPrefix = "dexgate:idem:"

// RedisIdempotencyStore keeps idempotency records in redis so replay
// protection holds across restarts and instances. Lock acquisition is a
// single SETNX of a processing record.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *RedisIdempotencyStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func (s *RedisIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	lock, _ := json.Marshal(middleware.IdempotencyRecord{Processing: true, CreatedAt: time.Now()})
	set, err := s.rdb.SetNX(ctx, idemPrefix+key, lock, s.ttl).Result()
	if err != nil {
		// Redis down: fail open, idempotency is best-effort.
		logger.Warn("idempotency lock failed, proceeding without", "error", err)
		return nil, false
	}
	if set {
		return nil, false
	}

	raw, err := s.rdb.Get(ctx, idemPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var rec middleware.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := json.Marshal(middleware.IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, idemPrefix+key, raw, s.ttl).Err(); err != nil {
		logger.Warn("idempotency save failed", "error", err)
	}
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	ctx, cancel := s.ctx()
	defer cancel()
	_ = s.rdb.Del(ctx, idemPrefix+key).Err()
}
