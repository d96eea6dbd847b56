package data

import (
	"context"
	"fmt"
	"time"

	"Bastion/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implements biz.CounterStore against the shared Redis
// store. Every round trip is bounded by the configured op timeout; a
// timed-out call surfaces as an error and the caller degrades to the
// in-memory fallback.
type RedisCounterStore struct {
	rdb       *redis.Client
	opTimeout time.Duration
	logger    *log.Helper
}

// NewRedisCounterStore creates a new Redis-backed counter store.
// A nil client is a supported configuration: Available reports false and
// every operation errors, pushing callers onto the fallback path.
func NewRedisCounterStore(c *conf.Data, rdb *redis.Client, logger log.Logger) *RedisCounterStore {
	opTimeout := 50 * time.Millisecond
	if c != nil && c.Redis != nil && c.Redis.OpTimeout.AsDuration() > 0 {
		opTimeout = c.Redis.OpTimeout.AsDuration()
	}
	return &RedisCounterStore{
		rdb:       rdb,
		opTimeout: opTimeout,
		logger:    log.NewHelper(logger),
	}
}

// Available reports whether a Redis client is configured.
func (s *RedisCounterStore) Available() bool {
	return s.rdb != nil
}

// IncrementWithTTL atomically increments key and sets its TTL on first
// increment, making the counter self-resetting.
func (s *RedisCounterStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	if count == 1 {
		if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			s.logger.Warnf("failed to set TTL on %s: %v", key, err)
			// Counter is still incremented; the window will not
			// self-reset until the key is touched again.
		}
	}

	return count, nil
}

// Get returns the value stored under key.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.rdb == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// SetWithTTL stores value under key with the given TTL.
func (s *RedisCounterStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
