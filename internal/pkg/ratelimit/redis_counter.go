package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps fixed-window counters in Redis so all instances share
// one admission budget. Buckets self-expire after two windows; the previous
// bucket is still needed for the sliding-window weighting.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a shared Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, int64, error) {
	currentKey := bucketKey(key, windowStart)
	previousKey := bucketKey(key, windowStart.Add(-window))

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.PExpire(ctx, currentKey, 2*window)
	prev := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, err
	}

	previous, err := prev.Int64()
	if err == redis.Nil {
		previous = 0
	} else if err != nil {
		return 0, 0, err
	}
	return incr.Val(), previous, nil
}

func bucketKey(key string, windowStart time.Time) string {
	return key + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}
