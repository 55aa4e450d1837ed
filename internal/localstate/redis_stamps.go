package localstate

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStamps stores stamps in a single hash as epoch milliseconds. HSETNX
// gives first-write-wins without a lock.
type RedisStamps struct {
	client redis.Cmdable
	key    string
}

func NewRedisStamps(client redis.Cmdable, key string) *RedisStamps {
	if key == "" {
		key = "finalized_at"
	}
	return &RedisStamps{client: client, key: key}
}

func (r *RedisStamps) StampOnce(ctx context.Context, id string, at time.Time) (time.Time, error) {
	ms := at.UnixMilli()
	set, err := r.client.HSetNX(ctx, r.key, id, ms).Result()
	if err != nil {
		return time.Time{}, err
	}
	if set {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, _, err := r.Get(ctx, id)
	return t, err
}

func (r *RedisStamps) Get(ctx context.Context, id string) (time.Time, bool, error) {
	v, err := r.client.HGet(ctx, r.key, id).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
