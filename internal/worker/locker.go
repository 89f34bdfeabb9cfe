package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out a per-job lease so two deliveries of the same job never
// run the pipeline at the same time.
type Locker interface {
	Lock(ctx context.Context, jobID string) (unlock func(context.Context), acquired bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, jobID string) (func(context.Context), bool, error) {
	key := l.prefix + ":lock:" + jobID
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, true, nil
}

// NoopLocker always grants the lease. Enough when a single process owns the
// queue, e.g. the in-memory backend.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
