package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Claim when nothing arrived within the timeout.
var ErrEmpty = errors.New("queue: empty")

// Queue carries job references from the gateway to the worker pool with
// at-least-once delivery. A claimed Delivery must be acked or nacked;
// nack hands the reference back to the backend's retry policy.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Claim(ctx context.Context, timeout time.Duration) (Delivery, error)
}

type Delivery interface {
	JobID() string
	// Attempt is 1 on first delivery.
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// StaleRequeuer is implemented by backends that can detect deliveries
// whose consumer went away without acking.
type StaleRequeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error)
}

// RetryDelay is how long a nacked reference waits before it is offered
// again: base after the first attempt, doubling after each later one.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base << (attempt - 1)
}

// RedisKeys names the lists and hashes one redis queue uses.
type RedisKeys struct {
	Queue      string
	Processing string
	Claims     string // hash: job id -> claim time (unix ms)
	Attempts   string // hash: job id -> delivery count
	Delayed    string // zset: job id -> not-before (unix ms)
	Dead       string
}

func KeysFor(name string) RedisKeys {
	return RedisKeys{
		Queue:      name + ":queue",
		Processing: name + ":processing",
		Claims:     name + ":claims",
		Attempts:   name + ":attempts",
		Delayed:    name + ":delayed",
		Dead:       name + ":dead",
	}
}

// promoteScript moves due ids from the delayed set back onto the queue.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

const promoteBatch = 100

// RedisQueue is a reliable queue on redis lists.
// Enqueue: LPUSH queue
// Claim:   promote due retries, BRPOPLPUSH queue -> processing, remember claim time
// Ack:     LREM from processing
// Nack:    LREM from processing, ZADD delayed with a backoff (or dead after maxAttempts)
type RedisQueue struct {
	rdb         redis.UniversalClient
	keys        RedisKeys
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient, keys RedisKeys, maxAttempts int, backoff time.Duration) *RedisQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RedisQueue{rdb: rdb, keys: keys, maxAttempts: maxAttempts, backoff: backoff, now: time.Now}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.keys.Queue, jobID).Err()
}

// PromoteDue moves retries whose backoff has elapsed back onto the queue.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int64, error) {
	return promoteScript.Run(ctx, q.rdb,
		[]string{q.keys.Delayed, q.keys.Queue},
		q.now().UnixMilli(), promoteBatch,
	).Int64()
}

func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	if _, err := q.PromoteDue(ctx); err != nil {
		return nil, err
	}

	id, err := q.rdb.BRPopLPush(ctx, q.keys.Queue, q.keys.Processing, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}

	var attempts *redis.IntCmd
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.keys.Claims, id, q.now().UnixMilli())
		attempts = p.HIncrBy(ctx, q.keys.Attempts, id, 1)
		return nil
	})
	if err != nil {
		// Hand the id straight back. If redis is unreachable for this too,
		// RequeueStale adopts the unclaimed entry left in processing.
		bg := context.WithoutCancel(ctx)
		_, _ = q.rdb.TxPipelined(bg, func(p redis.Pipeliner) error {
			p.LRem(bg, q.keys.Processing, 1, id)
			p.RPush(bg, q.keys.Queue, id)
			return nil
		})
		return nil, err
	}
	return &redisDelivery{q: q, id: id, attempt: int(attempts.Val())}, nil
}

// RequeueStale returns ids claimed longer than olderThan ago to the queue.
// This is the redelivery-after-timeout path of the queue. Ids sitting in
// processing without a claim record are stamped with the current time first,
// so they become stale one visibility timeout later.
func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	claims, err := q.rdb.HGetAll(ctx, q.keys.Claims).Result()
	if err != nil {
		return 0, err
	}

	inFlight, err := q.rdb.LRange(ctx, q.keys.Processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := q.now().UnixMilli()
	for _, id := range inFlight {
		if _, ok := claims[id]; ok {
			continue
		}
		// HSETNX keeps a claim time written since HGETALL.
		set, err := q.rdb.HSetNX(ctx, q.keys.Claims, id, now).Result()
		if err != nil {
			return 0, err
		}
		if set {
			claims[id] = strconv.FormatInt(now, 10)
		}
	}

	cutoff := q.now().Add(-olderThan).UnixMilli()
	var moved int64
	for id, at := range claims {
		if max > 0 && moved >= max {
			break
		}
		ms, err := strconv.ParseInt(at, 10, 64)
		if err != nil || ms > cutoff {
			continue
		}

		var removed *redis.IntCmd
		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			removed = p.LRem(ctx, q.keys.Processing, 1, id)
			p.HDel(ctx, q.keys.Claims, id)
			return nil
		})
		if err != nil {
			return moved, err
		}
		if removed.Val() == 0 {
			// acked between HGETALL and LREM
			continue
		}
		if err := q.rdb.LPush(ctx, q.keys.Queue, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

type redisDelivery struct {
	q       *RedisQueue
	id      string
	attempt int
}

func (d *redisDelivery) JobID() string { return d.id }
func (d *redisDelivery) Attempt() int  { return d.attempt }

func (d *redisDelivery) Ack(ctx context.Context) error {
	_, err := d.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, d.q.keys.Processing, 1, d.id)
		p.HDel(ctx, d.q.keys.Claims, d.id)
		p.HDel(ctx, d.q.keys.Attempts, d.id)
		return nil
	})
	return err
}

func (d *redisDelivery) Nack(ctx context.Context) error {
	_, err := d.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, d.q.keys.Processing, 1, d.id)
		p.HDel(ctx, d.q.keys.Claims, d.id)
		if d.attempt >= d.q.maxAttempts {
			p.HDel(ctx, d.q.keys.Attempts, d.id)
			p.LPush(ctx, d.q.keys.Dead, d.id)
			return nil
		}
		due := d.q.now().Add(RetryDelay(d.q.backoff, d.attempt))
		p.ZAdd(ctx, d.q.keys.Delayed, redis.Z{Score: float64(due.UnixMilli()), Member: d.id})
		return nil
	})
	return err
}
