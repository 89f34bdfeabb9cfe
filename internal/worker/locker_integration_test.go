//go:build integration

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLocker(rdb, "kyc-test", time.Minute)

	unlock, ok, err := l.Lock(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Lock(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok, "second lease must be refused while the first is held")

	_, ok, err = l.Lock(ctx, "job-2")
	require.NoError(t, err)
	assert.True(t, ok, "leases are per job")

	unlock(ctx)
	_, ok, err = l.Lock(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	short := NewRedisLocker(rdb, "kyc-test", 50*time.Millisecond)
	staleUnlock, ok, err := short.Lock(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	long := NewRedisLocker(rdb, "kyc-test", time.Minute)
	_, ok, err = long.Lock(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	staleUnlock(ctx)
	_, ok, err = long.Lock(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok, "the new holder's lease must survive the stale unlock")
}
