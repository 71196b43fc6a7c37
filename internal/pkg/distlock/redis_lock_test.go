package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "programs:kpi_aggregation", time.Minute)
	b := NewRedisLock(client, "programs:kpi_aggregation", time.Minute)

	got, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, got, "second replica must not acquire a held lock")

	require.NoError(t, a.Release(ctx))

	got, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, got, "lock acquirable after release")
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "key", time.Minute)
	b := NewRedisLock(client, "key", time.Minute)

	got, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	// b never held the lock; its release must not free a's lock.
	require.NoError(t, b.Release(ctx))

	got, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, got, "a still holds the lock after b's no-op release")
}

func TestRedisLockDistinctKeysIndependent(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "key-one", time.Minute)
	b := NewRedisLock(client, "key-two", time.Minute)

	got, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestNewPicksBackend(t *testing.T) {
	client := setupRedis(t)

	lock := New(client, nil, "key", time.Minute)
	_, ok := lock.(*RedisLock)
	assert.True(t, ok)

	lock = New(nil, nil, "key", time.Minute)
	_, ok = lock.(*AdvisoryLock)
	assert.True(t, ok)
}
