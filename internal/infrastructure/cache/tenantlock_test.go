package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/testutil"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func TestRedisTenantLock_TryAcquire(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisTenantLock(client, testutil.NopLogger())

	lease, ok, err := lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition must fail while held")

	_, ok, err = lock.TryAcquire(ctx, "globex", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "tenants lock independently")

	require.NoError(t, lease.Release(ctx))

	_, ok, err = lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTenantLock_AcquireTimesOut(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisTenantLock(client, testutil.NopLogger())
	lock.pollInterval = 10 * time.Millisecond

	_, ok, err := lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	_, err = lock.Acquire(ctx, "acme", time.Minute, 100*time.Millisecond)
	assert.ErrorIs(t, err, common.ErrLockNotAcquired)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRedisTenantLock_AcquireWaitsForRelease(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisTenantLock(client, testutil.NopLogger())
	lock.pollInterval = 10 * time.Millisecond

	held, ok, err := lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	lease, err := lock.Acquire(ctx, "acme", time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.NoError(t, lease.Release(ctx))
}

func TestRedisTenantLock_StaleLeaseCannotReleaseOrExtend(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisTenantLock(client, testutil.NopLogger())

	first, ok, err := lock.TryAcquire(ctx, "acme", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Extend(ctx, 5*time.Second))

	mr.FastForward(6 * time.Second)

	second, ok, err := lock.TryAcquire(ctx, "acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, first.Extend(ctx, time.Minute), common.ErrLockLost)
	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists("rolloutd:lock:tenant:acme"), "stale release must not drop the new owner's lock")

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists("rolloutd:lock:tenant:acme"))
}
