package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

const defaultLockPollInterval = 50 * time.Millisecond

// releaseLockScript deletes the key only if it still holds the caller's token.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendLockScript pushes the expiry of a lock the caller still owns.
// KEYS[1] = lock key
// ARGV[1] = owner token
// ARGV[2] = ttl in milliseconds
var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisTenantLock is a tenant-scoped lease stored in Redis.
// Key format: rolloutd:lock:tenant:{tenant}
type RedisTenantLock struct {
	client       *redis.Client
	logger       logger.Interface
	pollInterval time.Duration
}

// NewRedisTenantLock creates a new RedisTenantLock.
func NewRedisTenantLock(client *redis.Client, log logger.Interface) *RedisTenantLock {
	return &RedisTenantLock{
		client:       client,
		logger:       log,
		pollInterval: defaultLockPollInterval,
	}
}

func (l *RedisTenantLock) buildKey(tenant string) string {
	return constants.RedisKeyTenantLock + tenant
}

// TryAcquire takes the lock if nobody holds it.
func (l *RedisTenantLock) TryAcquire(ctx context.Context, tenant string, ttl time.Duration) (common.Lease, bool, error) {
	key := l.buildKey(tenant)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, logger: l.logger, key: key, token: token}, true, nil
}

// Acquire polls until the lock is free or timeout elapses.
func (l *RedisTenantLock) Acquire(ctx context.Context, tenant string, ttl, timeout time.Duration) (common.Lease, error) {
	lease, ok, err := l.TryAcquire(ctx, tenant, ttl)
	if err != nil {
		return nil, err
	}
	if ok {
		return lease, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			l.logger.Warnw("tenant lock wait timed out",
				"tenant", tenant,
				"timeout", timeout,
			)
			return nil, fmt.Errorf("%w: tenant %s after %s", common.ErrLockNotAcquired, tenant, timeout)
		case <-ticker.C:
			lease, ok, err := l.TryAcquire(ctx, tenant, ttl)
			if err != nil {
				return nil, err
			}
			if ok {
				return lease, nil
			}
		}
	}
}

type redisLease struct {
	client *redis.Client
	logger logger.Interface
	key    string
	token  string
}

// Extend renews the lease. ErrLockLost means another owner took over.
func (le *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendLockScript.Run(ctx, le.client, []string{le.key}, le.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend tenant lock: %w", err)
	}
	if res == 0 {
		return common.ErrLockLost
	}
	return nil
}

// Release frees the lock if it is still ours.
func (le *redisLease) Release(ctx context.Context) error {
	res, err := releaseLockScript.Run(ctx, le.client, []string{le.key}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release tenant lock: %w", err)
	}
	if res == 0 {
		le.logger.Debugw("tenant lock already expired on release", "key", le.key)
	}
	return nil
}
