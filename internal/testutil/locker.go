package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
)

// MemLocker is an in-process TenantLocker. Acquire polls until the timeout.
type MemLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemLocker() *MemLocker { return &MemLocker{held: map[string]bool{}} }

type memLease struct {
	locker *MemLocker
	tenant string
}

func (l *memLease) Extend(context.Context, time.Duration) error { return nil }

func (l *memLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.tenant)
	return nil
}

func (m *MemLocker) TryAcquire(_ context.Context, tenant string, _ time.Duration) (common.Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[tenant] {
		return nil, false, nil
	}
	m.held[tenant] = true
	return &memLease{locker: m, tenant: tenant}, true, nil
}

func (m *MemLocker) Acquire(ctx context.Context, tenant string, ttl, timeout time.Duration) (common.Lease, error) {
	deadline := time.Now().Add(timeout)
	for {
		lease, ok, err := m.TryAcquire(ctx, tenant, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		if !time.Now().Before(deadline) {
			return nil, common.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
