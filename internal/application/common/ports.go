package common

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockNotAcquired is returned when a tenant lock stayed taken for the whole wait.
	ErrLockNotAcquired = errors.New("tenant lock not acquired")
	// ErrLockLost is returned when a lease expired or was taken over before it was extended.
	ErrLockLost = errors.New("tenant lock lost")
)

// Lease is a held tenant lock.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// TenantLocker serializes the control loop and invalidations of one tenant
// across all engine instances.
type TenantLocker interface {
	// Acquire waits up to timeout for the lock and holds it for ttl.
	Acquire(ctx context.Context, tenant string, ttl, timeout time.Duration) (Lease, error)
	// TryAcquire takes the lock only if it is free.
	TryAcquire(ctx context.Context, tenant string, ttl time.Duration) (Lease, bool, error)
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	ObserveTick(d time.Duration, err error)
	RolloutTransition(status string)
	ActionStatusReported(status, outcome string)
	InvalidationFinished(result string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) ObserveTick(time.Duration, error)    {}
func (NopMetrics) RolloutTransition(string)            {}
func (NopMetrics) ActionStatusReported(string, string) {}
func (NopMetrics) InvalidationFinished(string)         {}
