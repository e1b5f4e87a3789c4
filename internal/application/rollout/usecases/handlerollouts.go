package usecases

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/rollout/services"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/goroutine"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// HandleRolloutsUseCase runs one control loop tick for a tenant. Only one
// tick per tenant runs at a time: in-process through single-flight, across
// instances through the tenant lease.
type HandleRolloutsUseCase struct {
	rolloutRepo rollout.Repository
	executor    *services.RolloutExecutor
	locker      common.TenantLocker
	leaseTTL    time.Duration
	tickTimeout time.Duration
	metrics     common.MetricsRecorder
	logger      logger.Interface

	flight singleflight.Group
}

func NewHandleRolloutsUseCase(
	rolloutRepo rollout.Repository,
	executor *services.RolloutExecutor,
	locker common.TenantLocker,
	leaseTTL time.Duration,
	metrics common.MetricsRecorder,
	logger logger.Interface,
) *HandleRolloutsUseCase {
	if leaseTTL <= 0 {
		leaseTTL = time.Minute
	}
	return &HandleRolloutsUseCase{
		rolloutRepo: rolloutRepo,
		executor:    executor,
		locker:      locker,
		leaseTTL:    leaseTTL,
		tickTimeout: 10 * leaseTTL,
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute ticks the tenant and returns how many rollouts were handled.
// Callers joining an in-flight tick wait for it; cancelling one caller's
// context only stops that caller from waiting.
func (uc *HandleRolloutsUseCase) Execute(ctx context.Context, tenant string) (int, error) {
	ch := uc.flight.DoChan(tenant, func() (any, error) {
		tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.tickTimeout)
		defer cancel()
		return uc.tick(tickCtx, tenant)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Shared {
			uc.logger.Debugw("joined in-flight rollout tick", "tenant", tenant)
		}
		n, _ := res.Val.(int)
		return n, res.Err
	}
}

func (uc *HandleRolloutsUseCase) tick(ctx context.Context, tenant string) (int, error) {
	start := time.Now()

	lease, ok, err := uc.locker.TryAcquire(ctx, tenant, uc.leaseTTL)
	if err != nil {
		uc.metrics.ObserveTick(time.Since(start), err)
		return 0, err
	}
	if !ok {
		uc.logger.Debugw("tenant locked elsewhere, skipping rollout tick", "tenant", tenant)
		return 0, nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	goroutine.SafeGo(uc.logger, "rollout-lease-keepalive", func() {
		defer close(done)
		uc.keepAlive(tickCtx, cancel, lease, tenant)
	})
	defer func() {
		cancel()
		<-done
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			uc.logger.Warnw("failed to release tenant lease", "error", err, "tenant", tenant)
		}
	}()

	rollouts, err := uc.rolloutRepo.ListByStatuses(tickCtx, tenant, vo.TickStatuses)
	if err != nil {
		uc.metrics.ObserveTick(time.Since(start), err)
		uc.logger.Errorw("failed to list rollouts for tick", "error", err, "tenant", tenant)
		return 0, err
	}

	var (
		handled  int
		firstErr error
	)
	for _, r := range rollouts {
		if tickCtx.Err() != nil {
			break
		}
		if err := uc.executor.Execute(tickCtx, r); err != nil {
			if errors.IsConflictError(err) {
				uc.logger.Infow("rollout changed during tick, retrying on next tick",
					"tenant", tenant,
					"rollout_id", r.ID(),
					"status", r.Status(),
				)
				continue
			}
			uc.logger.Errorw("rollout tick failed",
				"error", err,
				"tenant", tenant,
				"rollout_id", r.ID(),
				"status", r.Status(),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		handled++
	}
	if firstErr == nil && tickCtx.Err() != nil && ctx.Err() == nil {
		firstErr = common.ErrLockLost
	}

	uc.metrics.ObserveTick(time.Since(start), firstErr)
	return handled, firstErr
}

// keepAlive extends the lease until ctx ends. Losing the lease cancels the tick.
func (uc *HandleRolloutsUseCase) keepAlive(ctx context.Context, cancel context.CancelFunc, lease common.Lease, tenant string) {
	ticker := time.NewTicker(uc.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx, uc.leaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				uc.logger.Warnw("failed to extend tenant lease, aborting tick", "error", err, "tenant", tenant)
				if stderrors.Is(err, common.ErrLockLost) {
					cancel()
					return
				}
			}
		}
	}
}

// HandleAllTenantsJob ticks every tenant that has rollouts to drive.
type HandleAllTenantsJob struct {
	rolloutRepo rollout.Repository
	handler     *HandleRolloutsUseCase
	concurrency int
	logger      logger.Interface
}

func NewHandleAllTenantsJob(
	rolloutRepo rollout.Repository,
	handler *HandleRolloutsUseCase,
	concurrency int,
	logger logger.Interface,
) *HandleAllTenantsJob {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &HandleAllTenantsJob{
		rolloutRepo: rolloutRepo,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Execute returns the number of rollouts handled across all tenants.
func (j *HandleAllTenantsJob) Execute(ctx context.Context) (int, error) {
	tenants, err := j.rolloutRepo.ListTenants(ctx, vo.TickStatuses)
	if err != nil {
		return 0, err
	}
	if len(tenants) == 0 {
		return 0, nil
	}

	var (
		handled atomic.Int64
		failed  atomic.Int64
		g       errgroup.Group
	)
	g.SetLimit(j.concurrency)
	for _, tenant := range tenants {
		g.Go(func() error {
			n, err := j.handler.Execute(ctx, tenant)
			handled.Add(int64(n))
			if err != nil {
				failed.Add(1)
				j.logger.Warnw("tenant rollout tick failed", "error", err, "tenant", tenant)
			}
			return nil
		})
	}
	_ = g.Wait()

	if f := failed.Load(); f > 0 {
		j.logger.Warnw("rollout ticks finished with failures",
			"tenants", len(tenants),
			"failed", f,
		)
	}
	return int(handled.Load()), nil
}
