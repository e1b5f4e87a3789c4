package usecases

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/rollout/services"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// TriggerNextGroupUseCase starts the next scheduled group of a running
// rollout ahead of its conditions. It holds the tenant lock so it cannot
// interleave with a control loop tick.
type TriggerNextGroupUseCase struct {
	rolloutRepo rollout.Repository
	executor    *services.RolloutExecutor
	locker      common.TenantLocker
	lockTTL     time.Duration
	lockTimeout time.Duration
	logger      logger.Interface
}

func NewTriggerNextGroupUseCase(
	rolloutRepo rollout.Repository,
	executor *services.RolloutExecutor,
	locker common.TenantLocker,
	lockTTL, lockTimeout time.Duration,
	logger logger.Interface,
) *TriggerNextGroupUseCase {
	return &TriggerNextGroupUseCase{
		rolloutRepo: rolloutRepo,
		executor:    executor,
		locker:      locker,
		lockTTL:     lockTTL,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

func (uc *TriggerNextGroupUseCase) Execute(ctx context.Context, tenant string, id uint) (uint, error) {
	uc.logger.Infow("executing trigger next group use case", "tenant", tenant, "rollout_id", id)

	lease, err := uc.locker.Acquire(ctx, tenant, uc.lockTTL, uc.lockTimeout)
	if err != nil {
		if stderrors.Is(err, common.ErrLockNotAcquired) {
			return 0, errors.NewLockTimeoutError("TriggerNextGroup: tenant lock not acquired", tenant).WithCause(err)
		}
		return 0, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			uc.logger.Warnw("failed to release tenant lock", "error", err, "tenant", tenant)
		}
	}()

	r, err := loadRollout(ctx, uc.rolloutRepo, tenant, id)
	if err != nil {
		return 0, err
	}
	g, err := uc.executor.StartNextGroup(ctx, r)
	if err != nil {
		uc.logger.Errorw("failed to trigger next group", "error", err, "rollout_id", id)
		return 0, mapRolloutError(err)
	}

	uc.logger.Infow("next rollout group triggered", "rollout_id", id, "group_id", g.ID())
	return g.ID(), nil
}
