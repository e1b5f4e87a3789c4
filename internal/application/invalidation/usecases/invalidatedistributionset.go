package usecases

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	deploysvc "github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/shared/utils"
)

type InvalidateDistributionSetCommand struct {
	Tenant             string `json:"tenant" validate:"required,tenant"`
	DistributionSetIDs []uint `json:"distribution_set_ids" validate:"required,min=1,dive,gt=0"`
	CancelationType    string `json:"cancelation_type" validate:"required,oneof=none soft force"`
	StopRollouts       bool   `json:"stop_rollouts"`
}

type InvalidateDistributionSetResult struct {
	ClearedAutoAssignments int    `json:"cleared_auto_assignments"`
	StoppedRollouts        []uint `json:"stopped_rollouts"`
	CanceledActions        int    `json:"canceled_actions"`
}

type InvalidateDistributionSetUseCase struct {
	dsRepo      distributionset.Repository
	filterRepo  targetfilter.Repository
	rolloutRepo rollout.Repository
	groupRepo   rollout.GroupRepository
	actionRepo  action.Repository
	canceler    *deploysvc.ActionCanceler
	locker      common.TenantLocker
	lockTTL     time.Duration
	lockTimeout time.Duration
	txMgr       db.Transactor
	publisher   events.EventPublisher
	metrics     common.MetricsRecorder
	logger      logger.Interface
}

func NewInvalidateDistributionSetUseCase(
	dsRepo distributionset.Repository,
	filterRepo targetfilter.Repository,
	rolloutRepo rollout.Repository,
	groupRepo rollout.GroupRepository,
	actionRepo action.Repository,
	canceler *deploysvc.ActionCanceler,
	locker common.TenantLocker,
	lockTTL, lockTimeout time.Duration,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	metrics common.MetricsRecorder,
	logger logger.Interface,
) *InvalidateDistributionSetUseCase {
	return &InvalidateDistributionSetUseCase{
		dsRepo:      dsRepo,
		filterRepo:  filterRepo,
		rolloutRepo: rolloutRepo,
		groupRepo:   groupRepo,
		actionRepo:  actionRepo,
		canceler:    canceler,
		locker:      locker,
		lockTTL:     lockTTL,
		lockTimeout: lockTimeout,
		txMgr:       txMgr,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute withdraws the sets. All steps commit together or not at all.
func (uc *InvalidateDistributionSetUseCase) Execute(ctx context.Context, cmd InvalidateDistributionSetCommand) (*InvalidateDistributionSetResult, error) {
	uc.logger.Infow("executing invalidate distribution set use case",
		"tenant", cmd.Tenant,
		"distribution_set_ids", cmd.DistributionSetIDs,
		"cancelation_type", cmd.CancelationType,
		"stop_rollouts", cmd.StopRollouts,
	)

	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	inv := distributionset.Invalidation{
		DistributionSetIDs: cmd.DistributionSetIDs,
		CancelationType:    actionvo.CancelationType(cmd.CancelationType),
		StopRollouts:       cmd.StopRollouts,
	}
	if err := inv.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	// Fail fast before queueing on the lock.
	if _, err := uc.loadSets(ctx, cmd.Tenant, inv.DistributionSetIDs); err != nil {
		return nil, err
	}

	lease, err := uc.locker.Acquire(ctx, cmd.Tenant, uc.lockTTL, uc.lockTimeout)
	if err != nil {
		if stderrors.Is(err, common.ErrLockNotAcquired) {
			uc.metrics.InvalidationFinished("lock_timeout")
			uc.logger.Warnw("invalidation could not acquire tenant lock",
				"tenant", cmd.Tenant,
				"timeout", uc.lockTimeout,
			)
			return nil, errors.NewLockTimeoutError("StopRollout: tenant lock not acquired",
				fmt.Sprintf("tenant %s busy for %s", cmd.Tenant, uc.lockTimeout)).WithCause(err)
		}
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			uc.logger.Warnw("failed to release tenant lock", "error", err, "tenant", cmd.Tenant)
		}
	}()

	result := &InvalidateDistributionSetResult{StoppedRollouts: []uint{}}
	err = common.RunAndPublish(ctx, uc.txMgr, uc.publisher, uc.logger, func(txCtx context.Context) error {
		sets, err := uc.loadSets(txCtx, cmd.Tenant, inv.DistributionSetIDs)
		if err != nil {
			return err
		}
		now := biztime.NowUTC()
		for _, ds := range sets {
			if err := uc.invalidate(txCtx, ds, inv, result, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		uc.metrics.InvalidationFinished("failed")
		uc.logger.Errorw("failed to invalidate distribution sets", "error", err, "tenant", cmd.Tenant)
		return nil, err
	}

	uc.metrics.InvalidationFinished("success")
	uc.logger.Infow("distribution sets invalidated",
		"tenant", cmd.Tenant,
		"distribution_set_ids", cmd.DistributionSetIDs,
		"auto_assignments", result.ClearedAutoAssignments,
		"rollouts", len(result.StoppedRollouts),
		"actions", result.CanceledActions,
	)
	return result, nil
}

func (uc *InvalidateDistributionSetUseCase) invalidate(
	ctx context.Context,
	ds *distributionset.DistributionSet,
	inv distributionset.Invalidation,
	result *InvalidateDistributionSetResult,
	now time.Time,
) error {
	if err := ds.Invalidate(inv, now); err != nil {
		return mapSetError(err)
	}
	if err := uc.dsRepo.Update(ctx, ds); err != nil {
		return err
	}
	common.RecordEvents(ctx, ds)

	filters, err := uc.filterRepo.ListByAutoAssignDistributionSet(ctx, ds.Tenant(), ds.ID())
	if err != nil {
		return err
	}
	for _, f := range filters {
		if !f.ClearAutoAssignment(now) {
			continue
		}
		if err := uc.filterRepo.Update(ctx, f); err != nil {
			return err
		}
		result.ClearedAutoAssignments++
	}

	if inv.StopRollouts {
		stopped, err := uc.stopRollouts(ctx, ds, now)
		if err != nil {
			return err
		}
		result.StoppedRollouts = append(result.StoppedRollouts, stopped...)
	}

	if inv.CancelsActions() {
		n, err := uc.cancelActions(ctx, ds, inv.CancelationType, now)
		if err != nil {
			return err
		}
		result.CanceledActions += n
	}
	return nil
}

// stopRollouts closes every live rollout of the set without group advancement.
func (uc *InvalidateDistributionSetUseCase) stopRollouts(ctx context.Context, ds *distributionset.DistributionSet, now time.Time) ([]uint, error) {
	rollouts, err := uc.rolloutRepo.ListByDistributionSet(ctx, ds.Tenant(), ds.ID(), vo.StoppableStatuses)
	if err != nil {
		return nil, err
	}

	stopped := make([]uint, 0, len(rollouts))
	for _, r := range rollouts {
		if _, err := uc.actionRepo.DeleteScheduledByRollout(ctx, r.Tenant(), r.ID()); err != nil {
			return nil, err
		}
		groups, err := uc.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if !g.ForceFinish(now) {
				continue
			}
			if err := uc.groupRepo.Update(ctx, g); err != nil {
				return nil, err
			}
			common.RecordEvents(ctx, g)
		}
		if err := r.Finish(now); err != nil {
			return nil, errors.NewInvalidStateError(err.Error()).WithCause(err)
		}
		if err := uc.rolloutRepo.Update(ctx, r); err != nil {
			return nil, err
		}
		common.RecordEvents(ctx, r)
		stopped = append(stopped, r.ID())

		uc.logger.Infow("rollout stopped by invalidation",
			"rollout_id", r.ID(),
			"distribution_set_id", ds.ID(),
		)
	}
	return stopped, nil
}

func (uc *InvalidateDistributionSetUseCase) cancelActions(ctx context.Context, ds *distributionset.DistributionSet, mode actionvo.CancelationType, now time.Time) (int, error) {
	active, err := uc.actionRepo.ListActiveByDistributionSet(ctx, ds.Tenant(), ds.ID(), 0)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, a := range active {
		if mode == actionvo.CancelationSoft && a.IsCanceling() {
			continue
		}
		if _, err := uc.canceler.Cancel(ctx, a, mode, now); err != nil {
			return canceled, err
		}
		canceled++
	}
	return canceled, nil
}

func (uc *InvalidateDistributionSetUseCase) loadSets(ctx context.Context, tenant string, ids []uint) ([]*distributionset.DistributionSet, error) {
	sets := make([]*distributionset.DistributionSet, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ds, err := uc.dsRepo.GetByID(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get distribution set: %w", err)
		}
		if ds == nil {
			return nil, errors.NewNotFoundError("distribution set not found", fmt.Sprintf("distribution set %d", id)).
				WithCause(distributionset.ErrDistributionSetNotFound)
		}
		if err := ds.CheckAssignable(); err != nil {
			return nil, mapSetError(err)
		}
		sets = append(sets, ds)
	}
	return sets, nil
}

func mapSetError(err error) error {
	switch {
	case stderrors.Is(err, distributionset.ErrIncomplete),
		stderrors.Is(err, distributionset.ErrAlreadyInvalid):
		return errors.NewInvalidStateError(err.Error()).WithCause(err)
	default:
		return err
	}
}
