package usecases

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/shared/utils"
)

// CountEntitiesForInvalidationUseCase previews what an invalidation would
// touch. It takes no lock, so the numbers may already be stale when returned.
type CountEntitiesForInvalidationUseCase struct {
	filterRepo  targetfilter.Repository
	actionRepo  action.Repository
	rolloutRepo rollout.Repository
	logger      logger.Interface
}

func NewCountEntitiesForInvalidationUseCase(
	filterRepo targetfilter.Repository,
	actionRepo action.Repository,
	rolloutRepo rollout.Repository,
	logger logger.Interface,
) *CountEntitiesForInvalidationUseCase {
	return &CountEntitiesForInvalidationUseCase{
		filterRepo:  filterRepo,
		actionRepo:  actionRepo,
		rolloutRepo: rolloutRepo,
		logger:      logger,
	}
}

// Execute counts per request: actions only when they would be canceled and
// rollouts only when they would be stopped.
func (uc *CountEntitiesForInvalidationUseCase) Execute(ctx context.Context, cmd InvalidateDistributionSetCommand) (*distributionset.InvalidationCount, error) {
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

	counts := make([]distributionset.InvalidationCount, len(inv.DistributionSetIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range inv.DistributionSetIDs {
		g.Go(func() error {
			c, err := uc.countSet(gctx, cmd.Tenant, id, inv)
			if err != nil {
				return err
			}
			counts[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		uc.logger.Errorw("failed to count entities for invalidation", "error", err, "tenant", cmd.Tenant)
		return nil, err
	}

	var total distributionset.InvalidationCount
	for _, c := range counts {
		total = total.Add(c)
	}
	return &total, nil
}

func (uc *CountEntitiesForInvalidationUseCase) countSet(ctx context.Context, tenant string, id uint, inv distributionset.Invalidation) (distributionset.InvalidationCount, error) {
	var (
		c   distributionset.InvalidationCount
		err error
	)
	if c.AutoAssignments, err = uc.filterRepo.CountByAutoAssignDistributionSet(ctx, tenant, id); err != nil {
		return c, err
	}
	if inv.CancelsActions() {
		if c.Actions, err = uc.actionRepo.CountActiveByDistributionSet(ctx, tenant, id); err != nil {
			return c, err
		}
	}
	if inv.StopRollouts {
		if c.Rollouts, err = uc.rolloutRepo.CountByDistributionSet(ctx, tenant, id, vo.StoppableStatuses); err != nil {
			return c, err
		}
	}
	return c, nil
}
