package usecases

import (
	"context"

	"github.com/orris-inc/rolloutd/internal/application/common"
	deploysvc "github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// AutoAssignJob assigns the auto-assign distribution set of every target
// filter to matching targets that never had an action for it.
type AutoAssignJob struct {
	filterRepo targetfilter.Repository
	targetRepo target.Repository
	dsRepo     distributionset.Repository
	assigner   *deploysvc.Assigner
	txMgr      db.Transactor
	publisher  events.EventPublisher
	chunkSize  int
	logger     logger.Interface
}

func NewAutoAssignJob(
	filterRepo targetfilter.Repository,
	targetRepo target.Repository,
	dsRepo distributionset.Repository,
	assigner *deploysvc.Assigner,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	chunkSize int,
	logger logger.Interface,
) *AutoAssignJob {
	if chunkSize <= 0 {
		chunkSize = constants.DefaultTransactionTargets
	}
	return &AutoAssignJob{
		filterRepo: filterRepo,
		targetRepo: targetRepo,
		dsRepo:     dsRepo,
		assigner:   assigner,
		txMgr:      txMgr,
		publisher:  publisher,
		chunkSize:  chunkSize,
		logger:     logger,
	}
}

// Execute returns the number of actions created.
func (j *AutoAssignJob) Execute(ctx context.Context) (int, error) {
	filters, err := j.filterRepo.ListWithAutoAssignment(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, f := range filters {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := j.assignFilter(ctx, f)
		total += n
		if err != nil {
			j.logger.Errorw("auto assignment failed",
				"error", err,
				"tenant", f.Tenant(),
				"filter_id", f.ID(),
				"distribution_set_id", f.AutoAssignDistributionSetID(),
			)
		}
	}
	return total, nil
}

func (j *AutoAssignJob) assignFilter(ctx context.Context, f *targetfilter.TargetFilterQuery) (int, error) {
	dsID := f.AutoAssignDistributionSetID()
	if dsID == nil {
		return 0, nil
	}

	assigned := 0
	for {
		var created int
		stop := false
		err := common.RunAndPublish(ctx, j.txMgr, j.publisher, j.logger, func(txCtx context.Context) error {
			// The set may have been invalidated since the filter was listed.
			ds, err := j.dsRepo.GetByID(txCtx, f.Tenant(), *dsID)
			if err != nil {
				return err
			}
			if ds == nil || ds.CheckAssignable() != nil {
				stop = true
				return nil
			}

			targets, err := j.targetRepo.FindWithoutAction(txCtx, f.Tenant(), f.Query(), *dsID, j.chunkSize)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				stop = true
				return nil
			}

			res, err := j.assigner.Assign(txCtx, ds, targets, deploysvc.AssignParams{
				ActionType:           f.AutoAssignActionType(),
				ConfirmationRequired: f.AutoAssignConfirmationRequired(),
				InitiatedBy:          f.AutoAssignInitiatedBy(),
			}, biztime.NowUTC())
			if err != nil {
				return err
			}
			created = len(res.ActionIDs)
			return nil
		})
		if err != nil {
			return assigned, err
		}
		if stop || created == 0 {
			break
		}
		assigned += created
	}

	if assigned > 0 {
		j.logger.Infow("auto assigned distribution set",
			"tenant", f.Tenant(),
			"filter_id", f.ID(),
			"distribution_set_id", *dsID,
			"actions", assigned,
		)
	}
	return assigned, nil
}

