package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/shared/utils"
)

type AssignDistributionSetCommand struct {
	Tenant               string     `json:"tenant" validate:"required,tenant"`
	ControllerIDs        []string   `json:"controller_ids" validate:"required,min=1,dive,controllerid"`
	DistributionSetID    uint       `json:"distribution_set_id" validate:"required"`
	ActionType           string     `json:"action_type" validate:"omitempty,actiontype"`
	ForcedTime           *time.Time `json:"forced_time" validate:"required_if=ActionType timeforced"`
	Weight               *int       `json:"weight" validate:"omitempty,gte=0,lte=1000"`
	ConfirmationRequired bool       `json:"confirmation_required"`
	InitiatedBy          string     `json:"initiated_by"`
}

type AssignDistributionSetResult struct {
	ActionIDs              []uint `json:"action_ids"`
	Assigned               int    `json:"assigned"`
	AlreadyAssigned        int    `json:"already_assigned"`
	WaitingForConfirmation int    `json:"waiting_for_confirmation"`
}

type AssignDistributionSetUseCase struct {
	targetRepo target.Repository
	dsRepo     distributionset.Repository
	assigner   *services.Assigner
	txMgr      db.Transactor
	publisher  events.EventPublisher
	logger     logger.Interface
}

func NewAssignDistributionSetUseCase(
	targetRepo target.Repository,
	dsRepo distributionset.Repository,
	assigner *services.Assigner,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *AssignDistributionSetUseCase {
	return &AssignDistributionSetUseCase{
		targetRepo: targetRepo,
		dsRepo:     dsRepo,
		assigner:   assigner,
		txMgr:      txMgr,
		publisher:  publisher,
		logger:     logger,
	}
}

func (uc *AssignDistributionSetUseCase) Execute(ctx context.Context, cmd AssignDistributionSetCommand) (*AssignDistributionSetResult, error) {
	uc.logger.Infow("executing assign distribution set use case",
		"tenant", cmd.Tenant,
		"distribution_set_id", cmd.DistributionSetID,
		"targets", len(cmd.ControllerIDs),
	)

	if err := utils.ValidateStruct(cmd); err != nil {
		uc.logger.Errorw("invalid assign distribution set command", "error", err)
		return nil, err
	}
	actionType, err := actionvo.ParseActionType(cmd.ActionType)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	targets, err := uc.targetRepo.ListByControllerIDs(ctx, cmd.Tenant, cmd.ControllerIDs)
	if err != nil {
		uc.logger.Errorw("failed to list targets", "error", err, "tenant", cmd.Tenant)
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	if missing := missingControllers(cmd.ControllerIDs, targets); len(missing) > 0 {
		return nil, errors.NewNotFoundError("target not found", strings.Join(missing, ", ")).
			WithCause(target.ErrTargetNotFound)
	}

	now := biztime.NowUTC()
	ctx, buf := common.WithEventBuffer(ctx)

	var result *services.AssignResult
	err = uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		ds, err := uc.dsRepo.GetByID(txCtx, cmd.Tenant, cmd.DistributionSetID)
		if err != nil {
			return fmt.Errorf("failed to get distribution set: %w", err)
		}
		if ds == nil {
			return errors.NewNotFoundError("distribution set not found").WithCause(distributionset.ErrDistributionSetNotFound)
		}
		if err := ds.CheckAssignable(); err != nil {
			return errors.NewInvalidStateError(err.Error()).WithCause(err)
		}

		result, err = uc.assigner.Assign(txCtx, ds, targets, services.AssignParams{
			ActionType:           actionType,
			ForcedTime:           cmd.ForcedTime,
			Weight:               cmd.Weight,
			ConfirmationRequired: cmd.ConfirmationRequired,
			InitiatedBy:          cmd.InitiatedBy,
		}, now)
		return err
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to assign distribution set",
			"error", err,
			"tenant", cmd.Tenant,
			"distribution_set_id", cmd.DistributionSetID,
		)
		return nil, err
	}
	buf.Flush(uc.publisher, uc.logger)

	uc.logger.Infow("distribution set assigned",
		"tenant", cmd.Tenant,
		"distribution_set_id", cmd.DistributionSetID,
		"assigned", len(result.ActionIDs),
		"already_assigned", result.AlreadyAssigned,
	)

	return &AssignDistributionSetResult{
		ActionIDs:              result.ActionIDs,
		Assigned:               len(result.ActionIDs),
		AlreadyAssigned:        result.AlreadyAssigned,
		WaitingForConfirmation: result.WaitingForConfirmation,
	}, nil
}

func missingControllers(requested []string, found []*target.Target) []string {
	known := make(map[string]struct{}, len(found))
	for _, t := range found {
		known[t.ControllerID()] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
