package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/shared/utils"
)

// GroupDefinition describes one group of a new rollout. Unset conditions
// inherit the rollout's defaults.
type GroupDefinition struct {
	Name                 string  `json:"name" validate:"max=128"`
	TargetPercentage     float64 `json:"target_percentage" validate:"gt=0,lte=100"`
	TargetFilterQuery    string  `json:"target_filter_query"`
	SuccessThreshold     *int    `json:"success_threshold" validate:"omitempty,gte=0,lte=100"`
	ErrorThreshold       *int    `json:"error_threshold" validate:"omitempty,gte=0,lte=100"`
	ErrorAction          string  `json:"error_action" validate:"omitempty,oneof=pause none"`
	ConfirmationRequired *bool   `json:"confirmation_required"`
}

type CreateRolloutCommand struct {
	Tenant            string     `json:"tenant" validate:"required,tenant"`
	Name              string     `json:"name" validate:"required,max=128"`
	Description       string     `json:"description" validate:"max=512"`
	DistributionSetID uint       `json:"distribution_set_id" validate:"required"`
	TargetFilterQuery string     `json:"target_filter_query" validate:"required"`
	ActionType        string     `json:"action_type" validate:"omitempty,actiontype"`
	ForcedTime        *time.Time `json:"forced_time" validate:"required_if=ActionType timeforced"`
	Weight            *int       `json:"weight" validate:"omitempty,gte=0,lte=1000"`
	StartAt           *time.Time `json:"start_at"`

	// Either Groups or GroupCount. GroupCount splits the targets evenly.
	Groups     []GroupDefinition `json:"groups" validate:"omitempty,dive"`
	GroupCount int               `json:"group_count" validate:"omitempty,gte=1,lte=1000"`

	// SuccessThreshold defaults to 100. A nil ErrorThreshold disables the error condition.
	SuccessThreshold     *int   `json:"success_threshold" validate:"omitempty,gte=0,lte=100"`
	ErrorThreshold       *int   `json:"error_threshold" validate:"omitempty,gte=0,lte=100"`
	ErrorAction          string `json:"error_action" validate:"omitempty,oneof=pause none"`
	ConfirmationRequired bool   `json:"confirmation_required"`
	CreatedBy            string `json:"created_by"`
}

type CreateRolloutResult struct {
	RolloutID    uint    `json:"rollout_id"`
	TotalTargets int64   `json:"total_targets"`
	GroupSizes   []int64 `json:"group_sizes"`
}

// CreateRolloutUseCase snapshots the matching targets and stores the
// rollout with its planned groups. Group membership is materialized by the
// control loop.
type CreateRolloutUseCase struct {
	rolloutRepo rollout.Repository
	groupRepo   rollout.GroupRepository
	targetRepo  target.Repository
	dsRepo      distributionset.Repository
	txMgr       db.Transactor
	publisher   events.EventPublisher
	logger      logger.Interface
}

func NewCreateRolloutUseCase(
	rolloutRepo rollout.Repository,
	groupRepo rollout.GroupRepository,
	targetRepo target.Repository,
	dsRepo distributionset.Repository,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *CreateRolloutUseCase {
	return &CreateRolloutUseCase{
		rolloutRepo: rolloutRepo,
		groupRepo:   groupRepo,
		targetRepo:  targetRepo,
		dsRepo:      dsRepo,
		txMgr:       txMgr,
		publisher:   publisher,
		logger:      logger,
	}
}

func (uc *CreateRolloutUseCase) Execute(ctx context.Context, cmd CreateRolloutCommand) (*CreateRolloutResult, error) {
	uc.logger.Infow("executing create rollout use case",
		"tenant", cmd.Tenant,
		"name", cmd.Name,
		"distribution_set_id", cmd.DistributionSetID,
	)

	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	if len(cmd.Groups) == 0 && cmd.GroupCount == 0 {
		return nil, errors.NewValidationError("either groups or group_count is required")
	}
	if len(cmd.Groups) > 0 && cmd.GroupCount > 0 {
		return nil, errors.NewValidationError("groups and group_count are mutually exclusive")
	}

	success, failure, err := rolloutConditions(cmd.SuccessThreshold, cmd.ErrorThreshold)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	ds, err := uc.dsRepo.GetByID(ctx, cmd.Tenant, cmd.DistributionSetID)
	if err != nil {
		uc.logger.Errorw("failed to get distribution set", "error", err, "distribution_set_id", cmd.DistributionSetID)
		return nil, fmt.Errorf("failed to get distribution set: %w", err)
	}
	if ds == nil {
		return nil, errors.NewNotFoundError("distribution set not found").WithCause(distributionset.ErrDistributionSetNotFound)
	}

	now := biztime.NowUTC()
	total, err := uc.targetRepo.CountByFilter(ctx, cmd.Tenant, cmd.TargetFilterQuery, &now)
	if err != nil {
		return nil, err
	}

	percents := groupPercentages(cmd)
	sizes, err := rollout.PlanGroupSizes(total, percents)
	if err != nil {
		return nil, errors.NewValidationError(err.Error()).WithCause(err)
	}

	r, err := rollout.NewRollout(rollout.NewRolloutParams{
		Tenant:               cmd.Tenant,
		Name:                 cmd.Name,
		Description:          cmd.Description,
		DistributionSetID:    cmd.DistributionSetID,
		TargetFilterQuery:    cmd.TargetFilterQuery,
		ActionType:           actionvo.ActionType(cmd.ActionType),
		ForcedTime:           cmd.ForcedTime,
		Weight:               cmd.Weight,
		StartAt:              cmd.StartAt,
		TotalTargets:         total,
		SuccessCondition:     success,
		ErrorCondition:       failure,
		ErrorAction:          vo.ErrorAction(cmd.ErrorAction),
		ConfirmationRequired: cmd.ConfirmationRequired,
		CreatedBy:            cmd.CreatedBy,
	}, now)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	err = common.RunAndPublish(ctx, uc.txMgr, uc.publisher, uc.logger, func(txCtx context.Context) error {
		if err := uc.rolloutRepo.Create(txCtx, r); err != nil {
			return err
		}
		groups, err := buildGroups(r, cmd, sizes, now)
		if err != nil {
			return err
		}
		if err := uc.groupRepo.CreateBatch(txCtx, groups); err != nil {
			return err
		}
		common.RecordEvents(txCtx, r)
		for _, g := range groups {
			common.RecordEvents(txCtx, g)
		}
		return nil
	})
	if err != nil {
		uc.logger.Errorw("failed to create rollout", "error", err, "tenant", cmd.Tenant, "name", cmd.Name)
		return nil, err
	}

	uc.logger.Infow("rollout created",
		"rollout_id", r.ID(),
		"total_targets", total,
		"groups", len(sizes),
	)
	return &CreateRolloutResult{RolloutID: r.ID(), TotalTargets: total, GroupSizes: sizes}, nil
}

func rolloutConditions(successThreshold, errorThreshold *int) (vo.Condition, vo.Condition, error) {
	success, err := vo.NewThresholdCondition(100)
	if err != nil {
		return vo.Condition{}, vo.Condition{}, err
	}
	if successThreshold != nil {
		if success, err = vo.NewThresholdCondition(*successThreshold); err != nil {
			return vo.Condition{}, vo.Condition{}, err
		}
	}
	failure := vo.NoCondition()
	if errorThreshold != nil {
		if failure, err = vo.NewThresholdCondition(*errorThreshold); err != nil {
			return vo.Condition{}, vo.Condition{}, err
		}
	}
	return success, failure, nil
}

func groupPercentages(cmd CreateRolloutCommand) []float64 {
	if len(cmd.Groups) == 0 {
		return rollout.EqualPercentages(cmd.GroupCount)
	}
	out := make([]float64, len(cmd.Groups))
	for i, g := range cmd.Groups {
		out[i] = g.TargetPercentage
	}
	return out
}

func buildGroups(r *rollout.Rollout, cmd CreateRolloutCommand, sizes []int64, now time.Time) ([]*rollout.Group, error) {
	groups := make([]*rollout.Group, 0, len(sizes))
	percents := groupPercentages(cmd)
	for i, size := range sizes {
		p := rollout.NewGroupParams{
			Position:         i,
			TargetPercentage: percents[i],
			TotalTargets:     size,
		}
		if i < len(cmd.Groups) {
			def := cmd.Groups[i]
			p.Name = def.Name
			p.TargetFilterQuery = def.TargetFilterQuery
			p.ErrorAction = vo.ErrorAction(def.ErrorAction)
			p.ConfirmationRequired = def.ConfirmationRequired
			if def.SuccessThreshold != nil {
				c, err := vo.NewThresholdCondition(*def.SuccessThreshold)
				if err != nil {
					return nil, errors.NewValidationError(err.Error())
				}
				p.SuccessCondition = &c
			}
			if def.ErrorThreshold != nil {
				c, err := vo.NewThresholdCondition(*def.ErrorThreshold)
				if err != nil {
					return nil, errors.NewValidationError(err.Error())
				}
				p.ErrorCondition = &c
			}
		}
		g, err := rollout.NewGroup(r, p, now)
		if err != nil {
			return nil, errors.NewValidationError(err.Error())
		}
		groups = append(groups, g)
	}
	return groups, nil
}
