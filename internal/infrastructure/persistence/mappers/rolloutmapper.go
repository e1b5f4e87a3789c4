package mappers

import (
	"fmt"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// RolloutMapper handles the conversion between rollouts, groups and persistence models.
type RolloutMapper interface {
	ToEntity(model *models.RolloutModel) (*rollout.Rollout, error)
	ToModel(entity *rollout.Rollout) (*models.RolloutModel, error)
	ToEntities(models []*models.RolloutModel) ([]*rollout.Rollout, error)

	GroupToEntity(model *models.RolloutGroupModel) (*rollout.Group, error)
	GroupToModel(entity *rollout.Group) (*models.RolloutGroupModel, error)
	GroupsToEntities(models []*models.RolloutGroupModel) ([]*rollout.Group, error)
}

// RolloutMapperImpl is the concrete implementation of RolloutMapper.
type RolloutMapperImpl struct{}

// NewRolloutMapper creates a new rollout mapper.
func NewRolloutMapper() RolloutMapper {
	return &RolloutMapperImpl{}
}

// ToEntity converts a persistence model to a domain entity.
func (m *RolloutMapperImpl) ToEntity(model *models.RolloutModel) (*rollout.Rollout, error) {
	if model == nil {
		return nil, nil
	}

	entity, err := rollout.ReconstructRolloutWithParams(rollout.RolloutReconstructParams{
		ID:                   model.ID,
		Tenant:               model.Tenant,
		Name:                 model.Name,
		Description:          model.Description,
		DistributionSetID:    model.DistributionSetID,
		TargetFilterQuery:    model.TargetFilterQuery,
		ActionType:           actionvo.ActionType(model.ActionType),
		ForcedTime:           model.ForcedTime,
		Weight:               model.Weight,
		StartAt:              model.StartAt,
		Status:               vo.RolloutStatus(model.Status),
		TotalTargets:         model.TotalTargets,
		SuccessCondition:     toCondition(model.SuccessConditionType, model.SuccessThreshold),
		ErrorCondition:       toCondition(model.ErrorConditionType, model.ErrorThreshold),
		ErrorAction:          vo.ErrorAction(model.ErrorAction),
		ConfirmationRequired: model.ConfirmationRequired,
		CreatedBy:            model.CreatedBy,
		Deleted:              model.Deleted,
		Version:              model.Version,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct rollout entity: %w", err)
	}

	return entity, nil
}

// ToModel converts a domain entity to a persistence model.
func (m *RolloutMapperImpl) ToModel(entity *rollout.Rollout) (*models.RolloutModel, error) {
	if entity == nil {
		return nil, nil
	}

	success := entity.SuccessCondition()
	failure := entity.ErrorCondition()
	return &models.RolloutModel{
		ID:                   entity.ID(),
		Tenant:               entity.Tenant(),
		Name:                 entity.Name(),
		Description:          entity.Description(),
		DistributionSetID:    entity.DistributionSetID(),
		TargetFilterQuery:    entity.TargetFilterQuery(),
		ActionType:           entity.ActionType().String(),
		ForcedTime:           entity.ForcedTime(),
		Weight:               entity.Weight(),
		StartAt:              entity.StartAt(),
		Status:               entity.Status().String(),
		TotalTargets:         entity.TotalTargets(),
		SuccessConditionType: string(success.Type),
		SuccessThreshold:     success.Threshold,
		ErrorConditionType:   string(failure.Type),
		ErrorThreshold:       failure.Threshold,
		ErrorAction:          string(entity.ErrorAction()),
		ConfirmationRequired: entity.IsConfirmationRequired(),
		CreatedBy:            entity.CreatedBy(),
		Deleted:              entity.IsDeleted(),
		Version:              entity.Version(),
		CreatedAt:            entity.CreatedAt(),
		UpdatedAt:            entity.UpdatedAt(),
	}, nil
}

// ToEntities converts multiple persistence models to domain entities.
func (m *RolloutMapperImpl) ToEntities(modelList []*models.RolloutModel) ([]*rollout.Rollout, error) {
	return mapper.MapSlicePtrWithID(modelList, m.ToEntity, func(model *models.RolloutModel) uint { return model.ID })
}

// GroupToEntity converts a group row to a domain entity.
func (m *RolloutMapperImpl) GroupToEntity(model *models.RolloutGroupModel) (*rollout.Group, error) {
	if model == nil {
		return nil, nil
	}

	entity, err := rollout.ReconstructGroupWithParams(rollout.GroupReconstructParams{
		ID:                   model.ID,
		Tenant:               model.Tenant,
		RolloutID:            model.RolloutID,
		Position:             model.Position,
		Name:                 model.Name,
		TargetPercentage:     model.TargetPercentage,
		TargetFilterQuery:    model.TargetFilterQuery,
		TotalTargets:         model.TotalTargets,
		Status:               vo.GroupStatus(model.Status),
		SuccessCondition:     toCondition(model.SuccessConditionType, model.SuccessThreshold),
		ErrorCondition:       toCondition(model.ErrorConditionType, model.ErrorThreshold),
		ErrorAction:          vo.ErrorAction(model.ErrorAction),
		SuccessAction:        vo.SuccessAction(model.SuccessAction),
		ConfirmationRequired: model.ConfirmationRequired,
		Version:              model.Version,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct rollout group entity: %w", err)
	}

	return entity, nil
}

// GroupToModel converts a domain entity to a group row.
func (m *RolloutMapperImpl) GroupToModel(entity *rollout.Group) (*models.RolloutGroupModel, error) {
	if entity == nil {
		return nil, nil
	}

	success := entity.SuccessCondition()
	failure := entity.ErrorCondition()
	return &models.RolloutGroupModel{
		ID:                   entity.ID(),
		Tenant:               entity.Tenant(),
		RolloutID:            entity.RolloutID(),
		Position:             entity.Position(),
		Name:                 entity.Name(),
		TargetPercentage:     entity.TargetPercentage(),
		TargetFilterQuery:    entity.TargetFilterQuery(),
		TotalTargets:         entity.TotalTargets(),
		Status:               entity.Status().String(),
		SuccessConditionType: string(success.Type),
		SuccessThreshold:     success.Threshold,
		ErrorConditionType:   string(failure.Type),
		ErrorThreshold:       failure.Threshold,
		ErrorAction:          string(entity.ErrorAction()),
		SuccessAction:        string(entity.SuccessAction()),
		ConfirmationRequired: entity.IsConfirmationRequired(),
		Version:              entity.Version(),
		CreatedAt:            entity.CreatedAt(),
		UpdatedAt:            entity.UpdatedAt(),
	}, nil
}

// GroupsToEntities converts multiple group rows to domain entities.
func (m *RolloutMapperImpl) GroupsToEntities(modelList []*models.RolloutGroupModel) ([]*rollout.Group, error) {
	return mapper.MapSlicePtrWithID(modelList, m.GroupToEntity, func(model *models.RolloutGroupModel) uint { return model.ID })
}

func toCondition(conditionType string, threshold int) vo.Condition {
	return vo.Condition{Type: vo.ConditionType(conditionType), Threshold: threshold}
}
