package mappers

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// ActionMapper handles the conversion between actions and persistence models.
type ActionMapper interface {
	// ToEntity converts a persistence model to a domain entity.
	ToEntity(model *models.ActionModel) (*action.Action, error)

	// ToModel converts a domain entity to a persistence model.
	ToModel(entity *action.Action) (*models.ActionModel, error)

	// ToEntities converts multiple persistence models to domain entities.
	ToEntities(models []*models.ActionModel) ([]*action.Action, error)

	StatusToEntity(model *models.ActionStatusModel) (*action.ActionStatusEntry, error)
	StatusToModel(entry *action.ActionStatusEntry) (*models.ActionStatusModel, error)
}

// ActionMapperImpl is the concrete implementation of ActionMapper.
type ActionMapperImpl struct{}

// NewActionMapper creates a new action mapper.
func NewActionMapper() ActionMapper {
	return &ActionMapperImpl{}
}

// ToEntity converts a persistence model to a domain entity.
func (m *ActionMapperImpl) ToEntity(model *models.ActionModel) (*action.Action, error) {
	if model == nil {
		return nil, nil
	}

	entity, err := action.ReconstructActionWithParams(action.ActionReconstructParams{
		ID:                model.ID,
		Tenant:            model.Tenant,
		TargetID:          model.TargetID,
		ControllerID:      model.ControllerID,
		DistributionSetID: model.DistributionSetID,
		RolloutID:         model.RolloutID,
		RolloutGroupID:    model.RolloutGroupID,
		Status:            vo.Status(model.Status),
		Active:            model.Active,
		ActionType:        vo.ActionType(model.ActionType),
		ForcedTime:        model.ForcedTime,
		ForcedLatched:     model.ForcedLatched,
		Weight:            model.Weight,
		InitiatedBy:       model.InitiatedBy,
		Version:           model.Version,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct action entity: %w", err)
	}

	return entity, nil
}

// ToModel converts a domain entity to a persistence model.
func (m *ActionMapperImpl) ToModel(entity *action.Action) (*models.ActionModel, error) {
	if entity == nil {
		return nil, nil
	}

	return &models.ActionModel{
		ID:                entity.ID(),
		Tenant:            entity.Tenant(),
		TargetID:          entity.TargetID(),
		ControllerID:      entity.ControllerID(),
		DistributionSetID: entity.DistributionSetID(),
		RolloutID:         entity.RolloutID(),
		RolloutGroupID:    entity.RolloutGroupID(),
		Status:            entity.Status().String(),
		Active:            entity.IsActive(),
		ActiveKey:         entity.ActiveKey(),
		ActionType:        entity.ActionType().String(),
		ForcedTime:        entity.ForcedTime(),
		ForcedLatched:     entity.ForcedLatched(),
		Weight:            entity.Weight(),
		InitiatedBy:       entity.InitiatedBy(),
		Version:           entity.Version(),
		CreatedAt:         entity.CreatedAt(),
		UpdatedAt:         entity.UpdatedAt(),
	}, nil
}

// ToEntities converts multiple persistence models to domain entities.
func (m *ActionMapperImpl) ToEntities(modelList []*models.ActionModel) ([]*action.Action, error) {
	return mapper.MapSlicePtrWithID(modelList, m.ToEntity, func(model *models.ActionModel) uint { return model.ID })
}

// StatusToEntity converts a status log row to a domain entry.
func (m *ActionMapperImpl) StatusToEntity(model *models.ActionStatusModel) (*action.ActionStatusEntry, error) {
	if model == nil {
		return nil, nil
	}

	var messages []string
	if len(model.Messages) > 0 {
		if err := json.Unmarshal(model.Messages, &messages); err != nil {
			return nil, fmt.Errorf("failed to decode action status messages: %w", err)
		}
	}

	return action.ReconstructActionStatusEntry(
		model.ID,
		model.Tenant,
		model.ActionID,
		vo.Status(model.Status),
		messages,
		model.Code,
		model.OccurredAt,
	), nil
}

// StatusToModel converts a domain entry to a status log row.
func (m *ActionMapperImpl) StatusToModel(entry *action.ActionStatusEntry) (*models.ActionStatusModel, error) {
	if entry == nil {
		return nil, nil
	}

	messages, err := json.Marshal(entry.Messages())
	if err != nil {
		return nil, fmt.Errorf("failed to encode action status messages: %w", err)
	}

	return &models.ActionStatusModel{
		ID:         entry.ID(),
		Tenant:     entry.Tenant(),
		ActionID:   entry.ActionID(),
		Status:     entry.Status().String(),
		Messages:   datatypes.JSON(messages),
		Code:       entry.Code(),
		OccurredAt: entry.OccurredAt(),
	}, nil
}
