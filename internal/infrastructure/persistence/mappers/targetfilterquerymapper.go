package mappers

import (
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// TargetFilterQueryMapper handles the conversion between stored filters and persistence models.
type TargetFilterQueryMapper interface {
	ToEntity(model *models.TargetFilterQueryModel) *targetfilter.TargetFilterQuery
	ToModel(entity *targetfilter.TargetFilterQuery) *models.TargetFilterQueryModel
	ToEntities(models []models.TargetFilterQueryModel) []*targetfilter.TargetFilterQuery
}

// TargetFilterQueryMapperImpl is the concrete implementation of TargetFilterQueryMapper.
type TargetFilterQueryMapperImpl struct{}

// NewTargetFilterQueryMapper creates a new target filter query mapper.
func NewTargetFilterQueryMapper() TargetFilterQueryMapper {
	return &TargetFilterQueryMapperImpl{}
}

func (m *TargetFilterQueryMapperImpl) ToEntity(model *models.TargetFilterQueryModel) *targetfilter.TargetFilterQuery {
	if model == nil {
		return nil
	}
	return targetfilter.ReconstructTargetFilterQuery(
		model.ID,
		model.Tenant,
		model.Name,
		model.Query,
		model.AutoAssignDistributionSetID,
		actionvo.ActionType(model.AutoAssignActionType),
		model.AutoAssignConfirmationRequired,
		model.AutoAssignInitiatedBy,
		model.Version,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func (m *TargetFilterQueryMapperImpl) ToModel(entity *targetfilter.TargetFilterQuery) *models.TargetFilterQueryModel {
	if entity == nil {
		return nil
	}
	return &models.TargetFilterQueryModel{
		ID:                             entity.ID(),
		Tenant:                         entity.Tenant(),
		Name:                           entity.Name(),
		Query:                          entity.Query(),
		AutoAssignDistributionSetID:    entity.AutoAssignDistributionSetID(),
		AutoAssignActionType:           entity.AutoAssignActionType().String(),
		AutoAssignConfirmationRequired: entity.AutoAssignConfirmationRequired(),
		AutoAssignInitiatedBy:          entity.AutoAssignInitiatedBy(),
		Version:                        entity.Version(),
		CreatedAt:                      entity.CreatedAt(),
		UpdatedAt:                      entity.UpdatedAt(),
	}
}

func (m *TargetFilterQueryMapperImpl) ToEntities(modelList []models.TargetFilterQueryModel) []*targetfilter.TargetFilterQuery {
	return mapper.MapSlice(modelList, func(model models.TargetFilterQueryModel) *targetfilter.TargetFilterQuery {
		return m.ToEntity(&model)
	})
}
