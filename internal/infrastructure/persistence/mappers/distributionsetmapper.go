package mappers

import (
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
)

// DistributionSetMapper handles the conversion between distribution sets and persistence models.
type DistributionSetMapper interface {
	ToEntity(model *models.DistributionSetModel) *distributionset.DistributionSet
	ToModel(entity *distributionset.DistributionSet) *models.DistributionSetModel
}

// DistributionSetMapperImpl is the concrete implementation of DistributionSetMapper.
type DistributionSetMapperImpl struct{}

// NewDistributionSetMapper creates a new distribution set mapper.
func NewDistributionSetMapper() DistributionSetMapper {
	return &DistributionSetMapperImpl{}
}

func (m *DistributionSetMapperImpl) ToEntity(model *models.DistributionSetModel) *distributionset.DistributionSet {
	if model == nil {
		return nil
	}
	return distributionset.ReconstructDistributionSet(
		model.ID,
		model.Tenant,
		model.Name,
		model.DSVersion,
		model.Complete,
		model.Valid,
		model.Locked,
		model.Version,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func (m *DistributionSetMapperImpl) ToModel(entity *distributionset.DistributionSet) *models.DistributionSetModel {
	if entity == nil {
		return nil
	}
	return &models.DistributionSetModel{
		ID:        entity.ID(),
		Tenant:    entity.Tenant(),
		Name:      entity.Name(),
		DSVersion: entity.DSVersion(),
		Complete:  entity.IsComplete(),
		Valid:     entity.IsValid(),
		Locked:    entity.IsLocked(),
		Version:   entity.Version(),
		CreatedAt: entity.CreatedAt(),
		UpdatedAt: entity.UpdatedAt(),
	}
}
