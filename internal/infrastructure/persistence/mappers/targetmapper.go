package mappers

import (
	"fmt"

	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// TargetMapper handles the conversion between targets and persistence models.
type TargetMapper interface {
	// ToEntity converts a persistence model to a domain entity.
	ToEntity(model *models.TargetModel) (*target.Target, error)

	// ToModel converts a domain entity to a persistence model. The
	// auto-confirmation row is attached when active.
	ToModel(entity *target.Target) (*models.TargetModel, error)

	// ToEntities converts multiple persistence models to domain entities.
	ToEntities(models []*models.TargetModel) ([]*target.Target, error)
}

// TargetMapperImpl is the concrete implementation of TargetMapper.
type TargetMapperImpl struct{}

// NewTargetMapper creates a new target mapper.
func NewTargetMapper() TargetMapper {
	return &TargetMapperImpl{}
}

// ToEntity converts a persistence model to a domain entity.
func (m *TargetMapperImpl) ToEntity(model *models.TargetModel) (*target.Target, error) {
	if model == nil {
		return nil, nil
	}

	var autoConfirmation *target.AutoConfirmation
	if model.AutoConfirmation != nil {
		autoConfirmation = &target.AutoConfirmation{
			Initiator:   model.AutoConfirmation.Initiator,
			Remark:      model.AutoConfirmation.Remark,
			ActivatedAt: model.AutoConfirmation.ActivatedAt,
		}
	}

	entity, err := target.ReconstructTargetWithParams(target.TargetReconstructParams{
		ID:                         model.ID,
		Tenant:                     model.Tenant,
		ControllerID:               model.ControllerID,
		Name:                       model.Name,
		UpdateStatus:               target.UpdateStatus(model.UpdateStatus),
		AssignedDistributionSetID:  model.AssignedDistributionSetID,
		InstalledDistributionSetID: model.InstalledDistributionSetID,
		InstalledAt:                model.InstalledAt,
		AutoConfirmation:           autoConfirmation,
		Version:                    model.Version,
		CreatedAt:                  model.CreatedAt,
		UpdatedAt:                  model.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct target entity: %w", err)
	}

	return entity, nil
}

// ToModel converts a domain entity to a persistence model.
func (m *TargetMapperImpl) ToModel(entity *target.Target) (*models.TargetModel, error) {
	if entity == nil {
		return nil, nil
	}

	model := &models.TargetModel{
		ID:                         entity.ID(),
		Tenant:                     entity.Tenant(),
		ControllerID:               entity.ControllerID(),
		Name:                       entity.Name(),
		UpdateStatus:               entity.UpdateStatus().String(),
		AssignedDistributionSetID:  entity.AssignedDistributionSetID(),
		InstalledDistributionSetID: entity.InstalledDistributionSetID(),
		InstalledAt:                entity.InstalledAt(),
		Version:                    entity.Version(),
		CreatedAt:                  entity.CreatedAt(),
		UpdatedAt:                  entity.UpdatedAt(),
	}
	if ac := entity.AutoConfirmation(); ac != nil {
		model.AutoConfirmation = &models.TargetAutoConfirmationModel{
			TargetID:    entity.ID(),
			Tenant:      entity.Tenant(),
			Initiator:   ac.Initiator,
			Remark:      ac.Remark,
			ActivatedAt: ac.ActivatedAt,
		}
	}

	return model, nil
}

// ToEntities converts multiple persistence models to domain entities.
func (m *TargetMapperImpl) ToEntities(modelList []*models.TargetModel) ([]*target.Target, error) {
	return mapper.MapSlicePtrWithID(modelList, m.ToEntity, func(model *models.TargetModel) uint { return model.ID })
}
