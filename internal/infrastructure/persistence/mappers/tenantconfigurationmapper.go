package mappers

import (
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// TenantConfigurationMapper converts between tenant overrides and GORM models
type TenantConfigurationMapper interface {
	ToDomain(model *models.TenantConfigurationModel) *tenantconfig.TenantConfiguration
	ToModel(entity *tenantconfig.TenantConfiguration) *models.TenantConfigurationModel
	ToDomainList(models []*models.TenantConfigurationModel) []*tenantconfig.TenantConfiguration
}

type tenantConfigurationMapper struct{}

// NewTenantConfigurationMapper creates a new TenantConfigurationMapper
func NewTenantConfigurationMapper() TenantConfigurationMapper {
	return &tenantConfigurationMapper{}
}

func (m *tenantConfigurationMapper) ToDomain(model *models.TenantConfigurationModel) *tenantconfig.TenantConfiguration {
	if model == nil {
		return nil
	}
	return tenantconfig.ReconstructTenantConfiguration(
		model.ID,
		model.Tenant,
		tenantconfig.Key(model.ConfigKey),
		model.Value,
		model.UpdatedBy,
		model.Version,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func (m *tenantConfigurationMapper) ToModel(entity *tenantconfig.TenantConfiguration) *models.TenantConfigurationModel {
	if entity == nil {
		return nil
	}
	return &models.TenantConfigurationModel{
		ID:        entity.ID(),
		Tenant:    entity.Tenant(),
		ConfigKey: string(entity.Key()),
		Value:     entity.Value(),
		UpdatedBy: entity.UpdatedBy(),
		Version:   entity.Version(),
		CreatedAt: entity.CreatedAt(),
		UpdatedAt: entity.UpdatedAt(),
	}
}

func (m *tenantConfigurationMapper) ToDomainList(modelList []*models.TenantConfigurationModel) []*tenantconfig.TenantConfiguration {
	return mapper.MapSlice(modelList, m.ToDomain)
}
