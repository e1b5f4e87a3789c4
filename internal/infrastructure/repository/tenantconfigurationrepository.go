package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// TenantConfigurationRepository implements tenantconfig.Repository
type TenantConfigurationRepository struct {
	db     *gorm.DB
	logger logger.Interface
	mapper mappers.TenantConfigurationMapper
}

// NewTenantConfigurationRepository creates a new TenantConfigurationRepository
func NewTenantConfigurationRepository(gormDB *gorm.DB, logger logger.Interface) tenantconfig.Repository {
	return &TenantConfigurationRepository{
		db:     gormDB,
		logger: logger,
		mapper: mappers.NewTenantConfigurationMapper(),
	}
}

// ListByTenant retrieves all overrides of a tenant
func (r *TenantConfigurationRepository) ListByTenant(ctx context.Context, tenant string) ([]*tenantconfig.TenantConfiguration, error) {
	var modelList []*models.TenantConfigurationModel

	err := db.GetTxFromContext(ctx, r.db).
		Where("tenant = ?", tenant).
		Order("config_key ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Error("failed to list tenant configuration", "tenant", tenant, "error", err)
		return nil, fmt.Errorf("failed to list tenant configuration: %w", err)
	}

	return r.mapper.ToDomainList(modelList), nil
}

// Upsert creates or updates an override
func (r *TenantConfigurationRepository) Upsert(ctx context.Context, c *tenantconfig.TenantConfiguration) error {
	model := r.mapper.ToModel(c)

	err := db.GetTxFromContext(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "config_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      model.Value,
			"updated_by": model.UpdatedBy,
			"updated_at": model.UpdatedAt,
			"version":    gorm.Expr("version + 1"),
		}),
	}).Create(model).Error
	if err != nil {
		r.logger.Error("failed to upsert tenant configuration", "tenant", c.Tenant(), "key", c.Key(), "error", err)
		return fmt.Errorf("failed to upsert tenant configuration: %w", err)
	}

	// Update the domain entity with the generated ID if it was an insert
	if c.ID() == 0 {
		c.SetID(model.ID)
	}

	return nil
}

// Delete removes an override
func (r *TenantConfigurationRepository) Delete(ctx context.Context, tenant string, key tenantconfig.Key) error {
	result := db.GetTxFromContext(ctx, r.db).
		Where("tenant = ? AND config_key = ?", tenant, string(key)).
		Delete(&models.TenantConfigurationModel{})
	if result.Error != nil {
		r.logger.Error("failed to delete tenant configuration", "tenant", tenant, "key", key, "error", result.Error)
		return fmt.Errorf("failed to delete tenant configuration: %w", result.Error)
	}

	return nil
}
