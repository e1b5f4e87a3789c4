package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// DistributionSetRepositoryImpl implements the distributionset.Repository interface.
type DistributionSetRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.DistributionSetMapper
	logger logger.Interface
}

// NewDistributionSetRepository creates a new distribution set repository instance.
func NewDistributionSetRepository(gormDB *gorm.DB, logger logger.Interface) distributionset.Repository {
	return &DistributionSetRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewDistributionSetMapper(),
		logger: logger,
	}
}

// Create creates a new distribution set in the database.
func (r *DistributionSetRepositoryImpl) Create(ctx context.Context, d *distributionset.DistributionSet) error {
	model := r.mapper.ToModel(d)

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		if errors.IsDuplicateError(err) {
			return errors.NewConflictError("distribution set already exists", d.Name()+":"+d.DSVersion())
		}
		r.logger.Errorw("failed to create distribution set in database", "name", d.Name(), "error", err)
		return fmt.Errorf("failed to create distribution set: %w", err)
	}

	d.SetID(model.ID)
	r.logger.Infow("distribution set created successfully", "id", model.ID, "name", model.Name, "version", model.DSVersion)
	return nil
}

// Update writes the set under optimistic locking.
func (r *DistributionSetRepositoryImpl) Update(ctx context.Context, d *distributionset.DistributionSet) error {
	model := r.mapper.ToModel(d)

	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Model(&models.DistributionSetModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]any{
			"complete":   model.Complete,
			"valid":      model.Valid,
			"locked":     model.Locked,
			"updated_at": model.UpdatedAt,
			"version":    model.Version + 1,
		})

	if result.Error != nil {
		r.logger.Errorw("failed to update distribution set", "id", model.ID, "error", result.Error)
		return fmt.Errorf("failed to update distribution set: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return versionConflict("distribution set", model.ID)
	}

	d.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves a distribution set by its ID.
func (r *DistributionSetRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*distributionset.DistributionSet, error) {
	var model models.DistributionSetModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get distribution set by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get distribution set: %w", err)
	}

	return r.mapper.ToEntity(&model), nil
}
