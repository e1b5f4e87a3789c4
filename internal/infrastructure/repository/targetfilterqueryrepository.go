package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// TargetFilterQueryRepositoryImpl implements the targetfilter.Repository interface.
type TargetFilterQueryRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.TargetFilterQueryMapper
	logger logger.Interface
}

// NewTargetFilterQueryRepository creates a new target filter query repository instance.
func NewTargetFilterQueryRepository(gormDB *gorm.DB, logger logger.Interface) targetfilter.Repository {
	return &TargetFilterQueryRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewTargetFilterQueryMapper(),
		logger: logger,
	}
}

// Create stores a new filter.
func (r *TargetFilterQueryRepositoryImpl) Create(ctx context.Context, f *targetfilter.TargetFilterQuery) error {
	model := r.mapper.ToModel(f)

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		if errors.IsDuplicateError(err) {
			return errors.NewConflictError("target filter query already exists", f.Name())
		}
		r.logger.Errorw("failed to create target filter query", "name", f.Name(), "error", err)
		return fmt.Errorf("failed to create target filter query: %w", err)
	}

	f.SetID(model.ID)
	return nil
}

// Update writes the filter under optimistic locking.
func (r *TargetFilterQueryRepositoryImpl) Update(ctx context.Context, f *targetfilter.TargetFilterQuery) error {
	model := r.mapper.ToModel(f)

	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Model(&models.TargetFilterQueryModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]any{
			"query":                             model.Query,
			"auto_assign_distribution_set_id":   model.AutoAssignDistributionSetID,
			"auto_assign_action_type":           model.AutoAssignActionType,
			"auto_assign_confirmation_required": model.AutoAssignConfirmationRequired,
			"auto_assign_initiated_by":          model.AutoAssignInitiatedBy,
			"updated_at":                        model.UpdatedAt,
			"version":                           model.Version + 1,
		})

	if result.Error != nil {
		r.logger.Errorw("failed to update target filter query", "id", model.ID, "error", result.Error)
		return fmt.Errorf("failed to update target filter query: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return versionConflict("target filter query", model.ID)
	}

	f.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves a filter by its ID.
func (r *TargetFilterQueryRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*targetfilter.TargetFilterQuery, error) {
	var model models.TargetFilterQueryModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get target filter query by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get target filter query: %w", err)
	}

	return r.mapper.ToEntity(&model), nil
}

// ListWithAutoAssignment returns the filters of every tenant carrying an auto-assigned set.
func (r *TargetFilterQueryRepositoryImpl) ListWithAutoAssignment(ctx context.Context) ([]*targetfilter.TargetFilterQuery, error) {
	var modelList []models.TargetFilterQueryModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Where("auto_assign_distribution_set_id IS NOT NULL").
		Order("tenant ASC, id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list auto-assign filters", "error", err)
		return nil, fmt.Errorf("failed to list auto-assign filters: %w", err)
	}

	return r.mapper.ToEntities(modelList), nil
}

// ListByAutoAssignDistributionSet returns the filters auto-assigning the set.
func (r *TargetFilterQueryRepositoryImpl) ListByAutoAssignDistributionSet(ctx context.Context, tenant string, distributionSetID uint) ([]*targetfilter.TargetFilterQuery, error) {
	var modelList []models.TargetFilterQueryModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant)).
		Where("auto_assign_distribution_set_id = ?", distributionSetID).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list filters by auto-assign set", "distribution_set_id", distributionSetID, "error", err)
		return nil, fmt.Errorf("failed to list target filter queries: %w", err)
	}

	return r.mapper.ToEntities(modelList), nil
}

// CountByAutoAssignDistributionSet counts the filters auto-assigning the set.
func (r *TargetFilterQueryRepositoryImpl) CountByAutoAssignDistributionSet(ctx context.Context, tenant string, distributionSetID uint) (int64, error) {
	var count int64

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.TargetFilterQueryModel{}).
		Scopes(db.ForTenant(tenant)).
		Where("auto_assign_distribution_set_id = ?", distributionSetID).
		Count(&count).Error
	if err != nil {
		r.logger.Errorw("failed to count filters by auto-assign set", "distribution_set_id", distributionSetID, "error", err)
		return 0, fmt.Errorf("failed to count target filter queries: %w", err)
	}
	return count, nil
}
