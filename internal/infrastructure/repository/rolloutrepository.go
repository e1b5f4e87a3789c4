package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// RolloutRepositoryImpl implements the rollout.Repository interface.
type RolloutRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.RolloutMapper
	logger logger.Interface
}

// NewRolloutRepository creates a new rollout repository instance.
func NewRolloutRepository(gormDB *gorm.DB, logger logger.Interface) rollout.Repository {
	return &RolloutRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewRolloutMapper(),
		logger: logger,
	}
}

// Create creates a new rollout in the database.
func (r *RolloutRepositoryImpl) Create(ctx context.Context, ro *rollout.Rollout) error {
	model, err := r.mapper.ToModel(ro)
	if err != nil {
		r.logger.Errorw("failed to map rollout entity to model", "error", err)
		return fmt.Errorf("failed to map rollout entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		r.logger.Errorw("failed to create rollout in database", "name", ro.Name(), "error", err)
		return fmt.Errorf("failed to create rollout: %w", err)
	}

	if err := ro.SetID(model.ID); err != nil {
		r.logger.Errorw("failed to set rollout ID", "error", err)
		return fmt.Errorf("failed to set rollout ID: %w", err)
	}

	r.logger.Infow("rollout created successfully", "id", model.ID, "name", model.Name, "tenant", model.Tenant)
	return nil
}

// Update writes the rollout under optimistic locking.
func (r *RolloutRepositoryImpl) Update(ctx context.Context, ro *rollout.Rollout) error {
	model, err := r.mapper.ToModel(ro)
	if err != nil {
		r.logger.Errorw("failed to map rollout entity to model", "id", ro.ID(), "error", err)
		return fmt.Errorf("failed to map rollout entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Model(&models.RolloutModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]any{
			"status":        model.Status,
			"start_at":      model.StartAt,
			"total_targets": model.TotalTargets,
			"deleted":       model.Deleted,
			"updated_at":    model.UpdatedAt,
			"version":       model.Version + 1,
		})

	if result.Error != nil {
		r.logger.Errorw("failed to update rollout", "id", model.ID, "error", result.Error)
		return fmt.Errorf("failed to update rollout: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return versionConflict("rollout", model.ID)
	}

	ro.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves a rollout by its ID.
func (r *RolloutRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*rollout.Rollout, error) {
	var model models.RolloutModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get rollout by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get rollout: %w", err)
	}

	return r.mapper.ToEntity(&model)
}

// ListByStatuses returns the rollouts of a tenant in any of the statuses, oldest first.
func (r *RolloutRepositoryImpl) ListByStatuses(ctx context.Context, tenant string, statuses []vo.RolloutStatus) ([]*rollout.Rollout, error) {
	var modelList []*models.RolloutModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant), withRolloutStatuses(statuses)).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list rollouts by status", "tenant", tenant, "error", err)
		return nil, fmt.Errorf("failed to list rollouts: %w", err)
	}

	return r.mapper.ToEntities(modelList)
}

// ListByDistributionSet returns the live rollouts of a set, optionally limited to statuses.
func (r *RolloutRepositoryImpl) ListByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, statuses []vo.RolloutStatus) ([]*rollout.Rollout, error) {
	var modelList []*models.RolloutModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant), withRolloutStatuses(statuses)).
		Where("distribution_set_id = ? AND deleted = ?", distributionSetID, false).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list rollouts by distribution set", "distribution_set_id", distributionSetID, "error", err)
		return nil, fmt.Errorf("failed to list rollouts: %w", err)
	}

	return r.mapper.ToEntities(modelList)
}

// CountByDistributionSet counts the live rollouts of a set, optionally limited to statuses.
func (r *RolloutRepositoryImpl) CountByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, statuses []vo.RolloutStatus) (int64, error) {
	var count int64

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.RolloutModel{}).
		Scopes(db.ForTenant(tenant), withRolloutStatuses(statuses)).
		Where("distribution_set_id = ? AND deleted = ?", distributionSetID, false).
		Count(&count).Error
	if err != nil {
		r.logger.Errorw("failed to count rollouts by distribution set", "distribution_set_id", distributionSetID, "error", err)
		return 0, fmt.Errorf("failed to count rollouts: %w", err)
	}
	return count, nil
}

// ListTenants returns the tenants owning at least one rollout in the statuses.
func (r *RolloutRepositoryImpl) ListTenants(ctx context.Context, statuses []vo.RolloutStatus) ([]string, error) {
	var tenants []string

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.RolloutModel{}).
		Scopes(withRolloutStatuses(statuses)).
		Distinct("tenant").
		Order("tenant ASC").
		Pluck("tenant", &tenants).Error
	if err != nil {
		r.logger.Errorw("failed to list rollout tenants", "error", err)
		return nil, fmt.Errorf("failed to list rollout tenants: %w", err)
	}
	return tenants, nil
}

// Delete removes the rollout row permanently.
func (r *RolloutRepositoryImpl) Delete(ctx context.Context, tenant string, id uint) error {
	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Scopes(db.ForTenant(tenant)).Delete(&models.RolloutModel{}, id)
	if result.Error != nil {
		r.logger.Errorw("failed to delete rollout", "id", id, "error", result.Error)
		return fmt.Errorf("failed to delete rollout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return rollout.ErrRolloutNotFound
	}

	r.logger.Infow("rollout deleted successfully", "id", id, "tenant", tenant)
	return nil
}

func withRolloutStatuses(statuses []vo.RolloutStatus) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if len(statuses) == 0 {
			return q
		}
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = s.String()
		}
		return q.Where("status IN ?", values)
	}
}
