package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/targetquery"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// TargetRepositoryImpl implements the target.Repository interface.
type TargetRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.TargetMapper
	logger logger.Interface
}

// NewTargetRepository creates a new target repository instance.
func NewTargetRepository(gormDB *gorm.DB, logger logger.Interface) target.Repository {
	return &TargetRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewTargetMapper(),
		logger: logger,
	}
}

// Create creates a new target in the database.
func (r *TargetRepositoryImpl) Create(ctx context.Context, t *target.Target) error {
	model, err := r.mapper.ToModel(t)
	if err != nil {
		r.logger.Errorw("failed to map target entity to model", "error", err)
		return fmt.Errorf("failed to map target entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		if errors.IsDuplicateError(err) {
			return errors.NewConflictError("target already exists", t.ControllerID())
		}
		r.logger.Errorw("failed to create target in database", "controller_id", t.ControllerID(), "error", err)
		return fmt.Errorf("failed to create target: %w", err)
	}

	if err := t.SetID(model.ID); err != nil {
		r.logger.Errorw("failed to set target ID", "error", err)
		return fmt.Errorf("failed to set target ID: %w", err)
	}

	r.logger.Infow("target created successfully", "id", model.ID, "controller_id", model.ControllerID)
	return nil
}

// Update writes the target under optimistic locking and keeps the
// auto-confirmation row in step with the entity.
func (r *TargetRepositoryImpl) Update(ctx context.Context, t *target.Target) error {
	model, err := r.mapper.ToModel(t)
	if err != nil {
		r.logger.Errorw("failed to map target entity to model", "id", t.ID(), "error", err)
		return fmt.Errorf("failed to map target entity: %w", err)
	}

	err = db.GetTxFromContext(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.TargetModel{}).
			Where("id = ? AND version = ?", model.ID, model.Version).
			Updates(map[string]any{
				"name":                          model.Name,
				"update_status":                 model.UpdateStatus,
				"assigned_distribution_set_id":  model.AssignedDistributionSetID,
				"installed_distribution_set_id": model.InstalledDistributionSetID,
				"installed_at":                  model.InstalledAt,
				"updated_at":                    model.UpdatedAt,
				"version":                       model.Version + 1,
			})
		if result.Error != nil {
			r.logger.Errorw("failed to update target", "id", model.ID, "error", result.Error)
			return fmt.Errorf("failed to update target: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return versionConflict("target", model.ID)
		}

		if model.AutoConfirmation == nil {
			if err := tx.Where("target_id = ?", model.ID).Delete(&models.TargetAutoConfirmationModel{}).Error; err != nil {
				return fmt.Errorf("failed to clear auto confirmation: %w", err)
			}
			return nil
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"initiator", "remark", "activated_at"}),
		}).Create(model.AutoConfirmation).Error
		if err != nil {
			return fmt.Errorf("failed to store auto confirmation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves a target by its ID.
func (r *TargetRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*target.Target, error) {
	var model models.TargetModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Preload("AutoConfirmation").Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get target by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return r.mapper.ToEntity(&model)
}

// GetByControllerID retrieves a target by its controller ID.
func (r *TargetRepositoryImpl) GetByControllerID(ctx context.Context, tenant, controllerID string) (*target.Target, error) {
	var model models.TargetModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Preload("AutoConfirmation").Scopes(db.ForTenant(tenant)).
		Where("controller_id = ?", controllerID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get target by controller ID", "controller_id", controllerID, "error", err)
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return r.mapper.ToEntity(&model)
}

// ListByControllerIDs retrieves the targets with the given controller IDs. Unknown IDs are skipped.
func (r *TargetRepositoryImpl) ListByControllerIDs(ctx context.Context, tenant string, controllerIDs []string) ([]*target.Target, error) {
	if len(controllerIDs) == 0 {
		return nil, nil
	}

	var modelList []*models.TargetModel
	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Preload("AutoConfirmation").Scopes(db.ForTenant(tenant)).
		Where("controller_id IN ?", controllerIDs).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list targets by controller IDs", "count", len(controllerIDs), "error", err)
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	return r.mapper.ToEntities(modelList)
}

// CountByFilter counts targets matching a filter query.
func (r *TargetRepositoryImpl) CountByFilter(ctx context.Context, tenant, query string, createdBefore *time.Time) (int64, error) {
	filter, err := targetquery.Compile(query)
	if err != nil {
		return 0, errors.NewValidationError("invalid target filter query", err.Error()).WithCause(err)
	}

	var count int64
	tx := db.GetTxFromContext(ctx, r.db)
	q := tx.Model(&models.TargetModel{}).Scopes(targetsOf(tenant), filter)
	if createdBefore != nil {
		q = q.Where(constants.TableTargets+".created_at <= ?", *createdBefore)
	}
	if err := q.Count(&count).Error; err != nil {
		r.logger.Errorw("failed to count targets by filter", "query", query, "error", err)
		return 0, fmt.Errorf("failed to count targets: %w", err)
	}
	return count, nil
}

// FindRolloutCandidates returns matching targets not yet in any group of the rollout.
func (r *TargetRepositoryImpl) FindRolloutCandidates(ctx context.Context, tenant string, c target.RolloutCandidates, limit int) ([]*target.Target, error) {
	filter, err := targetquery.Compile(c.Query)
	if err != nil {
		return nil, errors.NewValidationError("invalid target filter query", err.Error()).WithCause(err)
	}
	scopes := []func(*gorm.DB) *gorm.DB{targetsOf(tenant), filter}
	if c.GroupQuery != "" {
		groupFilter, err := targetquery.Compile(c.GroupQuery)
		if err != nil {
			return nil, errors.NewValidationError("invalid group filter query", err.Error()).WithCause(err)
		}
		scopes = append(scopes, groupFilter)
	}

	var modelList []*models.TargetModel
	tx := db.GetTxFromContext(ctx, r.db)
	err = tx.Preload("AutoConfirmation").Scopes(scopes...).
		Where(constants.TableTargets+".created_at <= ?", c.CreatedBefore).
		Where("NOT EXISTS (SELECT 1 FROM "+constants.TableRolloutTargetGroups+" rtg WHERE rtg.rollout_id = ? AND rtg.target_id = "+constants.TableTargets+".id)", c.RolloutID).
		Scopes(db.Page(0, limit)).
		Order(constants.TableTargets + ".id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to find rollout candidates", "rollout_id", c.RolloutID, "error", err)
		return nil, fmt.Errorf("failed to find rollout candidates: %w", err)
	}

	return r.mapper.ToEntities(modelList)
}

// FindWithoutAction returns matching targets that never had an action for the set.
func (r *TargetRepositoryImpl) FindWithoutAction(ctx context.Context, tenant, query string, distributionSetID uint, limit int) ([]*target.Target, error) {
	filter, err := targetquery.Compile(query)
	if err != nil {
		return nil, errors.NewValidationError("invalid target filter query", err.Error()).WithCause(err)
	}

	var modelList []*models.TargetModel
	tx := db.GetTxFromContext(ctx, r.db)
	err = tx.Preload("AutoConfirmation").Scopes(targetsOf(tenant), filter).
		Where("NOT EXISTS (SELECT 1 FROM "+constants.TableActions+" a WHERE a.target_id = "+constants.TableTargets+".id AND a.distribution_set_id = ?)", distributionSetID).
		Scopes(db.Page(0, limit)).
		Order(constants.TableTargets + ".id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to find targets without action", "distribution_set_id", distributionSetID, "error", err)
		return nil, fmt.Errorf("failed to find targets without action: %w", err)
	}

	return r.mapper.ToEntities(modelList)
}

func targetsOf(tenant string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where(constants.TableTargets+".tenant = ?", tenant)
	}
}
