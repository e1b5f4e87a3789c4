package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

const createBatchSize = 500

// ActionRepositoryImpl implements the action.Repository interface.
type ActionRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.ActionMapper
	logger logger.Interface
}

// NewActionRepository creates a new action repository instance.
func NewActionRepository(gormDB *gorm.DB, logger logger.Interface) action.Repository {
	return &ActionRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewActionMapper(),
		logger: logger,
	}
}

// Create creates a new action in the database.
func (r *ActionRepositoryImpl) Create(ctx context.Context, a *action.Action) error {
	model, err := r.mapper.ToModel(a)
	if err != nil {
		r.logger.Errorw("failed to map action entity to model", "error", err)
		return fmt.Errorf("failed to map action entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		if errors.IsDuplicateError(err) {
			return errors.NewConflictError("active action already exists", action.ActiveKeyFor(a.TargetID(), a.DistributionSetID())).
				WithCause(action.ErrActiveActionExists)
		}
		r.logger.Errorw("failed to create action in database", "target_id", a.TargetID(), "error", err)
		return fmt.Errorf("failed to create action: %w", err)
	}

	if err := a.SetID(model.ID); err != nil {
		return fmt.Errorf("failed to set action ID: %w", err)
	}
	return nil
}

// CreateBatch inserts actions in batches and assigns their IDs.
func (r *ActionRepositoryImpl) CreateBatch(ctx context.Context, actions []*action.Action) error {
	if len(actions) == 0 {
		return nil
	}

	modelList := make([]*models.ActionModel, 0, len(actions))
	for _, a := range actions {
		model, err := r.mapper.ToModel(a)
		if err != nil {
			return fmt.Errorf("failed to map action entity: %w", err)
		}
		modelList = append(modelList, model)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.CreateInBatches(modelList, createBatchSize).Error; err != nil {
		if errors.IsDuplicateError(err) {
			return errors.NewConflictError("active action already exists").WithCause(action.ErrActiveActionExists)
		}
		r.logger.Errorw("failed to create actions in database", "count", len(actions), "error", err)
		return fmt.Errorf("failed to create actions: %w", err)
	}

	for i, a := range actions {
		if err := a.SetID(modelList[i].ID); err != nil {
			return fmt.Errorf("failed to set action ID: %w", err)
		}
	}
	return nil
}

// Update writes the mutable state of an action under optimistic locking.
func (r *ActionRepositoryImpl) Update(ctx context.Context, a *action.Action) error {
	model, err := r.mapper.ToModel(a)
	if err != nil {
		r.logger.Errorw("failed to map action entity to model", "id", a.ID(), "error", err)
		return fmt.Errorf("failed to map action entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Model(&models.ActionModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]any{
			"status":         model.Status,
			"active":         model.Active,
			"active_key":     model.ActiveKey,
			"forced_latched": model.ForcedLatched,
			"updated_at":     model.UpdatedAt,
			"version":        model.Version + 1,
		})

	if result.Error != nil {
		if errors.IsDuplicateError(result.Error) {
			return errors.NewConflictError("active action already exists", action.ActiveKeyFor(a.TargetID(), a.DistributionSetID())).
				WithCause(action.ErrActiveActionExists)
		}
		r.logger.Errorw("failed to update action", "id", model.ID, "error", result.Error)
		return fmt.Errorf("failed to update action: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return versionConflict("action", model.ID)
	}

	a.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves an action by its ID.
func (r *ActionRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*action.Action, error) {
	var model models.ActionModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get action by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	return r.mapper.ToEntity(&model)
}

// FindActiveByTargetAndDistributionSet returns the unique active action for the pair, if any.
func (r *ActionRepositoryImpl) FindActiveByTargetAndDistributionSet(ctx context.Context, tenant string, targetID, distributionSetID uint) (*action.Action, error) {
	var model models.ActionModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant)).
		Where("target_id = ? AND distribution_set_id = ? AND active = ?", targetID, distributionSetID, true).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to find active action", "target_id", targetID, "distribution_set_id", distributionSetID, "error", err)
		return nil, fmt.Errorf("failed to find active action: %w", err)
	}

	return r.mapper.ToEntity(&model)
}

// ListActiveByTarget returns the active actions of a target, oldest first.
func (r *ActionRepositoryImpl) ListActiveByTarget(ctx context.Context, tenant string, targetID uint) ([]*action.Action, error) {
	return r.list(ctx, "failed to list active actions by target", 0, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).Where("target_id = ? AND active = ?", targetID, true)
	})
}

// ListByTargetAndStatus returns the actions of a target in the given status.
func (r *ActionRepositoryImpl) ListByTargetAndStatus(ctx context.Context, tenant string, targetID uint, status vo.Status) ([]*action.Action, error) {
	return r.list(ctx, "failed to list actions by target and status", 0, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).Where("target_id = ? AND status = ?", targetID, status.String())
	})
}

// ListScheduledByTarget returns the not yet started actions of a target.
func (r *ActionRepositoryImpl) ListScheduledByTarget(ctx context.Context, tenant string, targetID uint) ([]*action.Action, error) {
	return r.list(ctx, "failed to list scheduled actions by target", 0, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant), scheduled).Where("target_id = ?", targetID)
	})
}

// ExistsForTargetAndDistributionSet reports whether the target ever had an action for the set.
func (r *ActionRepositoryImpl) ExistsForTargetAndDistributionSet(ctx context.Context, tenant string, targetID, distributionSetID uint) (bool, error) {
	var count int64

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.ActionModel{}).Scopes(db.ForTenant(tenant)).
		Where("target_id = ? AND distribution_set_id = ?", targetID, distributionSetID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		r.logger.Errorw("failed to check action existence", "target_id", targetID, "distribution_set_id", distributionSetID, "error", err)
		return false, fmt.Errorf("failed to check action existence: %w", err)
	}
	return count > 0, nil
}

// ListActiveByDistributionSet returns up to limit active actions of the set.
func (r *ActionRepositoryImpl) ListActiveByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, limit int) ([]*action.Action, error) {
	return r.list(ctx, "failed to list active actions by distribution set", limit, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).Where("distribution_set_id = ? AND active = ?", distributionSetID, true)
	})
}

// CountActiveByDistributionSet counts active actions of the set.
func (r *ActionRepositoryImpl) CountActiveByDistributionSet(ctx context.Context, tenant string, distributionSetID uint) (int64, error) {
	return r.count(ctx, "failed to count active actions by distribution set", func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).Where("distribution_set_id = ? AND active = ?", distributionSetID, true)
	})
}

// ListScheduledByGroup returns up to limit not yet started actions of a rollout group.
func (r *ActionRepositoryImpl) ListScheduledByGroup(ctx context.Context, tenant string, groupID uint, limit int) ([]*action.Action, error) {
	return r.list(ctx, "failed to list scheduled actions by group", limit, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant), scheduled).Where("rollout_group_id = ?", groupID)
	})
}

// ListActiveByRollout returns up to limit active actions of a rollout.
func (r *ActionRepositoryImpl) ListActiveByRollout(ctx context.Context, tenant string, rolloutID uint, limit int) ([]*action.Action, error) {
	return r.list(ctx, "failed to list active actions by rollout", limit, func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).Where("rollout_id = ? AND active = ?", rolloutID, true)
	})
}

// CountGroupStatuses aggregates the action outcomes of one group in a single query.
func (r *ActionRepositoryImpl) CountGroupStatuses(ctx context.Context, tenant string, groupID uint) (action.GroupCounts, error) {
	var row struct {
		Total    int64
		Finished int64
		Failed   int64
		Closed   int64
	}

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.ActionModel{}).Scopes(db.ForTenant(tenant)).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? OR (status = ? AND active = ?) THEN 1 ELSE 0 END), 0) AS finished, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed, "+
				"COALESCE(SUM(CASE WHEN active = ? AND status <> ? THEN 1 ELSE 0 END), 0) AS closed",
			vo.StatusFinished.String(), vo.StatusDownloaded.String(), false,
			vo.StatusError.String(),
			false, vo.StatusScheduled.String(),
		).
		Where("rollout_group_id = ?", groupID).
		Scan(&row).Error
	if err != nil {
		r.logger.Errorw("failed to count group statuses", "group_id", groupID, "error", err)
		return action.GroupCounts{}, fmt.Errorf("failed to count group statuses: %w", err)
	}

	return action.GroupCounts{
		Finished: row.Finished,
		Error:    row.Failed,
		Closed:   row.Closed,
		Total:    row.Total,
	}, nil
}

// CountActiveByRollout counts active actions of a rollout, ignoring the given statuses.
func (r *ActionRepositoryImpl) CountActiveByRollout(ctx context.Context, tenant string, rolloutID uint, exclude ...vo.Status) (int64, error) {
	return r.count(ctx, "failed to count active actions by rollout", func(q *gorm.DB) *gorm.DB {
		q = q.Scopes(db.ForTenant(tenant)).Where("rollout_id = ? AND active = ?", rolloutID, true)
		if len(exclude) > 0 {
			q = q.Where("status NOT IN ?", statusStrings(exclude))
		}
		return q
	})
}

// CountStartedByRollout counts actions of a rollout that ever left SCHEDULED.
func (r *ActionRepositoryImpl) CountStartedByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error) {
	return r.count(ctx, "failed to count started actions by rollout", func(q *gorm.DB) *gorm.DB {
		return q.Scopes(db.ForTenant(tenant)).
			Where("rollout_id = ?", rolloutID).
			Where("status <> ? OR active = ?", vo.StatusScheduled.String(), true)
	})
}

// DeleteScheduledByRollout removes the never started actions of a rollout.
func (r *ActionRepositoryImpl) DeleteScheduledByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error) {
	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Scopes(db.ForTenant(tenant), scheduled).
		Where("rollout_id = ?", rolloutID).
		Delete(&models.ActionModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to delete scheduled actions", "rollout_id", rolloutID, "error", result.Error)
		return 0, fmt.Errorf("failed to delete scheduled actions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteByRollout removes every action of a rollout together with its status log.
func (r *ActionRepositoryImpl) DeleteByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error) {
	tx := db.GetTxFromContext(ctx, r.db)

	actionIDs := tx.Model(&models.ActionModel{}).Select("id").
		Scopes(db.ForTenant(tenant)).
		Where("rollout_id = ?", rolloutID)
	if err := tx.Where("action_id IN (?)", actionIDs).Delete(&models.ActionStatusModel{}).Error; err != nil {
		r.logger.Errorw("failed to delete action statuses", "rollout_id", rolloutID, "error", err)
		return 0, fmt.Errorf("failed to delete action statuses: %w", err)
	}

	result := tx.Scopes(db.ForTenant(tenant)).
		Where("rollout_id = ?", rolloutID).
		Delete(&models.ActionModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to delete actions", "rollout_id", rolloutID, "error", result.Error)
		return 0, fmt.Errorf("failed to delete actions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *ActionRepositoryImpl) list(ctx context.Context, msg string, limit int, scope func(*gorm.DB) *gorm.DB) ([]*action.Action, error) {
	var modelList []*models.ActionModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(scope, db.Page(0, limit)).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw(msg, "error", err)
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	return r.mapper.ToEntities(modelList)
}

func (r *ActionRepositoryImpl) count(ctx context.Context, msg string, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var count int64

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Model(&models.ActionModel{}).Scopes(scope).Count(&count).Error; err != nil {
		r.logger.Errorw(msg, "error", err)
		return 0, fmt.Errorf("%s: %w", msg, err)
	}
	return count, nil
}

func scheduled(q *gorm.DB) *gorm.DB {
	return q.Where("status = ? AND active = ?", vo.StatusScheduled.String(), false)
}

func statusStrings(statuses []vo.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}
