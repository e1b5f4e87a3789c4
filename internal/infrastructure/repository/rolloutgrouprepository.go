package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// RolloutGroupRepositoryImpl implements the rollout.GroupRepository interface.
type RolloutGroupRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.RolloutMapper
	logger logger.Interface
}

// NewRolloutGroupRepository creates a new rollout group repository instance.
func NewRolloutGroupRepository(gormDB *gorm.DB, logger logger.Interface) rollout.GroupRepository {
	return &RolloutGroupRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewRolloutMapper(),
		logger: logger,
	}
}

// CreateBatch inserts the groups of a rollout and assigns their IDs.
func (r *RolloutGroupRepositoryImpl) CreateBatch(ctx context.Context, groups []*rollout.Group) error {
	if len(groups) == 0 {
		return nil
	}

	modelList := make([]*models.RolloutGroupModel, 0, len(groups))
	for _, g := range groups {
		model, err := r.mapper.GroupToModel(g)
		if err != nil {
			return fmt.Errorf("failed to map rollout group entity: %w", err)
		}
		modelList = append(modelList, model)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(&modelList).Error; err != nil {
		r.logger.Errorw("failed to create rollout groups", "rollout_id", groups[0].RolloutID(), "error", err)
		return fmt.Errorf("failed to create rollout groups: %w", err)
	}

	for i, g := range groups {
		if err := g.SetID(modelList[i].ID); err != nil {
			return fmt.Errorf("failed to set rollout group ID: %w", err)
		}
	}
	return nil
}

// Update writes the group under optimistic locking.
func (r *RolloutGroupRepositoryImpl) Update(ctx context.Context, g *rollout.Group) error {
	model, err := r.mapper.GroupToModel(g)
	if err != nil {
		r.logger.Errorw("failed to map rollout group entity to model", "id", g.ID(), "error", err)
		return fmt.Errorf("failed to map rollout group entity: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	result := tx.Model(&models.RolloutGroupModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]any{
			"status":        model.Status,
			"total_targets": model.TotalTargets,
			"updated_at":    model.UpdatedAt,
			"version":       model.Version + 1,
		})

	if result.Error != nil {
		r.logger.Errorw("failed to update rollout group", "id", model.ID, "error", result.Error)
		return fmt.Errorf("failed to update rollout group: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return versionConflict("rollout group", model.ID)
	}

	g.SyncVersion(model.Version + 1)
	return nil
}

// GetByID retrieves a group by its ID.
func (r *RolloutGroupRepositoryImpl) GetByID(ctx context.Context, tenant string, id uint) (*rollout.Group, error) {
	var model models.RolloutGroupModel

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Errorw("failed to get rollout group by ID", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get rollout group: %w", err)
	}

	return r.mapper.GroupToEntity(&model)
}

// ListByRollout returns the groups of a rollout ordered by position.
func (r *RolloutGroupRepositoryImpl) ListByRollout(ctx context.Context, tenant string, rolloutID uint) ([]*rollout.Group, error) {
	var modelList []*models.RolloutGroupModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant)).
		Where("rollout_id = ?", rolloutID).
		Order("position ASC, id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list rollout groups", "rollout_id", rolloutID, "error", err)
		return nil, fmt.Errorf("failed to list rollout groups: %w", err)
	}

	return r.mapper.GroupsToEntities(modelList)
}

// DeleteByRollout removes every group of a rollout.
func (r *RolloutGroupRepositoryImpl) DeleteByRollout(ctx context.Context, tenant string, rolloutID uint) error {
	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).Where("rollout_id = ?", rolloutID).Delete(&models.RolloutGroupModel{}).Error; err != nil {
		r.logger.Errorw("failed to delete rollout groups", "rollout_id", rolloutID, "error", err)
		return fmt.Errorf("failed to delete rollout groups: %w", err)
	}
	return nil
}

// AddMembers assigns targets to a group.
func (r *RolloutGroupRepositoryImpl) AddMembers(ctx context.Context, tenant string, rolloutID, groupID uint, members []rollout.GroupMember) error {
	if len(members) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]*models.RolloutTargetGroupModel, 0, len(members))
	for _, m := range members {
		rows = append(rows, &models.RolloutTargetGroupModel{
			Tenant:         tenant,
			RolloutID:      rolloutID,
			RolloutGroupID: groupID,
			TargetID:       m.TargetID,
			ControllerID:   m.ControllerID,
			CreatedAt:      now,
		})
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.CreateInBatches(rows, createBatchSize).Error; err != nil {
		r.logger.Errorw("failed to add rollout group members", "group_id", groupID, "count", len(members), "error", err)
		return fmt.Errorf("failed to add rollout group members: %w", err)
	}
	return nil
}

// CountMembers counts the targets assigned to a group.
func (r *RolloutGroupRepositoryImpl) CountMembers(ctx context.Context, tenant string, groupID uint) (int64, error) {
	var count int64

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Model(&models.RolloutTargetGroupModel{}).
		Scopes(db.ForTenant(tenant)).
		Where("rollout_group_id = ?", groupID).
		Count(&count).Error
	if err != nil {
		r.logger.Errorw("failed to count rollout group members", "group_id", groupID, "error", err)
		return 0, fmt.Errorf("failed to count rollout group members: %w", err)
	}
	return count, nil
}

// ListMembersWithoutAction returns members of the group that have no action for it yet.
func (r *RolloutGroupRepositoryImpl) ListMembersWithoutAction(ctx context.Context, tenant string, groupID uint, limit int) ([]rollout.GroupMember, error) {
	var rows []models.RolloutTargetGroupModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Table(constants.TableRolloutTargetGroups+" AS rtg").
		Select("rtg.target_id, rtg.controller_id").
		Where("rtg.tenant = ? AND rtg.rollout_group_id = ?", tenant, groupID).
		Where("NOT EXISTS (SELECT 1 FROM "+constants.TableActions+" a WHERE a.rollout_group_id = rtg.rollout_group_id AND a.target_id = rtg.target_id)").
		Order("rtg.target_id ASC").
		Scopes(db.Page(0, limit)).
		Scan(&rows).Error
	if err != nil {
		r.logger.Errorw("failed to list rollout group members without action", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to list rollout group members: %w", err)
	}

	members := make([]rollout.GroupMember, 0, len(rows))
	for _, row := range rows {
		members = append(members, rollout.GroupMember{TargetID: row.TargetID, ControllerID: row.ControllerID})
	}
	return members, nil
}

// DeleteMembersByRollout removes the group membership of a rollout.
func (r *RolloutGroupRepositoryImpl) DeleteMembersByRollout(ctx context.Context, tenant string, rolloutID uint) error {
	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Scopes(db.ForTenant(tenant)).Where("rollout_id = ?", rolloutID).Delete(&models.RolloutTargetGroupModel{}).Error; err != nil {
		r.logger.Errorw("failed to delete rollout group members", "rollout_id", rolloutID, "error", err)
		return fmt.Errorf("failed to delete rollout group members: %w", err)
	}
	return nil
}
