package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/rolloutd/internal/infrastructure/persistence/models"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/shared/mapper"
)

// ActionStatusRepositoryImpl implements the action.StatusRepository interface.
type ActionStatusRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.ActionMapper
	logger logger.Interface
}

// NewActionStatusRepository creates a new action status repository instance.
func NewActionStatusRepository(gormDB *gorm.DB, logger logger.Interface) action.StatusRepository {
	return &ActionStatusRepositoryImpl{
		db:     gormDB,
		mapper: mappers.NewActionMapper(),
		logger: logger,
	}
}

// Create appends an entry to the status log.
func (r *ActionStatusRepositoryImpl) Create(ctx context.Context, entry *action.ActionStatusEntry) error {
	model, err := r.mapper.StatusToModel(entry)
	if err != nil {
		r.logger.Errorw("failed to map action status entry", "action_id", entry.ActionID(), "error", err)
		return fmt.Errorf("failed to map action status entry: %w", err)
	}

	tx := db.GetTxFromContext(ctx, r.db)
	if err := tx.Create(model).Error; err != nil {
		r.logger.Errorw("failed to create action status", "action_id", entry.ActionID(), "error", err)
		return fmt.Errorf("failed to create action status: %w", err)
	}

	return entry.SetID(model.ID)
}

// ListByAction returns the status log of an action in the order it was written.
func (r *ActionStatusRepositoryImpl) ListByAction(ctx context.Context, tenant string, actionID uint) ([]*action.ActionStatusEntry, error) {
	var modelList []*models.ActionStatusModel

	tx := db.GetTxFromContext(ctx, r.db)
	err := tx.Scopes(db.ForTenant(tenant)).
		Where("action_id = ?", actionID).
		Order("id ASC").
		Find(&modelList).Error
	if err != nil {
		r.logger.Errorw("failed to list action statuses", "action_id", actionID, "error", err)
		return nil, fmt.Errorf("failed to list action statuses: %w", err)
	}

	return mapper.MapSlicePtrWithID(modelList, r.mapper.StatusToEntity, func(m *models.ActionStatusModel) uint { return m.ID })
}
