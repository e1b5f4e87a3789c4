package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// ActionModel represents the database persistence model for actions.
type ActionModel struct {
	ID                uint   `gorm:"primarykey"`
	Tenant            string `gorm:"not null;size:64;index:idx_action_tenant_target,priority:1"`
	TargetID          uint   `gorm:"not null;index:idx_action_tenant_target,priority:2"`
	ControllerID      string `gorm:"not null;size:256"`
	DistributionSetID uint   `gorm:"not null;index:idx_action_ds_active,priority:1"`
	RolloutID         *uint  `gorm:"index:idx_action_rollout"`
	RolloutGroupID    *uint  `gorm:"index:idx_action_group_status,priority:1"`
	Status            string `gorm:"not null;size:32;index:idx_action_group_status,priority:2"`
	Active            bool   `gorm:"not null;default:false;index:idx_action_ds_active,priority:2"`
	// ActiveKey holds "targetID:dsID" while the action is active and NULL
	// afterwards, so the unique index admits one active action per pair.
	ActiveKey     *string `gorm:"size:64;uniqueIndex:idx_action_active_key"`
	ActionType    string  `gorm:"not null;size:16"`
	ForcedTime    *time.Time
	ForcedLatched bool `gorm:"not null;default:false"`
	Weight        *int
	InitiatedBy   string `gorm:"size:64"`
	Version       int    `gorm:"not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName specifies the table name for GORM.
func (ActionModel) TableName() string {
	return constants.TableActions
}

// BeforeCreate hook for GORM.
func (m *ActionModel) BeforeCreate(tx *gorm.DB) error {
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// ActionStatusModel is one row of the append-only action status log.
type ActionStatusModel struct {
	ID         uint           `gorm:"primarykey"`
	Tenant     string         `gorm:"not null;size:64"`
	ActionID   uint           `gorm:"not null;index:idx_action_status_action"`
	Status     string         `gorm:"not null;size:32"`
	Messages   datatypes.JSON `gorm:"type:json"`
	Code       *int
	OccurredAt time.Time `gorm:"not null"`
	CreatedAt  time.Time
}

// TableName specifies the table name for GORM.
func (ActionStatusModel) TableName() string {
	return constants.TableActionStatuses
}
