package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// RolloutModel represents the database persistence model for rollouts.
type RolloutModel struct {
	ID                   uint   `gorm:"primarykey"`
	Tenant               string `gorm:"not null;size:64;index:idx_rollout_tenant_status,priority:1"`
	Name                 string `gorm:"not null;size:128"`
	Description          string `gorm:"size:512"`
	DistributionSetID    uint   `gorm:"not null;index:idx_rollout_ds"`
	TargetFilterQuery    string `gorm:"not null;size:1024"`
	ActionType           string `gorm:"not null;size:16;default:forced"`
	ForcedTime           *time.Time
	Weight               *int
	StartAt              *time.Time
	Status               string `gorm:"not null;size:16;index:idx_rollout_tenant_status,priority:2"`
	TotalTargets         int64  `gorm:"not null;default:0"`
	SuccessConditionType string `gorm:"not null;size:16;default:threshold"`
	SuccessThreshold     int    `gorm:"not null;default:100"`
	ErrorConditionType   string `gorm:"not null;size:16;default:threshold"`
	ErrorThreshold       int    `gorm:"not null;default:0"`
	ErrorAction          string `gorm:"not null;size:16;default:pause"`
	ConfirmationRequired bool   `gorm:"not null;default:false"`
	CreatedBy            string `gorm:"size:64"`
	Deleted              bool   `gorm:"not null;default:false"`
	Version              int    `gorm:"not null;default:1"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName specifies the table name for GORM.
func (RolloutModel) TableName() string {
	return constants.TableRollouts
}

// BeforeCreate hook for GORM.
func (m *RolloutModel) BeforeCreate(tx *gorm.DB) error {
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// RolloutGroupModel represents the database persistence model for rollout groups.
type RolloutGroupModel struct {
	ID                   uint    `gorm:"primarykey"`
	Tenant               string  `gorm:"not null;size:64"`
	RolloutID            uint    `gorm:"not null;index:idx_rollout_group_rollout_position,priority:1"`
	Position             int     `gorm:"not null;index:idx_rollout_group_rollout_position,priority:2"`
	Name                 string  `gorm:"not null;size:128"`
	TargetPercentage     float64 `gorm:"not null"`
	TargetFilterQuery    string  `gorm:"size:1024"`
	TotalTargets         int64   `gorm:"not null;default:0"`
	Status               string  `gorm:"not null;size:16"`
	SuccessConditionType string  `gorm:"not null;size:16"`
	SuccessThreshold     int     `gorm:"not null;default:0"`
	ErrorConditionType   string  `gorm:"not null;size:16"`
	ErrorThreshold       int     `gorm:"not null;default:0"`
	ErrorAction          string  `gorm:"not null;size:16"`
	SuccessAction        string  `gorm:"not null;size:16;default:nextgroup"`
	ConfirmationRequired bool    `gorm:"not null;default:false"`
	Version              int     `gorm:"not null;default:1"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName specifies the table name for GORM.
func (RolloutGroupModel) TableName() string {
	return constants.TableRolloutGroups
}

// RolloutTargetGroupModel assigns a target to one group of a rollout.
type RolloutTargetGroupModel struct {
	ID             uint   `gorm:"primarykey"`
	Tenant         string `gorm:"not null;size:64"`
	RolloutID      uint   `gorm:"not null;uniqueIndex:idx_rollout_target,priority:1"`
	TargetID       uint   `gorm:"not null;uniqueIndex:idx_rollout_target,priority:2"`
	RolloutGroupID uint   `gorm:"not null;index:idx_rollout_target_group"`
	ControllerID   string `gorm:"not null;size:256"`
	CreatedAt      time.Time
}

// TableName specifies the table name for GORM.
func (RolloutTargetGroupModel) TableName() string {
	return constants.TableRolloutTargetGroups
}
