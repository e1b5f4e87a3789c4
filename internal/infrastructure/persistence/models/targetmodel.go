package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// TargetModel represents the database persistence model for targets.
type TargetModel struct {
	ID                         uint   `gorm:"primarykey"`
	Tenant                     string `gorm:"not null;size:64;uniqueIndex:idx_target_tenant_controller,priority:1"`
	ControllerID               string `gorm:"not null;size:256;uniqueIndex:idx_target_tenant_controller,priority:2"`
	Name                       string `gorm:"not null;size:128"`
	UpdateStatus               string `gorm:"not null;size:16;default:unknown;index:idx_target_update_status"`
	AssignedDistributionSetID  *uint  `gorm:"index:idx_target_assigned_ds"`
	InstalledDistributionSetID *uint  `gorm:"index:idx_target_installed_ds"`
	InstalledAt                *time.Time
	Version                    int `gorm:"not null;default:1"`
	CreatedAt                  time.Time
	UpdatedAt                  time.Time

	AutoConfirmation *TargetAutoConfirmationModel `gorm:"foreignKey:TargetID"`
}

// TableName specifies the table name for GORM.
func (TargetModel) TableName() string {
	return constants.TableTargets
}

// BeforeCreate hook for GORM.
func (m *TargetModel) BeforeCreate(tx *gorm.DB) error {
	if m.UpdateStatus == "" {
		m.UpdateStatus = "unknown"
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// TargetAutoConfirmationModel stores the auto-confirmation state of a target.
// A row exists only while auto-confirmation is active.
type TargetAutoConfirmationModel struct {
	ID          uint   `gorm:"primarykey"`
	TargetID    uint   `gorm:"not null;uniqueIndex:idx_auto_confirmation_target"`
	Tenant      string `gorm:"not null;size:64"`
	Initiator   string `gorm:"size:64"`
	Remark      string `gorm:"size:512"`
	ActivatedAt time.Time
}

// TableName specifies the table name for GORM.
func (TargetAutoConfirmationModel) TableName() string {
	return constants.TableTargetAutoConfirmations
}
