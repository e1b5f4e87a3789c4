package models

import (
	"time"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// TargetFilterQueryModel represents the database persistence model for stored target filters.
type TargetFilterQueryModel struct {
	ID                             uint   `gorm:"primarykey"`
	Tenant                         string `gorm:"not null;size:64;uniqueIndex:idx_tfq_tenant_name,priority:1"`
	Name                           string `gorm:"not null;size:128;uniqueIndex:idx_tfq_tenant_name,priority:2"`
	Query                          string `gorm:"not null;size:1024"`
	AutoAssignDistributionSetID    *uint  `gorm:"index:idx_tfq_auto_assign_ds"`
	AutoAssignActionType           string `gorm:"size:16"`
	AutoAssignConfirmationRequired bool   `gorm:"not null;default:false"`
	AutoAssignInitiatedBy          string `gorm:"size:64"`
	Version                        int    `gorm:"not null;default:1"`
	CreatedAt                      time.Time
	UpdatedAt                      time.Time
}

// TableName specifies the table name for GORM.
func (TargetFilterQueryModel) TableName() string {
	return constants.TableTargetFilterQueries
}
