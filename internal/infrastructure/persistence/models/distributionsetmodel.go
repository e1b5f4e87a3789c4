package models

import (
	"time"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// DistributionSetModel represents the database persistence model for distribution sets.
type DistributionSetModel struct {
	ID        uint   `gorm:"primarykey"`
	Tenant    string `gorm:"not null;size:64;uniqueIndex:idx_ds_tenant_name_version,priority:1"`
	Name      string `gorm:"not null;size:128;uniqueIndex:idx_ds_tenant_name_version,priority:2"`
	DSVersion string `gorm:"column:ds_version;not null;size:64;uniqueIndex:idx_ds_tenant_name_version,priority:3"`
	Complete  bool   `gorm:"not null;default:false"`
	Valid     bool   `gorm:"not null;default:true"`
	Locked    bool   `gorm:"not null;default:false"`
	Version   int    `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM.
func (DistributionSetModel) TableName() string {
	return constants.TableDistributionSets
}
