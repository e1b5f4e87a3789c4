package models

import (
	"time"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

// TenantConfigurationModel is the GORM model for tenant_configurations table
type TenantConfigurationModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Tenant    string    `gorm:"column:tenant;type:varchar(64);not null;uniqueIndex:idx_tenant_config_key,priority:1"`
	ConfigKey string    `gorm:"column:config_key;type:varchar(100);not null;uniqueIndex:idx_tenant_config_key,priority:2"`
	Value     string    `gorm:"column:value;type:varchar(512)"`
	UpdatedBy string    `gorm:"column:updated_by;type:varchar(64)"`
	Version   int       `gorm:"column:version;default:1"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name for GORM
func (TenantConfigurationModel) TableName() string {
	return constants.TableTenantConfigurations
}
