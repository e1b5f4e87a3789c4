package db

import (
	"gorm.io/gorm"
)

// ForTenant restricts a query to rows owned by the given tenant.
//
// Example usage:
//
//	db.Model(&models.ActionModel{}).Scopes(db.ForTenant(tenant)).Where("active = ?", true).Count(&n)
func ForTenant(tenant string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant = ?", tenant)
	}
}

// Page applies a bounded limit/offset window, used by chunked batch processing.
func Page(offset, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			db = db.Limit(limit)
		}
		if offset > 0 {
			db = db.Offset(offset)
		}
		return db
	}
}
