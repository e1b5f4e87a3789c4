// Package tenantconfig holds per-tenant overrides of engine behaviour.
package tenantconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrInvalidKey   = errors.New("invalid tenant configuration key")
	ErrInvalidValue = errors.New("invalid tenant configuration value")
)

// Key names a tenant setting.
type Key string

const (
	KeyMultiAssignmentsEnabled Key = "multi_assignments_enabled"
	KeyUserConfirmationEnabled Key = "user_confirmation_enabled"
)

var validKeys = map[Key]bool{
	KeyMultiAssignmentsEnabled: true,
	KeyUserConfirmationEnabled: true,
}

// Settings is the resolved configuration of a tenant.
type Settings struct {
	MultiAssignmentsEnabled bool
	UserConfirmationEnabled bool
}

// TenantConfiguration is one stored override.
type TenantConfiguration struct {
	id        uint
	tenant    string
	key       Key
	value     string
	updatedBy string
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// NewTenantConfiguration creates an override after validating the value for its key.
func NewTenantConfiguration(tenant string, key Key, value, updatedBy string, now time.Time) (*TenantConfiguration, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	if !validKeys[key] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if _, err := strconv.ParseBool(value); err != nil {
		return nil, fmt.Errorf("%w: %s expects a boolean", ErrInvalidValue, key)
	}
	return &TenantConfiguration{
		tenant:    tenant,
		key:       key,
		value:     value,
		updatedBy: updatedBy,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructTenantConfiguration rebuilds an override from persistence.
func ReconstructTenantConfiguration(id uint, tenant string, key Key, value, updatedBy string, version int, createdAt, updatedAt time.Time) *TenantConfiguration {
	return &TenantConfiguration{
		id:        id,
		tenant:    tenant,
		key:       key,
		value:     value,
		updatedBy: updatedBy,
		version:   version,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// Getters
func (c *TenantConfiguration) ID() uint             { return c.id }
func (c *TenantConfiguration) Tenant() string       { return c.tenant }
func (c *TenantConfiguration) Key() Key             { return c.key }
func (c *TenantConfiguration) Value() string        { return c.value }
func (c *TenantConfiguration) UpdatedBy() string    { return c.updatedBy }
func (c *TenantConfiguration) Version() int         { return c.version }
func (c *TenantConfiguration) CreatedAt() time.Time { return c.createdAt }
func (c *TenantConfiguration) UpdatedAt() time.Time { return c.updatedAt }

// SetID sets the override ID (only for persistence layer use)
func (c *TenantConfiguration) SetID(id uint) {
	c.id = id
}

// BoolValue parses the stored value.
func (c *TenantConfiguration) BoolValue() (bool, error) {
	return strconv.ParseBool(c.value)
}

// Apply folds the override into resolved settings. Unparseable values are ignored.
func (c *TenantConfiguration) Apply(s *Settings) {
	v, err := c.BoolValue()
	if err != nil {
		return
	}
	switch c.key {
	case KeyMultiAssignmentsEnabled:
		s.MultiAssignmentsEnabled = v
	case KeyUserConfirmationEnabled:
		s.UserConfirmationEnabled = v
	}
}

// Repository persists tenant overrides.
type Repository interface {
	ListByTenant(ctx context.Context, tenant string) ([]*TenantConfiguration, error)
	// Upsert creates or replaces the override for the tenant and key.
	Upsert(ctx context.Context, c *TenantConfiguration) error
	Delete(ctx context.Context, tenant string, key Key) error
}

// Provider resolves the effective settings of a tenant.
type Provider interface {
	Get(ctx context.Context, tenant string) Settings
}
