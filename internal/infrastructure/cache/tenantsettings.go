package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/config"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

const (
	defaultTenantSettingsCacheSize = 1024
	defaultTenantSettingsCacheTTL  = 30 * time.Second
)

// TenantSettingsProvider resolves tenant settings from stored overrides,
// falling back to the configured defaults.
type TenantSettingsProvider struct {
	repo     tenantconfig.Repository
	defaults tenantconfig.Settings
	cache    *expirable.LRU[string, tenantconfig.Settings]
	logger   logger.Interface
}

// NewTenantSettingsProvider creates a new TenantSettingsProvider.
func NewTenantSettingsProvider(repo tenantconfig.Repository, cfg config.TenantDefaultsConfig, log logger.Interface) *TenantSettingsProvider {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultTenantSettingsCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTenantSettingsCacheTTL
	}
	return &TenantSettingsProvider{
		repo: repo,
		defaults: tenantconfig.Settings{
			MultiAssignmentsEnabled: cfg.MultiAssignmentsEnabled,
			UserConfirmationEnabled: cfg.UserConfirmationEnabled,
		},
		cache:  expirable.NewLRU[string, tenantconfig.Settings](size, nil, ttl),
		logger: log,
	}
}

// Get returns the effective settings. A failed lookup yields the defaults
// and is not cached.
func (p *TenantSettingsProvider) Get(ctx context.Context, tenant string) tenantconfig.Settings {
	if s, ok := p.cache.Get(tenant); ok {
		return s
	}

	overrides, err := p.repo.ListByTenant(ctx, tenant)
	if err != nil {
		p.logger.Warnw("failed to load tenant configuration, using defaults",
			"tenant", tenant,
			"error", err,
		)
		return p.defaults
	}

	s := p.defaults
	for _, o := range overrides {
		o.Apply(&s)
	}
	p.cache.Add(tenant, s)
	return s
}

// Invalidate drops the cached settings of a tenant after an override changed.
func (p *TenantSettingsProvider) Invalidate(tenant string) {
	p.cache.Remove(tenant)
}
