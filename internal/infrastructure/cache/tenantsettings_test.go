package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/config"
	"github.com/orris-inc/rolloutd/internal/testutil"
)

type fakeTenantConfigRepo struct {
	rows  map[string][]*tenantconfig.TenantConfiguration
	err   error
	calls int
}

func (f *fakeTenantConfigRepo) ListByTenant(ctx context.Context, tenant string) ([]*tenantconfig.TenantConfiguration, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[tenant], nil
}

func (f *fakeTenantConfigRepo) Upsert(ctx context.Context, c *tenantconfig.TenantConfiguration) error {
	return nil
}

func (f *fakeTenantConfigRepo) Delete(ctx context.Context, tenant string, key tenantconfig.Key) error {
	return nil
}

func TestTenantSettingsProvider(t *testing.T) {
	now := time.Now().UTC()
	override, err := tenantconfig.NewTenantConfiguration("acme", tenantconfig.KeyUserConfirmationEnabled, "true", "admin", now)
	require.NoError(t, err)

	repo := &fakeTenantConfigRepo{rows: map[string][]*tenantconfig.TenantConfiguration{
		"acme": {override},
	}}
	p := NewTenantSettingsProvider(repo, config.TenantDefaultsConfig{MultiAssignmentsEnabled: true}, testutil.NopLogger())
	ctx := context.Background()

	s := p.Get(ctx, "acme")
	assert.True(t, s.UserConfirmationEnabled)
	assert.True(t, s.MultiAssignmentsEnabled)

	s = p.Get(ctx, "globex")
	assert.False(t, s.UserConfirmationEnabled)
	assert.True(t, s.MultiAssignmentsEnabled)

	p.Get(ctx, "acme")
	assert.Equal(t, 2, repo.calls, "second read of acme must be served from cache")

	p.Invalidate("acme")
	p.Get(ctx, "acme")
	assert.Equal(t, 3, repo.calls)
}

func TestTenantSettingsProvider_FallsBackOnError(t *testing.T) {
	repo := &fakeTenantConfigRepo{err: errors.New("db down")}
	p := NewTenantSettingsProvider(repo, config.TenantDefaultsConfig{UserConfirmationEnabled: true}, testutil.NopLogger())

	s := p.Get(context.Background(), "acme")
	assert.True(t, s.UserConfirmationEnabled)

	p.Get(context.Background(), "acme")
	assert.Equal(t, 2, repo.calls, "failures are not cached")
}
