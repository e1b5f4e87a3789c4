package tenantconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantConfiguration(t *testing.T) {
	now := time.Now().UTC()

	c, err := NewTenantConfiguration("acme", KeyUserConfirmationEnabled, "true", "admin", now)
	require.NoError(t, err)

	s := Settings{MultiAssignmentsEnabled: true}
	c.Apply(&s)
	assert.True(t, s.UserConfirmationEnabled)
	assert.True(t, s.MultiAssignmentsEnabled)

	_, err = NewTenantConfiguration("acme", "polling_time", "true", "admin", now)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewTenantConfiguration("acme", KeyMultiAssignmentsEnabled, "sometimes", "admin", now)
	assert.ErrorIs(t, err, ErrInvalidValue)

	broken := ReconstructTenantConfiguration(1, "acme", KeyMultiAssignmentsEnabled, "nope", "", 1, now, now)
	broken.Apply(&s)
	assert.True(t, s.MultiAssignmentsEnabled)
}
