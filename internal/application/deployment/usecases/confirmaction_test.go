package usecases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

func TestConfirmAndDenyAction(t *testing.T) {
	f := newFixture(t)
	f.settings.settings = tenantconfig.Settings{UserConfirmationEnabled: true}
	f.createTarget(t, "dev-1")
	ds := f.createDistributionSet(t, "firmware")
	res := f.assign(t, ds.ID(), true, "dev-1")
	id := res.ActionIDs[0]
	ctx := context.Background()

	deny := NewDenyActionUseCase(f.actionRepo, f.statusRepo, f.log)
	require.NoError(t, deny.Execute(ctx, ConfirmationCommand{Tenant: tenant, ActionID: id, Messages: []string{"not now"}}))
	assert.Equal(t, actionvo.StatusWaitForConfirmation, f.action(t, id).Status())

	confirm := NewConfirmActionUseCase(f.actionRepo, f.statusRepo, f.txMgr, f.publisher, f.log)
	status, err := confirm.Execute(ctx, ConfirmationCommand{Tenant: tenant, ActionID: id})
	require.NoError(t, err)
	assert.Equal(t, actionvo.StatusRunning, status)

	_, err = confirm.Execute(ctx, ConfirmationCommand{Tenant: tenant, ActionID: id})
	assert.True(t, errors.IsInvalidStateError(err))

	err = deny.Execute(ctx, ConfirmationCommand{Tenant: tenant, ActionID: id})
	assert.True(t, errors.IsInvalidStateError(err))

	_, err = confirm.Execute(ctx, ConfirmationCommand{Tenant: tenant, ActionID: 4242})
	assert.True(t, errors.IsNotFoundError(err))

	entries, err := f.statusRepo.ListByAction(ctx, tenant, id)
	require.NoError(t, err)
	// waiting + denied + confirmed
	assert.Len(t, entries, 3)
}
