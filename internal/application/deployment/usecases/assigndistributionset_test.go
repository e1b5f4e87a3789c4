package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

func TestAssignDistributionSet(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	f.createTarget(t, "dev-2")
	ds := f.createDistributionSet(t, "firmware")

	res := f.assign(t, ds.ID(), false, "dev-1", "dev-2")
	assert.Equal(t, 2, res.Assigned)
	assert.Zero(t, res.WaitingForConfirmation)

	for _, id := range res.ActionIDs {
		a := f.action(t, id)
		assert.Equal(t, actionvo.StatusRunning, a.Status())
		assert.True(t, a.IsActive())
	}

	tg := f.target(t, "dev-1")
	assert.Equal(t, target.UpdateStatusPending, tg.UpdateStatus())
	require.NotNil(t, tg.AssignedDistributionSetID())
	assert.Equal(t, ds.ID(), *tg.AssignedDistributionSetID())

	stored, err := f.dsRepo.GetByID(context.Background(), tenant, ds.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsLocked())

	assert.Contains(t, f.publisher.types(), target.EventTypeTargetStatusChanged)

	again := f.assign(t, ds.ID(), false, "dev-1", "dev-2")
	assert.Zero(t, again.Assigned)
	assert.Equal(t, 2, again.AlreadyAssigned)
}

func TestAssignDistributionSet_Validation(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	ds := f.createDistributionSet(t, "firmware")
	uc := f.assignUseCase()
	ctx := context.Background()

	_, err := uc.Execute(ctx, AssignDistributionSetCommand{
		Tenant:            tenant,
		ControllerIDs:     []string{"dev-1"},
		DistributionSetID: ds.ID(),
		ActionType:        "timeforced",
	})
	assert.True(t, errors.IsValidationError(err))

	_, err = uc.Execute(ctx, AssignDistributionSetCommand{
		Tenant:            tenant,
		DistributionSetID: ds.ID(),
	})
	assert.True(t, errors.IsValidationError(err))

	_, err = uc.Execute(ctx, AssignDistributionSetCommand{
		Tenant:            tenant,
		ControllerIDs:     []string{"dev-1", "ghost"},
		DistributionSetID: ds.ID(),
	})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = uc.Execute(ctx, AssignDistributionSetCommand{
		Tenant:            tenant,
		ControllerIDs:     []string{"dev-1"},
		DistributionSetID: 999,
	})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestAssignDistributionSet_TimeForced(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	ds := f.createDistributionSet(t, "firmware")

	forced := time.Now().UTC().Add(time.Hour)
	res, err := f.assignUseCase().Execute(context.Background(), AssignDistributionSetCommand{
		Tenant:            tenant,
		ControllerIDs:     []string{"dev-1"},
		DistributionSetID: ds.ID(),
		ActionType:        "timeforced",
		ForcedTime:        &forced,
	})
	require.NoError(t, err)
	require.Len(t, res.ActionIDs, 1)

	a := f.action(t, res.ActionIDs[0])
	assert.Equal(t, actionvo.ActionTypeTimeForced, a.ActionType())
	require.NotNil(t, a.ForcedTime())
	assert.False(t, a.IsForced(time.Now().UTC()))
}

func TestAssignDistributionSet_SupersedesWithoutMultiAssignment(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	first := f.createDistributionSet(t, "firmware")
	second := f.createDistributionSet(t, "firmware-next")

	old := f.assignTyped(t, first.ID(), "soft", false, "dev-1")
	f.assignTyped(t, second.ID(), "soft", false, "dev-1")

	prev := f.action(t, old.ActionIDs[0])
	assert.Equal(t, actionvo.StatusCanceling, prev.Status())
	assert.True(t, prev.IsActive())

	tg := f.target(t, "dev-1")
	require.NotNil(t, tg.AssignedDistributionSetID())
	assert.Equal(t, second.ID(), *tg.AssignedDistributionSetID())
}

func TestAssignDistributionSet_SupersededForcedActionIsCanceled(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	first := f.createDistributionSet(t, "firmware")
	second := f.createDistributionSet(t, "firmware-next")

	old := f.assign(t, first.ID(), false, "dev-1")
	f.assign(t, second.ID(), false, "dev-1")

	prev := f.action(t, old.ActionIDs[0])
	assert.Equal(t, actionvo.StatusCanceled, prev.Status())
	assert.False(t, prev.IsActive())

	active, err := f.actionRepo.ListActiveByTarget(context.Background(), tenant, f.target(t, "dev-1").ID())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID(), active[0].DistributionSetID())
}

func TestAssignDistributionSet_MultiAssignmentKeepsOthers(t *testing.T) {
	f := newFixture(t)
	f.settings.settings = tenantconfig.Settings{MultiAssignmentsEnabled: true}
	f.createTarget(t, "dev-1")
	first := f.createDistributionSet(t, "firmware")
	second := f.createDistributionSet(t, "config")

	old := f.assign(t, first.ID(), false, "dev-1")
	f.assign(t, second.ID(), false, "dev-1")

	assert.Equal(t, actionvo.StatusRunning, f.action(t, old.ActionIDs[0]).Status())

	active, err := f.actionRepo.ListActiveByTarget(context.Background(), tenant, f.target(t, "dev-1").ID())
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestAssignDistributionSet_ConfirmationFlow(t *testing.T) {
	f := newFixture(t)
	f.createTarget(t, "dev-1")
	ds := f.createDistributionSet(t, "firmware")

	// Flow disabled: the request flag alone does not gate the action.
	res := f.assign(t, ds.ID(), true, "dev-1")
	assert.Zero(t, res.WaitingForConfirmation)

	f.settings.settings = tenantconfig.Settings{UserConfirmationEnabled: true}
	f.createTarget(t, "dev-2")
	res = f.assign(t, ds.ID(), true, "dev-2")
	assert.Equal(t, 1, res.WaitingForConfirmation)
	assert.Equal(t, actionvo.StatusWaitForConfirmation, f.action(t, res.ActionIDs[0]).Status())
}
