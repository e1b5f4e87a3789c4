package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

func TestCreateRollout_PlansGroupSizes(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4", "dev-5", "lab-1")
	ds := f.createDistributionSet(t, "fw")

	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        2,
	})
	assert.Equal(t, int64(5), res.TotalTargets)
	assert.Equal(t, []int64{3, 2}, res.GroupSizes)

	r := f.rollout(t, res.RolloutID)
	assert.Equal(t, vo.RolloutStatusCreating, r.Status())
	groups := f.groups(t, res.RolloutID)
	require.Len(t, groups, 2)
	assert.Equal(t, vo.GroupStatusCreating, groups[0].Status())
}

func TestCreateRollout_Validation(t *testing.T) {
	f := newFixture(t)
	ds := f.createDistributionSet(t, "fw")
	uc := f.createUseCase()
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreateRolloutCommand
	}{
		{"no groups", CreateRolloutCommand{Tenant: tenant, Name: "r", DistributionSetID: ds.ID(), TargetFilterQuery: "name==*"}},
		{"groups and count", CreateRolloutCommand{
			Tenant: tenant, Name: "r", DistributionSetID: ds.ID(), TargetFilterQuery: "name==*",
			GroupCount: 2, Groups: []GroupDefinition{{TargetPercentage: 100}},
		}},
		{"bad threshold", CreateRolloutCommand{
			Tenant: tenant, Name: "r", DistributionSetID: ds.ID(), TargetFilterQuery: "name==*",
			GroupCount: 1, SuccessThreshold: intPtr(150),
		}},
		{"timeforced without time", CreateRolloutCommand{
			Tenant: tenant, Name: "r", DistributionSetID: ds.ID(), TargetFilterQuery: "name==*",
			GroupCount: 1, ActionType: "timeforced",
		}},
		{"bad query", CreateRolloutCommand{
			Tenant: tenant, Name: "r", DistributionSetID: ds.ID(), TargetFilterQuery: "name=*",
			GroupCount: 1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Execute(ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}

	_, err := uc.Execute(ctx, CreateRolloutCommand{
		Tenant: tenant, Name: "r", DistributionSetID: 999, TargetFilterQuery: "name==*", GroupCount: 1,
	})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRollout_RunsGroupsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4", "dev-5")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        2,
	})
	id := res.RolloutID

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusReady, f.rollout(t, id).Status())
	for i, g := range f.groups(t, id) {
		assert.Equal(t, vo.GroupStatusReady, g.Status())
		assert.Equal(t, res.GroupSizes[i], g.TotalTargets())
	}

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusRunning, f.rollout(t, id).Status())
	groups := f.groups(t, id)
	assert.Equal(t, vo.GroupStatusRunning, groups[0].Status())
	assert.Equal(t, vo.GroupStatusScheduled, groups[1].Status())

	stored, err := f.dsRepo.GetByID(context.Background(), tenant, ds.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsLocked())

	// Nothing reported yet: the group keeps running.
	f.tick(t)
	assert.Equal(t, vo.GroupStatusRunning, f.groups(t, id)[0].Status())

	f.report(t, id, groups[0].ID(), actionvo.StatusFinished, 0)
	f.tick(t)
	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusFinished, groups[0].Status())
	assert.Equal(t, vo.GroupStatusRunning, groups[1].Status())

	counts, err := f.actionRepo.CountGroupStatuses(context.Background(), tenant, groups[1].ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)

	f.report(t, id, groups[1].ID(), actionvo.StatusFinished, 0)
	f.tick(t)
	assert.Equal(t, vo.RolloutStatusFinished, f.rollout(t, id).Status())
	for _, g := range f.groups(t, id) {
		assert.Equal(t, vo.GroupStatusFinished, g.Status())
	}
}

func TestRollout_NoMatchingTargets(t *testing.T) {
	f := newFixture(t)
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==nothing",
		GroupCount:        1,
	})
	assert.Equal(t, int64(0), res.TotalTargets)

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusErrorCreating, f.rollout(t, res.RolloutID).Status())
}

func TestRollout_ErrorThresholdPauses(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        2,
		ErrorThreshold:    intPtr(50),
		ErrorAction:       "pause",
	})
	id := res.RolloutID
	f.tick(t)
	f.tick(t)

	groups := f.groups(t, id)
	f.report(t, id, groups[0].ID(), actionvo.StatusError, 1)
	f.tick(t)

	assert.Equal(t, vo.RolloutStatusPaused, f.rollout(t, id).Status())
	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusError, groups[0].Status())
	assert.Equal(t, vo.GroupStatusScheduled, groups[1].Status())

	// Paused rollouts are not ticked.
	f.tick(t)
	assert.Equal(t, vo.GroupStatusScheduled, f.groups(t, id)[1].Status())

	_, _, resume, _, _ := f.lifecycle()
	require.NoError(t, resume.Execute(context.Background(), tenant, id))
	f.tick(t)
	assert.Equal(t, vo.GroupStatusRunning, f.groups(t, id)[1].Status())
}

func TestRollout_PauseRequiresRunning(t *testing.T) {
	f := newFixture(t)
	ds := f.createDistributionSet(t, "fw")
	f.createTargets(t, "dev-1")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})

	_, pause, resume, _, _ := f.lifecycle()
	err := pause.Execute(context.Background(), tenant, res.RolloutID)
	assert.True(t, errors.IsInvalidStateError(err))
	err = resume.Execute(context.Background(), tenant, res.RolloutID)
	assert.True(t, errors.IsInvalidStateError(err))

	err = pause.Execute(context.Background(), tenant, 4242)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRollout_ManualStart(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2")
	ds := f.createDistributionSet(t, "fw")
	later := time.Now().UTC().Add(24 * time.Hour)
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
		StartAt:           &later,
	})
	id := res.RolloutID

	f.tick(t)
	f.tick(t)
	assert.Equal(t, vo.RolloutStatusReady, f.rollout(t, id).Status())

	start, _, _, _, _ := f.lifecycle()
	require.NoError(t, start.Execute(context.Background(), tenant, id))
	assert.Equal(t, vo.RolloutStatusStarting, f.rollout(t, id).Status())

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusRunning, f.rollout(t, id).Status())
}

func TestRollout_Stop(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		ActionType:        "soft",
		GroupCount:        2,
	})
	id := res.RolloutID
	f.tick(t)
	f.tick(t)

	_, _, _, stop, _ := f.lifecycle()
	require.NoError(t, stop.Execute(context.Background(), tenant, id))
	assert.Equal(t, vo.RolloutStatusStopping, f.rollout(t, id).Status())

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusFinished, f.rollout(t, id).Status())
	for _, g := range f.groups(t, id) {
		assert.Equal(t, vo.GroupStatusFinished, g.Status())
	}

	active, err := f.actionRepo.ListActiveByRollout(context.Background(), tenant, id, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, a := range active {
		assert.Equal(t, actionvo.StatusCanceling, a.Status())
	}
	started, err := f.actionRepo.CountStartedByRollout(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), started)
}

func TestRollout_DeleteBeforeStartRemovesEverything(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2")
	ds := f.createDistributionSet(t, "fw")
	later := time.Now().UTC().Add(time.Hour)
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
		StartAt:           &later,
	})
	id := res.RolloutID
	f.tick(t)

	_, _, _, _, del := f.lifecycle()
	require.NoError(t, del.Execute(context.Background(), tenant, id))
	f.tick(t)

	r, err := f.rolloutRepo.GetByID(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Empty(t, f.groups(t, id))
}

func TestRollout_DeleteAfterStartKeepsHistory(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		ActionType:        "soft",
		GroupCount:        1,
	})
	id := res.RolloutID
	f.tick(t)
	f.tick(t)

	_, _, _, _, del := f.lifecycle()
	require.NoError(t, del.Execute(context.Background(), tenant, id))
	f.tick(t)

	r, err := f.rolloutRepo.GetByID(context.Background(), tenant, id)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, vo.RolloutStatusDeleted, r.Status())
	assert.True(t, r.IsDeleted())

	active, err := f.actionRepo.ListActiveByRollout(context.Background(), tenant, id, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A deleted rollout is hidden from operators.
	_, pause, _, _, _ := f.lifecycle()
	assert.True(t, errors.IsNotFoundError(pause.Execute(context.Background(), tenant, id)))
}

func TestTriggerNextGroup(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1", "dev-2", "dev-3")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        3,
	})
	id := res.RolloutID
	uc := NewTriggerNextGroupUseCase(f.rolloutRepo, f.executor, f.locker, time.Minute, 100*time.Millisecond, f.log)
	ctx := context.Background()

	_, err := uc.Execute(ctx, tenant, id)
	assert.True(t, errors.IsInvalidStateError(err))

	f.tick(t)
	f.tick(t)

	groups := f.groups(t, id)
	groupID, err := uc.Execute(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, groups[1].ID(), groupID)

	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusRunning, groups[0].Status())
	assert.Equal(t, vo.GroupStatusRunning, groups[1].Status())
	assert.Equal(t, vo.GroupStatusScheduled, groups[2].Status())

	_, err = uc.Execute(ctx, tenant, id)
	require.NoError(t, err)
	_, err = uc.Execute(ctx, tenant, id)
	assert.True(t, errors.IsInvalidStateError(err))

	lease, ok, err := f.locker.TryAcquire(ctx, tenant, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release(ctx)
	_, err = uc.Execute(ctx, tenant, id)
	assert.True(t, errors.IsLockTimeoutError(err))
}

func TestHandleRollouts_SkipsLockedTenant(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})
	ctx := context.Background()

	lease, ok, err := f.locker.TryAcquire(ctx, tenant, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := f.handler.Execute(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, vo.RolloutStatusCreating, f.rollout(t, res.RolloutID).Status())

	require.NoError(t, lease.Release(ctx))
	n, err = f.handler.Execute(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleAllTenantsJob(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})

	job := NewHandleAllTenantsJob(f.rolloutRepo, f.handler, 2, f.log)
	n, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, vo.RolloutStatusReady, f.rollout(t, res.RolloutID).Status())
}
