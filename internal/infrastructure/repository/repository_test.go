package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	rolloutvo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/testutil"
)

const tenant = "default"

func createTarget(t *testing.T, db *gorm.DB, controllerID string, createdAt time.Time) *target.Target {
	t.Helper()
	tg, err := target.NewTarget(tenant, controllerID, "", createdAt)
	require.NoError(t, err)
	require.NoError(t, NewTargetRepository(db, testutil.NopLogger()).Create(context.Background(), tg))
	return tg
}

func newAction(t *testing.T, tg *target.Target, dsID uint, groupID *uint) *action.Action {
	t.Helper()
	rolloutID := uint(1)
	p := action.NewActionParams{
		Tenant:            tenant,
		TargetID:          tg.ID(),
		ControllerID:      tg.ControllerID(),
		DistributionSetID: dsID,
		ActionType:        actionvo.ActionTypeForced,
	}
	if groupID != nil {
		p.RolloutID = &rolloutID
		p.RolloutGroupID = groupID
	}
	a, err := action.NewAction(p, time.Now().UTC())
	require.NoError(t, err)
	return a
}

func TestActionRepository_OptimisticLock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewActionRepository(db, testutil.NopLogger())
	ctx := context.Background()

	tg := createTarget(t, db, "dev-1", time.Now().UTC())
	a := newAction(t, tg, 3, nil)
	require.NoError(t, repo.Create(ctx, a))
	require.NotZero(t, a.ID())

	first, err := repo.GetByID(ctx, tenant, a.ID())
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, tenant, a.ID())
	require.NoError(t, err)

	require.NoError(t, first.Start(false, time.Now().UTC()))
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version())

	require.NoError(t, second.Start(true, time.Now().UTC()))
	err = repo.Update(ctx, second)
	assert.True(t, errors.IsConflictError(err))

	missing, err := repo.GetByID(ctx, "other", a.ID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestActionRepository_ForcedLatchSurvivesReload(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewActionRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := now.Add(time.Hour)

	tg := createTarget(t, db, "dev-1", now)
	a, err := action.NewAction(action.NewActionParams{
		Tenant:            tenant,
		TargetID:          tg.ID(),
		ControllerID:      tg.ControllerID(),
		DistributionSetID: 3,
		ActionType:        actionvo.ActionTypeTimeForced,
		ForcedTime:        &deadline,
	}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, a.Start(false, now))
	require.False(t, a.IsForced(now))

	require.True(t, a.IsForced(deadline.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, a))

	stored, err := repo.GetByID(ctx, tenant, a.ID())
	require.NoError(t, err)
	assert.True(t, stored.ForcedLatched())
	// A clock behind the deadline does not make it soft again.
	assert.True(t, stored.IsForced(now))
	assert.Equal(t, actionvo.ActionTypeForced, stored.EffectiveType(now))
}

func TestActionRepository_SingleActivePerTargetAndSet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewActionRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	tg := createTarget(t, db, "dev-1", now)
	a1 := newAction(t, tg, 3, nil)
	require.NoError(t, a1.Start(false, now))
	require.NoError(t, repo.Create(ctx, a1))

	a2 := newAction(t, tg, 3, nil)
	require.NoError(t, a2.Start(false, now))
	err := repo.Create(ctx, a2)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.ErrorIs(t, err, action.ErrActiveActionExists)

	// closing the first frees the slot
	_, err = a1.ApplyDeviceStatus(actionvo.StatusFinished, now)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, a1))

	a3 := newAction(t, tg, 3, nil)
	require.NoError(t, a3.Start(false, now))
	require.NoError(t, repo.Create(ctx, a3))

	found, err := repo.FindActiveByTargetAndDistributionSet(ctx, tenant, tg.ID(), 3)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, a3.ID(), found.ID())
}

func TestActionRepository_GroupCounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewActionRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()
	groupID := uint(9)

	var actions []*action.Action
	for _, cid := range []string{"a", "b", "c", "d"} {
		actions = append(actions, newAction(t, createTarget(t, db, cid, now), 3, &groupID))
	}
	require.NoError(t, repo.CreateBatch(ctx, actions))
	for _, a := range actions {
		assert.NotZero(t, a.ID())
	}

	started, err := repo.CountStartedByRollout(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Zero(t, started)

	scheduled, err := repo.ListScheduledByGroup(ctx, tenant, groupID, 3)
	require.NoError(t, err)
	assert.Len(t, scheduled, 3)

	for _, a := range actions[:3] {
		require.NoError(t, a.Start(false, now))
	}
	_, err = actions[0].ApplyDeviceStatus(actionvo.StatusFinished, now)
	require.NoError(t, err)
	_, err = actions[1].ApplyDeviceStatus(actionvo.StatusError, now)
	require.NoError(t, err)
	for _, a := range actions[:3] {
		require.NoError(t, repo.Update(ctx, a))
	}

	counts, err := repo.CountGroupStatuses(ctx, tenant, groupID)
	require.NoError(t, err)
	assert.Equal(t, action.GroupCounts{Finished: 1, Error: 1, Closed: 2, Total: 4}, counts)

	started, err = repo.CountStartedByRollout(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), started)

	active, err := repo.CountActiveByRollout(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	active, err = repo.CountActiveByRollout(ctx, tenant, 1, actionvo.StatusRunning)
	require.NoError(t, err)
	assert.Zero(t, active)

	deleted, err := repo.DeleteScheduledByRollout(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestTargetRepository_AutoConfirmationRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTargetRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	tg := createTarget(t, db, "dev-1", now)
	require.NoError(t, tg.ActivateAutoConfirmation("ops", "trusted lab device", now))
	require.NoError(t, repo.Update(ctx, tg))

	loaded, err := repo.GetByControllerID(ctx, tenant, "dev-1")
	require.NoError(t, err)
	require.True(t, loaded.IsAutoConfirmationActive())
	assert.Equal(t, "ops", loaded.AutoConfirmation().Initiator)

	require.True(t, loaded.DeactivateAutoConfirmation(now))
	require.NoError(t, repo.Update(ctx, loaded))

	loaded, err = repo.GetByID(ctx, tenant, tg.ID())
	require.NoError(t, err)
	assert.False(t, loaded.IsAutoConfirmationActive())
	assert.Equal(t, 3, loaded.Version())

	// stale copy loses
	require.Error(t, repo.Update(ctx, tg))
}

func TestTargetRepository_Candidates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	targets := NewTargetRepository(db, testutil.NopLogger())
	groups := NewRolloutGroupRepository(db, testutil.NopLogger())
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	t1 := createTarget(t, db, "dev-1", base)
	createTarget(t, db, "dev-2", base)
	createTarget(t, db, "prod-1", base)
	createTarget(t, db, "dev-late", base.Add(2*time.Hour))

	snapshot := base.Add(time.Minute)
	count, err := targets.CountByFilter(ctx, tenant, "controllerid==dev-*", &snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, groups.AddMembers(ctx, tenant, 5, 50, []rollout.GroupMember{{TargetID: t1.ID(), ControllerID: t1.ControllerID()}}))

	found, err := targets.FindRolloutCandidates(ctx, tenant, target.RolloutCandidates{
		RolloutID:     5,
		Query:         "controllerid==dev-*",
		CreatedBefore: snapshot,
	}, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "dev-2", found[0].ControllerID())

	members, err := groups.ListMembersWithoutAction(ctx, tenant, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, []rollout.GroupMember{{TargetID: t1.ID(), ControllerID: "dev-1"}}, members)

	_, err = targets.CountByFilter(ctx, tenant, "colour==red", nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestRolloutRepository_Lifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRolloutRepository(db, testutil.NopLogger())
	groupRepo := NewRolloutGroupRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	success, _ := rolloutvo.NewThresholdCondition(80)
	failure, _ := rolloutvo.NewThresholdCondition(20)
	ro, err := rollout.NewRollout(rollout.NewRolloutParams{
		Tenant:            tenant,
		Name:              "spring",
		DistributionSetID: 3,
		TargetFilterQuery: "name==*",
		TotalTargets:      10,
		SuccessCondition:  success,
		ErrorCondition:    failure,
	}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, ro))
	assert.Len(t, ro.PullEvents(), 1)

	g1, err := rollout.NewGroup(ro, rollout.NewGroupParams{Position: 0, TargetPercentage: 50, TotalTargets: 5}, now)
	require.NoError(t, err)
	g2, err := rollout.NewGroup(ro, rollout.NewGroupParams{Position: 1, TargetPercentage: 100, TotalTargets: 5}, now)
	require.NoError(t, err)
	require.NoError(t, groupRepo.CreateBatch(ctx, []*rollout.Group{g2, g1}))

	listed, err := groupRepo.ListByRollout(ctx, tenant, ro.ID())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, g1.ID(), listed[0].ID())
	assert.Equal(t, success, listed[0].SuccessCondition())

	require.NoError(t, ro.MarkReady(now))
	require.NoError(t, repo.Update(ctx, ro))

	tenants, err := repo.ListTenants(ctx, rolloutvo.TickStatuses)
	require.NoError(t, err)
	assert.Equal(t, []string{tenant}, tenants)

	n, err := repo.CountByDistributionSet(ctx, tenant, 3, rolloutvo.StoppableStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.Delete(ctx, tenant, ro.ID()))
	gone, err := repo.GetByID(ctx, tenant, ro.ID())
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTenantConfigurationRepository_Upsert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTenantConfigurationRepository(db, testutil.NopLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	c, err := tenantconfig.NewTenantConfiguration(tenant, tenantconfig.KeyMultiAssignmentsEnabled, "true", "ops", now)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, c))

	c2, err := tenantconfig.NewTenantConfiguration(tenant, tenantconfig.KeyMultiAssignmentsEnabled, "false", "ops", now)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, c2))

	list, err := repo.ListByTenant(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "false", list[0].Value())

	require.NoError(t, repo.Delete(ctx, tenant, tenantconfig.KeyMultiAssignmentsEnabled))
	list, err = repo.ListByTenant(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, list)
}
