package usecases

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

var errStoreDown = stderrors.New("store down")

// gatedRollouts holds the first ListByStatuses call until released.
type gatedRollouts struct {
	rollout.Repository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	seen    chan error
}

func newGatedRollouts(inner rollout.Repository) *gatedRollouts {
	return &gatedRollouts{
		Repository: inner,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		seen:       make(chan error, 1),
	}
}

func (g *gatedRollouts) ListByStatuses(ctx context.Context, tenant string, statuses []vo.RolloutStatus) ([]*rollout.Rollout, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
		}
		g.seen <- ctx.Err()
	}
	return g.Repository.ListByStatuses(ctx, tenant, statuses)
}

// flakyMembers fails the nth AddMembers call.
type flakyMembers struct {
	rollout.GroupRepository
	failOn int32
	calls  atomic.Int32
}

func (m *flakyMembers) AddMembers(ctx context.Context, tenant string, rolloutID, groupID uint, members []rollout.GroupMember) error {
	if m.calls.Add(1) == m.failOn {
		return errStoreDown
	}
	return m.GroupRepository.AddMembers(ctx, tenant, rolloutID, groupID, members)
}

// flakyActions fails the nth CreateBatch call.
type flakyActions struct {
	action.Repository
	failOn int32
	calls  atomic.Int32
}

func (a *flakyActions) CreateBatch(ctx context.Context, actions []*action.Action) error {
	if a.calls.Add(1) == a.failOn {
		return errStoreDown
	}
	return a.Repository.CreateBatch(ctx, actions)
}

func TestRollout_PauseWinsOverStaleTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
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

	groups := f.groups(t, id)
	f.report(t, id, groups[0].ID(), actionvo.StatusFinished, 0)

	// A tick that loaded the rollout before the operator paused it.
	stale := f.rollout(t, id)
	_, pause, resume, _, _ := f.lifecycle()
	require.NoError(t, pause.Execute(ctx, tenant, id))

	err := f.executor.Execute(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err), "got %v", err)

	assert.Equal(t, vo.RolloutStatusPaused, f.rollout(t, id).Status())
	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusScheduled, groups[1].Status())
	active, err := f.actionRepo.ListActiveByRollout(ctx, tenant, id, 0)
	require.NoError(t, err)
	for _, a := range active {
		assert.Equal(t, groups[0].ID(), *a.RolloutGroupID(), "action %d of the second group started", a.ID())
	}

	require.NoError(t, resume.Execute(ctx, tenant, id))
	f.tick(t)
	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusFinished, groups[0].Status())
	assert.Equal(t, vo.GroupStatusRunning, groups[1].Status())
}

func TestRollout_LifecycleWaitsForTenantLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createTargets(t, "dev-1", "dev-2")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})
	f.tick(t)
	f.tick(t)

	lease, ok, err := f.locker.TryAcquire(ctx, tenant, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, pause, _, _, _ := f.lifecycle()
	err = pause.Execute(ctx, tenant, res.RolloutID)
	assert.True(t, errors.IsLockTimeoutError(err), "got %v", err)
	assert.Equal(t, vo.RolloutStatusRunning, f.rollout(t, res.RolloutID).Status())
	require.NoError(t, lease.Release(ctx))

	// A lock freed within the timeout is waited for.
	lease, ok, err = f.locker.TryAcquire(ctx, tenant, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	time.AfterFunc(20*time.Millisecond, func() { _ = lease.Release(ctx) })
	require.NoError(t, pause.Execute(ctx, tenant, res.RolloutID))
	assert.Equal(t, vo.RolloutStatusPaused, f.rollout(t, res.RolloutID).Status())
}

func TestHandleRollouts_CancelledCallerDoesNotAbortTick(t *testing.T) {
	f := newFixture(t)
	f.createTargets(t, "dev-1")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})

	gate := newGatedRollouts(f.rolloutRepo)
	handler := NewHandleRolloutsUseCase(gate, f.executor, f.locker, time.Minute, common.NopMetrics{}, f.log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := handler.Execute(ctx, tenant)
		done <- err
	}()

	<-gate.entered
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting for the tick")
	}

	close(gate.release)
	select {
	case err := <-gate.seen:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tick never resumed")
	}

	assert.Eventually(t, func() bool {
		r, err := f.rolloutRepo.GetByID(context.Background(), tenant, res.RolloutID)
		return err == nil && r.Status() == vo.RolloutStatusReady
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRollout_GroupFillingResumesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4", "dev-5")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        1,
	})
	id := res.RolloutID
	groupID := f.groups(t, id)[0].ID()

	flaky := &flakyMembers{GroupRepository: f.groupRepo, failOn: 2}
	err := f.executorWith(flaky, f.actionRepo).Execute(ctx, f.rollout(t, id))
	require.ErrorIs(t, err, errStoreDown)

	assert.Equal(t, vo.RolloutStatusCreating, f.rollout(t, id).Status())
	assert.Equal(t, vo.GroupStatusCreating, f.groups(t, id)[0].Status())
	members, err := f.groupRepo.CountMembers(ctx, tenant, groupID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), members)

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusReady, f.rollout(t, id).Status())
	g := f.groups(t, id)[0]
	assert.Equal(t, vo.GroupStatusReady, g.Status())
	assert.Equal(t, int64(5), g.TotalTargets())
	members, err = f.groupRepo.CountMembers(ctx, tenant, groupID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), members)
}

func TestRollout_ScheduledActionsResumeAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createTargets(t, "dev-1", "dev-2", "dev-3", "dev-4", "dev-5")
	ds := f.createDistributionSet(t, "fw")
	res := f.createRollout(t, CreateRolloutCommand{
		DistributionSetID: ds.ID(),
		TargetFilterQuery: "controllerid==dev-*",
		GroupCount:        2,
	})
	id := res.RolloutID
	f.tick(t)
	require.Equal(t, vo.RolloutStatusReady, f.rollout(t, id).Status())

	flaky := &flakyActions{Repository: f.actionRepo, failOn: 2}
	err := f.executorWith(f.groupRepo, flaky).Execute(ctx, f.rollout(t, id))
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, vo.RolloutStatusStarting, f.rollout(t, id).Status())

	groups := f.groups(t, id)
	partial, err := f.actionRepo.CountGroupStatuses(ctx, tenant, groups[0].ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), partial.Total)

	f.tick(t)
	assert.Equal(t, vo.RolloutStatusRunning, f.rollout(t, id).Status())
	groups = f.groups(t, id)
	assert.Equal(t, vo.GroupStatusRunning, groups[0].Status())
	assert.Equal(t, vo.GroupStatusScheduled, groups[1].Status())
	for i, g := range groups {
		counts, err := f.actionRepo.CountGroupStatuses(ctx, tenant, g.ID())
		require.NoError(t, err)
		assert.Equal(t, res.GroupSizes[i], counts.Total, "group %d", i)
	}

	// The running group holds one active action per target.
	seen := map[uint]bool{}
	active, err := f.actionRepo.ListActiveByRollout(ctx, tenant, id, 0)
	require.NoError(t, err)
	for _, a := range active {
		assert.False(t, seen[a.TargetID()], "target %d has two actions", a.TargetID())
		seen[a.TargetID()] = true
	}
	assert.Len(t, seen, 3)
}
