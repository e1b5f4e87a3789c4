package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/application/common"
	deploysvc "github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/application/rollout/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/infrastructure/repository"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
	"github.com/orris-inc/rolloutd/internal/testutil"
)

const tenant = "default"

type staticSettings struct {
	settings tenantconfig.Settings
}

func (s *staticSettings) Get(context.Context, string) tenantconfig.Settings { return s.settings }

type fixture struct {
	log         logger.Interface
	settings    *staticSettings
	locker      *testutil.MemLocker
	txMgr       *db.TransactionManager
	publisher   events.EventPublisher
	targetRepo  target.Repository
	dsRepo      distributionset.Repository
	actionRepo  action.Repository
	rolloutRepo rollout.Repository
	groupRepo   rollout.GroupRepository
	filterRepo  targetfilter.Repository
	starter     *deploysvc.ActionStarter
	canceler    *deploysvc.ActionCanceler
	assigner    *deploysvc.Assigner
	executor    *services.RolloutExecutor
	handler     *HandleRolloutsUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	log := testutil.NopLogger()
	f := &fixture{
		log:         log,
		settings:    &staticSettings{},
		locker:      testutil.NewMemLocker(),
		txMgr:       db.NewTransactionManager(gdb),
		publisher:   events.NopPublisher{},
		targetRepo:  repository.NewTargetRepository(gdb, log),
		dsRepo:      repository.NewDistributionSetRepository(gdb, log),
		actionRepo:  repository.NewActionRepository(gdb, log),
		rolloutRepo: repository.NewRolloutRepository(gdb, log),
		groupRepo:   repository.NewRolloutGroupRepository(gdb, log),
		filterRepo:  repository.NewTargetFilterQueryRepository(gdb, log),
	}
	statusRepo := repository.NewActionStatusRepository(gdb, log)
	f.canceler = deploysvc.NewActionCanceler(f.actionRepo, statusRepo, f.targetRepo, log)
	f.starter = deploysvc.NewActionStarter(f.actionRepo, statusRepo, f.targetRepo, f.settings, f.canceler, log)
	f.assigner = deploysvc.NewAssigner(f.actionRepo, f.dsRepo, f.settings, f.starter, log)
	f.executor = f.executorWith(f.groupRepo, f.actionRepo)
	f.handler = NewHandleRolloutsUseCase(f.rolloutRepo, f.executor, f.locker, time.Minute, common.NopMetrics{}, log)
	return f
}

// executorWith builds an executor over the given group and action stores.
// Small chunks so that paging through members and actions is exercised.
func (f *fixture) executorWith(groupRepo rollout.GroupRepository, actionRepo action.Repository) *services.RolloutExecutor {
	opts := services.ExecutorOptions{TransactionTargets: 2, TransactionActions: 2}
	return services.NewRolloutExecutor(
		f.rolloutRepo, groupRepo, actionRepo, f.targetRepo, f.dsRepo,
		f.starter, f.canceler, f.txMgr, f.publisher, common.NopMetrics{}, opts, f.log,
	)
}

func (f *fixture) createTargets(t *testing.T, controllerIDs ...string) {
	t.Helper()
	for _, id := range controllerIDs {
		tg, err := target.NewTarget(tenant, id, id, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, f.targetRepo.Create(context.Background(), tg))
	}
}

func (f *fixture) createDistributionSet(t *testing.T, name string) *distributionset.DistributionSet {
	t.Helper()
	ds, err := distributionset.NewDistributionSet(tenant, name, "1.0.0", true, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.dsRepo.Create(context.Background(), ds))
	return ds
}

func (f *fixture) createUseCase() *CreateRolloutUseCase {
	return NewCreateRolloutUseCase(f.rolloutRepo, f.groupRepo, f.targetRepo, f.dsRepo, f.txMgr, f.publisher, f.log)
}

func (f *fixture) createRollout(t *testing.T, cmd CreateRolloutCommand) *CreateRolloutResult {
	t.Helper()
	cmd.Tenant = tenant
	if cmd.Name == "" {
		cmd.Name = "wave"
	}
	res, err := f.createUseCase().Execute(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	_, err := f.handler.Execute(context.Background(), tenant)
	require.NoError(t, err)
}

func (f *fixture) rollout(t *testing.T, id uint) *rollout.Rollout {
	t.Helper()
	r, err := f.rolloutRepo.GetByID(context.Background(), tenant, id)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func (f *fixture) groups(t *testing.T, rolloutID uint) []*rollout.Group {
	t.Helper()
	groups, err := f.groupRepo.ListByRollout(context.Background(), tenant, rolloutID)
	require.NoError(t, err)
	return groups
}

// report applies a device status to every active action of the group.
func (f *fixture) report(t *testing.T, rolloutID, groupID uint, status actionvo.Status, limit int) {
	t.Helper()
	ctx := context.Background()
	actions, err := f.actionRepo.ListActiveByRollout(ctx, tenant, rolloutID, 0)
	require.NoError(t, err)
	n := 0
	for _, a := range actions {
		if a.RolloutGroupID() == nil || *a.RolloutGroupID() != groupID || a.IsScheduled() {
			continue
		}
		if limit > 0 && n == limit {
			return
		}
		_, err := a.ApplyDeviceStatus(status, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, f.actionRepo.Update(ctx, a))
		n++
	}
}

func (f *fixture) lifecycle() (start *StartRolloutUseCase, pause *PauseRolloutUseCase, resume *ResumeRolloutUseCase, stop *StopRolloutUseCase, del *DeleteRolloutUseCase) {
	m := common.NopMetrics{}
	lock := LockOptions{Locker: f.locker, TTL: time.Minute, Timeout: 100 * time.Millisecond}
	return NewStartRolloutUseCase(f.rolloutRepo, lock, f.txMgr, f.publisher, m, f.log),
		NewPauseRolloutUseCase(f.rolloutRepo, lock, f.txMgr, f.publisher, m, f.log),
		NewResumeRolloutUseCase(f.rolloutRepo, lock, f.txMgr, f.publisher, m, f.log),
		NewStopRolloutUseCase(f.rolloutRepo, lock, f.txMgr, f.publisher, m, f.log),
		NewDeleteRolloutUseCase(f.rolloutRepo, lock, f.txMgr, f.publisher, m, f.log)
}

func intPtr(v int) *int { return &v }
