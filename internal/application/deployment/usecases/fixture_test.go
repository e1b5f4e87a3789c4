package usecases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(e events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishAll(evts []events.DomainEvent) error {
	for _, e := range evts {
		_ = p.Publish(e)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetEventType())
	}
	return out
}

type fixture struct {
	db         *gorm.DB
	log        logger.Interface
	settings   *staticSettings
	publisher  *recordingPublisher
	txMgr      *db.TransactionManager
	targetRepo target.Repository
	dsRepo     distributionset.Repository
	actionRepo action.Repository
	statusRepo action.StatusRepository
	canceler   *services.ActionCanceler
	assigner   *services.Assigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	log := testutil.NopLogger()
	f := &fixture{
		db:         gdb,
		log:        log,
		settings:   &staticSettings{},
		publisher:  &recordingPublisher{},
		txMgr:      db.NewTransactionManager(gdb),
		targetRepo: repository.NewTargetRepository(gdb, log),
		dsRepo:     repository.NewDistributionSetRepository(gdb, log),
		actionRepo: repository.NewActionRepository(gdb, log),
		statusRepo: repository.NewActionStatusRepository(gdb, log),
	}
	f.canceler = services.NewActionCanceler(f.actionRepo, f.statusRepo, f.targetRepo, log)
	starter := services.NewActionStarter(f.actionRepo, f.statusRepo, f.targetRepo, f.settings, f.canceler, log)
	f.assigner = services.NewAssigner(f.actionRepo, f.dsRepo, f.settings, starter, log)
	return f
}

func (f *fixture) createTarget(t *testing.T, controllerID string) *target.Target {
	t.Helper()
	tg, err := target.NewTarget(tenant, controllerID, controllerID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.targetRepo.Create(context.Background(), tg))
	return tg
}

func (f *fixture) createDistributionSet(t *testing.T, name string) *distributionset.DistributionSet {
	t.Helper()
	ds, err := distributionset.NewDistributionSet(tenant, name, "1.0.0", true, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.dsRepo.Create(context.Background(), ds))
	return ds
}

func (f *fixture) assignUseCase() *AssignDistributionSetUseCase {
	return NewAssignDistributionSetUseCase(f.targetRepo, f.dsRepo, f.assigner, f.txMgr, f.publisher, f.log)
}

// assign creates forced actions, the default action type.
func (f *fixture) assign(t *testing.T, dsID uint, confirm bool, controllerIDs ...string) *AssignDistributionSetResult {
	t.Helper()
	return f.assignTyped(t, dsID, "", confirm, controllerIDs...)
}

func (f *fixture) assignTyped(t *testing.T, dsID uint, actionType string, confirm bool, controllerIDs ...string) *AssignDistributionSetResult {
	t.Helper()
	res, err := f.assignUseCase().Execute(context.Background(), AssignDistributionSetCommand{
		Tenant:               tenant,
		ControllerIDs:        controllerIDs,
		DistributionSetID:    dsID,
		ActionType:           actionType,
		ConfirmationRequired: confirm,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) action(t *testing.T, id uint) *action.Action {
	t.Helper()
	a, err := f.actionRepo.GetByID(context.Background(), tenant, id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func (f *fixture) target(t *testing.T, controllerID string) *target.Target {
	t.Helper()
	tg, err := f.targetRepo.GetByControllerID(context.Background(), tenant, controllerID)
	require.NoError(t, err)
	require.NotNil(t, tg)
	return tg
}
