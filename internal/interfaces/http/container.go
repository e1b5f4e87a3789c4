package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	controllerUsecases "github.com/orris-inc/rolloutd/internal/application/controller/usecases"
	deploymentServices "github.com/orris-inc/rolloutd/internal/application/deployment/services"
	deploymentUsecases "github.com/orris-inc/rolloutd/internal/application/deployment/usecases"
	invalidationUsecases "github.com/orris-inc/rolloutd/internal/application/invalidation/usecases"
	rolloutServices "github.com/orris-inc/rolloutd/internal/application/rollout/services"
	rolloutUsecases "github.com/orris-inc/rolloutd/internal/application/rollout/usecases"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/infrastructure/cache"
	"github.com/orris-inc/rolloutd/internal/infrastructure/config"
	"github.com/orris-inc/rolloutd/internal/infrastructure/metrics"
	"github.com/orris-inc/rolloutd/internal/infrastructure/pubsub"
	"github.com/orris-inc/rolloutd/internal/infrastructure/repository"
	"github.com/orris-inc/rolloutd/internal/infrastructure/scheduler"
	"github.com/orris-inc/rolloutd/internal/interfaces/http/handlers"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/goroutine"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type repositories struct {
	target       target.Repository
	ds           distributionset.Repository
	action       action.Repository
	actionStatus action.StatusRepository
	rollout      rollout.Repository
	group        rollout.GroupRepository
	filter       targetfilter.Repository
	tenantConfig tenantconfig.Repository
}

// UseCases is the engine's operation surface for embedding callers.
type UseCases struct {
	CreateRollout    *rolloutUsecases.CreateRolloutUseCase
	StartRollout     *rolloutUsecases.StartRolloutUseCase
	PauseRollout     *rolloutUsecases.PauseRolloutUseCase
	ResumeRollout    *rolloutUsecases.ResumeRolloutUseCase
	StopRollout      *rolloutUsecases.StopRolloutUseCase
	DeleteRollout    *rolloutUsecases.DeleteRolloutUseCase
	TriggerNextGroup *rolloutUsecases.TriggerNextGroupUseCase
	HandleRollouts   *rolloutUsecases.HandleRolloutsUseCase

	AssignDistributionSet *deploymentUsecases.AssignDistributionSetUseCase
	CancelAction          *deploymentUsecases.CancelActionUseCase
	ForceQuitAction       *deploymentUsecases.ForceQuitActionUseCase
	ConfirmAction         *deploymentUsecases.ConfirmActionUseCase
	DenyAction            *deploymentUsecases.DenyActionUseCase
	ActivateAutoConfirm   *deploymentUsecases.ActivateAutoConfirmationUseCase
	DeactivateAutoConfirm *deploymentUsecases.DeactivateAutoConfirmationUseCase
	AutoConfirmStatus     *deploymentUsecases.GetAutoConfirmationStatusUseCase

	AddActionStatus    *controllerUsecases.AddActionStatusUseCase
	AddStatusForTarget *controllerUsecases.AddStatusForTargetUseCase

	InvalidateDistributionSet    *invalidationUsecases.InvalidateDistributionSetUseCase
	CountEntitiesForInvalidation *invalidationUsecases.CountEntitiesForInvalidationUseCase
}

// Container wires infrastructure, use cases, background jobs and the ops router.
type Container struct {
	db    *gorm.DB
	cfg   *config.Config
	log   logger.Interface
	redis *redis.Client

	repos *repositories
	ucs   *UseCases

	settings   *cache.TenantSettingsProvider
	dispatcher *events.InMemoryEventDispatcher
	relay      *pubsub.RedisDomainEventRelay
	scheduler  *scheduler.SchedulerManager

	handleAllTenantsJob *rolloutUsecases.HandleAllTenantsJob
	autoAssignJob       *rolloutUsecases.AutoAssignJob

	router *Router

	cancelBackground context.CancelFunc
	shutdownOnce     sync.Once
}

// NewContainer builds every component. Nothing runs until StartBackground.
func NewContainer(cfg *config.Config, gormDB *gorm.DB, redisClient *redis.Client, log logger.Interface) (*Container, error) {
	c := &Container{
		db:    gormDB,
		cfg:   cfg,
		log:   log,
		redis: redisClient,
	}

	c.repos = &repositories{
		target:       repository.NewTargetRepository(gormDB, log),
		ds:           repository.NewDistributionSetRepository(gormDB, log),
		action:       repository.NewActionRepository(gormDB, log),
		actionStatus: repository.NewActionStatusRepository(gormDB, log),
		rollout:      repository.NewRolloutRepository(gormDB, log),
		group:        repository.NewRolloutGroupRepository(gormDB, log),
		filter:       repository.NewTargetFilterQueryRepository(gormDB, log),
		tenantConfig: repository.NewTenantConfigurationRepository(gormDB, log),
	}

	c.settings = cache.NewTenantSettingsProvider(c.repos.tenantConfig, cfg.TenantDefaults, log)
	c.dispatcher = events.NewInMemoryEventDispatcher(cfg.Events.BufferSize)
	c.dispatcher.OnError(func(event events.DomainEvent, err error) {
		log.Warnw("domain event handler failed",
			"event_type", event.GetEventType(),
			"aggregate_id", event.GetAggregateID(),
			"error", err)
	})
	c.relay = pubsub.NewRedisDomainEventRelay(redisClient, cfg.Events.RedisChannel, log)

	sched, err := scheduler.NewSchedulerManager(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	c.scheduler = sched

	c.initUseCases()
	c.initRouter()

	return c, nil
}

func (c *Container) initUseCases() {
	var (
		r        = c.repos
		rc       = c.cfg.Rollout
		log      = c.log
		txMgr    = db.NewTransactionManager(c.db)
		locker   = cache.NewRedisTenantLock(c.redis, log)
		recorder = metrics.NewRecorder()
	)
	var publisher events.EventPublisher = c.dispatcher

	canceler := deploymentServices.NewActionCanceler(r.action, r.actionStatus, r.target, log)
	starter := deploymentServices.NewActionStarter(r.action, r.actionStatus, r.target, c.settings, canceler, log)
	assigner := deploymentServices.NewAssigner(r.action, r.ds, c.settings, starter, log)

	executor := rolloutServices.NewRolloutExecutor(
		r.rollout, r.group, r.action, r.target, r.ds,
		starter, canceler, txMgr, publisher, recorder,
		rolloutServices.ExecutorOptions{
			TransactionTargets: rc.TransactionTargets,
			TransactionActions: rc.TransactionActions,
		},
		log,
	)

	handleRollouts := rolloutUsecases.NewHandleRolloutsUseCase(r.rollout, executor, locker, rc.LockLease, recorder, log)
	addActionStatus := controllerUsecases.NewAddActionStatusUseCase(
		r.action, r.actionStatus, r.target, canceler, txMgr, publisher, recorder,
		rc.RejectActionStatusForClosedAction, log,
	)

	lockOpts := rolloutUsecases.LockOptions{Locker: locker, TTL: rc.LockLease, Timeout: rc.LockTimeout}
	c.ucs = &UseCases{
		CreateRollout:    rolloutUsecases.NewCreateRolloutUseCase(r.rollout, r.group, r.target, r.ds, txMgr, publisher, log),
		StartRollout:     rolloutUsecases.NewStartRolloutUseCase(r.rollout, lockOpts, txMgr, publisher, recorder, log),
		PauseRollout:     rolloutUsecases.NewPauseRolloutUseCase(r.rollout, lockOpts, txMgr, publisher, recorder, log),
		ResumeRollout:    rolloutUsecases.NewResumeRolloutUseCase(r.rollout, lockOpts, txMgr, publisher, recorder, log),
		StopRollout:      rolloutUsecases.NewStopRolloutUseCase(r.rollout, lockOpts, txMgr, publisher, recorder, log),
		DeleteRollout:    rolloutUsecases.NewDeleteRolloutUseCase(r.rollout, lockOpts, txMgr, publisher, recorder, log),
		TriggerNextGroup: rolloutUsecases.NewTriggerNextGroupUseCase(r.rollout, executor, locker, rc.LockLease, rc.LockTimeout, log),
		HandleRollouts:   handleRollouts,

		AssignDistributionSet: deploymentUsecases.NewAssignDistributionSetUseCase(r.target, r.ds, assigner, txMgr, publisher, log),
		CancelAction:          deploymentUsecases.NewCancelActionUseCase(r.action, canceler, txMgr, publisher, log),
		ForceQuitAction:       deploymentUsecases.NewForceQuitActionUseCase(r.action, canceler, txMgr, publisher, log),
		ConfirmAction:         deploymentUsecases.NewConfirmActionUseCase(r.action, r.actionStatus, txMgr, publisher, log),
		DenyAction:            deploymentUsecases.NewDenyActionUseCase(r.action, r.actionStatus, log),
		ActivateAutoConfirm:   deploymentUsecases.NewActivateAutoConfirmationUseCase(r.target, r.action, r.actionStatus, txMgr, publisher, log),
		DeactivateAutoConfirm: deploymentUsecases.NewDeactivateAutoConfirmationUseCase(r.target, txMgr, log),
		AutoConfirmStatus:     deploymentUsecases.NewGetAutoConfirmationStatusUseCase(r.target, log),

		AddActionStatus:    addActionStatus,
		AddStatusForTarget: controllerUsecases.NewAddStatusForTargetUseCase(r.target, r.action, addActionStatus, log),

		InvalidateDistributionSet: invalidationUsecases.NewInvalidateDistributionSetUseCase(
			r.ds, r.filter, r.rollout, r.group, r.action, canceler, locker,
			rc.LockLease, rc.LockTimeout, txMgr, publisher, recorder, log,
		),
		CountEntitiesForInvalidation: invalidationUsecases.NewCountEntitiesForInvalidationUseCase(r.filter, r.action, r.rollout, log),
	}

	c.handleAllTenantsJob = rolloutUsecases.NewHandleAllTenantsJob(r.rollout, handleRollouts, rc.MaxConcurrentTenants, log)
	c.autoAssignJob = rolloutUsecases.NewAutoAssignJob(r.filter, r.target, r.ds, assigner, txMgr, publisher, rc.TransactionTargets, log)
}

func (c *Container) initRouter() {
	checks := map[string]handlers.CheckFunc{
		"database": func(ctx context.Context) error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		},
		"scheduler": func(context.Context) error {
			if !c.scheduler.IsStarted() {
				return fmt.Errorf("scheduler not started")
			}
			return nil
		},
	}
	c.router = NewRouter(handlers.NewHealthHandler(checks), metrics.Registry, c.log)
	c.router.SetupRoutes()
}

// StartBackground starts event dispatch, the cross-instance relay and the scheduled jobs.
func (c *Container) StartBackground() error {
	if err := c.dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	if err := c.dispatcher.Subscribe(events.WildcardEventType, c.relay); err != nil {
		return fmt.Errorf("failed to subscribe event relay: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelBackground = cancel
	goroutine.SafeGo(c.log, "domain-event-relay", func() {
		_ = c.relay.Subscribe(ctx, func(msg pubsub.DomainEventMessage) {
			c.log.Debugw("domain event received from peer",
				"event_type", msg.EventType,
				"tenant", msg.Tenant,
				"aggregate_id", msg.AggregateID)
		})
	})

	rc := c.cfg.Rollout
	if err := c.scheduler.RegisterRolloutJobs(c.handleAllTenantsJob, rc.SchedulerInterval); err != nil {
		return err
	}
	if err := c.scheduler.RegisterAutoAssignJob(c.autoAssignJob, rc.AutoAssignInterval); err != nil {
		return err
	}
	c.scheduler.Start()

	c.log.Infow("background services started",
		"scheduler_interval", rc.SchedulerInterval,
		"autoassign_interval", rc.AutoAssignInterval,
		"max_concurrent_tenants", rc.MaxConcurrentTenants)
	return nil
}

// Shutdown stops background work in reverse start order. Safe to call twice.
func (c *Container) Shutdown() {
	c.shutdownOnce.Do(func() {
		if err := c.scheduler.Stop(); err != nil {
			c.log.Errorw("failed to stop scheduler", "error", err)
		}
		if c.cancelBackground != nil {
			c.cancelBackground()
		}
		if err := c.dispatcher.Stop(); err != nil {
			c.log.Errorw("failed to stop event dispatcher", "error", err)
		}
		c.log.Infow("background services stopped")
	})
}

func (c *Container) UseCases() *UseCases {
	return c.ucs
}

func (c *Container) Engine() *gin.Engine {
	return c.router.GetEngine()
}
