package usecases

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// statusChanger applies an operator status change to one rollout. It holds
// the tenant lock so the change never lands in the middle of a tick; the
// rollout row version guards against a tick that loaded the rollout earlier.
type statusChanger struct {
	rolloutRepo rollout.Repository
	locker      common.TenantLocker
	lockTTL     time.Duration
	lockTimeout time.Duration
	txMgr       db.Transactor
	publisher   events.EventPublisher
	metrics     common.MetricsRecorder
	logger      logger.Interface
}

func (s *statusChanger) apply(ctx context.Context, op, tenant string, id uint, change func(r *rollout.Rollout, now time.Time) error) (*rollout.Rollout, error) {
	s.logger.Infow("executing "+op+" rollout use case", "tenant", tenant, "rollout_id", id)

	lease, err := s.locker.Acquire(ctx, tenant, s.lockTTL, s.lockTimeout)
	if err != nil {
		if stderrors.Is(err, common.ErrLockNotAcquired) {
			return nil, errors.NewLockTimeoutError(op+" rollout: tenant lock not acquired", tenant).WithCause(err)
		}
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warnw("failed to release tenant lock", "error", err, "tenant", tenant)
		}
	}()

	var r *rollout.Rollout
	err = common.RunAndPublish(ctx, s.txMgr, s.publisher, s.logger, func(txCtx context.Context) error {
		var err error
		r, err = loadRollout(txCtx, s.rolloutRepo, tenant, id)
		if err != nil {
			return err
		}
		if err := change(r, biztime.NowUTC()); err != nil {
			return mapRolloutError(err)
		}
		if err := s.rolloutRepo.Update(txCtx, r); err != nil {
			return err
		}
		common.RecordEvents(txCtx, r)
		return nil
	})
	if err != nil {
		s.logger.Errorw("failed to "+op+" rollout", "error", err, "tenant", tenant, "rollout_id", id)
		return nil, err
	}
	s.metrics.RolloutTransition(string(r.Status()))
	s.logger.Infow("rollout "+op+" applied", "rollout_id", id, "status", r.Status())
	return r, nil
}

// StartRolloutUseCase starts a READY rollout now, regardless of its start time.
type StartRolloutUseCase struct{ statusChanger }

// PauseRolloutUseCase halts group progression of a running rollout.
type PauseRolloutUseCase struct{ statusChanger }

// ResumeRolloutUseCase continues a paused rollout.
type ResumeRolloutUseCase struct{ statusChanger }

// StopRolloutUseCase moves a rollout to STOPPING. The control loop cancels
// its actions and finishes it.
type StopRolloutUseCase struct{ statusChanger }

// DeleteRolloutUseCase moves a rollout to DELETING. The control loop removes
// it, or soft deletes it when actions were already started.
type DeleteRolloutUseCase struct{ statusChanger }

// LockOptions configures how long operator changes wait for the tenant lock.
type LockOptions struct {
	Locker  common.TenantLocker
	TTL     time.Duration
	Timeout time.Duration
}

func newStatusChanger(
	rolloutRepo rollout.Repository,
	lock LockOptions,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	metrics common.MetricsRecorder,
	logger logger.Interface,
) statusChanger {
	return statusChanger{
		rolloutRepo: rolloutRepo,
		locker:      lock.Locker,
		lockTTL:     lock.TTL,
		lockTimeout: lock.Timeout,
		txMgr:       txMgr,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
	}
}

func NewStartRolloutUseCase(rolloutRepo rollout.Repository, lock LockOptions, txMgr db.Transactor, publisher events.EventPublisher, metrics common.MetricsRecorder, logger logger.Interface) *StartRolloutUseCase {
	return &StartRolloutUseCase{newStatusChanger(rolloutRepo, lock, txMgr, publisher, metrics, logger)}
}

func NewPauseRolloutUseCase(rolloutRepo rollout.Repository, lock LockOptions, txMgr db.Transactor, publisher events.EventPublisher, metrics common.MetricsRecorder, logger logger.Interface) *PauseRolloutUseCase {
	return &PauseRolloutUseCase{newStatusChanger(rolloutRepo, lock, txMgr, publisher, metrics, logger)}
}

func NewResumeRolloutUseCase(rolloutRepo rollout.Repository, lock LockOptions, txMgr db.Transactor, publisher events.EventPublisher, metrics common.MetricsRecorder, logger logger.Interface) *ResumeRolloutUseCase {
	return &ResumeRolloutUseCase{newStatusChanger(rolloutRepo, lock, txMgr, publisher, metrics, logger)}
}

func NewStopRolloutUseCase(rolloutRepo rollout.Repository, lock LockOptions, txMgr db.Transactor, publisher events.EventPublisher, metrics common.MetricsRecorder, logger logger.Interface) *StopRolloutUseCase {
	return &StopRolloutUseCase{newStatusChanger(rolloutRepo, lock, txMgr, publisher, metrics, logger)}
}

func NewDeleteRolloutUseCase(rolloutRepo rollout.Repository, lock LockOptions, txMgr db.Transactor, publisher events.EventPublisher, metrics common.MetricsRecorder, logger logger.Interface) *DeleteRolloutUseCase {
	return &DeleteRolloutUseCase{newStatusChanger(rolloutRepo, lock, txMgr, publisher, metrics, logger)}
}

func (uc *StartRolloutUseCase) Execute(ctx context.Context, tenant string, id uint) error {
	_, err := uc.apply(ctx, "start", tenant, id, (*rollout.Rollout).Start)
	return err
}

func (uc *PauseRolloutUseCase) Execute(ctx context.Context, tenant string, id uint) error {
	_, err := uc.apply(ctx, "pause", tenant, id, (*rollout.Rollout).Pause)
	return err
}

func (uc *ResumeRolloutUseCase) Execute(ctx context.Context, tenant string, id uint) error {
	_, err := uc.apply(ctx, "resume", tenant, id, (*rollout.Rollout).Resume)
	return err
}

func (uc *StopRolloutUseCase) Execute(ctx context.Context, tenant string, id uint) error {
	_, err := uc.apply(ctx, "stop", tenant, id, (*rollout.Rollout).Stop)
	return err
}

func (uc *DeleteRolloutUseCase) Execute(ctx context.Context, tenant string, id uint) error {
	_, err := uc.apply(ctx, "delete", tenant, id, (*rollout.Rollout).MarkDeleting)
	return err
}

func loadRollout(ctx context.Context, repo rollout.Repository, tenant string, id uint) (*rollout.Rollout, error) {
	r, err := repo.GetByID(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get rollout: %w", err)
	}
	if r == nil || r.IsDeleted() {
		return nil, errors.NewNotFoundError("rollout not found", fmt.Sprintf("rollout %d", id)).
			WithCause(rollout.ErrRolloutNotFound)
	}
	return r, nil
}

func mapRolloutError(err error) error {
	switch {
	case stderrors.Is(err, rollout.ErrInvalidStatusTransition),
		stderrors.Is(err, rollout.ErrRolloutDeleted),
		stderrors.Is(err, rollout.ErrNoScheduledGroup):
		return errors.NewInvalidStateError(err.Error()).WithCause(err)
	default:
		return err
	}
}
