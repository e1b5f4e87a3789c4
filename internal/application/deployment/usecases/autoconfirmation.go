package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	apperrors "github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type ActivateAutoConfirmationCommand struct {
	Tenant       string
	ControllerID string
	Initiator    string
	Remark       string
}

type ActivateAutoConfirmationResult struct {
	// PromotedActionIDs lists the waiting actions that were confirmed on activation.
	PromotedActionIDs []uint `json:"promoted_action_ids"`
}

// ActivateAutoConfirmationUseCase turns on automatic confirmation for a
// target and confirms every action that was waiting for it, atomically.
type ActivateAutoConfirmationUseCase struct {
	targetRepo target.Repository
	actionRepo action.Repository
	statusRepo action.StatusRepository
	txMgr      db.Transactor
	publisher  events.EventPublisher
	logger     logger.Interface
}

func NewActivateAutoConfirmationUseCase(
	targetRepo target.Repository,
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *ActivateAutoConfirmationUseCase {
	return &ActivateAutoConfirmationUseCase{
		targetRepo: targetRepo,
		actionRepo: actionRepo,
		statusRepo: statusRepo,
		txMgr:      txMgr,
		publisher:  publisher,
		logger:     logger,
	}
}

func (uc *ActivateAutoConfirmationUseCase) Execute(ctx context.Context, cmd ActivateAutoConfirmationCommand) (*ActivateAutoConfirmationResult, error) {
	uc.logger.Infow("executing activate auto confirmation use case",
		"tenant", cmd.Tenant,
		"controller_id", cmd.ControllerID,
	)

	now := biztime.NowUTC()
	ctx, buf := common.WithEventBuffer(ctx)

	result := &ActivateAutoConfirmationResult{}
	err := uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		t, err := loadTarget(txCtx, uc.targetRepo, cmd.Tenant, cmd.ControllerID)
		if err != nil {
			return err
		}
		if err := t.ActivateAutoConfirmation(cmd.Initiator, cmd.Remark, now); err != nil {
			if errors.Is(err, target.ErrAutoConfirmationAlreadyActive) {
				return apperrors.NewInvalidStateError(err.Error(), cmd.ControllerID).WithCause(err)
			}
			return err
		}

		waiting, err := uc.actionRepo.ListByTargetAndStatus(txCtx, cmd.Tenant, t.ID(), actionvo.StatusWaitForConfirmation)
		if err != nil {
			return err
		}
		message := autoConfirmMessage(cmd.Initiator, cmd.Remark)
		for _, a := range waiting {
			if err := confirm(txCtx, uc.actionRepo, uc.statusRepo, a, []string{message}, nil, now); err != nil {
				return err
			}
			result.PromotedActionIDs = append(result.PromotedActionIDs, a.ID())
		}

		// The target row version serializes this against concurrent action starts.
		if err := uc.targetRepo.Update(txCtx, t); err != nil {
			return err
		}
		common.RecordEvents(txCtx, t)
		return nil
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to activate auto confirmation",
			"error", err,
			"tenant", cmd.Tenant,
			"controller_id", cmd.ControllerID,
		)
		return nil, err
	}
	buf.Flush(uc.publisher, uc.logger)

	uc.logger.Infow("auto confirmation activated",
		"controller_id", cmd.ControllerID,
		"promoted", len(result.PromotedActionIDs),
	)
	return result, nil
}

// DeactivateAutoConfirmationUseCase turns automatic confirmation off. It is a
// no-op when it was not active.
type DeactivateAutoConfirmationUseCase struct {
	targetRepo target.Repository
	txMgr      db.Transactor
	logger     logger.Interface
}

func NewDeactivateAutoConfirmationUseCase(
	targetRepo target.Repository,
	txMgr db.Transactor,
	logger logger.Interface,
) *DeactivateAutoConfirmationUseCase {
	return &DeactivateAutoConfirmationUseCase{
		targetRepo: targetRepo,
		txMgr:      txMgr,
		logger:     logger,
	}
}

func (uc *DeactivateAutoConfirmationUseCase) Execute(ctx context.Context, tenant, controllerID string) error {
	return uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		t, err := loadTarget(txCtx, uc.targetRepo, tenant, controllerID)
		if err != nil {
			return err
		}
		if !t.DeactivateAutoConfirmation(biztime.NowUTC()) {
			uc.logger.Debugw("auto confirmation already inactive", "controller_id", controllerID)
			return nil
		}
		if err := uc.targetRepo.Update(txCtx, t); err != nil {
			uc.logger.Errorw("failed to deactivate auto confirmation", "error", err, "controller_id", controllerID)
			return err
		}
		uc.logger.Infow("auto confirmation deactivated", "controller_id", controllerID)
		return nil
	})
}

type AutoConfirmationStatus struct {
	Active      bool       `json:"active"`
	Initiator   string     `json:"initiator,omitempty"`
	Remark      string     `json:"remark,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

type GetAutoConfirmationStatusUseCase struct {
	targetRepo target.Repository
	logger     logger.Interface
}

func NewGetAutoConfirmationStatusUseCase(targetRepo target.Repository, logger logger.Interface) *GetAutoConfirmationStatusUseCase {
	return &GetAutoConfirmationStatusUseCase{
		targetRepo: targetRepo,
		logger:     logger,
	}
}

func (uc *GetAutoConfirmationStatusUseCase) Execute(ctx context.Context, tenant, controllerID string) (*AutoConfirmationStatus, error) {
	t, err := loadTarget(ctx, uc.targetRepo, tenant, controllerID)
	if err != nil {
		return nil, err
	}
	ac := t.AutoConfirmation()
	if ac == nil {
		return &AutoConfirmationStatus{}, nil
	}
	activatedAt := ac.ActivatedAt
	return &AutoConfirmationStatus{
		Active:      true,
		Initiator:   ac.Initiator,
		Remark:      ac.Remark,
		ActivatedAt: &activatedAt,
	}, nil
}

func loadTarget(ctx context.Context, repo target.Repository, tenant, controllerID string) (*target.Target, error) {
	t, err := repo.GetByControllerID(ctx, tenant, controllerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	if t == nil {
		return nil, apperrors.NewNotFoundError("target not found", controllerID).WithCause(target.ErrTargetNotFound)
	}
	return t, nil
}

func autoConfirmMessage(initiator, remark string) string {
	msg := "assignment automatically confirmed"
	if initiator != "" {
		msg += " by " + initiator
	}
	if remark != "" {
		msg += ": " + remark
	}
	return msg
}

// confirm promotes a waiting action and logs the confirmation.
func confirm(ctx context.Context, actionRepo action.Repository, statusRepo action.StatusRepository, a *action.Action, messages []string, code *int, now time.Time) error {
	if err := a.Confirm(now); err != nil {
		return services.MapActionError(err)
	}
	if err := actionRepo.Update(ctx, a); err != nil {
		return err
	}
	entry, err := action.NewActionStatusEntry(a.Tenant(), a.ID(), a.Status(), messages, code, now)
	if err != nil {
		return err
	}
	if err := statusRepo.Create(ctx, entry); err != nil {
		return err
	}
	common.RecordEvents(ctx, a)
	return nil
}
