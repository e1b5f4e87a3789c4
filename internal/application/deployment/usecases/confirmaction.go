package usecases

import (
	"context"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type ConfirmationCommand struct {
	Tenant   string
	ActionID uint
	Code     *int
	Messages []string
}

// ConfirmActionUseCase moves a waiting action to RUNNING.
type ConfirmActionUseCase struct {
	actionRepo action.Repository
	statusRepo action.StatusRepository
	txMgr      db.Transactor
	publisher  events.EventPublisher
	logger     logger.Interface
}

func NewConfirmActionUseCase(
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *ConfirmActionUseCase {
	return &ConfirmActionUseCase{
		actionRepo: actionRepo,
		statusRepo: statusRepo,
		txMgr:      txMgr,
		publisher:  publisher,
		logger:     logger,
	}
}

func (uc *ConfirmActionUseCase) Execute(ctx context.Context, cmd ConfirmationCommand) (actionvo.Status, error) {
	if cmd.Tenant == "" || cmd.ActionID == 0 {
		return "", errors.NewValidationError("tenant and action id are required")
	}

	now := biztime.NowUTC()
	ctx, buf := common.WithEventBuffer(ctx)

	var status actionvo.Status
	err := uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		a, err := loadAction(txCtx, uc.actionRepo, cmd.Tenant, cmd.ActionID)
		if err != nil {
			return err
		}
		messages := append([]string{"assignment confirmed"}, cmd.Messages...)
		if err := confirm(txCtx, uc.actionRepo, uc.statusRepo, a, messages, cmd.Code, now); err != nil {
			return err
		}
		status = a.Status()
		return nil
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to confirm action", "error", err, "action_id", cmd.ActionID)
		return "", err
	}
	buf.Flush(uc.publisher, uc.logger)

	uc.logger.Infow("action confirmed", "action_id", cmd.ActionID)
	return status, nil
}

// DenyActionUseCase records a denial. The action keeps waiting.
type DenyActionUseCase struct {
	actionRepo action.Repository
	statusRepo action.StatusRepository
	logger     logger.Interface
}

func NewDenyActionUseCase(
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	logger logger.Interface,
) *DenyActionUseCase {
	return &DenyActionUseCase{
		actionRepo: actionRepo,
		statusRepo: statusRepo,
		logger:     logger,
	}
}

func (uc *DenyActionUseCase) Execute(ctx context.Context, cmd ConfirmationCommand) error {
	if cmd.Tenant == "" || cmd.ActionID == 0 {
		return errors.NewValidationError("tenant and action id are required")
	}

	a, err := loadAction(ctx, uc.actionRepo, cmd.Tenant, cmd.ActionID)
	if err != nil {
		return err
	}
	if err := a.Deny(); err != nil {
		uc.logger.Warnw("deny rejected", "error", err, "action_id", cmd.ActionID, "status", a.Status())
		return services.MapActionError(err)
	}

	messages := append([]string{"assignment denied"}, cmd.Messages...)
	entry, err := action.NewActionStatusEntry(a.Tenant(), a.ID(), a.Status(), messages, cmd.Code, biztime.NowUTC())
	if err != nil {
		return err
	}
	if err := uc.statusRepo.Create(ctx, entry); err != nil {
		uc.logger.Errorw("failed to record denial", "error", err, "action_id", cmd.ActionID)
		return err
	}

	uc.logger.Infow("action denied", "action_id", cmd.ActionID)
	return nil
}
