package usecases

import (
	"context"
	"fmt"

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

type CancelActionCommand struct {
	Tenant   string
	ActionID uint
	Force    bool
}

type CancelActionResult struct {
	ActionID uint            `json:"action_id"`
	Status   actionvo.Status `json:"status"`
	// Escalated is set when a soft request was turned into a force cancel.
	Escalated bool `json:"escalated"`
}

type CancelActionUseCase struct {
	actionRepo action.Repository
	canceler   *services.ActionCanceler
	txMgr      db.Transactor
	publisher  events.EventPublisher
	logger     logger.Interface
}

func NewCancelActionUseCase(
	actionRepo action.Repository,
	canceler *services.ActionCanceler,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *CancelActionUseCase {
	return &CancelActionUseCase{
		actionRepo: actionRepo,
		canceler:   canceler,
		txMgr:      txMgr,
		publisher:  publisher,
		logger:     logger,
	}
}

func (uc *CancelActionUseCase) Execute(ctx context.Context, cmd CancelActionCommand) (*CancelActionResult, error) {
	uc.logger.Infow("executing cancel action use case", "action_id", cmd.ActionID, "force", cmd.Force)

	if cmd.Tenant == "" || cmd.ActionID == 0 {
		return nil, errors.NewValidationError("tenant and action id are required")
	}

	mode := actionvo.CancelationSoft
	if cmd.Force {
		mode = actionvo.CancelationForce
	}

	now := biztime.NowUTC()
	ctx, buf := common.WithEventBuffer(ctx)

	var result *CancelActionResult
	err := uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		a, err := loadAction(txCtx, uc.actionRepo, cmd.Tenant, cmd.ActionID)
		if err != nil {
			return err
		}
		outcome, err := uc.canceler.Cancel(txCtx, a, mode, now)
		if err != nil {
			return err
		}
		result = &CancelActionResult{
			ActionID:  a.ID(),
			Status:    a.Status(),
			Escalated: mode == actionvo.CancelationSoft && outcome == action.CancelEscalated,
		}
		return nil
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to cancel action", "error", err, "action_id", cmd.ActionID)
		return nil, err
	}
	buf.Flush(uc.publisher, uc.logger)

	uc.logger.Infow("action canceled",
		"action_id", result.ActionID,
		"status", result.Status,
		"escalated", result.Escalated,
	)
	return result, nil
}

func loadAction(ctx context.Context, repo action.Repository, tenant string, id uint) (*action.Action, error) {
	a, err := repo.GetByID(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	if a == nil {
		return nil, errors.NewNotFoundError("action not found", fmt.Sprintf("action %d", id)).
			WithCause(action.ErrActionNotFound)
	}
	return a, nil
}
