package usecases

import (
	"context"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// ForceQuitActionUseCase closes a canceling action whose device never acknowledged.
type ForceQuitActionUseCase struct {
	actionRepo action.Repository
	canceler   *services.ActionCanceler
	txMgr      db.Transactor
	publisher  events.EventPublisher
	logger     logger.Interface
}

func NewForceQuitActionUseCase(
	actionRepo action.Repository,
	canceler *services.ActionCanceler,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	logger logger.Interface,
) *ForceQuitActionUseCase {
	return &ForceQuitActionUseCase{
		actionRepo: actionRepo,
		canceler:   canceler,
		txMgr:      txMgr,
		publisher:  publisher,
		logger:     logger,
	}
}

func (uc *ForceQuitActionUseCase) Execute(ctx context.Context, tenant string, actionID uint) error {
	if tenant == "" || actionID == 0 {
		return errors.NewValidationError("tenant and action id are required")
	}

	now := biztime.NowUTC()
	ctx, buf := common.WithEventBuffer(ctx)

	err := uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		a, err := loadAction(txCtx, uc.actionRepo, tenant, actionID)
		if err != nil {
			return err
		}
		return uc.canceler.ForceQuit(txCtx, a, now)
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to force quit action", "error", err, "action_id", actionID)
		return err
	}
	buf.Flush(uc.publisher, uc.logger)

	uc.logger.Infow("action force quit", "action_id", actionID)
	return nil
}
